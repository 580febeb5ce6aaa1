package config

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
)

// applyDefaults fills unset fields with working values. It runs after
// unmarshal and before validate, so validation only ever sees a complete
// configuration.
func (c *Config) applyDefaults() {
	if c.State.Dir == "" {
		c.State.Dir = "./state"
	}
	if c.State.Git != nil {
		if c.State.Git.Branch == "" {
			c.State.Git.Branch = "main"
		}
		switch {
		case c.State.Git.Depth == 0: // unset; state repos are small, shallow suffices
			c.State.Git.Depth = 1
		case c.State.Git.Depth < 0: // explicit full-history request
			c.State.Git.Depth = 0
		}
	}

	if c.Release.TokenEnv == "" {
		c.Release.TokenEnv = DefaultTokenEnv
	}
	if c.Release.PerPage <= 0 {
		c.Release.PerPage = 100
	}

	if c.Packages.Scope == "" {
		c.Packages.Scope = "@dbdepot"
	}
	if c.Packages.OutDir == "" {
		c.Packages.OutDir = "./packages"
	}

	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.MaxRetries == 0 { // default 2 retries (3 total attempts) unless explicitly set >0
		c.Retry.MaxRetries = 2
	}
	if m := NormalizeRetryBackoff(string(c.Retry.Backoff)); m != "" {
		c.Retry.Backoff = m
	} else {
		c.Retry.Backoff = RetryBackoffLinear
	}
	if c.Retry.InitialDelay == "" {
		c.Retry.InitialDelay = "1s"
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = "30s"
	}

	if c.Daemon != nil {
		if c.Daemon.Interval == "" {
			c.Daemon.Interval = "1h"
		}
		if c.Daemon.Listen == "" {
			c.Daemon.Listen = ":8844"
		}
		if c.Daemon.HistoryDB == "" {
			c.Daemon.HistoryDB = "./dbdepot-history.db"
		}
		if c.Daemon.NATS != nil && c.Daemon.NATS.SubjectPrefix == "" {
			c.Daemon.NATS.SubjectPrefix = "dbdepot"
		}
	}
}

// validate rejects configurations that cannot drive a run.
func (c *Config) validate() error {
	if c.Release.Owner == "" {
		return errors.ConfigRequired("release.owner")
	}
	if c.Release.Repo == "" {
		return errors.ConfigRequired("release.repo")
	}

	if c.State.Git != nil {
		if c.State.Git.URL == "" {
			return errors.ConfigRequired("state.git.url")
		}
		if err := validateGitAuth(c.State.Git.Auth); err != nil {
			return err
		}
	}

	initial, err := time.ParseDuration(c.Retry.InitialDelay)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "invalid retry.initial_delay").
			WithContext("value", c.Retry.InitialDelay)
	}
	maxDelay, err := time.ParseDuration(c.Retry.MaxDelay)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "invalid retry.max_delay").
			WithContext("value", c.Retry.MaxDelay)
	}
	if maxDelay < initial {
		return errors.New(errors.CategoryConfig, errors.SeverityFatal,
			fmt.Sprintf("retry.max_delay (%s) must be >= retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay))
	}

	if c.Daemon != nil {
		interval, err := time.ParseDuration(c.Daemon.Interval)
		if err != nil {
			return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "invalid daemon.interval").
				WithContext("value", c.Daemon.Interval)
		}
		if interval <= 0 {
			return errors.New(errors.CategoryConfig, errors.SeverityFatal, "daemon.interval must be positive")
		}
		if c.Daemon.NATS != nil && c.Daemon.NATS.URL == "" {
			return errors.ConfigRequired("daemon.nats.url")
		}
	}

	return nil
}

// validateGitAuth checks the auth mechanism selector and its required fields.
// Semantic checks (key readable, token valid) are left to the sync client.
func validateGitAuth(auth *AuthConfig) error {
	if auth == nil {
		return nil
	}
	switch auth.Type {
	case AuthTypeToken, AuthTypeBasic, AuthTypeSSH, "":
	default:
		return errors.New(errors.CategoryConfig, errors.SeverityFatal,
			fmt.Sprintf("unsupported git auth type: %s", auth.Type))
	}
	if auth.Type == AuthTypeBasic && (auth.Username == "" || auth.Password == "") {
		return errors.ConfigRequired("state.git.auth.username/password")
	}
	if auth.Type == AuthTypeSSH && auth.KeyPath == "" {
		return errors.ConfigRequired("state.git.auth.key_path")
	}
	return nil
}

// RetryDelays parses the duration strings. Validation has already run for
// loaded configs; zero values are returned for hand-built ones so the retry
// policy can substitute its defaults.
func (c *Config) RetryDelays() (initial, maxDelay time.Duration) {
	initial, _ = time.ParseDuration(c.Retry.InitialDelay)
	maxDelay, _ = time.ParseDuration(c.Retry.MaxDelay)
	return initial, maxDelay
}

// DaemonInterval parses the daemon schedule period. Callers must only use it
// when Daemon is configured.
func (c *Config) DaemonInterval() time.Duration {
	if c.Daemon == nil {
		return 0
	}
	d, _ := time.ParseDuration(c.Daemon.Interval)
	return d
}
