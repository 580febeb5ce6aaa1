// Package config loads and validates the dbdepot.yaml tool configuration.
//
// Resolution order: .env / .env.local are loaded first (variables already in
// the process environment always win), ${VAR} references inside the YAML are
// expanded, then defaults fill whatever the operator left out. Secrets never
// live in the YAML itself; the forge token is read from the environment
// variable named by release.token_env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
)

const (
	// DefaultTokenEnv names the environment variable consulted for the
	// forge bearer token when release.token_env is not set.
	DefaultTokenEnv = "DBDEPOT_API_TOKEN"

	// DesiredFileName is the desired-state file inside the state directory.
	DesiredFileName = "databases.json"

	// SourcesDirName is the per-database source registry directory inside
	// the state directory.
	SourcesDirName = "sources"
)

// Config is the root dbdepot.yaml structure.
type Config struct {
	State    StateConfig    `yaml:"state"`
	Release  ReleaseConfig  `yaml:"release"`
	Cache    CacheConfig    `yaml:"cache"`
	Packages PackagesConfig `yaml:"packages"`
	Retry    RetryConfig    `yaml:"retry"`
	Daemon   *DaemonConfig  `yaml:"daemon,omitempty"`
}

// StateConfig locates the desired-state inputs (databases.json + sources/).
type StateConfig struct {
	Dir string `yaml:"dir"`
	// Git optionally syncs Dir from a remote repository before each run.
	Git *GitConfig `yaml:"git,omitempty"`
}

// GitConfig describes the optional remote holding the state directory.
type GitConfig struct {
	URL    string `yaml:"url"`
	Branch string `yaml:"branch,omitempty"`
	// Depth bounds clone history. Unset defaults to 1; a negative value
	// requests full history.
	Depth int         `yaml:"depth,omitempty"`
	Auth  *AuthConfig `yaml:"auth,omitempty"`
}

// AuthType selects a git authentication mechanism.
type AuthType string

const (
	AuthTypeToken AuthType = "token"
	AuthTypeBasic AuthType = "basic"
	AuthTypeSSH   AuthType = "ssh"
)

// AuthConfig describes git authentication for the state remote. A token-type
// auth with an empty token falls back to the release token env var.
type AuthConfig struct {
	Type     AuthType `yaml:"type"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	KeyPath  string   `yaml:"key_path,omitempty"`
}

// ReleaseConfig carries the forge coordinates of the distribution repository.
type ReleaseConfig struct {
	Owner     string `yaml:"owner"`
	Repo      string `yaml:"repo"`
	APIURL    string `yaml:"api_url,omitempty"`
	UploadURL string `yaml:"upload_url,omitempty"`
	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env,omitempty"`
	PerPage  int    `yaml:"per_page,omitempty"`
}

// CacheConfig controls the artifact cache. An empty Dir defers to
// $DBDEPOT_CACHE_DIR and then the user cache directory.
type CacheConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// PackagesConfig controls package descriptor generation.
type PackagesConfig struct {
	Scope  string `yaml:"scope,omitempty"`
	OutDir string `yaml:"out_dir,omitempty"`
}

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// NormalizeRetryBackoff converts arbitrary user input (case-insensitive) into
// a typed mode, returning empty string for unknown.
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RetryBackoffFixed):
		return RetryBackoffFixed
	case string(RetryBackoffLinear):
		return RetryBackoffLinear
	case string(RetryBackoffExponential):
		return RetryBackoffExponential
	default:
		return ""
	}
}

// RetryConfig tunes the coarse caller-level retries around network
// operations. Delays are duration strings so ${VAR} expansion stays uniform
// across the file.
type RetryConfig struct {
	MaxRetries   int              `yaml:"max_retries,omitempty"`
	Backoff      RetryBackoffMode `yaml:"backoff,omitempty"`
	InitialDelay string           `yaml:"initial_delay,omitempty"`
	MaxDelay     string           `yaml:"max_delay,omitempty"`
}

// DaemonConfig enables continuous auditing. Nil means CLI-only operation.
type DaemonConfig struct {
	Interval  string `yaml:"interval,omitempty"`
	Listen    string `yaml:"listen,omitempty"`
	HistoryDB string `yaml:"history_db,omitempty"`
	// Repair enables a checksum-manifest repair sweep after each audit.
	Repair bool        `yaml:"repair,omitempty"`
	NATS   *NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig enables run-event publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// Load reads, expands and validates a dbdepot.yaml.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.ConfigMissing(configPath)
	}

	data, err := os.ReadFile(configPath) // #nosec G304 - path comes from the CLI flag
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "reading config file").
			WithContext("path", configPath)
	}

	// Expand ${VAR} references before parsing so hosts and paths can live
	// in the environment instead of the YAML.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.ConfigParse(configPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFiles loads the first of .env, .env.local that exists. godotenv
// never overwrites variables the process already carries, and a missing file
// is not an error.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if err := godotenv.Load(name); err == nil {
			return
		}
	}
}

// DesiredPath returns the databases.json location under the state directory.
func (c *Config) DesiredPath() string {
	return filepath.Join(c.State.Dir, DesiredFileName)
}

// SourcesDir returns the per-database source registry directory.
func (c *Config) SourcesDir() string {
	return filepath.Join(c.State.Dir, SourcesDirName)
}

// Token resolves the forge bearer token from the configured environment
// variable. Empty means unauthenticated.
func (c *Config) Token() string {
	return os.Getenv(c.Release.TokenEnv)
}

// GitToken resolves the state-remote token, falling back to the forge token
// when the git auth block names none of its own.
func (c *Config) GitToken() string {
	if c.State.Git == nil || c.State.Git.Auth == nil {
		return ""
	}
	if c.State.Git.Auth.Token != "" {
		return c.State.Git.Auth.Token
	}
	return c.Token()
}

const exampleConfig = `# dbdepot configuration
state:
  dir: ./state
  # git:
  #   url: https://git.example.com/infra/db-state.git
  #   branch: main
  #   auth:
  #     type: token

release:
  owner: example
  repo: db-binaries
  # api_url: https://git.example.com/api/v1
  # token_env: DBDEPOT_API_TOKEN

cache:
  # dir: /var/cache/dbdepot

packages:
  scope: "@dbdepot"
  out_dir: ./packages

retry:
  max_retries: 2
  backoff: linear
  initial_delay: 1s
  max_delay: 30s

# daemon:
#   interval: 1h
#   listen: ":8844"
#   history_db: ./dbdepot-history.db
#   repair: true
#   nats:
#     url: nats://localhost:4222
#     subject_prefix: dbdepot
`

// Init writes an example configuration file for new installations.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.New(errors.CategoryConfig, errors.SeverityError,
			fmt.Sprintf("config file already exists at %s (use --force to overwrite)", configPath))
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil { // #nosec G306 - example config is meant to be edited
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "writing example config").
			WithContext("path", configPath)
	}
	return nil
}
