// Package gitsync keeps the local state directory in step with its git
// remote. The state repository holds databases.json and sources/; syncing
// before a run means every audit sees the matrix operators actually
// committed, and run records can carry the exact state commit.
package gitsync

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/dbdepot/internal/config"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
)

// Client syncs one state repository into a local directory. The remote is
// authoritative: local drift is discarded, never merged.
type Client struct {
	dir    string
	remote config.GitConfig
	token  string
	logger *slog.Logger
}

// NewClient creates a sync client for the given checkout directory.
func NewClient(dir string, remote config.GitConfig) *Client {
	return &Client{dir: dir, remote: remote, logger: slog.Default()}
}

// WithToken supplies the fallback token for token-type auth (normally the
// forge token resolved by config.GitToken).
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// WithLogger overrides the default logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Sync clones the state repository on first use and pulls afterwards,
// returning the checked-out commit hash.
func (c *Client) Sync(ctx context.Context) (string, error) {
	if _, err := os.Stat(filepath.Join(c.dir, ".git")); err != nil {
		return c.clone(ctx)
	}
	return c.pull(ctx)
}

func (c *Client) clone(ctx context.Context) (string, error) {
	c.logger.Debug("cloning state repository",
		logfields.URL(c.remote.URL),
		logfields.Path(c.dir),
		slog.String("branch", c.remote.Branch),
	)

	// A leftover non-repo directory cannot be cloned into; the remote is
	// the source of truth, so replace it.
	if err := os.RemoveAll(c.dir); err != nil {
		return "", errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "clearing state directory").
			WithContext("path", c.dir)
	}

	auth, err := c.auth()
	if err != nil {
		return "", err
	}
	opts := &git.CloneOptions{
		URL:          c.remote.URL,
		Auth:         auth,
		SingleBranch: true,
	}
	if c.remote.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(c.remote.Branch)
	}
	if c.remote.Depth > 0 {
		opts.Depth = c.remote.Depth
	}

	repo, err := git.PlainCloneContext(ctx, c.dir, false, opts)
	if err != nil {
		return "", c.classify(err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", errors.GitSync(c.remote.URL, err)
	}

	c.logger.Info("state repository cloned",
		logfields.URL(c.remote.URL),
		slog.String("commit", shortHash(head.Hash())),
	)
	return head.Hash().String(), nil
}

func (c *Client) pull(ctx context.Context) (string, error) {
	repo, err := git.PlainOpen(c.dir)
	if err != nil {
		return "", errors.GitSync(c.remote.URL, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", errors.GitSync(c.remote.URL, err)
	}

	auth, err := c.auth()
	if err != nil {
		return "", err
	}
	opts := &git.PullOptions{
		RemoteName:   "origin",
		Auth:         auth,
		SingleBranch: true,
		Force:        true,
	}
	if c.remote.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(c.remote.Branch)
	}

	switch err := wt.PullContext(ctx, opts); {
	case err == nil, stdErrors.Is(err, git.NoErrAlreadyUpToDate):
	case stdErrors.Is(err, git.ErrNonFastForwardUpdate):
		c.logger.Warn("state checkout diverged from remote, resetting", logfields.Path(c.dir))
		if err := c.resetToRemote(ctx, repo, wt); err != nil {
			return "", err
		}
	default:
		return "", c.classify(err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", errors.GitSync(c.remote.URL, err)
	}
	c.logger.Info("state repository synced",
		logfields.URL(c.remote.URL),
		slog.String("commit", shortHash(head.Hash())),
	)
	return head.Hash().String(), nil
}

// resetToRemote discards local history in favor of origin/<branch>.
func (c *Client) resetToRemote(ctx context.Context, repo *git.Repository, wt *git.Worktree) error {
	auth, err := c.auth()
	if err != nil {
		return err
	}
	fetchErr := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Auth: auth})
	if fetchErr != nil && !stdErrors.Is(fetchErr, git.NoErrAlreadyUpToDate) {
		return c.classify(fetchErr)
	}

	branch := c.remote.Branch
	if branch == "" {
		branch = "main"
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return errors.GitSync(c.remote.URL, err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return errors.GitSync(c.remote.URL, err)
	}
	return nil
}

// auth maps the configured mechanism onto a go-git transport method.
// Nil auth means unauthenticated (public remotes).
func (c *Client) auth() (transport.AuthMethod, error) {
	a := c.remote.Auth
	if a == nil {
		return nil, nil
	}
	switch a.Type {
	case config.AuthTypeToken:
		token := a.Token
		if token == "" {
			token = c.token
		}
		if token == "" {
			return nil, errors.ConfigRequired("state.git.auth.token")
		}
		// Forges accept tokens as HTTP basic credentials with a fixed username.
		return &githttp.BasicAuth{Username: "token", Password: token}, nil
	case config.AuthTypeBasic:
		return &githttp.BasicAuth{Username: a.Username, Password: a.Password}, nil
	case config.AuthTypeSSH:
		keys, err := gitssh.NewPublicKeysFromFile("git", a.KeyPath, "")
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "loading ssh key").
				WithContext("path", a.KeyPath)
		}
		return keys, nil
	default:
		return nil, nil
	}
}

// classify maps go-git failures onto the taxonomy: credential and not-found
// failures are permanent, everything else stays retryable.
func (c *Client) classify(err error) error {
	switch {
	case stdErrors.Is(err, transport.ErrAuthenticationRequired),
		stdErrors.Is(err, transport.ErrAuthorizationFailed),
		stdErrors.Is(err, transport.ErrRepositoryNotFound):
		return errors.Wrap(err, errors.CategoryGit, errors.SeverityError, "state repository sync failed").
			WithContext("url", c.remote.URL)
	default:
		return errors.GitSync(c.remote.URL, err)
	}
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:8]
}
