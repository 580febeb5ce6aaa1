package gitsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dbdepot/internal/config"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
)

// initStateRepo creates a local source repository with main as the default
// branch, standing in for the remote.
func initStateRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)
	return dir, repo
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "state-bot", Email: "state@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestSyncClonesFreshCheckout(t *testing.T) {
	src, srcRepo := initStateRepo(t)
	want := commitFile(t, srcRepo, src, "databases.json", `{"databases":{}}`)

	dest := filepath.Join(t.TempDir(), "state")
	client := NewClient(dest, config.GitConfig{URL: src, Branch: "main"})

	got, err := client.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.FileExists(t, filepath.Join(dest, "databases.json"))
}

func TestSyncShallowClone(t *testing.T) {
	src, srcRepo := initStateRepo(t)
	commitFile(t, srcRepo, src, "databases.json", "v1")
	want := commitFile(t, srcRepo, src, "databases.json", "v2")

	dest := filepath.Join(t.TempDir(), "state")
	client := NewClient(dest, config.GitConfig{URL: src, Branch: "main", Depth: 1})

	got, err := client.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)

	data, err := os.ReadFile(filepath.Join(dest, "databases.json"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestSyncPullsNewCommits(t *testing.T) {
	src, srcRepo := initStateRepo(t)
	commitFile(t, srcRepo, src, "databases.json", "v1")

	dest := filepath.Join(t.TempDir(), "state")
	client := NewClient(dest, config.GitConfig{URL: src, Branch: "main"})

	_, err := client.Sync(context.Background())
	require.NoError(t, err)

	// Marker survives the second sync only if it pulls instead of recloning.
	marker := filepath.Join(dest, "marker")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o600))

	want := commitFile(t, srcRepo, src, "databases.json", "v2")

	got, err := client.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.FileExists(t, marker)

	data, err := os.ReadFile(filepath.Join(dest, "databases.json"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestSyncDivergedCheckoutResets(t *testing.T) {
	src, srcRepo := initStateRepo(t)
	commitFile(t, srcRepo, src, "databases.json", "base")

	dest := filepath.Join(t.TempDir(), "state")
	client := NewClient(dest, config.GitConfig{URL: src, Branch: "main"})

	_, err := client.Sync(context.Background())
	require.NoError(t, err)

	// Local drift that can never fast-forward.
	destRepo, err := git.PlainOpen(dest)
	require.NoError(t, err)
	commitFile(t, destRepo, dest, "databases.json", "local drift")

	want := commitFile(t, srcRepo, src, "databases.json", "remote truth")

	got, err := client.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)

	data, err := os.ReadFile(filepath.Join(dest, "databases.json"))
	require.NoError(t, err)
	require.Equal(t, "remote truth", string(data))
}

func TestSyncReplacesNonRepoDirectory(t *testing.T) {
	src, srcRepo := initStateRepo(t)
	commitFile(t, srcRepo, src, "databases.json", "v1")

	dest := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.MkdirAll(dest, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stray.txt"), []byte("old"), 0o600))

	client := NewClient(dest, config.GitConfig{URL: src, Branch: "main"})

	_, err := client.Sync(context.Background())
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dest, "databases.json"))
	require.NoFileExists(t, filepath.Join(dest, "stray.txt"))
}

func TestSyncUnknownRemote(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "state")
	client := NewClient(dest, config.GitConfig{URL: filepath.Join(t.TempDir(), "missing-repo"), Branch: "main"})

	_, err := client.Sync(context.Background())
	require.Error(t, err)
	require.True(t, errors.IsCategory(err, errors.CategoryGit))
}

func TestAuthSelection(t *testing.T) {
	c := NewClient("x", config.GitConfig{Auth: &config.AuthConfig{Type: config.AuthTypeToken, Token: "tok"}})
	method, err := c.auth()
	require.NoError(t, err)
	require.Equal(t, &githttp.BasicAuth{Username: "token", Password: "tok"}, method)

	c = NewClient("x", config.GitConfig{Auth: &config.AuthConfig{Type: config.AuthTypeToken}}).WithToken("fallback")
	method, err = c.auth()
	require.NoError(t, err)
	require.Equal(t, &githttp.BasicAuth{Username: "token", Password: "fallback"}, method)

	c = NewClient("x", config.GitConfig{Auth: &config.AuthConfig{Type: config.AuthTypeToken}})
	_, err = c.auth()
	require.Error(t, err)
	require.True(t, errors.IsCategory(err, errors.CategoryConfig))

	c = NewClient("x", config.GitConfig{Auth: &config.AuthConfig{Type: config.AuthTypeBasic, Username: "sync", Password: "pw"}})
	method, err = c.auth()
	require.NoError(t, err)
	require.Equal(t, &githttp.BasicAuth{Username: "sync", Password: "pw"}, method)

	c = NewClient("x", config.GitConfig{Auth: &config.AuthConfig{Type: config.AuthTypeSSH, KeyPath: filepath.Join(t.TempDir(), "no-key")}})
	_, err = c.auth()
	require.Error(t, err)
	require.True(t, errors.IsCategory(err, errors.CategoryConfig))

	c = NewClient("x", config.GitConfig{})
	method, err = c.auth()
	require.NoError(t, err)
	require.Nil(t, method)
}
