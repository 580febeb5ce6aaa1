package download

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
)

// CacheDirEnv overrides the default cache root when set.
const CacheDirEnv = "DBDEPOT_CACHE_DIR"

// ResolveCacheRoot picks the cache root: an explicit path wins, then the
// environment override, then the user cache directory.
func ResolveCacheRoot(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(CacheDirEnv); env != "" {
		return env, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "resolving user cache directory")
	}
	return filepath.Join(base, "dbdepot"), nil
}

// Ext maps a source URL to the canonical archive extension. Both .tar.gz
// and .tgz sources cache as tar.gz so one key never yields two files.
func Ext(sourceURL string) (string, error) {
	name := sourceURL
	if u, err := url.Parse(sourceURL); err == nil && u.Path != "" {
		name = u.Path
	}
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return "tar.gz", nil
	case strings.HasSuffix(name, ".zip"):
		return "zip", nil
	}
	return "", errors.UnsupportedFormat(name)
}

// Path returns the canonical cache location for one cache key.
func Path(root, database, version string, p platform.ID, ext string) string {
	return filepath.Join(root, database, version, string(p)+"."+ext)
}
