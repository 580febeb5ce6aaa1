// Package release talks to the GitHub-compatible forge hosting the
// published database releases: paginated listing plus the asset
// operations (download, delete, upload) that manifest repair needs.
package release

import "time"

// Release is one published release on the distribution repository.
type Release struct {
	ID          int64
	Tag         string
	Name        string
	Draft       bool
	Prerelease  bool
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is a file attached to a release.
type Asset struct {
	ID          int64
	Name        string
	Size        int64
	ContentType string
	// DownloadURL is the public browser_download_url.
	DownloadURL string
	// APIURL is the asset's API endpoint, used for authenticated
	// octet-stream downloads on private repositories.
	APIURL string
}

// Asset lookup by name, linear; releases carry a handful of assets.
func (r *Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// ParseTag splits a release tag into its database and version parts.
// Tags follow `<database>-<version>` where the version begins with a
// digit, so the split point is the first hyphen followed by a digit.
// Database identifiers may themselves contain hyphens (sql-server-2022).
func ParseTag(tag string) (database, version string, ok bool) {
	for i := 0; i+1 < len(tag); i++ {
		if tag[i] == '-' && tag[i+1] >= '0' && tag[i+1] <= '9' {
			if i == 0 {
				return "", "", false
			}
			return tag[:i], tag[i+1:], true
		}
	}
	return "", "", false
}

// MakeTag renders the canonical tag for a database version.
func MakeTag(database, version string) string {
	return database + "-" + version
}

// AssetName renders the canonical binary asset filename for a cache key.
func AssetName(database, version, platform, ext string) string {
	return database + "-" + version + "-" + platform + "." + ext
}
