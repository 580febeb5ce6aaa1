package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
	"git.home.luguber.info/inful/dbdepot/internal/release"
)

// ActualArtifact is one published binary asset.
type ActualArtifact struct {
	URL string
	// Digest is the hex sum recorded for the asset, empty unless a
	// checksum manifest was consulted.
	Digest string
	Size   int64
}

// ActualRelease is the published artifact set for one database version.
type ActualRelease struct {
	Tag string

	order     []platform.ID
	artifacts map[platform.ID]ActualArtifact
}

// Platforms returns the released platforms in asset listing order.
func (r *ActualRelease) Platforms() []platform.ID {
	out := make([]platform.ID, len(r.order))
	copy(out, r.order)
	return out
}

// Artifact looks up the artifact published for p.
func (r *ActualRelease) Artifact(p platform.ID) (ActualArtifact, bool) {
	a, ok := r.artifacts[p]
	return a, ok
}

// HasPlatform reports whether an artifact exists for p.
func (r *ActualRelease) HasPlatform(p platform.ID) bool {
	_, ok := r.artifacts[p]
	return ok
}

// ActualDatabase groups the published releases of one database.
type ActualDatabase struct {
	ID string

	versions []string
	releases map[string]*ActualRelease
}

// Versions returns published versions in listing order.
func (d *ActualDatabase) Versions() []string {
	out := make([]string, len(d.versions))
	copy(out, d.versions)
	return out
}

// Release looks up the release for a version.
func (d *ActualDatabase) Release(version string) (*ActualRelease, bool) {
	r, ok := d.releases[version]
	return r, ok
}

// HasVersion reports whether a release exists for version.
func (d *ActualDatabase) HasVersion(version string) bool {
	_, ok := d.releases[version]
	return ok
}

// ActualState is the full published picture, fresh from a listing.
type ActualState struct {
	order []string
	dbs   map[string]*ActualDatabase
}

// EmptyActual returns a snapshot with no releases.
func EmptyActual() *ActualState {
	return &ActualState{dbs: make(map[string]*ActualDatabase)}
}

// Databases returns all databases in listing order.
func (s *ActualState) Databases() []*ActualDatabase {
	out := make([]*ActualDatabase, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.dbs[id])
	}
	return out
}

// Database looks up one database by identifier.
func (s *ActualState) Database(id string) (*ActualDatabase, bool) {
	db, ok := s.dbs[id]
	return db, ok
}

// Len returns the number of databases with published releases.
func (s *ActualState) Len() int { return len(s.order) }

func (s *ActualState) ensureDatabase(id string) *ActualDatabase {
	if db, ok := s.dbs[id]; ok {
		return db
	}
	db := &ActualDatabase{ID: id, releases: make(map[string]*ActualRelease)}
	s.order = append(s.order, id)
	s.dbs[id] = db
	return db
}

// BuildActual folds a release listing into a snapshot. Draft releases are
// not published state and are excluded. Tags that do not parse as
// <database>-<version> are returned in skipped for the caller to log;
// they are never errors.
func BuildActual(releases []release.Release) (s *ActualState, skipped []string) {
	s = EmptyActual()

	for i := range releases {
		rel := &releases[i]
		if rel.Draft {
			continue
		}
		db, version, ok := release.ParseTag(rel.Tag)
		if !ok {
			skipped = append(skipped, rel.Tag)
			continue
		}

		ad := s.ensureDatabase(db)
		if ad.HasVersion(version) {
			// Two releases mapping to one version is upstream breakage;
			// the first listing entry wins.
			skipped = append(skipped, rel.Tag)
			continue
		}

		ar := &ActualRelease{Tag: rel.Tag, artifacts: make(map[platform.ID]ActualArtifact)}
		for _, asset := range rel.Assets {
			pid, ok := platform.FindIn(asset.Name)
			if !ok {
				continue // manifests and stray uploads
			}
			if _, dup := ar.artifacts[pid]; dup {
				continue
			}
			ar.artifacts[pid] = ActualArtifact{URL: asset.DownloadURL, Size: asset.Size}
			ar.order = append(ar.order, pid)
		}

		ad.versions = append(ad.versions, version)
		ad.releases[version] = ar
	}

	return s, skipped
}

type actualArtifactJSON struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// LoadActual reads a previously written snapshot file. Offline audits
// replay these instead of hitting the listing API.
func LoadActual(path string) (*ActualState, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigMissing(path)
		}
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "reading actual state snapshot")
	}

	s, err := ParseActual(data)
	if err != nil {
		return nil, errors.ConfigParse(path, err)
	}
	return s, nil
}

// ParseActual parses an actual-state record.
func ParseActual(data []byte) (*ActualState, error) {
	var file struct {
		Databases json.RawMessage `json:"databases"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	s := EmptyActual()
	if isJSONNull(file.Databases) {
		return s, nil
	}

	ids, err := objectKeys(file.Databases)
	if err != nil {
		return nil, fmt.Errorf("databases: %w", err)
	}
	var rawDBs map[string]struct {
		Versions json.RawMessage `json:"versions"`
	}
	if err := json.Unmarshal(file.Databases, &rawDBs); err != nil {
		return nil, err
	}

	for _, id := range ids {
		ad := s.ensureDatabase(id)
		rawVersions := rawDBs[id].Versions
		if isJSONNull(rawVersions) {
			continue
		}

		versions, err := objectKeys(rawVersions)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", id, err)
		}
		var rawRels map[string]struct {
			ReleaseTag string          `json:"releaseTag"`
			Platforms  json.RawMessage `json:"platforms"`
		}
		if err := json.Unmarshal(rawVersions, &rawRels); err != nil {
			return nil, fmt.Errorf("database %s: %w", id, err)
		}

		for _, version := range versions {
			rr := rawRels[version]
			tag := rr.ReleaseTag
			if tag == "" {
				tag = release.MakeTag(id, version)
			}
			ar := &ActualRelease{Tag: tag, artifacts: make(map[platform.ID]ActualArtifact)}

			if !isJSONNull(rr.Platforms) {
				platKeys, err := objectKeys(rr.Platforms)
				if err != nil {
					return nil, fmt.Errorf("database %s version %s: %w", id, version, err)
				}
				var rawArts map[string]actualArtifactJSON
				if err := json.Unmarshal(rr.Platforms, &rawArts); err != nil {
					return nil, fmt.Errorf("database %s version %s: %w", id, version, err)
				}
				for _, p := range platKeys {
					pid, ok := platform.Parse(p)
					if !ok {
						return nil, fmt.Errorf("database %s version %s: unknown platform %q", id, version, p)
					}
					aj := rawArts[p]
					ar.artifacts[pid] = ActualArtifact{URL: aj.URL, Digest: aj.SHA256, Size: aj.Size}
					ar.order = append(ar.order, pid)
				}
			}

			ad.versions = append(ad.versions, version)
			ad.releases[version] = ar
		}
	}

	return s, nil
}

// EncodeActual renders the snapshot back to its record form, databases,
// versions, and platforms in snapshot order. json.Marshal would sort map
// keys and destroy the ordering the snapshot exists to preserve, so the
// object nesting is written by hand.
func EncodeActual(s *ActualState) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"databases":{`)

	for i, db := range s.Databases() {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONKey(&buf, db.ID)
		buf.WriteString(`{"versions":{`)

		for j, version := range db.Versions() {
			if j > 0 {
				buf.WriteByte(',')
			}
			rel, _ := db.Release(version)
			writeJSONKey(&buf, version)
			buf.WriteString(`{"releaseTag":`)
			tagBytes, err := json.Marshal(rel.Tag)
			if err != nil {
				return nil, err
			}
			buf.Write(tagBytes)
			buf.WriteString(`,"platforms":{`)

			for k, pid := range rel.Platforms() {
				if k > 0 {
					buf.WriteByte(',')
				}
				art, _ := rel.Artifact(pid)
				writeJSONKey(&buf, string(pid))
				artBytes, err := json.Marshal(actualArtifactJSON{URL: art.URL, SHA256: art.Digest, Size: art.Size})
				if err != nil {
					return nil, err
				}
				buf.Write(artBytes)
			}
			buf.WriteString(`}}`)
		}
		buf.WriteString(`}}`)
	}

	buf.WriteString(`}}`)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func writeJSONKey(buf *bytes.Buffer, key string) {
	b, _ := json.Marshal(key)
	buf.Write(b)
	buf.WriteByte(':')
}
