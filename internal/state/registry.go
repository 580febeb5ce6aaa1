package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/dbdepot/internal/checksum"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
)

// Source types recognized in registry entries. An empty sourceType means
// download. Build-type entries are declared for databases without
// prebuilt upstream binaries; the fetch pipeline recognizes and skips
// them, nothing more.
const (
	SourceTypeDownload = "download"
	SourceTypeBuild    = "build"
)

// BinarySpec maps a logical binary name to its path inside an extracted
// archive. Order is the operator's: it drives descriptor output and the
// executable-marking pass.
type BinarySpec struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SourceEntry describes where one (version, platform) artifact comes from.
type SourceEntry struct {
	URL string
	// Digest is zero when the registry omits a checksum; acquisition then
	// proceeds unverified.
	Digest     checksum.Digest
	SourceType string
}

// IsBuild reports whether the entry must be compiled rather than fetched.
func (e SourceEntry) IsBuild() bool { return e.SourceType == SourceTypeBuild }

// SourceRegistry holds one database's upstream source declarations.
type SourceRegistry struct {
	Database string
	Binaries []BinarySpec

	versions      []string
	platformOrder map[string][]platform.ID
	entries       map[string]map[platform.ID]SourceEntry
}

// Versions returns declared versions in file order.
func (r *SourceRegistry) Versions() []string {
	out := make([]string, len(r.versions))
	copy(out, r.versions)
	return out
}

// Platforms returns the platforms declared for a version, in file order.
func (r *SourceRegistry) Platforms(version string) []platform.ID {
	order := r.platformOrder[version]
	out := make([]platform.ID, len(order))
	copy(out, order)
	return out
}

// Entry looks up the source declaration for a (version, platform) pair.
func (r *SourceRegistry) Entry(version string, p platform.ID) (SourceEntry, bool) {
	byPlatform, ok := r.entries[version]
	if !ok {
		return SourceEntry{}, false
	}
	e, ok := byPlatform[p]
	return e, ok
}

// RegistryPath returns the registry file path for a database.
func RegistryPath(dir, database string) string {
	return filepath.Join(dir, database+".json")
}

type registryFileJSON struct {
	Binaries []BinarySpec    `json:"binaries"`
	Versions json.RawMessage `json:"versions"`
}

type registryEntryJSON struct {
	URL        string `json:"url"`
	SHA256     string `json:"sha256"`
	SHA3256    string `json:"sha3_256"`
	SourceType string `json:"sourceType"`
}

// LoadRegistry reads sources/<database>.json. Missing files are
// config-category (the database simply has no declared sources yet).
func LoadRegistry(dir, database string) (*SourceRegistry, error) {
	path := RegistryPath(dir, database)
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigMissing(path)
		}
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "reading source registry")
	}

	r, err := ParseRegistry(database, data)
	if err != nil {
		return nil, errors.ConfigParse(path, err)
	}
	return r, nil
}

// ParseRegistry parses a per-database source registry record. Each entry's
// digest algorithm is resolved here, once: exactly one of sha256/sha3_256
// may be present, and downstream code only ever sees a tagged digest.
func ParseRegistry(database string, data []byte) (*SourceRegistry, error) {
	var file registryFileJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	r := &SourceRegistry{
		Database:      database,
		Binaries:      file.Binaries,
		platformOrder: make(map[string][]platform.ID),
		entries:       make(map[string]map[platform.ID]SourceEntry),
	}
	if isJSONNull(file.Versions) {
		return r, nil
	}

	versions, err := objectKeys(file.Versions)
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	var rawVersions map[string]json.RawMessage
	if err := json.Unmarshal(file.Versions, &rawVersions); err != nil {
		return nil, err
	}

	for _, version := range versions {
		raw := rawVersions[version]
		platKeys, err := objectKeys(raw)
		if err != nil {
			return nil, fmt.Errorf("version %s: %w", version, err)
		}
		var rawEntries map[string]registryEntryJSON
		if err := json.Unmarshal(raw, &rawEntries); err != nil {
			return nil, fmt.Errorf("version %s: %w", version, err)
		}

		byPlatform := make(map[platform.ID]SourceEntry, len(platKeys))
		for _, p := range platKeys {
			pid, ok := platform.Parse(p)
			if !ok {
				return nil, fmt.Errorf("version %s: unknown platform %q", version, p)
			}
			entry, err := convertRegistryEntry(rawEntries[p])
			if err != nil {
				return nil, fmt.Errorf("version %s platform %s: %w", version, p, err)
			}
			byPlatform[pid] = entry
			r.platformOrder[version] = append(r.platformOrder[version], pid)
		}

		r.versions = append(r.versions, version)
		r.entries[version] = byPlatform
	}

	return r, nil
}

func convertRegistryEntry(ej registryEntryJSON) (SourceEntry, error) {
	entry := SourceEntry{URL: ej.URL, SourceType: ej.SourceType}

	switch {
	case ej.SHA256 != "" && ej.SHA3256 != "":
		return SourceEntry{}, fmt.Errorf("both sha256 and sha3_256 declared; pick one")
	case ej.SHA256 != "":
		d, err := checksum.NewDigest(checksum.SHA256, ej.SHA256)
		if err != nil {
			return SourceEntry{}, err
		}
		entry.Digest = d
	case ej.SHA3256 != "":
		d, err := checksum.NewDigest(checksum.SHA3256, ej.SHA3256)
		if err != nil {
			return SourceEntry{}, err
		}
		entry.Digest = d
	}

	if entry.SourceType != "" && entry.SourceType != SourceTypeDownload && entry.SourceType != SourceTypeBuild {
		return SourceEntry{}, fmt.Errorf("unknown sourceType %q", entry.SourceType)
	}
	if !entry.IsBuild() && entry.URL == "" {
		return SourceEntry{}, fmt.Errorf("download entry missing url")
	}

	return entry, nil
}
