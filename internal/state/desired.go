// Package state models the snapshots the reconciliation engine works
// with: the desired release matrix, the per-database source registry,
// and the actual published state. Each parses once per run into an
// immutable snapshot. JSON object order is preserved throughout because
// audit output order follows the order operators wrote their files in.
package state

import (
	"encoding/json"
	"fmt"
	"os"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
)

// Status is a database's lifecycle stage in the desired state file.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// DesiredDatabase is one database's declared distribution intent.
type DesiredDatabase struct {
	ID          string
	DisplayName string
	Status      Status

	versions    []string
	versionSet  map[string]bool
	platforms   []platform.ID
	platformSet map[platform.ID]bool
}

// Active reports whether the database is expected to have published
// releases. Unknown status strings are simply not active.
func (d *DesiredDatabase) Active() bool {
	return d.Status == StatusInProgress || d.Status == StatusCompleted
}

// EnabledVersions returns the enabled versions in file order.
func (d *DesiredDatabase) EnabledVersions() []string {
	out := make([]string, len(d.versions))
	copy(out, d.versions)
	return out
}

// VersionEnabled reports whether version is declared and enabled.
func (d *DesiredDatabase) VersionEnabled(version string) bool {
	return d.versionSet[version]
}

// EnabledPlatforms returns the enabled platforms in file order.
func (d *DesiredDatabase) EnabledPlatforms() []platform.ID {
	out := make([]platform.ID, len(d.platforms))
	copy(out, d.platforms)
	return out
}

// PlatformEnabled reports whether p is declared and enabled.
func (d *DesiredDatabase) PlatformEnabled(p platform.ID) bool {
	return d.platformSet[p]
}

// DesiredState is the full desired release matrix.
type DesiredState struct {
	order []string
	dbs   map[string]*DesiredDatabase
}

// EmptyDesired returns a snapshot with no databases. An empty desired
// state is valid: there is nothing to check yet.
func EmptyDesired() *DesiredState {
	return &DesiredState{dbs: make(map[string]*DesiredDatabase)}
}

// Databases returns all databases in file order.
func (s *DesiredState) Databases() []*DesiredDatabase {
	out := make([]*DesiredDatabase, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.dbs[id])
	}
	return out
}

// Database looks up one database by identifier.
func (s *DesiredState) Database(id string) (*DesiredDatabase, bool) {
	db, ok := s.dbs[id]
	return db, ok
}

// Len returns the number of declared databases.
func (s *DesiredState) Len() int { return len(s.order) }

type desiredFileJSON struct {
	Databases json.RawMessage `json:"databases"`
}

type desiredDatabaseJSON struct {
	DisplayName string          `json:"displayName"`
	Status      string          `json:"status"`
	Versions    json.RawMessage `json:"versions"`
	Platforms   json.RawMessage `json:"platforms"`
}

// LoadDesired reads and parses the desired state file. A missing file is
// a config-category warning so audit callers can substitute an empty
// snapshot; a malformed file is a parse-category error.
func LoadDesired(path string) (*DesiredState, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigMissing(path)
		}
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "reading desired state")
	}

	s, err := ParseDesired(data)
	if err != nil {
		return nil, errors.ConfigParse(path, err)
	}
	return s, nil
}

// ParseDesired parses the desired state record.
func ParseDesired(data []byte) (*DesiredState, error) {
	var file desiredFileJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	s := EmptyDesired()
	if isJSONNull(file.Databases) {
		return s, nil
	}

	ids, err := objectKeys(file.Databases)
	if err != nil {
		return nil, fmt.Errorf("databases: %w", err)
	}
	var rawDBs map[string]json.RawMessage
	if err := json.Unmarshal(file.Databases, &rawDBs); err != nil {
		return nil, err
	}

	for _, id := range ids {
		db, err := parseDesiredDatabase(id, rawDBs[id])
		if err != nil {
			return nil, err
		}
		s.order = append(s.order, id)
		s.dbs[id] = db
	}
	return s, nil
}

func parseDesiredDatabase(id string, raw json.RawMessage) (*DesiredDatabase, error) {
	var dj desiredDatabaseJSON
	if err := json.Unmarshal(raw, &dj); err != nil {
		return nil, fmt.Errorf("database %s: %w", id, err)
	}

	db := &DesiredDatabase{
		ID:          id,
		DisplayName: dj.DisplayName,
		Status:      Status(dj.Status),
		versionSet:  make(map[string]bool),
		platformSet: make(map[platform.ID]bool),
	}

	if !isJSONNull(dj.Versions) {
		keys, err := objectKeys(dj.Versions)
		if err != nil {
			return nil, fmt.Errorf("database %s versions: %w", id, err)
		}
		var enabled map[string]bool
		if err := json.Unmarshal(dj.Versions, &enabled); err != nil {
			return nil, fmt.Errorf("database %s versions: %w", id, err)
		}
		for _, v := range keys {
			if enabled[v] {
				db.versions = append(db.versions, v)
				db.versionSet[v] = true
			}
		}
	}

	if !isJSONNull(dj.Platforms) {
		keys, err := objectKeys(dj.Platforms)
		if err != nil {
			return nil, fmt.Errorf("database %s platforms: %w", id, err)
		}
		var enabled map[string]bool
		if err := json.Unmarshal(dj.Platforms, &enabled); err != nil {
			return nil, fmt.Errorf("database %s platforms: %w", id, err)
		}
		for _, p := range keys {
			// The platform universe is closed; anything else in the
			// file is a typo worth failing loudly on.
			pid, ok := platform.Parse(p)
			if !ok {
				return nil, fmt.Errorf("database %s: unknown platform %q", id, p)
			}
			if enabled[p] {
				db.platforms = append(db.platforms, pid)
				db.platformSet[pid] = true
			}
		}
	}

	return db, nil
}
