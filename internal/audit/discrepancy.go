// Package audit diffs the desired release matrix against the actually
// published artifacts and classifies every mismatch. Detection is a pure
// function over immutable snapshots; fetching those snapshots and acting
// on the result belongs to the Runner and its callers.
package audit

import (
	"git.home.luguber.info/inful/dbdepot/internal/platform"
)

// Kind classifies one desired/actual mismatch.
type Kind string

const (
	// KindMissingRelease: an active database with enabled versions has no
	// published releases at all. Emitted once per database, summarizing.
	KindMissingRelease Kind = "missing-release"

	// KindMissingVersion: an enabled version has no published release.
	KindMissingVersion Kind = "missing-version"

	// KindMissingPlatform: a published release lacks an enabled platform's
	// artifact.
	KindMissingPlatform Kind = "missing-platform"

	// KindOrphanedRelease: a database has published releases but does not
	// appear in the desired state at all. Emitted once per database.
	KindOrphanedRelease Kind = "orphaned-release"

	// KindOrphanedVersion: a published version is not enabled.
	KindOrphanedVersion Kind = "orphaned-version"

	// KindOrphanedPlatform: a published artifact targets a platform that is
	// not enabled.
	KindOrphanedPlatform Kind = "orphaned-platform"
)

// Kinds returns every discrepancy kind in report order.
func Kinds() []Kind {
	return []Kind{
		KindMissingRelease,
		KindMissingVersion,
		KindMissingPlatform,
		KindOrphanedRelease,
		KindOrphanedVersion,
		KindOrphanedPlatform,
	}
}

// Discrepancy is one classified mismatch. Version and Platform are filled
// only as far as the kind narrows: a missing-release names only the
// database, an orphaned-platform names all three coordinates.
type Discrepancy struct {
	Kind     Kind        `json:"kind"`
	Database string      `json:"database"`
	Version  string      `json:"version,omitempty"`
	Platform platform.ID `json:"platform,omitempty"`
	Message  string      `json:"message"`
}
