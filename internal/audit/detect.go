package audit

import (
	"fmt"

	"git.home.luguber.info/inful/dbdepot/internal/state"
)

// Detect computes the ordered discrepancy list between the desired release
// matrix and the published actual state. It is pure and deterministic:
// identical snapshots always yield the identical ordered slice, following
// the insertion order of the underlying files and listings.
//
// Only active databases (in-progress or completed) are checked on the
// desired side. The actual side is checked against declared enablement
// regardless of status: a published artifact nobody declared is orphaned
// even if its database is paused.
func Detect(desired *state.DesiredState, actual *state.ActualState) []Discrepancy {
	var out []Discrepancy

	for _, db := range desired.Databases() {
		if !db.Active() {
			continue
		}
		versions := db.EnabledVersions()
		act, published := actual.Database(db.ID)
		if !published {
			if len(versions) > 0 {
				out = append(out, Discrepancy{
					Kind:     KindMissingRelease,
					Database: db.ID,
					Message:  fmt.Sprintf("%s has no published releases (%d enabled versions)", db.ID, len(versions)),
				})
			}
			continue
		}
		for _, version := range versions {
			rel, ok := act.Release(version)
			if !ok {
				out = append(out, Discrepancy{
					Kind:     KindMissingVersion,
					Database: db.ID,
					Version:  version,
					Message:  fmt.Sprintf("%s %s is enabled but not released", db.ID, version),
				})
				continue
			}
			for _, p := range db.EnabledPlatforms() {
				if !rel.HasPlatform(p) {
					out = append(out, Discrepancy{
						Kind:     KindMissingPlatform,
						Database: db.ID,
						Version:  version,
						Platform: p,
						Message:  fmt.Sprintf("%s %s has no %s artifact", db.ID, version, p),
					})
				}
			}
		}
	}

	for _, act := range actual.Databases() {
		des, declared := desired.Database(act.ID)
		if !declared {
			out = append(out, Discrepancy{
				Kind:     KindOrphanedRelease,
				Database: act.ID,
				Message:  fmt.Sprintf("%s has published releases but is not declared", act.ID),
			})
			continue
		}
		for _, version := range act.Versions() {
			if !des.VersionEnabled(version) {
				out = append(out, Discrepancy{
					Kind:     KindOrphanedVersion,
					Database: act.ID,
					Version:  version,
					Message:  fmt.Sprintf("%s %s is released but not enabled", act.ID, version),
				})
				continue
			}
			rel, _ := act.Release(version)
			for _, p := range rel.Platforms() {
				if !des.PlatformEnabled(p) {
					out = append(out, Discrepancy{
						Kind:     KindOrphanedPlatform,
						Database: act.ID,
						Version:  version,
						Platform: p,
						Message:  fmt.Sprintf("%s %s ships %s which is not enabled", act.ID, version, p),
					})
				}
			}
		}
	}

	return out
}
