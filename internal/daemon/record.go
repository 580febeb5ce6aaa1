package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/dbdepot/internal/audit"
	"git.home.luguber.info/inful/dbdepot/internal/repair"
)

func newRunID() string {
	return uuid.NewString()
}

func auditSummary(res *audit.Result) string {
	if res.Clean() {
		return fmt.Sprintf("no discrepancies (%d databases, %d releases)", res.Databases, res.Releases)
	}
	return fmt.Sprintf("%d discrepancies (%d databases, %d releases)",
		len(res.Discrepancies), res.Databases, res.Releases)
}

func repairSummary(published, incomplete int, err error) string {
	if err != nil {
		return fmt.Sprintf("repair sweep failed: %v", err)
	}
	return fmt.Sprintf("%d manifests published, %d releases incomplete", published, incomplete)
}

// repairResultJSON is the history-detail shape for one repaired release.
type repairResultJSON struct {
	Tag       string   `json:"tag"`
	Complete  bool     `json:"complete"`
	Published bool     `json:"published"`
	Added     []string `json:"added,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
}

func encodeRepairResults(results []repair.Result) ([]byte, error) {
	out := make([]repairResultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, repairResultJSON{
			Tag:       r.Tag,
			Complete:  r.Complete,
			Published: r.Published,
			Added:     r.Added,
			Skipped:   r.Skipped,
		})
	}
	return json.Marshal(out)
}
