// Package eventstore persists run history. Every audit, repair and fetch
// execution is recorded as one Run row so operators can answer "what did the
// last sweep find" without scraping logs.
package eventstore

import (
	"context"
	"time"
)

// Run kinds as recorded in history.
const (
	KindAudit  = "audit"
	KindRepair = "repair"
	KindFetch  = "fetch"
)

// Run is one recorded execution.
type Run struct {
	// ID is the run UUID assigned at start.
	ID   string
	Kind string
	// StateCommit is the synced state-repo commit, empty when git sync is
	// not configured.
	StateCommit string
	StartedAt   time.Time
	FinishedAt  time.Time
	// Result is one of the metrics result labels: success, warning,
	// failed, canceled.
	Result string
	// Summary is a one-line human description ("3 discrepancies").
	Summary string
	// Detail carries the JSON-encoded report or result list.
	Detail []byte
}

// Duration returns the wall time the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store defines the interface for persisting and querying run history.
type Store interface {
	// RecordRun appends one finished run.
	RecordRun(ctx context.Context, run Run) error

	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	// RunsByKind returns up to limit runs of one kind, newest first.
	RunsByKind(ctx context.Context, kind string, limit int) ([]Run, error)

	// LastRun returns the most recent run of one kind; ok is false when
	// none has been recorded yet.
	LastRun(ctx context.Context, kind string) (Run, bool, error)

	// Close releases the underlying storage.
	Close() error
}
