package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
	"git.home.luguber.info/inful/dbdepot/internal/metrics"
	"git.home.luguber.info/inful/dbdepot/internal/release"
	"git.home.luguber.info/inful/dbdepot/internal/state"
)

// Lister is the slice of the release client the audit needs.
type Lister interface {
	ListReleases(ctx context.Context) ([]release.Release, error)
}

// Runner loads the desired state, observes the published actual state and
// runs Detect over the two. One Runner is safe to reuse across runs; each
// run re-reads the desired state file so daemon runs pick up edits.
type Runner struct {
	statePath string
	lister    Lister
	logger    *slog.Logger
	recorder  metrics.Recorder
}

// NewRunner creates an audit runner reading the desired state from
// statePath and the actual state through lister.
func NewRunner(statePath string, lister Lister) *Runner {
	return &Runner{
		statePath: statePath,
		lister:    lister,
		logger:    slog.Default(),
		recorder:  metrics.NoopRecorder{},
	}
}

// WithLogger replaces the default logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithRecorder replaces the default no-op metrics recorder.
func (r *Runner) WithRecorder(rec metrics.Recorder) *Runner {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Result is the outcome of one audit run. Serialization lives in report.go.
type Result struct {
	RunID         string
	StartedAt     time.Time
	Duration      time.Duration
	Databases     int
	Releases      int
	Discrepancies []Discrepancy
	SkippedTags   []string
}

// Clean reports whether the run found no discrepancies.
func (res *Result) Clean() bool { return len(res.Discrepancies) == 0 }

// Counts returns the number of discrepancies per kind. Kinds with zero
// occurrences are present in the map so gauges and tables reset cleanly.
func (res *Result) Counts() map[Kind]int {
	counts := make(map[Kind]int, 6)
	for _, k := range Kinds() {
		counts[k] = 0
	}
	for _, d := range res.Discrepancies {
		counts[d.Kind]++
	}
	return counts
}

// Run executes one audit: load desired, list releases, diff. A missing or
// unreadable desired state file is not an error; the audit runs against
// an empty matrix and everything published shows up as orphaned. A failed
// release listing is an error: the actual state could not be observed.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), StartedAt: start}

	r.logger.Debug("audit starting", logfields.RunID(res.RunID), logfields.Path(r.statePath))

	desired := r.loadDesired()
	res.Databases = desired.Len()

	releases, err := r.lister.ListReleases(ctx)
	if err != nil {
		outcome := metrics.ResultFailed
		if ctx.Err() != nil {
			outcome = metrics.ResultCanceled
		}
		r.recorder.IncAuditOutcome(outcome)
		r.logger.Error("audit failed listing releases", logfields.RunID(res.RunID), logfields.Error(err))
		return nil, err
	}

	actual, skipped := state.BuildActual(releases)
	res.Releases = len(releases)
	res.SkippedTags = skipped
	for _, tag := range skipped {
		r.logger.Debug("skipping unparseable release tag", logfields.RunID(res.RunID), logfields.ReleaseTag(tag))
	}

	res.Discrepancies = Detect(desired, actual)
	res.Duration = time.Since(start)

	for kind, n := range res.Counts() {
		r.recorder.SetDiscrepancies(string(kind), n)
	}
	r.recorder.ObserveAuditDuration(res.Duration)
	if res.Clean() {
		r.recorder.IncAuditOutcome(metrics.ResultSuccess)
	} else {
		// Discrepancies are warnings: a release legitimately in progress
		// looks exactly like one that was forgotten.
		r.recorder.IncAuditOutcome(metrics.ResultWarning)
	}

	r.logger.Info("audit completed",
		logfields.RunID(res.RunID),
		logfields.Count(len(res.Discrepancies)),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))

	return res, nil
}

func (r *Runner) loadDesired() *state.DesiredState {
	desired, err := state.LoadDesired(r.statePath)
	if err == nil {
		return desired
	}
	if errors.IsCategory(err, errors.CategoryConfig) {
		r.logger.Debug("desired state not present yet", logfields.Path(r.statePath))
	} else {
		r.logger.Warn("desired state unreadable, auditing against empty matrix",
			logfields.Path(r.statePath), logfields.Error(err))
	}
	return state.EmptyDesired()
}
