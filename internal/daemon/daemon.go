// Package daemon runs dbdepot continuously. A scheduler fires an audit
// (and, when configured, a manifest repair sweep) at a fixed interval, a
// filesystem watcher triggers an immediate audit when the state directory
// changes, and a small HTTP server exposes metrics, health and the latest
// report. Runs execute sequentially on a single worker; a trigger arriving
// mid-run queues exactly one follow-up.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/dbdepot/internal/audit"
	"git.home.luguber.info/inful/dbdepot/internal/config"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/events"
	"git.home.luguber.info/inful/dbdepot/internal/eventstore"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
	"git.home.luguber.info/inful/dbdepot/internal/metrics"
	"git.home.luguber.info/inful/dbdepot/internal/repair"
)

// Status represents the daemon lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Forge is the release API surface daemon runs consume: listing for
// audits, full asset access for repair sweeps. *release.Client implements
// it; tests substitute a fake.
type Forge = repair.Forge

// Syncer refreshes the state directory before a run and returns the
// checked-out commit. *gitsync.Client implements it.
type Syncer interface {
	Sync(ctx context.Context) (string, error)
}

// Daemon owns the scheduler, the state watcher, the HTTP server and the
// single run worker.
type Daemon struct {
	cfg            *config.Config
	forge          Forge
	logger         *slog.Logger
	recorder       metrics.Recorder
	metricsHandler http.Handler
	markdown       goldmark.Markdown

	store     eventstore.Store
	publisher events.Publisher
	syncer    Syncer

	runner   *audit.Runner
	repairer *repair.Engine

	status    atomic.Value // Status
	startTime time.Time

	// mu guards the last-run snapshot served by the HTTP handlers.
	mu          sync.RWMutex
	lastResult  *audit.Result
	lastErr     error
	stateCommit string

	runCh      chan string
	scheduler  gocron.Scheduler
	watcher    *stateWatcher
	httpServer *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a daemon over a loaded configuration and a forge client.
// History recording, event publishing and state sync are off until
// injected; metrics are registered on a fresh Prometheus registry served
// at /metrics.
func New(cfg *config.Config, forge Forge) *Daemon {
	reg := prom.NewRegistry()
	d := &Daemon{
		cfg:            cfg,
		forge:          forge,
		logger:         slog.Default(),
		recorder:       metrics.NewPrometheusRecorder(reg),
		metricsHandler: metrics.HTTPHandler(reg),
		markdown:       goldmark.New(goldmark.WithExtensions(extension.Table)),
		publisher:      events.NoopPublisher{},
		runCh:          make(chan string, 1),
	}
	d.status.Store(StatusStopped)
	return d
}

// WithLogger replaces the default logger.
func (d *Daemon) WithLogger(logger *slog.Logger) *Daemon {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// WithStore enables run-history recording.
func (d *Daemon) WithStore(store eventstore.Store) *Daemon {
	if store != nil {
		d.store = store
	}
	return d
}

// WithPublisher enables run-event publishing.
func (d *Daemon) WithPublisher(pub events.Publisher) *Daemon {
	if pub != nil {
		d.publisher = pub
	}
	return d
}

// WithSyncer enables state-repository sync before each run.
func (d *Daemon) WithSyncer(s Syncer) *Daemon {
	if s != nil {
		d.syncer = s
	}
	return d
}

// GetStatus returns the current lifecycle state.
func (d *Daemon) GetStatus() Status {
	return d.status.Load().(Status)
}

// Addr returns the bound listen address once Start has succeeded. Useful
// when the configured address carries port 0.
func (d *Daemon) Addr() string {
	if d.httpServer == nil {
		return ""
	}
	return d.httpServer.Addr
}

// Start brings up the HTTP server, the scheduler, the state watcher and
// the run worker, then queues the initial audit. It does not block; Stop
// tears everything down.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cfg.Daemon == nil {
		return errors.ConfigRequired("daemon")
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	d.runner = audit.NewRunner(d.cfg.DesiredPath(), d.forge).
		WithLogger(d.logger).
		WithRecorder(d.recorder)
	d.repairer = repair.NewEngine(d.forge).
		WithLogger(d.logger).
		WithRecorder(d.recorder)

	// Bind before starting anything else so a taken port fails fast
	// instead of surfacing from a goroutine after partial startup.
	ln, err := net.Listen("tcp", d.cfg.Daemon.Listen)
	if err != nil {
		d.status.Store(StatusStopped)
		return errors.Wrap(err, errors.CategoryNetwork, errors.SeverityFatal, "binding daemon listen address").
			WithContext("addr", d.cfg.Daemon.Listen)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.httpServer = &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      d.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Error("daemon http server failed", logfields.Error(err))
		}
	}()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		d.shutdownPartial(ctx)
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal, "creating scheduler")
	}
	d.scheduler = scheduler
	if _, err := scheduler.NewJob(
		gocron.DurationJob(d.cfg.DaemonInterval()),
		gocron.NewTask(func() { d.Trigger("schedule") }),
		gocron.WithName("audit"),
	); err != nil {
		d.shutdownPartial(ctx)
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal, "scheduling periodic audit")
	}
	scheduler.Start()

	watcher, err := newStateWatcher(d.cfg.State.Dir, d.Trigger, d.logger)
	if err != nil {
		// The state directory may not exist until the first git sync; the
		// scheduler still drives runs, so a watcher failure is not fatal.
		d.logger.Warn("state watcher disabled", logfields.Path(d.cfg.State.Dir), logfields.Error(err))
	} else {
		d.watcher = watcher
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			watcher.run(runCtx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runLoop(runCtx)
	}()

	d.status.Store(StatusRunning)
	d.logger.Info("daemon started",
		slog.String("addr", d.httpServer.Addr),
		slog.Duration("interval", d.cfg.DaemonInterval()),
		slog.Bool("repair", d.cfg.Daemon.Repair))

	d.Trigger("startup")
	return nil
}

// Stop shuts the daemon down: no new triggers, in-flight runs cancelled,
// HTTP connections drained within ctx.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)

	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			d.logger.Error("scheduler shutdown failed", logfields.Error(err))
		}
	}
	if d.watcher != nil {
		d.watcher.close()
	}
	if d.cancel != nil {
		d.cancel()
	}

	var err error
	if d.httpServer != nil {
		err = d.httpServer.Shutdown(ctx)
	}
	d.wg.Wait()

	d.status.Store(StatusStopped)
	d.logger.Info("daemon stopped")
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "daemon http shutdown")
	}
	return nil
}

// shutdownPartial unwinds a failed Start.
func (d *Daemon) shutdownPartial(ctx context.Context) {
	if d.cancel != nil {
		d.cancel()
	}
	if d.httpServer != nil {
		_ = d.httpServer.Shutdown(ctx)
	}
	d.wg.Wait()
	d.status.Store(StatusStopped)
}

// Trigger queues a run. When a run is in flight and a follow-up is
// already queued, further triggers coalesce into it.
func (d *Daemon) Trigger(reason string) {
	select {
	case d.runCh <- reason:
	default:
	}
}

// runLoop is the single worker: one run at a time, in trigger order.
func (d *Daemon) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-d.runCh:
			d.runOnce(ctx, reason)
		}
	}
}

// runOnce executes one full cycle: sync state, audit, record, publish,
// then the optional repair sweep. Failures are recorded and logged; only
// context cancellation aborts the cycle.
func (d *Daemon) runOnce(ctx context.Context, reason string) {
	d.logger.Info("run triggered", slog.String("reason", reason))

	commit := d.syncState(ctx)

	started := time.Now()
	res, err := d.runner.Run(ctx)

	d.mu.Lock()
	d.lastResult = res
	d.lastErr = err
	d.stateCommit = commit
	d.mu.Unlock()

	d.recordAudit(ctx, commit, started, res, err)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// The next trigger retries; coarse-grained by design of the
		// single-worker model.
		return
	}

	if d.cfg.Daemon.Repair {
		d.runRepair(ctx, commit)
	}
}

// syncState pulls the state repository when configured. A sync failure
// falls back to the previous checkout: an audit against slightly stale
// desired state beats no audit at all.
func (d *Daemon) syncState(ctx context.Context) string {
	if d.syncer == nil {
		return ""
	}
	commit, err := d.syncer.Sync(ctx)
	if err != nil {
		d.logger.Warn("state sync failed, using previous checkout", logfields.Error(err))
		return ""
	}
	return commit
}

func (d *Daemon) recordAudit(ctx context.Context, commit string, started time.Time, res *audit.Result, err error) {
	run := eventstore.Run{
		Kind:        eventstore.KindAudit,
		StateCommit: commit,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}

	var counts map[string]int
	switch {
	case err != nil:
		run.ID = newRunID()
		run.Result = resultLabel(ctx, err, false)
		run.Summary = err.Error()
	default:
		run.ID = res.RunID
		run.Result = resultLabel(ctx, nil, res.Clean())
		run.Summary = auditSummary(res)
		if detail, jerr := audit.EncodeJSON(res); jerr == nil {
			run.Detail = detail
		}
		counts = make(map[string]int, 6)
		for kind, n := range res.Counts() {
			counts[string(kind)] = n
		}
	}

	d.persist(ctx, run)
	d.publish(ctx, events.RunEvent{
		RunID:         run.ID,
		Kind:          run.Kind,
		Result:        run.Result,
		Summary:       run.Summary,
		StateCommit:   commit,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Discrepancies: counts,
	})
}

func (d *Daemon) runRepair(ctx context.Context, commit string) {
	started := time.Now()
	results, err := d.repairer.RepairAll(ctx)

	published, incomplete := 0, 0
	for _, r := range results {
		if r.Published {
			published++
		}
		if !r.Complete {
			incomplete++
		}
	}

	run := eventstore.Run{
		ID:          newRunID(),
		Kind:        eventstore.KindRepair,
		StateCommit: commit,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Result:      resultLabel(ctx, err, incomplete == 0),
		Summary:     repairSummary(published, incomplete, err),
	}
	if err == nil {
		if detail, jerr := encodeRepairResults(results); jerr == nil {
			run.Detail = detail
		}
	}

	d.persist(ctx, run)
	d.publish(ctx, events.RunEvent{
		RunID:       run.ID,
		Kind:        run.Kind,
		Result:      run.Result,
		Summary:     run.Summary,
		StateCommit: commit,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Published:   published,
		Failed:      incomplete,
	})
}

// persist writes a run record. History is an observability aid: failures
// are logged, never fatal to the run.
func (d *Daemon) persist(ctx context.Context, run eventstore.Run) {
	if d.store == nil {
		return
	}
	if err := d.store.RecordRun(ctx, run); err != nil {
		d.logger.Error("recording run history failed", logfields.RunID(run.ID), logfields.Error(err))
	}
}

// publish sends the run event. Same contract as persist: advisory only.
func (d *Daemon) publish(ctx context.Context, evt events.RunEvent) {
	if err := d.publisher.PublishRun(ctx, evt); err != nil {
		d.logger.Warn("publishing run event failed", logfields.RunID(evt.RunID), logfields.Error(err))
	}
}

func resultLabel(ctx context.Context, err error, clean bool) string {
	switch {
	case err != nil && ctx.Err() != nil:
		return string(metrics.ResultCanceled)
	case err != nil:
		return string(metrics.ResultFailed)
	case clean:
		return string(metrics.ResultSuccess)
	default:
		return string(metrics.ResultWarning)
	}
}
