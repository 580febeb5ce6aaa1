// Command dbdepot audits and repairs prebuilt database-server releases.
//
// The desired release matrix (databases.json + per-database source
// registries) lives in a state directory, optionally synced from a git
// remote before every run. Published releases live on a GitHub-compatible
// forge. The subcommands diff the two (audit), download and verify
// artifacts (fetch), rebuild checksum manifests (repair), emit package
// descriptors (packages), and run all of it continuously (daemon).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/dbdepot/internal/archive"
	"git.home.luguber.info/inful/dbdepot/internal/audit"
	"git.home.luguber.info/inful/dbdepot/internal/config"
	"git.home.luguber.info/inful/dbdepot/internal/daemon"
	"git.home.luguber.info/inful/dbdepot/internal/download"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/events"
	"git.home.luguber.info/inful/dbdepot/internal/eventstore"
	"git.home.luguber.info/inful/dbdepot/internal/gitsync"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
	"git.home.luguber.info/inful/dbdepot/internal/pkgdesc"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
	"git.home.luguber.info/inful/dbdepot/internal/release"
	"git.home.luguber.info/inful/dbdepot/internal/repair"
	"git.home.luguber.info/inful/dbdepot/internal/retry"
	"git.home.luguber.info/inful/dbdepot/internal/state"
	"git.home.luguber.info/inful/dbdepot/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"dbdepot.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Audit struct {
		Format string `short:"f" enum:"text,markdown,json" default:"text" help:"Report format (text, markdown or json)"`
		Output string `short:"o" help:"Write the report to a file instead of stdout"`
	} `cmd:"" help:"Compare the desired release matrix against the published releases"`

	Fetch struct {
		Database string `arg:"" help:"Database identifier from the source registry"`
		Version  string `arg:"" help:"Version to fetch"`
		Platform string `short:"p" help:"Platform identifier (defaults to the host platform)"`
		Output   string `short:"o" help:"Extract the verified archive into this directory"`
		Strip    int    `default:"1" help:"Leading path components to strip during extraction"`
	} `cmd:"" help:"Download and verify one artifact into the cache"`

	Repair struct {
		Tag string `arg:"" optional:"" help:"Repair a single release tag instead of sweeping all releases"`
	} `cmd:"" help:"Rebuild checksum manifests for published releases"`

	Packages struct {
		Database string `arg:"" help:"Database identifier from the source registry"`
		Version  string `arg:"" help:"Released version to describe"`
		Output   string `short:"o" help:"Descriptor output directory (overrides packages.out_dir)"`
	} `cmd:"" help:"Generate package descriptors for a published release"`

	History struct {
		Limit int    `short:"n" default:"20" help:"Maximum number of runs to list"`
		Kind  string `short:"k" enum:",audit,repair" default:"" help:"Only list runs of this kind"`
	} `cmd:"" help:"List recorded runs from the daemon history database"`

	Daemon struct{} `cmd:"" help:"Run continuously: scheduled audits, state watching and HTTP endpoints"`

	Init struct {
		Force bool `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write an example configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	// Logs go to stderr: stdout carries reports and cache paths.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(runCtx, ctx.Command(), logger); err != nil {
		cancel()
		errors.NewCLIErrorAdapter(CLI.Verbose, logger).HandleError(err)
	}
}

// run dispatches one parsed command. init and version work without a
// configuration file; everything else loads it first.
func run(ctx context.Context, command string, logger *slog.Logger) error {
	switch command {
	case "init":
		return runInit(logger)
	case "version":
		return runVersion(os.Stdout)
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	switch command {
	case "audit":
		return runAudit(ctx, cfg, logger)
	case "fetch <database> <version>":
		return runFetch(ctx, cfg, logger)
	case "repair", "repair <tag>":
		return runRepair(ctx, cfg, logger)
	case "packages <database> <version>":
		return runPackages(ctx, cfg, logger)
	case "history":
		return runHistory(ctx, cfg, os.Stdout)
	case "daemon":
		return runDaemon(ctx, cfg, logger)
	default:
		return errors.New(errors.CategoryInternal, errors.SeverityError,
			fmt.Sprintf("unhandled command %q", command))
	}
}

func runAudit(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := syncState(ctx, cfg, logger); err != nil {
		return err
	}
	client, err := newReleaseClient(cfg, logger)
	if err != nil {
		return err
	}

	runner := audit.NewRunner(cfg.DesiredPath(), client).WithLogger(logger)
	retryer := retry.New(retry.FromConfig(cfg)).WithLogger(logger)

	var res *audit.Result
	if err := retryer.Do(ctx, "audit", func() error {
		var runErr error
		res, runErr = runner.Run(ctx)
		return runErr
	}); err != nil {
		return err
	}

	var out []byte
	switch CLI.Audit.Format {
	case "markdown":
		out = []byte(audit.RenderMarkdown(res))
	case "json":
		out, err = audit.EncodeJSON(res)
		if err != nil {
			return err
		}
	default:
		out = []byte(audit.RenderText(res))
	}
	return emitReport(out, CLI.Audit.Output)
}

func runFetch(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := syncState(ctx, cfg, logger); err != nil {
		return err
	}

	p, err := resolvePlatform(CLI.Fetch.Platform)
	if err != nil {
		return err
	}

	registry, err := state.LoadRegistry(cfg.SourcesDir(), CLI.Fetch.Database)
	if err != nil {
		return err
	}
	entry, ok := registry.Entry(CLI.Fetch.Version, p)
	if !ok {
		return errors.New(errors.CategoryConfig, errors.SeverityError, "no source declared").
			WithContext("database", CLI.Fetch.Database).
			WithContext("version", CLI.Fetch.Version).
			WithContext("platform", string(p))
	}
	if entry.IsBuild() {
		logger.Info("source is built from source, nothing to fetch",
			logfields.Database(CLI.Fetch.Database),
			logfields.Version(CLI.Fetch.Version),
			logfields.Platform(string(p)))
		return nil
	}

	acquirer, err := download.NewAcquirer(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	acquirer.WithLogger(logger)

	retryer := retry.New(retry.FromConfig(cfg)).WithLogger(logger)
	var archivePath string
	if err := retryer.Do(ctx, "fetch", func() error {
		var acqErr error
		archivePath, acqErr = acquirer.Acquire(ctx, download.Request{
			Database: CLI.Fetch.Database,
			Version:  CLI.Fetch.Version,
			Platform: p,
			URL:      entry.URL,
			Expected: entry.Digest,
		})
		return acqErr
	}); err != nil {
		return err
	}

	if CLI.Fetch.Output == "" {
		fmt.Println(archivePath)
		return nil
	}

	if err := archive.Extract(archivePath, CLI.Fetch.Output, CLI.Fetch.Strip); err != nil {
		return err
	}
	if err := archive.MarkExecutable(CLI.Fetch.Output, registry.Binaries, p); err != nil {
		return err
	}
	logger.Info("artifact extracted",
		logfields.Database(CLI.Fetch.Database),
		logfields.Version(CLI.Fetch.Version),
		logfields.Platform(string(p)),
		logfields.Path(CLI.Fetch.Output))
	return nil
}

func runRepair(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := newReleaseClient(cfg, logger)
	if err != nil {
		return err
	}
	engine := repair.NewEngine(client).WithLogger(logger)
	retryer := retry.New(retry.FromConfig(cfg)).WithLogger(logger)

	if CLI.Repair.Tag == "" {
		return retryer.Do(ctx, "repair", func() error {
			_, sweepErr := engine.RepairAll(ctx)
			return sweepErr
		})
	}

	var res repair.Result
	if err := retryer.Do(ctx, "repair", func() error {
		var repErr error
		res, repErr = repairTag(ctx, client, engine, CLI.Repair.Tag)
		return repErr
	}); err != nil {
		return err
	}
	logger.Info("release repaired",
		logfields.ReleaseTag(res.Tag),
		slog.Bool("published", res.Published),
		slog.Int("added", len(res.Added)),
		slog.Int("skipped", len(res.Skipped)))
	return nil
}

// repairTag repairs the one release carrying tag. Draft releases are
// refused: their asset set is still changing, same as the sweep's rule.
func repairTag(ctx context.Context, lister audit.Lister, engine *repair.Engine, tag string) (repair.Result, error) {
	releases, err := lister.ListReleases(ctx)
	if err != nil {
		return repair.Result{}, err
	}
	for i := range releases {
		rel := releases[i]
		if rel.Tag != tag {
			continue
		}
		if rel.Draft {
			return repair.Result{}, errors.New(errors.CategoryConfig, errors.SeverityError,
				"release is still a draft").WithContext("tag", tag)
		}
		return engine.RepairRelease(ctx, rel)
	}
	return repair.Result{}, errors.New(errors.CategoryConfig, errors.SeverityError,
		"release tag not found").WithContext("tag", tag)
}

func runPackages(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := syncState(ctx, cfg, logger); err != nil {
		return err
	}
	registry, err := state.LoadRegistry(cfg.SourcesDir(), CLI.Packages.Database)
	if err != nil {
		return err
	}
	client, err := newReleaseClient(cfg, logger)
	if err != nil {
		return err
	}

	gen := pkgdesc.NewGenerator(client, cfg.Packages.Scope).WithLogger(logger)
	retryer := retry.New(retry.FromConfig(cfg)).WithLogger(logger)

	var res *pkgdesc.Result
	if err := retryer.Do(ctx, "packages", func() error {
		var genErr error
		res, genErr = gen.Generate(ctx, pkgdesc.Request{
			Database: CLI.Packages.Database,
			Version:  CLI.Packages.Version,
			Binaries: registry.Binaries,
			OutDir:   descriptorOutDir(CLI.Packages.Output, cfg),
		})
		return genErr
	}); err != nil {
		return err
	}

	logger.Info("package descriptors written",
		logfields.Database(CLI.Packages.Database),
		logfields.Version(CLI.Packages.Version),
		logfields.Count(len(res.Files)),
		logfields.Path(res.Index))
	return nil
}

func runHistory(ctx context.Context, cfg *config.Config, w io.Writer) error {
	if cfg.Daemon == nil || cfg.Daemon.HistoryDB == "" {
		return errors.ConfigRequired("daemon.history_db")
	}
	store, err := eventstore.NewSQLiteStore(cfg.Daemon.HistoryDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var runs []eventstore.Run
	if CLI.History.Kind != "" {
		runs, err = store.RunsByKind(ctx, CLI.History.Kind, CLI.History.Limit)
	} else {
		runs, err = store.RecentRuns(ctx, CLI.History.Limit)
	}
	if err != nil {
		return err
	}
	return printRuns(w, runs)
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := newReleaseClient(cfg, logger)
	if err != nil {
		return err
	}

	d := daemon.New(cfg, client).WithLogger(logger)

	if cfg.Daemon != nil && cfg.Daemon.HistoryDB != "" {
		store, err := eventstore.NewSQLiteStore(cfg.Daemon.HistoryDB)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		d.WithStore(store)
	}
	if cfg.Daemon != nil && cfg.Daemon.NATS != nil {
		pub, err := events.Connect(cfg.Daemon.NATS.URL, cfg.Daemon.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer pub.Close()
		d.WithPublisher(pub.WithLogger(logger))
	}
	if cfg.State.Git != nil {
		d.WithSyncer(gitsync.NewClient(cfg.State.Dir, *cfg.State.Git).
			WithToken(cfg.GitToken()).
			WithLogger(logger))
	}

	if err := d.Start(ctx); err != nil {
		return err
	}
	logger.Info("daemon started, waiting for shutdown signal", slog.String("listen", d.Addr()))

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping daemon")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return d.Stop(stopCtx)
}

func runInit(logger *slog.Logger) error {
	if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
		return err
	}
	logger.Info("configuration written", logfields.Path(CLI.Config))
	return nil
}

func runVersion(w io.Writer) error {
	_, err := fmt.Fprintf(w, "dbdepot %s (commit %s, built %s)\n",
		version.Version, version.GitCommit, version.BuildTime)
	return err
}

// syncState pulls the state repository when one is configured. CLI runs
// fail hard on sync errors; only the daemon degrades to a stale checkout.
func syncState(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.State.Git == nil {
		return nil
	}
	syncer := gitsync.NewClient(cfg.State.Dir, *cfg.State.Git).
		WithToken(cfg.GitToken()).
		WithLogger(logger)
	commit, err := syncer.Sync(ctx)
	if err != nil {
		return err
	}
	logger.Info("state repository synced", slog.String("commit", commit))
	return nil
}

func newReleaseClient(cfg *config.Config, logger *slog.Logger) (*release.Client, error) {
	return release.NewClient(release.Config{
		APIURL:    cfg.Release.APIURL,
		UploadURL: cfg.Release.UploadURL,
		Owner:     cfg.Release.Owner,
		Repo:      cfg.Release.Repo,
		Token:     cfg.Token(),
		PerPage:   cfg.Release.PerPage,
		Logger:    logger,
	})
}

// resolvePlatform turns the --platform flag into a validated identifier,
// falling back to the host platform when the flag is empty.
func resolvePlatform(explicit string) (platform.ID, error) {
	if explicit != "" {
		return platform.Static(explicit).Detect()
	}
	return platform.NewDetector().Detect()
}

// descriptorOutDir resolves the descriptor output directory: flag, then
// config, then ./packages.
func descriptorOutDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.Packages.OutDir != "" {
		return cfg.Packages.OutDir
	}
	return "./packages"
}

// emitReport writes a report to path, or stdout when path is empty. A
// missing trailing newline is added so shell prompts stay on their own line.
func emitReport(out []byte, path string) error {
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	if path == "" {
		_, err := os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "writing report").
			WithContext("path", path)
	}
	return nil
}

// printRuns renders run history as an aligned table, newest first.
func printRuns(w io.Writer, runs []eventstore.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tRESULT\tSTARTED\tDURATION\tSUMMARY")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(run.ID),
			run.Kind,
			run.Result,
			humanize.Time(run.StartedAt),
			run.Duration().Round(time.Millisecond),
			run.Summary)
	}
	return tw.Flush()
}

// shortID abbreviates a run UUID to its first block for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
