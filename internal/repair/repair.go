// Package repair completes the checksum manifests attached to published
// releases. A manifest is complete when it records a SHA-256 digest for
// every binary asset of its release; repair computes the missing digests
// by streaming the assets, merges them additively into whatever the
// manifest already holds, and republishes the result.
package repair

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/dbdepot/internal/checksum"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
	"git.home.luguber.info/inful/dbdepot/internal/metrics"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
	"git.home.luguber.info/inful/dbdepot/internal/release"
)

// Forge is the release-API surface the engine consumes. *release.Client
// implements it; tests substitute a fake.
type Forge interface {
	ListReleases(ctx context.Context) ([]release.Release, error)
	DownloadAsset(ctx context.Context, assetURL string) (io.ReadCloser, int64, error)
	DeleteAsset(ctx context.Context, assetID int64) error
	UploadAsset(ctx context.Context, releaseID int64, name, contentType string, body io.Reader, size int64) (release.Asset, error)
}

var _ Forge = (*release.Client)(nil)

// Result describes one release's repair outcome.
type Result struct {
	Tag string
	// Complete reports that the manifest covers every binary asset after
	// this run. True for the idempotent no-op as well as a full repair.
	Complete bool
	// Added lists assets whose digests were computed this run.
	Added []string
	// Skipped lists assets whose digest computation failed; they stay
	// missing and are picked up again on the next run.
	Skipped []string
	// Published reports that a new manifest asset was uploaded.
	Published bool
}

// Engine repairs checksum manifests release by release.
type Engine struct {
	forge    Forge
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewEngine creates a repair engine over a release API.
func NewEngine(forge Forge) *Engine {
	return &Engine{
		forge:    forge,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
}

// WithLogger sets the logger used for repair progress.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithRecorder sets the metrics recorder.
func (e *Engine) WithRecorder(r metrics.Recorder) *Engine {
	if r != nil {
		e.recorder = r
	}
	return e
}

// RepairAll sweeps every listed release. A failure repairing one release
// is logged and never blocks the rest; only context cancellation stops
// the sweep early. Draft releases are skipped: their asset set is still
// in flux and they are invisible to consumers.
func (e *Engine) RepairAll(ctx context.Context) ([]Result, error) {
	releases, err := e.forge.ListReleases(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(releases))
	published := 0
	failed := 0
	for i := range releases {
		rel := releases[i]
		if rel.Draft {
			e.logger.Debug("skipping draft release", logfields.ReleaseTag(rel.Tag))
			continue
		}

		res, err := e.RepairRelease(ctx, rel)
		if err != nil {
			if ctx.Err() != nil {
				return results, err
			}
			failed++
			e.logger.Error("release repair failed", logfields.ReleaseTag(rel.Tag), logfields.Error(err))
		}
		if res.Published {
			published++
		}
		results = append(results, res)
	}

	e.logger.Info("repair sweep finished",
		logfields.Count(len(results)),
		slog.Int("published", published),
		slog.Int("failed", failed))
	return results, nil
}

// RepairRelease brings one release's checksum manifest up to date.
func (e *Engine) RepairRelease(ctx context.Context, rel release.Release) (Result, error) {
	start := time.Now()
	res, err := e.repair(ctx, rel)
	e.recorder.ObserveRepairDuration(rel.Tag, time.Since(start), err == nil)
	e.recorder.IncRepairResult(err == nil)
	return res, err
}

func (e *Engine) repair(ctx context.Context, rel release.Release) (Result, error) {
	res := Result{Tag: rel.Tag}
	logger := e.logger.With(logfields.ReleaseTag(rel.Tag))

	// Binary assets carry their platform in the filename; the manifest
	// and its legacy misnamed variant never count as binaries.
	var binaries []release.Asset
	for _, a := range rel.Assets {
		if a.Name == checksum.ManifestName || a.Name == checksum.LegacyManifestName {
			continue
		}
		if _, ok := platform.FindIn(a.Name); !ok {
			continue
		}
		binaries = append(binaries, a)
	}

	manifestAsset, hasManifest := rel.Asset(checksum.ManifestName)
	legacyAsset, hasLegacy := rel.Asset(checksum.LegacyManifestName)

	existing := checksum.NewManifest()
	if hasManifest {
		m, err := e.fetchManifest(ctx, manifestAsset)
		if err != nil {
			logger.Warn("existing manifest unreadable, repairing from scratch", logfields.Error(err))
		} else {
			existing = m
		}
	}

	var missing []release.Asset
	for _, a := range binaries {
		if !existing.Has(a.Name) {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		res.Complete = true
		logger.Debug("manifest already complete", logfields.Count(existing.Len()))
		return res, nil
	}

	// Existing entries survive verbatim; repair only ever adds.
	merged := checksum.NewManifest()
	for _, name := range existing.Names() {
		sum, _ := existing.Get(name)
		merged.Set(name, sum)
	}

	for _, a := range missing {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sum, err := e.hashAsset(ctx, a)
		if err != nil {
			logger.Warn("asset digest failed, entry stays missing",
				logfields.Asset(a.Name), logfields.Error(err))
			res.Skipped = append(res.Skipped, a.Name)
			continue
		}
		merged.Set(a.Name, sum)
		res.Added = append(res.Added, a.Name)
	}

	if len(res.Added) == 0 {
		logger.Warn("no digests computed, keeping previous manifest",
			logfields.Count(len(res.Skipped)))
		return res, nil
	}
	res.Complete = len(res.Skipped) == 0

	// The forge rejects duplicate asset names, so the old manifest (and
	// any legacy variant) goes first. Deleting a nonexistent asset is
	// success by client contract. An upload failure after the deletes
	// leaves the release manifest-less until the next run recomputes it
	// from scratch.
	if hasManifest {
		if err := e.forge.DeleteAsset(ctx, manifestAsset.ID); err != nil {
			return res, err
		}
	}
	if hasLegacy {
		if err := e.forge.DeleteAsset(ctx, legacyAsset.ID); err != nil {
			return res, err
		}
	}

	payload := merged.Serialize()
	if _, err := e.forge.UploadAsset(ctx, rel.ID, checksum.ManifestName, "text/plain",
		bytes.NewReader(payload), int64(len(payload))); err != nil {
		return res, err
	}
	res.Published = true

	logger.Info("manifest published",
		slog.Int("added", len(res.Added)),
		slog.Int("skipped", len(res.Skipped)),
		logfields.Count(merged.Len()))
	return res, nil
}

func (e *Engine) fetchManifest(ctx context.Context, a release.Asset) (*checksum.Manifest, error) {
	body, _, err := e.forge.DownloadAsset(ctx, assetURL(a))
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	return checksum.ParseManifest(body)
}

// hashAsset streams one asset through SHA-256. Memory stays constant no
// matter the asset size.
func (e *Engine) hashAsset(ctx context.Context, a release.Asset) (string, error) {
	body, _, err := e.forge.DownloadAsset(ctx, assetURL(a))
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()
	return checksum.HashReader(checksum.SHA256, body)
}

// assetURL prefers the API endpoint, which authenticates on private
// repositories; public listings may only carry the browser URL.
func assetURL(a release.Asset) string {
	if a.APIURL != "" {
		return a.APIURL
	}
	return a.DownloadURL
}
