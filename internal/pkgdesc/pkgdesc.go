// Package pkgdesc generates the per-platform package descriptors that
// installer tooling consumes: one JSON descriptor per released platform
// plus an index descriptor per (database, version). Digests come from the
// release's checksum manifest, never recomputed here.
package pkgdesc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/dbdepot/internal/checksum"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
	"git.home.luguber.info/inful/dbdepot/internal/release"
	"git.home.luguber.info/inful/dbdepot/internal/state"
)

// DefaultScope prefixes descriptor package names.
const DefaultScope = "@dbdepot"

// ReleaseSource is the release-API surface descriptor generation consumes.
type ReleaseSource interface {
	ListReleases(ctx context.Context) ([]release.Release, error)
	DownloadAsset(ctx context.Context, assetURL string) (io.ReadCloser, int64, error)
}

var _ ReleaseSource = (*release.Client)(nil)

// Request names one (database, version) to describe. Binaries is the
// registry's ordered logical-name → path mapping; it is embedded verbatim
// in every platform descriptor.
type Request struct {
	Database string
	Version  string
	Binaries []state.BinarySpec
	OutDir   string
}

// Result lists what was written.
type Result struct {
	// Index is the path of the index descriptor.
	Index string
	// Files holds the per-platform descriptor paths in canonical
	// platform order.
	Files []string
	// Platforms had descriptors written.
	Platforms []platform.ID
	// Skipped platforms ship a binary asset the manifest has no digest
	// for; repair closes that gap on its next run.
	Skipped []platform.ID
}

// Generator writes package descriptors for published releases.
type Generator struct {
	source ReleaseSource
	scope  string
	logger *slog.Logger
}

// NewGenerator creates a descriptor generator. An empty scope falls back
// to DefaultScope.
func NewGenerator(source ReleaseSource, scope string) *Generator {
	if scope == "" {
		scope = DefaultScope
	}
	return &Generator{
		source: source,
		scope:  scope,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (g *Generator) WithLogger(logger *slog.Logger) *Generator {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Generate writes one descriptor per released platform plus the index.
// Platforms whose asset has no manifest digest are skipped with a warning;
// at least one platform must make it through.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Database == "" || req.Version == "" {
		return nil, errors.ConfigRequired("database/version")
	}

	tag := release.MakeTag(req.Database, req.Version)
	releases, err := g.source.ListReleases(ctx)
	if err != nil {
		return nil, err
	}
	var rel *release.Release
	for i := range releases {
		if releases[i].Tag == tag && !releases[i].Draft {
			rel = &releases[i]
			break
		}
	}
	if rel == nil {
		return nil, errors.New(errors.CategoryConfig, errors.SeverityError, "release not published").
			WithContext("tag", tag)
	}

	manifestAsset, ok := rel.Asset(checksum.ManifestName)
	if !ok {
		return nil, errors.New(errors.CategoryChecksum, errors.SeverityError,
			"release has no checksum manifest; repair it first").
			WithContext("tag", tag)
	}
	manifest, err := g.fetchManifest(ctx, manifestAsset)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(req.OutDir, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "creating descriptor directory")
	}

	binaries := req.Binaries
	if binaries == nil {
		binaries = []state.BinarySpec{}
	}

	res := &Result{}
	indexPackages := make(map[string]any)
	for _, p := range platform.All() {
		asset, ok := platformAsset(rel, p)
		if !ok {
			continue
		}
		sum, ok := manifest.Get(asset.Name)
		if !ok {
			g.logger.Warn("asset missing from manifest, descriptor skipped",
				logfields.ReleaseTag(tag), logfields.Asset(asset.Name))
			res.Skipped = append(res.Skipped, p)
			continue
		}

		name := g.scope + "/" + req.Database + "-" + string(p)
		desc := map[string]any{
			"name":     name,
			"version":  req.Version,
			"os":       p.OS(),
			"cpu":      p.CPU(),
			"url":      asset.DownloadURL,
			"sha256":   sum,
			"binaries": binaries,
		}
		path := filepath.Join(req.OutDir, fmt.Sprintf("%s-%s-%s.json", req.Database, req.Version, p))
		if err := writeJSON(path, desc); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, path)
		res.Platforms = append(res.Platforms, p)
		indexPackages[string(p)] = map[string]any{
			"name":   name,
			"url":    asset.DownloadURL,
			"sha256": sum,
		}
	}

	if len(res.Platforms) == 0 {
		return nil, errors.New(errors.CategoryChecksum, errors.SeverityError,
			"no platform descriptor could be generated").
			WithContext("tag", tag)
	}

	index := map[string]any{
		"name":     g.scope + "/" + req.Database,
		"version":  req.Version,
		"packages": indexPackages,
	}
	res.Index = filepath.Join(req.OutDir, fmt.Sprintf("%s-%s.json", req.Database, req.Version))
	if err := writeJSON(res.Index, index); err != nil {
		return nil, err
	}

	g.logger.Info("package descriptors written",
		logfields.Database(req.Database),
		logfields.Version(req.Version),
		logfields.Count(len(res.Files)))
	return res, nil
}

func (g *Generator) fetchManifest(ctx context.Context, a release.Asset) (*checksum.Manifest, error) {
	url := a.APIURL
	if url == "" {
		url = a.DownloadURL
	}
	body, _, err := g.source.DownloadAsset(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	m, err := checksum.ParseManifest(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryParse, errors.SeverityError, "parsing checksum manifest").
			WithContext("asset", a.Name)
	}
	return m, nil
}

// platformAsset returns the first binary asset carrying p in its name.
func platformAsset(rel *release.Release, p platform.ID) (release.Asset, bool) {
	for _, a := range rel.Assets {
		if a.Name == checksum.ManifestName || a.Name == checksum.LegacyManifestName {
			continue
		}
		if found, ok := platform.FindIn(a.Name); ok && found == p {
			return a, true
		}
	}
	return release.Asset{}, false
}

// writeJSON emits canonical bytes: MarshalIndent sorts map keys, so the
// same descriptor always serializes identically; trailing newline.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "encoding descriptor")
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "writing descriptor").
			WithContext("path", path)
	}
	return nil
}
