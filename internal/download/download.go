// Package download is the content-integrity pipeline: it streams release
// archives into a content-keyed local cache while computing a rolling
// digest, and never lets a partial or unverified file reach the canonical
// cache path.
package download

import (
	"context"
	"encoding/hex"
	stdErrors "errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/dbdepot/internal/checksum"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
	"git.home.luguber.info/inful/dbdepot/internal/metrics"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
)

// ProgressFunc receives streaming progress after every chunk. total is the
// advertised content length, -1 when the remote does not send one.
type ProgressFunc func(done, total int64)

// Request identifies one artifact acquisition.
type Request struct {
	Database string
	Version  string
	Platform platform.ID
	URL      string
	// Expected, when non-zero, is verified against the streamed bytes
	// before the file reaches its canonical path.
	Expected checksum.Digest
	Progress ProgressFunc
}

// Acquirer downloads release archives into the cache. One Acquirer is safe
// to reuse; the cache root is resolved once at construction so tests and
// collaborators see one explicit value instead of ambient state.
type Acquirer struct {
	root     string
	client   *http.Client
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewAcquirer resolves the cache root (explicit > $DBDEPOT_CACHE_DIR >
// user cache dir) and returns an Acquirer writing beneath it.
func NewAcquirer(cacheRoot string) (*Acquirer, error) {
	root, err := ResolveCacheRoot(cacheRoot)
	if err != nil {
		return nil, err
	}
	return &Acquirer{
		root:     root,
		client:   &http.Client{},
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}, nil
}

// WithHTTPClient replaces the transport, for tests.
func (a *Acquirer) WithHTTPClient(c *http.Client) *Acquirer {
	if c != nil {
		a.client = c
	}
	return a
}

// WithLogger replaces the default logger.
func (a *Acquirer) WithLogger(logger *slog.Logger) *Acquirer {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// WithRecorder replaces the default no-op metrics recorder.
func (a *Acquirer) WithRecorder(rec metrics.Recorder) *Acquirer {
	if rec != nil {
		a.recorder = rec
	}
	return a
}

// CacheRoot returns the resolved cache root.
func (a *Acquirer) CacheRoot() string { return a.root }

// Acquire returns a verified local archive path for the request. An
// existing file at the canonical path is reused without re-fetching:
// integrity was enforced when it was written, and nothing unverified is
// ever renamed into place.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (string, error) {
	ext, err := Ext(req.URL)
	if err != nil {
		return "", err
	}
	dest := Path(a.root, req.Database, req.Version, req.Platform, ext)

	if _, err := os.Stat(dest); err == nil {
		a.recorder.IncCacheResult(true)
		a.logger.Debug("cache hit",
			logfields.Database(req.Database),
			logfields.Version(req.Version),
			logfields.Platform(string(req.Platform)),
			logfields.Path(dest))
		return dest, nil
	}
	a.recorder.IncCacheResult(false)

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", errors.CacheWrite(dest, err)
	}

	start := time.Now()
	err = a.download(ctx, req, dest)
	a.recorder.ObserveDownloadDuration(string(req.Platform), time.Since(start), err == nil)
	if err != nil {
		return "", err
	}
	return dest, nil
}

// download streams the resource to dest+".partial" and renames on success.
// The fixed partial name means a crashed run's leftover is truncated by the
// next attempt on the same key; the canonical path never holds partial data.
func (a *Acquirer) download(ctx context.Context, req Request, dest string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return errors.Network(req.URL, err)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return errors.Network(req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.HTTPStatus(req.URL, resp.StatusCode)
	}

	algo := checksum.SHA256
	if !req.Expected.IsZero() {
		algo = req.Expected.Algorithm
	}
	hasher := algo.NewHasher()

	tmpPath := dest + ".partial"
	tmp, err := os.Create(tmpPath) // #nosec G304 - path derives from the resolved cache root
	if err != nil {
		return errors.CacheWrite(dest, err)
	}
	renamed := false
	defer func() {
		if !renamed {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				a.logger.Warn("failed removing partial download", logfields.Path(tmpPath), logfields.Error(rmErr))
			}
		}
	}()

	src := io.TeeReader(&progressReader{
		r:        resp.Body,
		progress: req.Progress,
		total:    resp.ContentLength,
	}, hasher)

	written, copyErr := io.Copy(tmp, src)
	closeErr := tmp.Close()
	if copyErr != nil {
		var pathErr *fs.PathError
		if stdErrors.As(copyErr, &pathErr) {
			return errors.CacheWrite(dest, copyErr)
		}
		return errors.Network(req.URL, copyErr)
	}
	if closeErr != nil {
		return errors.CacheWrite(dest, closeErr)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if !req.Expected.IsZero() && !req.Expected.Matches(got) {
		return errors.ChecksumMismatch(filepath.Base(dest), req.Expected.Hex, got)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return errors.CacheWrite(dest, err)
	}
	renamed = true

	a.recorder.AddDownloadBytes(written)
	a.logger.Info("artifact downloaded",
		logfields.URL(req.URL),
		logfields.Path(dest),
		logfields.Bytes(written),
		slog.String("size", humanize.Bytes(uint64(written)))) // #nosec G115 - io.Copy never returns negative
	return nil
}

// progressReader invokes the callback as bytes flow through.
type progressReader struct {
	r        io.Reader
	progress ProgressFunc
	done     int64
	total    int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.progress != nil {
			p.progress(p.done, p.total)
		}
	}
	return n, err
}
