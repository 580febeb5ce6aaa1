package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/dbdepot/internal/config"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
)

// stateWatcher turns filesystem changes under the state directory into
// run triggers. Editors and git checkouts produce bursts of events; the
// watcher debounces them so one save yields one audit.
type stateWatcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	trigger  func(reason string)
	debounce time.Duration
	logger   *slog.Logger
}

func newStateWatcher(dir string, trigger func(string), logger *slog.Logger) (*stateWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "creating state watcher")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		_ = watcher.Close()
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "resolving state directory").
			WithContext("path", dir)
	}

	if err := watcher.Add(absDir); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "watching state directory").
			WithContext("path", absDir)
	}
	// The source registry lives one level down; fsnotify does not recurse.
	// Missing is fine, the directory watch above picks up its creation.
	sources := filepath.Join(absDir, config.SourcesDirName)
	if err := watcher.Add(sources); err != nil {
		logger.Debug("sources directory not watched yet", logfields.Path(sources))
	}

	return &stateWatcher{
		dir:      absDir,
		watcher:  watcher,
		trigger:  trigger,
		debounce: 2 * time.Second,
		logger:   logger,
	}, nil
}

func (w *stateWatcher) close() {
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("closing state watcher failed", logfields.Error(err))
	}
}

// run consumes events until the context ends or the watcher closes.
func (w *stateWatcher) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				timer.Stop()
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("state change detected",
				logfields.Path(event.Name), slog.String("op", event.Op.String()))
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				timer.Stop()
				return
			}
			w.logger.Error("state watcher error", logfields.Error(err))
		case <-pending:
			pending = nil
			w.trigger("state-change")
		}
	}
}

// relevant filters events down to state content: JSON files anywhere
// under watch, and the sources directory appearing, which additionally
// extends the watch to it.
func (w *stateWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if event.Op&fsnotify.Create != 0 && filepath.Base(event.Name) == config.SourcesDirName {
		if err := w.watcher.Add(event.Name); err != nil {
			w.logger.Warn("watching new sources directory failed",
				logfields.Path(event.Name), logfields.Error(err))
		}
		return false
	}
	return filepath.Ext(event.Name) == ".json"
}
