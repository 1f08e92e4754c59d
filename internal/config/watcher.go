package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/routegrid/gateway/internal/logging"
	"go.uber.org/zap"
)

// Watcher re-reads the config file when it changes on disk and hands freshly
// parsed configs to the onChange callback. Write bursts from editors are
// debounced into a single reload; a file that fails to parse or validate is
// logged and ignored, so the running config stays in effect.
type Watcher struct {
	fs       *fsnotify.Watcher
	loader   *Loader
	path     string
	debounce time.Duration
	onChange func(*Config)
}

// NewWatcher creates a watcher for path. Nothing is watched until Start.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:       fs,
		loader:   NewLoader(),
		path:     path,
		debounce: 500 * time.Millisecond,
		onChange: onChange,
	}, nil
}

// Start watches the file's directory. Editors typically replace the file
// rather than writing in place, so watching the file itself would lose the
// watch on the first save.
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.run()
	return nil
}

// Stop ends the watch. The callback will not fire after Stop returns, except
// for a reload already in flight.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}

func (w *Watcher) run() {
	var pending *time.Timer

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path)
	if err != nil {
		logging.Error("ignoring config change", zap.String("path", w.path), zap.Error(err))
		return
	}
	logging.Info("config file changed", zap.String("path", w.path))
	w.onChange(cfg)
}
