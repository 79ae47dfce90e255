package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces change bursts before a re-ingest fires.
const DefaultWatchDebounce = 2 * time.Second

// Watcher re-ingests a local repository when its files change. Change
// events are debounced so an editor save storm or a git checkout triggers
// one rebuild, not hundreds.
type Watcher struct {
	root     string
	debounce time.Duration
	exclude  map[string]struct{}
	trigger  func(ctx context.Context)
	logger   *slog.Logger

	fsw *fsnotify.Watcher
}

// NewWatcher creates a watcher over root. trigger is called after each
// debounced change burst, on the watcher's goroutine.
func NewWatcher(root string, debounce time.Duration, excludeDirs []string, trigger func(ctx context.Context)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		exclude:  buildDirSet(excludeDirs),
		trigger:  trigger,
		logger:   slog.Default().With("component", "watcher"),
		fsw:      fsw,
	}

	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers every non-excluded directory under root. fsnotify
// watches are not recursive.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := w.exclude[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run watches until the context is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignorable(event) {
				continue
			}
			// New directories need their own watch before anything
			// inside them can be seen.
			if event.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = w.addTree(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info("changes_detected_reingesting", slog.String("root", w.root))
			w.trigger(ctx)
		}
	}
}

func (w *Watcher) ignorable(event fsnotify.Event) bool {
	if event.Op.Has(fsnotify.Chmod) {
		return true
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return true
	}
	return inExcludedDir(filepath.ToSlash(rel), w.exclude)
}

// Close stops watching. Run returns once the event channel drains.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
