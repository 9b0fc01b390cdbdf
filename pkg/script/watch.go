package script

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives each re-evaluation of a watched script.
type ReloadFunc func(*Result, error)

// Watcher re-evaluates a configuration script whenever it or a file it
// loads changes.
type Watcher struct {
	ev       *Evaluator
	path     string
	argv     []string
	delay    time.Duration
	reloadFn ReloadFunc

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	files   map[string]bool
}

// NewWatcher creates a watcher for the script at path.
func (e *Evaluator) NewWatcher(path string, argv []string, reloadFn ReloadFunc) *Watcher {
	return &Watcher{
		ev:       e,
		path:     path,
		argv:     argv,
		delay:    500 * time.Millisecond,
		reloadFn: reloadFn,
	}
}

// Watch evaluates the script once, reports the result, and keeps
// re-evaluating on change until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	abs, err := filepath.Abs(w.path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to resolve script path: %w", err)
	}
	w.path = abs
	w.files = map[string]bool{abs: true}

	// Directories are watched so editors that replace files are seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.reload(ctx)

	go w.processEvents(ctx)

	w.ev.logger.Info().Str("script", abs).Msg("Started watching config script")
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) reload(ctx context.Context) {
	result, err := w.ev.EvaluateFile(ctx, w.path, w.argv)
	if err == nil {
		w.track(result.Loaded)
	}
	w.reloadFn(result, err)
}

// track adds loaded files and their directories to the watch set.
func (w *Watcher) track(loaded []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range loaded {
		abs, err := filepath.Abs(f)
		if err != nil || w.files[abs] {
			continue
		}
		w.files[abs] = true
		if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
			w.ev.logger.Warn().Err(err).Str("path", abs).Msg("Failed to watch loaded file")
		}
	}
}

func (w *Watcher) watched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[abs]
}

func (w *Watcher) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !w.watched(event.Name) {
				continue
			}
			w.ev.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Config script changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				w.reload(ctx)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.ev.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
