package capture

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/fieldsurvey/constants"
)

type WatchConfig struct {
	Roots       []string            // directories to watch (recursive)
	AllowedExts map[string]struct{} // defaults to constants.CaptureExtensions
	InitialScan bool                // emit files already present at start
	Debounce    time.Duration       // coalesce rapid create/write bursts per file
}

// StartWatcher watches the roots and emits the path of each capture once
// its writes have settled. Both channels close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		logger.Error("watcher start failed: no roots provided")
		return nil, nil, errors.New("no roots provided")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = constants.CaptureExtensions
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)
	var initial []string

	// Add roots recursively
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && d.Type().IsRegular() && constants.HasExt(cfg.AllowedExts, filepath.Ext(path)) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := os.MkdirAll(r, 0o755); err != nil {
			_ = w.Close()
			return nil, nil, err
		}
		if err := addDir(r); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(errCh)
		defer close(evCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		var (
			mu      sync.Mutex
			timers  = map[string]*time.Timer{}
			settled = make(chan string, 256)
		)
		defer func() {
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
		}()

		emit := func(p string) bool {
			select {
			case evCh <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		schedule := func(p string) {
			if cfg.Debounce <= 0 {
				select {
				case settled <- p:
				default:
					logger.Warn("watcher backlog full, dropping event", "path", p)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if t, ok := timers[p]; ok {
				t.Reset(cfg.Debounce)
				return
			}
			timers[p] = time.AfterFunc(cfg.Debounce, func() {
				mu.Lock()
				delete(timers, p)
				mu.Unlock()
				select {
				case settled <- p:
				case <-ctx.Done():
				}
			})
		}

		for {
			select {
			case <-ctx.Done():
				return
			case p := <-settled:
				if st, err := os.Stat(p); err != nil || !st.Mode().IsRegular() {
					continue
				}
				if !emit(p) {
					return
				}
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if st, err := os.Stat(e.Name); err == nil && st.IsDir() {
						if err := addTree(w, e.Name, schedule, cfg.AllowedExts); err != nil {
							logger.Warn("failed to add new directory to watcher", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if constants.HasExt(cfg.AllowedExts, filepath.Ext(e.Name)) && e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					schedule(e.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// addTree watches a directory created after start, and schedules any
// captures that landed in it before the watch was in place.
func addTree(w *fsnotify.Watcher, root string, schedule func(string), exts map[string]struct{}) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if constants.HasExt(exts, filepath.Ext(path)) {
			schedule(path)
		}
		return nil
	})
}
