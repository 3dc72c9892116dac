package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rival420/donwatcher/internal/scoring"
)

// ApplyFunc installs a freshly loaded scoring configuration.
type ApplyFunc func(ctx context.Context, cfg scoring.Config) error

// ScoringWatcher reloads the scoring file when it changes. A file that fails
// to load is logged and the running configuration stays in place.
type ScoringWatcher struct {
	path     string
	apply    ApplyFunc
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewScoringWatcher watches the directory of path, so editors that replace
// the file on save are followed.
func NewScoringWatcher(path string, apply ApplyFunc) (*ScoringWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &ScoringWatcher{
		path:     abs,
		apply:    apply,
		watcher:  w,
		debounce: 250 * time.Millisecond,
	}, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *ScoringWatcher) Run(ctx context.Context) {
	slog.Info("watching scoring config", "path", w.path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				reload = time.After(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("scoring config watcher error", "error", err)

		case <-reload:
			reload = nil
			w.reload(ctx)
		}
	}
}

func (w *ScoringWatcher) reload(ctx context.Context) {
	cfg, err := LoadScoring(w.path)
	if err != nil {
		slog.Warn("scoring config rejected, keeping current constants",
			"path", w.path,
			"error", err,
		)
		return
	}
	if err := w.apply(ctx, cfg); err != nil {
		slog.Warn("failed to apply scoring config",
			"path", w.path,
			"error", err,
		)
		return
	}
	slog.Info("scoring config reloaded", "path", w.path)
}

// Close stops watching.
func (w *ScoringWatcher) Close() error {
	return w.watcher.Close()
}
