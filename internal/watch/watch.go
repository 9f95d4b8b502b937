// Package watch re-runs work when a scene file is saved.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quillforge/quill/internal/logging"
)

// DefaultDebounce is used when a non-positive debounce is given.
const DefaultDebounce = 300 * time.Millisecond

// Option configures File.
type Option func(*watchConfig)

type watchConfig struct {
	logger *logging.Logger
}

// WithLogger configures structured logging.
func WithLogger(l *logging.Logger) Option {
	return func(c *watchConfig) { c.logger = l }
}

// File watches path and calls fn once the file has been quiet for
// debounce after a change. It blocks until ctx is done and returns nil in
// that case. The parent directory is watched so editors that save by
// rename are followed. fn runs on the watching goroutine; changes that
// arrive while it runs are coalesced into one later call.
func File(ctx context.Context, path string, debounce time.Duration, fn func(context.Context), opts ...Option) error {
	cfg := watchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	logger = logger.WithPhase("watch").With("path", abs)
	logger.Info("watching for changes", "debounce_ms", debounce.Milliseconds())

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("change detected", "op", ev.Op.String())
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-timer.C:
			fn(ctx)
		}
	}
}
