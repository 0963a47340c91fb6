package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload is triggered.
const DefaultDebounce = 2 * time.Second

// Reloader is the part of Cache the watcher drives.
type Reloader interface {
	Reload(ctx context.Context) (Event, error)
}

// Watcher triggers a reload when dataset files in a directory change.
type Watcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	target    Reloader
	dir       string
	debounce  time.Duration
	logger    *slog.Logger
	pending   bool
	lastEvent time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	triggered int
	dropped   int
}

// NewWatcher creates a watcher for dir that reloads target.
func NewWatcher(dir string, target Reloader, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher:  fw,
		target:   target,
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		w.logger.Warn("Dataset watcher could not create data dir", "dir", w.dir, "error", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Info("Dataset watcher started", "dir", w.dir, "debounce", w.debounce)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Dataset watcher close failed", "error", err)
	}
	triggered, dropped := w.Counts()
	w.logger.Info("Dataset watcher stopped", "reloads", triggered, "dropped", dropped)
}

// Counts returns how many reloads were triggered and how many were dropped
// because another reload was running.
func (w *Watcher) Counts() (triggered, dropped int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.triggered, w.dropped
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Dataset watcher error", "error", err)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if agentFromFile(filepath.Base(event.Name)) == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.logger.Debug("Dataset file event", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	w.pending = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

// flush reloads once the debounce window has passed without new events.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	_, err := w.target.Reload(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case errors.Is(err, ErrReloadInProgress):
		w.dropped++
		w.logger.Debug("Dataset reload dropped, another reload is running")
	case err != nil:
		w.logger.Error("Dataset reload failed", "error", err)
	default:
		w.triggered++
	}
}
