// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Watcher polls the configuration files behind a CLI argument list and
// rebuilds the Config when any of them changes. Reloads run the same
// pipeline as the initial load, so profile overlays, environment, and
// --set overrides stay applied.
type Watcher struct {
	reload   func() (*Config, error)
	paths    []string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	current  *Config
	started  bool
	onReload []func(*Config)

	// modTimes is touched only by the poll goroutine after construction.
	modTimes map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// WatcherOption adjusts watcher construction.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval. Values <= 0 keep the
// default of one second.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger used for reload events.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads configuration from args the way LoadWithCLI does and
// returns a watcher over the files that load used: the base file and the
// active profile overlay. The overlay is polled even when it does not
// exist yet, so creating it later triggers a reload. Without a --config
// argument there is nothing to poll and the watcher never fires.
func NewWatcher(args []string, opts ...WatcherOption) (*Watcher, error) {
	path, profile, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		reload:   func() (*Config, error) { return load(path, profile, sets) },
		interval: time.Second,
		logger:   slog.Default(),
		modTimes: make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if path != "" {
		w.paths = append(w.paths, path)
		if profile != "" {
			ext := filepath.Ext(path)
			name := strings.TrimSuffix(filepath.Base(path), ext)
			w.paths = append(w.paths,
				filepath.Join(filepath.Dir(path), name+"."+profile+ext))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	cfg, err := w.reload()
	if err != nil {
		return nil, err
	}
	w.current = cfg
	for _, p := range w.paths {
		w.modTimes[p] = modTime(p)
	}
	return w, nil
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers fn to run after every successful reload. Callbacks
// run on the poll goroutine; keep them short.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Start begins polling. Further calls are no-ops.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.poll(ctx)
}

// Stop halts polling and waits for the poller to exit. Safe to call more
// than once, and safe when Start never ran.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()
	if started {
		<-w.done
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if w.sweep() {
				w.applyReload()
			}
		}
	}
}

// sweep reports whether any watched file changed since the last pass.
// Appearing and disappearing files both count.
func (w *Watcher) sweep() bool {
	changed := false
	for _, path := range w.paths {
		mt := modTime(path)
		if !mt.Equal(w.modTimes[path]) {
			w.modTimes[path] = mt
			changed = true
		}
	}
	return changed
}

func (w *Watcher) applyReload() {
	cfg, err := w.reload()
	if err != nil {
		// Keep serving the previous config; a half-written file fails
		// here and succeeds on the next sweep.
		w.logger.Error("config.reload.failed", "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	listeners := make([]func(*Config), len(w.onReload))
	copy(listeners, w.onReload)
	w.mu.Unlock()

	w.logger.Info("config.reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
}

// modTime returns the file's mod time, or the zero time when the file is
// absent.
func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
