// SPDX-License-Identifier: Apache-2.0

// Package watcher keeps a registry in sync with a skills directory on
// disk. It watches the directory with fsnotify, debounces bursts of
// file events, and reconciles the directory contents against the
// registry: new manifests are registered, changed manifests reloaded,
// and removed manifests unregistered. A manifest that fails to parse
// leaves the last good registration in force.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/manifest"
	"github.com/tekhne-dev/tekhne/pkg/registry"
)

var tracer = otel.Tracer("tekhne/watcher")

const defaultDebounce = 300 * time.Millisecond

// Watcher reconciles a skills directory into a registry. The watcher
// only manages skills it has applied itself; skills registered through
// other paths (programmatic registration, connectors) are left alone.
type Watcher struct {
	root     string
	registry *registry.Registry
	resolver manifest.HandlerResolver
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	applied map[string]string // skill name -> manifest content hash

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last file event before
// the directory is reconciled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithResolver resolves capability handler references when manifests
// are loaded from disk.
func WithResolver(r manifest.HandlerResolver) Option {
	return func(w *Watcher) {
		w.resolver = r
	}
}

// New creates a watcher for the given skills root.
func New(root string, reg *registry.Registry, opts ...Option) (*Watcher, error) {
	if root == "" {
		return nil, errors.New(errors.CodeInvalidInput, "skills root is required", nil)
	}
	if reg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "registry is required", nil)
	}

	w := &Watcher{
		root:     root,
		registry: reg,
		debounce: defaultDebounce,
		logger:   slog.Default(),
		applied:  make(map[string]string),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start performs an initial reconciliation and begins watching for
// changes. The context bounds the watch loop and every registry
// mutation the loop performs.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(errors.CodeInternal, "create filesystem watcher", err)
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return errors.New(errors.CodeInternal, "watch skills root", err).
			WithContext("root", w.root)
	}
	w.fsw = fsw

	// The initial sync also places the per-directory watches; fsnotify
	// does not recurse.
	if err := w.Sync(ctx); err != nil {
		fsw.Close()
		return err
	}

	go w.loop(ctx)

	w.logger.Info("watcher.started",
		"root", w.root,
		"debounce", w.debounce.String(),
	)
	return nil
}

// Stop stops the watch loop and releases the filesystem watcher. Call
// only after a successful Start.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(ev.Name); err != nil {
						w.logger.Warn("watcher.dir.unwatchable",
							"dir", ev.Name,
							"error", err,
						)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.Sync(ctx); err != nil {
				w.logger.Error("watcher.sync.failed", "error", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher.fs.error", "error", err)
		}
	}
}

// Sync reconciles the skills directory against the registry once. It
// returns an error only when the root directory cannot be read;
// per-skill failures are logged and skipped so one bad manifest cannot
// block the rest.
func (w *Watcher) Sync(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "watcher.sync")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.root)
	if err != nil {
		span.RecordError(err)
		return errors.New(errors.CodeInternal, "read skills root", err).
			WithContext("root", w.root)
	}

	snap := w.registry.Snapshot()
	seen := make(map[string]bool, len(entries))
	var registered, reloaded, unregistered int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if w.fsw != nil {
			// Idempotent; also covers directories created between the
			// root event and the manifest write.
			_ = w.fsw.Add(filepath.Join(w.root, name))
		}
		path := filepath.Join(w.root, name, manifest.FileName)

		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				// Unreadable is not removed: keep the last good
				// registration and retry on the next sync.
				w.logger.Warn("watcher.manifest.unreadable",
					"skill", name,
					"error", err,
				)
				seen[name] = true
			}
			continue
		}
		seen[name] = true

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if prev, ok := w.applied[name]; ok && prev == hash {
			continue
		}

		skill, err := manifest.LoadFile(path, w.loadOptions()...)
		if err != nil {
			w.logger.Warn("watcher.manifest.invalid",
				"skill", name,
				"error", err,
			)
			continue
		}

		if _, exists := snap.Skill(name); exists {
			if err := w.registry.Reload(ctx, name, skill); err != nil {
				w.logger.Warn("watcher.reload.rejected",
					"skill", name,
					"error", err,
				)
				continue
			}
			reloaded++
		} else {
			if err := w.registry.Register(ctx, skill); err != nil {
				w.logger.Warn("watcher.register.rejected",
					"skill", name,
					"error", err,
				)
				continue
			}
			registered++
		}
		w.applied[name] = hash
	}

	for name := range w.applied {
		if seen[name] {
			continue
		}
		if err := w.registry.Unregister(ctx, name, false); err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				delete(w.applied, name)
				continue
			}
			// Dependents hold the skill in place; the entry stays so
			// removal is retried on the next sync.
			w.logger.Warn("watcher.unregister.refused",
				"skill", name,
				"error", err,
			)
			continue
		}
		delete(w.applied, name)
		unregistered++
	}

	span.SetAttributes(
		attribute.Int("tekhne.watcher.registered", registered),
		attribute.Int("tekhne.watcher.reloaded", reloaded),
		attribute.Int("tekhne.watcher.unregistered", unregistered),
	)
	if registered+reloaded+unregistered > 0 {
		w.logger.Info("watcher.sync.applied",
			"registered", registered,
			"reloaded", reloaded,
			"unregistered", unregistered,
		)
	}
	return nil
}

func (w *Watcher) loadOptions() []manifest.Option {
	if w.resolver == nil {
		return nil
	}
	return []manifest.Option{manifest.WithResolver(w.resolver)}
}
