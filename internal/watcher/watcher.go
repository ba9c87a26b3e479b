// Package watcher triggers ingestion when files appear or change under the corpus root.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/ingest"
)

const defaultDebounce = 500 * time.Millisecond

// Trigger starts an ingestion pass. It is called at most once per quiet period.
type Trigger func(ctx context.Context) error

// Watcher coalesces file events under one root into debounced ingestion triggers.
// Removed files are only logged: slots are append-only and a removal never frees one.
type Watcher struct {
	root       string
	extensions []string
	recursive  bool
	trigger    Trigger
	debounce   time.Duration
	logger     *zap.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	changed map[string]struct{}
	done    chan struct{}
	stop    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before a trigger fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over root. Only files with one of extensions count (empty = all).
func New(root string, extensions []string, recursive bool, trigger Trigger, opts ...Option) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		extensions: extensions,
		recursive:  recursive,
		trigger:    trigger,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		changed:    make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching and returns once the root is registered. Events are handled until
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addTree(w.root); err != nil {
		_ = fw.Close()
		return err
	}
	w.logger.Info("watching corpus",
		zap.String("root", w.root),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx)
	return nil
}

// Stop ends the watch. Pending triggers are dropped.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.recursive {
				if err := w.addTree(path); err != nil {
					w.logger.Warn("cannot watch new directory", zap.String("path", path), zap.Error(err))
				}
				// files copied in along with the directory produce no events of their own
				w.schedule(ctx, path)
			}
			return
		}
		if ingest.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.schedule(ctx, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if ingest.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.logger.Info("corpus file removed; its slot stays allocated until a full reindex", zap.String("path", path))
		}
	}
}

// schedule restarts the quiet period; the trigger fires once it elapses.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changed[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
}

func (w *Watcher) fire(ctx context.Context) {
	select {
	case <-w.done:
		return
	default:
	}
	w.mu.Lock()
	n := len(w.changed)
	w.changed = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	w.logger.Debug("watcher triggering ingestion", zap.Int("changed", n))
	err := w.trigger(ctx)
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		// the active run will not see files added after its scan, so try again later
		w.logger.Debug("ingestion busy, rescheduling")
		w.schedule(ctx, w.root)
	case err != nil:
		w.logger.Error("triggered ingestion failed", zap.Error(err))
	}
}

func (w *Watcher) addTree(root string) error {
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}
