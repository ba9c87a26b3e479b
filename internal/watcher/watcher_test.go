package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/docslot/internal/ingest"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, root string, trigger Trigger) *Watcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w := New(root, []string{".txt"}, true, trigger, WithDebounce(50*time.Millisecond))
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebouncesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		fired.Add(1)
		return nil
	})

	if err := os.WriteFile(filepath.Join(dir, "ignored.log"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("non-matching file fired %d triggers", fired.Load())
	}

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if !waitFor(t, 3*time.Second, func() bool { return fired.Load() >= 1 }) {
		t.Fatal("trigger never fired")
	}
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		fired.Add(1)
		return nil
	})

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return fired.Load() >= 1 }) {
		t.Fatal("new directory did not trigger")
	}
	before := fired.Load()
	// give the watcher time to register the new directory
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return fired.Load() > before }) {
		t.Error("file in new subdirectory did not trigger")
	}
}

func TestWatcher_RetriesWhenIngestionBusy(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		if calls.Add(1) == 1 {
			return ingest.ErrRunInProgress
		}
		return nil
	})
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return calls.Load() >= 2 }) {
		t.Errorf("busy trigger not retried, calls = %d", calls.Load())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := startWatcher(t, t.TempDir(), func(context.Context) error { return nil })
	w.Stop()
	w.Stop()
}
