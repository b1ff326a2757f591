package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(EmptyCalibration()))

	changes := make(chan *Calibration, 4)
	w := NewWatcher(store, func(c *Calibration) { changes <- c })
	w.debounce = 10 * time.Millisecond
	w.Logf = t.Logf

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"ultrasonic_threshold": 12}`), 0o644))

	select {
	case cal := <-changes:
		require.Equal(t, 12, cal.GetUltrasonicThreshold())
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcher_IgnoresInvalidAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration.json")
	store := NewFileStore(path)

	changes := make(chan *Calibration, 4)
	w := NewWatcher(store, func(c *Calibration) { changes <- c })
	w.debounce = 10 * time.Millisecond
	w.Logf = t.Logf

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`{"ultrasonic_threshold": -1}`), 0o644))

	select {
	case cal := <-changes:
		t.Fatalf("unexpected reload: %+v", cal.Scope())
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcher_SkipsOwnSaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration.json")
	store := NewFileStore(path)

	changes := make(chan *Calibration, 4)
	w := NewWatcher(store, func(c *Calibration) { changes <- c })
	w.debounce = 10 * time.Millisecond
	w.Logf = t.Logf

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(50 * time.Millisecond)
	saved := EmptyCalibration()
	saved.SetUltrasonicThreshold(20)
	require.NoError(t, store.Save(saved))

	// A later save that fails must not be undone by reloading the earlier
	// one from disk.
	require.NoError(t, os.Chmod(dir, 0o500))
	newer := EmptyCalibration()
	newer.SetUltrasonicThreshold(50)
	saveErr := store.Save(newer)
	require.NoError(t, os.Chmod(dir, 0o700))
	if saveErr == nil {
		t.Log("directory permissions not enforced; only checking the successful save")
	}

	select {
	case cal := <-changes:
		t.Fatalf("reloaded own save: %+v", cal.Scope())
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"ultrasonic_threshold": 12}`), 0o644))
	select {
	case cal := <-changes:
		require.Equal(t, 12, cal.GetUltrasonicThreshold())
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the external change")
	}
}
