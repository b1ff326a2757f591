package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/sumobot/internal/monitoring"
)

// Watcher reloads the calibration file when it is changed on disk by
// something other than the robot, e.g. an operator copying in a new file.
// Events caused by the store's own saves are skipped by comparing the file
// with the last contents the store wrote.
type Watcher struct {
	store    *FileStore
	onChange func(*Calibration)
	debounce time.Duration

	Logf func(format string, v ...interface{})
}

// NewWatcher creates a watcher that calls onChange with every successfully
// loaded revision of the file.
func NewWatcher(store *FileStore, onChange func(*Calibration)) *Watcher {
	return &Watcher{
		store:    store,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until ctx is done. The directory is watched rather than the
// file because atomic saves replace the file's inode.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.store.Path())); err != nil {
		return err
	}

	logf := monitoring.Or(w.Logf)
	target := filepath.Base(w.store.Path())

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logf("calibration watcher error: %v", err)

		case <-timer.C:
			cal, own, err := w.store.loadExternal()
			if err != nil {
				logf("ignoring calibration change: %v", err)
				continue
			}
			if own {
				continue
			}
			logf("calibration reloaded from %s", w.store.Path())
			w.onChange(cal)
		}
	}
}
