package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the recordings log in dir whenever it changes and passes
// the new snapshot to onChange. Bursts of writes closer together than
// debounce produce a single read. onChange is also called once at start.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, debounce time.Duration, onChange func(*Snapshot)) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create recordings dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	reload := func() {
		snap, err := Read(dir)
		if err != nil {
			slog.Error("read recordings log", "dir", dir, "error", err)
			return
		}
		onChange(snap)
	}
	reload()

	target := filepath.Join(dir, LogFile)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("recordings watcher error", "error", err)
		case <-fire:
			fire = nil
			reload()
		}
	}
}
