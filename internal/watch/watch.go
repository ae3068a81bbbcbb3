// Package watch reports changes made to the data files by other processes.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event of a burst.
const DefaultDebounce = 200 * time.Millisecond

// ChangeCallback is called once per burst of changes to a watched file,
// with the file's base name.
type ChangeCallback func(name string)

// Watch starts an fsnotify watcher on dir and reports writes, creations,
// renames and removals of the named files until ctx is cancelled.
//
// Writes are usually a temp file renamed over the target, so the directory
// is watched rather than the files themselves.
func Watch(ctx context.Context, dir string, names []string, debounce time.Duration, logger *slog.Logger, cb ChangeCallback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("dir", dir), slog.Any("files", names))

	// pending holds the names changed since the last flush.
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for name := range pending {
				logger.Debug("watcher: changed", slog.String("file", name))
				if cb != nil {
					cb(name)
				}
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !slices.Contains(names, name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending[name] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
