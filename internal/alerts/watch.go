package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the event bursts editors and atomic renames emit
// for a single logical change.
const debounceDelay = 200 * time.Millisecond

// WatchSettings applies external edits to the JSON settings file at path to
// the manager until ctx is cancelled. The parent directory is watched rather
// than the file itself so atomic replace-by-rename writes keep working.
//
// Writes performed by the manager's own store are recognized by content and
// skipped, so a settings update through the API does not bounce back through
// the watcher and clear alert state twice.
func WatchSettings(ctx context.Context, path string, m *Manager) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()

		var pending *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(debounceDelay)
					fire = pending.C
				} else {
					pending.Reset(debounceDelay)
				}

			case <-fire:
				pending, fire = nil, nil
				reloadSettings(path, m)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("alerts: settings watcher error", "err", err)
			}
		}
	}()

	slog.Info("alerts: watching settings file", "path", path)
	return nil
}

func reloadSettings(path string, m *Manager) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("alerts: cannot read changed settings file", "path", path, "err", err)
		return
	}

	// A write by our own store produces exactly the current snapshot; skip it.
	current, err := json.MarshalIndent(m.StorageSnapshot(), "", "  ")
	if err == nil && bytes.Equal(bytes.TrimSpace(raw), bytes.TrimSpace(current)) {
		return
	}

	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		slog.Warn("alerts: ignoring malformed settings file edit", "path", path, "err", err)
		return
	}
	if err := m.ApplyExternal(&u); err != nil {
		slog.Warn("alerts: ignoring invalid settings file edit", "path", path, "err", err)
		return
	}
	slog.Info("alerts: reloaded settings from file", "path", path)
}
