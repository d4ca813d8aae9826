package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/opsim/internal/logger"
)

// WatchProfiles reloads the profile store whenever a *.json file in the
// profiles directory changes. Edits are debounced so editors that write in
// multiple steps trigger a single reload.
//
// The watcher runs until the context is cancelled. Reload failures keep the
// previously installed profiles.
func WatchProfiles(ctx context.Context, dir string, store *ProfileStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var pending *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				// Debounce bursts of events from a single save.
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Profile watcher error", "dir", dir, "error", err)

			case <-reload:
				reloadProfiles(dir, store)
			}
		}
	}()

	return nil
}

func reloadProfiles(dir string, store *ProfileStore) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil || len(files) == 0 {
		logger.Warn("Profile reload skipped", "dir", dir, "error", err)
		return
	}
	var profiles []*Profile
	for _, file := range files {
		p, err := loadProfileFile(file)
		if err != nil {
			logger.Warn("Profile reload aborted", "file", file, "error", err)
			return
		}
		profiles = append(profiles, p)
	}
	if err := store.Replace(profiles); err != nil {
		logger.Warn("Profile reload failed", "dir", dir, "error", err)
		return
	}
	logger.Info("Profiles reloaded", "dir", dir, "count", len(profiles), "active", store.ActiveName())
}
