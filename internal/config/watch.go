package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// reloadDelay coalesces the burst of events editors emit for a single save.
const reloadDelay = 250 * time.Millisecond

// Watcher reloads a config file into a Store whenever it changes on disk.
type Watcher struct {
	path   string
	store  *Store
	logger *slog.Logger

	// OnReload, when set, is called with every snapshot that was swapped in.
	OnReload func(*Snapshot)
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, store *Store, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:   filepath.Clean(path),
		store:  store,
		logger: logger.With("component", "config-watcher", "path", path),
	}
}

// Run watches the file's directory until ctx is cancelled. Rename-and-replace
// saves are handled because the directory, not the file, is watched.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create fsnotify watcher")
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return errors.Wrap(err, "watch config directory")
	}
	w.logger.Info("Watching config file for changes")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			pending = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error", "error", err)

		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

// Reload loads the file and swaps it in. On failure the previous snapshot
// stays active and the error is logged and returned.
func (w *Watcher) Reload() error {
	snap, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous configuration", "error", err)
		return err
	}
	w.store.Swap(snap)
	w.logger.Info("Config reloaded",
		"auth_tokens", len(snap.Security.AuthenticationTokens),
		"client_keys", len(snap.Security.AllowedClientKeys),
		"blocked_agents", len(snap.Security.BlockedUserAgents),
		"minimum_game_version", snap.MinimumGameVersion().String(),
	)
	if w.OnReload != nil {
		w.OnReload(snap)
	}
	return nil
}
