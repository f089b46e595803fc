package keyring

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the keyring whenever the profile file changes on disk.
// The parent directory is watched because editors and atomic writers
// replace the file rather than rewriting it in place. Blocks until ctx is
// done.
func (k *Keyring) Watch(ctx context.Context, profilePath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(profilePath)); err != nil {
		return err
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(profilePath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if err := k.Load(ctx); err != nil {
					slog.WarnContext(ctx, "failed to reload signing key", "path", profilePath, "error", err)
					return
				}
				slog.InfoContext(ctx, "signing key reloaded", "path", profilePath)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "profile watcher error", "error", err)
		}
	}
}
