package policy

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchFile watches path for writes/creates/renames and invokes onChange
// each time, debounced only by fsnotify's own event coalescing. It is an
// alternative to a SIGHUP handler (grounded on fsnotify usage in the
// example pack's config watchers); onChange is expected to be the
// engine's ReloadPolicy.
func WatchFile(ctx context.Context, path string, log *zap.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close() //nolint:errcheck
		return err
	}

	go func() {
		defer watcher.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Debug("policy file changed, triggering reload", zap.String("path", path), zap.String("op", ev.Op.String()))
					onChange()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("policy file watcher error", zap.Error(werr))
			}
		}
	}()

	return nil
}
