package auth

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadFunc reads the user list from a file.
type LoadFunc func(path string) ([]User, error)

// Watch reloads m from path every time the file is written or replaced, until
// ctx is done. It watches the parent directory so editors that save by rename
// are picked up too. A file that fails to load leaves the current users in place.
func Watch(ctx context.Context, path string, load LoadFunc, m *Manager, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	logger.Info("watching auth users", zap.String("path", target))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				users, err := load(target)
				if err != nil {
					logger.Warn("failed to reload auth users", zap.String("path", target), zap.Error(err))
					continue
				}
				m.Reload(users)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("auth watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
