package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hack3ric/hive/internal/pkg/logger"
)

// Watch reports on-disk edits below the services root until the context is
// cancelled. The server never reloads from a raw file change, since a
// half-written bundle must not go live; the log tells operators a re-upload
// is needed to apply what they edited.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.root); err != nil {
		return err
	}
	// fsnotify does not recurse; watch each service directory as well.
	dirents, _ := os.ReadDir(l.root)
	for _, de := range dirents {
		if de.IsDir() {
			_ = watcher.Add(filepath.Join(l.root, de.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && event.Op&fsnotify.Create != 0 {
				_ = watcher.Add(event.Name)
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Info("services directory changed on disk; re-upload to apply",
					zap.String("path", event.Name),
					zap.String("op", event.Op.String()),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("services directory watcher error", zap.Error(err))
		}
	}
}
