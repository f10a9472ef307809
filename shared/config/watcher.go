package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the burst of filesystem events an editor or
// configuration tool produces for a single save.
const reloadDebounce = 200 * time.Millisecond

// StartWatcher watches the configuration file and reloads it on change.
// The watch is placed on the parent directory because most editors replace
// files via rename, which drops a watch set on the file itself. A failed
// reload keeps the previous configuration in effect.
func (c *YamlConfig) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	dir := filepath.Dir(c.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	c.logger.Info("Watching configuration file for changes", zap.String("path", c.configPath))

	go func() {
		defer watcher.Close()

		var reloadTimer *time.Timer
		defer func() {
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
		}()

		target := filepath.Clean(c.configPath)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(reloadDebounce, func() {
					if err := c.Update(); err != nil {
						c.logger.Error("Configuration reload failed, keeping previous values",
							zap.String("path", c.configPath), zap.Error(err))
						return
					}
					c.logger.Info("Configuration reloaded", zap.String("path", c.configPath))
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("Configuration watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
