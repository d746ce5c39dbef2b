package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the configuration file whenever it changes on disk and calls
// onChange with the new snapshot. Invalid files are logged and ignored.
// Writes made by this Config do not trigger onChange. Watch blocks until ctx is done.
func (c *Config) Watch(ctx context.Context, onChange func(Snapshot)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return util.WrapError("create config watcher", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames by editors are seen.
	dir := filepath.Dir(c.filePath)
	if err := watcher.Add(dir); err != nil {
		return util.WrapError("watch config directory", err)
	}
	name := filepath.Clean(c.filePath)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-reload:
			changed, err := c.Reload()
			if err != nil {
				slog.Error("config reload failed, keeping current settings", "path", c.filePath, "error", err)
				continue
			}
			if changed {
				slog.Info("config reloaded", "path", c.filePath)
				onChange(c.Snapshot())
			}
		}
	}
}

// Reload re-reads the configuration file. It reports whether the settings
// changed; content identical to the last write by this Config is ignored.
// On error the current settings are kept.
func (c *Config) Reload() (bool, error) {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return false, util.WrapError("read config", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if bytes.Equal(data, c.lastWritten) {
		return false, nil
	}

	fresh := New(c.filePath)
	if err := fresh.decodeLocked(data); err != nil {
		return false, err
	}

	c.System = fresh.System
	c.Audio = fresh.Audio
	c.Speech = fresh.Speech
	c.Attraction = fresh.Attraction
	c.Notifications = fresh.Notifications
	c.Archive = fresh.Archive
	c.lastWritten = data
	c.loadEnvLocked()
	return true, nil
}
