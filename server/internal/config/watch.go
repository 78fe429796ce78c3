package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long the config file must stay quiet before a reload.
const settleDelay = 150 * time.Millisecond

// Watch reloads path whenever it changes and hands the result to onChange.
// It blocks until ctx is cancelled.
//
// The parent directory is watched so saves that replace the file by rename
// are seen. Bursts of events are coalesced into one reload. An empty file or
// one that fails to load keeps the previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir, name := filepath.Dir(path), filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.Info("config: watching for changes", "path", path)

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				settle = time.After(settleDelay)
			}

		case <-settle:
			settle = nil
			reload(path, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

func reload(path string, onChange func(*Config)) {
	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("config: file unavailable, keeping previous config", "path", path, "err", err)
		return
	}
	if info.Size() == 0 {
		slog.Debug("config: file is empty, keeping previous config", "path", path)
		return
	}

	cfg, err := Load(path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
		return
	}
	slog.Info("config: reloaded", "path", path)
	onChange(cfg)
}
