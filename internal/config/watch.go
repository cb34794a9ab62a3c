package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"candlesight/internal/logger"
)

// WatchLogLevel re-applies app.log_level whenever the config file changes on
// disk, so log verbosity can be tuned on a running process. Returns a stop
// function; watch errors only disable the feature, they never fail startup.
func WatchLogLevel(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	// watch the directory: editors replace files instead of writing in place
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(abs)
				if err != nil {
					logger.Warnf("config reload skipped: %v", err)
					continue
				}
				logger.SetLevel(cfg.App.LogLevel)
				logger.Infof("config reloaded, log level now %s", cfg.App.LogLevel)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("config watcher error: %v", err)
			}
		}
	}()
	return func() {
		close(done)
		watcher.Close()
	}, nil
}
