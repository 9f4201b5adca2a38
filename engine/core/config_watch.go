package core

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads a config file whenever it is written and hands the new
// value to a callback. Only settings that are safe to change at runtime should
// be applied by the callback (the log level, today).
type ConfigWatcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	onChange func(*Config)
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
	mu       sync.Mutex
}

func WatchConfig(path string, onChange func(*Config)) (*ConfigWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating config watcher")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	// editors usually replace the file, so the directory is what we watch
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, errors.Wrapf(err, "watching %s", filepath.Dir(abs))
	}

	cw := &ConfigWatcher{
		path:     abs,
		fsnotify: fsWatch,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				LogError("config reload failed: %s", err)
				continue
			}
			cw.onChange(cfg)

		case err, ok := <-cw.fsnotify.Errors:
			if !ok {
				return
			}
			LogError(err.Error())

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) Close() error {
	cw.mu.Lock()
	if cw.isClosed {
		cw.mu.Unlock()
		return nil
	}
	cw.isClosed = true
	cw.mu.Unlock()

	close(cw.done)
	cw.wg.Wait()
	return cw.fsnotify.Close()
}

// ApplyRuntimeConfig applies the subset of cfg that can change while running.
func ApplyRuntimeConfig(cfg *Config) {
	if err := SetLogLevel(cfg.Logging.Level); err != nil {
		LogWarn("ignoring log level %q: %s", cfg.Logging.Level, err)
		return
	}
	LogInfo("log level set to %s", cfg.Logging.Level)
}
