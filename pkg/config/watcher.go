package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval coalesces the burst of events produced by one save
const DefaultDebounceInterval = 500 * time.Millisecond

// Watcher calls OnChange after the configuration file changes on disk.
// The parent directory is watched because atomic saves replace the file.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   logging.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(path string, debounce time.Duration, onChange func(), logger logging.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounceInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewIOError("failed to create filesystem watcher", err)
	}
	defer fsWatcher.Close()

	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		return errors.NewIOError("failed to watch configuration directory", err).WithContext("dir", dir)
	}

	w.logger.Infof("Watching configuration, path: %s", w.path)

	target := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			w.logger.Infof("Configuration watcher stopped, path: %s", w.path)
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debugf("Configuration file event, path: %s, op: %s", event.Name, event.Op)
			w.trigger()
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("Configuration watcher error, path: %s, error: %v", w.path, err)
		}
	}
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if w.onChange != nil {
			w.onChange()
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
