package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const configDebounce = 250 * time.Millisecond

// configWatcher calls onChange once a burst of writes to any of the watched
// config files has settled. Directories are watched rather than files so
// editors that replace the file by rename keep being followed.
type configWatcher struct {
	w        *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}
	timer *time.Timer
}

func newConfigWatcher(files []string, debounce time.Duration, onChange func(), logger *slog.Logger) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = configDebounce
	}
	cw := &configWatcher{
		w:        w,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
	}
	cw.SetFiles(files)
	return cw, nil
}

// SetFiles replaces the watched file set. Directories that no longer hold a
// watched file keep their watch; they only cost a few ignored events.
func (c *configWatcher) SetFiles(files []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string]struct{}, len(files))
	for _, f := range files {
		f = filepath.Clean(f)
		c.files[f] = struct{}{}
		dir := filepath.Dir(f)
		if _, ok := c.dirs[dir]; ok {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			c.logger.Debug("config directory not watched", "dir", dir, "error", err)
			continue
		}
		if err := c.w.Add(dir); err != nil {
			c.logger.Warn("watch config directory failed", "dir", dir, "error", err)
			continue
		}
		c.dirs[dir] = struct{}{}
	}
}

func (c *configWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.w.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
				!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
				continue
			}
			if c.watches(ev.Name) {
				c.schedule()
			}
		case err, ok := <-c.w.Errors:
			if !ok {
				return
			}
			c.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (c *configWatcher) watches(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[filepath.Clean(name)]
	return ok
}

func (c *configWatcher) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.onChange)
}

func (c *configWatcher) Close() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	return c.w.Close()
}
