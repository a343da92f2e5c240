package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the newly loaded config.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes. Changes are debounced
// so an editor's write-rename sequence triggers one reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []ChangeHandler
	debounce time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	mu       sync.Mutex
}

// NewWatcher creates a config file watcher.
func NewWatcher(configPath string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(configPath),
		watcher:  w,
		debounce: 300 * time.Millisecond,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// OnChange registers a handler called after every successful reload.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start watches the file's directory; the file itself may not exist yet
// and is usually replaced by rename rather than written in place.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}

	go cw.watchLoop()

	slog.Info("config: watcher started", "path", cw.path)
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (cw *Watcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		cw.watcher.Close()
		slog.Info("config: watcher stopped")
	})
}

func (cw *Watcher) watchLoop() {
	defer close(cw.done)
	var debounceTimer *time.Timer

	for {
		select {
		case <-cw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config: watcher error", "error", err)
		}
	}
}

func (cw *Watcher) reload() {
	select {
	case <-cw.stopChan:
		return
	default:
	}

	slog.Info("config: file changed, reloading", "path", cw.path)

	cfg, err := Load(cw.path)
	if err != nil {
		// Keep running on the previous config.
		slog.Error("config: reload failed", "error", err)
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	slog.Info("config: reloaded")
}
