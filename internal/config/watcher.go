package config

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"linux-shaderpaper/internal/utils"
)

// DefaultDebounce is how long a file must stay quiet before a change is
// reported. Editors often write a file several times per save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports settled changes to a set of files. It watches their
// directories so files replaced by rename are still seen.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	files       map[string]bool
	dirs        map[string]int
	pending     map[string]time.Time
	debounceDur time.Duration
	onChange    func(paths []string)

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher calling onChange, on the watcher goroutine,
// with the sorted paths that changed. debounce <= 0 uses DefaultDebounce.
func NewWatcher(debounce time.Duration, onChange func(paths []string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:     w,
		files:       make(map[string]bool),
		dirs:        make(map[string]int),
		pending:     make(map[string]time.Time),
		debounceDur: debounce,
		onChange:    onChange,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

func clean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Add starts watching a file. The file need not exist yet, but its
// directory must.
func (w *Watcher) Add(path string) error {
	path = clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[path] {
		return nil
	}
	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[path] = true
	return nil
}

// Remove stops watching a file.
func (w *Watcher) Remove(path string) {
	path = clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[path] {
		return
	}
	delete(w.files, path)
	delete(w.pending, path)
	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.watcher.Remove(dir)
	}
}

// Set replaces the watched files with paths.
func (w *Watcher) Set(paths []string) {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[clean(p)] = true
	}
	w.mu.Lock()
	var drop []string
	for p := range w.files {
		if !want[p] {
			drop = append(drop, p)
		}
	}
	w.mu.Unlock()
	for _, p := range drop {
		w.Remove(p)
	}
	for p := range want {
		if err := w.Add(p); err != nil {
			utils.Warn("Watcher: cannot watch %s: %v", p, err)
		}
	}
}

// Start runs the event loop until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()
	go w.run(ctx)
}

// Stop ends the event loop and releases the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		utils.Error("Watcher: error closing watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			utils.Warn("Watcher: %v", err)
		case <-debounceTicker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	path := clean(event.Name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[path] {
		return
	}
	utils.Debug("Watcher: %s %s", event.Op, path)
	w.pending[path] = time.Now()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	sort.Strings(settled)
	w.onChange(settled)
}

// WatchConfig reloads the configuration file into r whenever it changes.
// Files that fail to load or validate are logged and leave r unchanged.
func WatchConfig(ctx context.Context, r *Registry, path string) (*Watcher, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	w, err := NewWatcher(0, func([]string) {
		cfg, err := Load(path)
		if err == nil {
			err = r.Replace(cfg)
		}
		if err != nil {
			utils.Error("Config: reload of %s rejected: %v", path, err)
			return
		}
		utils.Info("Config: reloaded %s", path)
	})
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.watcher.Close()
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}
