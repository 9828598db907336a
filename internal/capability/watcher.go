package capability

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leynos/weaverd/internal/obslog"
)

// Watcher hot-reloads a Matrix from a single Mangle override-matrix
// file: on any write/create/rename of the file (or its parent
// directory, to survive editors that replace-via-rename), it debounces
// briefly then re-parses and swaps the matrix's overrides in place.
type Watcher struct {
	watcher     *fsnotify.Watcher
	matrix      *Matrix
	path        string
	debounceDur time.Duration

	mu      sync.Mutex
	pending bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher builds a Watcher bound to path and matrix. The file need
// not exist yet; Start watches its parent directory regardless.
func NewWatcher(path string, matrix *Matrix) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		matrix:      matrix,
		path:        path,
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start performs an initial load of path, if present, then watches its
// parent directory for changes on a background goroutine.
func (w *Watcher) Start() error {
	if err := w.reload(); err != nil {
		obslog.Get(obslog.CategoryCapability).Warn("initial override matrix load failed: %v", err)
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		obslog.Get(obslog.CategoryCapability).Warn("watch override matrix dir: %v", err)
	}
	go w.run()
	return nil
}

// Stop terminates the watch loop and releases the underlying fsnotify
// watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounceDur)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			obslog.Get(obslog.CategoryCapability).Warn("override matrix watch error: %v", err)
		case <-ticker.C:
			w.mu.Lock()
			due := w.pending
			w.pending = false
			w.mu.Unlock()
			if due {
				if err := w.reload(); err != nil {
					obslog.Get(obslog.CategoryCapability).Warn("override matrix reload failed: %v", err)
				}
			}
		}
	}
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return w.matrix.ReloadFrom(string(data))
}
