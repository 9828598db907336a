package plugin

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leynos/weaverd/internal/obslog"
)

// Watcher hot-reloads a Registry from a manifest directory: on any
// create/write/remove/rename under the directory, it debounces briefly
// then reloads every manifest and swaps the registry's contents in one
// shot. Grounded on the teacher's mangle-file watcher debounce idiom.
type Watcher struct {
	watcher     *fsnotify.Watcher
	registry    *Registry
	dir         string
	debounceDur time.Duration

	mu      sync.Mutex
	pending bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher builds a Watcher bound to dir and registry. Call Start to
// begin watching; the directory need not exist yet.
func NewWatcher(dir string, registry *Registry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		registry:    registry,
		dir:         dir,
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start performs an initial load of dir, then begins watching it for
// changes on a background goroutine. Non-blocking.
func (w *Watcher) Start() error {
	if err := w.reload(); err != nil {
		obslog.Get(obslog.CategoryPlugin).Warn("initial manifest load failed: %v", err)
	}

	if err := w.watcher.Add(w.dir); err != nil {
		obslog.Get(obslog.CategoryPlugin).Warn("watch manifest dir %s: %v (directory may not exist yet)", w.dir, err)
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
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			obslog.Get(obslog.CategoryPlugin).Warn("manifest watch error: %v", err)
		case <-ticker.C:
			w.mu.Lock()
			due := w.pending
			w.pending = false
			w.mu.Unlock()
			if due {
				if err := w.reload(); err != nil {
					obslog.Get(obslog.CategoryPlugin).Warn("manifest reload failed: %v", err)
				}
			}
		}
	}
}

func (w *Watcher) reload() error {
	manifests, err := LoadManifestDir(w.dir)
	if err != nil {
		return err
	}
	return w.registry.ReloadAll(manifests)
}
