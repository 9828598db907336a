// Package listener binds the daemon's socket endpoint and runs the
// accept loop: each accepted connection is handed to a worker goroutine
// that calls a caller-supplied handler.
package listener

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leynos/weaverd/internal/obslog"
	"github.com/leynos/weaverd/internal/runtime"
)

// Handler processes one accepted connection end to end.
type Handler func(conn net.Conn)

// Listener wraps a bound net.Listener for a weaverd socket endpoint.
type Listener struct {
	endpoint runtime.Endpoint
	ln       net.Listener
}

// ErrUnixInUse is returned by Bind when a Unix socket path is already
// reachable by another listener.
var ErrUnixInUse = errors.New("listener: unix socket already in use")

// Bind prepares and binds the endpoint. For Unix sockets, a stale socket
// file is removed only when a trial connect attempt reports the
// endpoint as available; if the endpoint is reachable, Bind fails with
// ErrUnixInUse.
func Bind(e runtime.Endpoint) (*Listener, error) {
	if err := runtime.PrepareFilesystem(e); err != nil {
		return nil, err
	}

	if e.Kind == runtime.KindUnix {
		if _, err := os.Stat(e.Path); err == nil {
			available, probeErr := runtime.Probe(e, 500*time.Millisecond)
			if probeErr != nil {
				return nil, probeErr
			}
			if !available {
				return nil, ErrUnixInUse
			}
			_ = os.Remove(e.Path)
		}
	}

	ln, err := net.Listen(e.Network(), e.Address())
	if err != nil {
		return nil, err
	}
	return &Listener{endpoint: e, ln: ln}, nil
}

// Handle is a running accept loop plus the fan-out group of workers it
// spawned. Workers are coordinated with errgroup rather than a bare
// WaitGroup so a future handler signature that returns an error can
// surface it through Shutdown without a further refactor.
type Handle struct {
	ln      net.Listener
	group   *errgroup.Group
	closeMu sync.Mutex
	closed  bool
}

// Start runs the accept loop on a background goroutine; each accepted
// connection is dispatched to handler on its own worker goroutine.
func (l *Listener) Start(handler Handler) *Handle {
	g := &errgroup.Group{}
	h := &Handle{ln: l.ln, group: g}
	g.Go(func() error {
		h.acceptLoop(handler)
		return nil
	})
	return h
}

func (h *Handle) acceptLoop(handler Handler) {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			h.closeMu.Lock()
			closed := h.closed
			h.closeMu.Unlock()
			if closed {
				return
			}
			obslog.Get(obslog.CategoryListener).Warn("accept error: %v", err)
			return
		}
		h.group.Go(func() error {
			handler(conn)
			return nil
		})
	}
}

// Shutdown closes the listening socket so the accept loop exits
// promptly, then waits for in-flight workers to drain.
func (h *Handle) Shutdown() error {
	h.closeMu.Lock()
	h.closed = true
	h.closeMu.Unlock()

	closeErr := h.ln.Close()
	_ = h.group.Wait() // handler goroutines never return an error today
	return closeErr
}
