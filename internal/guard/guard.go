// Package guard implements the daemon singleton lock: an advisory
// exclusive file lock plus the pid/health files that live alongside it.
package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/leynos/weaverd/internal/runtime"
)

// Status is the daemon's published lifecycle phase.
type Status string

const (
	StatusStarting Status = "Starting"
	StatusReady    Status = "Ready"
	StatusStopping Status = "Stopping"
)

// HealthSnapshot is the JSON document written to the health file.
type HealthSnapshot struct {
	Status    Status    `json:"status"`
	Pid       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// Guard owns the runtime directory's lock/pid/health triad for the
// lifetime of one daemon process.
type Guard struct {
	mu     sync.Mutex
	paths  runtime.Paths
	lockFd *os.File
	closed bool
}

// Acquire creates the runtime directory, takes a non-blocking exclusive
// advisory lock on Paths.Lock, and publishes an initial Starting
// snapshot. On contention it reads the pid file and fails with
// ErrAlreadyRunning.
func Acquire(paths runtime.Paths) (*Guard, error) {
	if err := os.MkdirAll(paths.Dir, 0o700); err != nil {
		return nil, &Error{Kind: ErrRuntimeDirectory, Path: paths.Dir, Cause: err}
	}

	fd, err := os.OpenFile(paths.Lock, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, &Error{Kind: ErrLockCreate, Path: paths.Lock, Cause: err}
	}

	if err := syscall.Flock(int(fd.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		fd.Close()
		pid, _ := readPid(paths.Pid)
		return nil, &Error{Kind: ErrAlreadyRunning, Path: paths.Pid, Pid: pid}
	}

	g := &Guard{paths: paths, lockFd: fd}

	if err := g.writePid(); err != nil {
		fd.Close()
		return nil, err
	}
	if err := g.WriteHealth(StatusStarting); err != nil {
		fd.Close()
		return nil, err
	}
	return g, nil
}

func (g *Guard) writePid() error {
	data := []byte(fmt.Sprintf("%d\n", os.Getpid()))
	if err := os.WriteFile(g.paths.Pid, data, 0o600); err != nil {
		return &Error{Kind: ErrPidWrite, Path: g.paths.Pid, Cause: err}
	}
	return nil
}

// WriteHealth atomically replaces the health file via temp-write-and-rename.
func (g *Guard) WriteHealth(status Status) error {
	snap := HealthSnapshot{Status: status, Pid: os.Getpid(), Timestamp: time.Now().UTC()}
	data, err := json.Marshal(snap)
	if err != nil {
		return &Error{Kind: ErrHealthSerialise, Path: g.paths.Health, Cause: err}
	}

	tmp, err := os.CreateTemp(g.paths.Dir, "health-*.tmp")
	if err != nil {
		return &Error{Kind: ErrHealthWrite, Path: g.paths.Health, Cause: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: ErrHealthWrite, Path: g.paths.Health, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: ErrHealthWrite, Path: g.paths.Health, Cause: err}
	}
	if err := os.Rename(tmpName, g.paths.Health); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: ErrHealthWrite, Path: g.paths.Health, Cause: err}
	}
	return nil
}

// Close writes a best-effort Stopping snapshot, removes the pid and
// health files, and releases the advisory lock. The socket file itself
// is owned by the listener, not the guard.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	_ = g.WriteHealth(StatusStopping)
	_ = os.Remove(g.paths.Pid)
	_ = os.Remove(g.paths.Health)

	err := syscall.Flock(int(g.lockFd.Fd()), syscall.LOCK_UN)
	closeErr := g.lockFd.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// ReadHealth reads the current health snapshot. Absence returns the
// read error (check it with os.IsNotExist); malformed content returns
// (nil, nil), which callers treat as "unknown".
func ReadHealth(path string) (*HealthSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap HealthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil // malformed content: treated as "unknown" by the caller
	}
	return &snap, nil
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// ReadPid is the exported form of readPid, used by the lifecycle
// controller (which lives outside this package).
func ReadPid(path string) (int, error) {
	return readPid(path)
}
