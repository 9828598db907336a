// Package lifecycle implements the client-initiated start/stop/status
// commands: spawning the daemon binary, probing socket reachability,
// signalling the pid, and waiting for health transitions with timeouts.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/leynos/weaverd/internal/guard"
	"github.com/leynos/weaverd/internal/runtime"
)

// Options configures a single lifecycle operation.
type Options struct {
	Endpoint         runtime.Endpoint
	DaemonArgs       []string // forwarded to the spawned daemon, excluding argv[0]
	ProbeTimeout     time.Duration
	StartupDeadline  time.Duration
	ShutdownDeadline time.Duration
	PollInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = 500 * time.Millisecond
	}
	if o.StartupDeadline == 0 {
		o.StartupDeadline = 15 * time.Second
	}
	if o.ShutdownDeadline == 0 {
		o.ShutdownDeadline = 15 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	return o
}

// resolveDaemonBinary picks the daemon binary path: an explicit
// override, then WEAVERD_BIN, then the bare name "weaverd" resolved via
// PATH.
func resolveDaemonBinary(override string) string {
	if override != "" {
		return override
	}
	if v := os.Getenv("WEAVERD_BIN"); v != "" {
		return v
	}
	return "weaverd"
}

// Start spawns the daemon if the socket is not already in use, then
// polls the health file until it reports Ready, the child exits, or the
// deadline expires.
func Start(opts Options, override string) error {
	opts = opts.withDefaults()
	paths, err := runtime.DerivePaths(opts.Endpoint)
	if err != nil {
		return err
	}

	available, err := runtime.Probe(opts.Endpoint, opts.ProbeTimeout)
	if err != nil {
		return &Error{Kind: ErrSocketProbe, Cause: err}
	}
	if !available {
		return &Error{Kind: ErrSocketInUse, ExitStatus: 1}
	}

	bin := resolveDaemonBinary(override)
	cmd := exec.Command(bin, opts.DaemonArgs...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return &Error{Kind: ErrSpawn, Cause: err}
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.Now().Add(opts.StartupDeadline)
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-exited:
			status := 0
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				status = exitErr.ExitCode()
			}
			return &Error{Kind: ErrStartupFailed, ExitStatus: status, Cause: waitErr}
		case <-ticker.C:
			snap, _ := guard.ReadHealth(paths.Health)
			if snap == nil {
				if time.Now().After(deadline) {
					return &Error{Kind: ErrStartupTimeout, ExitStatus: 1}
				}
				continue
			}
			switch snap.Status {
			case guard.StatusReady:
				return nil
			case guard.StatusStopping:
				return &Error{Kind: ErrStartupAborted, ExitStatus: 1}
			}
			if time.Now().After(deadline) {
				return &Error{Kind: ErrStartupTimeout, ExitStatus: 1}
			}
		}
	}
}

// Stop reads the pid file and signals the daemon to terminate, then
// polls for pid removal and socket unreachability.
func Stop(opts Options) error {
	opts = opts.withDefaults()
	paths, err := runtime.DerivePaths(opts.Endpoint)
	if err != nil {
		return err
	}

	pid, pidErr := guard.ReadPid(paths.Pid)
	available, probeErr := runtime.Probe(opts.Endpoint, opts.ProbeTimeout)

	if pidErr != nil {
		if probeErr != nil {
			return &Error{Kind: ErrSocketProbe, Cause: probeErr}
		}
		if available {
			return nil // not running
		}
		return &Error{Kind: ErrMissingPidWithSock, ExitStatus: 1}
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return &Error{Kind: ErrSpawn, Cause: fmt.Errorf("signal pid %d: %w", pid, err)}
	}

	deadline := time.Now().Add(opts.ShutdownDeadline)
	for {
		if _, err := guard.ReadPid(paths.Pid); err != nil {
			if avail, probeErr := runtime.Probe(opts.Endpoint, opts.ProbeTimeout); probeErr == nil && avail {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return &Error{Kind: ErrShutdownTimeout, ExitStatus: 1}
		}
		time.Sleep(opts.PollInterval)
	}
}

// Outcome describes the result of a status query.
type Outcome string

const (
	OutcomeRunningWithSnapshot Outcome = "running_with_snapshot"
	OutcomePidNoSnapshot       Outcome = "pid_no_snapshot"
	OutcomeListeningNoFiles    Outcome = "listening_no_runtime_files"
	OutcomeNotRunning          Outcome = "not_running"
)

// Status reports the daemon's current lifecycle state.
type StatusReport struct {
	Outcome  Outcome
	Snapshot *guard.HealthSnapshot
	Pid      int
}

// Status prefers a present health snapshot; otherwise falls back to pid
// presence and socket reachability.
func Status(opts Options) (StatusReport, error) {
	opts = opts.withDefaults()
	paths, err := runtime.DerivePaths(opts.Endpoint)
	if err != nil {
		return StatusReport{}, err
	}

	if snap, err := guard.ReadHealth(paths.Health); err == nil && snap != nil {
		return StatusReport{Outcome: OutcomeRunningWithSnapshot, Snapshot: snap}, nil
	}

	pid, pidErr := guard.ReadPid(paths.Pid)
	available, probeErr := runtime.Probe(opts.Endpoint, opts.ProbeTimeout)
	if probeErr != nil {
		return StatusReport{}, &Error{Kind: ErrSocketProbe, Cause: probeErr}
	}

	switch {
	case pidErr == nil:
		return StatusReport{Outcome: OutcomePidNoSnapshot, Pid: pid}, nil
	case !available:
		return StatusReport{Outcome: OutcomeListeningNoFiles}, nil
	default:
		return StatusReport{Outcome: OutcomeNotRunning}, nil
	}
}
