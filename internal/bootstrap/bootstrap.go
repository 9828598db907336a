// Package bootstrap sequences daemon startup: load configuration,
// initialise telemetry, prepare the socket parent directory, acquire
// the process guard, publish health snapshots, construct the backend
// registry, then block until shutdown is signalled.
package bootstrap

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leynos/weaverd/internal/backend"
	"github.com/leynos/weaverd/internal/config"
	"github.com/leynos/weaverd/internal/guard"
	"github.com/leynos/weaverd/internal/obslog"
	"github.com/leynos/weaverd/internal/runtime"
)

// Event names one bootstrap or backend lifecycle transition reported
// through a HealthReporter.
type Event string

const (
	EventBootstrapStarting  Event = "bootstrap_starting"
	EventBootstrapSucceeded Event = "bootstrap_succeeded"
	EventBootstrapFailed    Event = "bootstrap_failed"
	EventBackendStarting    Event = "backend_starting"
	EventBackendReady       Event = "backend_ready"
	EventBackendFailed      Event = "backend_failed"
)

// HealthReporter receives a callback for every bootstrap/backend
// lifecycle transition. Implementations must not block meaningfully;
// the obslog-backed default just logs.
type HealthReporter interface {
	Report(event Event, detail string)
}

// LoggingReporter is the default HealthReporter, writing to the boot
// log category.
type LoggingReporter struct{}

func (LoggingReporter) Report(event Event, detail string) {
	logger := obslog.Get(obslog.CategoryBoot)
	if detail == "" {
		logger.Info("%s", event)
	} else {
		logger.Info("%s: %s", event, detail)
	}
}

// Options configures one bootstrap run.
type Options struct {
	ConfigPath string
	Endpoint   runtime.Endpoint
	Reporter   HealthReporter
	Providers  map[backend.Kind]backend.Provider

	// Serve is invoked once bootstrap has published the Ready snapshot,
	// with the live Result. It must start serving in the background and
	// return a stop function; Run calls stop() after the shutdown signal
	// arrives, before releasing the guard. Nil means "nothing to serve"
	// (used by tests that only exercise the lock/pid/health sequencing).
	Serve func(*Result) (stop func() error, err error)
}

// Result holds the live objects a successful bootstrap produced, for
// the caller to wire into the listener and router.
type Result struct {
	Config   *config.Config
	Guard    *guard.Guard
	Registry *backend.Registry
}

// Run executes the bootstrap sequence and blocks until SIGINT/SIGTERM
// is received, then releases the guard and returns.
func Run(opts Options) error {
	reporter := opts.Reporter
	if reporter == nil {
		reporter = LoggingReporter{}
	}
	reporter.Report(EventBootstrapStarting, "")

	result, err := bootstrapOnce(opts, reporter)
	if err != nil {
		reporter.Report(EventBootstrapFailed, err.Error())
		return err
	}
	reporter.Report(EventBootstrapSucceeded, "")
	defer result.Guard.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var stop func() error
	if opts.Serve != nil {
		stop, err = opts.Serve(result)
		if err != nil {
			return fmt.Errorf("bootstrap: start serving: %w", err)
		}
	}

	<-sig

	if stop != nil {
		return stop()
	}
	return nil
}

func bootstrapOnce(opts Options, reporter HealthReporter) (*Result, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load config: %w", err)
	}

	if err := obslog.Initialize(runtimeDirFor(opts.Endpoint), cfg.Runtime.EnableFileLogging); err != nil {
		return nil, fmt.Errorf("bootstrap: initialise telemetry: %w", err)
	}

	if err := runtime.PrepareFilesystem(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("bootstrap: prepare socket directory: %w", err)
	}

	paths, err := runtime.DerivePaths(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: derive runtime paths: %w", err)
	}
	g, err := guard.Acquire(paths)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: acquire process guard: %w", err)
	}

	if err := g.WriteHealth(guard.StatusStarting); err != nil {
		g.Close()
		return nil, fmt.Errorf("bootstrap: publish starting snapshot: %w", err)
	}

	registry := backend.NewRegistry(wrapProviders(opts.Providers, reporter))

	if err := g.WriteHealth(guard.StatusReady); err != nil {
		g.Close()
		return nil, fmt.Errorf("bootstrap: publish ready snapshot: %w", err)
	}

	return &Result{Config: cfg, Guard: g, Registry: registry}, nil
}

func wrapProviders(providers map[backend.Kind]backend.Provider, reporter HealthReporter) map[backend.Kind]backend.Provider {
	wrapped := make(map[backend.Kind]backend.Provider, len(providers))
	for kind, provider := range providers {
		kind, provider := kind, provider
		wrapped[kind] = func(k backend.Kind) error {
			reporter.Report(EventBackendStarting, string(k))
			if err := provider(k); err != nil {
				reporter.Report(EventBackendFailed, fmt.Sprintf("%s: %v", k, err))
				return err
			}
			reporter.Report(EventBackendReady, string(k))
			return nil
		}
	}
	return wrapped
}

func runtimeDirFor(e runtime.Endpoint) string {
	paths, err := runtime.DerivePaths(e)
	if err != nil {
		return ""
	}
	return paths.Dir
}
