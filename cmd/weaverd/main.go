// Package main is weaverd's entry point: it parses daemon flags,
// initialises a zap logger for boot diagnostics, and hands off to
// internal/bootstrap for the sequenced startup/shutdown that every
// component below the socket listener depends on.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leynos/weaverd/internal/audit"
	"github.com/leynos/weaverd/internal/backend"
	"github.com/leynos/weaverd/internal/bootstrap"
	"github.com/leynos/weaverd/internal/capability"
	"github.com/leynos/weaverd/internal/config"
	"github.com/leynos/weaverd/internal/dispatch"
	"github.com/leynos/weaverd/internal/handlers"
	"github.com/leynos/weaverd/internal/listener"
	"github.com/leynos/weaverd/internal/plugin"
	"github.com/leynos/weaverd/internal/router"
	"github.com/leynos/weaverd/internal/runtime"
	"github.com/leynos/weaverd/internal/sandbox"
)

var (
	configPath   string
	endpointFlag string
	verbose      bool
	logger       *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "weaverd",
	Short: "weaverd is the background orchestration daemon for the workspace fabric",
	Long: `weaverd is a background daemon providing request dispatch, LSP
capability negotiation, plugin sandboxing, and the double-lock safety
harness that gates every committed file change.

It has no interactive mode: run it under a supervisor and drive it
through weaverctl or a direct connection to its socket endpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialise logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to weaverd's YAML config file")
	rootCmd.PersistentFlags().StringVar(&endpointFlag, "endpoint", "", "override the configured socket endpoint (unix://... or tcp://host:port)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

// resolveEndpoint applies the --endpoint override; otherwise it loads
// the same config file bootstrap.Run will load and parses its
// configured endpoint, so the guard/paths sequencing and the listener
// bind to the identical socket.
func resolveEndpoint(override, cfgPath string) (runtime.Endpoint, error) {
	if override != "" {
		return runtime.ParseEndpoint(override)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return runtime.Endpoint{}, fmt.Errorf("weaverd: load config: %w", err)
	}
	return runtime.ParseEndpoint(cfg.Runtime.Endpoint)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	endpoint, err := resolveEndpoint(endpointFlag, configPath)
	if err != nil {
		return err
	}

	providers := map[backend.Kind]backend.Provider{
		backend.Semantic:   func(backend.Kind) error { return nil },
		backend.Syntactic:  func(backend.Kind) error { return nil },
		backend.Relational: func(backend.Kind) error { return nil },
	}

	return bootstrap.Run(bootstrap.Options{
		ConfigPath: configPath,
		Endpoint:   endpoint,
		Providers:  providers,
		Serve: func(result *bootstrap.Result) (func() error, error) {
			return serve(result, endpoint)
		},
	})
}

// serve wires every component downstream of bootstrap into a running
// listener: the capability host and its override-matrix watcher, the
// plugin registry/broker and its manifest watcher, the audit ledger,
// and the router handlers that bridge them to the wire protocol.
func serve(result *bootstrap.Result, endpoint runtime.Endpoint) (func() error, error) {
	cfg := result.Config

	matrix := capability.NewMatrix()
	capWatcher, err := capability.NewWatcher(cfg.Capability.MatrixPath, matrix)
	if err != nil {
		return nil, fmt.Errorf("weaverd: build capability watcher: %w", err)
	}
	if cfg.Capability.WatchMatrix {
		if err := capWatcher.Start(); err != nil {
			return nil, fmt.Errorf("weaverd: start capability watcher: %w", err)
		}
	}
	host := capability.NewHost(matrix)

	sb := sandbox.New(sandbox.Profile{
		ReadWritePaths:    cfg.Sandbox.ExecutableDirs,
		ExecutablePaths:   cfg.Sandbox.ExecutableDirs,
		EnvironmentPolicy: sandbox.EnvIsolated,
		NetworkPolicy:     sandbox.NetworkDeny,
		MaxThreads:        1,
	})
	// NetworkDeny above is the active policy for every plugin/tool spawn,
	// so the namespace-isolation primitive it implies must actually run.
	sb.UnshareNetwork = true
	registry := plugin.NewRegistry()
	pluginWatcher, err := plugin.NewWatcher(cfg.Plugins.ManifestDir, registry)
	if err != nil {
		return nil, fmt.Errorf("weaverd: build plugin watcher: %w", err)
	}
	if cfg.Plugins.WatchManifests {
		if err := pluginWatcher.Start(); err != nil {
			return nil, fmt.Errorf("weaverd: start plugin watcher: %w", err)
		}
	}
	broker := plugin.NewBroker(registry, sb)

	var ledger *audit.Ledger
	if cfg.Audit.Enabled {
		ledger, err = audit.Open(cfg.Audit.DBPath)
		if err != nil {
			return nil, fmt.Errorf("weaverd: open audit ledger: %w", err)
		}
	}

	// No language servers are wired up by default: concrete language
	// server processes are a named-interface collaborator outside this
	// repository's scope. Operators that need live observe.* results
	// populate this map (e.g. from config) before spawning real
	// lspadapter.Adapter instances; the fabric's routing, capability
	// negotiation, and safety harness all work the same regardless.
	backends := map[string]handlers.LSPCaller{}

	deps := &handlers.Deps{
		Host:                host,
		Backends:            backends,
		Broker:              broker,
		Ledger:              ledger,
		Diagnostics:         handlers.NewHostDiagnosticsSource(host, backends, 0),
		WarningsAreFailures: cfg.Verification.WarningsAreFailures,
	}
	r := router.New()
	handlers.Register(r, deps)

	ln, err := listener.Bind(endpoint)
	if err != nil {
		return nil, fmt.Errorf("weaverd: bind listener: %w", err)
	}
	handle := ln.Start(func(conn net.Conn) {
		dispatch.HandleConn(conn, r)
	})

	stop := func() error {
		pluginWatcher.Stop()
		capWatcher.Stop()
		err := handle.Shutdown()
		if ledger != nil {
			_ = ledger.Close()
		}
		return err
	}
	return stop, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
