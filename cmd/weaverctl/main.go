// Package main implements weaverctl, the lifecycle client for weaverd:
// start/stop/status talk to the daemon's runtime files and socket; the
// audit subcommand is an operator convenience that reads the SQLite
// ledger directly and carries no wire-protocol stability guarantee.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leynos/weaverd/internal/audit"
	"github.com/leynos/weaverd/internal/config"
	"github.com/leynos/weaverd/internal/lifecycle"
	"github.com/leynos/weaverd/internal/runtime"
)

var (
	configPath string
	endpointOv string
	daemonBin  string
	auditLimit int
)

var rootCmd = &cobra.Command{
	Use:   "weaverctl",
	Short: "weaverctl controls a weaverd daemon instance",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "spawn weaverd and wait for it to become ready",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := lifecycleOptions()
		if err != nil {
			return err
		}
		if err := lifecycle.Start(opts, daemonBin); err != nil {
			return err
		}
		fmt.Println("weaverd is ready")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "signal a running weaverd to shut down and wait for it to exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := lifecycleOptions()
		if err != nil {
			return err
		}
		if err := lifecycle.Stop(opts); err != nil {
			return err
		}
		fmt.Println("weaverd stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report weaverd's current lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := lifecycleOptions()
		if err != nil {
			return err
		}
		report, err := lifecycle.Status(opts)
		if err != nil {
			return err
		}
		return printStatus(report)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "print recent entries from weaverd's audit ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ledger, err := audit.Open(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("open audit ledger: %w", err)
		}
		defer ledger.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records, err := ledger.Recent(ctx, auditLimit)
		if err != nil {
			return fmt.Errorf("read audit ledger: %w", err)
		}
		for _, rec := range records {
			line, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			fmt.Println(string(line))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to weaverd's YAML config file")
	rootCmd.PersistentFlags().StringVar(&endpointOv, "endpoint", "", "override the configured socket endpoint")
	startCmd.Flags().StringVar(&daemonBin, "daemon-bin", "", "path to the weaverd binary (default: $WEAVERD_BIN or PATH lookup)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of records to print, most recent first")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, auditCmd)
}

func lifecycleOptions() (lifecycle.Options, error) {
	endpoint, err := resolveEndpoint(endpointOv, configPath)
	if err != nil {
		return lifecycle.Options{}, err
	}
	return lifecycle.Options{Endpoint: endpoint}, nil
}

func resolveEndpoint(override, cfgPath string) (runtime.Endpoint, error) {
	if override != "" {
		return runtime.ParseEndpoint(override)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return runtime.Endpoint{}, fmt.Errorf("weaverctl: load config: %w", err)
	}
	return runtime.ParseEndpoint(cfg.Runtime.Endpoint)
}

func printStatus(report lifecycle.StatusReport) error {
	switch report.Outcome {
	case lifecycle.OutcomeRunningWithSnapshot:
		line, err := json.Marshal(report.Snapshot)
		if err != nil {
			return err
		}
		fmt.Printf("running: %s\n", line)
	case lifecycle.OutcomePidNoSnapshot:
		fmt.Printf("running (pid %d), no health snapshot yet\n", report.Pid)
	case lifecycle.OutcomeListeningNoFiles:
		fmt.Println("socket reachable but no pid/health files found")
	default:
		fmt.Println("not running")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
