package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr/pkg/broker"
	"github.com/xiaden/nomarr/pkg/config"
	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/metrics"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the parent process: supervisor, state broker and metrics",
	Long: `Start the Nomarr parent process. It spawns the configured worker
processes, monitors their heartbeats, restarts them under the backoff policy
and serves derived state to subscribers through the broker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		// Explicit flags win over the config file; re-init logging once the
		// effective values are known.
		flags := cmd.Root().PersistentFlags()
		logLevel, _ := flags.GetString("log-level")
		logJSON, _ := flags.GetBool("log-json")
		if !flags.Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		if !flags.Changed("log-json") {
			logJSON = cfg.LogJSON
		}
		log.Init(log.Config{Level: logLevel, Process: "app", JSONOutput: logJSON})

		store, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open storage: %v", err)
		}
		defer store.Close()

		sup, err := supervisor.New(supervisorConfig(cfg, configPath, logLevel, logJSON), store)
		if err != nil {
			return fmt.Errorf("failed to create supervisor: %v", err)
		}
		if err := sup.Start(); err != nil {
			return fmt.Errorf("failed to start supervisor: %v", err)
		}

		b := broker.NewBroker(broker.Config{
			Tick:       time.Duration(cfg.BrokerTickMS) * time.Millisecond,
			BufferSize: cfg.BrokerBufferSize,
		}, store)
		b.Start()

		collector := metrics.NewCollector(store)
		collector.Start()

		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			go func() {
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					fmt.Fprintf(os.Stderr, "Metrics server error: %v\n", err)
				}
			}()
			fmt.Printf("Metrics available at http://%s/metrics\n", cfg.MetricsAddr)
		}

		fmt.Println("Nomarr is running. Press Ctrl+C to stop.")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		collector.Stop()
		b.Stop()
		sup.Stop()
		fmt.Println("Shutdown complete")
		return nil
	},
}

func supervisorConfig(cfg *config.Config, configPath, logLevel string, logJSON bool) supervisor.Config {
	backoff := make([]time.Duration, len(cfg.BackoffScheduleMS))
	for i, ms := range cfg.BackoffScheduleMS {
		backoff[i] = time.Duration(ms) * time.Millisecond
	}

	// Children re-execute this binary with the internal worker subcommand;
	// pass the config location and effective log settings through so their
	// lines interleave consistently on the shared stderr stream.
	var baseArgs []string
	if configPath != "" {
		baseArgs = append(baseArgs, "--config", configPath)
	}
	baseArgs = append(baseArgs, "--log-level", logLevel)
	if logJSON {
		baseArgs = append(baseArgs, "--log-json")
	}

	return supervisor.Config{
		WorkerCounts:      cfg.WorkerCounts,
		HeartbeatStale:    time.Duration(cfg.HeartbeatStaleMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.WorkerHeartbeatMS) * time.Millisecond,
		MonitorInterval:   time.Duration(cfg.MonitorIntervalMS) * time.Millisecond,
		ShutdownGrace:     time.Duration(cfg.ShutdownGraceMS) * time.Millisecond,
		Backoff:           backoff,
		RapidWindow:       time.Duration(cfg.RapidWindowMS) * time.Millisecond,
		RapidThreshold:    cfg.RapidThreshold,
		RetentionAge:      time.Duration(cfg.RetentionAgeMS) * time.Millisecond,
		BaseArgs:          baseArgs,
	}
}
