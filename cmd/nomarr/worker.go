package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr/pkg/config"
	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/processor"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
	"github.com/xiaden/nomarr/pkg/worker"
)

// workerCmd is the internal entrypoint the supervisor spawns; it is not part
// of the user-facing surface.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one worker process (spawned by the supervisor)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		queueType, _ := cmd.Flags().GetString("queue")
		workerID, _ := cmd.Flags().GetInt("id")
		configPath, _ := cmd.Flags().GetString("config")

		// Re-init logging under this worker's own process name; the shared
		// stderr stream relies on it to attribute interleaved lines.
		logLevel, _ := cmd.Root().PersistentFlags().GetString("log-level")
		logJSON, _ := cmd.Root().PersistentFlags().GetBool("log-json")
		log.Init(log.Config{
			Level:      logLevel,
			Process:    types.WorkerComponent(queueType, workerID),
			JSONOutput: logJSON,
		})

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(types.ExitFatalConfig)
		}

		proc, err := processor.NewExecProcessor(cfg.TaggerCommand)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build processor: %v\n", err)
			os.Exit(types.ExitFatalConfig)
		}

		restartCount := 0
		if env := os.Getenv("NOMARR_RESTART_COUNT"); env != "" {
			if n, err := strconv.Atoi(env); err == nil {
				restartCount = n
			}
		}

		w := worker.New(worker.Config{
			QueueType: queueType,
			WorkerID:  workerID,
			OpenStore: func() (storage.Store, error) {
				// Opened here, in the child: connections never cross the
				// spawn boundary.
				return storage.Open(cfg.DatabasePath)
			},
			Processor:             proc,
			PollInterval:          time.Duration(cfg.WorkerPollIntervalMS) * time.Millisecond,
			HeartbeatInterval:     time.Duration(cfg.WorkerHeartbeatMS) * time.Millisecond,
			RestartCount:          restartCount,
			CalibrationMinSamples: cfg.CalibrationMinSamples,
			RetryAttempts:         cfg.StorageRetryAttempts,
			RetryBackoff:          time.Duration(cfg.StorageRetryBackoffMS) * time.Millisecond,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		os.Exit(w.Run(ctx))
		return nil
	},
}

func init() {
	workerCmd.Flags().String("queue", "tag", "Queue type this worker serves")
	workerCmd.Flags().Int("id", 0, "Worker id, unique within its queue type")
}
