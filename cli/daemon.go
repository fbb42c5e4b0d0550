package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"listing_canon/logging"
	"listing_canon/metrics"
	"listing_canon/models"
	"listing_canon/scheduler"
	"listing_canon/workers"
)

var runAtStart bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Re-run the batch on a schedule and serve metrics",
	Long: `Daemon re-processes $INPUT_DIR on SCHEDULE_CRON or SCHEDULE_INTERVAL and
exposes Prometheus metrics on $METRICS_ADDR until interrupted.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().BoolVar(&runAtStart, "now", false, "run one batch immediately at start")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
				logging.Errorf("metrics server: %v", err)
			}
		}()
	}

	sched := scheduler.New(a.cfg, a.orchestrator)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if a.archive != nil && a.cfg.Media.Interval > 0 {
		mediaWorker := workers.NewMediaWorker(a.cfg, a.sqlite, a.archive, a.clients.Scraping)
		mediaWorker.Log = func(level models.LogLevel, sourceID, message string) {
			if err := a.sqlite.Log(nil, level, message, sourceID); err != nil {
				logging.Warnf("run log: %v", err)
			}
		}
		go mediaWorker.Run(ctx)
	}

	if runAtStart {
		go func() {
			if err := sched.TriggerNow(ctx); err != nil {
				logging.Errorf("Initial run error: %v", err)
			}
		}()
	}

	logging.Infof("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Infof("Shutting down...")
	cancel()
	return nil
}
