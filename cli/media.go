package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"listing_canon/workers"
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Mirror one batch of listing images into the S3 archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.archive == nil {
			return fmt.Errorf("media archive needs S3_BUCKET")
		}

		w := workers.NewMediaWorker(a.cfg, a.sqlite, a.archive, a.clients.Scraping)
		processed, failed, err := w.RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "%d uploaded, %d failed\n", processed, failed)
		return err
	},
}

func init() {
	rootCmd.AddCommand(mediaCmd)
}
