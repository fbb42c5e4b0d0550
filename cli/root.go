package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	configDir   string
	dbPath      string
	logLevel    string
	workerCount int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "listing_canon",
	Short: "Canonicalize, validate and deduplicate real-estate listing pages",
	Long: `listing_canon turns saved or live listing pages from several sites into
one canonical, validated and deduplicated set of records.

Pages go through structured markup, embedded state and text pattern
extraction, are normalized to one schema, validated, given stable ids and
written as table rows. Rejected pages are kept in a rejection log.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "listing_canon v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory holding pipeline.yaml and sources/ (default $CONFIG_DIR or ./config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default $DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")
	rootCmd.PersistentFlags().IntVar(&workerCount, "workers", 0, "pages processed in parallel (default $WORKERS)")

	rootCmd.AddCommand(versionCmd)
}
