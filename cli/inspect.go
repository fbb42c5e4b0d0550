package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"listing_canon/storage"
)

var (
	rejectionLimit int
	runLimit       int
	resetYes       bool
)

var rejectionsCmd = &cobra.Command{
	Use:   "rejections",
	Short: "Print the most recent rejected pages as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.ListRejections(context.Background(), rejectionLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show table sizes and recent batch runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.Counts(context.Background())
		if err != nil {
			return err
		}
		runs, err := store.RecentRuns(runLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		tables := make([]string, 0, len(counts))
		for t := range counts {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "STARTED\tSTATUS\tPAGES\tACCEPTED\tREJECTED\tDUPLICATES\tFETCH ERRORS\tINPUT")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.PagesSeen, r.Accepted,
				r.Rejected, r.Duplicates, r.FetchErrors, r.Input)
		}
		return w.Flush()
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every stored listing, rejection and run",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.ResetAllData(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All data cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rejectionsCmd, statusCmd, resetCmd)
	rejectionsCmd.Flags().IntVar(&rejectionLimit, "limit", 20, "number of entries to show")
	statusCmd.Flags().IntVar(&runLimit, "limit", 10, "number of runs to show")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the reset")
}

func openStore() (*storage.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return store, nil
}
