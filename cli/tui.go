package cli

import (
	"github.com/spf13/cobra"

	"listing_canon/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse listings, rejections and runs in a terminal dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return tui.Run(store)
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
