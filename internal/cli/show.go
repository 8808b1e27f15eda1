package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"plspricer/internal/app"
)

var (
	showToken string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent persisted price snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Token: showToken,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showToken, "token", "", "Filter snapshots to one token address")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of snapshots to display")
}
