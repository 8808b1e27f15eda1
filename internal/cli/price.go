package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"plspricer/internal/app"
)

var priceJSON bool

var priceCmd = &cobra.Command{
	Use:   "price <token-address> [token-address...]",
	Short: "Resolve USD prices for one or more token contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("at least one token address is required")
		}

		opts := app.PriceOptions{
			Tokens:     args,
			JSONOutput: priceJSON,
		}

		return getApp().Price(cmd.Context(), opts)
	},
}

func init() {
	priceCmd.Flags().BoolVar(&priceJSON, "json", false, "Emit results as JSON")
}
