package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"plspricer/internal/pricing"
)

// Price resolves USD prices for the given token addresses and prints them.
func (a *App) Price(ctx context.Context, opts PriceOptions) error {
	tokens := make([]common.Address, 0, len(opts.Tokens))
	for _, raw := range opts.Tokens {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("invalid token address: %s", raw)
		}
		tokens = append(tokens, common.HexToAddress(raw))
	}

	engine, _, err := a.buildEngine()
	if err != nil {
		return err
	}

	results := engine.GetPrices(ctx, tokens)

	if opts.JSONOutput {
		return printJSON(tokens, results)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Token\tPrice (USD)\tLiquidity (USD)\tPair\tReference\tSource")
	for _, token := range tokens {
		result := results[token]
		if result == nil {
			fmt.Fprintf(writer, "%s\tunavailable\t\t\t\t\n", token.Hex())
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			token.Hex(),
			result.PriceUSD.StringFixed(10),
			result.LiquidityUSD.StringFixed(2),
			result.Pair.Hex(),
			result.Reference,
			result.Source,
		)
	}
	return writer.Flush()
}

type priceRow struct {
	Token        string  `json:"token"`
	PriceUSD     *string `json:"price_usd"`
	LiquidityUSD *string `json:"liquidity_usd,omitempty"`
	Pair         *string `json:"pair,omitempty"`
	Reference    *string `json:"reference,omitempty"`
	Source       *string `json:"source,omitempty"`
}

// printJSON emits one row per requested token; unpriceable tokens carry a
// null price, never zero.
func printJSON(tokens []common.Address, results map[common.Address]*pricing.PriceResult) error {
	rows := make([]priceRow, 0, len(tokens))
	for _, token := range tokens {
		row := priceRow{Token: token.Hex()}
		if result := results[token]; result != nil {
			price := result.PriceUSD.String()
			liquidity := result.LiquidityUSD.String()
			pair := result.Pair.Hex()
			reference := result.Reference
			source := result.Source
			row.PriceUSD = &price
			row.LiquidityUSD = &liquidity
			row.Pair = &pair
			row.Reference = &reference
			row.Source = &source
		}
		rows = append(rows, row)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}
