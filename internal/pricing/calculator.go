package pricing

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrZeroReserve indicates a pair with an empty or drained side. Callers must
// discard the candidate, not propagate a fatal error.
var ErrZeroReserve = errors.New("pricing: pair has a zero reserve")

var two = decimal.NewFromInt(2)

// PairQuote is the output of pricing one pair, denominated in the reference
// asset.
type PairQuote struct {
	// UnitPrice is the price of one target token in reference-asset units.
	UnitPrice decimal.Decimal
	// Liquidity estimates the pool depth as twice the reference-side reserve.
	Liquidity decimal.Decimal
}

// QuoteFromReserves converts the raw fixed-point reserve integers of a pair
// into a real-valued unit price and liquidity estimate. Reserves carry the
// native decimal precision of their tokens; normalising both sides first makes
// the ratio precision-independent:
//
//	unitPrice = (refReserve / 10^refDecimals) / (targetReserve / 10^targetDecimals)
func QuoteFromReserves(targetReserve, refReserve *big.Int, targetDecimals, refDecimals int32) (PairQuote, error) {
	if targetReserve == nil || refReserve == nil {
		return PairQuote{}, ErrZeroReserve
	}
	if targetReserve.Sign() == 0 || refReserve.Sign() == 0 {
		return PairQuote{}, ErrZeroReserve
	}

	target := decimal.NewFromBigInt(targetReserve, -targetDecimals)
	ref := decimal.NewFromBigInt(refReserve, -refDecimals)

	return PairQuote{
		UnitPrice: ref.Div(target),
		Liquidity: ref.Mul(two),
	}, nil
}
