package pricing

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func scaled(units int64, decimals int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)
	return new(big.Int).Mul(big.NewInt(units), scale)
}

func TestQuoteFromReservesNormalisesDecimals(t *testing.T) {
	// 1000 target tokens at 18 decimals against 2000 reference tokens at 6
	// decimals must price at exactly 2.0 regardless of the precision gap.
	quote, err := QuoteFromReserves(scaled(1000, 18), scaled(2000, 6), 18, 6)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}

	if !quote.UnitPrice.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("期望价格 2, 实际 %s", quote.UnitPrice.String())
	}
	if !quote.Liquidity.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("期望流动性 4000, 实际 %s", quote.Liquidity.String())
	}
}

func TestQuoteFromReservesMatchingDecimals(t *testing.T) {
	quote, err := QuoteFromReserves(scaled(500, 18), scaled(250, 18), 18, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.UnitPrice.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected price 0.5, got %s", quote.UnitPrice.String())
	}
}

func TestQuoteFromReservesZeroReserve(t *testing.T) {
	if _, err := QuoteFromReserves(big.NewInt(0), scaled(1, 18), 18, 18); !errors.Is(err, ErrZeroReserve) {
		t.Fatalf("reserve0 为零应返回 ErrZeroReserve, 实际 %v", err)
	}
	if _, err := QuoteFromReserves(scaled(1, 18), big.NewInt(0), 18, 18); !errors.Is(err, ErrZeroReserve) {
		t.Fatalf("reserve1 为零应返回 ErrZeroReserve, 实际 %v", err)
	}
	if _, err := QuoteFromReserves(nil, nil, 18, 18); !errors.Is(err, ErrZeroReserve) {
		t.Fatalf("nil reserves should be ErrZeroReserve, got %v", err)
	}
}
