package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is one watch-cycle observation of a token's price.
type PriceSnapshot struct {
	Bucket       time.Time
	Token        string
	PriceUSD     decimal.Decimal
	LiquidityUSD decimal.Decimal
	PairAddress  string
	Reference    string
	Source       string
	Status       string
	Error        *string
	CreatedAt    time.Time
}

// Snapshot status values. "no_liquidity" is a complete observation of an
// unpriceable token, not a failure.
const (
	SnapshotComplete    = "complete"
	SnapshotNoLiquidity = "no_liquidity"
	SnapshotErrored     = "errored"
)

// BridgePrice is the persisted last-known-good bridge USD anchor.
type BridgePrice struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// AlertRecord captures an emitted price-move alert for auditing.
type AlertRecord struct {
	ID           int64
	Bucket       time.Time
	Token        string
	PreviousUSD  decimal.Decimal
	CurrentUSD   decimal.Decimal
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}
