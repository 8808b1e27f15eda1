package pricing

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AssetClass partitions reference assets for pair selection.
type AssetClass string

const (
	// ClassBridge is the chain's wrapped native currency (WPLS).
	ClassBridge AssetClass = "bridge"
	// ClassStable is a USD-anchored stablecoin.
	ClassStable AssetClass = "stable"
	// ClassMajor is a deep non-stable asset worth quoting against.
	ClassMajor AssetClass = "major"
	// ClassOther covers counterparts outside the configured reference set.
	ClassOther AssetClass = "other"
)

// ReferenceAsset is a configured counterpart asset tokens are priced against.
type ReferenceAsset struct {
	Symbol   string
	Address  common.Address
	Class    AssetClass
	Decimals int32
}

// PricedCandidate is one candidate trading pair for a token, already priced.
// Both the chain-backed and the aggregator-backed source produce this shape,
// so the selector never knows where a candidate came from.
type PricedCandidate struct {
	Token     common.Address
	Pair      common.Address
	Registry  string
	Reference ReferenceAsset

	PriceUSD             decimal.Decimal
	PriceInReference     decimal.Decimal
	LiquidityUSD         decimal.Decimal
	LiquidityInReference decimal.Decimal
	VolumeUSD24h         decimal.Decimal
	TxCount24h           int64

	Source string
}

// PriceResult is the final, immutable output of one pricing cycle for a token.
type PriceResult struct {
	Token        common.Address
	PriceUSD     decimal.Decimal
	LiquidityUSD decimal.Decimal
	Pair         common.Address
	Reference    string
	Source       string
	Timestamp    time.Time
}

// CandidateSource discovers and prices candidate pairs for a token.
type CandidateSource interface {
	Name() string
	Candidates(ctx context.Context, token common.Address) ([]PricedCandidate, error)
}
