package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrBridgeUnavailable indicates the anchor pair could not be read this cycle.
// The resolver still returns its last known good price alongside it.
var ErrBridgeUnavailable = errors.New("pricing: bridge price unavailable")

// BridgeResolverConfig pins the bridge↔stablecoin anchor.
type BridgeResolverConfig struct {
	// AnchorPair is the fixed pair the bridge USD price is derived from.
	// Fixed rather than discovered: resolving the bridge price must never
	// itself require a bridge price.
	AnchorPair common.Address
	Bridge     ReferenceAsset
	// Stables lets the resolver find the anchor's stable side decimals
	// without an extra decimals() call.
	Stables       []ReferenceAsset
	FallbackPrice decimal.Decimal
	TTL           time.Duration
}

// BridgeResolver maintains the USD price of the wrapped-native bridge asset,
// always via the fixed anchor pair, cached under its own TTL.
type BridgeResolver struct {
	reader ChainReader
	cfg    BridgeResolverConfig
	logger zerolog.Logger

	mu        sync.Mutex
	price     decimal.Decimal
	updatedAt time.Time
	lastGood  decimal.Decimal

	// anchor orientation, resolved once
	oriented       bool
	bridgeIsToken0 bool
	stableDecimals int32
}

// NewBridgeResolver constructs a resolver seeded with the fallback constant.
func NewBridgeResolver(reader ChainReader, cfg BridgeResolverConfig, logger zerolog.Logger) *BridgeResolver {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	return &BridgeResolver{
		reader:   reader,
		cfg:      cfg,
		logger:   logger.With().Str("component", "bridge_resolver").Logger(),
		lastGood: cfg.FallbackPrice,
	}
}

// USDPrice returns the current bridge USD price. On anchor failure it returns
// the last known good value together with ErrBridgeUnavailable so callers can
// decide whether a degraded price is acceptable.
func (b *BridgeResolver) USDPrice(ctx context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.updatedAt.IsZero() && time.Since(b.updatedAt) < b.cfg.TTL {
		return b.price, nil
	}

	price, err := b.resolve(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Str("anchor_pair", b.cfg.AnchorPair.Hex()).
			Str("last_good", b.lastGood.String()).
			Msg("anchor pair unreadable, serving last known good bridge price")
		return b.lastGood, fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}

	b.price = price
	b.updatedAt = time.Now()
	b.lastGood = price
	return price, nil
}

// LastKnownGood returns the most recent successfully resolved price, or the
// configured fallback if none has resolved yet.
func (b *BridgeResolver) LastKnownGood() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastGood
}

// SeedLastKnownGood overrides the fallback anchor, e.g. with a persisted value
// from a previous run. Ignored once a live price has been resolved.
func (b *BridgeResolver) SeedLastKnownGood(price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updatedAt.IsZero() {
		b.lastGood = price
	}
}

func (b *BridgeResolver) resolve(ctx context.Context) (decimal.Decimal, error) {
	if err := b.orient(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	reserve0, reserve1, err := b.reader.GetReserves(ctx, b.cfg.AnchorPair)
	if err != nil {
		return decimal.Decimal{}, err
	}

	bridgeReserve, stableReserve := reserve0, reserve1
	if !b.bridgeIsToken0 {
		bridgeReserve, stableReserve = reserve1, reserve0
	}

	quote, err := QuoteFromReserves(bridgeReserve, stableReserve, b.cfg.Bridge.Decimals, b.stableDecimals)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return quote.UnitPrice, nil
}

// orient determines which side of the anchor pair is the bridge asset and the
// decimals of its stable counterpart. Resolved once per process.
func (b *BridgeResolver) orient(ctx context.Context) error {
	if b.oriented {
		return nil
	}

	token0, err := b.reader.Token0(ctx, b.cfg.AnchorPair)
	if err != nil {
		return err
	}

	b.bridgeIsToken0 = token0 == b.cfg.Bridge.Address

	stableAddr := token0
	if b.bridgeIsToken0 {
		token1, err := b.reader.Token1(ctx, b.cfg.AnchorPair)
		if err != nil {
			return err
		}
		stableAddr = token1
	}

	b.stableDecimals = -1
	for _, stable := range b.cfg.Stables {
		if stable.Address == stableAddr {
			b.stableDecimals = stable.Decimals
			break
		}
	}
	if b.stableDecimals < 0 {
		decimals, err := b.reader.Decimals(ctx, stableAddr)
		if err != nil {
			return err
		}
		b.stableDecimals = decimals
	}

	b.oriented = true
	return nil
}
