package pricing

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"plspricer/internal/chain"
)

// ChainReader is the read-only contract surface the pricing layer needs.
// *chain.Reader satisfies it; tests inject fakes.
type ChainReader interface {
	GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error)
	GetReserves(ctx context.Context, pair common.Address) (reserve0, reserve1 *big.Int, err error)
	Token0(ctx context.Context, pair common.Address) (common.Address, error)
	Token1(ctx context.Context, pair common.Address) (common.Address, error)
	Decimals(ctx context.Context, token common.Address) (int32, error)
}

// Registry is one AMM factory to discover pairs from.
type Registry struct {
	Name    string
	Factory common.Address
}

// ChainSourceConfig parameterises on-chain candidate discovery.
type ChainSourceConfig struct {
	Registries []Registry
	Assets     []ReferenceAsset
	// PinnedPairs forces a specific pair per token, consulted before general
	// discovery. A data-quality override for tokens where discovery picks a
	// bad pool.
	PinnedPairs map[common.Address]common.Address
}

// ChainSource discovers candidate pairs on-chain by walking the cross-product
// of configured registries and reference assets, then prices each candidate
// from its reserves.
type ChainSource struct {
	reader ChainReader
	bridge *BridgeResolver
	cfg    ChainSourceConfig
	logger zerolog.Logger

	decimalsMu sync.RWMutex
	decimals   map[common.Address]int32
}

// NewChainSource constructs the chain-backed candidate source.
func NewChainSource(reader ChainReader, bridge *BridgeResolver, cfg ChainSourceConfig, logger zerolog.Logger) *ChainSource {
	return &ChainSource{
		reader:   reader,
		bridge:   bridge,
		cfg:      cfg,
		logger:   logger.With().Str("component", "chain_source").Logger(),
		decimals: make(map[common.Address]int32),
	}
}

// Name identifies this source in results and logs.
func (s *ChainSource) Name() string { return "chain" }

// Candidates enumerates and prices every discoverable pair for token.
// Individual registry or pair failures narrow the candidate set; they never
// abort discovery.
func (s *ChainSource) Candidates(ctx context.Context, token common.Address) ([]PricedCandidate, error) {
	targetDecimals, err := s.tokenDecimals(ctx, token)
	if err != nil {
		return nil, err
	}

	if pinned, ok := s.cfg.PinnedPairs[token]; ok {
		candidate, err := s.pricePinned(ctx, token, targetDecimals, pinned)
		if err != nil {
			s.logger.Warn().Err(err).Str("token", token.Hex()).Str("pair", pinned.Hex()).
				Msg("pinned pair unusable, falling back to discovery")
		} else {
			return []PricedCandidate{*candidate}, nil
		}
	}

	bridgeUSD := s.bridgeUSD(ctx)

	var candidates []PricedCandidate
	for _, registry := range s.cfg.Registries {
		for _, asset := range s.cfg.Assets {
			if asset.Address == token {
				continue
			}

			pair, err := s.reader.GetPair(ctx, registry.Factory, token, asset.Address)
			if err != nil {
				if !errors.Is(err, chain.ErrReverted) {
					s.logger.Debug().Err(err).Str("registry", registry.Name).
						Str("asset", asset.Symbol).Msg("pair lookup failed")
				}
				continue
			}
			if pair == (common.Address{}) {
				continue
			}

			candidate, err := s.priceCandidate(ctx, token, targetDecimals, pair, registry.Name, asset, bridgeUSD)
			if err != nil {
				if !errors.Is(err, ErrZeroReserve) {
					s.logger.Debug().Err(err).Str("pair", pair.Hex()).Msg("candidate pricing failed")
				}
				continue
			}
			candidates = append(candidates, *candidate)
		}
	}

	return candidates, nil
}

// priceCandidate reads a pair's reserves and converts them into a USD-priced
// candidate. Pair side orientation follows the V2 invariant that token0 is
// the numerically smaller address.
func (s *ChainSource) priceCandidate(
	ctx context.Context,
	token common.Address,
	targetDecimals int32,
	pair common.Address,
	registry string,
	asset ReferenceAsset,
	bridgeUSD decimal.Decimal,
) (*PricedCandidate, error) {
	reserve0, reserve1, err := s.reader.GetReserves(ctx, pair)
	if err != nil {
		return nil, err
	}

	targetReserve, refReserve := reserve0, reserve1
	if bytes.Compare(token.Bytes(), asset.Address.Bytes()) > 0 {
		targetReserve, refReserve = reserve1, reserve0
	}

	quote, err := QuoteFromReserves(targetReserve, refReserve, targetDecimals, asset.Decimals)
	if err != nil {
		return nil, err
	}

	refUSD, err := s.referenceUSD(ctx, asset, bridgeUSD)
	if err != nil {
		return nil, err
	}

	return &PricedCandidate{
		Token:                token,
		Pair:                 pair,
		Registry:             registry,
		Reference:            asset,
		PriceUSD:             quote.UnitPrice.Mul(refUSD),
		PriceInReference:     quote.UnitPrice,
		LiquidityUSD:         quote.Liquidity.Mul(refUSD),
		LiquidityInReference: quote.Liquidity,
		Source:               s.Name(),
	}, nil
}

// referenceUSD anchors a reference asset in USD: stables are 1.0 by
// definition, the bridge asset comes from the resolver, and major assets are
// two-hopped through their own deepest bridge pair.
func (s *ChainSource) referenceUSD(ctx context.Context, asset ReferenceAsset, bridgeUSD decimal.Decimal) (decimal.Decimal, error) {
	switch asset.Class {
	case ClassStable:
		return decimal.NewFromInt(1), nil
	case ClassBridge:
		if bridgeUSD.Sign() <= 0 {
			return decimal.Decimal{}, ErrBridgeUnavailable
		}
		return bridgeUSD, nil
	case ClassMajor:
		return s.majorUSD(ctx, asset, bridgeUSD)
	default:
		return decimal.Decimal{}, errors.New("pricing: reference asset has no USD anchor")
	}
}

// majorUSD prices a major-class reference asset via its deepest pair against
// the bridge asset across all registries.
func (s *ChainSource) majorUSD(ctx context.Context, asset ReferenceAsset, bridgeUSD decimal.Decimal) (decimal.Decimal, error) {
	if bridgeUSD.Sign() <= 0 {
		return decimal.Decimal{}, ErrBridgeUnavailable
	}

	bridge, ok := s.bridgeAsset()
	if !ok {
		return decimal.Decimal{}, errors.New("pricing: no bridge asset configured")
	}

	var bestQuote PairQuote
	found := false
	for _, registry := range s.cfg.Registries {
		pair, err := s.reader.GetPair(ctx, registry.Factory, asset.Address, bridge.Address)
		if err != nil || pair == (common.Address{}) {
			continue
		}

		reserve0, reserve1, err := s.reader.GetReserves(ctx, pair)
		if err != nil {
			continue
		}

		majorReserve, bridgeReserve := reserve0, reserve1
		if bytes.Compare(asset.Address.Bytes(), bridge.Address.Bytes()) > 0 {
			majorReserve, bridgeReserve = reserve1, reserve0
		}

		quote, err := QuoteFromReserves(majorReserve, bridgeReserve, asset.Decimals, bridge.Decimals)
		if err != nil {
			continue
		}
		if !found || quote.Liquidity.GreaterThan(bestQuote.Liquidity) {
			bestQuote = quote
			found = true
		}
	}

	if !found {
		return decimal.Decimal{}, errors.New("pricing: no bridge pair for major asset " + asset.Symbol)
	}
	return bestQuote.UnitPrice.Mul(bridgeUSD), nil
}

// pricePinned prices a configured override pair by reading both sides.
func (s *ChainSource) pricePinned(ctx context.Context, token common.Address, targetDecimals int32, pair common.Address) (*PricedCandidate, error) {
	token0, err := s.reader.Token0(ctx, pair)
	if err != nil {
		return nil, err
	}
	token1, err := s.reader.Token1(ctx, pair)
	if err != nil {
		return nil, err
	}

	var counterpart common.Address
	switch token {
	case token0:
		counterpart = token1
	case token1:
		counterpart = token0
	default:
		return nil, errors.New("pricing: pinned pair does not contain token")
	}

	asset, ok := s.lookupAsset(counterpart)
	if !ok {
		decimals, err := s.tokenDecimals(ctx, counterpart)
		if err != nil {
			return nil, err
		}
		asset = ReferenceAsset{Symbol: counterpart.Hex(), Address: counterpart, Class: ClassOther, Decimals: decimals}
	}

	return s.priceCandidate(ctx, token, targetDecimals, pair, "pinned", asset, s.bridgeUSD(ctx))
}

// bridgeUSD fetches the bridge price once per discovery pass. Degraded values
// (last known good) are still used; only a non-positive price disables
// bridge-quoted candidates.
func (s *ChainSource) bridgeUSD(ctx context.Context) decimal.Decimal {
	price, err := s.bridge.USDPrice(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("using degraded bridge price")
	}
	return price
}

func (s *ChainSource) bridgeAsset() (ReferenceAsset, bool) {
	for _, asset := range s.cfg.Assets {
		if asset.Class == ClassBridge {
			return asset, true
		}
	}
	return ReferenceAsset{}, false
}

func (s *ChainSource) lookupAsset(addr common.Address) (ReferenceAsset, bool) {
	for _, asset := range s.cfg.Assets {
		if asset.Address == addr {
			return asset, true
		}
	}
	return ReferenceAsset{}, false
}

// tokenDecimals memoises decimals() reads; a token's precision never changes.
func (s *ChainSource) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	s.decimalsMu.RLock()
	decimals, ok := s.decimals[token]
	s.decimalsMu.RUnlock()
	if ok {
		return decimals, nil
	}

	if asset, ok := s.lookupAsset(token); ok {
		return asset.Decimals, nil
	}

	decimals, err := s.reader.Decimals(ctx, token)
	if err != nil {
		return 0, err
	}

	s.decimalsMu.Lock()
	s.decimals[token] = decimals
	s.decimalsMu.Unlock()
	return decimals, nil
}
