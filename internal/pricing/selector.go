package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SelectorConfig tunes the pair ranking policy.
type SelectorConfig struct {
	// MinLiquidityUSD excludes near-empty pools before any ranking.
	MinLiquidityUSD float64
	// LiquidityScoreCap caps the liquidity term of the quality score.
	LiquidityScoreCap float64
	// OutlierRatio is the price/median ratio beyond which a candidate is
	// penalised.
	OutlierRatio float64
	// OutlierPenalty multiplies the score of a penalised candidate.
	OutlierPenalty float64
}

// Selector chooses the single best candidate pair for a token.
//
// Ranking is deterministic: bridge-paired candidates beat stablecoin-paired
// ones regardless of size (bridge pools are the deepest and most actively
// arbitraged), stablecoin-paired beat everything else, and the remainder is
// ranked by a quality score with a penalty for prices far from the bucket
// median.
type Selector struct {
	cfg SelectorConfig
}

// NewSelector constructs a Selector, filling unset config with defaults.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.MinLiquidityUSD <= 0 {
		cfg.MinLiquidityUSD = 1000
	}
	if cfg.LiquidityScoreCap <= 0 {
		cfg.LiquidityScoreCap = 100
	}
	if cfg.OutlierRatio <= 1 {
		cfg.OutlierRatio = 10
	}
	if cfg.OutlierPenalty <= 0 || cfg.OutlierPenalty > 1 {
		cfg.OutlierPenalty = 0.1
	}
	return &Selector{cfg: cfg}
}

// SelectBest returns the winning candidate, or nil when no candidate survives
// filtering. A nil result means the token has no priceable liquidity this
// cycle; it is not an error.
func (s *Selector) SelectBest(candidates []PricedCandidate) *PricedCandidate {
	eligible := make([]PricedCandidate, 0, len(candidates))
	floor := decimal.NewFromFloat(s.cfg.MinLiquidityUSD)
	for _, c := range candidates {
		if c.PriceUSD.Sign() <= 0 {
			continue
		}
		if c.LiquidityUSD.LessThan(floor) {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}

	// Deterministic input order regardless of discovery order.
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Pair.Hex() < eligible[j].Pair.Hex()
	})

	var bridge, stable, other []PricedCandidate
	for _, c := range eligible {
		switch c.Reference.Class {
		case ClassBridge:
			bridge = append(bridge, c)
		case ClassStable:
			stable = append(stable, c)
		default:
			other = append(other, c)
		}
	}

	// Bridge pairs are ranked in bridge-asset units, not USD, so a stale or
	// missing bridge price cannot reorder them.
	if len(bridge) > 0 {
		return maxBy(bridge, func(c PricedCandidate) decimal.Decimal {
			return c.LiquidityInReference
		})
	}
	if len(stable) > 0 {
		return maxBy(stable, func(c PricedCandidate) decimal.Decimal {
			return c.LiquidityUSD
		})
	}
	return s.bestScored(other)
}

func (s *Selector) bestScored(candidates []PricedCandidate) *PricedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	median := medianPrice(candidates)

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := s.qualityScore(c)
		if isOutlier(c.PriceUSD, median, s.cfg.OutlierRatio) {
			score *= s.cfg.OutlierPenalty
		}
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	winner := candidates[best]
	return &winner
}

func (s *Selector) qualityScore(c PricedCandidate) float64 {
	liquidity := c.LiquidityUSD.InexactFloat64() / 1000
	if liquidity > s.cfg.LiquidityScoreCap {
		liquidity = s.cfg.LiquidityScoreCap
	}

	volume := c.VolumeUSD24h.InexactFloat64() / 100
	if volume > 100 {
		volume = 100
	}

	txns := float64(c.TxCount24h)
	if txns > 50 {
		txns = 50
	}

	return liquidity*2 + volume + txns
}

func isOutlier(price, median decimal.Decimal, ratio float64) bool {
	if median.Sign() <= 0 || price.Sign() <= 0 {
		return false
	}
	limit := decimal.NewFromFloat(ratio)
	if price.Div(median).GreaterThan(limit) {
		return true
	}
	return median.Div(price).GreaterThan(limit)
}

func medianPrice(candidates []PricedCandidate) decimal.Decimal {
	prices := make([]decimal.Decimal, len(candidates))
	for i, c := range candidates {
		prices[i] = c.PriceUSD
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return prices[n/2-1].Add(prices[n/2]).Div(two)
}

func maxBy(candidates []PricedCandidate, key func(PricedCandidate) decimal.Decimal) *PricedCandidate {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if key(candidates[i]).GreaterThan(key(candidates[best])) {
			best = i
		}
	}
	winner := candidates[best]
	return &winner
}
