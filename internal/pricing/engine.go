package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// SourceTTL binds a candidate source to the cache lifetime of its results.
// Direct chain reads go stale block-to-block; aggregator results live longer
// because third-party rate limits dominate.
type SourceTTL struct {
	Source CandidateSource
	TTL    time.Duration
}

// EngineConfig tunes batch orchestration.
type EngineConfig struct {
	// BatchSize bounds how many tokens are priced concurrently.
	BatchSize int
	// BatchDelay paces consecutive batches to avoid saturating endpoints.
	BatchDelay time.Duration
}

// Engine is the price discovery entry point. It consults the cache, walks the
// configured candidate sources in order, selects the best pair, and memoises
// the result.
type Engine struct {
	sources  []SourceTTL
	selector *Selector
	cache    *Cache
	cfg      EngineConfig
	logger   zerolog.Logger
}

// NewEngine constructs an engine. Sources are consulted in the order given;
// a later source is only tried when an earlier one yields no selectable
// candidate.
func NewEngine(sources []SourceTTL, selector *Selector, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	return &Engine{
		sources:  sources,
		selector: selector,
		cache:    NewCache(),
		cfg:      cfg,
		logger:   logger.With().Str("component", "price_engine").Logger(),
	}
}

// GetPrice resolves the USD price for a single token. A nil result with a nil
// error means the token has no priceable liquidity; callers must omit the
// token's USD value rather than synthesise one.
func (e *Engine) GetPrice(ctx context.Context, token common.Address) (*PriceResult, error) {
	if cached, ok := e.cache.Get(token); ok {
		return &cached, nil
	}

	var lastErr error
	for _, entry := range e.sources {
		candidates, err := entry.Source.Candidates(ctx, token)
		if err != nil {
			e.logger.Warn().Err(err).Str("token", token.Hex()).
				Str("source", entry.Source.Name()).Msg("candidate source failed")
			lastErr = err
			continue
		}

		best := e.selector.SelectBest(candidates)
		if best == nil {
			continue
		}

		result := PriceResult{
			Token:        token,
			PriceUSD:     best.PriceUSD,
			LiquidityUSD: best.LiquidityUSD,
			Pair:         best.Pair,
			Reference:    best.Reference.Symbol,
			Source:       best.Source,
			Timestamp:    time.Now().UTC(),
		}
		e.cache.Put(token, result, entry.TTL)
		return &result, nil
	}

	if lastErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// No liquidity anywhere. Legitimate outcome, not cached: the next request
	// re-checks rather than pinning "unpriceable" for a TTL.
	return nil, nil
}

// GetPrices resolves prices for a token set with bounded concurrency and
// inter-batch pacing. The result map always contains an entry for every
// requested token; unpriceable or failed tokens map to nil.
func (e *Engine) GetPrices(ctx context.Context, tokens []common.Address) map[common.Address]*PriceResult {
	results := make(map[common.Address]*PriceResult, len(tokens))
	if len(tokens) == 0 {
		return results
	}

	// Dedupe while preserving completeness of the result keys.
	unique := make([]common.Address, 0, len(tokens))
	seen := make(map[common.Address]struct{}, len(tokens))
	for _, token := range tokens {
		results[token] = nil
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		unique = append(unique, token)
	}

	var mu sync.Mutex
	for start := 0; start < len(unique); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[start:end]

		var wg sync.WaitGroup
		wg.Add(len(batch))
		for _, token := range batch {
			go func(token common.Address) {
				defer wg.Done()

				result, err := e.GetPrice(ctx, token)
				if err != nil {
					e.logger.Warn().Err(err).Str("token", token.Hex()).Msg("price lookup failed")
					return
				}

				mu.Lock()
				results[token] = result
				mu.Unlock()
			}(token)
		}
		wg.Wait()

		if end < len(unique) && e.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(e.cfg.BatchDelay):
			}
		}
	}

	return results
}

// ClearCache drops all memoised prices. Exposed for user-initiated refresh.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}
