package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"plspricer/internal/pricing"
)

// ErrRateLimited indicates the aggregator answered 429 and the request should
// be requeued after the backoff window.
var ErrRateLimited = errors.New("aggregator: rate limited")

const (
	tokenPairsPath     = "/latest/dex/tokens/"
	defaultRetryAfter  = 5 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultHTTPTimeout = 10 * time.Second
)

// Options parameterise the aggregator client.
type Options struct {
	BaseURL   string
	ChainID   string
	Timeout   time.Duration
	UserAgent string
	// MaxBackoff caps how long a 429 Retry-After is honoured.
	MaxBackoff time.Duration
}

// Client fetches pre-priced pairs from a DEX aggregator HTTP API and adapts
// them to pricing.PricedCandidate, so the selector treats them exactly like
// chain-read candidates.
type Client struct {
	opts    Options
	assets  map[common.Address]pricing.ReferenceAsset
	client  *http.Client
	baseURL string
	logger  zerolog.Logger

	mu           sync.Mutex
	backoffUntil time.Time
}

// NewClient constructs an aggregator client. The reference asset list is used
// to classify each pair's quote side for the selector's buckets.
func NewClient(opts Options, assets []pricing.ReferenceAsset, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	assetMap := make(map[common.Address]pricing.ReferenceAsset, len(assets))
	for _, asset := range assets {
		assetMap[asset.Address] = asset
	}

	return &Client{
		opts:    opts,
		assets:  assetMap,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// Name identifies this source in results and logs.
func (c *Client) Name() string { return "aggregator" }

// Candidates fetches all listed pairs for a token. On 429 the call backs off
// once for the server-indicated delay and retries; a second 429 opens a
// backoff window during which further calls fail fast with ErrRateLimited.
func (c *Client) Candidates(ctx context.Context, token common.Address) ([]pricing.PricedCandidate, error) {
	if remaining := c.backoffRemaining(); remaining > 0 {
		return nil, fmt.Errorf("%w: retry in %s", ErrRateLimited, remaining.Round(time.Millisecond))
	}

	pairs, retryAfter, err := c.fetchPairs(ctx, token)
	if errors.Is(err, ErrRateLimited) {
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		pairs, retryAfter, err = c.fetchPairs(ctx, token)
		if errors.Is(err, ErrRateLimited) {
			c.openBackoff(retryAfter)
		}
	}
	if err != nil {
		return nil, err
	}

	return c.adapt(token, pairs), nil
}

func (c *Client) fetchPairs(ctx context.Context, token common.Address) ([]pairData, time.Duration, error) {
	url := c.baseURL + tokenPairsPath + token.Hex()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, c.retryAfter(resp), ErrRateLimited
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("aggregator api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body tokenPairsResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, 0, fmt.Errorf("decode aggregator response: %w", err)
	}
	return body.Pairs, 0, nil
}

// adapt filters to this chain and token, then maps the aggregator's pair
// shape onto PricedCandidate.
func (c *Client) adapt(token common.Address, pairs []pairData) []pricing.PricedCandidate {
	candidates := make([]pricing.PricedCandidate, 0, len(pairs))
	for _, pair := range pairs {
		if c.opts.ChainID != "" && !strings.EqualFold(pair.ChainID, c.opts.ChainID) {
			continue
		}
		if !common.IsHexAddress(pair.BaseToken.Address) || common.HexToAddress(pair.BaseToken.Address) != token {
			continue
		}
		if !common.IsHexAddress(pair.PairAddress) {
			continue
		}

		priceUSD, err := decimal.NewFromString(pair.PriceUSD)
		if err != nil || priceUSD.Sign() <= 0 {
			continue
		}

		reference := pricing.ReferenceAsset{
			Symbol: pair.QuoteToken.Symbol,
			Class:  pricing.ClassOther,
		}
		if common.IsHexAddress(pair.QuoteToken.Address) {
			quote := common.HexToAddress(pair.QuoteToken.Address)
			reference.Address = quote
			if known, ok := c.assets[quote]; ok {
				reference = known
			}
		}

		var liquidityUSD, liquidityQuote decimal.Decimal
		if pair.Liquidity != nil {
			liquidityUSD = decimal.NewFromFloat(pair.Liquidity.USD)
			liquidityQuote = decimal.NewFromFloat(pair.Liquidity.Quote)
		}

		var priceNative decimal.Decimal
		if parsed, err := decimal.NewFromString(pair.PriceNative); err == nil {
			priceNative = parsed
		}

		candidates = append(candidates, pricing.PricedCandidate{
			Token:                token,
			Pair:                 common.HexToAddress(pair.PairAddress),
			Registry:             pair.DexID,
			Reference:            reference,
			PriceUSD:             priceUSD,
			PriceInReference:     priceNative,
			LiquidityUSD:         liquidityUSD,
			LiquidityInReference: liquidityQuote,
			VolumeUSD24h:         decimal.NewFromFloat(pair.Volume.H24),
			TxCount24h:           int64(pair.Txns.H24.Buys + pair.Txns.H24.Sells),
			Source:               c.Name(),
		})
	}
	return candidates
}

func (c *Client) retryAfter(resp *http.Response) time.Duration {
	retryAfter := defaultRetryAfter
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}
	if retryAfter > c.opts.MaxBackoff {
		retryAfter = c.opts.MaxBackoff
	}
	return retryAfter
}

func (c *Client) backoffRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Until(c.backoffUntil)
}

func (c *Client) openBackoff(d time.Duration) {
	c.mu.Lock()
	c.backoffUntil = time.Now().Add(d)
	c.mu.Unlock()
	c.logger.Warn().Dur("backoff", d).Msg("aggregator rate limited, opening backoff window")
}

var _ pricing.CandidateSource = (*Client)(nil)
