package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"plspricer/internal/endpoint"
)

var (
	// ErrReverted indicates the contract rejected the call. It is a
	// deterministic negative result and is never retried.
	ErrReverted = errors.New("chain: call reverted")
)

const (
	defaultTimeout   = 8 * time.Second
	defaultRetries   = 2
	defaultBaseDelay = 250 * time.Millisecond
)

// Options tune per-call behaviour of the Reader.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// Reader issues typed read-only contract calls through the endpoint pool.
// Transient network errors are retried with jittered exponential backoff
// against a freshly acquired endpoint; reverts surface immediately.
type Reader struct {
	pool   *endpoint.Pool
	opts   Options
	logger zerolog.Logger
}

// NewReader constructs a Reader over the given pool.
func NewReader(pool *endpoint.Pool, opts Options, logger zerolog.Logger) *Reader {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	return &Reader{
		pool:   pool,
		opts:   opts,
		logger: logger.With().Str("component", "chain_reader").Logger(),
	}
}

// GetPair asks a factory for the pair of tokenA/tokenB. The zero address means
// no such pair exists in that registry.
func (r *Reader) GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	data, err := factoryABI.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}

	out, err := r.call(ctx, factory, data)
	if err != nil {
		return common.Address{}, err
	}

	values, err := factoryABI.Unpack("getPair", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode getPair: %w", err)
	}
	pair, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("chain: unexpected getPair output")
	}
	return pair, nil
}

// GetReserves reads the raw reserve integers of a pair.
func (r *Reader) GetReserves(ctx context.Context, pair common.Address) (reserve0, reserve1 *big.Int, err error) {
	data := pairABI.Methods["getReserves"].ID

	out, err := r.call(ctx, pair, data)
	if err != nil {
		return nil, nil, err
	}

	// (uint112, uint112, uint32) packs into three 32-byte slots. The final
	// slot (blockTimestampLast) is ignored.
	if len(out) != 96 {
		return nil, nil, fmt.Errorf("chain: getReserves on %s returned %d bytes", pair.Hex(), len(out))
	}

	reserve0 = new(big.Int).SetBytes(out[0:32])
	reserve1 = new(big.Int).SetBytes(out[32:64])
	return reserve0, reserve1, nil
}

// Token0 returns the pair's token0 address.
func (r *Reader) Token0(ctx context.Context, pair common.Address) (common.Address, error) {
	return r.pairToken(ctx, pair, "token0")
}

// Token1 returns the pair's token1 address.
func (r *Reader) Token1(ctx context.Context, pair common.Address) (common.Address, error) {
	return r.pairToken(ctx, pair, "token1")
}

func (r *Reader) pairToken(ctx context.Context, pair common.Address, method string) (common.Address, error) {
	out, err := r.call(ctx, pair, pairABI.Methods[method].ID)
	if err != nil {
		return common.Address{}, err
	}

	values, err := pairABI.Unpack(method, out)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode %s: %w", method, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: unexpected %s output", method)
	}
	return addr, nil
}

// Decimals reads an ERC-20 token's decimal precision.
func (r *Reader) Decimals(ctx context.Context, token common.Address) (int32, error) {
	out, err := r.call(ctx, token, erc20ABI.Methods["decimals"].ID)
	if err != nil {
		return 0, err
	}

	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("decode decimals: %w", err)
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, errors.New("chain: unexpected decimals output")
	}
	return int32(decimals), nil
}

// call performs one eth_call with the configured timeout, rotating endpoints
// and retrying on transient failure.
func (r *Reader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, r.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		ep := r.pool.Acquire()
		out, err := r.callOnce(ctx, ep, to, data)
		if err == nil {
			r.pool.ReportSuccess(ep)
			return out, nil
		}

		if isRevert(err) {
			// The endpoint answered; the contract said no.
			r.pool.ReportSuccess(ep)
			return nil, ErrReverted
		}

		r.pool.ReportFailure(ep)
		lastErr = err
		r.logger.Debug().Err(err).Str("endpoint", ep.URL).Int("attempt", attempt+1).Msg("contract call failed")
	}

	return nil, fmt.Errorf("chain: call to %s failed: %w", to.Hex(), lastErr)
}

func (r *Reader) callOnce(parentCtx context.Context, ep *endpoint.Endpoint, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	client, err := ep.Client(ctx)
	if err != nil {
		return nil, err
	}

	return client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (r *Reader) backoff(attempt int) time.Duration {
	delay := r.opts.BaseDelay << uint(attempt-1)
	jitter := time.Duration(rand.Int63n(int64(r.opts.BaseDelay)))
	return delay + jitter
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}
