package endpoint

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ContractCaller is the narrow slice of the Ethereum client the reader needs.
// *ethclient.Client satisfies it; tests inject fakes.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Health describes the last observed state of an endpoint.
type Health int

const (
	Healthy Health = iota
	Degraded
)

func (h Health) String() string {
	if h == Degraded {
		return "degraded"
	}
	return "healthy"
}

// Endpoint is one configured RPC endpoint with its lazily dialed client.
type Endpoint struct {
	URL string

	mu       sync.Mutex
	client   ContractCaller
	health   Health
	failures int
	dial     DialFunc
}

// Client returns the endpoint's caller, dialing on first use.
func (e *Endpoint) Client(ctx context.Context) (ContractCaller, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := e.dial(ctx, e.URL)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

// Health reports the endpoint's current state.
func (e *Endpoint) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// DialFunc creates a caller for an endpoint URL.
type DialFunc func(ctx context.Context, url string) (ContractCaller, error)

// EthDial is the production DialFunc backed by ethclient.
func EthDial(ctx context.Context, url string) (ContractCaller, error) {
	return ethclient.DialContext(ctx, url)
}

// Pool rotates over configured RPC endpoints. Endpoints that fail repeatedly
// are moved to the back of the rotation, never removed: an RPC endpoint may
// recover, and the pool must stay usable even when every endpoint is degraded.
type Pool struct {
	mu       sync.Mutex
	rotation []*Endpoint
	next     int
	logger   zerolog.Logger
}

// ErrNoEndpoints indicates the pool was constructed without any URLs.
var ErrNoEndpoints = errors.New("endpoint: no rpc endpoints configured")

// NewPool builds a pool from endpoint URLs.
func NewPool(urls []string, dial DialFunc, logger zerolog.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	if dial == nil {
		dial = EthDial
	}

	rotation := make([]*Endpoint, 0, len(urls))
	for _, url := range urls {
		rotation = append(rotation, &Endpoint{URL: url, dial: dial})
	}

	return &Pool{
		rotation: rotation,
		logger:   logger.With().Str("component", "endpoint_pool").Logger(),
	}, nil
}

// Acquire returns the next endpoint in rotation. It always succeeds: a fully
// degraded pool still hands out endpoints to keep the system live.
func (p *Pool) Acquire() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep := p.rotation[p.next%len(p.rotation)]
	p.next++
	return ep
}

// ReportFailure marks the endpoint degraded and demotes it to the back of the
// rotation.
func (p *Pool) ReportFailure(ep *Endpoint) {
	ep.mu.Lock()
	ep.failures++
	ep.health = Degraded
	failures := ep.failures
	ep.mu.Unlock()

	p.mu.Lock()
	for i, candidate := range p.rotation {
		if candidate == ep {
			p.rotation = append(p.rotation[:i], p.rotation[i+1:]...)
			p.rotation = append(p.rotation, ep)
			break
		}
	}
	p.next = 0
	p.mu.Unlock()

	p.logger.Warn().Str("endpoint", ep.URL).Int("failures", failures).Msg("endpoint demoted")
}

// ReportSuccess restores the endpoint to healthy.
func (p *Pool) ReportSuccess(ep *Endpoint) {
	ep.mu.Lock()
	recovered := ep.health == Degraded
	ep.health = Healthy
	ep.failures = 0
	ep.mu.Unlock()

	if recovered {
		p.logger.Info().Str("endpoint", ep.URL).Msg("endpoint recovered")
	}
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rotation)
}
