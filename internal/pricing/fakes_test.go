package pricing

import (
	"bytes"
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeReader is an in-memory ChainReader for tests.
type fakeReader struct {
	mu sync.Mutex

	pairs       map[string]common.Address
	reserves    map[common.Address][2]*big.Int
	token0s     map[common.Address]common.Address
	token1s     map[common.Address]common.Address
	decimals    map[common.Address]int32
	factoryErrs map[common.Address]error
	reserveErrs map[common.Address]error

	reserveCalls int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		pairs:       make(map[string]common.Address),
		reserves:    make(map[common.Address][2]*big.Int),
		token0s:     make(map[common.Address]common.Address),
		token1s:     make(map[common.Address]common.Address),
		decimals:    make(map[common.Address]int32),
		factoryErrs: make(map[common.Address]error),
		reserveErrs: make(map[common.Address]error),
	}
}

func pairKey(factory, a, b common.Address) string {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return factory.Hex() + "/" + a.Hex() + "/" + b.Hex()
}

// addPair registers a pair in a factory and stores its state with V2 token
// ordering (token0 is the smaller address).
func (f *fakeReader) addPair(factory, pair, tokenA, tokenB common.Address, reserveA, reserveB *big.Int) {
	token0, token1 := tokenA, tokenB
	reserve0, reserve1 := reserveA, reserveB
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		token0, token1 = tokenB, tokenA
		reserve0, reserve1 = reserveB, reserveA
	}
	f.pairs[pairKey(factory, tokenA, tokenB)] = pair
	f.reserves[pair] = [2]*big.Int{reserve0, reserve1}
	f.token0s[pair] = token0
	f.token1s[pair] = token1
}

func (f *fakeReader) GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.factoryErrs[factory]; ok {
		return common.Address{}, err
	}
	return f.pairs[pairKey(factory, tokenA, tokenB)], nil
}

func (f *fakeReader) GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls++
	if err, ok := f.reserveErrs[pair]; ok {
		return nil, nil, err
	}
	reserves, ok := f.reserves[pair]
	if !ok {
		return big.NewInt(0), big.NewInt(0), nil
	}
	return reserves[0], reserves[1], nil
}

func (f *fakeReader) Token0(ctx context.Context, pair common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token0s[pair], nil
}

func (f *fakeReader) Token1(ctx context.Context, pair common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token1s[pair], nil
}

func (f *fakeReader) Decimals(ctx context.Context, token common.Address) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if decimals, ok := f.decimals[token]; ok {
		return decimals, nil
	}
	return 18, nil
}

// stubSource is a canned CandidateSource for engine tests.
type stubSource struct {
	name string
	fn   func(token common.Address) ([]PricedCandidate, error)

	mu    sync.Mutex
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Candidates(ctx context.Context, token common.Address) ([]PricedCandidate, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(token)
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
