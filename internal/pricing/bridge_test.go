package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	testBridge = ReferenceAsset{
		Symbol:   "WPLS",
		Address:  common.HexToAddress("0x00000000000000000000000000000000000000AA"),
		Class:    ClassBridge,
		Decimals: 18,
	}
	testStable = ReferenceAsset{
		Symbol:   "DAI",
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000011"),
		Class:    ClassStable,
		Decimals: 18,
	}
	testAnchorPair = common.HexToAddress("0x00000000000000000000000000000000000000F0")
)

func newAnchoredReader(t *testing.T, bridgeReserve, stableReserve int64) *fakeReader {
	t.Helper()
	reader := newFakeReader()
	reader.addPair(common.Address{}, testAnchorPair,
		testBridge.Address, testStable.Address,
		scaled(bridgeReserve, 18), scaled(stableReserve, 18))
	return reader
}

func TestBridgeResolverResolvesFromAnchorPair(t *testing.T) {
	reader := newAnchoredReader(t, 1000, 30)
	resolver := NewBridgeResolver(reader, BridgeResolverConfig{
		AnchorPair: testAnchorPair,
		Bridge:     testBridge,
		Stables:    []ReferenceAsset{testStable},
	}, noopLogger())

	price, err := resolver.USDPrice(context.Background())
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("price = %s, want 0.03", price)
	}
}

func TestBridgeResolverCachesWithinTTL(t *testing.T) {
	reader := newAnchoredReader(t, 1000, 30)
	resolver := NewBridgeResolver(reader, BridgeResolverConfig{
		AnchorPair: testAnchorPair,
		Bridge:     testBridge,
		Stables:    []ReferenceAsset{testStable},
		TTL:        time.Minute,
	}, noopLogger())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := resolver.USDPrice(ctx); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if reader.reserveCalls != 1 {
		t.Fatalf("reserveCalls = %d, want 1", reader.reserveCalls)
	}
}

func TestBridgeResolverFallbackBeforeFirstResolve(t *testing.T) {
	reader := newAnchoredReader(t, 1000, 30)
	reader.reserveErrs[testAnchorPair] = errors.New("rpc down")
	fallback := decimal.RequireFromString("0.000025")
	resolver := NewBridgeResolver(reader, BridgeResolverConfig{
		AnchorPair:    testAnchorPair,
		Bridge:        testBridge,
		Stables:       []ReferenceAsset{testStable},
		FallbackPrice: fallback,
	}, noopLogger())

	price, err := resolver.USDPrice(context.Background())
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("err = %v, want ErrBridgeUnavailable", err)
	}
	if !price.Equal(fallback) {
		t.Fatalf("price = %s, want fallback %s", price, fallback)
	}
}

func TestBridgeResolverServesLastKnownGoodOnFailure(t *testing.T) {
	reader := newAnchoredReader(t, 1000, 30)
	resolver := NewBridgeResolver(reader, BridgeResolverConfig{
		AnchorPair: testAnchorPair,
		Bridge:     testBridge,
		Stables:    []ReferenceAsset{testStable},
		TTL:        time.Nanosecond,
	}, noopLogger())

	ctx := context.Background()
	if _, err := resolver.USDPrice(ctx); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}

	time.Sleep(time.Millisecond)
	reader.mu.Lock()
	reader.reserveErrs[testAnchorPair] = errors.New("rpc down")
	reader.mu.Unlock()

	price, err := resolver.USDPrice(ctx)
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("err = %v, want ErrBridgeUnavailable", err)
	}
	if !price.Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("price = %s, want last known good 0.03", price)
	}
}

func TestBridgeResolverSeedIgnoredAfterLiveResolve(t *testing.T) {
	reader := newAnchoredReader(t, 1000, 30)
	resolver := NewBridgeResolver(reader, BridgeResolverConfig{
		AnchorPair: testAnchorPair,
		Bridge:     testBridge,
		Stables:    []ReferenceAsset{testStable},
		TTL:        time.Minute,
	}, noopLogger())

	seed := decimal.RequireFromString("0.02")
	resolver.SeedLastKnownGood(seed)
	if !resolver.LastKnownGood().Equal(seed) {
		t.Fatalf("seed before resolve should apply, got %s", resolver.LastKnownGood())
	}

	if _, err := resolver.USDPrice(context.Background()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	resolver.SeedLastKnownGood(decimal.RequireFromString("9.99"))
	if !resolver.LastKnownGood().Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("seed after resolve should be ignored, got %s", resolver.LastKnownGood())
	}
}
