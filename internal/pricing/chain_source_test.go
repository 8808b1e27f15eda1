package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	testToken    = common.HexToAddress("0x0000000000000000000000000000000000000777")
	testFactory1 = common.HexToAddress("0x0000000000000000000000000000000000000101")
	testFactory2 = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

// newAnchoredSource builds a ChainSource whose bridge resolves to 0.03 USD.
func newAnchoredSource(t *testing.T, reader *fakeReader, cfg ChainSourceConfig) *ChainSource {
	t.Helper()
	reader.addPair(common.Address{}, testAnchorPair,
		testBridge.Address, testStable.Address,
		scaled(1000, 18), scaled(30, 18))
	resolver := NewBridgeResolver(reader, BridgeResolverConfig{
		AnchorPair: testAnchorPair,
		Bridge:     testBridge,
		Stables:    []ReferenceAsset{testStable},
	}, noopLogger())
	return NewChainSource(reader, resolver, cfg, noopLogger())
}

func TestChainSourceDiscoversAcrossRegistriesAndAssets(t *testing.T) {
	reader := newFakeReader()

	bridgePair := common.HexToAddress("0x0000000000000000000000000000000000000201")
	stablePair := common.HexToAddress("0x0000000000000000000000000000000000000202")
	// 1,000,000 tokens vs 500 WPLS on v1; 2,000 tokens vs 100 DAI on v2.
	reader.addPair(testFactory1, bridgePair, testToken, testBridge.Address, scaled(1_000_000, 18), scaled(500, 18))
	reader.addPair(testFactory2, stablePair, testToken, testStable.Address, scaled(2000, 18), scaled(100, 18))

	source := newAnchoredSource(t, reader, ChainSourceConfig{
		Registries: []Registry{
			{Name: "v1", Factory: testFactory1},
			{Name: "v2", Factory: testFactory2},
		},
		Assets: []ReferenceAsset{testBridge, testStable},
	})

	candidates, err := source.Candidates(context.Background(), testToken)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}

	byPair := make(map[common.Address]PricedCandidate)
	for _, c := range candidates {
		byPair[c.Pair] = c
	}

	bridgeCand, ok := byPair[bridgePair]
	if !ok {
		t.Fatal("bridge pair candidate missing")
	}
	// 0.0005 WPLS per token at 0.03 USD/WPLS.
	if !bridgeCand.PriceUSD.Equal(decimal.RequireFromString("0.000015")) {
		t.Fatalf("bridge candidate USD = %s, want 0.000015", bridgeCand.PriceUSD)
	}
	if !bridgeCand.LiquidityInReference.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("bridge liquidity = %s WPLS, want 1000", bridgeCand.LiquidityInReference)
	}
	if bridgeCand.Registry != "v1" {
		t.Fatalf("registry = %q, want v1", bridgeCand.Registry)
	}

	stableCand, ok := byPair[stablePair]
	if !ok {
		t.Fatal("stable pair candidate missing")
	}
	if !stableCand.PriceUSD.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("stable candidate USD = %s, want 0.05", stableCand.PriceUSD)
	}
	if !stableCand.LiquidityUSD.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("stable liquidity USD = %s, want 200", stableCand.LiquidityUSD)
	}
}

func TestChainSourceSkipsMissingPairs(t *testing.T) {
	reader := newFakeReader()
	pair := common.HexToAddress("0x0000000000000000000000000000000000000201")
	reader.addPair(testFactory1, pair, testToken, testStable.Address, scaled(2000, 18), scaled(100, 18))
	// No pair registered on v2: the factory reports the zero address.

	source := newAnchoredSource(t, reader, ChainSourceConfig{
		Registries: []Registry{
			{Name: "v1", Factory: testFactory1},
			{Name: "v2", Factory: testFactory2},
		},
		Assets: []ReferenceAsset{testStable},
	})

	candidates, err := source.Candidates(context.Background(), testToken)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}
}

func TestChainSourceToleratesRegistryFailure(t *testing.T) {
	reader := newFakeReader()
	pair := common.HexToAddress("0x0000000000000000000000000000000000000201")
	reader.addPair(testFactory1, pair, testToken, testStable.Address, scaled(2000, 18), scaled(100, 18))
	reader.factoryErrs[testFactory2] = errors.New("registry down")

	source := newAnchoredSource(t, reader, ChainSourceConfig{
		Registries: []Registry{
			{Name: "v1", Factory: testFactory1},
			{Name: "v2", Factory: testFactory2},
		},
		Assets: []ReferenceAsset{testStable},
	})

	candidates, err := source.Candidates(context.Background(), testToken)
	if err != nil {
		t.Fatalf("partial registry failure must not abort discovery: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Pair != pair {
		t.Fatalf("candidates = %+v, want exactly the v1 pair", candidates)
	}
}

func TestChainSourcePinnedPairShortCircuitsDiscovery(t *testing.T) {
	reader := newFakeReader()
	pinned := common.HexToAddress("0x0000000000000000000000000000000000000300")
	discovered := common.HexToAddress("0x0000000000000000000000000000000000000201")
	reader.addPair(testFactory1, pinned, testToken, testStable.Address, scaled(2000, 18), scaled(100, 18))
	reader.addPair(testFactory1, discovered, testToken, testBridge.Address, scaled(1000, 18), scaled(50, 18))

	source := newAnchoredSource(t, reader, ChainSourceConfig{
		Registries:  []Registry{{Name: "v1", Factory: testFactory1}},
		Assets:      []ReferenceAsset{testBridge, testStable},
		PinnedPairs: map[common.Address]common.Address{testToken: pinned},
	})

	candidates, err := source.Candidates(context.Background(), testToken)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want only the pinned pair", len(candidates))
	}
	if candidates[0].Pair != pinned || candidates[0].Registry != "pinned" {
		t.Fatalf("candidate = %+v, want pinned pair", candidates[0])
	}
	if !candidates[0].PriceUSD.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("pinned price = %s, want 0.05", candidates[0].PriceUSD)
	}
}

func TestChainSourcePinnedPairFallsBackOnFailure(t *testing.T) {
	reader := newFakeReader()
	pinned := common.HexToAddress("0x0000000000000000000000000000000000000300")
	discovered := common.HexToAddress("0x0000000000000000000000000000000000000201")
	// The pinned pair is not registered in any factory, only addressed directly.
	reader.addPair(common.Address{}, pinned, testToken, testStable.Address, scaled(2000, 18), scaled(100, 18))
	reader.addPair(testFactory1, discovered, testToken, testStable.Address, scaled(4000, 18), scaled(100, 18))
	reader.reserveErrs[pinned] = errors.New("pair unreadable")

	source := newAnchoredSource(t, reader, ChainSourceConfig{
		Registries:  []Registry{{Name: "v1", Factory: testFactory1}},
		Assets:      []ReferenceAsset{testStable},
		PinnedPairs: map[common.Address]common.Address{testToken: pinned},
	})

	candidates, err := source.Candidates(context.Background(), testToken)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Pair != discovered {
		t.Fatalf("candidates = %+v, want the discovered pair", candidates)
	}
	if candidates[0].Registry == "pinned" {
		t.Fatal("broken pinned pair must not surface as a candidate")
	}
}

func TestChainSourceMajorAssetTwoHop(t *testing.T) {
	major := ReferenceAsset{
		Symbol:   "PLSX",
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000055"),
		Class:    ClassMajor,
		Decimals: 18,
	}

	reader := newFakeReader()
	majorBridgePair := common.HexToAddress("0x0000000000000000000000000000000000000401")
	tokenMajorPair := common.HexToAddress("0x0000000000000000000000000000000000000402")
	// PLSX trades at 2 WPLS (0.06 USD); token trades at 2 PLSX.
	reader.addPair(testFactory1, majorBridgePair, major.Address, testBridge.Address, scaled(100, 18), scaled(200, 18))
	reader.addPair(testFactory1, tokenMajorPair, testToken, major.Address, scaled(10, 18), scaled(20, 18))

	source := newAnchoredSource(t, reader, ChainSourceConfig{
		Registries: []Registry{{Name: "v1", Factory: testFactory1}},
		Assets:     []ReferenceAsset{testBridge, major},
	})

	candidates, err := source.Candidates(context.Background(), testToken)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}

	var found bool
	for _, c := range candidates {
		if c.Pair != tokenMajorPair {
			continue
		}
		found = true
		if !c.PriceUSD.Equal(decimal.RequireFromString("0.12")) {
			t.Fatalf("two-hop USD = %s, want 0.12", c.PriceUSD)
		}
	}
	if !found {
		t.Fatal("major-quoted candidate missing")
	}
}

func TestChainSourceMemoisesDecimals(t *testing.T) {
	reader := newFakeReader()
	pair := common.HexToAddress("0x0000000000000000000000000000000000000201")
	reader.addPair(testFactory1, pair, testToken, testStable.Address, scaled(2000, 18), scaled(100, 18))

	source := newAnchoredSource(t, reader, ChainSourceConfig{
		Registries: []Registry{{Name: "v1", Factory: testFactory1}},
		Assets:     []ReferenceAsset{testStable},
	})

	ctx := context.Background()
	if _, err := source.Candidates(ctx, testToken); err != nil {
		t.Fatal(err)
	}

	reader.mu.Lock()
	reader.decimals[testToken] = 6 // would change the price if re-read
	reader.mu.Unlock()

	candidates, err := source.Candidates(ctx, testToken)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 || !candidates[0].PriceUSD.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("memoised decimals ignored: %+v", candidates)
	}
}
