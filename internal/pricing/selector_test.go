package pricing

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func candidate(pair string, class AssetClass, priceUSD, liquidityUSD float64) PricedCandidate {
	return PricedCandidate{
		Pair:                 common.HexToAddress(pair),
		Reference:            ReferenceAsset{Symbol: string(class), Class: class},
		PriceUSD:             decimal.NewFromFloat(priceUSD),
		LiquidityUSD:         decimal.NewFromFloat(liquidityUSD),
		LiquidityInReference: decimal.NewFromFloat(liquidityUSD),
	}
}

func TestSelectBestPrefersBridgeBucket(t *testing.T) {
	selector := NewSelector(SelectorConfig{MinLiquidityUSD: 1})

	bridge := candidate("0xa", ClassBridge, 1.0, 100)
	stable := candidate("0xb", ClassStable, 1.0, 1_000_000)

	best := selector.SelectBest([]PricedCandidate{stable, bridge})
	if best == nil {
		t.Fatal("应返回候选")
	}
	if best.Reference.Class != ClassBridge {
		t.Fatalf("桥接资产桶应优先于稳定币桶, 实际选中 %s", best.Reference.Class)
	}
}

func TestSelectBestHighestLiquidityWithinBucket(t *testing.T) {
	selector := NewSelector(SelectorConfig{})

	shallow := candidate("0xa", ClassStable, 1.0, 5_000)
	deep := candidate("0xb", ClassStable, 1.0, 50_000)

	best := selector.SelectBest([]PricedCandidate{shallow, deep})
	if best == nil || best.Pair != deep.Pair {
		t.Fatalf("同桶内应选流动性最高者: %#v", best)
	}
}

func TestSelectBestLiquidityFloor(t *testing.T) {
	selector := NewSelector(SelectorConfig{MinLiquidityUSD: 1000})

	dust := candidate("0xa", ClassStable, 1.0, 999)
	if best := selector.SelectBest([]PricedCandidate{dust}); best != nil {
		t.Fatalf("低于流动性下限的候选不应入选: %#v", best)
	}
}

func TestSelectBestOutlierPenalty(t *testing.T) {
	selector := NewSelector(SelectorConfig{MinLiquidityUSD: 1, OutlierRatio: 10, OutlierPenalty: 0.1})

	// Equal base scores: identical liquidity, volume, and tx counts.
	normal1 := candidate("0xa", ClassOther, 1.0, 10_000)
	normal2 := candidate("0xb", ClassOther, 1.05, 10_000)
	outlier := candidate("0xc", ClassOther, 50.0, 10_000)

	best := selector.SelectBest([]PricedCandidate{outlier, normal1, normal2})
	if best == nil {
		t.Fatal("应返回候选")
	}
	if best.Pair == outlier.Pair {
		t.Fatal("偏离中位数 10 倍以上的候选不应入选")
	}
}

func TestSelectBestScoresVolumeAndTxns(t *testing.T) {
	selector := NewSelector(SelectorConfig{MinLiquidityUSD: 1})

	quiet := candidate("0xa", ClassOther, 1.0, 10_000)
	active := candidate("0xb", ClassOther, 1.0, 10_000)
	active.VolumeUSD24h = decimal.NewFromInt(50_000)
	active.TxCount24h = 200

	best := selector.SelectBest([]PricedCandidate{quiet, active})
	if best == nil || best.Pair != active.Pair {
		t.Fatalf("equal liquidity should be broken by volume and tx count: %#v", best)
	}
}

func TestSelectBestEmptyInput(t *testing.T) {
	selector := NewSelector(SelectorConfig{})
	if best := selector.SelectBest(nil); best != nil {
		t.Fatalf("无候选时应返回 nil, 实际 %#v", best)
	}
}

func TestSelectBestRejectsNonPositivePrices(t *testing.T) {
	selector := NewSelector(SelectorConfig{MinLiquidityUSD: 1})
	zero := candidate("0xa", ClassStable, 0, 10_000)
	if best := selector.SelectBest([]PricedCandidate{zero}); best != nil {
		t.Fatalf("零价格候选不应入选: %#v", best)
	}
}
