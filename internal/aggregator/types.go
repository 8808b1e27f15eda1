package aggregator

// tokenPairsResponse is the aggregator's listing of all pairs for a token.
type tokenPairsResponse struct {
	SchemaVersion string     `json:"schemaVersion"`
	Pairs         []pairData `json:"pairs"`
}

// pairData is one trading pair as reported by the aggregator.
type pairData struct {
	ChainID     string         `json:"chainId"`
	DexID       string         `json:"dexId"`
	PairAddress string         `json:"pairAddress"`
	BaseToken   tokenInfo      `json:"baseToken"`
	QuoteToken  tokenInfo      `json:"quoteToken"`
	PriceNative string         `json:"priceNative"`
	PriceUSD    string         `json:"priceUsd"`
	Txns        pairTxns       `json:"txns"`
	Volume      pairVolume     `json:"volume"`
	Liquidity   *pairLiquidity `json:"liquidity"`
}

type tokenInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type pairTxns struct {
	H24 txnSummary `json:"h24"`
}

type txnSummary struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

type pairVolume struct {
	H24 float64 `json:"h24"`
}

// liquidity is nullable in the API, hence the pointer at the use site.
type pairLiquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}
