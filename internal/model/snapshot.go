package model

// PoolSnapshot is the published view of a pool after a committed mutation.
// Amounts are decimal strings scaled to human units.
type PoolSnapshot struct {
	ChainID          uint64 `json:"chain_id"`
	Pool             string `json:"pool"`
	Asset            string `json:"asset"`
	Event            string `json:"event"`
	Timestamp        int64  `json:"timestamp"`
	Price            string `json:"price"`
	DollarLiquidity  string `json:"dollar_liquidity"`
	VolumeUSD        string `json:"volume_usd"`
	PercentDayChange string `json:"percent_day_change"`
	MarketCapUSD     string `json:"market_cap_usd"`
}

// SwapPoint is one priced swap appended to the time-series sink.
type SwapPoint struct {
	ChainID     uint64
	Pool        string
	Asset       string
	TxHash      string
	LogIndex    uint32
	BlockNumber uint64
	Timestamp   int64
	Side        string
	AmountAsset string
	AmountQuote string
	PriceUSD    string
	VolumeUSD   string
}
