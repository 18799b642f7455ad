package model

// PoolSnapshot is the pool payload emitted by fetch-pool.
type PoolSnapshot struct {
	Whirlpool        string `json:"whirlpool"`
	MintA            string `json:"mintA"`
	MintB            string `json:"mintB"`
	TickSpacing      int32  `json:"tickSpacing"`
	CurrentTick      int32  `json:"currentTick"`
	CurrentSqrtPrice string `json:"currentSqrtPrice"`
	CurrentPrice     string `json:"currentPrice"`
	Liquidity        string `json:"liquidity"`
	FeeRate          uint32 `json:"feeRate"`
}
