package model

// PositionSnapshot is the position payload emitted by fetch-position.
type PositionSnapshot struct {
	PositionMint   string `json:"positionMint"`
	Whirlpool      string `json:"whirlpool"`
	Liquidity      string `json:"liquidity"`
	TickLowerIndex int32  `json:"tickLowerIndex"`
	TickUpperIndex int32  `json:"tickUpperIndex"`
	LowerTick      int32  `json:"lowerTick"`
	UpperTick      int32  `json:"upperTick"`
	CurrentTick    int32  `json:"currentTick"`
	TickSpacing    int32  `json:"tickSpacing"`
	InRange        bool   `json:"inRange"`
	CurrentPrice   string `json:"currentPrice"`
	LowerPrice     string `json:"lowerPrice"`
	UpperPrice     string `json:"upperPrice"`
	FeeOwedA       string `json:"feeOwedA"`
	FeeOwedB       string `json:"feeOwedB"`
}
