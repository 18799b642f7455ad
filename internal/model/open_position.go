package model

// OpenPositionResult is the payload emitted by open-position.
type OpenPositionResult struct {
	Success         bool    `json:"success"`
	PositionMint    string  `json:"positionMint"`
	LowerPrice      float64 `json:"lowerPrice"`
	UpperPrice      float64 `json:"upperPrice"`
	TokenADeposited string  `json:"tokenADeposited"`
	TokenBDeposited string  `json:"tokenBDeposited"`
	LiquidityDelta  string  `json:"liquidityDelta"`
	TxID            string  `json:"txid"`
}
