package model

// WithdrawResult is the payload emitted by withdraw-all. Amounts are in the
// smallest unit of each token, encoded as decimal strings.
type WithdrawResult struct {
	Success          bool     `json:"success"`
	PositionMint     string   `json:"positionMint,omitempty"`
	AmountAWithdrawn string   `json:"amountAWithdrawn"`
	AmountBWithdrawn string   `json:"amountBWithdrawn"`
	FeeCollectedA    string   `json:"feeCollectedA,omitempty"`
	FeeCollectedB    string   `json:"feeCollectedB,omitempty"`
	RewardsCollected []string `json:"rewardsCollected,omitempty"`
	TxID             string   `json:"txid,omitempty"`
	DryRun           bool     `json:"dryRun,omitempty"`
}
