package model

import "time"

// RebalanceEvent records the outcome of one rebalance attempt for the journal.
type RebalanceEvent struct {
	CycleID         string    `json:"cycle_id"`
	Status          string    `json:"status"`
	Step            string    `json:"step"`
	Reason          string    `json:"reason,omitempty"`
	PoolAddress     string    `json:"pool_address"`
	OldPositionMint string    `json:"old_position_mint,omitempty"`
	NewPositionMint string    `json:"new_position_mint,omitempty"`
	LowerTick       int32     `json:"lower_tick,omitempty"`
	UpperTick       int32     `json:"upper_tick,omitempty"`
	SwapAction      string    `json:"swap_action,omitempty"`
	SwapAmount      string    `json:"swap_amount,omitempty"`
	Error           string    `json:"error,omitempty"`
	DryRun          bool      `json:"dry_run"`
	At              time.Time `json:"at"`
}

const (
	EventStatusComplete = "complete"
	EventStatusFailed   = "failed"
)
