package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clmmRebalancer/internal/model"
)

// ErrCorruptState marks a persisted state that cannot be decoded.
var ErrCorruptState = errors.New("corrupt workflow state")

// Record is the persisted JSON encoding of WorkflowState. WithdrawnAmounts
// is kept as raw JSON so keys the executor adds survive a rewrite.
type Record struct {
	CurrentPositionMint *string         `json:"current_position_mint"`
	LastRebalance       *string         `json:"last_rebalance"`
	PendingRebalance    bool            `json:"pending_rebalance"`
	PendingStep         *string         `json:"pending_step"`
	WithdrawnAmounts    json.RawMessage `json:"withdrawn_amounts"`
}

// ToRecord encodes a state for persistence.
func ToRecord(s WorkflowState) Record {
	var rec Record
	if s.PositionMint != "" {
		mint := s.PositionMint
		rec.CurrentPositionMint = &mint
	}
	if s.LastRebalance != nil {
		ts := s.LastRebalance.UTC().Format(time.RFC3339Nano)
		rec.LastRebalance = &ts
	}
	if step := s.Step(); step != StepNone {
		name := string(step)
		rec.PendingRebalance = true
		rec.PendingStep = &name
	}
	switch p := s.Pending.(type) {
	case Swap:
		rec.WithdrawnAmounts = encodeWithdrawn(p.Withdrawn, p.Raw)
	case OpenPosition:
		rec.WithdrawnAmounts = encodeWithdrawn(p.Withdrawn, p.Raw)
	}
	return rec
}

func encodeWithdrawn(w model.WithdrawResult, raw json.RawMessage) json.RawMessage {
	if !isNullJSON(raw) {
		return append(json.RawMessage(nil), raw...)
	}
	// WithdrawResult holds only strings and bools.
	data, _ := json.Marshal(w)
	return data
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// FromRecord decodes and validates a persisted record.
func FromRecord(rec Record) (WorkflowState, error) {
	st := Default()
	if rec.CurrentPositionMint != nil {
		st.PositionMint = *rec.CurrentPositionMint
	}
	if rec.LastRebalance != nil && *rec.LastRebalance != "" {
		ts, err := parseTimestamp(*rec.LastRebalance)
		if err != nil {
			return WorkflowState{}, fmt.Errorf("%w: last_rebalance: %v", ErrCorruptState, err)
		}
		st.LastRebalance = &ts
	}

	step := StepNone
	if rec.PendingStep != nil {
		step = Step(*rec.PendingStep)
	}
	if rec.PendingRebalance != (step != StepNone) {
		return WorkflowState{}, fmt.Errorf("%w: pending_rebalance=%t with pending_step %q", ErrCorruptState, rec.PendingRebalance, step)
	}

	switch step {
	case StepNone, StepWithdraw:
		if !isNullJSON(rec.WithdrawnAmounts) {
			return WorkflowState{}, fmt.Errorf("%w: withdrawn_amounts set at step %q", ErrCorruptState, step)
		}
		if step == StepWithdraw {
			st.Pending = Withdraw{}
		}
	case StepSwap, StepOpenPosition:
		if isNullJSON(rec.WithdrawnAmounts) {
			return WorkflowState{}, fmt.Errorf("%w: withdrawn_amounts missing at step %q", ErrCorruptState, step)
		}
		var w model.WithdrawResult
		if err := json.Unmarshal(rec.WithdrawnAmounts, &w); err != nil {
			return WorkflowState{}, fmt.Errorf("%w: withdrawn_amounts: %v", ErrCorruptState, err)
		}
		raw := append(json.RawMessage(nil), rec.WithdrawnAmounts...)
		if step == StepSwap {
			st.Pending = Swap{Withdrawn: w, Raw: raw}
		} else {
			st.Pending = OpenPosition{Withdrawn: w, Raw: raw}
		}
	default:
		return WorkflowState{}, fmt.Errorf("%w: unknown pending_step %q", ErrCorruptState, step)
	}
	return st, nil
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return ts.UTC(), nil
	}
	// Naive timestamps are taken as UTC.
	if naive, naiveErr := time.Parse("2006-01-02T15:04:05.999999999", value); naiveErr == nil {
		return naive, nil
	}
	return time.Time{}, err
}
