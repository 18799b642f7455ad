package state

import (
	"encoding/json"
	"time"

	"clmmRebalancer/internal/model"
)

// Step names a workflow step that may be pending.
type Step string

const (
	StepNone         Step = ""
	StepWithdraw     Step = "withdraw"
	StepSwap         Step = "swap"
	StepOpenPosition Step = "open_position"
)

// Phase is the workflow position. Exactly one of Idle, Withdraw, Swap or
// OpenPosition. Phases past withdrawal carry the withdrawn amounts.
type Phase interface {
	Step() Step
	isPhase()
}

type Idle struct{}

type Withdraw struct{}

// Swap and OpenPosition keep the withdraw payload twice: typed for the
// planner, and Raw as it was loaded, which is written back verbatim. Raw
// is nil when the amounts came straight from the executor.
type Swap struct {
	Withdrawn model.WithdrawResult
	Raw       json.RawMessage
}

type OpenPosition struct {
	Withdrawn model.WithdrawResult
	Raw       json.RawMessage
}

func (Idle) Step() Step         { return StepNone }
func (Withdraw) Step() Step     { return StepWithdraw }
func (Swap) Step() Step         { return StepSwap }
func (OpenPosition) Step() Step { return StepOpenPosition }

func (Idle) isPhase()         {}
func (Withdraw) isPhase()     {}
func (Swap) isPhase()         {}
func (OpenPosition) isPhase() {}

// WorkflowState is the durable rebalance progress. An empty PositionMint
// means no position is tracked.
type WorkflowState struct {
	PositionMint  string
	LastRebalance *time.Time
	Pending       Phase
}

// Default returns the state used on first run and after a reset.
func Default() WorkflowState {
	return WorkflowState{Pending: Idle{}}
}

// IsPending reports whether a rebalance is in flight.
func (s WorkflowState) IsPending() bool {
	return s.Step() != StepNone
}

// Step returns the pending step, or StepNone when idle.
func (s WorkflowState) Step() Step {
	if s.Pending == nil {
		return StepNone
	}
	return s.Pending.Step()
}

// Withdrawn returns the amounts recorded by the withdraw step, if any.
func (s WorkflowState) Withdrawn() (model.WithdrawResult, bool) {
	switch p := s.Pending.(type) {
	case Swap:
		return p.Withdrawn, true
	case OpenPosition:
		return p.Withdrawn, true
	default:
		return model.WithdrawResult{}, false
	}
}

func (s WorkflowState) clone() WorkflowState {
	out := s
	if s.LastRebalance != nil {
		ts := *s.LastRebalance
		out.LastRebalance = &ts
	}
	switch p := s.Pending.(type) {
	case Swap:
		out.Pending = Swap{Withdrawn: cloneWithdraw(p.Withdrawn), Raw: cloneRaw(p.Raw)}
	case OpenPosition:
		out.Pending = OpenPosition{Withdrawn: cloneWithdraw(p.Withdrawn), Raw: cloneRaw(p.Raw)}
	case nil:
		out.Pending = Idle{}
	}
	return out
}

func cloneWithdraw(w model.WithdrawResult) model.WithdrawResult {
	if w.RewardsCollected != nil {
		w.RewardsCollected = append([]string(nil), w.RewardsCollected...)
	}
	return w
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
