package ratio

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the swap direction chosen by Plan.
type Action string

const (
	ActionNone    Action = "none"
	ActionSwapToA Action = "swap_to_asset_A"
	ActionSwapToB Action = "swap_to_asset_B"
)

var hundred = decimal.NewFromInt(100)

// Input holds balances in smallest units and a single oracle price for
// asset A quoted in asset B. Asset B is treated as the unit of value.
type Input struct {
	BalanceA     decimal.Decimal
	BalanceB     decimal.Decimal
	DecimalsA    int32
	DecimalsB    int32
	PriceA       decimal.Decimal
	TargetAPct   decimal.Decimal
	MinSwapValue decimal.Decimal
}

// Valuation is the value split the plan was computed from.
type Valuation struct {
	ValueA      decimal.Decimal `json:"value_a"`
	ValueB      decimal.Decimal `json:"value_b"`
	Total       decimal.Decimal `json:"total"`
	CurrentAPct decimal.Decimal `json:"current_a_pct"`
}

// SwapPlan is the swap needed to reach the target allocation. Amount is in
// the smallest unit of the source asset.
type SwapPlan struct {
	Action    Action          `json:"action"`
	Amount    decimal.Decimal `json:"amount"`
	Valuation Valuation       `json:"valuation"`
}

// InputMintIsA reports whether the swap spends asset A.
func (p SwapPlan) InputMintIsA() bool {
	return p.Action == ActionSwapToB
}

// Value converts both balances into units of asset B.
func Value(in Input) Valuation {
	valueA := in.BalanceA.Shift(-in.DecimalsA).Mul(in.PriceA)
	valueB := in.BalanceB.Shift(-in.DecimalsB)
	total := valueA.Add(valueB)

	pct := decimal.Zero
	if total.IsPositive() {
		pct = valueA.Div(total).Mul(hundred)
	}
	return Valuation{ValueA: valueA, ValueB: valueB, Total: total, CurrentAPct: pct}
}

// Plan computes the swap that moves the balances to TargetAPct percent in
// asset A. Totals or deltas below MinSwapValue produce ActionNone.
func Plan(in Input) (SwapPlan, error) {
	if !in.PriceA.IsPositive() {
		return SwapPlan{}, fmt.Errorf("price must be positive: %s", in.PriceA)
	}
	if in.BalanceA.IsNegative() || in.BalanceB.IsNegative() {
		return SwapPlan{}, fmt.Errorf("balances must not be negative")
	}
	if in.TargetAPct.IsNegative() || in.TargetAPct.GreaterThan(hundred) {
		return SwapPlan{}, fmt.Errorf("target pct must be within [0, 100]: %s", in.TargetAPct)
	}

	val := Value(in)
	none := SwapPlan{Action: ActionNone, Amount: decimal.Zero, Valuation: val}

	if val.Total.LessThan(in.MinSwapValue) {
		return none, nil
	}

	targetA := val.Total.Mul(in.TargetAPct).Div(hundred)
	delta := targetA.Sub(val.ValueA)
	if delta.Abs().LessThan(in.MinSwapValue) {
		return none, nil
	}

	if delta.IsPositive() {
		return SwapPlan{
			Action:    ActionSwapToA,
			Amount:    delta.Shift(in.DecimalsB).Truncate(0),
			Valuation: val,
		}, nil
	}

	amountA := delta.Abs().DivRound(in.PriceA, 18)
	return SwapPlan{
		Action:    ActionSwapToB,
		Amount:    amountA.Shift(in.DecimalsA).Truncate(0),
		Valuation: val,
	}, nil
}
