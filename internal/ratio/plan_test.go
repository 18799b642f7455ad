package ratio

import (
	"testing"

	"github.com/shopspring/decimal"
)

func input(lamports, usdc int64, price string) Input {
	return Input{
		BalanceA:     decimal.NewFromInt(lamports),
		BalanceB:     decimal.NewFromInt(usdc),
		DecimalsA:    9,
		DecimalsB:    6,
		PriceA:       decimal.RequireFromString(price),
		TargetAPct:   decimal.NewFromInt(50),
		MinSwapValue: decimal.NewFromInt(1),
	}
}

func TestPlanOverweightA(t *testing.T) {
	// 0.8 SOL at $100 + $20 USDC = $100, 80/20.
	plan, err := Plan(input(800_000_000, 20_000_000, "100"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != ActionSwapToB {
		t.Fatalf("action = %s, want %s", plan.Action, ActionSwapToB)
	}
	if !plan.Amount.Equal(decimal.NewFromInt(300_000_000)) {
		t.Fatalf("amount = %s, want 300000000", plan.Amount)
	}
	if !plan.InputMintIsA() {
		t.Fatalf("swap to B should spend A")
	}
	if !plan.Valuation.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("total = %s", plan.Valuation.Total)
	}
}

func TestPlanOverweightB(t *testing.T) {
	plan, err := Plan(input(200_000_000, 80_000_000, "100"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != ActionSwapToA {
		t.Fatalf("action = %s, want %s", plan.Action, ActionSwapToA)
	}
	if !plan.Amount.Equal(decimal.NewFromInt(30_000_000)) {
		t.Fatalf("amount = %s, want 30000000", plan.Amount)
	}
}

func TestPlanTruncatesToSmallestUnit(t *testing.T) {
	plan, err := Plan(input(1_000_000_000, 0, "3"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// $3 total, sell $1.5 of A at $3 -> 0.5 SOL.
	if plan.Action != ActionSwapToB || !plan.Amount.Equal(decimal.NewFromInt(500_000_000)) {
		t.Fatalf("unexpected plan: %s %s", plan.Action, plan.Amount)
	}

	plan, err = Plan(input(0, 10_000_000, "7"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != ActionSwapToA || !plan.Amount.Equal(decimal.NewFromInt(5_000_000)) {
		t.Fatalf("unexpected plan: %s %s", plan.Action, plan.Amount)
	}
}

func TestPlanDustTotal(t *testing.T) {
	plan, err := Plan(input(1_000_000, 500_000, "100"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != ActionNone || !plan.Amount.IsZero() {
		t.Fatalf("expected none for dust total, got %s %s", plan.Action, plan.Amount)
	}
}

func TestPlanSmallDelta(t *testing.T) {
	// $50.50 / $49.50: delta $0.50 < $1 minimum.
	plan, err := Plan(input(505_000_000, 49_500_000, "100"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Action != ActionNone {
		t.Fatalf("expected none for small delta, got %s", plan.Action)
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	if _, err := Plan(input(1, 1, "0")); err == nil {
		t.Fatalf("expected error for zero price")
	}
	in := input(1, 1, "1")
	in.TargetAPct = decimal.NewFromInt(101)
	if _, err := Plan(in); err == nil {
		t.Fatalf("expected error for target above 100")
	}
}
