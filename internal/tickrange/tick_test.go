package tickrange

import (
	"math"
	"testing"
)

func TestRoundTickBounds(t *testing.T) {
	spacings := []int32{1, 8, 10, 60, 64, 128, 200}
	for _, s := range spacings {
		for tick := int32(-1000); tick <= 1000; tick += 7 {
			down := RoundTickDown(tick, s)
			if down%s != 0 {
				t.Fatalf("round down %d/%d = %d not aligned", tick, s, down)
			}
			if !(down <= tick && tick < down+s) {
				t.Fatalf("round down %d/%d = %d out of bounds", tick, s, down)
			}

			up := RoundTickUp(tick, s)
			if up%s != 0 {
				t.Fatalf("round up %d/%d = %d not aligned", tick, s, up)
			}
			if !(up-s < tick && tick <= up) {
				t.Fatalf("round up %d/%d = %d out of bounds", tick, s, up)
			}
		}
	}
}

func TestRoundTickNegative(t *testing.T) {
	if got := RoundTickDown(-5, 64); got != -64 {
		t.Fatalf("round down -5/64 = %d, want -64", got)
	}
	if got := RoundTickUp(-5, 64); got != 0 {
		t.Fatalf("round up -5/64 = %d, want 0", got)
	}
	if got := RoundTickDown(-128, 64); got != -128 {
		t.Fatalf("aligned tick should not move: %d", got)
	}
}

func TestPriceTickRoundTrip(t *testing.T) {
	prices := []float64{0.0001, 0.5, 1, 3.14159, 142.31, 2500, 65000}
	for _, p := range prices {
		tick, err := PriceToTick(p, 9, 6)
		if err != nil {
			t.Fatalf("price to tick %v: %v", p, err)
		}
		back := TickToPrice(tick, 9, 6)
		rel := math.Abs(back-p) / p
		if rel > TickBase-1+1e-9 {
			t.Fatalf("round trip %v -> %d -> %v (rel %v)", p, tick, back, rel)
		}
	}
}

func TestPriceToTickRejectsNonPositive(t *testing.T) {
	for _, p := range []float64{0, -1, math.NaN()} {
		if _, err := PriceToTick(p, 9, 6); err == nil {
			t.Fatalf("expected error for price %v", p)
		}
	}
}

func TestTickToPriceDecimalAdjustment(t *testing.T) {
	// tick 0 with 9/6 decimals is 1e-6 raw units -> 1000 human units.
	got := TickToPrice(0, 9, 6)
	if math.Abs(got-1000) > 1e-9 {
		t.Fatalf("tick 0 price = %v, want 1000", got)
	}
	if got := TickToPrice(0, 6, 6); got != 1 {
		t.Fatalf("equal decimals tick 0 price = %v, want 1", got)
	}
}
