package tickrange

import (
	"testing"
)

func TestFromPriceAlignsAndWidens(t *testing.T) {
	const price = 142.31
	sel, err := FromPrice(price, 64, 5, 9, 6)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if sel.LowerTick%64 != 0 || sel.UpperTick%64 != 0 {
		t.Fatalf("ticks not aligned: %+v", sel)
	}
	if sel.UpperTick <= sel.LowerTick {
		t.Fatalf("upper must exceed lower: %+v", sel)
	}
	if sel.LowerPrice > price*0.95 {
		t.Fatalf("lower price %v narrower than requested", sel.LowerPrice)
	}
	// The unaligned upper tick is floored, so allow one tick of slack.
	if sel.UpperPrice < price*1.05/TickBase {
		t.Fatalf("upper price %v narrower than requested", sel.UpperPrice)
	}
	if sel.WidthPct < 9.9 {
		t.Fatalf("realized width %v too small", sel.WidthPct)
	}
	if sel.CurrentPrice != price {
		t.Fatalf("current price mismatch: %v", sel.CurrentPrice)
	}
}

func TestFromPriceCollapseGuard(t *testing.T) {
	aligned := TickToPrice(1280, 6, 6)
	for _, width := range []float64{0, 1e-9, 0.0001} {
		for _, spacing := range []int32{1, 8, 64, 128} {
			sel, err := FromPrice(aligned, spacing, width, 6, 6)
			if err != nil {
				t.Fatalf("select width=%v spacing=%d: %v", width, spacing, err)
			}
			if sel.UpperTick-sel.LowerTick < spacing {
				t.Fatalf("range narrower than spacing: %+v (spacing %d)", sel, spacing)
			}
		}
	}
}

func TestFromPriceInvalid(t *testing.T) {
	if _, err := FromPrice(100, 0, 5, 9, 6); err == nil {
		t.Fatalf("expected error for zero spacing")
	}
	if _, err := FromPrice(0, 64, 5, 9, 6); err == nil {
		t.Fatalf("expected error for zero price")
	}
	if _, err := FromPrice(100, 64, 100, 9, 6); err == nil {
		t.Fatalf("expected error for 100%% width")
	}
}

func TestFromTicks(t *testing.T) {
	sel, err := FromTicks(-19500, 64, 50, 9, 6)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// offset 50 rounds down to 0 and is bumped to one spacing.
	if sel.LowerTick != -19520-64 || sel.UpperTick != -19520+64 {
		t.Fatalf("ticks mismatch: %+v", sel)
	}

	sel, err = FromTicks(1000, 10, 95, 6, 6)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.LowerTick != 910 || sel.UpperTick != 1090 {
		t.Fatalf("ticks mismatch: %+v", sel)
	}
}

func TestForVolatilityFallsBackToMedium(t *testing.T) {
	medium, err := FromPrice(100, 8, 5, 9, 6)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got, err := ForVolatility(100, 8, "unknown", 9, 6)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != medium {
		t.Fatalf("fallback mismatch: %+v != %+v", got, medium)
	}

	wide, err := ForVolatility(100, 8, "extreme", 9, 6)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if wide.UpperTick-wide.LowerTick <= medium.UpperTick-medium.LowerTick {
		t.Fatalf("extreme range should be wider than medium")
	}
}
