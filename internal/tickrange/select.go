package tickrange

import (
	"fmt"
	"math"
)

// Selection is a tick-aligned price range.
type Selection struct {
	LowerPrice   float64 `json:"lower_price"`
	UpperPrice   float64 `json:"upper_price"`
	LowerTick    int32   `json:"lower_tick"`
	UpperTick    int32   `json:"upper_tick"`
	WidthPct     float64 `json:"range_width_pct"`
	CurrentPrice float64 `json:"current_price"`
}

// Width presets (percent each side) keyed by volatility regime.
var VolatilityWidths = map[string]float64{
	"low":     2.0,
	"medium":  5.0,
	"high":    10.0,
	"extreme": 20.0,
}

// FromPrice selects a range of widthPct percent on each side of currentPrice.
// The lower tick is rounded down and the upper tick up, so the realized range
// is never narrower than requested. A range that collapses after alignment is
// widened to one tick spacing.
func FromPrice(currentPrice float64, tickSpacing int32, widthPct float64, decimalsA, decimalsB int) (Selection, error) {
	if tickSpacing <= 0 {
		return Selection{}, fmt.Errorf("tick spacing must be positive: %d", tickSpacing)
	}
	if currentPrice <= 0 {
		return Selection{}, fmt.Errorf("current price must be positive: %v", currentPrice)
	}
	if widthPct < 0 || widthPct >= 100 {
		return Selection{}, fmt.Errorf("range width must be in [0, 100): %v", widthPct)
	}

	lowerTarget := currentPrice * (1 - widthPct/100)
	upperTarget := currentPrice * (1 + widthPct/100)

	lowerRaw, err := PriceToTick(lowerTarget, decimalsA, decimalsB)
	if err != nil {
		return Selection{}, fmt.Errorf("lower tick: %w", err)
	}
	upperRaw, err := PriceToTick(upperTarget, decimalsA, decimalsB)
	if err != nil {
		return Selection{}, fmt.Errorf("upper tick: %w", err)
	}

	lower := RoundTickDown(lowerRaw, tickSpacing)
	upper := RoundTickUp(upperRaw, tickSpacing)
	if upper <= lower {
		upper = lower + tickSpacing
	}

	return build(lower, upper, currentPrice, decimalsA, decimalsB), nil
}

// FromTicks selects a range ticksEachSide ticks around currentTick. The offset
// is rounded down to a multiple of tickSpacing with a minimum of one spacing.
func FromTicks(currentTick, tickSpacing, ticksEachSide int32, decimalsA, decimalsB int) (Selection, error) {
	if tickSpacing <= 0 {
		return Selection{}, fmt.Errorf("tick spacing must be positive: %d", tickSpacing)
	}
	if ticksEachSide < 0 {
		return Selection{}, fmt.Errorf("ticks each side must not be negative: %d", ticksEachSide)
	}

	offset := (ticksEachSide / tickSpacing) * tickSpacing
	if offset == 0 {
		offset = tickSpacing
	}

	base := RoundTickDown(currentTick, tickSpacing)
	lower := base - offset
	upper := base + offset

	currentPrice := TickToPrice(currentTick, decimalsA, decimalsB)
	return build(lower, upper, currentPrice, decimalsA, decimalsB), nil
}

// ForVolatility selects a range using the width preset for regime. Unknown
// regimes use the medium preset.
func ForVolatility(currentPrice float64, tickSpacing int32, regime string, decimalsA, decimalsB int) (Selection, error) {
	width, ok := VolatilityWidths[regime]
	if !ok {
		width = VolatilityWidths["medium"]
	}
	return FromPrice(currentPrice, tickSpacing, width, decimalsA, decimalsB)
}

func build(lower, upper int32, currentPrice float64, decimalsA, decimalsB int) Selection {
	lowerPrice := TickToPrice(lower, decimalsA, decimalsB)
	upperPrice := TickToPrice(upper, decimalsA, decimalsB)
	return Selection{
		LowerPrice:   lowerPrice,
		UpperPrice:   upperPrice,
		LowerTick:    lower,
		UpperTick:    upper,
		WidthPct:     round2((upperPrice - lowerPrice) / currentPrice * 100),
		CurrentPrice: currentPrice,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
