package decision

import (
	"fmt"

	"clmmRebalancer/internal/model"
)

// Analysis describes where the current tick sits inside a position's range.
type Analysis struct {
	InRange         bool    `json:"in_range"`
	CurrentTick     int32   `json:"current_tick"`
	LowerTick       int32   `json:"lower_tick"`
	UpperTick       int32   `json:"upper_tick"`
	DistToLowerTick int32   `json:"dist_to_lower_ticks"`
	DistToUpperTick int32   `json:"dist_to_upper_ticks"`
	DistToLowerPct  float64 `json:"dist_to_lower_pct"`
	DistToUpperPct  float64 `json:"dist_to_upper_pct"`
	RangeWidthTicks int32   `json:"range_width_ticks"`
	PositionPct     float64 `json:"position_pct"`
	TickSpacing     int32   `json:"tick_spacing"`
}

// Analyze computes edge distances as percentages of the range width.
// A zero-width range reports 0 for every percentage.
func Analyze(snap model.PositionSnapshot) Analysis {
	distLower := snap.CurrentTick - snap.LowerTick
	distUpper := snap.UpperTick - snap.CurrentTick
	width := snap.UpperTick - snap.LowerTick

	var lowerPct, upperPct float64
	if width != 0 {
		lowerPct = float64(distLower) / float64(width) * 100
		upperPct = float64(distUpper) / float64(width) * 100
	}

	return Analysis{
		InRange:         snap.InRange,
		CurrentTick:     snap.CurrentTick,
		LowerTick:       snap.LowerTick,
		UpperTick:       snap.UpperTick,
		DistToLowerTick: distLower,
		DistToUpperTick: distUpper,
		DistToLowerPct:  lowerPct,
		DistToUpperPct:  upperPct,
		RangeWidthTicks: width,
		PositionPct:     lowerPct,
		TickSpacing:     snap.TickSpacing,
	}
}

// Status returns IN_RANGE or OUT_OF_RANGE.
func (a Analysis) Status() string {
	if a.InRange {
		return "IN_RANGE"
	}
	return "OUT_OF_RANGE"
}

// Summary renders a single-line description for logs and the CLI.
func (a Analysis) Summary() string {
	return fmt.Sprintf("%s | DIST_TO_LOWER: %d ticks (%.2f%%) | DIST_TO_UPPER: %d ticks (%.2f%%) | POS: %.2f%%",
		a.Status(),
		a.DistToLowerTick, a.DistToLowerPct,
		a.DistToUpperTick, a.DistToUpperPct,
		a.PositionPct,
	)
}
