package decision

import (
	"fmt"

	"clmmRebalancer/internal/model"
)

// Triggers configures when a rebalance fires.
type Triggers struct {
	OutOfRange       bool    `json:"out_of_range" mapstructure:"out_of_range"`
	EdgeThresholdPct float64 `json:"edge_threshold_pct" mapstructure:"edge_threshold_pct" validate:"gte=0,lt=50"`
}

// Edge identifies which range boundary triggered a rebalance.
type Edge string

const (
	EdgeNone  Edge = ""
	EdgeLower Edge = "lower"
	EdgeUpper Edge = "upper"
)

const (
	ReasonOutOfRange = "out of range"
	ReasonHealthy    = "healthy"
)

// Decision is the outcome of one trigger evaluation.
type Decision struct {
	ShouldRebalance bool      `json:"should_rebalance"`
	Reason          string    `json:"reason"`
	Edge            Edge      `json:"edge,omitempty"`
	Analysis        *Analysis `json:"analysis,omitempty"`
}

// Decide evaluates triggers against a position snapshot. The out-of-range
// trigger is checked before the edge threshold.
func Decide(snap model.PositionSnapshot, triggers Triggers) Decision {
	analysis := Analyze(snap)

	if triggers.OutOfRange && !analysis.InRange {
		return Decision{ShouldRebalance: true, Reason: ReasonOutOfRange, Analysis: &analysis}
	}

	if threshold := triggers.EdgeThresholdPct; threshold > 0 {
		if analysis.DistToLowerPct < threshold {
			return Decision{
				ShouldRebalance: true,
				Reason:          fmt.Sprintf("near lower edge (%.1f%% < %g%%)", analysis.DistToLowerPct, threshold),
				Edge:            EdgeLower,
				Analysis:        &analysis,
			}
		}
		if analysis.DistToUpperPct < threshold {
			return Decision{
				ShouldRebalance: true,
				Reason:          fmt.Sprintf("near upper edge (%.1f%% < %g%%)", analysis.DistToUpperPct, threshold),
				Edge:            EdgeUpper,
				Analysis:        &analysis,
			}
		}
	}

	return Decision{ShouldRebalance: false, Reason: ReasonHealthy, Analysis: &analysis}
}
