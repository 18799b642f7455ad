package tickrange

import (
	"fmt"
	"math"
)

// TickBase is the geometric base of the tick index: price = TickBase^tick.
const TickBase = 1.0001

// TickToPrice converts a tick index to a human price (token B per token A).
func TickToPrice(tick int32, decimalsA, decimalsB int) float64 {
	raw := math.Pow(TickBase, float64(tick))
	return raw / decimalAdjustment(decimalsA, decimalsB)
}

// PriceToTick converts a human price to the unaligned tick at or below it.
func PriceToTick(price float64, decimalsA, decimalsB int) (int32, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("price must be positive: %v", price)
	}
	adjusted := price * decimalAdjustment(decimalsA, decimalsB)
	tick := math.Floor(math.Log(adjusted) / math.Log(TickBase))
	if tick < math.MinInt32 || tick > math.MaxInt32 {
		return 0, fmt.Errorf("tick out of range for price %v", price)
	}
	return int32(tick), nil
}

// RoundTickDown rounds toward negative infinity to a multiple of spacing.
func RoundTickDown(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// RoundTickUp rounds toward positive infinity to a multiple of spacing.
func RoundTickUp(tick, spacing int32) int32 {
	down := RoundTickDown(tick, spacing)
	if down == tick {
		return tick
	}
	return down + spacing
}

func decimalAdjustment(decimalsA, decimalsB int) float64 {
	return math.Pow(10, float64(decimalsB-decimalsA))
}
