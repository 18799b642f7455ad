package model

import (
	"encoding/json"
	"testing"
)

func TestPositionSnapshotDecodesExecutorPayload(t *testing.T) {
	payload := []byte(`{
		"positionMint": "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		"whirlpool": "HJPjoWUrhoZzkNfRpHuieeFk9WcZWjwy6PBjZ81ngndJ",
		"liquidity": "123456789",
		"tickLowerIndex": -20096,
		"tickUpperIndex": -19072,
		"lowerTick": -20096,
		"upperTick": -19072,
		"currentTick": -19500,
		"tickSpacing": 64,
		"inRange": true,
		"currentPrice": "142.31",
		"lowerPrice": "134.01",
		"upperPrice": "148.44",
		"feeOwedA": "1200",
		"feeOwedB": "350"
	}`)

	var snap PositionSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if snap.LowerTick != -20096 || snap.UpperTick != -19072 || snap.CurrentTick != -19500 {
		t.Fatalf("ticks mismatch: %+v", snap)
	}
	if snap.TickSpacing != 64 || !snap.InRange {
		t.Fatalf("spacing/in-range mismatch: %+v", snap)
	}
	if snap.Liquidity != "123456789" {
		t.Fatalf("liquidity should stay a string: %q", snap.Liquidity)
	}
}

func TestWithdrawResultKeepsAmountsAsStrings(t *testing.T) {
	res := WithdrawResult{Success: true, AmountAWithdrawn: "18446744073709551616", AmountBWithdrawn: "42"}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["amountAWithdrawn"].(string); !ok {
		t.Fatalf("amountAWithdrawn should be string")
	}
	if _, ok := decoded["dryRun"]; ok {
		t.Fatalf("dryRun should be omitted when false")
	}
}
