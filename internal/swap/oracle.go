package swap

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Oracle prices one whole unit of asset A in asset B by asking for a quote.
type Oracle struct {
	Client    *Client
	MintA     string
	MintB     string
	DecimalsA int32
	DecimalsB int32
}

func (o *Oracle) PriceA(ctx context.Context) (decimal.Decimal, error) {
	unit := decimal.New(1, o.DecimalsA)
	quote, err := o.Client.Quote(ctx, QuoteRequest{
		InputMint:   o.MintA,
		OutputMint:  o.MintB,
		Amount:      uint64(unit.IntPart()),
		SlippageBps: 10,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("price quote: %w", err)
	}
	out, err := decimal.NewFromString(quote.OutAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse out amount %q: %w", quote.OutAmount, err)
	}
	price := out.Shift(-o.DecimalsB)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price from quote: %s", price)
	}
	return price, nil
}
