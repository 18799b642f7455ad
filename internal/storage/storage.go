package storage

import (
	"context"

	"clmmRebalancer/internal/model"
)

// Journal is a sink for rebalance events.
type Journal interface {
	Record(ctx context.Context, events ...model.RebalanceEvent) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(ctx context.Context, events ...model.RebalanceEvent) error { return nil }
