package postgres

import (
	"context"

	"clmmRebalancer/internal/model"
)

// Journal adapts Store to the rebalance event journal.
type Journal struct {
	Store *Store
}

func (j *Journal) Record(ctx context.Context, events ...model.RebalanceEvent) error {
	return j.Store.InsertRebalanceEvents(ctx, events)
}
