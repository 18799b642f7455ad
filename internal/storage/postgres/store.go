package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clmmRebalancer/internal/model"
)

// Store provides Postgres persistence for workflow state and the rebalance
// journal.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS workflow_state (
	name       TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rebalance_events (
	id                BIGSERIAL PRIMARY KEY,
	cycle_id          TEXT NOT NULL,
	status            TEXT NOT NULL,
	step              TEXT NOT NULL,
	reason            TEXT,
	pool_address      TEXT NOT NULL,
	old_position_mint TEXT,
	new_position_mint TEXT,
	lower_tick        INTEGER,
	upper_tick        INTEGER,
	swap_action       TEXT,
	swap_amount       TEXT,
	error             TEXT,
	dry_run           BOOLEAN NOT NULL DEFAULT false,
	at                TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rebalance_events_at_idx ON rebalance_events (at);
`

// EnsureSchema creates the tables used by the rebalancer.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LoadWorkflowState returns the raw state record for a name.
func (s *Store) LoadWorkflowState(ctx context.Context, name string) ([]byte, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("state name required")
	}
	var data []byte
	row := s.pool.QueryRow(ctx, `SELECT record FROM workflow_state WHERE name=$1`, name)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// SaveWorkflowState upserts the raw state record for a name.
func (s *Store) SaveWorkflowState(ctx context.Context, name string, record []byte) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_state (name, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET record = EXCLUDED.record, updated_at = now()
	`, name, record)
	return err
}

// InsertRebalanceEvents appends journal events.
func (s *Store) InsertRebalanceEvents(ctx context.Context, events []model.RebalanceEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO rebalance_events (
				cycle_id, status, step, reason, pool_address, old_position_mint, new_position_mint,
				lower_tick, upper_tick, swap_action, swap_amount, error, dry_run, at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`,
			ev.CycleID,
			ev.Status,
			ev.Step,
			nullString(ev.Reason),
			ev.PoolAddress,
			nullString(ev.OldPositionMint),
			nullString(ev.NewPositionMint),
			ev.LowerTick,
			ev.UpperTick,
			nullString(ev.SwapAction),
			nullString(ev.SwapAmount),
			nullString(ev.Error),
			ev.DryRun,
			ev.At,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
