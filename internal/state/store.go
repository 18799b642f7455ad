package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"clmmRebalancer/internal/model"
)

// ErrInvalidTransition is returned when a transition does not apply to the
// current phase.
var ErrInvalidTransition = errors.New("invalid state transition")

// Store owns the WorkflowState. Every transition is persisted before the
// in-memory state changes, so a failed save leaves both untouched.
type Store struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     WorkflowState
	lastError string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for last_rebalance.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open loads the persisted state. A missing record is initialized with
// defaults and saved; a corrupt one is replaced in memory by defaults.
func Open(ctx context.Context, backend Backend, logger *zap.Logger, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("state backend is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{backend: backend, logger: logger, now: time.Now, state: Default()}
	for _, opt := range opts {
		opt(s)
	}

	rec, ok, err := backend.Load(ctx)
	switch {
	case err != nil && errors.Is(err, ErrCorruptState):
		logger.Warn("invalid state, using defaults", zap.Error(err))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load state: %w", err)
	case !ok:
		logger.Info("creating new state")
		if err := backend.Save(ctx, ToRecord(s.state)); err != nil {
			return nil, fmt.Errorf("save initial state: %w", err)
		}
		return s, nil
	}

	st, err := FromRecord(rec)
	if err != nil {
		logger.Warn("invalid state, using defaults", zap.Error(err))
		return s, nil
	}
	s.state = st
	logger.Info("loaded state",
		zap.String("position_mint", st.PositionMint),
		zap.String("pending_step", string(st.Step())),
	)
	return s, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// LastError returns the most recent error passed to MarkFailed.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// MarkStarted records that a rebalance began at the withdraw step.
func (s *Store) MarkStarted(ctx context.Context) error {
	return s.apply(ctx, "rebalance started", func(st *WorkflowState) error {
		if st.IsPending() {
			return transitionError("start", st.Step())
		}
		st.Pending = Withdraw{}
		return nil
	})
}

// MarkWithdrawComplete records the withdrawn amounts and clears the position
// mint, since the position is closed on chain at this point.
func (s *Store) MarkWithdrawComplete(ctx context.Context, amounts model.WithdrawResult) error {
	return s.apply(ctx, "withdraw complete", func(st *WorkflowState) error {
		if _, ok := st.Pending.(Withdraw); !ok {
			return transitionError("complete withdraw", st.Step())
		}
		st.Pending = Swap{Withdrawn: cloneWithdraw(amounts)}
		st.PositionMint = ""
		return nil
	})
}

// MarkSwapComplete advances to the open_position step.
func (s *Store) MarkSwapComplete(ctx context.Context) error {
	return s.apply(ctx, "swap complete", func(st *WorkflowState) error {
		p, ok := st.Pending.(Swap)
		if !ok {
			return transitionError("complete swap", st.Step())
		}
		st.Pending = OpenPosition{Withdrawn: p.Withdrawn, Raw: p.Raw}
		return nil
	})
}

// MarkComplete tracks the new position and clears all pending data.
func (s *Store) MarkComplete(ctx context.Context, newPositionMint string) error {
	if newPositionMint == "" {
		return fmt.Errorf("new position mint is required")
	}
	return s.apply(ctx, "rebalance complete", func(st *WorkflowState) error {
		if _, ok := st.Pending.(OpenPosition); !ok {
			return transitionError("complete rebalance", st.Step())
		}
		now := s.now().UTC()
		st.PositionMint = newPositionMint
		st.LastRebalance = &now
		st.Pending = Idle{}
		return nil
	})
}

// MarkFailed records err for observability. The pending step is kept so the
// next run resumes from it.
func (s *Store) MarkFailed(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastError = err.Error()
	step := s.state.Step()
	s.mu.Unlock()
	s.logger.Error("rebalance failed", zap.String("step", string(step)), zap.Error(err))
}

// ResetPending clears the pending step and withdrawn amounts but keeps the
// position mint.
func (s *Store) ResetPending(ctx context.Context) error {
	return s.apply(ctx, "pending cleared", func(st *WorkflowState) error {
		st.Pending = Idle{}
		return nil
	})
}

// ResetAll restores the default state.
func (s *Store) ResetAll(ctx context.Context) error {
	return s.apply(ctx, "state reset", func(st *WorkflowState) error {
		*st = Default()
		return nil
	})
}

// SetPosition replaces the tracked position mint.
func (s *Store) SetPosition(ctx context.Context, mint string) error {
	return s.apply(ctx, "position set", func(st *WorkflowState) error {
		st.PositionMint = mint
		return nil
	})
}

// InitializeFromConfig tracks mint when no position is tracked yet. It
// reports whether the state changed.
func (s *Store) InitializeFromConfig(ctx context.Context, mint string) (bool, error) {
	if mint == "" {
		return false, nil
	}
	changed := false
	err := s.apply(ctx, "position initialized from config", func(st *WorkflowState) error {
		if st.PositionMint != "" || st.IsPending() {
			return errUnchanged
		}
		st.PositionMint = mint
		changed = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return changed, err
}

var errUnchanged = errors.New("unchanged")

func (s *Store) apply(ctx context.Context, what string, mutate func(*WorkflowState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := mutate(&next); err != nil {
		return err
	}
	if err := s.backend.Save(ctx, ToRecord(next)); err != nil {
		return fmt.Errorf("persist state (%s): %w", what, err)
	}
	s.state = next
	s.logger.Info(what,
		zap.String("position_mint", next.PositionMint),
		zap.String("pending_step", string(next.Step())),
	)
	return nil
}

func transitionError(op string, step Step) error {
	if step == StepNone {
		return fmt.Errorf("%w: cannot %s while idle", ErrInvalidTransition, op)
	}
	return fmt.Errorf("%w: cannot %s at step %s", ErrInvalidTransition, op, step)
}
