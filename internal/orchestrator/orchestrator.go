package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clmmRebalancer/internal/decision"
	"clmmRebalancer/internal/executor"
	"clmmRebalancer/internal/metrics"
	"clmmRebalancer/internal/model"
	"clmmRebalancer/internal/ratio"
	"clmmRebalancer/internal/state"
	"clmmRebalancer/internal/storage"
	"clmmRebalancer/internal/swap"
	"clmmRebalancer/internal/tickrange"
)

// DryRunPositionMint is reported as the new position in dry-run mode.
const DryRunPositionMint = "DRY_RUN_POSITION_MINT"

const (
	outcomeHealthy    = "healthy"
	outcomeRebalanced = "rebalanced"
	outcomeFailed     = "failed"
)

// ErrNoPosition is returned when no position is tracked and no rebalance is
// pending.
var ErrNoPosition = errors.New("no position mint configured")

type PositionSource interface {
	FetchPosition(ctx context.Context, positionMint string) (model.PositionSnapshot, error)
}

type PoolSource interface {
	FetchPool(ctx context.Context, pool string) (model.PoolSnapshot, error)
}

// LiquidityManager closes and opens positions on chain.
type LiquidityManager interface {
	WithdrawAll(ctx context.Context, positionMint string) (model.WithdrawResult, error)
	OpenPosition(ctx context.Context, req executor.OpenRequest) (model.OpenPositionResult, error)
}

type Swapper interface {
	Swap(ctx context.Context, req swap.Request) (swap.Result, error)
}

// PriceOracle reports the price of asset A in units of asset B.
type PriceOracle interface {
	PriceA(ctx context.Context) (decimal.Decimal, error)
}

// BalanceSource reports wallet balances of both assets in smallest units.
type BalanceSource interface {
	Balances(ctx context.Context) (decimal.Decimal, decimal.Decimal, error)
}

// StateStore is the subset of *state.Store the workflow drives.
type StateStore interface {
	Snapshot() state.WorkflowState
	MarkStarted(ctx context.Context) error
	MarkWithdrawComplete(ctx context.Context, amounts model.WithdrawResult) error
	MarkSwapComplete(ctx context.Context) error
	MarkComplete(ctx context.Context, newPositionMint string) error
	MarkFailed(err error)
}

// RunConfig holds runtime settings for the workflow.
type RunConfig struct {
	PoolAddress      string
	Triggers         decision.Triggers
	RangeWidthPct    float64
	VolatilityRegime string
	TargetAPct       float64
	MinSwapValue     float64
	SlippageBps      int
	MintA            string
	MintB            string
	DecimalsA        int32
	DecimalsB        int32
	OpenAmount       uint64
	OpenUseTokenB    bool
	DryRun           bool
}

// Deps are the collaborators of an Orchestrator. Oracle, Swapper and
// Balances may be nil in dry-run mode.
type Deps struct {
	Positions PositionSource
	Pools     PoolSource
	Liquidity LiquidityManager
	Swapper   Swapper
	Oracle    PriceOracle
	Balances  BalanceSource
	Store     StateStore
	Journal   storage.Journal
	Metrics   *metrics.Metrics
}

// StepError reports the workflow step at which a rebalance stopped.
type StepError struct {
	Step state.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("rebalance failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Orchestrator runs check cycles and the resumable rebalance workflow.
type Orchestrator struct {
	cfg    RunConfig
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg RunConfig, deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Journal == nil {
		deps.Journal = storage.Nop{}
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger, now: time.Now}
}

// RunCycle performs one check. A pending rebalance is resumed before any new
// decision is made. Otherwise the tracked position is fetched and evaluated,
// and a rebalance runs if a trigger fires or force is set.
func (o *Orchestrator) RunCycle(ctx context.Context, force bool) (err error) {
	cycleID := uuid.NewString()
	logger := o.logger.With(zap.String("cycle_id", cycleID))
	started := o.now()
	outcome := outcomeHealthy
	defer func() {
		if err != nil {
			outcome = outcomeFailed
		}
		o.deps.Metrics.CycleFinished(outcome, o.now().Sub(started))
	}()
	// execute recovers its own panics with the step attached. Anything else
	// (position fetch, decision) ends the cycle with a plain error.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unexpected panic during check cycle", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("unexpected error: %v", r)
			if !o.cfg.DryRun {
				o.deps.Store.MarkFailed(err)
			}
		}
	}()

	st := o.deps.Store.Snapshot()
	o.deps.Metrics.SetPending(st.IsPending())

	if st.IsPending() {
		logger.Warn("found pending rebalance, resuming", zap.String("step", string(st.Step())))
		outcome = outcomeRebalanced
		return o.execute(ctx, logger, cycleID, st, "resume "+string(st.Step()))
	}

	if st.PositionMint == "" {
		logger.Error("no position mint configured, set position_mint in config or use --position")
		return ErrNoPosition
	}

	logger.Info("fetching position", zap.String("position_mint", st.PositionMint))
	snap, err := o.deps.Positions.FetchPosition(ctx, st.PositionMint)
	if err != nil {
		return fmt.Errorf("fetch position: %w", err)
	}

	dec := decision.Decide(snap, o.cfg.Triggers)
	o.deps.Metrics.SetPosition(dec.Analysis.InRange, dec.Analysis.PositionPct)
	logger.Info("position status", zap.String("analysis", dec.Analysis.Summary()))

	reason := dec.Reason
	switch {
	case dec.ShouldRebalance:
		logger.Info("rebalance triggered", zap.String("reason", reason))
	case force:
		reason = "forced"
		logger.Info("rebalance forced, position is healthy")
	default:
		logger.Info("no rebalance needed", zap.String("reason", reason))
		return nil
	}

	outcome = outcomeRebalanced
	return o.execute(ctx, logger, cycleID, st, reason)
}

func (o *Orchestrator) execute(ctx context.Context, logger *zap.Logger, cycleID string, st state.WorkflowState, reason string) (err error) {
	dryRun := o.cfg.DryRun
	if dryRun {
		logger = logger.With(zap.Bool("dry_run", true))
	}
	event := model.RebalanceEvent{
		CycleID:         cycleID,
		Reason:          reason,
		PoolAddress:     o.cfg.PoolAddress,
		OldPositionMint: st.PositionMint,
		DryRun:          dryRun,
	}

	step := st.Step()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unexpected panic during rebalance", zap.Any("panic", r), zap.Stack("stack"))
			err = o.fail(ctx, logger, event, step, fmt.Errorf("unexpected error: %v", r))
		}
	}()

	logger.Info("starting rebalance", zap.String("reason", reason), zap.String("from_step", string(step)))

	if step == state.StepNone {
		if !dryRun {
			if err := o.deps.Store.MarkStarted(ctx); err != nil {
				return o.fail(ctx, logger, event, state.StepWithdraw, err)
			}
		}
		step = state.StepWithdraw
	}

	var withdrawn model.WithdrawResult
	if step == state.StepWithdraw {
		withdrawn, err = o.withdraw(ctx, logger, st.PositionMint)
		if err != nil {
			return o.fail(ctx, logger, event, step, err)
		}
		step = state.StepSwap
	} else {
		withdrawn, _ = st.Withdrawn()
		logger.Info("using stored withdrawal amounts",
			zap.String("amount_a", withdrawn.AmountAWithdrawn),
			zap.String("amount_b", withdrawn.AmountBWithdrawn),
		)
	}

	selection, err := o.selectRange(ctx, logger)
	if err != nil {
		return o.fail(ctx, logger, event, step, err)
	}
	event.LowerTick = selection.LowerTick
	event.UpperTick = selection.UpperTick

	if step == state.StepSwap {
		plan, err := o.rebalanceRatio(ctx, logger, withdrawn)
		if err != nil {
			return o.fail(ctx, logger, event, step, err)
		}
		if plan.Action != ratio.ActionNone {
			event.SwapAction = string(plan.Action)
			event.SwapAmount = plan.Amount.String()
		}
		step = state.StepOpenPosition
	}

	newMint, err := o.open(ctx, logger, selection)
	if err != nil {
		return o.fail(ctx, logger, event, step, err)
	}

	event.Status = model.EventStatusComplete
	event.Step = string(state.StepOpenPosition)
	event.NewPositionMint = newMint
	event.At = o.now().UTC()
	o.record(ctx, logger, event)
	o.deps.Metrics.RebalanceCompleted(dryRun, event.At)
	if !dryRun {
		o.deps.Metrics.SetPending(false)
	}

	logger.Info("rebalance complete", zap.String("new_position_mint", newMint))
	return nil
}

func (o *Orchestrator) withdraw(ctx context.Context, logger *zap.Logger, positionMint string) (model.WithdrawResult, error) {
	logger.Info("withdrawing all liquidity", zap.String("position_mint", positionMint))

	if o.cfg.DryRun {
		res := model.WithdrawResult{Success: true, AmountAWithdrawn: "0", AmountBWithdrawn: "0", DryRun: true}
		if o.deps.Balances != nil {
			a, b, err := o.deps.Balances.Balances(ctx)
			if err != nil {
				logger.Warn("could not fetch wallet balances", zap.Error(err))
			} else {
				res.AmountAWithdrawn = a.String()
				res.AmountBWithdrawn = b.String()
			}
		}
		logger.Info("would withdraw all liquidity, using wallet balances",
			zap.String("amount_a", res.AmountAWithdrawn),
			zap.String("amount_b", res.AmountBWithdrawn),
		)
		return res, nil
	}

	if positionMint == "" {
		return model.WithdrawResult{}, executor.Terminal(fmt.Errorf("no position to withdraw from"))
	}
	res, err := o.deps.Liquidity.WithdrawAll(ctx, positionMint)
	if err != nil {
		return model.WithdrawResult{}, err
	}
	if !res.Success {
		return model.WithdrawResult{}, fmt.Errorf("withdraw failed")
	}
	if err := o.deps.Store.MarkWithdrawComplete(ctx, res); err != nil {
		return model.WithdrawResult{}, err
	}
	logger.Info("withdrawn",
		zap.String("amount_a", res.AmountAWithdrawn),
		zap.String("amount_b", res.AmountBWithdrawn),
		zap.String("txid", res.TxID),
	)
	return res, nil
}

func (o *Orchestrator) selectRange(ctx context.Context, logger *zap.Logger) (tickrange.Selection, error) {
	logger.Info("fetching pool", zap.String("pool", o.cfg.PoolAddress))
	pool, err := o.deps.Pools.FetchPool(ctx, o.cfg.PoolAddress)
	if err != nil {
		return tickrange.Selection{}, fmt.Errorf("fetch pool: %w", err)
	}
	price, err := strconv.ParseFloat(pool.CurrentPrice, 64)
	if err != nil {
		return tickrange.Selection{}, executor.Terminal(fmt.Errorf("parse pool price %q: %w", pool.CurrentPrice, err))
	}

	decA, decB := int(o.cfg.DecimalsA), int(o.cfg.DecimalsB)
	var selection tickrange.Selection
	if o.cfg.VolatilityRegime != "" {
		selection, err = tickrange.ForVolatility(price, pool.TickSpacing, o.cfg.VolatilityRegime, decA, decB)
	} else {
		selection, err = tickrange.FromPrice(price, pool.TickSpacing, o.cfg.RangeWidthPct, decA, decB)
	}
	if err != nil {
		return tickrange.Selection{}, executor.Terminal(fmt.Errorf("select range: %w", err))
	}

	logger.Info("new range",
		zap.Float64("current_price", price),
		zap.Float64("lower_price", selection.LowerPrice),
		zap.Float64("upper_price", selection.UpperPrice),
		zap.Int32("lower_tick", selection.LowerTick),
		zap.Int32("upper_tick", selection.UpperTick),
		zap.Float64("width_pct", selection.WidthPct),
	)
	return selection, nil
}

func (o *Orchestrator) rebalanceRatio(ctx context.Context, logger *zap.Logger, withdrawn model.WithdrawResult) (ratio.SwapPlan, error) {
	amountA, err := parseAmount(withdrawn.AmountAWithdrawn)
	if err != nil {
		return ratio.SwapPlan{}, executor.Terminal(fmt.Errorf("amount A: %w", err))
	}
	amountB, err := parseAmount(withdrawn.AmountBWithdrawn)
	if err != nil {
		return ratio.SwapPlan{}, executor.Terminal(fmt.Errorf("amount B: %w", err))
	}

	if o.deps.Oracle == nil {
		if o.cfg.DryRun {
			logger.Info("would swap to target ratio", zap.Float64("target_a_pct", o.cfg.TargetAPct))
			return ratio.SwapPlan{Action: ratio.ActionNone}, nil
		}
		return ratio.SwapPlan{}, executor.Terminal(fmt.Errorf("price oracle is not configured"))
	}
	price, err := o.deps.Oracle.PriceA(ctx)
	if err != nil {
		if o.cfg.DryRun {
			logger.Warn("could not fetch price", zap.Error(err))
			return ratio.SwapPlan{Action: ratio.ActionNone}, nil
		}
		return ratio.SwapPlan{}, fmt.Errorf("fetch price: %w", err)
	}

	plan, err := ratio.Plan(ratio.Input{
		BalanceA:     amountA,
		BalanceB:     amountB,
		DecimalsA:    o.cfg.DecimalsA,
		DecimalsB:    o.cfg.DecimalsB,
		PriceA:       price,
		TargetAPct:   decimal.NewFromFloat(o.cfg.TargetAPct),
		MinSwapValue: decimal.NewFromFloat(o.cfg.MinSwapValue),
	})
	if err != nil {
		return ratio.SwapPlan{}, executor.Terminal(fmt.Errorf("plan swap: %w", err))
	}
	logger.Info("ratio before swap",
		zap.String("value_a", plan.Valuation.ValueA.StringFixed(2)),
		zap.String("value_b", plan.Valuation.ValueB.StringFixed(2)),
		zap.String("current_a_pct", plan.Valuation.CurrentAPct.StringFixed(1)),
		zap.Float64("target_a_pct", o.cfg.TargetAPct),
		zap.String("action", string(plan.Action)),
		zap.String("amount", plan.Amount.String()),
	)

	if o.cfg.DryRun {
		logger.Info("would swap to target ratio", zap.String("action", string(plan.Action)))
		return plan, nil
	}

	if plan.Action != ratio.ActionNone {
		if o.deps.Swapper == nil {
			return ratio.SwapPlan{}, executor.Terminal(fmt.Errorf("swapper is not configured"))
		}
		amount := plan.Amount.BigInt()
		if !amount.IsUint64() {
			return ratio.SwapPlan{}, executor.Terminal(fmt.Errorf("swap amount out of range: %s", plan.Amount))
		}
		req := swap.Request{
			InputMint:   o.cfg.MintB,
			OutputMint:  o.cfg.MintA,
			Amount:      amount.Uint64(),
			SlippageBps: o.cfg.SlippageBps,
		}
		if plan.InputMintIsA() {
			req.InputMint, req.OutputMint = o.cfg.MintA, o.cfg.MintB
		}
		res, err := o.deps.Swapper.Swap(ctx, req)
		if err != nil {
			return ratio.SwapPlan{}, fmt.Errorf("swap: %w", err)
		}
		logger.Info("swapped",
			zap.String("in_amount", res.InAmount),
			zap.String("out_amount", res.OutAmount),
			zap.String("txid", res.TxID),
		)
	} else {
		logger.Info("ratio within tolerance, no swap needed")
	}

	if err := o.deps.Store.MarkSwapComplete(ctx); err != nil {
		return ratio.SwapPlan{}, err
	}
	return plan, nil
}

func (o *Orchestrator) open(ctx context.Context, logger *zap.Logger, selection tickrange.Selection) (string, error) {
	req := executor.OpenRequest{
		Pool:       o.cfg.PoolAddress,
		LowerPrice: selection.LowerPrice,
		UpperPrice: selection.UpperPrice,
		Amount:     o.cfg.OpenAmount,
		UseTokenB:  o.cfg.OpenUseTokenB,
	}

	if o.cfg.DryRun {
		logger.Info("would open position",
			zap.String("pool", req.Pool),
			zap.Float64("lower_price", req.LowerPrice),
			zap.Float64("upper_price", req.UpperPrice),
		)
		return DryRunPositionMint, nil
	}

	logger.Info("opening position",
		zap.Float64("lower_price", req.LowerPrice),
		zap.Float64("upper_price", req.UpperPrice),
		zap.Uint64("amount", req.Amount),
		zap.Bool("use_token_b", req.UseTokenB),
	)
	res, err := o.deps.Liquidity.OpenPosition(ctx, req)
	if err != nil {
		return "", err
	}
	if !res.Success || res.PositionMint == "" {
		return "", fmt.Errorf("open position failed")
	}
	if err := o.deps.Store.MarkComplete(ctx, res.PositionMint); err != nil {
		return "", err
	}
	return res.PositionMint, nil
}

func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, event model.RebalanceEvent, step state.Step, err error) error {
	stepErr := &StepError{Step: step, Err: err}
	if !o.cfg.DryRun {
		o.deps.Store.MarkFailed(stepErr)
	} else {
		logger.Error("dry run failed", zap.String("step", string(step)), zap.Error(err))
	}
	o.deps.Metrics.StepFailed(string(step))

	event.Status = model.EventStatusFailed
	event.Step = string(step)
	event.Error = err.Error()
	event.At = o.now().UTC()
	o.record(ctx, logger, event)
	return stepErr
}

func (o *Orchestrator) record(ctx context.Context, logger *zap.Logger, event model.RebalanceEvent) {
	if err := o.deps.Journal.Record(ctx, event); err != nil {
		logger.Warn("journal write failed", zap.Error(err))
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %q: %w", raw, err)
	}
	return v, nil
}
