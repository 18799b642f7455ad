package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"clmmRebalancer/internal/config"
	"clmmRebalancer/internal/decision"
	"clmmRebalancer/internal/orchestrator"
	"clmmRebalancer/internal/state"
	"clmmRebalancer/internal/storage/postgres"
	"clmmRebalancer/internal/tickrange"
)

func main() {
	root := &cobra.Command{
		Use:          "rebalancer",
		Short:        "Concentrated liquidity position rebalancer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor the position and rebalance when triggered",
		RunE:  runRebalancer,
	}

	runCmd.Flags().Bool("once", false, "run a single check cycle and exit")
	runCmd.Flags().Bool("dry-run", false, "simulate without sending transactions")
	runCmd.Flags().Bool("force-rebalance", false, "rebalance even if the position is healthy")
	runCmd.Flags().String("position", "", "position mint to track (overrides state)")
	runCmd.Flags().String("state-file", "", "state file path")

	root.AddCommand(runCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fetch the tracked position and print the trigger decision",
		RunE:  runAnalyze,
	}

	analyzeCmd.Flags().String("position", "", "position mint (defaults to the tracked position)")
	analyzeCmd.Flags().String("state-file", "", "state file path")

	root.AddCommand(analyzeCmd)

	rangeCmd := &cobra.Command{
		Use:   "range",
		Short: "Compute a tick-aligned range",
		RunE:  runRange,
	}

	rangeCmd.Flags().Float64("price", 0, "current price of token A in token B")
	rangeCmd.Flags().Int32("tick", 0, "current tick (used with --ticks-each-side)")
	rangeCmd.Flags().Int32("tick-spacing", 64, "pool tick spacing")
	rangeCmd.Flags().Float64("width", 5.0, "range width percent on each side")
	rangeCmd.Flags().String("regime", "", "volatility regime (low, medium, high, extreme)")
	rangeCmd.Flags().Int32("ticks-each-side", 0, "select by tick count instead of price")
	rangeCmd.Flags().Int("decimals-a", 9, "token A decimals")
	rangeCmd.Flags().Int("decimals-b", 6, "token B decimals")

	root.AddCommand(rangeCmd)

	root.AddCommand(newStateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRebalancer(cmd *cobra.Command, _ []string) error {
	if err := loadDotenv(); err != nil {
		return err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	once, _ := cmd.Flags().GetBool("once")
	force, _ := cmd.Flags().GetBool("force-rebalance")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Flags().Changed("position") {
		if err := a.store.SetPosition(ctx, cfg.PositionMint); err != nil {
			return err
		}
	} else if _, err := a.store.InitializeFromConfig(ctx, cfg.PositionMint); err != nil {
		return err
	}

	logger.Info("rebalancer start",
		zap.String("pool", cfg.PoolAddress),
		zap.String("position_mint", a.store.Snapshot().PositionMint),
		zap.Int("check_interval_seconds", cfg.CheckIntervalSeconds),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("once", once),
		zap.String("pool_source", cfg.PoolSource),
		zap.String("state_backend", cfg.StateBackend),
	)

	if once {
		// A started rebalance runs to the next checkpoint even if a signal
		// arrives.
		return a.orch.RunCycle(context.WithoutCancel(ctx), force)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if force {
		if err := a.orch.RunCycle(context.WithoutCancel(ctx), true); err != nil {
			logger.Error("forced cycle failed", zap.Error(err))
		}
	}

	return orchestrator.NewDaemon(ctx, a.orch, cfg.CheckInterval(), logger).Run()
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	if err := loadDotenv(); err != nil {
		return err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	cfg.DryRun = true

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mint := a.store.Snapshot().PositionMint
	if cmd.Flags().Changed("position") || mint == "" {
		mint = cfg.PositionMint
	}
	if mint == "" {
		return orchestrator.ErrNoPosition
	}

	snap, err := a.executor.FetchPosition(ctx, mint)
	if err != nil {
		return fmt.Errorf("fetch position: %w", err)
	}
	dec := decision.Decide(snap, cfg.RebalanceTriggers)

	return printJSON(map[string]any{
		"position": snap,
		"decision": dec,
		"summary":  dec.Analysis.Summary(),
	})
}

func runRange(cmd *cobra.Command, _ []string) error {
	price, _ := cmd.Flags().GetFloat64("price")
	tick, _ := cmd.Flags().GetInt32("tick")
	spacing, _ := cmd.Flags().GetInt32("tick-spacing")
	width, _ := cmd.Flags().GetFloat64("width")
	regime, _ := cmd.Flags().GetString("regime")
	ticksEachSide, _ := cmd.Flags().GetInt32("ticks-each-side")
	decimalsA, _ := cmd.Flags().GetInt("decimals-a")
	decimalsB, _ := cmd.Flags().GetInt("decimals-b")

	var (
		selection tickrange.Selection
		err       error
	)
	switch {
	case ticksEachSide > 0:
		selection, err = tickrange.FromTicks(tick, spacing, ticksEachSide, decimalsA, decimalsB)
	case regime != "":
		selection, err = tickrange.ForVolatility(price, spacing, regime, decimalsA, decimalsB)
	default:
		selection, err = tickrange.FromPrice(price, spacing, width, decimalsA, decimalsB)
	}
	if err != nil {
		return err
	}
	return printJSON(selection)
}

func newStateCmd() *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or repair the persisted workflow state",
	}
	stateCmd.PersistentFlags().String("state-file", "./data/state.json", "state file path")
	stateCmd.PersistentFlags().String("pg-dsn", "", "Postgres DSN (uses the database backend when set)")
	stateCmd.PersistentFlags().String("state-name", "default", "state row name in the database backend")

	stateCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *state.Store) error {
				return printJSON(state.ToRecord(store.Snapshot()))
			})
		},
	})
	stateCmd.AddCommand(&cobra.Command{
		Use:   "set-position <mint>",
		Short: "Track a position mint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *state.Store) error {
				return store.SetPosition(ctx, args[0])
			})
		},
	})
	stateCmd.AddCommand(&cobra.Command{
		Use:   "reset-pending",
		Short: "Clear a pending rebalance, keeping the position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *state.Store) error {
				return store.ResetPending(ctx)
			})
		},
	})
	stateCmd.AddCommand(&cobra.Command{
		Use:   "reset-all",
		Short: "Restore the default state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *state.Store) error {
				return store.ResetAll(ctx)
			})
		},
	})
	return stateCmd
}

func withStore(cmd *cobra.Command, fn func(context.Context, *state.Store) error) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	path, _ := cmd.Flags().GetString("state-file")
	dsn, _ := cmd.Flags().GetString("pg-dsn")
	name, _ := cmd.Flags().GetString("state-name")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	kind := config.BackendFile
	var pg *postgres.Store
	if dsn != "" {
		pg, err = postgres.NewStore(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		kind = config.BackendPostgres
	}

	store, err := state.Open(ctx, stateBackend(kind, path, name, pg), logger)
	if err != nil {
		return err
	}
	return fn(ctx, store)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
