package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"clmmRebalancer/internal/chain"
	"clmmRebalancer/internal/config"
	"clmmRebalancer/internal/dex"
	"clmmRebalancer/internal/executor"
	"clmmRebalancer/internal/metrics"
	"clmmRebalancer/internal/orchestrator"
	"clmmRebalancer/internal/state"
	"clmmRebalancer/internal/storage"
	"clmmRebalancer/internal/storage/postgres"
	"clmmRebalancer/internal/swap"
)

// app holds the wired components of one process.
type app struct {
	cfg      config.Config
	store    *state.Store
	executor *executor.Client
	orch     *orchestrator.Orchestrator
	metrics  *metrics.Metrics
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// loadDotenv reads secrets from .env when present.
func loadDotenv() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.ValidateLive(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, metrics: metrics.New()}

	var pg *postgres.Store
	if cfg.StateBackend == config.BackendPostgres || cfg.JournalBackend == config.JournalPostgres {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		pg = store
	}

	store, err := state.Open(ctx, stateBackend(cfg.StateBackend, cfg.StateFile, cfg.StateName, pg), logger.Named("state"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	var journal storage.Journal = storage.Nop{}
	switch cfg.JournalBackend {
	case config.JournalJSONL:
		journal = storage.NewJsonlJournal(cfg.JournalFile)
	case config.JournalPostgres:
		journal = &postgres.Journal{Store: pg}
	}

	runner, err := executor.NewNodeRunner(cfg.ExecutorDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	gateway := executor.NewGateway(runner, logger.Named("executor"), executor.WithObserver(a.metrics))
	a.executor = executor.NewClient(gateway)

	var pools orchestrator.PoolSource = a.executor
	if cfg.PoolSource == config.PoolSourceEVM {
		chainClient, err := chain.NewClient(ctx, cfg.EVMRPCURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect rpc: %w", err)
		}
		a.closers = append(a.closers, chainClient.Close)
		chainID, err := chainClient.GetChainID(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		logger.Info("evm pool source", zap.String("rpc", cfg.EVMRPCURL), zap.String("chain_id", chainID.String()))
		pools = dex.NewPoolReader(chainClient, logger.Named("dex"))
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	swapClient := swap.NewClient(cfg.SwapAPIURL, cfg.SwapAPIKey, httpClient)
	deps := orchestrator.Deps{
		Positions: a.executor,
		Pools:     pools,
		Liquidity: a.executor,
		Oracle: &swap.Oracle{
			Client:    swapClient,
			MintA:     cfg.MintA,
			MintB:     cfg.MintB,
			DecimalsA: cfg.DecimalsA,
			DecimalsB: cfg.DecimalsB,
		},
		Store:   store,
		Journal: journal,
		Metrics: a.metrics,
	}

	if cfg.SolanaPrivateKey != "" {
		wallet, err := swap.LoadWallet(cfg.SolanaPrivateKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		solanaRPC := rpc.New(cfg.SolanaRPCURL)
		a.closers = append(a.closers, func() { _ = solanaRPC.Close() })
		deps.Swapper = &swap.Swapper{
			Client: swapClient,
			Sender: &swap.Sender{
				RPC:    solanaRPC,
				Wallet: wallet,
				Logger: logger.Named("sender"),
			},
			Gateway: gateway,
			Policy:  executor.TxPolicy,
			Logger:  logger.Named("swap"),
		}
		deps.Balances = &swap.BalanceReader{
			RPC:   solanaRPC,
			Owner: wallet.PublicKey(),
			MintA: cfg.MintA,
			MintB: cfg.MintB,
		}
	} else if !cfg.DryRun {
		a.Close()
		return nil, fmt.Errorf("SOLANA_PRIVATE_KEY is required for live rebalancing")
	} else {
		logger.Warn("no wallet configured, dry run will not read balances")
	}

	a.orch = orchestrator.New(orchestrator.RunConfig{
		PoolAddress:      cfg.PoolAddress,
		Triggers:         cfg.RebalanceTriggers,
		RangeWidthPct:    cfg.RangeWidthPct,
		VolatilityRegime: cfg.VolatilityRegime,
		TargetAPct:       cfg.TargetSOLPct,
		MinSwapValue:     cfg.MinSwapValueUSD,
		SlippageBps:      swap.ClampSlippage(cfg.SlippageBps),
		MintA:            cfg.MintA,
		MintB:            cfg.MintB,
		DecimalsA:        cfg.DecimalsA,
		DecimalsB:        cfg.DecimalsB,
		OpenAmount:       cfg.OpenPositionAmount,
		OpenUseTokenB:    cfg.OpenPositionUseTokenB,
		DryRun:           cfg.DryRun,
	}, deps, logger.Named("orchestrator"))

	return a, nil
}

func stateBackend(kind, path, name string, pg *postgres.Store) state.Backend {
	if kind == config.BackendPostgres && pg != nil {
		return &state.DBBackend{Store: pg, Name: name}
	}
	return &state.FileBackend{Path: path}
}
