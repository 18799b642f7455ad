package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"clmmRebalancer/internal/decision"
	"clmmRebalancer/internal/swap"
)

const (
	PoolSourceExecutor = "executor"
	PoolSourceEVM      = "evm"

	BackendFile     = "file"
	BackendPostgres = "postgres"

	JournalNone     = "none"
	JournalJSONL    = "jsonl"
	JournalPostgres = "postgres"
)

// requiredKeys must be present in the config file or environment.
var requiredKeys = []string{"pool_address", "check_interval_seconds", "rebalance_triggers"}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"dry-run":    "dry_run",
	"position":   "position_mint",
	"state-file": "state_file",
	"log-level":  "log_level",
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PoolAddress          string            `mapstructure:"pool_address" validate:"required"`
	PositionMint         string            `mapstructure:"position_mint"`
	CheckIntervalSeconds int               `mapstructure:"check_interval_seconds" validate:"gt=0"`
	RebalanceTriggers    decision.Triggers `mapstructure:"rebalance_triggers"`
	RangeWidthPct        float64           `mapstructure:"range_width_pct" validate:"gt=0,lt=100"`
	VolatilityRegime     string            `mapstructure:"volatility_regime" validate:"omitempty,oneof=low medium high extreme"`
	TargetSOLPct         float64           `mapstructure:"target_sol_pct" validate:"gte=0,lte=100"`
	DryRun               bool              `mapstructure:"dry_run"`
	MinSwapValueUSD      float64           `mapstructure:"min_swap_value_usd" validate:"gte=0"`
	SlippageBps          int               `mapstructure:"slippage_bps" validate:"gte=0,lte=10000"`

	StateFile      string `mapstructure:"state_file" validate:"required"`
	StateBackend   string `mapstructure:"state_backend" validate:"oneof=file postgres"`
	StateName      string `mapstructure:"state_name" validate:"required"`
	PGDSN          string `mapstructure:"pg_dsn" validate:"required_if=StateBackend postgres,required_if=JournalBackend postgres"`
	JournalBackend string `mapstructure:"journal_backend" validate:"oneof=none jsonl postgres"`
	JournalFile    string `mapstructure:"journal_file" validate:"required_if=JournalBackend jsonl"`

	ExecutorDir string `mapstructure:"executor_dir" validate:"required"`
	PoolSource  string `mapstructure:"pool_source" validate:"oneof=executor evm"`
	EVMRPCURL   string `mapstructure:"evm_rpc_url" validate:"required_if=PoolSource evm"`

	MintA     string `mapstructure:"mint_a" validate:"required"`
	MintB     string `mapstructure:"mint_b" validate:"required"`
	DecimalsA int32  `mapstructure:"decimals_a" validate:"gte=0,lte=18"`
	DecimalsB int32  `mapstructure:"decimals_b" validate:"gte=0,lte=18"`

	OpenPositionAmount    uint64 `mapstructure:"open_position_amount" validate:"gt=0"`
	OpenPositionUseTokenB bool   `mapstructure:"open_position_use_token_b"`

	SwapAPIURL       string `mapstructure:"swap_api_url" validate:"required,url"`
	SwapAPIKey       string `mapstructure:"swap_api_key"`
	SolanaRPCURL     string `mapstructure:"solana_rpc_url" validate:"required,url"`
	SolanaPrivateKey string `mapstructure:"solana_private_key"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// CheckInterval returns the daemon sleep between cycles.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REBALANCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Secrets keep their conventional names.
	for key, env := range map[string]string{
		"solana_private_key": "SOLANA_PRIVATE_KEY",
		"solana_rpc_url":     "SOLANA_RPC_URL",
		"swap_api_key":       "JUPITER_API_KEY",
	} {
		if err := v.BindEnv(key, "REBALANCER_"+strings.ToUpper(key), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetDefault("position_mint", "")
	v.SetDefault("range_width_pct", 5.0)
	v.SetDefault("volatility_regime", "")
	v.SetDefault("target_sol_pct", 50.0)
	v.SetDefault("dry_run", false)
	v.SetDefault("min_swap_value_usd", 1.0)
	v.SetDefault("slippage_bps", 100)
	v.SetDefault("state_file", "./data/state.json")
	v.SetDefault("state_backend", BackendFile)
	v.SetDefault("state_name", "default")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("journal_backend", JournalJSONL)
	v.SetDefault("journal_file", "./data/rebalance_events.jsonl")
	v.SetDefault("executor_dir", "./ts-executor")
	v.SetDefault("pool_source", PoolSourceExecutor)
	v.SetDefault("evm_rpc_url", "")
	v.SetDefault("mint_a", swap.SOLMint)
	v.SetDefault("mint_b", swap.USDCMint)
	v.SetDefault("decimals_a", 9)
	v.SetDefault("decimals_b", 6)
	v.SetDefault("open_position_amount", uint64(1_000_000))
	v.SetDefault("open_position_use_token_b", true)
	v.SetDefault("swap_api_url", swap.DefaultBaseURL)
	v.SetDefault("solana_rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("rebalancer")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return Config{}, fmt.Errorf("missing required config field: %s", key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.PositionMint = strings.TrimSpace(cfg.PositionMint)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the address format of the selected
// pool source.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.PoolSource {
	case PoolSourceEVM:
		if !common.IsHexAddress(c.PoolAddress) {
			return fmt.Errorf("invalid config: pool_address %q is not a hex address", c.PoolAddress)
		}
	default:
		if _, err := solana.PublicKeyFromBase58(c.PoolAddress); err != nil {
			return fmt.Errorf("invalid config: pool_address: %w", err)
		}
		if c.PositionMint != "" {
			if _, err := solana.PublicKeyFromBase58(c.PositionMint); err != nil {
				return fmt.Errorf("invalid config: position_mint: %w", err)
			}
		}
	}

	for key, mint := range map[string]string{"mint_a": c.MintA, "mint_b": c.MintB} {
		if _, err := solana.PublicKeyFromBase58(mint); err != nil {
			return fmt.Errorf("invalid config: %s: %w", key, err)
		}
	}
	return nil
}

// ValidateLive rejects settings that can only be used without sending
// transactions. The evm pool source reads a Uniswap-style pool for analysis;
// its hex pool address and token decimals mean nothing to the Solana
// executor that opens positions.
func (c Config) ValidateLive() error {
	if c.DryRun {
		return nil
	}
	if c.PoolSource == PoolSourceEVM {
		return fmt.Errorf("invalid config: pool_source %q is read-only, use it with dry_run or the analyze command", c.PoolSource)
	}
	return nil
}
