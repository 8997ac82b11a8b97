package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the admission engine.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Storage    StorageConfig    `yaml:"storage"`
	RPC        RPCConfig        `yaml:"rpc"`
	Quote      QuoteConfig      `yaml:"quote"`
	Gate       GateConfig       `yaml:"gate"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Reputation ReputationConfig `yaml:"reputation"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type StorageConfig struct {
	PostgresDSN     string `yaml:"postgres_dsn"`
	ClickHouseDSN   string `yaml:"clickhouse_dsn"`
	DecisionBatch   int    `yaml:"decision_batch"`
	FlushIntervalS  int    `yaml:"flush_interval_s"`
}

type RPCConfig struct {
	PrimaryEndpoint   string  `yaml:"primary_endpoint"`
	SecondaryEndpoint string  `yaml:"secondary_endpoint"` // independent provider for cross-checks
	WSEndpoint        string  `yaml:"ws_endpoint"`
	TimeoutS          int     `yaml:"timeout_s"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps"`
}

type QuoteConfig struct {
	Endpoints       []string `yaml:"endpoints"`        // Jupiter-compatible quote endpoints
	RaydiumEndpoint string   `yaml:"raydium_endpoint"` // compute-swap fallback
	CacheTTLS       int      `yaml:"cache_ttl_s"`
	MaxRetries      int      `yaml:"max_retries"`
	CriticalRetries int      `yaml:"critical_retries"`
	TimeoutMs       int      `yaml:"timeout_ms"`
}

type GateConfig struct {
	AutoLiquidityFloorUSD   float64 `yaml:"auto_liquidity_floor_usd"`
	ManualLiquidityFloorUSD float64 `yaml:"manual_liquidity_floor_usd"`
	TargetBuyerPositions    []int   `yaml:"target_buyer_positions"`
	MinUniqueHolders        int     `yaml:"min_unique_holders"`
	MaxSlippagePct          float64 `yaml:"max_slippage_pct"`
	BuyAmountUSD            float64 `yaml:"buy_amount_usd"`
}

type BreakerConfig struct {
	DrawdownPct        float64 `yaml:"drawdown_pct"`
	RugStreakCount     int     `yaml:"rug_streak_count"`
	RugStreakWindow    int     `yaml:"rug_streak_window"` // last N closed trades
	HiddenTaxCount     int     `yaml:"hidden_tax_count"`
	FrozenTokenCount   int     `yaml:"frozen_token_count"`
	CooldownMinutes    int     `yaml:"cooldown_minutes"`
	RequireAdminReset  bool    `yaml:"require_admin_reset"`
}

type ReputationConfig struct {
	MinScore int `yaml:"min_score"`
}

// Load reads and parses a YAML configuration file. A .env file next to the
// process, if present, is loaded first so ${VAR} expansion picks it up.
func Load(path string) (*Config, error) {
	// Best effort: missing .env is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "sentinel-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Storage.DecisionBatch == 0 {
		cfg.Storage.DecisionBatch = 500
	}
	if cfg.Storage.FlushIntervalS == 0 {
		cfg.Storage.FlushIntervalS = 5
	}
	if cfg.RPC.PrimaryEndpoint == "" {
		cfg.RPC.PrimaryEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.RPC.WSEndpoint == "" {
		cfg.RPC.WSEndpoint = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.RPC.TimeoutS == 0 {
		cfg.RPC.TimeoutS = 10
	}
	if cfg.RPC.RateLimitRPS == 0 {
		cfg.RPC.RateLimitRPS = 10
	}
	if len(cfg.Quote.Endpoints) == 0 {
		cfg.Quote.Endpoints = []string{"https://quote-api.jup.ag/v6/quote"}
	}
	if cfg.Quote.RaydiumEndpoint == "" {
		cfg.Quote.RaydiumEndpoint = "https://transaction-v1.raydium.io/compute/swap-base-in"
	}
	if cfg.Quote.CacheTTLS == 0 {
		cfg.Quote.CacheTTLS = 60
	}
	if cfg.Quote.MaxRetries == 0 {
		cfg.Quote.MaxRetries = 3
	}
	if cfg.Quote.CriticalRetries == 0 {
		cfg.Quote.CriticalRetries = 5
	}
	if cfg.Quote.TimeoutMs == 0 {
		cfg.Quote.TimeoutMs = 8000
	}
	if cfg.Gate.AutoLiquidityFloorUSD == 0 {
		cfg.Gate.AutoLiquidityFloorUSD = 10_000
	}
	if cfg.Gate.ManualLiquidityFloorUSD == 0 {
		cfg.Gate.ManualLiquidityFloorUSD = 5_000
	}
	if cfg.Gate.MinUniqueHolders == 0 {
		cfg.Gate.MinUniqueHolders = 5
	}
	if cfg.Gate.MaxSlippagePct == 0 {
		cfg.Gate.MaxSlippagePct = 15
	}
	if cfg.Gate.BuyAmountUSD == 0 {
		cfg.Gate.BuyAmountUSD = 200
	}
	if cfg.Breaker.DrawdownPct == 0 {
		cfg.Breaker.DrawdownPct = 30
	}
	if cfg.Breaker.RugStreakCount == 0 {
		cfg.Breaker.RugStreakCount = 3
	}
	if cfg.Breaker.RugStreakWindow == 0 {
		cfg.Breaker.RugStreakWindow = 10
	}
	if cfg.Breaker.HiddenTaxCount == 0 {
		cfg.Breaker.HiddenTaxCount = 2
	}
	if cfg.Breaker.FrozenTokenCount == 0 {
		cfg.Breaker.FrozenTokenCount = 2
	}
	if cfg.Breaker.CooldownMinutes == 0 {
		cfg.Breaker.CooldownMinutes = 60
	}
	if cfg.Reputation.MinScore == 0 {
		cfg.Reputation.MinScore = 70
	}
}
