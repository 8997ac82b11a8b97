// Package sentinel wires the trade admission control engine from
// configuration: the gate, its collaborators (quotes, routes, depth,
// reputation, clusters, circuit breaker), the post-trade delta parser
// and the audit/analytics plumbing. Embedding systems construct one
// Core and call Evaluate before every buy and SettleClose after every
// confirmed exit.
package sentinel

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/audit"
	"github.com/sentinel-trading/sentinel/internal/breaker"
	"github.com/sentinel-trading/sentinel/internal/cluster"
	"github.com/sentinel-trading/sentinel/internal/config"
	"github.com/sentinel-trading/sentinel/internal/depth"
	"github.com/sentinel-trading/sentinel/internal/gate"
	"github.com/sentinel-trading/sentinel/internal/quote"
	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/route"
	"github.com/sentinel-trading/sentinel/internal/solana"
	"github.com/sentinel-trading/sentinel/internal/soldelta"
	"github.com/sentinel-trading/sentinel/internal/storage/clickhouse"
	"github.com/sentinel-trading/sentinel/internal/storage/postgres"
)

// Core is the fully wired admission engine.
type Core struct {
	Gate       *gate.Engine
	Quotes     *quote.Client
	Routes     *route.Validator
	Depth      *depth.Validator
	Reputation *reputation.Service
	Breaker    *breaker.Breaker
	Clusters   *cluster.Engine
	Parser     *soldelta.Parser
	Feedback   *soldelta.Feedback
	Trail      *audit.Trail
	Confirms   *solana.ConfirmMonitor

	cfg        *config.Config
	primaryRPC *solana.LiveRPCClient
	secondRPC  *solana.LiveRPCClient
	pg         *postgres.Pool
	analytics  *clickhouse.Client
	decisions  *clickhouse.DecisionWriter
}

// New constructs a Core from configuration. Postgres and ClickHouse are
// optional: without a DSN the respective concern falls back to in-memory
// stores (reputation/breaker/audit) or is disabled (decision analytics).
func New(ctx context.Context, cfg *config.Config) (*Core, error) {
	c := &Core{cfg: cfg}

	var (
		repStore reputation.Store
		brkStore breaker.Store
		sink     audit.Sink
	)
	if cfg.Storage.PostgresDSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("sentinel: connect postgres: %w", err)
		}
		c.pg = pool
		repStore = postgres.NewReputationStore(pool)
		brkStore = postgres.NewBreakerStore(pool)
		sink = postgres.NewAuditStore(pool)
	} else {
		log.Warn().Msg("sentinel: no postgres DSN, reputation/breaker state is in-memory only")
		repStore = reputation.NewMemoryStore()
		brkStore = breaker.NewMemoryStore()
	}

	c.Trail = audit.NewTrail(sink, 1024)

	c.Reputation = reputation.NewService(reputation.DefaultConfig(), repStore)
	if err := c.Reputation.LoadKnownBadClusters(ctx); err != nil {
		// Seeding is an enrichment, not a prerequisite for gating.
		log.Warn().Err(err).Msg("sentinel: known-bad cluster seeding failed")
	}

	brkCfg := breaker.DefaultConfig()
	brkCfg.DrawdownPct = cfg.Breaker.DrawdownPct
	brkCfg.RugStreakCount = cfg.Breaker.RugStreakCount
	brkCfg.RugStreakWindow = cfg.Breaker.RugStreakWindow
	brkCfg.HiddenTaxCount = cfg.Breaker.HiddenTaxCount
	brkCfg.FrozenTokenCount = cfg.Breaker.FrozenTokenCount
	brkCfg.CooldownMinutes = cfg.Breaker.CooldownMinutes
	brkCfg.RequireAdminReset = cfg.Breaker.RequireAdminReset
	c.Breaker = breaker.New(brkCfg, brkStore, c.Trail)
	if c.pg != nil {
		c.Breaker.SetAuthorizer(postgres.NewAdminStore(c.pg))
	}

	c.Clusters = cluster.NewEngine(cluster.DefaultConfig())

	quoteCfg := quote.DefaultConfig()
	quoteCfg.Endpoints = cfg.Quote.Endpoints
	quoteCfg.RaydiumEndpoint = cfg.Quote.RaydiumEndpoint
	quoteCfg.CacheTTL = time.Duration(cfg.Quote.CacheTTLS) * time.Second
	quoteCfg.MaxRetries = cfg.Quote.MaxRetries
	quoteCfg.CriticalRetries = cfg.Quote.CriticalRetries
	quoteCfg.Timeout = time.Duration(cfg.Quote.TimeoutMs) * time.Millisecond
	c.Quotes = quote.NewClient(quoteCfg)

	c.Routes = route.NewValidator(route.DefaultConfig(), c.Quotes, nil)
	c.Depth = depth.NewValidator(depth.DefaultConfig(), c.Quotes)

	c.Gate = gate.New(c.Routes, c.Depth, c.Reputation, c.Clusters, c.Breaker, c.Trail)

	rpcCfg := solana.RPCConfig{
		Endpoint:     cfg.RPC.PrimaryEndpoint,
		WSEndpoint:   cfg.RPC.WSEndpoint,
		Timeout:      time.Duration(cfg.RPC.TimeoutS) * time.Second,
		RateLimitRPS: cfg.RPC.RateLimitRPS,
	}
	c.primaryRPC = solana.NewLiveRPCClient(rpcCfg)

	secondCfg := rpcCfg
	if cfg.RPC.SecondaryEndpoint != "" {
		secondCfg.Endpoint = cfg.RPC.SecondaryEndpoint
	} else {
		log.Warn().Msg("sentinel: no secondary RPC endpoint, delta cross-checks lose provider independence")
	}
	c.secondRPC = solana.NewLiveRPCClient(secondCfg)

	c.Parser = soldelta.NewParser(soldelta.DefaultConfig(), c.primaryRPC, c.secondRPC, c.Trail)
	c.Feedback = soldelta.NewFeedback(c.Breaker, c.Reputation)

	c.Confirms = solana.NewConfirmMonitor(solana.ConfirmMonitorConfig{
		WSEndpoint: cfg.RPC.WSEndpoint,
	})

	if cfg.Storage.ClickHouseDSN != "" {
		ch, err := clickhouse.Connect(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("sentinel: connect clickhouse: %w", err)
		}
		if err := ch.EnsureSchema(ctx); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("sentinel: clickhouse schema: %w", err)
		}
		c.analytics = ch
		c.decisions = clickhouse.NewDecisionWriter(ch,
			cfg.Storage.DecisionBatch,
			time.Duration(cfg.Storage.FlushIntervalS)*time.Second)
	}

	log.Info().
		Str("instance", cfg.General.InstanceID).
		Bool("postgres", c.pg != nil).
		Bool("clickhouse", c.analytics != nil).
		Msg("sentinel: core wired")

	return c, nil
}

// Start launches the background loops: the decision flush loop and the
// confirmation monitor. Both stop when ctx is cancelled.
func (c *Core) Start(ctx context.Context) (<-chan solana.ConfirmEvent, error) {
	if c.decisions != nil {
		go c.decisions.Start(ctx)
	}
	return c.Confirms.Start(ctx)
}

// Thresholds builds the per-evaluation knobs from configuration. Callers
// set BuyAmountLamports themselves once a SOL price is known.
func (c *Core) Thresholds() gate.Thresholds {
	return gate.Thresholds{
		AutoLiquidityFloorUSD:   c.cfg.Gate.AutoLiquidityFloorUSD,
		ManualLiquidityFloorUSD: c.cfg.Gate.ManualLiquidityFloorUSD,
		TargetBuyerPositions:    c.cfg.Gate.TargetBuyerPositions,
		MinUniqueHolders:        c.cfg.Gate.MinUniqueHolders,
		MaxSlippagePct:          c.cfg.Gate.MaxSlippagePct,
		SlippageBps:             int(c.cfg.Gate.MaxSlippagePct * 100),
		BuyAmountUSD:            decimal.NewFromFloat(c.cfg.Gate.BuyAmountUSD),
		MinReputationScore:      c.cfg.Reputation.MinScore,
	}
}

// Evaluate runs the full admission pipeline and forwards the decision to
// the analytics writer best-effort.
func (c *Core) Evaluate(ctx context.Context, userID string, in gate.Input) gate.Decision {
	d := c.Gate.Evaluate(ctx, userID, in)
	if c.decisions != nil {
		if err := c.decisions.WriteDecision(ctx, d); err != nil {
			log.Warn().Err(err).Str("token", d.TokenAddress).Msg("sentinel: decision analytics write failed")
		}
	}
	return d
}

// SettleClose parses the confirmed exit transaction, applies the
// breaker/reputation feedback, and records the closed trade in the
// breaker's rolling history so the drawdown and rug-streak triggers see
// it. A nil result or a corrupted delta means downstream P&L must not
// be trusted.
func (c *Core) SettleClose(ctx context.Context, userID, deployerWallet string, sig solana.Signature, wallet solana.Pubkey, entrySOL decimal.Decimal, trade breaker.ClosedTrade, lpSurvivalSeconds float64) (*soldelta.Result, error) {
	res, err := c.Parser.ParseDelta(ctx, sig, wallet, soldelta.TradeSell, entrySOL)
	if err != nil {
		return nil, err
	}
	c.Feedback.ApplyClose(ctx, userID, deployerWallet, res, trade.RugFlagged, lpSurvivalSeconds)
	if tripped, trigger := c.Breaker.RecordClose(ctx, userID, trade); tripped {
		log.Warn().
			Str("user", userID).
			Str("trigger", string(trigger)).
			Msg("sentinel: circuit breaker tripped on trade close")
	}
	return res, nil
}

// Close releases connections. Background loops are stopped by cancelling
// the Start context first.
func (c *Core) Close() {
	c.Quotes.Reset()
	c.primaryRPC.Close()
	c.secondRPC.Close()
	if c.pg != nil {
		c.pg.Close()
	}
	if c.analytics != nil {
		if err := c.analytics.Close(); err != nil {
			log.Warn().Err(err).Msg("sentinel: clickhouse close failed")
		}
	}
}
