package depth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/quote"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Quote Depth Validator — slippage/depth adequacy + double-quote check
// The double-quote delay is a deliberate timing primitive: two quotes
// 2-3s apart expose flash-liquidity injection that a single snapshot
// cannot see.
// ---------------------------------------------------------------------------

// Verdict classifies a depth check outcome.
type Verdict string

const (
	VerdictOK       Verdict = "OK"
	VerdictFail     Verdict = "FAIL"
	VerdictDegraded Verdict = "DEGRADED" // upstream throttled; a busy aggregator is not evidence of a scam
)

// Result is the outcome of a depth or double-quote check.
type Result struct {
	Verdict        Verdict `json:"verdict"`
	Reason         string  `json:"reason,omitempty"`
	PriceImpactPct float64 `json:"price_impact_pct,omitempty"`
	DeviationPct   float64 `json:"deviation_pct,omitempty"`
}

// Input describes the trade whose depth is being validated.
type Input struct {
	TokenMint         solana.Pubkey   `json:"token_mint"`
	PoolLiquidityUSD  decimal.Decimal `json:"pool_liquidity_usd"`
	BuyAmountUSD      decimal.Decimal `json:"buy_amount_usd"`
	BuyAmountLamports uint64          `json:"buy_amount_lamports"`
	MaxSlippagePct    float64         `json:"max_slippage_pct"`
	SlippageBps       int             `json:"slippage_bps"`
}

// Config configures the depth validator.
type Config struct {
	MinDepthMultiple   int           `yaml:"min_depth_multiple"`   // pool liquidity vs buy amount
	ReferenceDivisor   int64         `yaml:"reference_divisor"`    // reference quote = amount / divisor
	MinScaledOutputPct float64       `yaml:"min_scaled_output_pct"`
	InterQuoteDelay    time.Duration `yaml:"inter_quote_delay"`
	MaxDeviationPct    float64       `yaml:"max_deviation_pct"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinDepthMultiple:   5,
		ReferenceDivisor:   10,
		MinScaledOutputPct: 90,
		InterQuoteDelay:    2500 * time.Millisecond,
		MaxDeviationPct:    5,
	}
}

// Validator runs depth adequacy and double-quote checks against live quotes.
type Validator struct {
	config Config
	quotes *quote.Client
}

// NewValidator creates a depth validator.
func NewValidator(config Config, quotes *quote.Client) *Validator {
	if config.MinDepthMultiple == 0 {
		config.MinDepthMultiple = 5
	}
	if config.ReferenceDivisor == 0 {
		config.ReferenceDivisor = 10
	}
	if config.MinScaledOutputPct == 0 {
		config.MinScaledOutputPct = 90
	}
	if config.InterQuoteDelay == 0 {
		config.InterQuoteDelay = 2500 * time.Millisecond
	}
	if config.MaxDeviationPct == 0 {
		config.MaxDeviationPct = 5
	}
	return &Validator{config: config, quotes: quotes}
}

// ValidateDepth checks that the pool can absorb the buy without being
// the whole pool: liquidity floor, price impact ceiling, and output
// linearity against a scaled-down reference quote.
func (v *Validator) ValidateDepth(ctx context.Context, input Input) Result {
	minLiquidity := input.BuyAmountUSD.Mul(decimal.NewFromInt(int64(v.config.MinDepthMultiple)))
	if input.PoolLiquidityUSD.LessThan(minLiquidity) {
		return Result{
			Verdict: VerdictFail,
			Reason: fmt.Sprintf("pool liquidity $%s below %dx buy amount ($%s required)",
				input.PoolLiquidityUSD.StringFixed(0), v.config.MinDepthMultiple, minLiquidity.StringFixed(0)),
		}
	}

	req := quote.Request{
		InputMint:   solana.SOLMint,
		OutputMint:  input.TokenMint,
		Amount:      input.BuyAmountLamports,
		SlippageBps: input.SlippageBps,
	}

	full := v.quotes.FetchQuote(ctx, req, quote.Options{})
	if !full.OK {
		return degradeOrFail(full, "depth quote")
	}

	if full.Quote.PriceImpactPct > input.MaxSlippagePct {
		return Result{
			Verdict:        VerdictFail,
			PriceImpactPct: full.Quote.PriceImpactPct,
			Reason: fmt.Sprintf("price impact %.2f%% exceeds max slippage %.2f%%",
				full.Quote.PriceImpactPct, input.MaxSlippagePct),
		}
	}

	// Linearity check: a healthy pool quotes N/10 of the size at ~1/10 of
	// the output. Falling far under the linear scale-up means the quoted
	// depth is an illusion.
	refReq := req
	refReq.Amount = req.Amount / uint64(v.config.ReferenceDivisor)
	if refReq.Amount == 0 {
		refReq.Amount = 1
	}
	ref := v.quotes.FetchQuote(ctx, refReq, quote.Options{})
	if !ref.OK {
		return degradeOrFail(ref, "reference quote")
	}

	scaled := ref.Quote.OutAmount.Mul(decimal.NewFromInt(v.config.ReferenceDivisor))
	floor := scaled.Mul(decimal.NewFromFloat(v.config.MinScaledOutputPct / 100))
	if full.Quote.OutAmount.LessThan(floor) {
		return Result{
			Verdict:        VerdictFail,
			PriceImpactPct: full.Quote.PriceImpactPct,
			Reason: fmt.Sprintf("output %s below %.0f%% of linearly scaled reference %s",
				full.Quote.OutAmount.StringFixed(0), v.config.MinScaledOutputPct, scaled.StringFixed(0)),
		}
	}

	return Result{Verdict: VerdictOK, PriceImpactPct: full.Quote.PriceImpactPct}
}

// ValidateDoubleQuote requests two live quotes separated by the configured
// delay and fails on excessive output deviation. Catches short-lived
// liquidity injections staged to pass a single depth check.
func (v *Validator) ValidateDoubleQuote(ctx context.Context, input Input) Result {
	req := quote.Request{
		InputMint:   solana.SOLMint,
		OutputMint:  input.TokenMint,
		Amount:      input.BuyAmountLamports,
		SlippageBps: input.SlippageBps,
	}

	// Both quotes bypass the cache: comparing a cached snapshot against
	// itself would prove nothing.
	first := v.quotes.FetchQuote(ctx, req, quote.Options{SkipCache: true})
	if !first.OK {
		return degradeOrFail(first, "first quote")
	}

	// The inter-quote delay is the entire point of this check. Never
	// shorten or parallelize it.
	select {
	case <-time.After(v.config.InterQuoteDelay):
	case <-ctx.Done():
		return Result{Verdict: VerdictDegraded, Reason: "double-quote interrupted: " + ctx.Err().Error()}
	}

	second := v.quotes.FetchQuote(ctx, req, quote.Options{SkipCache: true})
	if !second.OK {
		return degradeOrFail(second, "second quote")
	}

	deviation := relativeDeviationPct(first.Quote.OutAmount, second.Quote.OutAmount)
	if deviation > v.config.MaxDeviationPct {
		log.Warn().
			Str("mint", string(input.TokenMint)).
			Float64("deviation_pct", deviation).
			Msg("depth: double-quote deviation")
		return Result{
			Verdict:      VerdictFail,
			DeviationPct: deviation,
			Reason: fmt.Sprintf("quote outputs deviated %.1f%% across %s (flash liquidity suspected)",
				deviation, v.config.InterQuoteDelay),
		}
	}

	return Result{Verdict: VerdictOK, DeviationPct: deviation}
}

// relativeDeviationPct returns |a-b| relative to the mean, in percent.
func relativeDeviationPct(a, b decimal.Decimal) float64 {
	mean := a.Add(b).Div(decimal.NewFromInt(2))
	if mean.IsZero() {
		return 0
	}
	dev := a.Sub(b).Abs().Div(mean).Mul(decimal.NewFromInt(100))
	out, _ := dev.Float64()
	return out
}

// degradeOrFail maps a quote failure onto a depth verdict: throttling
// degrades to caution, anything definitive fails.
func degradeOrFail(r quote.Result, stage string) Result {
	if r.Kind == quote.KindRateLimited {
		return Result{
			Verdict: VerdictDegraded,
			Reason:  fmt.Sprintf("%s rate limited, depth unverified", stage),
		}
	}
	return Result{
		Verdict: VerdictFail,
		Reason:  fmt.Sprintf("%s failed: %s", stage, r.Message),
	}
}
