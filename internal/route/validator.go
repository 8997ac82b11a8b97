package route

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/quote"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Route Validator — can this token actually be sold?
// Jupiter probe, Raydium probe and token-index lookup run concurrently;
// the verdict distinguishes "no route" (abandon) from "awaiting indexing"
// (retry later).
// ---------------------------------------------------------------------------

// Status classifies a token's sell-route state.
type Status string

const (
	StatusHasRoute         Status = "HAS_ROUTE"
	StatusAwaitingIndexing Status = "AWAITING_INDEXING"
	StatusNoRoute          Status = "NO_ROUTE"
	StatusUnknown          Status = "UNKNOWN" // transient upstream failure
)

// Validation is the route verdict for a token.
type Validation struct {
	Status  Status `json:"status"`
	Source  string `json:"source,omitempty"` // which probe confirmed the route
	Message string `json:"message,omitempty"`
}

// IndexChecker reports whether an aggregator has indexed a token yet.
type IndexChecker interface {
	IsIndexed(ctx context.Context, mint solana.Pubkey) (bool, error)
}

// Config configures the route validator.
type Config struct {
	ProbeAmount      uint64 `yaml:"probe_amount"`       // token base units for the sell probe
	ProbeSlippageBps int    `yaml:"probe_slippage_bps"`
}

// DefaultConfig returns probe defaults.
func DefaultConfig() Config {
	return Config{
		ProbeAmount:      1_000_000,
		ProbeSlippageBps: 500,
	}
}

// Validator classifies tokens by sell-route availability.
type Validator struct {
	config Config
	quotes *quote.Client
	index  IndexChecker
}

// NewValidator creates a route validator. index may be nil if no token
// index collaborator is available.
func NewValidator(config Config, quotes *quote.Client, index IndexChecker) *Validator {
	if config.ProbeAmount == 0 {
		config.ProbeAmount = 1_000_000
	}
	if config.ProbeSlippageBps == 0 {
		config.ProbeSlippageBps = 500
	}
	return &Validator{config: config, quotes: quotes, index: index}
}

type probeResult struct {
	source string
	result quote.Result
}

// ValidateSellRoute probes whether mint can be sold for SOL.
func (v *Validator) ValidateSellRoute(ctx context.Context, mint solana.Pubkey) Validation {
	req := quote.Request{
		InputMint:   mint,
		OutputMint:  solana.SOLMint,
		Amount:      v.config.ProbeAmount,
		SlippageBps: v.config.ProbeSlippageBps,
	}

	probes := make(chan probeResult, 2)
	go func() {
		probes <- probeResult{source: "jupiter", result: v.quotes.FetchQuote(ctx, req, quote.Options{})}
	}()
	go func() {
		probes <- probeResult{source: "raydium", result: v.quotes.FetchRaydium(ctx, req)}
	}()

	indexed := make(chan bool, 1)
	go func() {
		if v.index == nil {
			indexed <- true
			return
		}
		ok, err := v.index.IsIndexed(ctx, mint)
		if err != nil {
			// An index lookup failure must not turn into a definitive
			// NO_ROUTE verdict; assume indexed.
			log.Debug().Err(err).Str("mint", string(mint)).Msg("route: index lookup failed")
			indexed <- true
			return
		}
		indexed <- ok
	}()

	noRoutes := 0
	transients := 0
	for i := 0; i < 2; i++ {
		select {
		case p := <-probes:
			if p.result.OK {
				return Validation{Status: StatusHasRoute, Source: p.source}
			}
			if p.result.Kind == quote.KindNoRoute {
				noRoutes++
			} else {
				transients++
			}
		case <-ctx.Done():
			return Validation{Status: StatusUnknown, Message: ctx.Err().Error()}
		}
	}

	var isIndexed bool
	select {
	case isIndexed = <-indexed:
	case <-ctx.Done():
		return Validation{Status: StatusUnknown, Message: ctx.Err().Error()}
	}

	switch {
	case noRoutes > 0 && !isIndexed:
		// The aggregators have not caught up with the token yet. Distinct
		// remediation from a dead route: retry later instead of abandoning.
		return Validation{Status: StatusAwaitingIndexing, Message: "token not yet indexed by aggregators"}
	case noRoutes == 2:
		return Validation{Status: StatusNoRoute, Message: "no sell route on jupiter or raydium"}
	case noRoutes > 0 && transients > 0:
		// One definitive no-route plus one unreachable probe: not enough
		// for a definitive verdict either way.
		return Validation{Status: StatusUnknown, Message: "partial probe failure"}
	default:
		return Validation{Status: StatusUnknown, Message: "route probes unavailable"}
	}
}
