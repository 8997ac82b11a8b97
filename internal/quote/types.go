package quote

import (
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ErrorKind classifies a failed quote fetch.
type ErrorKind string

const (
	KindNoRoute      ErrorKind = "NO_ROUTE"      // definitive: aggregator knows no route
	KindRateLimited  ErrorKind = "RATE_LIMITED"  // transient: upstream throttling
	KindHTTPError    ErrorKind = "HTTP_ERROR"    // non-429 upstream HTTP failure
	KindNetworkError ErrorKind = "NETWORK_ERROR" // transport-level failure
)

// Request identifies a swap quote. The four fields form the cache key.
type Request struct {
	InputMint   solana.Pubkey `json:"input_mint"`
	OutputMint  solana.Pubkey `json:"output_mint"`
	Amount      uint64        `json:"amount"` // smallest unit (lamports etc.)
	SlippageBps int           `json:"slippage_bps"`
}

// Options tune a single FetchQuote call.
type Options struct {
	SkipCache bool `json:"skip_cache"`
	// Critical marks position-exit quotes: bypasses the local circuit
	// breaker and gets extra retry attempts. An open position must stay
	// exitable even under rate pressure.
	Critical bool `json:"critical"`
}

// Quote is a successful swap quote.
type Quote struct {
	InputMint      solana.Pubkey   `json:"input_mint"`
	OutputMint     solana.Pubkey   `json:"output_mint"`
	InAmount       decimal.Decimal `json:"in_amount"`
	OutAmount      decimal.Decimal `json:"out_amount"`
	PriceImpactPct float64         `json:"price_impact_pct"`
	RouteHops      int             `json:"route_hops"`
}

// Result is the outcome of a quote fetch: either a quote plus the endpoint
// that served it, or a classified failure.
type Result struct {
	OK       bool      `json:"ok"`
	Quote    *Quote    `json:"quote,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	Kind     ErrorKind `json:"kind,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Failure builds a failed Result.
func Failure(kind ErrorKind, message string) Result {
	return Result{OK: false, Kind: kind, Message: message}
}

// Definitive reports whether the result should never be retried.
func (r Result) Definitive() bool {
	return r.OK || r.Kind == KindNoRoute
}
