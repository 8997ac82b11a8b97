package gate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Admission gate data model
// ---------------------------------------------------------------------------

// Outcome is the typed per-rule verdict. Caution counting in the
// completeness meta-rule keys off this enum, never off reason text.
type Outcome int

const (
	Pass Outcome = iota
	PassWithCaution
	Fail
	HardFail
)

// String returns the wire form of an outcome.
func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case PassWithCaution:
		return "PASS_WITH_CAUTION"
	case Fail:
		return "FAIL"
	case HardFail:
		return "HARD_FAIL"
	}
	return "UNKNOWN"
}

// Passed reports whether this outcome lets the trade through.
func (o Outcome) Passed() bool {
	return o == Pass || o == PassWithCaution
}

// Rule names, in canonical evaluation order.
const (
	RuleSanity           = "SANITY"
	RuleTimeBuffer       = "TIME_BUFFER"
	RuleLiquidityReality = "LIQUIDITY_REALITY"
	RuleBuyerPosition    = "BUYER_POSITION"
	RulePriceSanity      = "PRICE_SANITY"
	RuleSymbolSpoofing   = "SYMBOL_SPOOFING"
	RuleFreezeAuthority  = "FREEZE_AUTHORITY"
	RuleLPDistribution   = "LP_OWNERSHIP_DISTRIBUTION"
	RuleExecutableSell   = "EXECUTABLE_SELL"
	RuleDeployerRep      = "DEPLOYER_REPUTATION"
	RuleBuyerCluster     = "BUYER_CLUSTER"
	RuleQuoteDepth       = "QUOTE_DEPTH"
	RuleDoubleQuote      = "DOUBLE_QUOTE"
	RuleDataCompleteness = "DATA_COMPLETENESS"
	RuleCircuitBreaker   = "CIRCUIT_BREAKER"
)

// RuleResult is one rule's verdict. Penalty is additive caution weight
// used for ranking only; it never decides pass/fail by itself.
type RuleResult struct {
	Rule    string  `json:"rule"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
	Penalty int     `json:"penalty,omitempty"`
}

// Passed reports whether the rule let the trade through.
func (r RuleResult) Passed() bool {
	return r.Outcome.Passed()
}

// Decision is the aggregate verdict: boolean-AND over all rule outcomes
// is authoritative, total penalty is advisory.
type Decision struct {
	TokenAddress string       `json:"token_address"`
	Passed       bool         `json:"passed"`
	Results      []RuleResult `json:"results"`
	TotalPenalty int          `json:"total_penalty"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`
	ElapsedMs    int64        `json:"elapsed_ms"`
}

// FailedRules returns the names of rules that blocked the trade.
func (d Decision) FailedRules() []string {
	var out []string
	for _, r := range d.Results {
		if !r.Passed() {
			out = append(out, r.Rule)
		}
	}
	return out
}

// Mode is the execution mode; auto snipes get stricter thresholds than
// operator-confirmed manual buys.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Thresholds are the configurable knobs a single evaluation runs under.
type Thresholds struct {
	AutoLiquidityFloorUSD   float64
	ManualLiquidityFloorUSD float64
	TargetBuyerPositions    []int // non-empty = strict allow-list
	MinUniqueHolders        int
	MaxSlippagePct          float64
	SlippageBps             int
	BuyAmountUSD            decimal.Decimal
	BuyAmountLamports       uint64
	MinReputationScore      int
}

// Input is the per-candidate token snapshot handed to the gate. Pointer
// fields model genuinely-absent upstream data; nil means unknown, and
// rules must decide what unknown costs.
type Input struct {
	TokenAddress solana.Pubkey `json:"token_address"`
	TokenName    string        `json:"token_name"`
	TokenSymbol  string        `json:"token_symbol"`

	LiquidityUSD  decimal.Decimal `json:"liquidity_usd"`
	PoolCreatedAt *time.Time      `json:"pool_created_at,omitempty"`

	DeployerWallet       solana.Pubkey `json:"deployer_wallet"`
	BuyerWallet          solana.Pubkey `json:"buyer_wallet"`
	LiquidityAdderWallet solana.Pubkey `json:"liquidity_adder_wallet,omitempty"`
	RemoveLiquiditySeen  bool          `json:"remove_liquidity_seen"`

	BuyerPosition *int `json:"buyer_position,omitempty"`
	UniqueHolders int  `json:"unique_holders"`

	LPConcentrationPct    float64       `json:"lp_concentration_pct"`
	LPOwnerWallet         solana.Pubkey `json:"lp_owner_wallet,omitempty"`
	LPMintedAt            *time.Time    `json:"lp_minted_at,omitempty"`
	LPRecentlyTransferred bool          `json:"lp_recently_transferred"`

	FreezeAuthorityActive *bool `json:"freeze_authority_active,omitempty"`

	PriceCurrent decimal.Decimal `json:"price_current"`
	PricePrior   decimal.Decimal `json:"price_prior"`

	Mode         Mode   `json:"mode"`
	Source       string `json:"source,omitempty"`
	BondingCurve bool   `json:"bonding_curve"`

	Thresholds Thresholds `json:"-"`
}

// liquidityFloor returns the mode-dependent liquidity floor in USD.
func (in Input) liquidityFloor() float64 {
	if in.Mode == ModeManual {
		return in.Thresholds.ManualLiquidityFloorUSD
	}
	return in.Thresholds.AutoLiquidityFloorUSD
}
