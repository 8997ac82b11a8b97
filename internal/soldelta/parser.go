package soldelta

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/audit"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// SOL Delta Parser
// Recovers the true SOL spent/received by a wallet in a confirmed swap,
// stripping fee, rent and WSOL wrap noise from the raw lamport change.
// Cross-checks against a second independent RPC; corrupted results must
// never feed P&L.
// ---------------------------------------------------------------------------

// TradeType is the caller's claimed direction of the trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Rent-exempt minimum for an SPL token account. closeAccount refunds
// this amount but the parsed instruction does not carry it.
const tokenAccountRentLamports = 2_039_280

// IntegrityFlags mark suspicious economics in a parsed delta.
type IntegrityFlags struct {
	BuyWithNoSpend      bool `json:"buy_with_no_spend"`
	SellWithNoReceive   bool `json:"sell_with_no_receive"`
	ImpossibleROI       bool `json:"impossible_roi"`
	WSOLNoiseDetected   bool `json:"wsol_noise_detected"`
	RentRefundDetected  bool `json:"rent_refund_detected"`
	TempAccountDetected bool `json:"temp_account_detected"`
}

// Breakdown itemizes every component removed from the raw change.
type Breakdown struct {
	RawChangeLamports    int64           `json:"raw_change_lamports"`
	FeeLamports          uint64          `json:"fee_lamports"`
	WSOLDelta            decimal.Decimal `json:"wsol_delta"` // SOL still wrapped after the tx
	RentPaidLamports     uint64          `json:"rent_paid_lamports"`
	RentRefundedLamports uint64          `json:"rent_refunded_lamports"`
	TempAccountsCreated  int             `json:"temp_accounts_created"`
	TempAccountsClosed   int             `json:"temp_accounts_closed"`
}

// Result is the parsed economic delta for one trade.
type Result struct {
	Signature   solana.Signature `json:"signature"`
	Wallet      solana.Pubkey    `json:"wallet"`
	TradeType   TradeType        `json:"trade_type"`
	SolSpent    decimal.Decimal  `json:"sol_spent"`
	SolReceived decimal.Decimal  `json:"sol_received"`
	NetDelta    decimal.Decimal  `json:"net_delta"`
	Fee         decimal.Decimal  `json:"fee"`

	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	RPCDeviationPct float64         `json:"rpc_deviation_pct"`

	Flags       IntegrityFlags `json:"integrity_flags"`
	IsCorrupted bool           `json:"is_corrupted"`
	Breakdown   Breakdown      `json:"breakdown"`
}

// Config configures the parser.
type Config struct {
	MaxRPCDeviationPct float64 `yaml:"max_rpc_deviation_pct"`
	MaxROIPct          float64 `yaml:"max_roi_pct"`
}

// DefaultConfig returns corruption thresholds.
func DefaultConfig() Config {
	return Config{
		MaxRPCDeviationPct: 1.0,
		MaxROIPct:          1000,
	}
}

// Parser recovers true SOL deltas from confirmed transactions.
type Parser struct {
	config    Config
	primary   solana.RPCClient
	secondary solana.RPCClient // independent endpoint for cross-checks
	trail     *audit.Trail

	parsed    atomic.Int64
	corrupted atomic.Int64
}

// NewParser creates a delta parser. secondary may be nil, disabling the
// dual-RPC cross-check; trail may be nil.
func NewParser(config Config, primary, secondary solana.RPCClient, trail *audit.Trail) *Parser {
	if config.MaxRPCDeviationPct == 0 {
		config.MaxRPCDeviationPct = 1.0
	}
	if config.MaxROIPct == 0 {
		config.MaxROIPct = 1000
	}
	return &Parser{config: config, primary: primary, secondary: secondary, trail: trail}
}

// ParseDelta locates the wallet's balance change in the confirmed
// transaction and isolates the swap-attributable SOL delta.
// entryValueSOL is the position's entry cost, used for the ROI sanity
// check on sells; pass zero when unknown.
func (p *Parser) ParseDelta(ctx context.Context, sig solana.Signature, wallet solana.Pubkey, tradeType TradeType, entryValueSOL decimal.Decimal) (*Result, error) {
	tx, err := p.primary.GetParsedTransaction(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("soldelta: fetch transaction %s: %w", sig, err)
	}
	if tx.Meta.Failed() {
		return nil, fmt.Errorf("soldelta: transaction %s failed on-chain", sig)
	}

	idx := tx.BalanceIndex(wallet)
	if idx < 0 {
		return nil, fmt.Errorf("soldelta: wallet %s not in transaction %s", wallet, sig)
	}
	if idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return nil, fmt.Errorf("soldelta: balance arrays truncated for %s", sig)
	}

	pre := int64(tx.Meta.PreBalances[idx])
	post := int64(tx.Meta.PostBalances[idx])

	res := &Result{
		Signature:     sig,
		Wallet:        wallet,
		TradeType:     tradeType,
		BalanceBefore: solana.LamportsToSOL(pre),
		BalanceAfter:  solana.LamportsToSOL(post),
		Fee:           solana.LamportsToSOL(int64(tx.Meta.FeeLamports)),
	}
	res.Breakdown.RawChangeLamports = post - pre
	res.Breakdown.FeeLamports = tx.Meta.FeeLamports

	p.collectWSOLDelta(tx, wallet, res)
	p.collectRentMovements(tx, wallet, res)

	// Isolate the economic delta. The raw change bundles fee (when the
	// wallet is fee payer, index 0), rent paid for new accounts, rent
	// refunded by closures, and lamports parked in a WSOL account.
	econ := res.Breakdown.RawChangeLamports
	if idx == 0 {
		econ += int64(tx.Meta.FeeLamports)
	}
	econ += int64(res.Breakdown.RentPaidLamports)
	econ -= int64(res.Breakdown.RentRefundedLamports)
	wsolLamports := res.Breakdown.WSOLDelta.Mul(decimal.NewFromInt(solana.LamportsPerSOL)).IntPart()
	econ += wsolLamports

	if econ < 0 {
		res.SolSpent = solana.LamportsToSOL(-econ)
	} else {
		res.SolReceived = solana.LamportsToSOL(econ)
	}
	res.NetDelta = res.SolReceived.Sub(res.SolSpent)

	p.setIntegrityFlags(res, entryValueSOL)
	p.crossCheck(ctx, wallet, post, res)

	res.IsCorrupted = res.Flags.BuyWithNoSpend || res.Flags.SellWithNoReceive ||
		res.Flags.ImpossibleROI || res.RPCDeviationPct > p.config.MaxRPCDeviationPct

	p.parsed.Add(1)
	if res.IsCorrupted {
		p.corrupted.Add(1)
		log.Warn().
			Str("signature", string(sig)).
			Str("wallet", string(wallet)).
			Interface("flags", res.Flags).
			Msg("soldelta: corrupted delta")
		if p.trail != nil {
			p.trail.RecordCorruption(string(wallet), string(sig), corruptionReason(res), res)
		}
	}
	return res, nil
}

// collectWSOLDelta sums the wallet's WSOL token-balance change. Wrapped
// lamports left the native balance but are still the wallet's value.
func (p *Parser) collectWSOLDelta(tx *solana.ParsedTransaction, wallet solana.Pubkey, res *Result) {
	var pre, post decimal.Decimal
	for _, tb := range tx.Meta.PreTokenBalances {
		if tb.Owner == wallet && tb.Mint == solana.WSOLMint {
			pre = pre.Add(tb.Amount)
		}
	}
	for _, tb := range tx.Meta.PostTokenBalances {
		if tb.Owner == wallet && tb.Mint == solana.WSOLMint {
			post = post.Add(tb.Amount)
		}
	}
	res.Breakdown.WSOLDelta = post.Sub(pre)
	res.Flags.WSOLNoiseDetected = !res.Breakdown.WSOLDelta.IsZero()
}

// collectRentMovements walks inner instructions for account lifecycle
// rent: createAccount debits the wallet, closeAccount refunds it.
func (p *Parser) collectRentMovements(tx *solana.ParsedTransaction, wallet solana.Pubkey, res *Result) {
	for _, set := range tx.Meta.InnerInstructions {
		for _, ins := range set.Instructions {
			switch {
			case ins.Program == "system" && ins.Parsed.Type == "createAccount" && ins.Parsed.Info.Source == wallet:
				res.Breakdown.RentPaidLamports += ins.Parsed.Info.Lamports
				res.Breakdown.TempAccountsCreated++
			case ins.Program == "spl-token" && ins.Parsed.Type == "closeAccount" && ins.Parsed.Info.Destination == wallet:
				res.Breakdown.RentRefundedLamports += tokenAccountRentLamports
				res.Breakdown.TempAccountsClosed++
			}
		}
	}
	res.Flags.RentRefundDetected = res.Breakdown.RentRefundedLamports > 0
	res.Flags.TempAccountDetected = res.Breakdown.TempAccountsCreated > 0 && res.Breakdown.TempAccountsClosed > 0
}

func (p *Parser) setIntegrityFlags(res *Result, entryValueSOL decimal.Decimal) {
	res.Flags.BuyWithNoSpend = res.TradeType == TradeBuy && res.SolSpent.IsZero()
	res.Flags.SellWithNoReceive = res.TradeType == TradeSell && res.SolReceived.IsZero()

	if res.TradeType == TradeSell && entryValueSOL.IsPositive() {
		roi, _ := res.SolReceived.Sub(entryValueSOL).Div(entryValueSOL).Mul(decimal.NewFromInt(100)).Float64()
		res.Flags.ImpossibleROI = roi > p.config.MaxROIPct
	}
}

// crossCheck fetches the wallet balance from an independent RPC and
// compares it to the transaction's post balance.
func (p *Parser) crossCheck(ctx context.Context, wallet solana.Pubkey, postLamports int64, res *Result) {
	if p.secondary == nil || postLamports == 0 {
		return
	}
	bal, err := p.secondary.GetBalance(ctx, wallet)
	if err != nil {
		// Cross-check is best-effort; a dead secondary must not block parsing.
		log.Debug().Err(err).Str("wallet", string(wallet)).Msg("soldelta: cross-check unavailable")
		return
	}
	postSOL := solana.LamportsToSOL(postLamports)
	dev, _ := bal.Sub(postSOL).Abs().Div(postSOL).Mul(decimal.NewFromInt(100)).Float64()
	res.RPCDeviationPct = dev
}

func corruptionReason(res *Result) string {
	switch {
	case res.Flags.BuyWithNoSpend:
		return "buy recorded zero SOL spend"
	case res.Flags.SellWithNoReceive:
		return "sell recorded zero SOL receipt"
	case res.Flags.ImpossibleROI:
		return "implied ROI over sanity ceiling"
	}
	return fmt.Sprintf("RPC sources deviate %.2f%%", res.RPCDeviationPct)
}

// ShouldBlockPnL is the single authoritative gate downstream P&L logic
// must honor before trusting a parsed delta.
func ShouldBlockPnL(res *Result) bool {
	return res == nil || res.IsCorrupted
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	Parsed    int64 `json:"parsed"`
	Corrupted int64 `json:"corrupted"`
}

// Stats returns parser counters.
func (p *Parser) Stats() Stats {
	return Stats{Parsed: p.parsed.Load(), Corrupted: p.corrupted.Load()}
}
