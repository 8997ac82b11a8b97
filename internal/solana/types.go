package solana

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	WSOLMint Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// LamportsPerSOL is the lamport denomination of 1 SOL.
const LamportsPerSOL = 1_000_000_000

// LamportsToSOL converts a lamport amount to SOL.
func LamportsToSOL(lamports int64) decimal.Decimal {
	return decimal.NewFromInt(lamports).Div(decimal.NewFromInt(LamportsPerSOL))
}

// ---------------------------------------------------------------------------
// Parsed transaction types (getParsedTransaction)
// ---------------------------------------------------------------------------

// ParsedTransaction is a confirmed transaction with balance metadata,
// as returned by getParsedTransaction with jsonParsed encoding.
type ParsedTransaction struct {
	Slot        uint64       `json:"slot"`
	BlockTime   int64        `json:"block_time"`
	Signature   Signature    `json:"signature"`
	AccountKeys []AccountKey `json:"account_keys"`
	Meta        TxMeta       `json:"meta"`
}

// AccountKey is one entry of the transaction's account list.
type AccountKey struct {
	Pubkey   Pubkey `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// TxMeta holds the pre/post balance bookkeeping for a confirmed transaction.
type TxMeta struct {
	Err               json.RawMessage       `json:"err,omitempty"`
	FeeLamports       uint64                `json:"fee"`
	PreBalances       []uint64              `json:"preBalances"`
	PostBalances      []uint64              `json:"postBalances"`
	PreTokenBalances  []TokenBalance        `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance        `json:"postTokenBalances"`
	InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
}

// Failed reports whether the transaction errored on-chain.
func (m TxMeta) Failed() bool {
	return len(m.Err) > 0 && string(m.Err) != "null"
}

// TokenBalance is a pre/post SPL token balance entry.
type TokenBalance struct {
	AccountIndex int             `json:"accountIndex"`
	Mint         Pubkey          `json:"mint"`
	Owner        Pubkey          `json:"owner"`
	Amount       decimal.Decimal `json:"amount"` // ui amount (decimals applied)
}

// InnerInstructionSet groups the inner instructions emitted by one
// top-level instruction.
type InnerInstructionSet struct {
	Index        int                 `json:"index"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// ParsedInstruction is a jsonParsed inner instruction. Only system-program
// transfers and account lifecycle instructions carry the fields we read.
type ParsedInstruction struct {
	Program   string            `json:"program"` // system|spl-token|...
	ProgramID Pubkey            `json:"programId"`
	Parsed    InstructionDetail `json:"parsed"`
}

// InstructionDetail is the parsed payload of an instruction.
type InstructionDetail struct {
	Type string          `json:"type"` // transfer|createAccount|closeAccount|...
	Info InstructionInfo `json:"info"`
}

// InstructionInfo carries the union of fields used by the delta parser.
type InstructionInfo struct {
	Lamports    uint64 `json:"lamports"`
	Source      Pubkey `json:"source"`
	Destination Pubkey `json:"destination"`
	Account     Pubkey `json:"account"`
	NewAccount  Pubkey `json:"newAccount"`
	Owner       Pubkey `json:"owner"`
}

// BalanceIndex returns the account list index of wallet, or -1.
func (tx *ParsedTransaction) BalanceIndex(wallet Pubkey) int {
	for i, key := range tx.AccountKeys {
		if key.Pubkey == wallet {
			return i
		}
	}
	return -1
}
