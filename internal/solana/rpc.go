package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetBalance returns the SOL balance of a wallet.
	GetBalance(ctx context.Context, wallet Pubkey) (decimal.Decimal, error)

	// GetParsedTransaction fetches a confirmed transaction with balance metadata.
	GetParsedTransaction(ctx context.Context, sig Signature) (*ParsedTransaction, error)

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures one Solana RPC endpoint.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultRPCConfig returns mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a mock RPC client for testing.
type StubRPCClient struct {
	mu        sync.RWMutex
	balances  map[Pubkey]decimal.Decimal
	txs       map[Signature]*ParsedTransaction
	callCount map[string]int
	failNext  bool
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		balances:  make(map[Pubkey]decimal.Decimal),
		txs:       make(map[Signature]*ParsedTransaction),
		callCount: make(map[string]int),
	}
}

// SetBalance registers a wallet balance for the stub to return.
func (s *StubRPCClient) SetBalance(wallet Pubkey, sol decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[wallet] = sol
}

// AddTransaction registers a parsed transaction for the stub to return.
func (s *StubRPCClient) AddTransaction(tx *ParsedTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.Signature] = tx
}

// FailNext makes the next call return an error.
func (s *StubRPCClient) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// CallCount returns the number of calls made to a method.
func (s *StubRPCClient) CallCount(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callCount[method]
}

func (s *StubRPCClient) takeFailure(method string) bool {
	s.callCount[method]++
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

func (s *StubRPCClient) GetBalance(_ context.Context, wallet Pubkey) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeFailure("getBalance") {
		return decimal.Zero, fmt.Errorf("stub: injected failure")
	}
	bal, ok := s.balances[wallet]
	if !ok {
		return decimal.Zero, nil
	}
	return bal, nil
}

func (s *StubRPCClient) GetParsedTransaction(_ context.Context, sig Signature) (*ParsedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeFailure("getParsedTransaction") {
		return nil, fmt.Errorf("stub: injected failure")
	}
	tx, ok := s.txs[sig]
	if !ok {
		return nil, fmt.Errorf("stub: transaction %s not found", sig)
	}
	return tx, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeFailure("health") {
		return fmt.Errorf("stub: injected failure")
	}
	return nil
}
