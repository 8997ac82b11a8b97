package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client — real Solana JSON-RPC with rate limiting & retry
// ---------------------------------------------------------------------------

// LiveRPCClient connects to a real Solana RPC endpoint.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Rate limiter (token bucket).
	limiter       chan struct{}
	limiterCtx    context.Context
	limiterCancel context.CancelFunc

	// Unique request ID generator.
	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second
)

// NewLiveRPCClient creates a live Solana RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}

	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	limiterCtx, limiterCancel := context.WithCancel(context.Background())

	client := &LiveRPCClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:       limiter,
		limiterCtx:    limiterCtx,
		limiterCancel: limiterCancel,
	}

	// Refill tokens at configured RPS.
	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case client.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return client
}

// Close shuts down the RPC client.
func (c *LiveRPCClient) Close() {
	c.limiterCancel()
}

// Endpoint returns the configured RPC endpoint URL.
func (c *LiveRPCClient) Endpoint() string {
	return c.config.Endpoint
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s (too many consecutive errors)", method)
	}

	// Acquire rate limit token.
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("rpc: create %s request: %w", method, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s HTTP error: %w", method, err)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("rpc: read %s response: %w", method, err)
			c.recordError()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rpc: %s rate limited (429)", method)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			c.recordError()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("rpc: parse %s response: %w", method, err)
			c.recordError()
			continue
		}

		if rpcResp.Error != nil {
			// JSON-RPC errors are definitive, not transient.
			c.resetErrors()
			return nil, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
		}

		c.resetErrors()
		c.requestCount.Add(1)
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

func (c *LiveRPCClient) recordError() {
	c.errorCount.Add(1)
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Str("endpoint", c.config.Endpoint).
				Msg("rpc: circuit breaker open")
			go func() {
				time.Sleep(circuitBreakerCooldown)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Str("endpoint", c.config.Endpoint).Msg("rpc: circuit breaker reset")
			}()
		}
	}
}

func (c *LiveRPCClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ---------------------------------------------------------------------------
// RPCClient implementation
// ---------------------------------------------------------------------------

// GetBalance returns the SOL balance of a wallet.
func (c *LiveRPCClient) GetBalance(ctx context.Context, wallet Pubkey) (decimal.Decimal, error) {
	result, err := c.call(ctx, "getBalance", []any{string(wallet)})
	if err != nil {
		return decimal.Zero, err
	}

	var parsed struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("rpc: parse getBalance result: %w", err)
	}

	return LamportsToSOL(int64(parsed.Value)), nil
}

// rawParsedTx mirrors the getTransaction jsonParsed wire shape.
type rawParsedTx struct {
	Slot        uint64 `json:"slot"`
	BlockTime   int64  `json:"blockTime"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []AccountKey `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
	Meta struct {
		Err               json.RawMessage       `json:"err"`
		Fee               uint64                `json:"fee"`
		PreBalances       []uint64              `json:"preBalances"`
		PostBalances      []uint64              `json:"postBalances"`
		PreTokenBalances  []rawTokenBalance     `json:"preTokenBalances"`
		PostTokenBalances []rawTokenBalance     `json:"postTokenBalances"`
		InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
	} `json:"meta"`
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          Pubkey `json:"mint"`
	Owner         Pubkey `json:"owner"`
	UITokenAmount struct {
		UIAmountString string `json:"uiAmountString"`
	} `json:"uiTokenAmount"`
}

// GetParsedTransaction fetches a confirmed transaction with balance metadata.
func (c *LiveRPCClient) GetParsedTransaction(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
	params := []any{
		string(sig),
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}

	result, err := c.call(ctx, "getTransaction", params)
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("rpc: transaction %s not found", sig)
	}

	var raw rawParsedTx
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("rpc: parse getTransaction result: %w", err)
	}

	tx := &ParsedTransaction{
		Slot:        raw.Slot,
		BlockTime:   raw.BlockTime,
		Signature:   sig,
		AccountKeys: raw.Transaction.Message.AccountKeys,
		Meta: TxMeta{
			Err:               raw.Meta.Err,
			FeeLamports:       raw.Meta.Fee,
			PreBalances:       raw.Meta.PreBalances,
			PostBalances:      raw.Meta.PostBalances,
			PreTokenBalances:  convertTokenBalances(raw.Meta.PreTokenBalances),
			PostTokenBalances: convertTokenBalances(raw.Meta.PostTokenBalances),
			InnerInstructions: raw.Meta.InnerInstructions,
		},
	}
	return tx, nil
}

func convertTokenBalances(raw []rawTokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(raw))
	for _, tb := range raw {
		amount, err := decimal.NewFromString(tb.UITokenAmount.UIAmountString)
		if err != nil {
			amount = decimal.Zero
		}
		out = append(out, TokenBalance{
			AccountIndex: tb.AccountIndex,
			Mint:         tb.Mint,
			Owner:        tb.Owner,
			Amount:       amount,
		})
	}
	return out
}

// Health checks the RPC endpoint health.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	result, err := c.call(ctx, "getHealth", nil)
	if err != nil {
		return err
	}
	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("rpc: parse getHealth result: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("rpc: endpoint unhealthy: %s", status)
	}
	return nil
}

// Stats returns RPC client statistics.
type RPCStats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
	CircuitOpen  bool  `json:"circuit_open"`
}

func (c *LiveRPCClient) Stats() RPCStats {
	return RPCStats{
		RequestCount: c.requestCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		CircuitOpen:  c.circuitOpen.Load(),
	}
}
