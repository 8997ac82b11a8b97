package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Quote Client — resilient aggregator quote fetching
// TTL cache, staggered endpoint race, retry with backoff, local circuit
// breaker, Raydium fallback once the Jupiter path is fully rate-limited.
// ---------------------------------------------------------------------------

// Config configures the quote client.
type Config struct {
	Endpoints       []string      `yaml:"endpoints"`        // Jupiter-compatible /quote URLs
	RaydiumEndpoint string        `yaml:"raydium_endpoint"` // compute swap-base-in URL
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	MaxRetries      int           `yaml:"max_retries"`      // attempts for normal calls
	CriticalRetries int           `yaml:"critical_retries"` // attempts for position exits
	Timeout         time.Duration `yaml:"timeout"`
	StaggerDelay    time.Duration `yaml:"stagger_delay"` // per-endpoint race stagger
	BackoffMin      time.Duration `yaml:"backoff_min"`
	BreakerCycles   int           `yaml:"breaker_cycles"` // fully-rate-limited cycles before opening
	BreakerReset    time.Duration `yaml:"breaker_reset"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints:       []string{"https://quote-api.jup.ag/v6/quote"},
		RaydiumEndpoint: "https://transaction-v1.raydium.io/compute/swap-base-in",
		CacheTTL:        60 * time.Second,
		MaxRetries:      3,
		CriticalRetries: 5,
		Timeout:         8 * time.Second,
		StaggerDelay:    50 * time.Millisecond,
		BackoffMin:      600 * time.Millisecond,
		BreakerCycles:   2,
		BreakerReset:    15 * time.Second,
	}
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// Client fetches swap quotes. Each instance owns its cache and breaker
// state; nothing is shared across instances.
type Client struct {
	config     Config
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry

	// Local circuit breaker over fully-rate-limited fetch cycles.
	rateLimitedCycles atomic.Int64
	breakerOpen       atomic.Bool
	breakerOpenedAt   atomic.Int64 // unix nanos

	now func() time.Time

	// Stats.
	quoteCount    atomic.Int64
	cacheHits     atomic.Int64
	raceWins      atomic.Int64
	raydiumHits   atomic.Int64
	breakerTrips  atomic.Int64
	breakerBlocks atomic.Int64
}

// NewClient creates a quote client.
func NewClient(config Config) *Client {
	if config.CacheTTL == 0 {
		config.CacheTTL = 60 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.CriticalRetries == 0 {
		config.CriticalRetries = 5
	}
	if config.Timeout == 0 {
		config.Timeout = 8 * time.Second
	}
	if config.StaggerDelay == 0 {
		config.StaggerDelay = 50 * time.Millisecond
	}
	if config.BackoffMin == 0 {
		config.BackoffMin = 600 * time.Millisecond
	}
	if config.BreakerCycles == 0 {
		config.BreakerCycles = 2
	}
	if config.BreakerReset == 0 {
		config.BreakerReset = 15 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%d|%d", req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)
}

// FetchQuote fetches a swap quote with caching, retries and fallback.
func (c *Client) FetchQuote(ctx context.Context, req Request, opts Options) Result {
	if !opts.SkipCache {
		if cached, ok := c.cacheGet(req); ok {
			c.cacheHits.Add(1)
			return cached
		}
	}

	// Breaker check. Critical calls (position exits) always pass through.
	if !opts.Critical && c.breakerOpen.Load() {
		openedAt := time.Unix(0, c.breakerOpenedAt.Load())
		if c.now().Sub(openedAt) < c.config.BreakerReset {
			c.breakerBlocks.Add(1)
			return Failure(KindRateLimited, "quote client circuit breaker open")
		}
		c.breakerOpen.Store(false)
		c.rateLimitedCycles.Store(0)
		log.Info().Msg("quote: circuit breaker reset")
	}

	attempts := c.config.MaxRetries
	if opts.Critical {
		attempts = c.config.CriticalRetries
	}

	boff := &backoff.Backoff{
		Min:    c.config.BackoffMin,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: false,
	}

	var last Result
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(boff.Duration()):
			case <-ctx.Done():
				return Failure(KindNetworkError, ctx.Err().Error())
			}
		}

		last = c.race(ctx, req)
		if last.OK {
			c.rateLimitedCycles.Store(0)
			c.cachePut(req, last)
			c.quoteCount.Add(1)
			return last
		}

		// A definitive NO_ROUTE is cached and never retried: hammering a
		// dead route wastes the latency budget and the rate limit alike.
		if last.Kind == KindNoRoute {
			c.cachePut(req, last)
			return last
		}

		if last.Kind == KindRateLimited {
			// Jupiter path fully rate-limited: this is the one case where
			// the Raydium fallback fires.
			if fb := c.FetchRaydium(ctx, req); fb.OK {
				c.raydiumHits.Add(1)
				c.rateLimitedCycles.Store(0)
				c.cachePut(req, fb)
				c.quoteCount.Add(1)
				return fb
			}
		}
	}

	if last.Kind == KindRateLimited && !opts.Critical {
		cycles := c.rateLimitedCycles.Add(1)
		if cycles >= int64(c.config.BreakerCycles) {
			if c.breakerOpen.CompareAndSwap(false, true) {
				c.breakerOpenedAt.Store(c.now().UnixNano())
				c.breakerTrips.Add(1)
				log.Warn().Int64("cycles", cycles).Msg("quote: circuit breaker open")
			}
		}
	}

	return last
}

// race queries all configured endpoints concurrently, staggered by
// StaggerDelay per index. First success wins; losing branches are
// abandoned (pure reads, no side effects).
func (c *Client) race(ctx context.Context, req Request) Result {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Result, len(c.config.Endpoints))

	for i, endpoint := range c.config.Endpoints {
		go func(idx int, ep string) {
			if idx > 0 {
				select {
				case <-time.After(time.Duration(idx) * c.config.StaggerDelay):
				case <-raceCtx.Done():
					results <- Failure(KindNetworkError, "race abandoned")
					return
				}
			}
			results <- c.fetchOne(raceCtx, ep, req)
		}(i, endpoint)
	}

	var failures []Result
	for range c.config.Endpoints {
		select {
		case r := <-results:
			if r.OK {
				c.raceWins.Add(1)
				return r
			}
			failures = append(failures, r)
		case <-ctx.Done():
			return Failure(KindNetworkError, ctx.Err().Error())
		}
	}

	return aggregateFailures(failures)
}

// aggregateFailures classifies a fully-failed race cycle. NO_ROUTE wins
// (definitive); a cycle where every live branch was throttled counts as
// fully rate-limited.
func aggregateFailures(failures []Result) Result {
	rateLimited := 0
	live := 0
	var firstOther Result
	for _, f := range failures {
		if f.Kind == KindNetworkError && f.Message == "race abandoned" {
			continue
		}
		live++
		switch f.Kind {
		case KindNoRoute:
			return f
		case KindRateLimited:
			rateLimited++
		default:
			if firstOther.Kind == "" {
				firstOther = f
			}
		}
	}
	if live > 0 && rateLimited == live {
		return Failure(KindRateLimited, "all endpoints rate limited")
	}
	if firstOther.Kind != "" {
		return firstOther
	}
	if rateLimited > 0 {
		return Failure(KindRateLimited, "all endpoints rate limited")
	}
	return Failure(KindNetworkError, "no endpoints responded")
}

// jupiterQuoteResponse is the /quote wire shape we consume.
type jupiterQuoteResponse struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		Percent int `json:"percent"`
	} `json:"routePlan"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

func (c *Client) fetchOne(ctx context.Context, endpoint string, req Request) Result {
	queryURL, err := url.Parse(endpoint)
	if err != nil {
		return Failure(KindHTTPError, fmt.Sprintf("parse endpoint URL: %v", err))
	}
	q := queryURL.Query()
	q.Set("inputMint", string(req.InputMint))
	q.Set("outputMint", string(req.OutputMint))
	q.Set("amount", fmt.Sprintf("%d", req.Amount))
	q.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))
	queryURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	if err != nil {
		return Failure(KindHTTPError, fmt.Sprintf("create request: %v", err))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Failure(KindNetworkError, "race abandoned")
		}
		return Failure(KindNetworkError, err.Error())
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return Failure(KindNetworkError, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Failure(KindRateLimited, "rate limited (429)")
	}

	var quote jupiterQuoteResponse
	if jsonErr := json.Unmarshal(body, &quote); jsonErr == nil {
		if isNoRoute(quote.Error, quote.ErrorCode) {
			return Failure(KindNoRoute, quote.Error)
		}
	}

	if resp.StatusCode != http.StatusOK {
		return Failure(KindHTTPError, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	if quote.OutAmount == "" {
		return Failure(KindHTTPError, "empty quote response")
	}

	inAmount, _ := decimal.NewFromString(quote.InAmount)
	outAmount, err := decimal.NewFromString(quote.OutAmount)
	if err != nil {
		return Failure(KindHTTPError, fmt.Sprintf("bad outAmount %q", quote.OutAmount))
	}
	impact, _ := decimal.NewFromString(quote.PriceImpactPct)
	impactPct, _ := impact.Mul(decimal.NewFromInt(100)).Float64()

	log.Debug().
		Str("in", short(string(req.InputMint))).
		Str("out", short(string(req.OutputMint))).
		Str("out_amount", quote.OutAmount).
		Str("endpoint", endpoint).
		Msg("quote: received")

	return Result{
		OK:       true,
		Endpoint: endpoint,
		Quote: &Quote{
			InputMint:      req.InputMint,
			OutputMint:     req.OutputMint,
			InAmount:       inAmount,
			OutAmount:      outAmount,
			PriceImpactPct: impactPct,
			RouteHops:      len(quote.RoutePlan),
		},
	}
}

func isNoRoute(errMsg, errCode string) bool {
	if errCode == "COULD_NOT_FIND_ANY_ROUTE" {
		return true
	}
	lower := strings.ToLower(errMsg)
	return strings.Contains(lower, "no route") || strings.Contains(lower, "route not found") ||
		strings.Contains(lower, "could not find any route")
}

// --- Cache ---

func (c *Client) cacheGet(req Request) (Result, bool) {
	key := cacheKey(req)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	if c.now().Sub(entry.storedAt) > c.config.CacheTTL {
		c.mu.Lock()
		delete(c.cache, key)
		c.mu.Unlock()
		return Result{}, false
	}
	return entry.result, true
}

func (c *Client) cachePut(req Request, result Result) {
	// Successes and definitive NO_ROUTE results are both worth caching.
	if !result.Definitive() {
		return
	}
	now := c.now()
	c.mu.Lock()
	// A put follows a network round trip, so sweeping stale entries here
	// keeps the cache bounded without a background goroutine.
	for key, entry := range c.cache {
		if now.Sub(entry.storedAt) > c.config.CacheTTL {
			delete(c.cache, key)
		}
	}
	c.cache[cacheKey(req)] = cacheEntry{result: result, storedAt: now}
	c.mu.Unlock()
}

// ClearCache drops all cached quotes.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Reset clears the cache and closes the breaker. Intended for tests and
// admin tooling, not the hot path.
func (c *Client) Reset() {
	c.ClearCache()
	c.breakerOpen.Store(false)
	c.rateLimitedCycles.Store(0)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Stats returns quote client statistics.
type Stats struct {
	QuoteCount    int64 `json:"quote_count"`
	CacheHits     int64 `json:"cache_hits"`
	RaceWins      int64 `json:"race_wins"`
	RaydiumHits   int64 `json:"raydium_hits"`
	BreakerTrips  int64 `json:"breaker_trips"`
	BreakerBlocks int64 `json:"breaker_blocks"`
	BreakerOpen   bool  `json:"breaker_open"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount:    c.quoteCount.Load(),
		CacheHits:     c.cacheHits.Load(),
		RaceWins:      c.raceWins.Load(),
		RaydiumHits:   c.raydiumHits.Load(),
		BreakerTrips:  c.breakerTrips.Load(),
		BreakerBlocks: c.breakerBlocks.Load(),
		BreakerOpen:   c.breakerOpen.Load(),
	}
}
