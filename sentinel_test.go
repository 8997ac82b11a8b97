package sentinel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/config"
	"github.com/sentinel-trading/sentinel/internal/gate"
)

const (
	tokenMint      = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	deployerWallet = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	buyerWallet    = "ComputeBudget111111111111111111111111111111"
)

// echoQuoteServer answers Jupiter quote requests with outAmount equal to
// the requested amount, so depth scaling is exactly linear.
func echoQuoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"inAmount":       r.URL.Query().Get("amount"),
			"outAmount":      r.URL.Query().Get("amount"),
			"priceImpactPct": "0.0123",
			"routePlan":      []map[string]any{{"percent": 100}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(quoteEndpoint string) *config.Config {
	return &config.Config{
		General: config.GeneralConfig{InstanceID: "test-core"},
		RPC: config.RPCConfig{
			PrimaryEndpoint:   "http://127.0.0.1:1",
			SecondaryEndpoint: "http://127.0.0.1:2",
			TimeoutS:          1,
			RateLimitRPS:      100,
		},
		Quote: config.QuoteConfig{
			Endpoints:       []string{quoteEndpoint},
			CacheTTLS:       60,
			MaxRetries:      1,
			CriticalRetries: 2,
			TimeoutMs:       2000,
		},
		Gate: config.GateConfig{
			AutoLiquidityFloorUSD:   10_000,
			ManualLiquidityFloorUSD: 5_000,
			MinUniqueHolders:        5,
			MaxSlippagePct:          15,
			BuyAmountUSD:            200,
		},
		Breaker: config.BreakerConfig{
			DrawdownPct:      30,
			RugStreakCount:   3,
			RugStreakWindow:  10,
			HiddenTaxCount:   2,
			FrozenTokenCount: 2,
			CooldownMinutes:  60,
		},
		Reputation: config.ReputationConfig{MinScore: 70},
	}
}

func testCore(t *testing.T, quoteEndpoint string) *Core {
	t.Helper()
	c, err := New(context.Background(), testConfig(quoteEndpoint))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNew_WiresEverything(t *testing.T) {
	c := testCore(t, "http://127.0.0.1:3")

	assert.NotNil(t, c.Gate)
	assert.NotNil(t, c.Quotes)
	assert.NotNil(t, c.Routes)
	assert.NotNil(t, c.Depth)
	assert.NotNil(t, c.Reputation)
	assert.NotNil(t, c.Breaker)
	assert.NotNil(t, c.Clusters)
	assert.NotNil(t, c.Parser)
	assert.NotNil(t, c.Feedback)
	assert.NotNil(t, c.Trail)
	assert.NotNil(t, c.Confirms)
	// No DSNs configured: analytics disabled, stores in memory.
	assert.Nil(t, c.decisions)
	assert.Nil(t, c.pg)
}

func TestThresholds_FromConfig(t *testing.T) {
	c := testCore(t, "http://127.0.0.1:3")

	th := c.Thresholds()
	assert.Equal(t, float64(10_000), th.AutoLiquidityFloorUSD)
	assert.Equal(t, float64(5_000), th.ManualLiquidityFloorUSD)
	assert.Equal(t, 5, th.MinUniqueHolders)
	assert.Equal(t, 1500, th.SlippageBps)
	assert.Equal(t, 70, th.MinReputationScore)
	assert.True(t, th.BuyAmountUSD.Equal(decimal.NewFromInt(200)))
	assert.Empty(t, th.TargetBuyerPositions)
}

func TestEvaluate_CleanTokenAdmitted(t *testing.T) {
	srv := echoQuoteServer(t)
	c := testCore(t, srv.URL)

	created := time.Now().Add(-10 * time.Minute)
	lpMinted := time.Now().Add(-10 * time.Minute)
	position := 3
	frozen := false

	th := c.Thresholds()
	th.BuyAmountLamports = 1_000_000_000

	in := gate.Input{
		TokenAddress:          tokenMint,
		TokenName:             "Test Token",
		TokenSymbol:           "TESTX",
		LiquidityUSD:          decimal.NewFromInt(50_000),
		PoolCreatedAt:         &created,
		DeployerWallet:        deployerWallet,
		BuyerWallet:           buyerWallet,
		BuyerPosition:         &position,
		UniqueHolders:         120,
		LPConcentrationPct:    30,
		LPOwnerWallet:         buyerWallet,
		LPMintedAt:            &lpMinted,
		FreezeAuthorityActive: &frozen,
		PriceCurrent:          decimal.NewFromFloat(1.5),
		PricePrior:            decimal.NewFromInt(1),
		Mode:                  gate.ModeAuto,
		Thresholds:            th,
	}

	d := c.Evaluate(context.Background(), "user-1", in)

	assert.True(t, d.Passed, "failed rules: %v", d.FailedRules())
	assert.Len(t, d.Results, 14)
	assert.Empty(t, d.FailedRules())
	assert.Equal(t, 1, c.Trail.Len())
}
