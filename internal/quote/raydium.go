package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Raydium fallback — compute swap-base-in
// Fires only once the Jupiter path is fully rate-limited.
// ---------------------------------------------------------------------------

// raydiumResponse is the compute-swap wire shape.
type raydiumResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg,omitempty"`
	Data    struct {
		OutputAmount string `json:"outputAmount"`
		PriceImpact  float64 `json:"priceImpact"`
	} `json:"data"`
}

// FetchRaydium queries the Raydium compute-swap endpoint directly. The
// route validator also calls this as an independent route probe.
func (c *Client) FetchRaydium(ctx context.Context, req Request) Result {
	if c.config.RaydiumEndpoint == "" {
		return Failure(KindHTTPError, "raydium fallback not configured")
	}

	queryURL, err := url.Parse(c.config.RaydiumEndpoint)
	if err != nil {
		return Failure(KindHTTPError, fmt.Sprintf("parse raydium URL: %v", err))
	}
	q := queryURL.Query()
	q.Set("inputMint", string(req.InputMint))
	q.Set("outputMint", string(req.OutputMint))
	q.Set("amount", fmt.Sprintf("%d", req.Amount))
	q.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))
	q.Set("txVersion", "V0")
	queryURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	if err != nil {
		return Failure(KindHTTPError, fmt.Sprintf("create raydium request: %v", err))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Failure(KindNetworkError, err.Error())
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return Failure(KindNetworkError, fmt.Sprintf("read raydium response: %v", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Failure(KindRateLimited, "raydium rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return Failure(KindHTTPError, fmt.Sprintf("raydium HTTP %d", resp.StatusCode))
	}

	var parsed raydiumResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Failure(KindHTTPError, fmt.Sprintf("parse raydium response: %v", err))
	}
	if !parsed.Success {
		return Failure(KindNoRoute, parsed.Msg)
	}

	outAmount, err := decimal.NewFromString(parsed.Data.OutputAmount)
	if err != nil {
		return Failure(KindHTTPError, fmt.Sprintf("bad raydium outputAmount %q", parsed.Data.OutputAmount))
	}

	log.Debug().
		Str("in", short(string(req.InputMint))).
		Str("out", short(string(req.OutputMint))).
		Str("out_amount", parsed.Data.OutputAmount).
		Msg("quote: raydium fallback hit")

	return Result{
		OK:       true,
		Endpoint: c.config.RaydiumEndpoint,
		Quote: &Quote{
			InputMint:      req.InputMint,
			OutputMint:     req.OutputMint,
			InAmount:       decimal.NewFromInt(int64(req.Amount)),
			OutAmount:      outAmount,
			PriceImpactPct: parsed.Data.PriceImpact,
			RouteHops:      1,
		},
	}
}
