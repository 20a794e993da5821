// Package executor is the Jupiter-routed swap path (spec §4.6): resolve
// decimals, get an aggregator quote, build and sign a transaction, submit
// it, and record the trade. The HTTP client below is built the way the
// teacher's internal/clients/tradernet.Client talks to its microservice —
// a thin net/http wrapper with JSON request/response structs — retargeted
// at the public Jupiter aggregator API.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// JupiterClient talks to the Jupiter aggregator's quote/swap HTTP API.
type JupiterClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewJupiterClient builds a client against baseURL (e.g.
// "https://quote-api.jup.ag/v6").
func NewJupiterClient(baseURL string, log zerolog.Logger) *JupiterClient {
	return &JupiterClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "jupiter").Logger(),
	}
}

// QuoteResponse is the subset of Jupiter's /quote response the executor
// needs: the atomic out amount and the route's fee breakdown.
type QuoteResponse struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             string          `json:"inAmount"`
	OutAmount            string          `json:"outAmount"`
	SlippageBps          int             `json:"slippageBps"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	raw                  json.RawMessage
}

// RoutePlanStep is one hop of a Jupiter route, carrying its own fee.
type RoutePlanStep struct {
	SwapInfo struct {
		FeeAmount string `json:"feeAmount"`
		FeeMint   string `json:"feeMint"`
	} `json:"swapInfo"`
}

// OutAmountAtomic parses OutAmount as an atomic-unit integer.
func (q *QuoteResponse) OutAmountAtomic() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

// SummedRouteFeesAtomic sums every hop's feeAmount (atomic units of
// whatever mint that hop charged in — callers needing USD must convert
// per-mint, which the executor does via the price cache).
func (q *QuoteResponse) SummedRouteFeesAtomic() uint64 {
	var total uint64
	for _, step := range q.RoutePlan {
		if step.SwapInfo.FeeAmount == "" {
			continue
		}
		v, err := strconv.ParseUint(step.SwapInfo.FeeAmount, 10, 64)
		if err != nil {
			continue
		}
		total += v
	}
	return total
}

// GetQuote requests a swap quote for amountAtomic of inputMint against
// outputMint at slippageBps tolerance. Aggregator errors are surfaced
// verbatim to the caller, unwrapped (spec §4.6 step 2).
func (c *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint string, amountAtomic uint64, slippageBps int) (*QuoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		c.baseURL, inputMint, outputMint, amountAtomic, slippageBps)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("executor: build quote request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor: quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("executor: read quote response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor: aggregator quote error (%d): %s", resp.StatusCode, string(body))
	}

	var q QuoteResponse
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("executor: parse quote response: %w", err)
	}
	q.raw = body
	return &q, nil
}

// SwapRequest is the payload for Jupiter's /swap endpoint.
type SwapRequest struct {
	QuoteResponse            json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports,omitempty"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
}

// SwapResponse carries the base64-encoded unsigned (fee-payer-only)
// versioned transaction the aggregator built.
type SwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// GetSwapTransaction asks the aggregator to build a transaction for the
// given quote, payable by payer, at the given priority fee (spec §4.6
// step 4).
func (c *JupiterClient) GetSwapTransaction(ctx context.Context, quote *QuoteResponse, payer string, priorityFeeMicroLamports uint64) (*SwapResponse, error) {
	reqBody, err := json.Marshal(SwapRequest{
		QuoteResponse:             quote.raw,
		UserPublicKey:             payer,
		PrioritizationFeeLamports: priorityFeeMicroLamports,
		WrapAndUnwrapSol:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("executor: build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor: swap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("executor: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor: aggregator swap error (%d): %s", resp.StatusCode, string(body))
	}

	var s SwapResponse
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("executor: parse swap response: %w", err)
	}
	return &s, nil
}
