// Package jito fans a signed bundle out to Jito's regional block-engine
// endpoints in parallel and returns on first acceptance (spec §4.9), the
// same manual net/http + per-task goroutine shape the teacher's
// tradernet.Client uses for a single endpoint, generalized to many.
package jito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// TipAccounts is the documented set of Jito tip accounts; one is chosen at
// random per bundle submission.
var TipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// RandomTipAccount returns one tip account uniformly at random.
func RandomTipAccount() string {
	return TipAccounts[rand.Intn(len(TipAccounts))]
}

// RegionResult is one endpoint's outcome, kept even on failure for
// observability (spec §4.9: "All results, including failures, are
// returned").
type RegionResult struct {
	Region    string
	BundleID  string
	Err       error
	Elapsed   time.Duration
}

// Submitter fans a bundle to a fixed list of regional endpoints.
type Submitter struct {
	endpoints map[string]string // region label -> base URL
	client    *http.Client
	log       zerolog.Logger
}

// New builds a Submitter over a region-label -> base-URL map.
func New(endpoints map[string]string, log zerolog.Logger) *Submitter {
	return &Submitter{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log.With().Str("component", "jito").Logger(),
	}
}

type bundleRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int        `json:"id"`
	Method  string     `json:"method"`
	Params  [][]string `json:"params"`
}

type bundleResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitBundle fans bundleBase64Txs (a list of base64-encoded signed
// transactions) to every region in parallel. It returns as soon as the
// first 200-OK response arrives, best-effort-cancelling the rest; if
// every region fails, it returns a go-multierror aggregating all of them.
// Results for every region attempted (win or lose) are always returned.
func (s *Submitter) SubmitBundle(ctx context.Context, bundleBase64Txs []string) (winner *RegionResult, allResults []RegionResult, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []RegionResult
		won     *RegionResult
		errs    *multierror.Error
	)

	for region, base := range s.endpoints {
		wg.Add(1)
		go func(region, base string) {
			defer wg.Done()
			start := time.Now()
			bundleID, submitErr := s.submitOne(ctx, base, bundleBase64Txs)
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			res := RegionResult{Region: region, BundleID: bundleID, Err: submitErr, Elapsed: elapsed}
			results = append(results, res)
			if submitErr != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", region, submitErr))
				return
			}
			if won == nil {
				won = &res
				cancel()
			}
		}(region, base)
	}

	wg.Wait()

	if won == nil {
		return nil, results, fmt.Errorf("jito: all regions failed: %w", errs.ErrorOrNil())
	}
	return won, results, nil
}

func (s *Submitter) submitOne(ctx context.Context, base string, bundleBase64Txs []string) (string, error) {
	body, err := json.Marshal(bundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  [][]string{bundleBase64Txs},
	})
	if err != nil {
		return "", fmt.Errorf("marshal bundle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/bundles", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build bundle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit bundle: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read bundle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bundle rejected (%d): %s", resp.StatusCode, string(respBody))
	}

	var parsed bundleResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse bundle response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("bundle error: %s", parsed.Error.Message)
	}
	return parsed.Result, nil
}
