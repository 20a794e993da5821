// Package arb is the adjacent ArbEngine supplemented per SPEC_FULL.md §3:
// it polls configured cross-venue pairs, and on a spread breach builds
// both legs and submits them atomically as a Jito bundle. Alongside the
// raw threshold check, it keeps a rolling per-pair spread history and
// reuses pkg/formulas (gonum-backed) to confirm the breach isn't just
// quote noise before committing capital to a bundle.
package arb

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/executor"
	"github.com/aristath/arduino-trader/internal/jito"
	"github.com/aristath/arduino-trader/internal/signing"
	"github.com/aristath/arduino-trader/pkg/formulas"
)

// WrappedSOLMint is the canonical wrapped-SOL mint address, used as the
// quote leg for every arb pair's two-sided quote.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// probeAtomicSOL is the fixed SOL notional (in lamports) used to probe
// each venue's price for a pair; 0.1 SOL balances quote-call cost against
// a price sample large enough to be meaningful.
const probeAtomicSOL = 100_000_000

// spreadHistoryWindow bounds how many past spread samples each pair
// keeps for trend confirmation; older samples are dropped FIFO.
const spreadHistoryWindow = 20

// spreadTrendMinSamples is the smallest history size spreadIsTrending
// requires before it will gate a breach; below it every breach passes,
// since there isn't enough history yet to call it noise.
const spreadTrendMinSamples = 5

// Store lists the configured arb pairs (arb_pairs collection, spec §6).
type Store interface {
	ListEnabledArbPairs(ctx context.Context) ([]domain.ArbPair, error)
}

// VenueClients resolves a venue label to the Jupiter-compatible client
// quoting for it; two pair rows sharing a venue string share a client.
type VenueClients map[string]*executor.JupiterClient

// Engine polls Store on each tick and executes any pair whose cross-venue
// spread exceeds its configured threshold.
type Engine struct {
	store   Store
	venues  VenueClients
	signer  signing.Oracle
	bundler *jito.Submitter
	events  *events.Manager
	log     zerolog.Logger

	historyMu sync.Mutex
	history   map[string][]float64
}

// New builds an Engine from its collaborators.
func New(store Store, venues VenueClients, signer signing.Oracle, bundler *jito.Submitter, evts *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		venues:  venues,
		signer:  signer,
		bundler: bundler,
		events:  evts,
		log:     log.With().Str("component", "arb").Logger(),
		history: make(map[string][]float64),
	}
}

// PollOnce evaluates every enabled pair once, executing any that breach
// their configured spread threshold. Errors from individual pairs are
// logged, not returned, so one bad pair never stalls the others.
func (e *Engine) PollOnce(ctx context.Context) {
	pairs, err := e.store.ListEnabledArbPairs(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("list arb pairs failed")
		return
	}
	for _, p := range pairs {
		if err := e.evaluatePair(ctx, p); err != nil {
			e.log.Error().Err(err).Str("pair_id", p.ID).Str("mint", p.Mint).Msg("arb pair evaluation failed")
		}
	}
}

// evaluatePair quotes both venues and, on a breach, executes the
// round-trip.
func (e *Engine) evaluatePair(ctx context.Context, p domain.ArbPair) error {
	clientA, ok := e.venues[p.VenueA]
	if !ok {
		return fmt.Errorf("arb: no client configured for venue %q", p.VenueA)
	}
	clientB, ok := e.venues[p.VenueB]
	if !ok {
		return fmt.Errorf("arb: no client configured for venue %q", p.VenueB)
	}

	quoteA, err := clientA.GetQuote(ctx, WrappedSOLMint, p.Mint, probeAtomicSOL, 50)
	if err != nil {
		return fmt.Errorf("arb: quote venue_a: %w", err)
	}
	quoteB, err := clientB.GetQuote(ctx, WrappedSOLMint, p.Mint, probeAtomicSOL, 50)
	if err != nil {
		return fmt.Errorf("arb: quote venue_b: %w", err)
	}

	outA, err := quoteA.OutAmountAtomic()
	if err != nil {
		return fmt.Errorf("arb: parse venue_a out amount: %w", err)
	}
	outB, err := quoteB.OutAmountAtomic()
	if err != nil {
		return fmt.Errorf("arb: parse venue_b out amount: %w", err)
	}
	if outA == 0 {
		return fmt.Errorf("arb: venue_a quoted zero output")
	}

	spreadBps := SpreadBps(float64(outA), float64(outB))
	history := e.recordSpread(p.ID, spreadBps)
	if spreadBps < float64(p.SpreadBpsThreshold) && -spreadBps < float64(p.SpreadBpsThreshold) {
		return nil
	}
	if !spreadIsTrending(history, spreadBps) {
		e.log.Debug().Str("pair_id", p.ID).Float64("spread_bps", spreadBps).Msg("arb breach suppressed, within recent spread noise")
		return nil
	}

	cheap, expensive := clientA, clientB
	if outB > outA {
		cheap, expensive = clientB, clientA
	}

	buyLeg, err := e.buildSignedLeg(ctx, cheap, WrappedSOLMint, p.Mint, probeAtomicSOL)
	if err != nil {
		return fmt.Errorf("arb: build buy leg: %w", err)
	}
	sellLeg, err := e.buildSignedLeg(ctx, expensive, p.Mint, WrappedSOLMint, outA)
	if err != nil {
		return fmt.Errorf("arb: build sell leg: %w", err)
	}

	winner, results, err := e.bundler.SubmitBundle(ctx, []string{buyLeg, sellLeg})
	if err != nil {
		return fmt.Errorf("arb: bundle submit failed (%d regions attempted): %w", len(results), err)
	}

	e.events.Emit(events.FundsReceived, "arb", map[string]interface{}{
		"pair_id":    p.ID,
		"mint":       p.Mint,
		"spread_bps": spreadBps,
		"region":     winner.Region,
		"bundle_id":  winner.BundleID,
	})
	e.log.Info().
		Str("pair_id", p.ID).
		Float64("spread_bps", spreadBps).
		Str("region", winner.Region).
		Msg("arb bundle accepted")
	return nil
}

// buildSignedLeg quotes, requests, signs, and base64-serializes one swap
// leg through client, ready to hand to the bundler. It stops short of
// submitting via RPC since both legs of an arb trade go out together as a
// Jito bundle rather than independently through Executor.ExecuteSwap.
func (e *Engine) buildSignedLeg(ctx context.Context, client *executor.JupiterClient, inputMint, outputMint string, atomicIn uint64) (string, error) {
	quote, err := client.GetQuote(ctx, inputMint, outputMint, atomicIn, 50)
	if err != nil {
		return "", fmt.Errorf("quote: %w", err)
	}
	swap, err := client.GetSwapTransaction(ctx, quote, e.signer.PublicKey().String(), 0)
	if err != nil {
		return "", fmt.Errorf("request swap transaction: %w", err)
	}

	tx, err := solana.TransactionFromBase64(swap.SwapTransaction)
	if err != nil {
		return "", fmt.Errorf("decode swap transaction: %w", err)
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction message: %w", err)
	}
	sig, err := e.signer.Sign(ctx, messageBytes, e.signer.PublicKey())
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		tx.Signatures = make([]solana.Signature, 1)
	}
	tx.Signatures[0] = sig

	encoded, err := tx.ToBase64()
	if err != nil {
		return "", fmt.Errorf("encode signed transaction: %w", err)
	}
	return encoded, nil
}

// SpreadBps returns the signed spread, in basis points, of b relative to
// a: positive means venue B's quote exceeds venue A's.
func SpreadBps(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / a * 10000
}

// recordSpread appends bps to pairID's rolling history, trims it to
// spreadHistoryWindow, and returns a copy of the history as it stood
// before this sample (so spreadIsTrending compares against the past,
// not against a window that already includes the current breach).
func (e *Engine) recordSpread(pairID string, bps float64) []float64 {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	prior := append([]float64(nil), e.history[pairID]...)

	updated := append(e.history[pairID], bps)
	if len(updated) > spreadHistoryWindow {
		updated = updated[len(updated)-spreadHistoryWindow:]
	}
	e.history[pairID] = updated

	return prior
}

// spreadIsTrending reports whether current is a genuine move rather than
// noise within history's recent distribution: it passes once history is
// too short to judge, and otherwise requires current to sit at least one
// standard deviation from history's mean (gonum-backed via pkg/formulas).
func spreadIsTrending(history []float64, current float64) bool {
	if len(history) < spreadTrendMinSamples {
		return true
	}
	mean := formulas.Mean(history)
	stdDev := formulas.StdDev(history)
	if stdDev == 0 {
		return current != mean
	}
	return math.Abs(current-mean) >= stdDev
}

// Name identifies this engine as a registry.Service.
func (e *Engine) Name() string { return "arb_engine" }

// Start satisfies registry.Service and is a no-op: the engine polls only
// when a caller invokes PollOnce, and neither Start nor cmd/server's cron
// jobs schedule it.
func (e *Engine) Start(ctx context.Context) error { return nil }

// Stop satisfies registry.Service.
func (e *Engine) Stop(ctx context.Context) error { return nil }
