package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/aristath/arduino-trader/internal/blockhash"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/pumpfun"
)

// PumpfunBuilder is the subset of pumpfun.Builder the sniper path needs;
// an interface here keeps this file's unit tests free of a live curve
// cache.
type PumpfunBuilder interface {
	BuildBuy(ctx context.Context, p pumpfun.BuildBuyParams) (*solana.Transaction, error)
}

// SniperExecutor wires PumpfunBuilder's direct-build buy path (spec §4.5)
// into the same TradeGuard/signing/submission pipeline the Jupiter
// executor uses, for the one case spec §4.5 exists to serve: a
// bonding-curve buy that must skip the aggregator's two HTTP round-trips.
type SniperExecutor struct {
	builder   PumpfunBuilder
	blockhash *blockhash.Cache
	guard     sniperGuard
	signer    pumpfunSigner
	submitter Submitter
	recorder  TradeRecorder
	events    *events.Manager
}

// sniperGuard is the narrow TradeGuard surface the sniper path consults
// (spec §4.4 validate_sniper).
type sniperGuard interface {
	ValidateSniper(amountSOL, slippagePct float64, mint string) error
	Record(input, output string, usdValue float64)
}

type pumpfunSigner interface {
	Sign(ctx context.Context, message []byte, pubkey solana.PublicKey) (solana.Signature, error)
	PublicKey() solana.PublicKey
}

// NewSniperExecutor builds a SniperExecutor from its collaborators.
func NewSniperExecutor(builder PumpfunBuilder, bh *blockhash.Cache, guard sniperGuard, signer pumpfunSigner, submitter Submitter, recorder TradeRecorder, evts *events.Manager) *SniperExecutor {
	return &SniperExecutor{
		builder:   builder,
		blockhash: bh,
		guard:     guard,
		signer:    signer,
		submitter: submitter,
		recorder:  recorder,
		events:    evts,
	}
}

// BuySniper validates a bonding-curve buy against the tighter sniper
// thresholds, builds the unsigned transaction locally via PumpfunBuilder,
// signs, submits, and records the trade (spec §4.5 + §4.4
// validate_sniper). amountSOL is in whole SOL; lamports are derived here.
func (s *SniperExecutor) BuySniper(ctx context.Context, mint solana.PublicKey, amountSOL, slippagePct float64, priorityFeeMicroLamports uint64) (*Result, error) {
	if err := s.guard.ValidateSniper(amountSOL, slippagePct, mint.String()); err != nil {
		return nil, fmt.Errorf("sniper: trade guard rejected buy: %w", err)
	}

	snap := s.blockhash.Get()
	recentBlockhash, err := solana.HashFromBase58(snap.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("sniper: parse cached blockhash: %w", err)
	}
	lamports := uint64(amountSOL * 1_000_000_000)

	tx, err := s.builder.BuildBuy(ctx, pumpfun.BuildBuyParams{
		Mint:                     mint,
		Buyer:                    s.signer.PublicKey(),
		AmountSOLLamports:        lamports,
		MaxSlippageBps:           int(slippagePct * 100),
		PriorityFeeMicroLamports: priorityFeeMicroLamports,
		RecentBlockhash:          recentBlockhash,
	})
	if err != nil {
		return nil, fmt.Errorf("sniper: build buy transaction: %w", err)
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sniper: marshal transaction message: %w", err)
	}
	sig, err := s.signer.Sign(ctx, messageBytes, s.signer.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("sniper: sign transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		tx.Signatures = make([]solana.Signature, 1)
	}
	tx.Signatures[0] = sig

	submitted, err := s.submitter.SubmitRaw(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("sniper: submit transaction: %w", err)
	}

	usdValue := 0.0 // no reliable USD quote for a just-minted bonding-curve token
	s.guard.Record("SOL", mint.String(), usdValue)

	trade := domain.Trade{
		ID:          uuid.NewString(),
		InputMint:   "SOL",
		OutputMint:  mint.String(),
		AmountIn:    amountSOL,
		USDValue:    usdValue,
		SlippageBps: int(slippagePct * 100),
		PriorityFee: priorityFeeMicroLamports,
		Signature:   submitted.String(),
		Source:      "sniper",
		Status:      domain.TradeSucceeded,
		ExecutedAt:  time.Now(),
	}
	if err := s.recorder.RecordTrade(ctx, trade); err != nil {
		// best-effort: the on-chain buy already landed, a failed row write
		// must not be reported as a failed trade.
		_ = err
	}
	s.events.Emit(events.TradeExecuted, "sniper", map[string]interface{}{
		"trade_id":  trade.ID,
		"mint":      mint.String(),
		"signature": trade.Signature,
		"source":    "sniper",
	})

	return &Result{Signature: submitted.String()}, nil
}
