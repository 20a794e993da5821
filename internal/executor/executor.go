package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/audit"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/signing"
	"github.com/aristath/arduino-trader/internal/tradeguard"
)

// DecimalsResolver resolves a mint's decimal precision, lazily populated
// and cached per spec §3 ("metadata... is lazy-populated and cached").
type DecimalsResolver interface {
	Decimals(ctx context.Context, mint string) (uint8, error)
}

// PriceCache gives the executor a USD price for a mint to value a trade
// (spec §4.6 step 6). Missing prices are tolerated — the trade still
// executes, just with usd_value 0, since TradeGuard already validated the
// trade against the caller-supplied estimate.
type PriceCache interface {
	USDPrice(mint string) (float64, bool)
}

// TradeRecorder persists a trade row (spec §4.6 step 7).
type TradeRecorder interface {
	RecordTrade(ctx context.Context, t domain.Trade) error
}

// Executor is the Jupiter-routed swap path (spec §4.6).
type Executor struct {
	jupiter   *JupiterClient
	decimals  DecimalsResolver
	prices    PriceCache
	guard     *tradeguard.Guard
	signer    signing.Oracle
	submitter Submitter
	recorder  TradeRecorder
	events    *events.Manager
	log       zerolog.Logger
}

// New builds an Executor from its collaborators.
func New(jupiter *JupiterClient, decimals DecimalsResolver, prices PriceCache, guard *tradeguard.Guard, signer signing.Oracle, submitter Submitter, recorder TradeRecorder, evts *events.Manager, log zerolog.Logger) *Executor {
	return &Executor{
		jupiter:   jupiter,
		decimals:  decimals,
		prices:    prices,
		guard:     guard,
		signer:    signer,
		submitter: submitter,
		recorder:  recorder,
		events:    evts,
		log:       log.With().Str("component", "executor").Logger(),
	}
}

// Result is what ExecuteSwap returns on success.
type Result struct {
	Signature    string
	AmountOut    float64
	AtomicOut    uint64
	RouteFees    uint64
	USDValue     float64
}

// ExecuteSwap runs the full spec §4.6 pipeline: validate through
// TradeGuard, resolve decimals, quote, build+sign+submit the transaction, then
// persist and emit a trade record. source identifies the caller (e.g.
// "bot:<id>", "arb", "sniper") for TradeGuard's cooldown key and the
// persisted trade row.
func (e *Executor) ExecuteSwap(ctx context.Context, inputMint, outputMint string, uiAmount float64, slippageBps int, priorityFeeMicroLamports uint64, source string) (*Result, error) {
	usdValue := e.estimateUSD(inputMint, uiAmount)

	ok, confirmationID, err := e.guard.Validate(inputMint, outputMint, uiAmount, usdValue, slippageBps, source, true)
	if err != nil {
		return nil, fmt.Errorf("executor: trade guard rejected swap: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("executor: swap requires confirmation %s before executing", confirmationID)
	}

	return e.executeSwap(ctx, inputMint, outputMint, uiAmount, usdValue, slippageBps, priorityFeeMicroLamports, source)
}

// ExecuteConfirmed consumes a confirmation token issued by a prior
// ExecuteSwap call and runs the trade it describes, bypassing Validate's
// confirmation gate (the trade was already validated at issuance time, and
// Validate at or above the confirmation threshold would only issue another
// token). The pending confirmation reserves no daily volume and stamps no
// cooldown; Record charges both after the swap. Used by the HTTP confirm
// endpoint (spec §5).
func (e *Executor) ExecuteConfirmed(ctx context.Context, confirmationID string) (*Result, error) {
	pc, err := e.guard.Confirm(confirmationID)
	if err != nil {
		return nil, fmt.Errorf("executor: confirm trade: %w", err)
	}
	return e.executeSwap(ctx, pc.InputMint, pc.OutputMint, pc.Amount, pc.USDValue, pc.SlippageBps, 0, pc.Source)
}

func (e *Executor) executeSwap(ctx context.Context, inputMint, outputMint string, uiAmount, usdValue float64, slippageBps int, priorityFeeMicroLamports uint64, source string) (*Result, error) {
	inDecimals, err := e.decimals.Decimals(ctx, inputMint)
	if err != nil {
		return nil, fmt.Errorf("executor: resolve input decimals: %w", err)
	}

	atomicIn := toAtomicUnits(uiAmount, inDecimals)

	quote, err := e.jupiter.GetQuote(ctx, inputMint, outputMint, atomicIn, slippageBps)
	if err != nil {
		return nil, err
	}

	swap, err := e.jupiter.GetSwapTransaction(ctx, quote, e.signer.PublicKey().String(), priorityFeeMicroLamports)
	if err != nil {
		return nil, fmt.Errorf("executor: request swap transaction: %w", err)
	}

	tx, err := solana.TransactionFromBase64(swap.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("executor: decode swap transaction: %w", err)
	}

	if err := e.signMessage(ctx, tx); err != nil {
		return nil, err
	}

	sig, err := e.submitter.SubmitRaw(ctx, tx)
	if err != nil {
		return nil, err
	}

	atomicOut, err := quote.OutAmountAtomic()
	if err != nil {
		return nil, fmt.Errorf("executor: parse quoted out amount: %w", err)
	}
	outDecimals, err := e.decimals.Decimals(ctx, outputMint)
	if err != nil {
		outDecimals = 0
	}
	amountOut := fromAtomicUnits(atomicOut, outDecimals)
	routeFees := quote.SummedRouteFeesAtomic()

	e.guard.Record(inputMint, outputMint, usdValue)

	trade := domain.Trade{
		ID:          uuid.NewString(),
		InputMint:   inputMint,
		OutputMint:  outputMint,
		AmountIn:    uiAmount,
		AmountOut:   amountOut,
		USDValue:    usdValue,
		SlippageBps: slippageBps,
		PriorityFee: priorityFeeMicroLamports,
		Signature:   sig.String(),
		Source:      source,
		Status:      domain.TradeSucceeded,
		ExecutedAt:  time.Now(),
	}
	if err := e.recorder.RecordTrade(ctx, trade); err != nil {
		e.log.Error().Err(err).Str("signature", sig.String()).Msg("failed to persist trade row after successful submit")
	}
	e.events.Emit(events.TradeExecuted, "executor", map[string]interface{}{
		"trade_id":    trade.ID,
		"input_mint":  inputMint,
		"output_mint": outputMint,
		"usd_value":   usdValue,
		"signature":   trade.Signature,
		"source":      source,
	})

	e.log.Info().
		Str("signature", base58Signature(sig)).
		Str("input_mint", inputMint).
		Str("output_mint", outputMint).
		Float64("usd_value", usdValue).
		Msg("swap executed")

	return &Result{
		Signature: sig.String(),
		AmountOut: amountOut,
		AtomicOut: atomicOut,
		RouteFees: routeFees,
		USDValue:  usdValue,
	}, nil
}

// signMessage asks the signing oracle for a signature over the
// transaction's message bytes and installs it at the fee-payer's
// signature slot (index 0) — the only signer this executor's swaps ever
// need, since Jupiter builds these with a single required signer.
func (e *Executor) signMessage(ctx context.Context, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("executor: marshal transaction message: %w", err)
	}
	sig, err := e.signer.Sign(ctx, messageBytes, e.signer.PublicKey())
	if err != nil {
		return fmt.Errorf("executor: sign transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		tx.Signatures = make([]solana.Signature, 1)
	}
	tx.Signatures[0] = sig
	return nil
}

func (e *Executor) estimateUSD(mint string, uiAmount float64) float64 {
	if price, ok := e.prices.USDPrice(mint); ok {
		return price * uiAmount
	}
	return 0
}

func toAtomicUnits(ui float64, decimals uint8) uint64 {
	return uint64(math.Round(ui * math.Pow10(int(decimals))))
}

func fromAtomicUnits(atomic uint64, decimals uint8) float64 {
	return float64(atomic) / math.Pow10(int(decimals))
}

func base58Signature(sig solana.Signature) string {
	return base58.Encode(sig[:])
}
