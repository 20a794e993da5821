package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/tradeguard"
)

type fakeDecimals struct{}

func (fakeDecimals) Decimals(ctx context.Context, mint string) (uint8, error) { return 6, nil }

type fakePrices struct{ price float64 }

func (f fakePrices) USDPrice(mint string) (float64, bool) { return f.price, true }

type fakeRecorder struct {
	recorded []domain.Trade
}

func (f *fakeRecorder) RecordTrade(ctx context.Context, t domain.Trade) error {
	f.recorded = append(f.recorded, t)
	return nil
}

type fakeSigner struct{ pub solana.PublicKey }

func (f fakeSigner) Sign(ctx context.Context, message []byte, pubkey solana.PublicKey) (solana.Signature, error) {
	var sig solana.Signature
	copy(sig[:], []byte("fake-signature-fake-signature-fa"))
	return sig, nil
}
func (f fakeSigner) PublicKey() solana.PublicKey { return f.pub }

type fakeSubmitter struct{ lastTx *solana.Transaction }

func (f *fakeSubmitter) SubmitRaw(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.lastTx = tx
	var sig solana.Signature
	copy(sig[:], []byte("submitted-signature-submitted-si"))
	return sig, nil
}

// fakeJupiterServer serves /quote and /swap with a fixed, valid unsigned
// transaction payload so the decode/sign/submit path is exercised end to
// end.
func fakeJupiterServer(t *testing.T, payer solana.PublicKey) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		resp := QuoteResponse{
			InputMint:  "So11111111111111111111111111111111111111112",
			OutputMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			InAmount:   "1000000",
			OutAmount:  "2000000",
			RoutePlan: []RoutePlanStep{
				{SwapInfo: struct {
					FeeAmount string `json:"feeAmount"`
					FeeMint   string `json:"feeMint"`
				}{FeeAmount: "1000", FeeMint: "So11111111111111111111111111111111111111112"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		tx := blankTransaction(t, payer)
		b64, err := tx.ToBase64()
		if err != nil {
			t.Fatalf("encode fixture tx: %v", err)
		}
		json.NewEncoder(w).Encode(SwapResponse{SwapTransaction: b64})
	})
	return httptest.NewServer(mux)
}

func blankTransaction(t *testing.T, payer solana.PublicKey) *solana.Transaction {
	t.Helper()
	instr := solana.NewInstruction(
		solana.MustPublicKeyFromBase58("11111111111111111111111111111111"),
		solana.AccountMetaSlice{solana.NewAccountMeta(payer, true, true)},
		[]byte{0},
	)
	tx, err := solana.NewTransaction([]solana.Instruction{instr}, solana.Hash{1, 2, 3}, solana.TransactionPayer(payer))
	if err != nil {
		t.Fatalf("build fixture tx: %v", err)
	}
	return tx
}

func TestExecuteSwap_FullPipeline(t *testing.T) {
	signer := fakeSigner{pub: solana.NewWallet().PublicKey()}
	server := fakeJupiterServer(t, signer.PublicKey())
	defer server.Close()

	jupiter := NewJupiterClient(server.URL, zerolog.Nop())
	guard := tradeguard.New(tradeguard.Config{
		MaxSingleTradeUSD: 1_000_000,
		MaxDailyVolumeUSD: 1_000_000,
		RequireConfirmUSD: 1_000_000,
		MinSlippageBps:    0,
		MaxSlippageBps:    1_000,
		TradeCooldown:     time.Millisecond,
	}, nil, zerolog.Nop())

	recorder := &fakeRecorder{}
	submitter := &fakeSubmitter{}
	evts := events.NewManager(zerolog.Nop())

	ex := New(jupiter, fakeDecimals{}, fakePrices{price: 150}, guard, signer, submitter, recorder, evts, zerolog.Nop())

	result, err := ex.ExecuteSwap(context.Background(), "So11111111111111111111111111111111111111112", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 1.0, 50, 5000, "test")
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if result.AmountOut != 2.0 {
		t.Fatalf("expected amount out 2.0 (2_000_000 atomic / 1e6), got %f", result.AmountOut)
	}
	if result.RouteFees != 1000 {
		t.Fatalf("expected summed route fees 1000, got %d", result.RouteFees)
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("expected one trade recorded, got %d", len(recorder.recorded))
	}
	if submitter.lastTx == nil || len(submitter.lastTx.Signatures) == 0 {
		t.Fatal("expected submitted transaction to carry a signature")
	}
}

func TestExecuteSwap_RequiresConfirmationAboveThreshold(t *testing.T) {
	signer := fakeSigner{pub: solana.NewWallet().PublicKey()}
	server := fakeJupiterServer(t, signer.PublicKey())
	defer server.Close()

	jupiter := NewJupiterClient(server.URL, zerolog.Nop())
	guard := tradeguard.New(tradeguard.Config{
		MaxSingleTradeUSD: 1_000_000,
		MaxDailyVolumeUSD: 1_000_000,
		RequireConfirmUSD: 10,
		MinSlippageBps:    0,
		MaxSlippageBps:    1_000,
		TradeCooldown:     time.Millisecond,
	}, nil, zerolog.Nop())

	ex := New(jupiter, fakeDecimals{}, fakePrices{price: 150}, guard, signer, &fakeSubmitter{}, &fakeRecorder{}, events.NewManager(zerolog.Nop()), zerolog.Nop())

	_, err := ex.ExecuteSwap(context.Background(), "So11111111111111111111111111111111111111112", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 1.0, 50, 5000, "test")
	if err == nil {
		t.Fatal("expected swap above the confirmation threshold to be rejected pending confirmation")
	}
}

func TestExecuteConfirmed_RunsTheTradeAPendingConfirmationDescribes(t *testing.T) {
	signer := fakeSigner{pub: solana.NewWallet().PublicKey()}
	server := fakeJupiterServer(t, signer.PublicKey())
	defer server.Close()

	jupiter := NewJupiterClient(server.URL, zerolog.Nop())
	guard := tradeguard.New(tradeguard.Config{
		MaxSingleTradeUSD: 1_000_000,
		MaxDailyVolumeUSD: 1_000_000,
		RequireConfirmUSD: 10,
		MinSlippageBps:    0,
		MaxSlippageBps:    1_000,
		TradeCooldown:     time.Millisecond,
	}, nil, zerolog.Nop())

	recorder := &fakeRecorder{}
	ex := New(jupiter, fakeDecimals{}, fakePrices{price: 150}, guard, signer, &fakeSubmitter{}, recorder, events.NewManager(zerolog.Nop()), zerolog.Nop())

	_, confirmationID, err := guard.Validate("So11111111111111111111111111111111111111112", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 1.0, 150, 50, "test", true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if confirmationID == "" {
		t.Fatal("expected a confirmation id above threshold")
	}

	result, err := ex.ExecuteConfirmed(context.Background(), confirmationID)
	if err != nil {
		t.Fatalf("ExecuteConfirmed: %v", err)
	}
	if result.AmountOut != 2.0 {
		t.Fatalf("expected amount out 2.0, got %f", result.AmountOut)
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("expected one trade recorded, got %d", len(recorder.recorded))
	}

	if _, err := ex.ExecuteConfirmed(context.Background(), confirmationID); err == nil {
		t.Fatal("expected a second use of the same confirmation id to fail (one-shot token)")
	}
}
