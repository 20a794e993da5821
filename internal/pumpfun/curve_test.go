package pumpfun

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func sampleCurve() Curve {
	return Curve{
		VirtualTokenReserves: 1_073_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
		RealTokenReserves:    793_100_000_000_000,
		RealSolReserves:      0,
		TokenTotalSupply:     1_000_000_000_000_000,
	}
}

// TestQuoteRoundTrip_InverseWithinOneLamport verifies
// compute_sol_for_tokens(compute_tokens_out(s)) <= s + 1 (spec §8).
func TestQuoteRoundTrip_InverseWithinOneLamport(t *testing.T) {
	c := sampleCurve()
	for _, solIn := range []uint64{1, 100, 1_000, 1_000_000, 500_000_000, 5_000_000_000} {
		tokensOut := c.ComputeTokensOut(solIn)
		if tokensOut == 0 {
			t.Fatalf("expected nonzero tokens out for %d lamports", solIn)
		}
		solBack, err := c.ComputeSolForTokens(tokensOut)
		if err != nil {
			t.Fatalf("ComputeSolForTokens(%d): %v", tokensOut, err)
		}
		if solBack > solIn+1 {
			t.Fatalf("inverse diverged: solIn=%d tokensOut=%d solBack=%d", solIn, tokensOut, solBack)
		}
	}
}

func TestComputeTokensOut_ZeroReservesYieldsZero(t *testing.T) {
	c := Curve{}
	if got := c.ComputeTokensOut(100); got != 0 {
		t.Fatalf("expected 0 tokens out against empty curve, got %d", got)
	}
}

func TestComputeSolForTokens_RejectsAmountAtOrAboveReserves(t *testing.T) {
	c := sampleCurve()
	if _, err := c.ComputeSolForTokens(c.VirtualTokenReserves); err == nil {
		t.Fatal("expected error requesting the entire virtual token reserve")
	}
}

func TestDeriveCurveAddress_IsDeterministic(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	a1, bump1, err := DeriveCurveAddress(mint)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	a2, bump2, err := DeriveCurveAddress(mint)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if a1 != a2 || bump1 != bump2 {
		t.Fatalf("expected deterministic PDA, got %s/%d then %s/%d", a1, bump1, a2, bump2)
	}
}

type fakeFetcher struct {
	data map[solana.PublicKey][]byte
	err  error
	hits int
}

func (f *fakeFetcher) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	return f.data[pubkey], nil
}

func encodeCurve(c Curve) []byte {
	data := make([]byte, 8+5*8+1)
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			data[off+i] = byte(v >> (8 * i))
		}
	}
	putU64(8, c.VirtualTokenReserves)
	putU64(16, c.VirtualSolReserves)
	putU64(24, c.RealTokenReserves)
	putU64(32, c.RealSolReserves)
	putU64(40, c.TokenTotalSupply)
	if c.Complete {
		data[48] = 1
	}
	return data
}

func TestCurveCache_FetchesDecodesAndCaches(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	curveAddr, _, _ := DeriveCurveAddress(mint)

	want := sampleCurve()
	fetcher := &fakeFetcher{data: map[solana.PublicKey][]byte{curveAddr: encodeCurve(want)}}
	cache := NewCurveCache(fetcher, 0)

	_, got, err := cache.Get(context.Background(), mint)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != want {
		t.Fatalf("decoded curve mismatch: got %+v want %+v", got, want)
	}

	if _, _, err := cache.Get(context.Background(), mint); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if fetcher.hits != 1 {
		t.Fatalf("expected cache hit to skip a second fetch, fetcher called %d times", fetcher.hits)
	}
}

func TestCurveCache_EmptyAccountIsCurveNotFound(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	fetcher := &fakeFetcher{data: map[solana.PublicKey][]byte{}}
	cache := NewCurveCache(fetcher, 0)

	_, _, err := cache.Get(context.Background(), mint)
	var notFound ErrCurveNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrCurveNotFound, got %v", err)
	}
}

func TestCurveCache_FetchErrorIsStateFetchFailed(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	fetcher := &fakeFetcher{err: errors.New("rpc timeout")}
	cache := NewCurveCache(fetcher, 0)

	_, _, err := cache.Get(context.Background(), mint)
	var fetchFailed ErrStateFetchFailed
	if !errors.As(err, &fetchFailed) {
		t.Fatalf("expected ErrStateFetchFailed, got %v", err)
	}
}
