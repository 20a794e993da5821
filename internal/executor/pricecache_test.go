package executor

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

func TestPollOnce_StoresImpliedUSDPrice(t *testing.T) {
	server := fakeJupiterServer(t, solana.NewWallet().PublicKey())
	defer server.Close()

	jupiter := NewJupiterClient(server.URL, zerolog.Nop())
	cache := NewPriceCache(jupiter, []string{"So11111111111111111111111111111111111111112"}, zerolog.Nop())

	cache.PollOnce(context.Background())

	price, ok := cache.USDPrice("So11111111111111111111111111111111111111112")
	if !ok {
		t.Fatal("expected a price to be cached after PollOnce")
	}
	if price <= 0 {
		t.Fatalf("expected a positive price, got %f", price)
	}
}

func TestUSDPrice_MissReturnsNotOK(t *testing.T) {
	cache := NewPriceCache(nil, nil, zerolog.Nop())
	if _, ok := cache.USDPrice("unknown"); ok {
		t.Fatal("expected a miss for a mint never polled")
	}
}
