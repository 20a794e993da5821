package tradeguard

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
)

func testGuard() *Guard {
	return New(Config{
		MaxSingleTradeUSD:  1000,
		MaxDailyVolumeUSD:  10000,
		RequireConfirmUSD:  500,
		MinSlippageBps:     10,
		MaxSlippageBps:     500,
		TradeCooldown:      30 * time.Second,
		SniperMaxAmountSOL: 0.5,
	}, []string{"RUGMINT"}, zerolog.Nop())
}

func TestValidate_BlocksBlocklistedMint(t *testing.T) {
	g := testGuard()
	_, _, err := g.Validate("RUGMINT", "USDC", 1, 100, 50, "test", false)
	var te *Error
	if !errors.As(err, &te) || te.Kind != BlockedToken {
		t.Fatalf("expected BLOCKED_TOKEN, got %v", err)
	}
}

func TestValidate_SlippageBoundary(t *testing.T) {
	g := testGuard()

	if ok, _, err := g.Validate("SOL", "USDC", 1, 100, 10, "test", false); !ok || err != nil {
		t.Fatalf("slippage exactly at minimum should be accepted, got ok=%v err=%v", ok, err)
	}

	g2 := testGuard()
	_, _, err := g2.Validate("SOL", "USDC", 1, 100, 9, "test", false)
	var te *Error
	if !errors.As(err, &te) || te.Kind != SlippageTooLow {
		t.Fatalf("expected SLIPPAGE_TOO_LOW one below minimum, got %v", err)
	}
}

func TestValidate_SingleTradeCapBoundary(t *testing.T) {
	g := testGuard()
	if ok, _, err := g.Validate("SOL", "USDC", 1, 1000, 50, "test", false); !ok || err != nil {
		t.Fatalf("usd exactly at cap should be accepted, got ok=%v err=%v", ok, err)
	}

	g2 := testGuard()
	_, _, err := g2.Validate("SOL", "USDC", 1, 1000.01, 50, "test", false)
	var te *Error
	if !errors.As(err, &te) || te.Kind != TradeSizeExceeded {
		t.Fatalf("expected TRADE_SIZE_EXCEEDED one above cap, got %v", err)
	}
}

func TestValidate_IssuesConfirmationAtThreshold(t *testing.T) {
	g := testGuard()
	ok, id, err := g.Validate("SOL", "USDC", 1, 500, 50, "test", true)
	if ok || err != nil || id == "" {
		t.Fatalf("expected a confirmation token at threshold, got ok=%v id=%q err=%v", ok, id, err)
	}

	pc, err := g.Confirm(id)
	if err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	if pc.USDValue != 500 {
		t.Fatalf("expected confirmation to carry original usd value")
	}

	// one-shot
	_, err = g.Confirm(id)
	var te *Error
	if !errors.As(err, &te) || te.Kind != InvalidConfirmation {
		t.Fatalf("expected second confirm to fail INVALID_CONFIRMATION, got %v", err)
	}
}

func TestDailyLimit_RejectsOverLimitAcceptsUnderThenCooldown(t *testing.T) {
	g := testGuard()
	g.cfg.MaxDailyVolumeUSD = 10000
	g.dailyVolume.Date = time.Now().UTC().Format("2006-01-02")
	g.dailyVolume.VolumeUSD = 9500

	_, _, err := g.Validate("SOL", "USDC", 1, 600, 50, "test", false)
	var te *Error
	if !errors.As(err, &te) || te.Kind != DailyLimitExceeded {
		t.Fatalf("expected DAILY_LIMIT_EXCEEDED, got %v", err)
	}

	ok, _, err := g.Validate("SOL", "USDC", 1, 400, 50, "test", false)
	if !ok || err != nil {
		t.Fatalf("expected 400 usd trade accepted, got ok=%v err=%v", ok, err)
	}
	g.Record("SOL", "USDC", 400)

	_, _, err = g.Validate("SOL", "USDC", 1, 200, 50, "test", false)
	if !errors.As(err, &te) || te.Kind != TradeCooldown {
		t.Fatalf("expected TRADE_COOLDOWN on same pair, got %v", err)
	}
}

func TestValidateTokenSafety_FreezeAuthorityBlockedEvenWithDefaultSettings(t *testing.T) {
	g := testGuard()

	err := g.ValidateTokenSafety(domain.Mint{Address: "M0", FreezeAuthority: "auth"}, domain.SniperSettings{})
	var te *Error
	if !errors.As(err, &te) || te.Kind != FreezeAuthorityActive {
		t.Fatalf("expected FREEZE_AUTHORITY_ACTIVE with default settings, got %v", err)
	}
}

func TestValidateTokenSafety_BlocksOnFreezeAuthorityRugAndSocials(t *testing.T) {
	g := testGuard()

	err := g.ValidateTokenSafety(domain.Mint{Address: "M1", FreezeAuthority: "auth"}, domain.SniperSettings{RequireNoFreeze: true})
	var te *Error
	if !errors.As(err, &te) || te.Kind != FreezeAuthorityActive {
		t.Fatalf("expected FREEZE_AUTHORITY_ACTIVE, got %v", err)
	}

	err = g.ValidateTokenSafety(domain.Mint{Address: "M2", RugFlag: true}, domain.SniperSettings{})
	if !errors.As(err, &te) || te.Kind != RugDetected {
		t.Fatalf("expected RUG_DETECTED, got %v", err)
	}
	// auto-blocklisted
	_, _, err = g.Validate("M2", "USDC", 1, 10, 50, "test", false)
	if !errors.As(err, &te) || te.Kind != BlockedToken {
		t.Fatalf("expected rug mint to be auto-blocklisted, got %v", err)
	}

	err = g.ValidateTokenSafety(domain.Mint{Address: "M3", SocialsPresent: false}, domain.SniperSettings{RequireSocials: true})
	if !errors.As(err, &te) || te.Kind != NoSocials {
		t.Fatalf("expected NO_SOCIALS, got %v", err)
	}
}
