// Package tradeguard validates every trade against size/daily/slippage/
// cooldown/blocklist rules, issues confirmation tokens for large trades,
// and records executed volume (spec §4.4).
package tradeguard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/audit"
	"github.com/aristath/arduino-trader/internal/domain"
)

// Config carries the safety knobs of spec §6.
type Config struct {
	MaxSingleTradeUSD    float64
	MaxDailyVolumeUSD    float64
	RequireConfirmUSD    float64
	MinSlippageBps       int
	MaxSlippageBps       int
	TradeCooldown        time.Duration
	SniperMaxAmountSOL   float64
	SniperMaxSlippagePct float64
}

const confirmationLifetime = 5 * time.Minute

// Guard is the per-engine TradeGuard instance.
type Guard struct {
	cfg   Config
	log   zerolog.Logger
	audit *audit.Log

	mu          sync.Mutex
	blocklist   map[string]struct{}
	dailyVolume domain.DailyVolume
	cooldowns   map[string]time.Time // pair key -> last recorded trade time
	pending     map[string]domain.PendingConfirmation
}

func pairKey(input, output string) string { return input + "->" + output }

// New builds a Guard seeded with an initial blocklist.
func New(cfg Config, blocklist []string, log zerolog.Logger) *Guard {
	set := make(map[string]struct{}, len(blocklist))
	for _, m := range blocklist {
		set[m] = struct{}{}
	}
	return &Guard{
		cfg:       cfg,
		log:       log.With().Str("component", "trade_guard").Logger(),
		blocklist: set,
		cooldowns: make(map[string]time.Time),
		pending:   make(map[string]domain.PendingConfirmation),
	}
}

// SetAudit attaches a security audit sink; rejections recorded before a
// sink is attached are only logged through g.log.
func (g *Guard) SetAudit(a *audit.Log) {
	g.audit = a
}

// reject logs a rejection to the audit sink, if any, and returns the
// built error unchanged so callers can keep their one-line return style.
func (g *Guard) reject(kind Kind, message, input, source string) error {
	err := newErr(kind, message)
	if g.audit != nil {
		g.audit.Rejected(string(kind), message, input, source)
	}
	return err
}

// Validate enforces, in order: blocklist, slippage bounds, single-trade
// cap, daily-volume projection, per-pair cooldown. If usdValue is at or
// above the confirm threshold and requestConfirmation is set, a
// confirmation token is issued and ok is false with no error — the caller
// must re-enter via Confirm.
func (g *Guard) Validate(input, output string, amount, usdValue float64, slippageBps int, source string, requestConfirmation bool) (ok bool, confirmationID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, blocked := g.blocklist[input]; blocked {
		return false, "", g.reject(BlockedToken, fmt.Sprintf("input mint %s is blocklisted", input), input, source)
	}
	if _, blocked := g.blocklist[output]; blocked {
		return false, "", g.reject(BlockedToken, fmt.Sprintf("output mint %s is blocklisted", output), output, source)
	}

	if slippageBps < g.cfg.MinSlippageBps {
		return false, "", g.reject(SlippageTooLow, fmt.Sprintf("slippage %d bps below minimum %d", slippageBps, g.cfg.MinSlippageBps), input, source)
	}
	if slippageBps > g.cfg.MaxSlippageBps {
		return false, "", g.reject(SlippageTooHigh, fmt.Sprintf("slippage %d bps above maximum %d", slippageBps, g.cfg.MaxSlippageBps), input, source)
	}

	if usdValue > g.cfg.MaxSingleTradeUSD {
		return false, "", g.reject(TradeSizeExceeded, fmt.Sprintf("trade %.2f exceeds single-trade cap %.2f", usdValue, g.cfg.MaxSingleTradeUSD), input, source)
	}

	today := time.Now().UTC().Format("2006-01-02")
	g.rolloverLocked(today)
	if g.dailyVolume.VolumeUSD+usdValue > g.cfg.MaxDailyVolumeUSD {
		return false, "", g.reject(DailyLimitExceeded, fmt.Sprintf("trade would push daily volume to %.2f over limit %.2f", g.dailyVolume.VolumeUSD+usdValue, g.cfg.MaxDailyVolumeUSD), input, source)
	}

	key := pairKey(input, output)
	g.pruneCooldownsLocked()
	if last, ok := g.cooldowns[key]; ok && time.Since(last) < g.cfg.TradeCooldown {
		return false, "", g.reject(TradeCooldown, fmt.Sprintf("pair %s is in cooldown for %s more", key, g.cfg.TradeCooldown-time.Since(last)), input, source)
	}

	if usdValue >= g.cfg.RequireConfirmUSD && requestConfirmation {
		id := uuid.NewString()
		g.pending[id] = domain.PendingConfirmation{
			ID:          id,
			InputMint:   input,
			OutputMint:  output,
			Amount:      amount,
			USDValue:    usdValue,
			SlippageBps: slippageBps,
			Source:      source,
			ExpiresAt:   time.Now().Add(confirmationLifetime),
		}
		return false, id, nil
	}

	return true, "", nil
}

// Confirm one-shot consumes a pending confirmation token.
func (g *Guard) Confirm(id string) (domain.PendingConfirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pc, ok := g.pending[id]
	if !ok {
		return domain.PendingConfirmation{}, newErr(InvalidConfirmation, "unknown confirmation id")
	}
	delete(g.pending, id)

	if time.Now().After(pc.ExpiresAt) {
		return domain.PendingConfirmation{}, newErr(ConfirmationExpired, "confirmation token expired")
	}
	return pc, nil
}

// Record is called on successful execution only: it increments daily
// volume and stamps the pair cooldown.
func (g *Guard) Record(input, output string, usdValue float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	g.rolloverLocked(today)
	g.dailyVolume.VolumeUSD += usdValue
	g.dailyVolume.TradeCount++

	g.cooldowns[pairKey(input, output)] = time.Now()
}

// rolloverLocked resets the daily volume bucket at date rollover. Caller
// must hold g.mu.
func (g *Guard) rolloverLocked(today string) {
	if g.dailyVolume.Date != today {
		g.dailyVolume = domain.DailyVolume{Date: today}
	}
}

// pruneCooldownsLocked bounds the cooldown map by dropping entries older
// than 2x the cooldown window. Caller must hold g.mu.
func (g *Guard) pruneCooldownsLocked() {
	cutoff := 2 * g.cfg.TradeCooldown
	now := time.Now()
	for k, t := range g.cooldowns {
		if now.Sub(t) > cutoff {
			delete(g.cooldowns, k)
		}
	}
}

// ValidateSniper applies tighter thresholds for auto-sniping.
func (g *Guard) ValidateSniper(amountSOL, slippagePct float64, mint string) error {
	g.mu.Lock()
	_, blocked := g.blocklist[mint]
	g.mu.Unlock()
	if blocked {
		return g.reject(BlockedToken, fmt.Sprintf("mint %s is blocklisted", mint), mint, "sniper")
	}
	if amountSOL > g.cfg.SniperMaxAmountSOL {
		return g.reject(TradeSizeExceeded, fmt.Sprintf("snipe amount %.4f SOL exceeds sniper cap %.4f", amountSOL, g.cfg.SniperMaxAmountSOL), mint, "sniper")
	}
	if slippagePct > g.cfg.SniperMaxSlippagePct {
		return g.reject(SlippageTooHigh, fmt.Sprintf("snipe slippage %.2f%% exceeds sniper cap %.2f%%", slippagePct, g.cfg.SniperMaxSlippagePct), mint, "sniper")
	}
	return nil
}

// ValidateTokenSafety blocks outright on freeze authority present, blocks
// on mint authority if settings demand a renounced mint, blocks on a rug
// flag (auto-blocklisting the mint), and optionally requires social
// links.
func (g *Guard) ValidateTokenSafety(token domain.Mint, settings domain.SniperSettings) error {
	if token.FreezeAuthority != "" {
		return g.reject(FreezeAuthorityActive, fmt.Sprintf("mint %s has an active freeze authority", token.Address), token.Address, "token_safety")
	}
	if settings.RequireRenounced && token.MintAuthority != "" {
		return g.reject(MintNotRenounced, fmt.Sprintf("mint %s has not renounced mint authority", token.Address), token.Address, "token_safety")
	}
	if token.RugFlag {
		g.mu.Lock()
		g.blocklist[token.Address] = struct{}{}
		g.mu.Unlock()
		g.log.Warn().Str("mint", token.Address).Msg("auto-blocklisted mint flagged as rug")
		return g.reject(RugDetected, fmt.Sprintf("mint %s is flagged as a rug", token.Address), token.Address, "token_safety")
	}
	if settings.RequireSocials && !token.SocialsPresent {
		return g.reject(NoSocials, fmt.Sprintf("mint %s has no social links", token.Address), token.Address, "token_safety")
	}
	return nil
}

// DailyVolume returns a snapshot of today's recorded volume.
func (g *Guard) DailyVolume() domain.DailyVolume {
	g.mu.Lock()
	defer g.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	g.rolloverLocked(today)
	return g.dailyVolume
}
