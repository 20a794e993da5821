package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// USDCMint is the reference stablecoin every price probe quotes against.
const USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// usdcDecimals and probeAtomicUnits size the probe quote: a fixed 1 SOL-
// scale atomic amount small enough that price impact on a liquid route is
// negligible, the same "atomic probe" idiom internal/arb's spread check
// uses for its own quotes.
const (
	usdcDecimals     = 6
	probeAtomicUnits = 1_000_000_000
)

// PriceFeed is a sync.Map-backed mint -> USD price view, refreshed by
// PollOnce against the aggregator's quote endpoint. The sync.Map choice
// mirrors internal/portfolio.Tracker's cache: readers (Executor's USD
// valuation for TradeGuard sizing, BotScheduler dispatch) vastly outnumber
// the single periodic writer.
type PriceFeed struct {
	jupiter *JupiterClient
	mints   []string
	log     zerolog.Logger

	prices sync.Map // mint (base58) -> float64 USD
}

// NewPriceCache builds a cache that refreshes prices for mints.
func NewPriceCache(jupiter *JupiterClient, mints []string, log zerolog.Logger) *PriceFeed {
	return &PriceFeed{
		jupiter: jupiter,
		mints:   mints,
		log:     log.With().Str("component", "price_cache").Logger(),
	}
}

// USDPrice returns mint's last polled USD price.
func (c *PriceFeed) USDPrice(mint string) (float64, bool) {
	v, ok := c.prices.Load(mint)
	if !ok {
		return 0, false
	}
	return v.(float64), true
}

// PollOnce quotes probeAtomicUnits of each tracked mint against USDC and
// stores the implied per-unit USD price. Per-mint failures are logged and
// skipped rather than aborting the whole poll.
func (c *PriceFeed) PollOnce(ctx context.Context) {
	for _, mint := range c.mints {
		quote, err := c.jupiter.GetQuote(ctx, mint, USDCMint, probeAtomicUnits, 50)
		if err != nil {
			c.log.Warn().Err(err).Str("mint", mint).Msg("price probe quote failed")
			continue
		}
		outAtomic, err := quote.OutAmountAtomic()
		if err != nil {
			c.log.Warn().Err(err).Str("mint", mint).Msg("price probe parse failed")
			continue
		}
		usdOut := float64(outAtomic) / pow10(usdcDecimals)
		probedUnits := float64(probeAtomicUnits) / pow10(probeDecimalsFor(mint))
		if probedUnits == 0 {
			continue
		}
		c.prices.Store(mint, usdOut/probedUnits)
	}
}

// Run polls every interval until ctx is cancelled.
func (c *PriceFeed) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PollOnce(ctx)
		}
	}
}

// probeDecimalsFor assumes 9-decimal (SOL-scale) probe inputs for every
// tracked mint except the reference stablecoin itself; per-mint decimals
// are resolved properly by DecimalsResolver everywhere a trade actually
// executes, this probe only needs a consistent scale to compute a ratio.
func probeDecimalsFor(mint string) int {
	if mint == USDCMint {
		return usdcDecimals
	}
	return 9
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
