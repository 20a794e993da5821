// Package scheduler's BotScheduler is the engine's "beating heart" (spec
// §4.7): a 15s timer plus price-tick dispatch over every active bot, one
// handler per BotType, each guarded by a non-blocking per-bot lock so a
// slow handler never piles tick work up. The per-bot TryLock idiom is
// grounded on r3e-network-service_layer's accountpool pool.go use of
// sync.Mutex.TryLock to skip rather than block a busy background task.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/executor"
)

// TickInterval is the wall-clock wake cadence (spec §4.7: "15 s
// intervals").
const TickInterval = 15 * time.Second

// PerfUpdateThrottle caps how often a bot's performance update event is
// emitted per tick burst (spec §4.7.4: "throttled to at most once per
// second per bot"); the bot row itself is saved on every successful tick.
const PerfUpdateThrottle = time.Second

// BotStore persists bot rows (spec §3's versioned-JSON-blob row).
type BotStore interface {
	ListActiveBots(ctx context.Context) ([]domain.Bot, error)
	SaveBot(ctx context.Context, b domain.Bot) error
}

// PriceSource gives the scheduler a mint's current USD price; the same
// shape as executor.PriceCache since both read the one price cache.
type PriceSource interface {
	USDPrice(mint string) (float64, bool)
}

// WalletBalances answers a mint's atomic on-chain balance, used by the
// GRID sell path's reconciliation step (spec §4.7.1 step 4).
type WalletBalances interface {
	Balance(mint string) uint64
}

// VolumeSource supplies recent per-bucket volume for VWAP weighting (spec
// §4.7.2). Bucket width is chosen by the implementation from lookback:
// 15-minute buckets under a 4h lookback, hourly at or
// above it.
type VolumeSource interface {
	RecentBucketVolumes(ctx context.Context, mint string, lookback time.Duration) ([]float64, error)
}

// Trader is the subset of Executor the scheduler drives trades through.
type Trader interface {
	ExecuteSwap(ctx context.Context, inputMint, outputMint string, uiAmount float64, slippageBps int, priorityFeeMicroLamports uint64, source string) (*executor.Result, error)
}

// defaultSlippageBps is used for scheduler-driven trades that do not carry
// a bot-specific slippage override in BotConfig.
const defaultSlippageBps = 100

// BotScheduler dispatches every active bot on a timer or a price tick.
type BotScheduler struct {
	store     BotStore
	prices    PriceSource
	wallet    WalletBalances
	volumes   VolumeSource
	trader    Trader
	orderBook LimitOrderBook
	events    *events.Manager
	log       zerolog.Logger

	locks sync.Map // bot ID -> *sync.Mutex
}

// New builds a BotScheduler from its collaborators. orderBook may be nil,
// in which case LIMIT_GRID bots fall back to the plain GRID rules.
func New(store BotStore, prices PriceSource, wallet WalletBalances, volumes VolumeSource, trader Trader, orderBook LimitOrderBook, evts *events.Manager, log zerolog.Logger) *BotScheduler {
	return &BotScheduler{
		store:     store,
		prices:    prices,
		wallet:    wallet,
		volumes:   volumes,
		trader:    trader,
		orderBook: orderBook,
		events:    evts,
		log:       log.With().Str("component", "bot_scheduler").Logger(),
	}
}

func (s *BotScheduler) lockFor(id string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Tick enumerates active bots and dispatches each at its output mint's
// current cached price, dropping any bot whose lock is currently held
// (spec §4.7: "the tick is dropped for that bot").
func (s *BotScheduler) Tick(ctx context.Context) {
	bots, err := s.store.ListActiveBots(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active bots failed")
		return
	}
	for _, b := range bots {
		price, ok := s.prices.USDPrice(b.OutputMint)
		if !ok {
			continue
		}
		s.dispatch(ctx, b, price)
	}
}

// OnPriceTick dispatches every active bot trading mint at price p (spec
// §4.7: "on every price-update event from the stream").
func (s *BotScheduler) OnPriceTick(ctx context.Context, mint string, p float64) {
	bots, err := s.store.ListActiveBots(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active bots failed")
		return
	}
	for _, b := range bots {
		if b.OutputMint != mint {
			continue
		}
		s.dispatch(ctx, b, p)
	}
}

// dispatch takes bot b's per-bot lock non-blocking and routes to its
// handler; a held lock drops this tick for b entirely.
func (s *BotScheduler) dispatch(ctx context.Context, b domain.Bot, price float64) {
	lock := s.lockFor(b.ID)
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	var err error
	switch b.Type {
	case domain.BotGrid:
		err = s.evaluateGrid(ctx, &b, price)
	case domain.BotDCA, domain.BotTWAP:
		err = s.evaluateDCA(ctx, &b, price)
	case domain.BotVWAP:
		err = s.evaluateVWAP(ctx, &b, price)
	case domain.BotLimitGrid:
		err = s.evaluateLimitGrid(ctx, &b, price)
	default:
		err = fmt.Errorf("unknown bot type %q", b.Type)
	}
	if err != nil {
		s.log.Error().Err(err).Str("bot_id", b.ID).Str("type", string(b.Type)).Msg("bot tick failed")
		return
	}
	if s.throttlePerfUpdate(&b, time.Now()) {
		s.notify(events.BotPerformanceUpdate, &b, map[string]interface{}{
			"price":           price,
			"run_count":       b.State.RunCount,
			"grid_yield":      b.State.GridYield,
			"profit_realized": b.State.ProfitRealized,
		})
	}

	if saveErr := s.store.SaveBot(ctx, b); saveErr != nil {
		s.log.Error().Err(saveErr).Str("bot_id", b.ID).Msg("save bot row failed")
	}
}

func (s *BotScheduler) notify(evt events.EventType, b *domain.Bot, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["bot_id"] = b.ID
	s.events.Emit(evt, "bot_scheduler", data)
}

// throttlePerfUpdate reports whether a performance-field recompute is due
// for b, and stamps LastPerfUpdate if so (spec §4.7.4: throttled to at
// most once per second per bot, so a chatty price feed cannot starve
// execution with redundant PnL work on every tick).
func (s *BotScheduler) throttlePerfUpdate(b *domain.Bot, now time.Time) bool {
	if now.Sub(b.State.LastPerfUpdate) < PerfUpdateThrottle {
		return false
	}
	b.State.LastPerfUpdate = now
	return true
}
