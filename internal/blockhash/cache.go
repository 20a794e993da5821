// Package blockhash maintains a fresh (blockhash, lastValidBlockHeight,
// slot) tuple, driven by Geyser slot events when available and falling
// back to fast polling otherwise (spec §4.2).
package blockhash

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
)

// Fetcher retrieves a fresh blockhash tuple from the active RPC endpoint.
type Fetcher func(ctx context.Context) (domain.BlockhashSnapshot, error)

// mode is the cache's internal refresh-strategy state.
type mode int

const (
	modePollOnly mode = iota
	modeGRPCDriven
)

// Config tunes the refresh cadence (spec §4.2, §6).
type Config struct {
	PollInterval     time.Duration // 400ms default, poll-only mode
	SafetyNetInterval time.Duration // 10s default, gRPC-driven mode
	StalenessTimeout time.Duration // 5s default: no slot update -> back to poll-only
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 400 * time.Millisecond
	}
	if c.SafetyNetInterval <= 0 {
		c.SafetyNetInterval = 10 * time.Second
	}
	if c.StalenessTimeout <= 0 {
		c.StalenessTimeout = 5 * time.Second
	}
	return c
}

// Cache exposes a non-blocking Get and a blocking GetFresh, and runs its
// own refresh loop once Start is called.
type Cache struct {
	cfg    Config
	fetch  Fetcher
	log    zerolog.Logger
	cached atomic.Pointer[domain.BlockhashSnapshot]

	mu          sync.Mutex
	mode        mode
	lastSlotAt  time.Time
	refreshMu   sync.Mutex // serializes concurrent GetFresh refreshes
}

// New builds a Cache. It starts in poll-only mode until OnSlotUpdate is
// first called.
func New(fetch Fetcher, cfg Config, log zerolog.Logger) *Cache {
	c := &Cache{
		cfg:   cfg.withDefaults(),
		fetch: fetch,
		log:   log.With().Str("component", "blockhash_cache").Logger(),
		mode:  modePollOnly,
	}
	c.cached.Store(&domain.BlockhashSnapshot{})
	return c
}

// Get returns the last cached value without blocking.
func (c *Cache) Get() domain.BlockhashSnapshot {
	return *c.cached.Load()
}

// GetFresh blocks long enough to refresh if the cached value is older
// than maxAge.
func (c *Cache) GetFresh(ctx context.Context, maxAge time.Duration) (domain.BlockhashSnapshot, error) {
	cur := c.Get()
	if time.Since(cur.FetchedAt) <= maxAge {
		return cur, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Re-check: another goroutine may have refreshed while we waited.
	cur = c.Get()
	if time.Since(cur.FetchedAt) <= maxAge {
		return cur, nil
	}

	if err := c.refresh(ctx); err != nil {
		return cur, err
	}
	return c.Get(), nil
}

// refresh fetches a new snapshot and swaps it in if it is not stale
// (fetched_at never regresses; a refresh that returns a stale slot is
// discarded). A failed refresh does not invalidate the cached value.
func (c *Cache) refresh(ctx context.Context) error {
	snap, err := c.fetch(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("blockhash refresh failed, keeping stale value")
		return err
	}

	cur := c.Get()
	if snap.Slot < cur.Slot {
		c.log.Warn().Uint64("stale_slot", snap.Slot).Uint64("cached_slot", cur.Slot).Msg("discarding stale blockhash refresh")
		return nil
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	c.cached.Store(&snap)
	return nil
}

// OnSlotUpdate is called by StreamManager on every slot notification. A
// new blockhash is fetched only when the slot strictly advances past the
// cached one, switching the cache into gRPC-driven mode.
func (c *Cache) OnSlotUpdate(ctx context.Context, slot uint64) {
	c.mu.Lock()
	c.mode = modeGRPCDriven
	c.lastSlotAt = time.Now()
	c.mu.Unlock()

	if slot <= c.Get().Slot {
		return
	}
	_ = c.refresh(ctx)
}

// currentMode returns pollOnly once no slot update has arrived within the
// staleness timeout, re-entering fast polling per spec §4.2.
func (c *Cache) currentMode() mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == modeGRPCDriven && time.Since(c.lastSlotAt) > c.cfg.StalenessTimeout {
		c.mode = modePollOnly
	}
	return c.mode
}

// Start runs the refresh loop until ctx is cancelled. In poll-only mode it
// refreshes every PollInterval; in gRPC-driven mode it only polls at the
// coarser SafetyNetInterval, relying on OnSlotUpdate for the fast path.
func (c *Cache) Start(ctx context.Context) {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_ = c.refresh(ctx)
			if c.currentMode() == modeGRPCDriven {
				timer.Reset(c.cfg.SafetyNetInterval)
			} else {
				timer.Reset(c.cfg.PollInterval)
			}
		}
	}
}
