// Package stream fans out a single gRPC/Geyser subscription to many
// in-process subscribers (spec §4.3). It is built the way
// joeycumines-go-utilpkg/fangrpcstream wraps a bidirectional gRPC stream:
// a bigbuff.Notifier publishes every inbound update to per-key subscriber
// channels without a goroutine per publish.
package stream

import (
	"context"
	"sync"
	"time"

	bigbuff "github.com/joeycumines/go-bigbuff"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/geyser"
)

// Callback receives one update. Per spec §4.3, callbacks "run on the
// manager's executor and must not block" and "must be idempotent" since a
// single missed update is tolerated across a reconnect.
type Callback func(geyser.Update)

// Dialer opens a geyser.Client; injected so tests can supply a fake.
type Dialer func(ctx context.Context) (geyser.Client, error)

// Manager owns the long-lived subscription and fans updates out via a
// bigbuff.Notifier, keyed by subscription key ("slot", "account:<pubkey>",
// "program:<id>", "tx:<account>").
type Manager struct {
	dial Dialer

	mu      sync.Mutex
	filters geyser.Filters

	notifier bigbuff.Notifier
	log      zerolog.Logger

	backoffMin time.Duration
	backoffMax time.Duration
}

// New builds a Manager against the given dial function.
func New(dial Dialer, log zerolog.Logger) *Manager {
	return &Manager{
		dial:       dial,
		log:        log.With().Str("component", "stream_manager").Logger(),
		backoffMin: time.Second,
		backoffMax: 30 * time.Second,
	}
}

// subscribe registers cb against key: it creates a forwarding channel,
// attaches it to the notifier under key, and spawns one goroutine that
// forwards arriving values to cb until ctx is cancelled.
func (m *Manager) subscribe(ctx context.Context, key string, cb Callback) {
	ch := make(chan geyser.Update, 16)
	cancel := m.notifier.SubscribeCancel(ctx, key, ch)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-ch:
				if !ok {
					return
				}
				m.safeInvoke(cb, u)
			}
		}
	}()
}

func (m *Manager) safeInvoke(cb Callback, u geyser.Update) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("stream callback panicked")
		}
	}()
	cb(u)
}

// SubscribeSlots registers cb for slot updates, active until ctx ends.
func (m *Manager) SubscribeSlots(ctx context.Context, cb Callback) {
	m.mu.Lock()
	m.filters.WantSlots = true
	m.mu.Unlock()
	m.subscribe(ctx, "slot", cb)
}

// SubscribeAccount registers cb for updates to a specific account.
func (m *Manager) SubscribeAccount(ctx context.Context, pubkey string, cb Callback) {
	m.mu.Lock()
	m.filters.Accounts = appendUnique(m.filters.Accounts, pubkey)
	m.mu.Unlock()
	m.subscribe(ctx, "account:"+pubkey, cb)
}

// SubscribeProgram registers cb for updates to accounts owned by program.
func (m *Manager) SubscribeProgram(ctx context.Context, program string, cb Callback) {
	m.mu.Lock()
	m.filters.Programs = appendUnique(m.filters.Programs, program)
	m.mu.Unlock()
	m.subscribe(ctx, "program:"+program, cb)
}

// SubscribeTransactions registers cb for transactions touching account.
func (m *Manager) SubscribeTransactions(ctx context.Context, account string, cb Callback) {
	m.mu.Lock()
	m.filters.TxAccounts = appendUnique(m.filters.TxAccounts, account)
	m.mu.Unlock()
	m.subscribe(ctx, "tx:"+account, cb)
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

// Run dials, subscribes, and dispatches updates until ctx is cancelled.
// On stream error it reconnects with exponential backoff capped at 30s;
// since the filter set (built up by Subscribe*) is re-sent on every
// dial, reconnection automatically re-subscribes every registered key.
func (m *Manager) Run(ctx context.Context) {
	backoff := m.backoffMin

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client, err := m.dial(ctx)
		if err != nil {
			m.log.Warn().Err(err).Dur("backoff", backoff).Msg("geyser dial failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.backoffMax)
			continue
		}

		m.mu.Lock()
		filters := m.filters
		m.mu.Unlock()

		updates, err := client.Subscribe(ctx, filters)
		if err != nil {
			_ = client.Close()
			m.log.Warn().Err(err).Dur("backoff", backoff).Msg("geyser subscribe failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.backoffMax)
			continue
		}

		backoff = m.backoffMin
		m.drain(ctx, updates)

		_ = client.Close()
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.log.Info().Msg("geyser stream closed, reconnecting")
	}
}

// drain reads updates until the channel closes (stream error/EOF) or ctx
// is cancelled, publishing each one to its key's subscribers in arrival
// order (no ordering guarantee is made across distinct keys).
func (m *Manager) drain(ctx context.Context, updates <-chan geyser.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			m.notifier.PublishContext(ctx, m.keyFor(u), u)
			if u.Kind == geyser.UpdateAccount && u.Account != nil && u.Account.Owner != "" {
				m.notifier.PublishContext(ctx, "program:"+u.Account.Owner, u)
			}
		}
	}
}

func (m *Manager) keyFor(u geyser.Update) string {
	switch u.Kind {
	case geyser.UpdateSlot:
		return "slot"
	case geyser.UpdateAccount:
		if u.Account != nil {
			return "account:" + u.Account.Pubkey
		}
	case geyser.UpdateTransaction:
		if u.Transaction != nil {
			return "tx:" + u.Transaction.Signature
		}
	}
	return ""
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
