// Package portfolio maintains the cached mint -> balance view described in
// spec §4.8, reconciling on a schedule and short-circuiting on Geyser
// wallet updates, generalizing the tolerance-based invariant-check idiom
// from the teacher's reconciliation_service.go to a balance cache instead
// of a ledger invariant.
package portfolio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/endpointpool"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/geyser"
	"github.com/aristath/arduino-trader/internal/stream"
)

// splTokenAccountMintOffset and splTokenAccountAmountOffset are the fixed
// byte offsets of the mint pubkey and the u64 token amount within an SPL
// token account, per the well-known token program account layout.
const (
	splTokenAccountMintOffset   = 0
	splTokenAccountAmountOffset = 64
	splTokenAccountMinLen       = 165
)

// FundsReceivedThreshold is the minimum balance increase, in atomic
// units, that triggers a "funds received" event (spec §4.8: "> 1 µunit").
const FundsReceivedThreshold = 1

// Tracker caches mint -> atomic balance for one wallet and reconciles it
// against RPC truth on a schedule. The cache is a sync.Map since readers
// (Snapshot, bot handlers checking funded status) vastly outnumber the
// writers (Reconcile, the Geyser callback).
type Tracker struct {
	wallet solana.PublicKey
	pool   *endpointpool.Pool
	events *events.Manager
	log    zerolog.Logger

	cache   sync.Map // mint (base58) -> uint64 atomic balance; "SOL" for native lamports
	hasGRPC bool
}

// New builds a Tracker for wallet. hasGRPC selects the spec §4.8
// reconciliation cadence (30s without gRPC, 5min with) at the call site
// that registers this tracker's job with the cron scheduler.
func New(wallet solana.PublicKey, pool *endpointpool.Pool, ev *events.Manager, hasGRPC bool, log zerolog.Logger) *Tracker {
	return &Tracker{
		wallet:  wallet,
		pool:    pool,
		events:  ev,
		hasGRPC: hasGRPC,
		log:     log.With().Str("component", "portfolio").Logger(),
	}
}

// HasGRPC reports whether this tracker was configured with a Geyser feed,
// which governs the reconciliation cadence (spec §4.8).
func (t *Tracker) HasGRPC() bool { return t.hasGRPC }

// Balance returns the cached atomic balance for mint (or "SOL" for native
// lamports), 0 if never observed. Used by BotScheduler's grid sell
// reconciliation to clamp against actual wallet holdings.
func (t *Tracker) Balance(mint string) uint64 {
	v, ok := t.cache.Load(mint)
	if !ok {
		return 0
	}
	return v.(uint64)
}

// Snapshot returns a copy of the current cached balances.
func (t *Tracker) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	t.cache.Range(func(k, v any) bool {
		out[k.(string)] = v.(uint64)
		return true
	})
	return out
}

// Reconcile fetches the SOL balance and every SPL token account for the
// wallet, compares against cache, and emits FundsReceived for any mint
// whose balance grew beyond FundsReceivedThreshold.
func (t *Tracker) Reconcile(ctx context.Context) error {
	ep := t.pool.Active()
	if ep == nil {
		return fmt.Errorf("portfolio: no RPC endpoint available")
	}
	client := rpc.New(ep.URL)

	solBalance, err := client.GetBalance(ctx, t.wallet, rpc.CommitmentConfirmed)
	if err != nil {
		t.pool.ReportFailure(ep.URL)
		return fmt.Errorf("portfolio: get SOL balance: %w", err)
	}

	tokenProgram := solana.TokenProgramID
	tokenAccounts, err := client.GetTokenAccountsByOwner(ctx, t.wallet,
		&rpc.GetTokenAccountsConfig{ProgramId: &tokenProgram},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64})
	if err != nil {
		t.pool.ReportFailure(ep.URL)
		return fmt.Errorf("portfolio: get token accounts: %w", err)
	}
	t.pool.ReportSuccess(ep.URL)

	fresh := map[string]uint64{"SOL": solBalance.Value}
	for _, acc := range tokenAccounts.Value {
		data := acc.Account.Data.GetBinary()
		if len(data) < splTokenAccountMinLen {
			continue
		}
		mint := solana.PublicKeyFromBytes(data[splTokenAccountMintOffset : splTokenAccountMintOffset+32]).String()
		amount := binary.LittleEndian.Uint64(data[splTokenAccountAmountOffset : splTokenAccountAmountOffset+8])
		fresh[mint] += amount
	}

	t.applyAndEmit(fresh)
	return nil
}

// applyAndEmit diffs fresh against the cache, emitting FundsReceived for
// any mint whose balance rose by more than FundsReceivedThreshold, then
// stores the fresh values.
func (t *Tracker) applyAndEmit(fresh map[string]uint64) {
	for mint, bal := range fresh {
		var old uint64
		if v, ok := t.cache.Load(mint); ok {
			old = v.(uint64)
		}
		t.cache.Store(mint, bal)
		if bal > old && bal-old > FundsReceivedThreshold {
			t.events.Emit(events.FundsReceived, "portfolio", map[string]interface{}{
				"mint":  mint,
				"delta": bal - old,
				"total": bal,
			})
		}
	}
}

// OnWalletAccountUpdate decodes a Geyser account update for the tracked
// wallet and short-circuits the SOL diff path (spec §4.8: "the next
// scheduled reconciliation still runs for token balances"). It is meant
// to be registered against stream.Manager.SubscribeAccount(wallet).
func (t *Tracker) OnWalletAccountUpdate(u geyser.Update) {
	if u.Kind != geyser.UpdateAccount || u.Account == nil {
		return
	}
	if u.Account.Pubkey != t.wallet.String() {
		return
	}

	var old uint64
	if v, ok := t.cache.Load("SOL"); ok {
		old = v.(uint64)
	}
	fresh := u.Account.Lamports
	t.cache.Store("SOL", fresh)

	if fresh > old && fresh-old > FundsReceivedThreshold {
		t.events.Emit(events.FundsReceived, "portfolio", map[string]interface{}{
			"mint":  "SOL",
			"delta": fresh - old,
			"total": fresh,
		})
	}
}

// Subscribe registers the tracker's wallet-account callback with mgr, per
// internal/registry's StreamConsumer wiring convention.
func (t *Tracker) Subscribe(ctx context.Context, mgr *stream.Manager) {
	mgr.SubscribeAccount(ctx, t.wallet.String(), t.OnWalletAccountUpdate)
}

// Name identifies this tracker as a registry.Service.
func (t *Tracker) Name() string { return "portfolio_tracker" }

// Start satisfies registry.Service; reconciliation is driven externally
// by the cron scheduler, so Start only warms the cache once.
func (t *Tracker) Start(ctx context.Context) error {
	return t.Reconcile(ctx)
}

// Stop satisfies registry.Service; the tracker holds no background
// goroutine of its own.
func (t *Tracker) Stop(ctx context.Context) error { return nil }
