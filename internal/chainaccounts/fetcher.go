// Package chainaccounts is the one concrete RPC-backed implementation of
// pumpfun.AccountFetcher and the decimals-lookup path internal/database's
// DecimalsFetcher falls back to: a thin wrapper around
// github.com/gagliardetto/solana-go/rpc's Client.GetAccountInfo, the same
// well-known method of the already-grounded RPC subpackage used by
// internal/executor's RPCSubmitter and internal/portfolio's Tracker.
package chainaccounts

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/endpointpool"
)

// splMintDecimalsOffset is the fixed byte offset of the decimals field
// within an SPL Mint account: 4-byte COption tag + 32-byte authority
// pubkey + 8-byte u64 supply = 44.
const splMintDecimalsOffset = 44

// Fetcher reads account data from whichever RPC endpoint in pool is
// currently active, reporting failures back to the pool so a flaky
// endpoint gets demoted (spec §4.1).
type Fetcher struct {
	pool *endpointpool.Pool
}

// New builds a Fetcher over pool.
func New(pool *endpointpool.Pool) *Fetcher {
	return &Fetcher{pool: pool}
}

// GetAccountData returns the raw account bytes for pubkey, satisfying
// pumpfun.AccountFetcher.
func (f *Fetcher) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	ep := f.pool.Active()
	if ep == nil {
		return nil, fmt.Errorf("chainaccounts: no RPC endpoint available")
	}

	info, err := rpc.New(ep.URL).GetAccountInfo(ctx, pubkey)
	if err != nil {
		f.pool.ReportFailure(ep.URL)
		return nil, fmt.Errorf("chainaccounts: get account info for %s: %w", pubkey, err)
	}
	f.pool.ReportSuccess(ep.URL)
	if info == nil || info.Value == nil {
		return nil, nil
	}
	return info.Value.Data.GetBinary(), nil
}

// RPCProber is an endpointpool.Prober against a plain JSON-RPC endpoint:
// a cheap getSlot call, the lightweight liveness check endpointpool.Prober
// describes for RPC pools.
func RPCProber(ctx context.Context, url string) error {
	_, err := rpc.New(url).GetSlot(ctx, rpc.CommitmentConfirmed)
	return err
}

// BlockhashFetcher is a blockhash.Fetcher backed by pool: it asks the
// active RPC endpoint for the latest blockhash via the same well-known
// rpc.Client already grounded above.
func BlockhashFetcher(pool *endpointpool.Pool) func(ctx context.Context) (domain.BlockhashSnapshot, error) {
	return func(ctx context.Context) (domain.BlockhashSnapshot, error) {
		ep := pool.Active()
		if ep == nil {
			return domain.BlockhashSnapshot{}, fmt.Errorf("chainaccounts: no RPC endpoint available")
		}
		out, err := rpc.New(ep.URL).GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			pool.ReportFailure(ep.URL)
			return domain.BlockhashSnapshot{}, fmt.Errorf("chainaccounts: get latest blockhash: %w", err)
		}
		pool.ReportSuccess(ep.URL)
		return domain.BlockhashSnapshot{
			Blockhash:            out.Value.Blockhash.String(),
			LastValidBlockHeight: out.Value.LastValidBlockHeight,
			Slot:                 out.Context.Slot,
		}, nil
	}
}

// Decimals reads a token mint's decimals field directly out of the Mint
// account bytes.
func (f *Fetcher) Decimals(ctx context.Context, mint string) (uint8, error) {
	pub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("chainaccounts: parse mint %s: %w", mint, err)
	}
	data, err := f.GetAccountData(ctx, pub)
	if err != nil {
		return 0, err
	}
	if len(data) <= splMintDecimalsOffset {
		return 0, fmt.Errorf("chainaccounts: mint account %s too short to hold a decimals field", mint)
	}
	return data[splMintDecimalsOffset], nil
}
