package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
)

// BotStore persists bot rows as a (status column, two JSON blobs) row per
// spec §3, the same "typed columns + JSON payload" shape the teacher's
// repository layer uses for its Security/Position rows.
type BotStore struct {
	db  *DB
	log zerolog.Logger
}

// NewBotStore wraps db as a scheduler.BotStore.
func NewBotStore(db *DB, log zerolog.Logger) *BotStore {
	return &BotStore{db: db, log: log.With().Str("component", "bot_store").Logger()}
}

// ListActiveBots returns every bot row not in a terminal status.
func (s *BotStore) ListActiveBots(ctx context.Context) ([]domain.Bot, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, type, input_mint, output_mint, status, config_json, state_json, created_at, updated_at
		FROM bots WHERE status != ?`, string(domain.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("database: list active bots: %w", err)
	}
	defer rows.Close()

	var out []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveBot upserts b's row, re-serializing its config and state blobs.
func (s *BotStore) SaveBot(ctx context.Context, b domain.Bot) error {
	configJSON, err := json.Marshal(b.Config)
	if err != nil {
		return fmt.Errorf("database: marshal bot config: %w", err)
	}
	stateJSON, err := json.Marshal(b.State)
	if err != nil {
		return fmt.Errorf("database: marshal bot state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO bots (id, type, input_mint, output_mint, status, config_json, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			config_json = excluded.config_json,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		b.ID, string(b.Type), b.InputMint, b.OutputMint, string(b.State.Status), string(configJSON), string(stateJSON), now, now)
	if err != nil {
		return fmt.Errorf("database: save bot %s: %w", b.ID, err)
	}
	return nil
}

func scanBot(rows *sql.Rows) (domain.Bot, error) {
	var (
		b                      domain.Bot
		typ, status            string
		configJSON, stateJSON  string
		createdAt, updatedAt   string
	)
	if err := rows.Scan(&b.ID, &typ, &b.InputMint, &b.OutputMint, &status, &configJSON, &stateJSON, &createdAt, &updatedAt); err != nil {
		return domain.Bot{}, fmt.Errorf("database: scan bot row: %w", err)
	}
	b.Type = domain.BotType(typ)
	if err := json.Unmarshal([]byte(configJSON), &b.Config); err != nil {
		return domain.Bot{}, fmt.Errorf("database: unmarshal bot config for %s: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &b.State); err != nil {
		return domain.Bot{}, fmt.Errorf("database: unmarshal bot state for %s: %w", b.ID, err)
	}
	b.State.Status = domain.BotStatus(status)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		b.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		b.UpdatedAt = t
	}
	return b, nil
}

// TradeStore appends executor.Result trade rows (spec §3's append-only
// Trade Record) and is also the historical source for the cooldown/volume
// rollups TradeGuard keeps in memory.
type TradeStore struct {
	db *DB
}

// NewTradeStore wraps db as an executor.TradeRecorder.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

// RecordTrade appends t.
func (s *TradeStore) RecordTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO trades (id, input_mint, output_mint, input_symbol, output_symbol, amount_in, amount_out,
			usd_value, slippage_bps, priority_fee_lamports, signature, source, status, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.InputMint, t.OutputMint, t.InputSymbol, t.OutputSymbol, t.AmountIn, t.AmountOut,
		t.USDValue, t.SlippageBps, t.PriorityFee, t.Signature, t.Source, string(t.Status), t.ExecutedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("database: record trade %s: %w", t.ID, err)
	}
	return nil
}

// DecimalsFetcher is the RPC fallback a cache miss falls through to
// (chainaccounts.Fetcher in production).
type DecimalsFetcher interface {
	Decimals(ctx context.Context, mint string) (uint8, error)
}

// TokenStore caches mint metadata in the tokens table (spec §3: "lazily
// populated and cached"), falling back to fetch on a cache miss.
type TokenStore struct {
	db    *DB
	fetch DecimalsFetcher
}

// NewTokenStore wraps db as an executor.DecimalsResolver, falling back to
// fetch on a cache miss.
func NewTokenStore(db *DB, fetch DecimalsFetcher) *TokenStore {
	return &TokenStore{db: db, fetch: fetch}
}

// Decimals returns mint's cached decimals, fetching and persisting on a
// miss.
func (s *TokenStore) Decimals(ctx context.Context, mint string) (uint8, error) {
	var decimals uint8
	err := s.db.conn.QueryRowContext(ctx, `SELECT decimals FROM tokens WHERE mint = ?`, mint).Scan(&decimals)
	if err == nil {
		return decimals, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("database: lookup decimals for %s: %w", mint, err)
	}

	decimals, err = s.fetch.Decimals(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("database: resolve decimals for %s: %w", mint, err)
	}

	_, insErr := s.db.conn.ExecContext(ctx, `
		INSERT INTO tokens (mint, decimals, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(mint) DO UPDATE SET decimals = excluded.decimals, fetched_at = excluded.fetched_at`,
		mint, decimals, time.Now().UTC().Format(time.RFC3339))
	if insErr != nil {
		// The resolved value is still good to return; caching is best-effort.
		return decimals, nil
	}
	return decimals, nil
}

// OHLCVStore answers VWAP's recent per-bucket volume from the ohlcv_cache
// table (spec §6's ohlcv_cache collection).
type OHLCVStore struct {
	db *DB
}

// NewOHLCVStore wraps db as a scheduler.VolumeSource.
func NewOHLCVStore(db *DB) *OHLCVStore {
	return &OHLCVStore{db: db}
}

// RecentBucketVolumes returns every cached bucket's volume for mint within
// lookback of now, ordered oldest first. The bucket timeframe column
// ("15m" or "1h") is chosen the same way the VWAP weighting formula picks
// its bucket width: 15-minute buckets under a 4h lookback, hourly at or
// above it.
func (s *OHLCVStore) RecentBucketVolumes(ctx context.Context, mint string, lookback time.Duration) ([]float64, error) {
	timeframe := "1h"
	if lookback < 4*time.Hour {
		timeframe = "15m"
	}
	since := time.Now().UTC().Add(-lookback).Format(time.RFC3339)

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT volume FROM ohlcv_cache
		WHERE mint = ? AND timeframe = ? AND bucket_start >= ?
		ORDER BY bucket_start ASC`, mint, timeframe, since)
	if err != nil {
		return nil, fmt.Errorf("database: recent bucket volumes for %s: %w", mint, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("database: scan bucket volume: %w", err)
		}
		out = append(out, v.Float64)
	}
	return out, rows.Err()
}

// ArbPairStore answers the arb engine's enabled-pair list from the
// arb_pairs table.
type ArbPairStore struct {
	db *DB
}

// NewArbPairStore wraps db as an arb.Store.
func NewArbPairStore(db *DB) *ArbPairStore {
	return &ArbPairStore{db: db}
}

// ListEnabledArbPairs returns every row with enabled = 1.
func (s *ArbPairStore) ListEnabledArbPairs(ctx context.Context) ([]domain.ArbPair, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, mint, venue_a, venue_b, spread_bps_threshold, enabled
		FROM arb_pairs WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("database: list enabled arb pairs: %w", err)
	}
	defer rows.Close()

	var out []domain.ArbPair
	for rows.Next() {
		var p domain.ArbPair
		var enabled int
		if err := rows.Scan(&p.ID, &p.Mint, &p.VenueA, &p.VenueB, &p.SpreadBpsThreshold, &enabled); err != nil {
			return nil, fmt.Errorf("database: scan arb pair row: %w", err)
		}
		p.Enabled = enabled != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// LimitOrderStore tracks LIMIT_GRID's own placed order IDs in a local
// ledger table. No real third-party limit-order API shape for Jupiter's
// aggregator appears anywhere in the retrieved corpus to ground a wire
// format against, so PlaceLimitOrder/OpenOrderIDs model the order book
// directly: an order placed here is "open" until something marks it
// filled. This is a stdlib/DB-only stand-in; no aggregator-backed limit
// order service is called.
type LimitOrderStore struct {
	db *DB
}

// NewLimitOrderStore wraps db as a scheduler.LimitOrderBook.
func NewLimitOrderStore(db *DB) *LimitOrderStore {
	return &LimitOrderStore{db: db}
}

// OpenOrderIDs returns the set of this bot's order IDs still marked open.
func (s *LimitOrderStore) OpenOrderIDs(ctx context.Context, botID string) (map[string]bool, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id FROM limit_orders WHERE bot_id = ? AND status = 'open'`, botID)
	if err != nil {
		return nil, fmt.Errorf("database: open order ids for bot %s: %w", botID, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("database: scan open order id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// PlaceLimitOrder records a new open order for botID and returns its ID.
func (s *LimitOrderStore) PlaceLimitOrder(ctx context.Context, botID string, side string, price, amount float64) (string, error) {
	id := uuid.NewString()
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO limit_orders (id, bot_id, side, price, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'open', ?)`,
		id, botID, side, price, amount, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("database: place limit order for bot %s: %w", botID, err)
	}
	return id, nil
}
