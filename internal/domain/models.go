// Package domain holds the plain-struct record types shared across the
// engine and the row store: bots, trades, endpoints, blockhash snapshots
// and the supporting lookups.
package domain

import "time"

// BotType is the strategy kind a Bot row runs.
type BotType string

const (
	BotGrid      BotType = "GRID"
	BotDCA       BotType = "DCA"
	BotTWAP      BotType = "TWAP"
	BotVWAP      BotType = "VWAP"
	BotLimitGrid BotType = "LIMIT_GRID"
)

// BotStatus is the authoritative lifecycle column for a Bot row.
// The JSON state blob persisted alongside it is a serialization detail
// only and is never read back for status.
type BotStatus string

const (
	StatusActive    BotStatus = "active"
	StatusPaused    BotStatus = "paused"
	StatusCompleted BotStatus = "completed"
)

// CompletionReason records why a bot transitioned to completed.
type CompletionReason string

const (
	ReasonNone       CompletionReason = ""
	ReasonStopLoss   CompletionReason = "stop_loss"
	ReasonTakeProfit CompletionReason = "take_profit"
	ReasonMaxRuns    CompletionReason = "max_runs"
)

// GridLevel is one rung of a GRID/LIMIT_GRID bot.
type GridLevel struct {
	Price       float64 `json:"price"`
	HasPosition bool    `json:"has_position"`
	TokenAmount float64 `json:"token_amount"`
	CostUSD     float64 `json:"cost_usd"`
	OrderID     string  `json:"order_id,omitempty"`
}

// BotConfig is the immutable-unless-edited configuration half of a Bot row.
type BotConfig struct {
	Interval           time.Duration   `json:"interval"`
	MaxRuns            int             `json:"max_runs"`
	Amount             float64         `json:"amount"`
	TakeProfitPct      float64         `json:"take_profit_pct"`
	TakeProfitYieldUSD float64         `json:"take_profit_yield_usd"`
	GridLowerBound     float64         `json:"grid_lower_bound"`
	GridUpperBound     float64         `json:"grid_upper_bound"`
	GridSteps          int             `json:"grid_steps"`
	AmountPerLevel     float64         `json:"amount_per_level"`
	AllocationUSD      map[int]float64 `json:"allocation_usd,omitempty"` // per-level override, keyed by level index
	TrailingEnabled    bool            `json:"trailing_enabled"`
	HysteresisPct      float64         `json:"hysteresis_pct"`
	StopLossPrice      float64         `json:"stop_loss_price"`
	LookbackWindow     time.Duration   `json:"lookback_window"` // VWAP
}

// BotState is the mutable half of a Bot row, evolved only by the scheduler
// under the bot's per-bot lock.
type BotState struct {
	Status              BotStatus        `json:"status"`
	CompletionReason     CompletionReason `json:"completion_reason,omitempty"`
	RunCount            int              `json:"run_count"`
	TotalBought         float64          `json:"total_bought"`
	TotalCost           float64          `json:"total_cost"`
	ProfitRealized      float64          `json:"profit_realized"`
	GridYield           float64          `json:"grid_yield"`
	NextRun             time.Time        `json:"next_run"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	MonitoringProfit    bool             `json:"monitoring_profit"`
	Levels              []GridLevel      `json:"levels,omitempty"`
	LastPerfUpdate      time.Time        `json:"-"`
}

// AvgBuyPrice computes total_cost / total_bought, or zero if nothing bought.
func (s *BotState) AvgBuyPrice() float64 {
	if s.TotalBought == 0 {
		return 0
	}
	return s.TotalCost / s.TotalBought
}

// Bot is one row per strategy instance (spec §3).
type Bot struct {
	ID         string    `json:"id"`
	Type       BotType   `json:"type"`
	InputMint  string    `json:"input_mint"`
	OutputMint string    `json:"output_mint"`
	Config     BotConfig `json:"config"`
	State      BotState  `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Mint carries lazily-populated, cached token metadata.
type Mint struct {
	Address         string    `json:"address"`
	Symbol          string    `json:"symbol"`
	Decimals        uint8     `json:"decimals"`
	LogoURI         string    `json:"logo_uri"`
	FreezeAuthority string    `json:"freeze_authority,omitempty"`
	MintAuthority   string    `json:"mint_authority,omitempty"`
	RugFlag         bool      `json:"rug_flag"`
	SocialsPresent  bool      `json:"socials_present"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Endpoint is one entry in an EndpointPool's ordered list (spec §3, §4.1).
type Endpoint struct {
	URL                 string    `json:"url"`
	Label               string    `json:"label"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	LastSuccessTime     time.Time `json:"last_success_time"`
	RecoveryProbes      int       `json:"-"` // successful probes since demotion; pool-internal
}

// BlockhashSnapshot is the cached (blockhash, lastValidBlockHeight, slot)
// tuple; monotonically replaced (spec §3, §4.2).
type BlockhashSnapshot struct {
	Blockhash            string    `json:"blockhash"`
	LastValidBlockHeight uint64    `json:"last_valid_block_height"`
	Slot                 uint64    `json:"slot"`
	FetchedAt            time.Time `json:"fetched_at"`
}

// TradeStatus is the outcome of an append-only Trade Record.
type TradeStatus string

const (
	TradeSucceeded TradeStatus = "succeeded"
	TradeFailed    TradeStatus = "failed"
)

// Trade is an append-only executed-or-attempted trade record (spec §3).
type Trade struct {
	ID           string      `json:"id"`
	InputMint    string      `json:"input_mint"`
	OutputMint   string      `json:"output_mint"`
	InputSymbol  string      `json:"input_symbol"`
	OutputSymbol string      `json:"output_symbol"`
	AmountIn     float64     `json:"amount_in"`
	AmountOut    float64     `json:"amount_out"`
	USDValue     float64     `json:"usd_value"`
	SlippageBps  int         `json:"slippage_bps"`
	PriorityFee  uint64      `json:"priority_fee_lamports"`
	Signature    string      `json:"signature,omitempty"`
	Source       string      `json:"source"`
	Status       TradeStatus `json:"status"`
	ExecutedAt   time.Time   `json:"executed_at"`
}

// DailyVolume is the per-date rollup used by TradeGuard's daily-limit check.
type DailyVolume struct {
	Date       string  `json:"date"` // YYYY-MM-DD
	VolumeUSD  float64 `json:"volume_usd"`
	TradeCount int     `json:"trade_count"`
}

// PendingConfirmation is a short-lived confirmation token issued by
// TradeGuard.validate for trades at or above the confirmation threshold.
type PendingConfirmation struct {
	ID          string    `json:"id"`
	InputMint   string    `json:"input_mint"`
	OutputMint  string    `json:"output_mint"`
	Amount      float64   `json:"amount"`
	USDValue    float64   `json:"usd_value"`
	SlippageBps int       `json:"slippage_bps"`
	Source      string    `json:"source"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ArbPair is a monitored cross-venue price pair for the adjacent ArbEngine.
type ArbPair struct {
	ID                 string `json:"id"`
	Mint               string `json:"mint"`
	VenueA             string `json:"venue_a"`
	VenueB             string `json:"venue_b"`
	SpreadBpsThreshold int    `json:"spread_bps_threshold"`
	Enabled            bool   `json:"enabled"`
}

// SniperSettings backs TradeGuard.validate_sniper / validate_token_safety.
type SniperSettings struct {
	MaxAmountSOL     float64 `json:"max_amount_sol"`
	MaxSlippagePct   float64 `json:"max_slippage_pct"`
	RequireRenounced bool    `json:"require_renounced_mint"`
	RequireNoFreeze  bool    `json:"require_no_freeze"`
	RequireSocials   bool    `json:"require_socials"`
}
