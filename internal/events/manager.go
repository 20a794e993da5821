// Package events provides the notification sink used by bot handlers to
// surface state transitions (circuit breaker, stop-loss, trailing, pending
// confirmation) without owning the outbound transport: spec scopes
// Discord/webhook delivery out as an external collaborator, so Manager
// only emits structured log records a transport can tail.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types emitted by the engine.
type EventType string

const (
	ErrorOccurred            EventType = "ERROR_OCCURRED"
	BotCreated               EventType = "BOT_CREATED"
	BotCircuitBreaker        EventType = "BOT_CIRCUIT_BREAKER"
	BotCompleted             EventType = "BOT_COMPLETED"
	BotStopLoss              EventType = "BOT_STOP_LOSS"
	BotTakeProfit            EventType = "BOT_TAKE_PROFIT"
	BotTrailingActive        EventType = "BOT_TRAILING_ACTIVE"
	BotGridSellFilled        EventType = "BOT_GRID_SELL_FILLED"
	BotGridBuyFilled         EventType = "BOT_GRID_BUY_FILLED"
	BotPerformanceUpdate     EventType = "BOT_PERFORMANCE_UPDATE"
	TradeConfirmationPending EventType = "TRADE_CONFIRMATION_PENDING"
	TradeExecuted            EventType = "TRADE_EXECUTED"
	EndpointDemoted          EventType = "ENDPOINT_DEMOTED"
	EndpointPromoted         EventType = "ENDPOINT_PROMOTED"
	FundsReceived            EventType = "FUNDS_RECEIVED"
)

// Event is a single emitted notification.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission and logging.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a new event manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit emits an event.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("event emitted")
}

// EmitError emits an error event.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
