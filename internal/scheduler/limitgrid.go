package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
)

// LimitOrderBook answers which of a bot's own order IDs are still open
// against the aggregator's limit-order service (spec §4.7.3: "fetch open
// orders").
type LimitOrderBook interface {
	OpenOrderIDs(ctx context.Context, botID string) (map[string]bool, error)
	PlaceLimitOrder(ctx context.Context, botID string, side string, price, amount float64) (orderID string, err error)
}

// evaluateLimitGrid runs one LIMIT_GRID tick (spec §4.7.3): any level
// whose previously-recorded order_id is no longer open has filled; flip
// sell levels to buy mode and buy levels to sell mode. Falls back to the
// plain GRID rules (hysteresis trigger + market order) when no
// LimitOrderBook is wired, so the bot still makes progress.
func (s *BotScheduler) evaluateLimitGrid(ctx context.Context, b *domain.Bot, p float64) error {
	if s.orderBook == nil {
		return s.evaluateGrid(ctx, b, p)
	}

	if b.State.ConsecutiveFailures >= 3 {
		b.State.Status = domain.StatusPaused
		s.notify(events.BotCircuitBreaker, b, map[string]interface{}{"price": p})
		return nil
	}
	if b.Config.StopLossPrice > 0 && p <= b.Config.StopLossPrice {
		b.State.Status = domain.StatusCompleted
		b.State.CompletionReason = domain.ReasonStopLoss
		s.notify(events.BotStopLoss, b, map[string]interface{}{"price": p})
		return nil
	}

	open, err := s.orderBook.OpenOrderIDs(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("limit_grid: fetch open orders: %w", err)
	}

	for i := range b.State.Levels {
		lvl := &b.State.Levels[i]
		if lvl.OrderID == "" || open[lvl.OrderID] {
			continue
		}

		// lvl.OrderID was open last tick and is gone now: it filled.
		if lvl.HasPosition {
			orderID, err := s.orderBook.PlaceLimitOrder(ctx, b.ID, "buy", lvl.Price, b.Config.AmountPerLevel)
			if err != nil {
				b.State.ConsecutiveFailures++
				continue
			}
			lvl.OrderID = orderID
			lvl.HasPosition = false
			lvl.TokenAmount = 0
			lvl.CostUSD = 0
			b.State.ConsecutiveFailures = 0
			b.State.RunCount++
			s.notify(events.BotGridSellFilled, b, map[string]interface{}{"level_price": lvl.Price})
		} else {
			expectedTokens := b.Config.AmountPerLevel / lvl.Price
			orderID, err := s.orderBook.PlaceLimitOrder(ctx, b.ID, "sell", lvl.Price, expectedTokens)
			if err != nil {
				b.State.ConsecutiveFailures++
				continue
			}
			lvl.OrderID = orderID
			lvl.HasPosition = true
			lvl.TokenAmount = expectedTokens
			lvl.CostUSD = b.Config.AmountPerLevel
			b.State.ConsecutiveFailures = 0
			s.notify(events.BotGridBuyFilled, b, map[string]interface{}{"level_price": lvl.Price})
		}
	}

	return nil
}
