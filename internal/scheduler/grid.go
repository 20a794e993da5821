package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
)

// evaluateGrid runs one GRID tick at price p against bot b, mutating b in
// place (spec §4.7.1).
func (s *BotScheduler) evaluateGrid(ctx context.Context, b *domain.Bot, p float64) error {
	// 1. Circuit breaker.
	if b.State.ConsecutiveFailures >= 3 {
		b.State.Status = domain.StatusPaused
		s.notify(events.BotCircuitBreaker, b, map[string]interface{}{"price": p})
		return nil
	}

	// 2. Stop-loss.
	if b.Config.StopLossPrice > 0 && p <= b.Config.StopLossPrice {
		b.State.Status = domain.StatusCompleted
		b.State.CompletionReason = domain.ReasonStopLoss
		s.notify(events.BotStopLoss, b, map[string]interface{}{"price": p})
		return nil
	}

	// 3. Take-profit on realized yield.
	if b.Config.TakeProfitYieldUSD > 0 && b.State.GridYield >= b.Config.TakeProfitYieldUSD {
		b.State.Status = domain.StatusCompleted
		b.State.CompletionReason = domain.ReasonTakeProfit
		s.notify(events.BotTakeProfit, b, map[string]interface{}{"grid_yield": b.State.GridYield})
		return nil
	}

	hysteresis := p * b.Config.HysteresisPct
	transitioned := false

	for i := range b.State.Levels {
		lvl := &b.State.Levels[i]

		switch {
		case p >= lvl.Price+hysteresis && lvl.HasPosition:
			if s.gridSell(ctx, b, lvl, p) {
				transitioned = true
			}
		case p <= lvl.Price-hysteresis && !lvl.HasPosition:
			if s.gridBuy(ctx, b, lvl, i) {
				transitioned = true
			}
		}
	}

	// 5. Trailing.
	if transitioned && b.Config.TrailingEnabled && p >= b.Config.GridUpperBound {
		s.shiftGrid(b)
		s.notify(events.BotTrailingActive, b, map[string]interface{}{"price": p})
	}

	return nil
}

// gridSell executes lvl's sell trigger, reconciling against the wallet's
// on-chain balance of the output mint before executing (spec §4.7.1
// step 4, sell trigger).
func (s *BotScheduler) gridSell(ctx context.Context, b *domain.Bot, lvl *domain.GridLevel, p float64) bool {
	tokenAmount := lvl.TokenAmount
	if s.wallet != nil {
		onChainUnits := s.wallet.Balance(b.OutputMint)
		onChain := float64(onChainUnits) // atomic units; callers compare in the same unit as TokenAmount once decimals are applied upstream
		if onChain < tokenAmount {
			tokenAmount = onChain
		}
		if tokenAmount <= 0 {
			lvl.HasPosition = false
			return false
		}
	}

	result, err := s.trader.ExecuteSwap(ctx, b.OutputMint, b.InputMint, tokenAmount, defaultSlippageBps, 0, fmt.Sprintf("grid:%s", b.ID))
	if err != nil {
		b.State.ConsecutiveFailures++
		return false
	}

	b.State.GridYield += result.USDValue - lvl.CostUSD
	lvl.HasPosition = false
	lvl.TokenAmount = 0
	lvl.CostUSD = 0
	b.State.ConsecutiveFailures = 0
	b.State.RunCount++
	s.notify(events.BotGridSellFilled, b, map[string]interface{}{"price": p, "level_price": lvl.Price})
	return true
}

// gridBuy executes lvl's buy trigger, spending a per-level allocation
// override if configured, otherwise amount_per_level (spec §4.7.1 step 4,
// buy trigger).
func (s *BotScheduler) gridBuy(ctx context.Context, b *domain.Bot, lvl *domain.GridLevel, levelIndex int) bool {
	spend := b.Config.AmountPerLevel
	if override, ok := b.Config.AllocationUSD[levelIndex]; ok {
		spend = override
	}

	result, err := s.trader.ExecuteSwap(ctx, b.InputMint, b.OutputMint, spend, defaultSlippageBps, 0, fmt.Sprintf("grid:%s", b.ID))
	if err != nil {
		b.State.ConsecutiveFailures++
		return false
	}

	lvl.HasPosition = true
	lvl.TokenAmount = result.AmountOut
	lvl.CostUSD = result.USDValue
	b.State.ConsecutiveFailures = 0
	s.notify(events.BotGridBuyFilled, b, map[string]interface{}{"level_price": lvl.Price})
	return true
}

// shiftGrid moves every level, and the grid's bounds, up by one step
// (spec §4.7.1 step 5).
func (s *BotScheduler) shiftGrid(b *domain.Bot) {
	if b.Config.GridSteps <= 0 {
		return
	}
	step := (b.Config.GridUpperBound - b.Config.GridLowerBound) / float64(b.Config.GridSteps)
	b.Config.GridLowerBound += step
	b.Config.GridUpperBound += step
	for i := range b.State.Levels {
		b.State.Levels[i].Price += step
	}
}

// SeedGrid performs the initial aggregate buy for a newly created grid
// bot (spec §4.7.1, "Initial seeding"): levels above the current price
// are marked positioned by a single aggregate buy, apportioned evenly. If
// the seed buy fails, those levels revert to has_position=false (levels at
// or below the price are left as they are) and the bot continues in
// buy-only mode.
func (s *BotScheduler) SeedGrid(ctx context.Context, b *domain.Bot, currentPrice float64) error {
	var sellLevels []int
	for i, lvl := range b.State.Levels {
		if lvl.Price > currentPrice {
			sellLevels = append(sellLevels, i)
		}
	}
	if len(sellLevels) == 0 {
		return nil
	}

	totalSpend := b.Config.AmountPerLevel * float64(len(sellLevels))
	result, err := s.trader.ExecuteSwap(ctx, b.InputMint, b.OutputMint, totalSpend, defaultSlippageBps, 0, fmt.Sprintf("grid:%s:seed", b.ID))
	if err != nil {
		for _, i := range sellLevels {
			b.State.Levels[i].HasPosition = false
			b.State.Levels[i].TokenAmount = 0
			b.State.Levels[i].CostUSD = 0
		}
		return nil
	}

	perLevelTokens := result.AmountOut / float64(len(sellLevels))
	perLevelCost := result.USDValue / float64(len(sellLevels))
	for _, i := range sellLevels {
		b.State.Levels[i].HasPosition = true
		b.State.Levels[i].TokenAmount = perLevelTokens
		b.State.Levels[i].CostUSD = perLevelCost
	}
	return nil
}
