package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/pkg/formulas"
)

// linearRetryDelay is the next_run backoff after a failed accumulation
// run (spec §4.7.2: "On failure: next_run = now + 60").
const linearRetryDelay = 60 * time.Second

// vwapTimeframeThreshold is the resolved open-question boundary: lookback
// windows under this use 15-minute buckets, at or above it hourly ones.
const vwapTimeframeThreshold = 4 * time.Hour

// vwapWeightCap bounds how much richer than average a single slot's
// weighted amount can be (spec §4.7.2: "capped at 3x").
const vwapWeightCap = 3.0

// evaluateDCA runs one DCA/TWAP tick at price p (spec §4.7.2): accumulate
// on schedule, then monitor for take-profit once max_runs is reached.
func (s *BotScheduler) evaluateDCA(ctx context.Context, b *domain.Bot, p float64) error {
	if b.State.MonitoringProfit {
		return s.monitorProfit(ctx, b, p)
	}

	now := time.Now()
	if now.Before(b.State.NextRun) {
		return nil
	}

	if err := s.accumulate(ctx, b, b.Config.Amount, now); err != nil {
		return nil // failure already recorded by accumulate's retry scheduling
	}

	return s.checkCompletion(ctx, b)
}

// evaluateVWAP runs one VWAP tick: like DCA's accumulation cadence, but
// the per-slot spend is volume-weighted (spec §4.7.2, VWAP paragraph).
func (s *BotScheduler) evaluateVWAP(ctx context.Context, b *domain.Bot, p float64) error {
	if b.State.MonitoringProfit {
		return s.monitorProfit(ctx, b, p)
	}

	now := time.Now()
	if now.Before(b.State.NextRun) {
		return nil
	}

	amount := b.Config.Amount
	if s.volumes != nil {
		weighted, err := s.vwapAmount(ctx, b, now)
		if err == nil {
			amount = weighted
		}
	}

	if err := s.accumulate(ctx, b, amount, now); err != nil {
		return nil
	}

	return s.checkCompletion(ctx, b)
}

// accumulate executes one input->output buy of amount, updates the
// running average cost, and schedules the next run.
func (s *BotScheduler) accumulate(ctx context.Context, b *domain.Bot, amount float64, now time.Time) error {
	result, err := s.trader.ExecuteSwap(ctx, b.InputMint, b.OutputMint, amount, defaultSlippageBps, 0, fmt.Sprintf("dca:%s", b.ID))
	if err != nil {
		b.State.NextRun = now.Add(linearRetryDelay)
		return err
	}

	b.State.RunCount++
	b.State.TotalCost += result.USDValue
	b.State.TotalBought += result.AmountOut
	b.State.NextRun = now.Add(b.Config.Interval)
	return nil
}

// checkCompletion transitions b once max_runs is reached, either into
// monitoring_profit (when a take-profit target is configured) or
// straight to completed (spec §4.7.2, "Completion check").
func (s *BotScheduler) checkCompletion(ctx context.Context, b *domain.Bot) error {
	if b.State.RunCount < b.Config.MaxRuns {
		return nil
	}
	if b.Config.TakeProfitPct > 0 {
		b.State.MonitoringProfit = true
		return nil
	}
	b.State.Status = domain.StatusCompleted
	b.State.CompletionReason = domain.ReasonMaxRuns
	s.notify(events.BotCompleted, b, map[string]interface{}{"total_bought": b.State.TotalBought})
	return nil
}

// monitorProfit evaluates the take-profit exit on every price tick once
// accumulation is complete (spec §4.7.2, "Monitoring profit").
func (s *BotScheduler) monitorProfit(ctx context.Context, b *domain.Bot, p float64) error {
	target := b.State.AvgBuyPrice() * (1 + b.Config.TakeProfitPct/100)
	if p < target {
		return nil
	}

	result, err := s.trader.ExecuteSwap(ctx, b.OutputMint, b.InputMint, b.State.TotalBought, defaultSlippageBps, 0, fmt.Sprintf("dca:%s:exit", b.ID))
	if err != nil {
		return err
	}

	b.State.ProfitRealized = result.USDValue - b.State.TotalCost
	b.State.Status = domain.StatusCompleted
	b.State.CompletionReason = domain.ReasonTakeProfit
	b.State.MonitoringProfit = false
	s.notify(events.BotTakeProfit, b, map[string]interface{}{"profit_realized": b.State.ProfitRealized})
	return nil
}

// vwapAmount computes the volume-weighted per-slot spend: base_per_slot *
// min(3, hour_weight / avg_weight) (spec §4.7.2, VWAP paragraph).
func (s *BotScheduler) vwapAmount(ctx context.Context, b *domain.Bot, now time.Time) (float64, error) {
	lookback := b.Config.LookbackWindow
	buckets, err := s.volumes.RecentBucketVolumes(ctx, b.OutputMint, lookback)
	if err != nil {
		return 0, err
	}
	return VWAPAmount(b.Config.Amount, buckets, currentBucketIndex(buckets, lookback, now)), nil
}

// bucketInterval returns the spec's resolved VWAP bucket width for a
// given lookback: 15 minutes under 4h, hourly at or above it.
func bucketInterval(lookback time.Duration) time.Duration {
	if lookback < vwapTimeframeThreshold {
		return 15 * time.Minute
	}
	return time.Hour
}

// currentBucketIndex maps now onto an index within a lookback-spanning
// bucket series, wrapping to stay in range.
func currentBucketIndex(buckets []float64, lookback time.Duration, now time.Time) int {
	if len(buckets) == 0 {
		return 0
	}
	interval := bucketInterval(lookback)
	elapsed := now.Sub(now.Truncate(lookback))
	idx := int(elapsed / interval)
	return idx % len(buckets)
}

// VWAPAmount computes base_per_slot * min(3, hour_weight / avg_weight)
// for bucket index i of buckets, where hour_weight is buckets[i] and
// avg_weight is the mean of buckets. Exported as a pure function so the
// weighting formula is directly testable without a VolumeSource.
func VWAPAmount(basePerSlot float64, buckets []float64, i int) float64 {
	if len(buckets) == 0 || i < 0 || i >= len(buckets) {
		return basePerSlot
	}
	avg := formulas.Mean(buckets)
	if avg <= 0 {
		return basePerSlot
	}
	ratio := buckets[i] / avg
	if ratio > vwapWeightCap {
		ratio = vwapWeightCap
	}
	return basePerSlot * ratio
}
