package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/executor"
)

type fakeStore struct {
	bots  []domain.Bot
	saved []domain.Bot
}

func (f *fakeStore) ListActiveBots(ctx context.Context) ([]domain.Bot, error) { return f.bots, nil }
func (f *fakeStore) SaveBot(ctx context.Context, b domain.Bot) error {
	f.saved = append(f.saved, b)
	return nil
}

type fakeTrader struct {
	result *executor.Result
	err    error
	calls  []string
}

func (f *fakeTrader) ExecuteSwap(ctx context.Context, inputMint, outputMint string, uiAmount float64, slippageBps int, priorityFeeMicroLamports uint64, source string) (*executor.Result, error) {
	f.calls = append(f.calls, source)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newScheduler(trader Trader) (*BotScheduler, *events.Manager) {
	evts := events.NewManager(zerolog.Nop())
	s := New(&fakeStore{}, nil, nil, nil, trader, nil, evts, zerolog.Nop())
	return s, evts
}

func TestEvaluateGrid_CircuitBreakerPauses(t *testing.T) {
	s, _ := newScheduler(&fakeTrader{})
	b := domain.Bot{ID: "b1", State: domain.BotState{ConsecutiveFailures: 3, Status: domain.StatusActive}}

	if err := s.evaluateGrid(context.Background(), &b, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.Status != domain.StatusPaused {
		t.Fatalf("expected paused, got %s", b.State.Status)
	}
}

func TestEvaluateGrid_StopLossCompletes(t *testing.T) {
	s, _ := newScheduler(&fakeTrader{})
	b := domain.Bot{
		ID:     "b1",
		Config: domain.BotConfig{StopLossPrice: 50},
		State:  domain.BotState{Status: domain.StatusActive},
	}

	if err := s.evaluateGrid(context.Background(), &b, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.Status != domain.StatusCompleted || b.State.CompletionReason != domain.ReasonStopLoss {
		t.Fatalf("expected completed/stop_loss, got %s/%s", b.State.Status, b.State.CompletionReason)
	}
}

func TestEvaluateGrid_TakeProfitOnYieldCompletes(t *testing.T) {
	s, _ := newScheduler(&fakeTrader{})
	b := domain.Bot{
		ID:     "b1",
		Config: domain.BotConfig{TakeProfitYieldUSD: 100},
		State:  domain.BotState{Status: domain.StatusActive, GridYield: 150},
	}

	if err := s.evaluateGrid(context.Background(), &b, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.Status != domain.StatusCompleted || b.State.CompletionReason != domain.ReasonTakeProfit {
		t.Fatalf("expected completed/take_profit, got %s/%s", b.State.Status, b.State.CompletionReason)
	}
}

func TestEvaluateGrid_BuyTriggerFiresBelowHysteresisBand(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 10, USDValue: 90}}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		ID:         "b1",
		InputMint:  "SOL",
		OutputMint: "TOKEN",
		Config:     domain.BotConfig{HysteresisPct: 0.01, AmountPerLevel: 90},
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100, HasPosition: false}},
		},
	}

	// p=98.9 is below 100 - (98.9*0.01)=99.011, so the buy trigger fires.
	if err := s.evaluateGrid(context.Background(), &b, 98.9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.State.Levels[0].HasPosition {
		t.Fatal("expected level to have a position after buy trigger")
	}
	if b.State.Levels[0].TokenAmount != 10 {
		t.Fatalf("expected token amount 10, got %f", b.State.Levels[0].TokenAmount)
	}
}

func TestEvaluateGrid_PriceAtHysteresisBoundaryFiresBuy(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 10, USDValue: 90}}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		ID:     "b1",
		Config: domain.BotConfig{HysteresisPct: 0.01, AmountPerLevel: 90},
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100, HasPosition: false}},
		},
	}

	// p=99 sits at the band edge 100 - (99*0.01)=99.01: the buy trigger uses
	// the inclusive p <= boundary comparison, so this fires.
	if err := s.evaluateGrid(context.Background(), &b, 99); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.State.Levels[0].HasPosition {
		t.Fatal("expected the inclusive boundary to fire the buy trigger")
	}
}

func TestEvaluateGrid_BuyFailureIncrementsConsecutiveFailures(t *testing.T) {
	trader := &fakeTrader{err: errors.New("swap failed")}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		Config: domain.BotConfig{HysteresisPct: 0.01, AmountPerLevel: 90},
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100, HasPosition: false}},
		},
	}

	if err := s.evaluateGrid(context.Background(), &b, 90); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", b.State.ConsecutiveFailures)
	}
	if b.State.Levels[0].HasPosition {
		t.Fatal("expected no position after a failed buy")
	}
}

func TestEvaluateGrid_SellTriggerClampsToWalletBalance(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 5, USDValue: 55}}
	evts := events.NewManager(zerolog.Nop())
	s := New(&fakeStore{}, nil, stubWallet{balance: 3}, nil, trader, nil, evts, zerolog.Nop())

	b := domain.Bot{
		OutputMint: "TOKEN",
		Config:     domain.BotConfig{HysteresisPct: 0.01},
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100, HasPosition: true, TokenAmount: 10, CostUSD: 50}},
		},
	}

	if err := s.evaluateGrid(context.Background(), &b, 102); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.Levels[0].HasPosition {
		t.Fatal("expected position cleared after sell")
	}
	if b.State.GridYield != 5 { // 55 - 50
		t.Fatalf("expected grid yield 5, got %f", b.State.GridYield)
	}
}

func TestEvaluateGrid_SellTriggerZeroWalletBalanceSkipsAndClearsPosition(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 5, USDValue: 55}}
	evts := events.NewManager(zerolog.Nop())
	s := New(&fakeStore{}, nil, stubWallet{balance: 0}, nil, trader, nil, evts, zerolog.Nop())

	b := domain.Bot{
		OutputMint: "TOKEN",
		Config:     domain.BotConfig{HysteresisPct: 0.01},
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100, HasPosition: true, TokenAmount: 10, CostUSD: 50}},
		},
	}

	if err := s.evaluateGrid(context.Background(), &b, 102); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.Levels[0].HasPosition {
		t.Fatal("expected position cleared when wallet balance is zero")
	}
	if len(trader.calls) != 0 {
		t.Fatal("expected no swap attempted when wallet balance is zero")
	}
}

func TestShiftGrid_MovesBoundsAndLevelsByOneStep(t *testing.T) {
	s, _ := newScheduler(&fakeTrader{})
	b := domain.Bot{
		Config: domain.BotConfig{GridLowerBound: 90, GridUpperBound: 110, GridSteps: 2},
		State:  domain.BotState{Levels: []domain.GridLevel{{Price: 90}, {Price: 100}, {Price: 110}}},
	}
	s.shiftGrid(&b)
	if b.Config.GridLowerBound != 100 || b.Config.GridUpperBound != 120 {
		t.Fatalf("expected bounds shifted by 10, got [%f,%f]", b.Config.GridLowerBound, b.Config.GridUpperBound)
	}
	if b.State.Levels[0].Price != 100 {
		t.Fatalf("expected first level shifted to 100, got %f", b.State.Levels[0].Price)
	}
}

type stubWallet struct{ balance uint64 }

func (s stubWallet) Balance(mint string) uint64 { return s.balance }

func TestEvaluateDCA_AccumulatesAndSchedulesNextRun(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 10, USDValue: 100}}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		Config: domain.BotConfig{Amount: 1, MaxRuns: 3, Interval: time.Minute},
		State:  domain.BotState{NextRun: time.Now().Add(-time.Second)},
	}

	if err := s.evaluateDCA(context.Background(), &b, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.RunCount != 1 || b.State.TotalBought != 10 || b.State.TotalCost != 100 {
		t.Fatalf("unexpected state after accumulate: %+v", b.State)
	}
	if !b.State.NextRun.After(time.Now()) {
		t.Fatal("expected next_run scheduled in the future")
	}
}

func TestEvaluateDCA_FailureSchedulesLinearRetry(t *testing.T) {
	trader := &fakeTrader{err: errors.New("swap failed")}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		Config: domain.BotConfig{Amount: 1, MaxRuns: 3, Interval: time.Minute},
		State:  domain.BotState{NextRun: time.Now().Add(-time.Second)},
	}

	before := time.Now()
	if err := s.evaluateDCA(context.Background(), &b, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.RunCount != 0 {
		t.Fatal("expected no run recorded on failure")
	}
	if b.State.NextRun.Before(before.Add(linearRetryDelay - time.Second)) {
		t.Fatalf("expected ~60s retry delay, got next_run %s", b.State.NextRun)
	}
}

func TestEvaluateDCA_MaxRunsWithTakeProfitEntersMonitoring(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 10, USDValue: 100}}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		Config: domain.BotConfig{Amount: 1, MaxRuns: 1, Interval: time.Minute, TakeProfitPct: 10},
		State:  domain.BotState{NextRun: time.Now().Add(-time.Second)},
	}

	if err := s.evaluateDCA(context.Background(), &b, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.State.MonitoringProfit {
		t.Fatal("expected bot to enter monitoring_profit after hitting max_runs with take_profit_pct set")
	}
	if b.State.Status == domain.StatusCompleted {
		t.Fatal("expected bot not yet completed while monitoring profit")
	}
}

func TestEvaluateDCA_TakeProfitSellsEntireAccumulation(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 0, USDValue: 330.03}}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		Config: domain.BotConfig{TakeProfitPct: 10},
		State: domain.BotState{
			MonitoringProfit: true,
			TotalBought:      3,
			TotalCost:        300, // avg buy price 100
		},
	}

	// avg_buy_price * 1.10 = 110; feed a tick at 110.01 per spec scenario 4.
	if err := s.evaluateDCA(context.Background(), &b, 110.01); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", b.State.Status)
	}
	if b.State.ProfitRealized < 0 {
		t.Fatalf("expected non-negative profit_realized, got %f", b.State.ProfitRealized)
	}
}

func TestVWAPAmount_CapsAtThreeX(t *testing.T) {
	buckets := []float64{10, 10, 10, 100} // index 3 is 100/32.5 ~ 3.08x the mean -> capped at 3
	got := VWAPAmount(1.0, buckets, 3)
	if got != 3.0 {
		t.Fatalf("expected capped weighted amount 3.0, got %f", got)
	}
}

func TestVWAPAmount_BelowCapUsesRatio(t *testing.T) {
	buckets := []float64{10, 10, 10, 10}
	got := VWAPAmount(2.0, buckets, 0)
	if got != 2.0 {
		t.Fatalf("expected unweighted amount 2.0 for uniform buckets, got %f", got)
	}
}

func TestEvaluateLimitGrid_FallsBackToGridRulesWithoutOrderBook(t *testing.T) {
	trader := &fakeTrader{result: &executor.Result{AmountOut: 10, USDValue: 90}}
	s, _ := newScheduler(trader)
	b := domain.Bot{
		Config: domain.BotConfig{HysteresisPct: 0.01, AmountPerLevel: 90},
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100, HasPosition: false}},
		},
	}

	if err := s.evaluateLimitGrid(context.Background(), &b, 90); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.State.Levels[0].HasPosition {
		t.Fatal("expected fallback GRID buy trigger to fire")
	}
}

type fakeOrderBook struct {
	open     map[string]bool
	nextID   string
	placeErr error
}

func (f *fakeOrderBook) OpenOrderIDs(ctx context.Context, botID string) (map[string]bool, error) {
	return f.open, nil
}
func (f *fakeOrderBook) PlaceLimitOrder(ctx context.Context, botID string, side string, price, amount float64) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	return f.nextID, nil
}

func TestEvaluateLimitGrid_FilledSellFlipsToBuy(t *testing.T) {
	book := &fakeOrderBook{open: map[string]bool{}, nextID: "order-2"}
	evts := events.NewManager(zerolog.Nop())
	s := New(&fakeStore{}, nil, nil, nil, &fakeTrader{}, book, evts, zerolog.Nop())

	b := domain.Bot{
		ID:     "b1",
		Config: domain.BotConfig{AmountPerLevel: 50},
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100, HasPosition: true, OrderID: "order-1"}},
		},
	}

	if err := s.evaluateLimitGrid(context.Background(), &b, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State.Levels[0].HasPosition {
		t.Fatal("expected filled sell to flip level out of position")
	}
	if b.State.Levels[0].OrderID != "order-2" {
		t.Fatalf("expected new buy order id recorded, got %q", b.State.Levels[0].OrderID)
	}
}

func TestThrottlePerfUpdate_GatesRepeatedCallsWithinOneSecond(t *testing.T) {
	s, _ := newScheduler(&fakeTrader{})
	b := domain.Bot{ID: "b1", State: domain.BotState{Status: domain.StatusActive}}

	now := time.Now()
	if !s.throttlePerfUpdate(&b, now) {
		t.Fatal("expected first call to fire")
	}
	if s.throttlePerfUpdate(&b, now.Add(500*time.Millisecond)) {
		t.Fatal("expected call within the same second to be throttled")
	}
	if !s.throttlePerfUpdate(&b, now.Add(2*time.Second)) {
		t.Fatal("expected call a full second later to fire")
	}
}

func TestDispatch_StampsLastPerfUpdateAfterSuccessfulTick(t *testing.T) {
	store := &fakeStore{}
	evts := events.NewManager(zerolog.Nop())
	s := New(store, nil, nil, nil, &fakeTrader{}, nil, evts, zerolog.Nop())

	b := domain.Bot{
		ID:   "b1",
		Type: domain.BotGrid,
		State: domain.BotState{
			Status: domain.StatusActive,
			Levels: []domain.GridLevel{{Price: 100}},
		},
	}

	s.dispatch(context.Background(), b, 100)

	if len(store.saved) != 1 {
		t.Fatalf("expected one saved bot, got %d", len(store.saved))
	}
	if store.saved[0].State.LastPerfUpdate.IsZero() {
		t.Fatal("expected LastPerfUpdate to be stamped after a successful dispatch")
	}
}
