package blockhash

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
)

func TestGetFresh_SkipsRefreshWhenFresh(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (domain.BlockhashSnapshot, error) {
		calls++
		return domain.BlockhashSnapshot{Blockhash: "h1", Slot: 10, FetchedAt: time.Now()}, nil
	}
	c := New(fetch, Config{}, zerolog.Nop())

	_, err := c.GetFresh(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}

	_, err = c.GetFresh(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached value reused, got %d calls", calls)
	}
}

func TestRefresh_DiscardsStaleSlot(t *testing.T) {
	snapshots := []domain.BlockhashSnapshot{
		{Blockhash: "h10", Slot: 10, FetchedAt: time.Now()},
		{Blockhash: "h5", Slot: 5, FetchedAt: time.Now()}, // stale, must be discarded
	}
	i := 0
	fetch := func(ctx context.Context) (domain.BlockhashSnapshot, error) {
		s := snapshots[i]
		i++
		return s, nil
	}
	c := New(fetch, Config{}, zerolog.Nop())

	_ = c.refresh(context.Background())
	_ = c.refresh(context.Background())

	got := c.Get()
	if got.Slot != 10 || got.Blockhash != "h10" {
		t.Fatalf("expected slot to remain monotonic at 10, got slot=%d hash=%s", got.Slot, got.Blockhash)
	}
}

func TestRefresh_FailureKeepsCachedValue(t *testing.T) {
	first := true
	fetch := func(ctx context.Context) (domain.BlockhashSnapshot, error) {
		if first {
			first = false
			return domain.BlockhashSnapshot{Blockhash: "h1", Slot: 1, FetchedAt: time.Now()}, nil
		}
		return domain.BlockhashSnapshot{}, errors.New("rpc down")
	}
	c := New(fetch, Config{}, zerolog.Nop())

	_ = c.refresh(context.Background())
	_ = c.refresh(context.Background())

	got := c.Get()
	if got.Blockhash != "h1" {
		t.Fatalf("expected cached value to survive failed refresh, got %q", got.Blockhash)
	}
}

func TestOnSlotUpdate_SwitchesToGRPCDrivenAndRefreshesOnAdvance(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (domain.BlockhashSnapshot, error) {
		calls++
		return domain.BlockhashSnapshot{Blockhash: "h2", Slot: 20, FetchedAt: time.Now()}, nil
	}
	c := New(fetch, Config{}, zerolog.Nop())

	c.OnSlotUpdate(context.Background(), 5) // advances past the initial cached slot 0
	if calls != 1 {
		t.Fatalf("expected refresh on slot advance, got %d calls", calls)
	}
	if c.currentMode() != modeGRPCDriven {
		t.Fatalf("expected gRPC-driven mode after slot update")
	}
}

func TestCurrentMode_RevertsToPollOnlyAfterStaleness(t *testing.T) {
	fetch := func(ctx context.Context) (domain.BlockhashSnapshot, error) {
		return domain.BlockhashSnapshot{Slot: 1, FetchedAt: time.Now()}, nil
	}
	c := New(fetch, Config{StalenessTimeout: 10 * time.Millisecond}, zerolog.Nop())
	c.OnSlotUpdate(context.Background(), 1)

	time.Sleep(20 * time.Millisecond)

	if c.currentMode() != modePollOnly {
		t.Fatalf("expected reversion to poll-only after staleness timeout")
	}
}
