package endpointpool

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func testPool(urls []string) *Pool {
	return New("rpc", urls, Config{FailThreshold: 2, RecoveryProbes: 2}, zerolog.Nop())
}

func TestActive_ReturnsFirstHealthy(t *testing.T) {
	p := testPool([]string{"a", "b", "c"})

	if got := p.Active(); got.URL != "a" {
		t.Fatalf("expected a, got %s", got.URL)
	}
}

func TestActive_DegradedModeReturnsFirstUnconditionally(t *testing.T) {
	p := testPool([]string{"a", "b"})

	p.ReportFailure("a")
	p.ReportFailure("a")
	p.ReportFailure("b")
	p.ReportFailure("b")

	got := p.Active()
	if got.URL != "a" {
		t.Fatalf("expected degraded-mode fallback to first endpoint a, got %s", got.URL)
	}
}

func TestDemotionAfterNConsecutiveFailures(t *testing.T) {
	p := testPool([]string{"a", "b"})

	p.ReportFailure("a")
	if got := p.Active(); got.URL != "a" {
		t.Fatalf("single failure should not demote, got %s", got.URL)
	}

	p.ReportFailure("a")
	if got := p.Active(); got.URL != "b" {
		t.Fatalf("expected demotion to b after 2 failures, got %s", got.URL)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	p := testPool([]string{"a", "b"})

	p.ReportFailure("a")
	p.ReportSuccess("a")
	p.ReportFailure("a")

	if got := p.Active(); got.URL != "a" {
		t.Fatalf("expected a still active after reset+1 failure, got %s", got.URL)
	}
}

func TestPromotionAfterMConsecutiveProbes(t *testing.T) {
	p := testPool([]string{"a", "b"})
	p.ReportFailure("a")
	p.ReportFailure("a")

	okProbe := func(ctx context.Context, url string) error { return nil }

	p.Probe(context.Background(), okProbe)
	if got := p.Active(); got.URL != "b" {
		t.Fatalf("one successful probe should not yet promote, got %s", got.URL)
	}

	p.Probe(context.Background(), okProbe)
	if got := p.Active(); got.URL != "a" {
		t.Fatalf("expected a promoted back after 2 successful probes, got %s", got.URL)
	}
}

func TestFailedProbeResetsRecoveryCounterNotFailures(t *testing.T) {
	p := testPool([]string{"a", "b"})
	p.ReportFailure("a")
	p.ReportFailure("a")

	failProbe := func(ctx context.Context, url string) error { return errors.New("timeout") }
	okProbe := func(ctx context.Context, url string) error { return nil }

	p.Probe(context.Background(), okProbe)
	p.Probe(context.Background(), failProbe) // resets recovery counter to 0
	p.Probe(context.Background(), okProbe)    // 1 again, not enough

	if got := p.Active(); got.URL != "b" {
		t.Fatalf("expected a still demoted, got %s", got.URL)
	}

	eps := p.Endpoints()
	if eps[0].ConsecutiveFailures != 2 {
		t.Fatalf("failed probe must not add to ConsecutiveFailures, got %d", eps[0].ConsecutiveFailures)
	}
}
