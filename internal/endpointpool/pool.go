// Package endpointpool maintains ordered per-protocol endpoint lists with
// consecutive-failure demotion and probe-based recovery (spec §4.1).
package endpointpool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
)

// Prober issues a lightweight health check against a single endpoint URL.
// cmd/server wires chainaccounts.RPCProber (a getSlot call) for its rpc,
// ws and grpc pools.
type Prober func(ctx context.Context, url string) error

// Config tunes failure/recovery thresholds (spec §6 pool health knobs).
type Config struct {
	FailThreshold  int
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	RecoveryProbes int
}

func (c Config) withDefaults() Config {
	if c.FailThreshold <= 0 {
		c.FailThreshold = 2
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.RecoveryProbes <= 0 {
		c.RecoveryProbes = 2
	}
	return c
}

// Pool is an ordered, insertion-priority list of endpoints for one
// protocol. All transitions hold mu; active() readers take the same lock.
type Pool struct {
	mu        sync.Mutex
	protocol  string
	endpoints []*domain.Endpoint
	cfg       Config
	log       zerolog.Logger
}

// New creates a Pool for a protocol, seeded with the given URLs in
// priority order. The first URL is label "primary", the rest "fallback".
func New(protocol string, urls []string, cfg Config, log zerolog.Logger) *Pool {
	eps := make([]*domain.Endpoint, 0, len(urls))
	for i, u := range urls {
		label := "primary"
		if i > 0 {
			label = "fallback"
		}
		eps = append(eps, &domain.Endpoint{
			URL:     u,
			Label:   label,
			Healthy: true,
		})
	}
	return &Pool{
		protocol:  protocol,
		endpoints: eps,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "endpointpool").Str("protocol", protocol).Logger(),
	}
}

// Active returns the first healthy endpoint, or the first endpoint
// unconditionally if none are healthy (degraded-mode best effort).
// Tie-break is insertion order.
func (p *Pool) Active() *domain.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *Pool) activeLocked() *domain.Endpoint {
	if len(p.endpoints) == 0 {
		return nil
	}
	for _, e := range p.endpoints {
		if e.Healthy {
			return e
		}
	}
	return p.endpoints[0]
}

// ReportSuccess records a successful call against url.
func (p *Pool) ReportSuccess(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(url)
	if e == nil {
		return
	}
	e.TotalSuccesses++
	e.LastSuccessTime = time.Now()
	e.ConsecutiveFailures = 0

	if !e.Healthy {
		// Recovery accrual happens only through the probe loop's dedicated
		// path (Probe), not through incidental traffic successes, so a
		// demoted endpoint that somehow still serves a caller does not
		// silently self-promote outside the documented M-probe rule.
		return
	}
}

// ReportFailure records a failed call against url. On the N-th
// consecutive failure of the active endpoint, it is demoted.
func (p *Pool) ReportFailure(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(url)
	if e == nil {
		return
	}
	e.TotalFailures++
	e.LastFailureTime = time.Now()
	e.ConsecutiveFailures++

	if e.Healthy && e.ConsecutiveFailures >= p.cfg.FailThreshold {
		e.Healthy = false
		e.RecoveryProbes = 0
		p.log.Warn().Str("url", e.URL).Int("failures", e.ConsecutiveFailures).Msg("endpoint demoted")
	}
}

func (p *Pool) findLocked(url string) *domain.Endpoint {
	for _, e := range p.endpoints {
		if e.URL == url {
			return e
		}
	}
	return nil
}

// Endpoints returns a snapshot copy of the pool's endpoints in order.
func (p *Pool) Endpoints() []domain.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Endpoint, len(p.endpoints))
	for i, e := range p.endpoints {
		out[i] = *e
	}
	return out
}

// Probe runs a single health check against every demoted endpoint in the
// pool using the supplied Prober, promoting on the M-th consecutive
// success. A demoted endpoint that fails a probe resets its recovery
// counter but does not accrue additional ConsecutiveFailures.
func (p *Pool) Probe(ctx context.Context, probe Prober) {
	p.mu.Lock()
	demoted := make([]*domain.Endpoint, 0)
	for _, e := range p.endpoints {
		if !e.Healthy {
			demoted = append(demoted, e)
		}
	}
	p.mu.Unlock()

	for _, e := range demoted {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		err := probe(cctx, e.URL)
		cancel()

		p.mu.Lock()
		if err == nil {
			e.RecoveryProbes++
			if e.RecoveryProbes >= p.cfg.RecoveryProbes {
				e.Healthy = true
				e.ConsecutiveFailures = 0
				e.RecoveryProbes = 0
				p.log.Info().Str("url", e.URL).Msg("endpoint promoted")
			}
		} else {
			e.RecoveryProbes = 0
		}
		p.mu.Unlock()
	}
}
