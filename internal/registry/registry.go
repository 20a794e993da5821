// Package registry is the ServiceRegistry (spec §2): a small lifecycle
// store that starts and stops named services in registration order, and
// auto-wires stream subscriptions into services that declare the need.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/stream"
)

// Service is anything the registry can start and stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// StreamConsumer is implemented by services that want Geyser updates; the
// registry calls Subscribe at Start instead of the service dialing the
// stream manager itself.
type StreamConsumer interface {
	Service
	Subscribe(ctx context.Context, mgr *stream.Manager)
}

// Registry holds descriptors and owns their lifecycle.
type Registry struct {
	mgr *stream.Manager
	log zerolog.Logger

	mu       sync.Mutex
	services []Service
	started  []Service
}

// New builds a Registry; mgr may be nil if no service needs Geyser
// subscriptions.
func New(mgr *stream.Manager, log zerolog.Logger) *Registry {
	return &Registry{mgr: mgr, log: log.With().Str("component", "registry").Logger()}
}

// Register adds a service. Call before Start.
func (r *Registry) Register(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, s)
}

// Start starts every registered service in registration order, wiring
// Geyser subscriptions into any StreamConsumer. On the first failure it
// stops everything already started and returns the error.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	services := append([]Service(nil), r.services...)
	r.mu.Unlock()

	for _, s := range services {
		if err := s.Start(ctx); err != nil {
			r.log.Error().Err(err).Str("service", s.Name()).Msg("service failed to start")
			r.stopStarted(ctx)
			return fmt.Errorf("registry: start %s: %w", s.Name(), err)
		}
		if consumer, ok := s.(StreamConsumer); ok && r.mgr != nil {
			consumer.Subscribe(ctx, r.mgr)
		}
		r.mu.Lock()
		r.started = append(r.started, s)
		r.mu.Unlock()
		r.log.Info().Str("service", s.Name()).Msg("service started")
	}
	return nil
}

// Stop stops every started service in reverse start order, collecting but
// not short-circuiting on errors.
func (r *Registry) Stop(ctx context.Context) error {
	return r.stopStarted(ctx)
}

func (r *Registry) stopStarted(ctx context.Context) error {
	r.mu.Lock()
	started := append([]Service(nil), r.started...)
	r.started = nil
	r.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		if err := s.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("service", s.Name()).Msg("service failed to stop")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Descriptor is a status snapshot for the /api/status endpoint.
type Descriptor struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Descriptors returns a point-in-time snapshot of every registered
// service and whether it is currently started.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	runningSet := make(map[string]bool, len(r.started))
	for _, s := range r.started {
		runningSet[s.Name()] = true
	}

	out := make([]Descriptor, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, Descriptor{Name: s.Name(), Running: runningSet[s.Name()]})
	}
	return out
}
