package endpointpool

import (
	"context"

	"github.com/rs/zerolog"
)

// ProbeJob is a single scheduler.Job shared across every pool in the
// engine (spec §4.1: "the probe loop is a single task shared across
// pools"). It satisfies the teacher's Job interface (Run() error, Name()
// string) so it can be registered with internal/scheduler.Scheduler.
type ProbeJob struct {
	pools  map[string]*Pool
	probes map[string]Prober
	log    zerolog.Logger
}

// NewProbeJob builds the shared probe job. pools and probes must share
// the same protocol keys.
func NewProbeJob(pools map[string]*Pool, probes map[string]Prober, log zerolog.Logger) *ProbeJob {
	return &ProbeJob{
		pools:  pools,
		probes: probes,
		log:    log.With().Str("job", "endpoint_probe").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *ProbeJob) Name() string { return "endpoint_probe" }

// Run implements scheduler.Job.
func (j *ProbeJob) Run() error {
	ctx := context.Background()
	for proto, pool := range j.pools {
		probe, ok := j.probes[proto]
		if !ok {
			continue
		}
		pool.Probe(ctx, probe)
	}
	return nil
}
