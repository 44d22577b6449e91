package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Default heartbeat timings. The timeout is never shorter than three probe
// intervals.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second
)

// SweepResult summarises one heartbeat sweep.
type SweepResult struct {
	Pinged  int
	Evicted int
}

// Monitor periodically probes every registered connection and evicts the
// ones whose last liveness signal is older than the timeout. It is the only
// component that terminates connections the transport still considers open.
type Monitor struct {
	registry *Registry
	evictor  Evictor
	interval time.Duration
	timeout  time.Duration
	now      Clock
	logger   zerolog.Logger
}

// NewMonitor creates a monitor. Non-positive durations fall back to the
// defaults; a timeout shorter than three intervals is raised to that.
func NewMonitor(registry *Registry, evictor Evictor, interval, timeout time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	if timeout < 3*interval {
		timeout = 3 * interval
	}
	return &Monitor{
		registry: registry,
		evictor:  evictor,
		interval: interval,
		timeout:  timeout,
		now:      registry.now,
		logger:   logger,
	}
}

// Interval returns the probe interval.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Timeout returns the eviction timeout.
func (m *Monitor) Timeout() time.Duration { return m.timeout }

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("interval", m.interval).
		Dur("timeout", m.timeout).
		Msg("heartbeat monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evicts expired connections and pings the rest.
func (m *Monitor) Sweep() SweepResult {
	var res SweepResult
	now := m.now()

	for _, c := range m.registry.livenessSnapshot() {
		if idle := now.Sub(c.lastSeen); idle > m.timeout {
			m.logger.Warn().
				Str("connection_id", string(c.id)).
				Dur("idle", idle).
				Msg("connection timed out, terminating")
			m.evictor.Evict(c.id, ErrHeartbeatTimeout)
			res.Evicted++
			continue
		}

		if err := m.registry.Ping(c.id); err != nil {
			if errors.Is(err, ErrUnknownConnection) {
				continue
			}
			m.logger.Warn().Err(err).Str("connection_id", string(c.id)).Msg("ping failed")
			m.evictor.Evict(c.id, err)
			res.Evicted++
			continue
		}
		res.Pinged++
	}

	if res.Evicted > 0 {
		m.logger.Info().Int("pinged", res.Pinged).Int("evicted", res.Evicted).Msg("heartbeat sweep")
	}
	return res
}
