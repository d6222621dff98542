package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/wipmate/homectl/internal/protocol"
	"github.com/wipmate/homectl/internal/registry"
)

// Logger defines the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Roster is the slice of the registry the monitor sweeps.
type Roster interface {
	Snapshot() []registry.Record
	ExpireIf(name string, typ protocol.EntityType, observed time.Time) (registry.Record, bool)
}

// Purger removes cached telemetry for an expired entity.
// Implemented by *telemetry.Cache.
type Purger interface {
	Forget(typ protocol.EntityType, name string)
}

// Monitor periodically expires entities whose heartbeats have gone quiet.
//
// An entity is considered dead once its last heartbeat is older than the
// heartbeat period times the expiry factor. Expiry uses a compare-and-remove
// against the observed timestamp, so a heartbeat that lands between the
// snapshot and the removal revives the entity and the sweep leaves it alone.
type Monitor struct {
	roster Roster
	purger Purger
	ttl    time.Duration
	period time.Duration
	logger Logger
	now    func() time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Config holds configuration for the monitor.
type Config struct {
	// HeartbeatPeriod is the interval entities are expected to heartbeat at.
	// It is also the sweep interval. Default: 1 second.
	HeartbeatPeriod time.Duration

	// ExpiryFactor is how many missed periods kill an entity. Default: 3.
	ExpiryFactor int

	// Roster is the registry to sweep.
	Roster Roster

	// Purger receives a Forget for every expired entity. May be nil.
	Purger Purger

	// Logger is optional.
	Logger Logger
}

// New creates a monitor. Call Start to begin sweeping.
func New(cfg Config) *Monitor {
	period := cfg.HeartbeatPeriod
	if period <= 0 {
		period = time.Second
	}
	factor := cfg.ExpiryFactor
	if factor <= 0 {
		factor = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Monitor{
		roster: cfg.Roster,
		purger: cfg.Purger,
		ttl:    period * time.Duration(factor),
		period: period,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Start begins the sweep loop. Call Stop to shut down.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.sweepLoop(ctx)
	m.logger.Info("heartbeat monitor started", "period", m.period, "ttl", m.ttl)
}

// Stop halts the sweep loop and waits for it to finish.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

// SweepNow runs a single sweep and returns how many entities expired.
func (m *Monitor) SweepNow() int {
	deadline := m.now().Add(-m.ttl)

	expired := 0
	for _, rec := range m.roster.Snapshot() {
		if rec.LastHeartbeat.After(deadline) {
			continue
		}

		removed, ok := m.roster.ExpireIf(rec.Name, rec.Type, rec.LastHeartbeat)
		if !ok {
			// Revived by a concurrent heartbeat; leave it alone.
			continue
		}
		expired++

		if removed.Conn != nil {
			if err := removed.Conn.Close(); err != nil {
				m.logger.Warn("closing back-channel of expired entity",
					"type", removed.Type, "name", removed.Name, "error", err)
			}
		}
		if m.purger != nil {
			m.purger.Forget(removed.Type, removed.Name)
		}

		m.logger.Warn("entity expired after missed heartbeats",
			"type", removed.Type, "name", removed.Name,
			"last_heartbeat", removed.LastHeartbeat)
	}

	return expired
}

// sweepLoop runs the periodic expiry sweep.
func (m *Monitor) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.SweepNow()
		}
	}
}
