package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/database"
	"github.com/aristath/beacon/internal/events"
	"github.com/aristath/beacon/internal/telemetry"
)

// Monitor periodically checks database health and keeps the slow-path
// gauges current. Failures are logged, not fatal; the next tick retries.
type Monitor struct {
	bus       *events.Bus
	metrics   *telemetry.Metrics
	databases []*database.DB
	log       zerolog.Logger
	stop      chan struct{}
}

// NewMonitor creates a new health monitor.
func NewMonitor(bus *events.Bus, metrics *telemetry.Metrics, log zerolog.Logger, databases ...*database.DB) *Monitor {
	return &Monitor{
		bus:       bus,
		metrics:   metrics,
		databases: databases,
		log:       log.With().Str("component", "monitor").Logger(),
		stop:      make(chan struct{}),
	}
}

// Start begins the periodic monitoring loop.
func (m *Monitor) Start(interval time.Duration) {
	go m.run(interval)
}

// Stop ends the monitoring loop.
func (m *Monitor) Stop() {
	close(m.stop)
}

func (m *Monitor) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, db := range m.databases {
		if err := db.HealthCheck(ctx); err != nil {
			m.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
		}
	}

	m.metrics.EventsDropped.Set(float64(m.bus.Dropped()))
}
