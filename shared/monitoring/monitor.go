package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/krishng03/yt-sum/shared/logging"
)

// Monitor keeps the outcome of the most recent maintenance run for the health
// endpoints. Served requests are counted but never change health.
type Monitor struct {
	mu             sync.RWMutex
	lastRunSuccess bool
	lastRunTime    time.Time
	successes      int64
	partials       int64
	failures       int64
	now            func() time.Time
	logger         zerolog.Logger
}

func NewMonitor() *Monitor {
	return &Monitor{
		now:    time.Now,
		logger: logging.WithComponent("monitor"),
	}
}

func (m *Monitor) RecordSuccess(summary string, duration time.Duration) {
	m.mu.Lock()
	m.lastRunSuccess = true
	m.lastRunTime = m.now()
	m.successes++
	m.mu.Unlock()

	m.logger.Info().Dur("duration", duration).Msgf("run completed: %s", summary)
}

// RecordServed counts a request that completed. Unlike RecordSuccess it does
// not touch the last run.
func (m *Monitor) RecordServed(summary string, duration time.Duration) {
	m.mu.Lock()
	m.successes++
	m.mu.Unlock()

	m.logger.Debug().Dur("duration", duration).Msgf("request served: %s", summary)
}

// RecordPartialFailure notes a degraded run. It does not change health.
func (m *Monitor) RecordPartialFailure(err error, duration time.Duration) {
	m.mu.Lock()
	m.partials++
	m.mu.Unlock()

	m.logger.Warn().Err(err).Dur("duration", duration).Msg("partial failure")
}

func (m *Monitor) RecordCriticalFailure(err error, duration time.Duration) {
	m.mu.Lock()
	m.lastRunSuccess = false
	m.lastRunTime = m.now()
	m.failures++
	m.mu.Unlock()

	m.logger.Error().Err(err).Dur("duration", duration).Msg("critical failure")
}

// IsHealthy reports whether the last run succeeded. No runs yet counts as
// healthy.
func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastRunTime.IsZero() {
		return true
	}
	return m.lastRunSuccess
}

func (m *Monitor) GetStatusSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastRunTime.IsZero() {
		return "No runs yet"
	}
	if m.lastRunSuccess {
		return fmt.Sprintf("Last run: %s", m.lastRunTime.Format("Jan 2 15:04"))
	}
	return fmt.Sprintf("Last run failed: %s", m.lastRunTime.Format("Jan 2 15:04"))
}

// Status is the JSON body of the status endpoint.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Summary   string    `json:"summary"`
	LastRun   time.Time `json:"lastRun"`
	Successes int64     `json:"successes"`
	Partials  int64     `json:"partialFailures"`
	Failures  int64     `json:"criticalFailures"`
}

func (m *Monitor) Snapshot() Status {
	healthy := m.IsHealthy()
	summary := m.GetStatusSummary()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Healthy:   healthy,
		Summary:   summary,
		LastRun:   m.lastRunTime,
		Successes: m.successes,
		Partials:  m.partials,
		Failures:  m.failures,
	}
}
