package health

import (
	"context"
	"sync"
	"time"
)

// Checker probes a single dependency. A nil error means healthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	Component string
	Fn        func(ctx context.Context) error
	// Critical marks a dependency the service cannot run without.
	// Failures of non-critical dependencies only degrade the status.
	Critical bool
}

func (c CheckerFunc) Name() string                    { return c.Component }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Monitor aggregates health status from the service's dependencies.
type Monitor struct {
	checkers   []CheckerFunc
	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(checkers ...CheckerFunc) *Monitor {
	return &Monitor{checkers: checkers}
}

// CheckHealth probes all dependencies and aggregates the result, worst
// case winning. Results are cached briefly to keep /health probes from
// hammering the backends.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}

	for _, c := range m.checkers {
		ch := ComponentHealth{Component: c.Component, Status: StatusHealthy}
		if err := c.Check(ctx); err != nil {
			ch.Error = err.Error()
			if c.Critical {
				ch.Status = StatusCritical
			} else {
				ch.Status = StatusDegraded
			}
		}
		if ch.Status == StatusCritical {
			report.SystemStatus = StatusCritical
		} else if ch.Status == StatusDegraded && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
		report.Components[c.Component] = ch
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
