package application

import (
	"context"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/clock"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TickReporter exposes the most recent dispatch tick.
type TickReporter interface {
	LastTick() *TickResult
}

// HealthReport is the liveness view served by the health endpoint.
type HealthReport struct {
	Status    string
	Database  string
	LastTick  *TickResult
	CheckedAt time.Time
}

// HealthService checks the store and reports dispatcher progress. It depends
// only on narrow interfaces so either storage backend can be checked.
type HealthService struct {
	db     Pinger
	ticks  TickReporter
	clock  clock.Clock
	budget time.Duration
}

// NewHealthService creates a new HealthService. db and ticks may be nil.
func NewHealthService(db Pinger, ticks TickReporter, clk clock.Clock) *HealthService {
	return &HealthService{db: db, ticks: ticks, clock: clk, budget: 2 * time.Second}
}

// Check pings the store within a short budget. A failed ping degrades the
// report rather than returning an error.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{Status: "ok", Database: "ok", CheckedAt: s.clock.Now()}

	if s.db == nil {
		report.Database = "memory"
	} else {
		pctx, cancel := context.WithTimeout(ctx, s.budget)
		defer cancel()
		if err := s.db.Ping(pctx); err != nil {
			report.Status = "degraded"
			report.Database = err.Error()
		}
	}

	if s.ticks != nil {
		report.LastTick = s.ticks.LastTick()
	}
	return report
}
