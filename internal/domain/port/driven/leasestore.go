package driven

import (
	"context"
	"time"
)

// LeaseStore grants a named, time-bounded exclusive lease. The dispatcher
// uses it so that only one process publishes against a given database.
type LeaseStore interface {
	// Acquire takes or renews the lease for holder. It returns false without
	// error when another holder owns an unexpired lease.
	Acquire(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)

	// Release gives up the lease if holder still owns it.
	Release(ctx context.Context, name, holder string) error
}
