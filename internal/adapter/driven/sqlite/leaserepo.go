package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LeaseStore = (*LeaseRepo)(nil)

// LeaseRepo is the SQLite implementation of the LeaseStore port interface.
type LeaseRepo struct {
	db *DB
}

// NewLeaseRepo creates a new LeaseRepo backed by the given DB.
func NewLeaseRepo(db *DB) *LeaseRepo {
	return &LeaseRepo{db: db}
}

// Acquire takes the lease when it is free, expired, or already held by holder.
// The upsert is a single statement on the single writer connection, so two
// processes sharing the file cannot both win.
func (r *LeaseRepo) Acquire(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	const query = `
		INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE leases.holder = excluded.holder OR leases.expires_at <= ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query, name, holder, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for lease %q: %w", name, err)
	}
	return n > 0, nil
}

// Release deletes the lease if holder owns it.
func (r *LeaseRepo) Release(ctx context.Context, name, holder string) error {
	const query = `DELETE FROM leases WHERE name = ? AND holder = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, name, holder); err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}
