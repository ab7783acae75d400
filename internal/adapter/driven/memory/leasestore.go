package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

var _ driven.LeaseStore = (*LeaseStore)(nil)

type lease struct {
	holder    string
	expiresAt time.Time
}

// LeaseStore grants leases within a single process.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]lease
}

// NewLeaseStore returns an empty LeaseStore.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: make(map[string]lease)}
}

// Acquire takes or renews the named lease for holder. It reports false while
// another holder has an unexpired lease.
func (s *LeaseStore) Acquire(_ context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.leases[name]; ok && cur.holder != holder && cur.expiresAt.After(now) {
		return false, nil
	}
	s.leases[name] = lease{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release drops the lease if holder still owns it.
func (s *LeaseStore) Release(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.leases[name]; ok && cur.holder == holder {
		delete(s.leases, name)
	}
	return nil
}
