package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

var _ driven.CredentialStore = (*CredentialStore)(nil)

// CredentialStore keeps credentials in a map guarded by an RWMutex.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]model.Credential
}

// NewCredentialStore returns an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]model.Credential)}
}

// Upsert inserts or replaces the credential for its account.
func (s *CredentialStore) Upsert(_ context.Context, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.creds[cred.AccountID]; ok {
		cred.ConnectedAt = existing.ConnectedAt
	} else if cred.ConnectedAt.IsZero() {
		cred.ConnectedAt = cred.UpdatedAt
	}
	s.creds[cred.AccountID] = cloneCredential(cred)
	return nil
}

// Get returns a copy of the credential, or nil if there is none.
func (s *CredentialStore) Get(_ context.Context, accountID string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[accountID]
	if !ok {
		return nil, nil
	}
	c := cloneCredential(cred)
	return &c, nil
}

// List returns copies of every stored credential.
func (s *CredentialStore) List(_ context.Context) ([]model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds := make([]model.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		creds = append(creds, cloneCredential(c))
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].AccountID < creds[j].AccountID })
	return creds, nil
}

// UpdateStatus sets the lifecycle status of one credential.
func (s *CredentialStore) UpdateStatus(_ context.Context, accountID string, status model.CredentialStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[accountID]
	if !ok {
		return fmt.Errorf("credential %q: %w", accountID, model.ErrNotFound)
	}
	cred.Status = status
	cred.UpdatedAt = updatedAt
	s.creds[accountID] = cred
	return nil
}

// Delete removes a credential.
func (s *CredentialStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, accountID)
	return nil
}

// ListRefreshDue returns usable accounts whose access token expires by before,
// soonest first.
func (s *CredentialStore) ListRefreshDue(_ context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []model.Credential
	for _, c := range s.creds {
		if c.Status.Usable() && !c.AccessExpiresAt.After(before) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AccessExpiresAt.Before(due[j].AccessExpiresAt) })

	ids := make([]string, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.AccountID)
	}
	return ids, nil
}

// ResetStatus moves every credential in status from to status to.
func (s *CredentialStore) ResetStatus(_ context.Context, from, to model.CredentialStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, c := range s.creds {
		if c.Status == from {
			c.Status = to
			s.creds[id] = c
			n++
		}
	}
	return n, nil
}

func cloneCredential(c model.Credential) model.Credential {
	c.Salt = slices.Clone(c.Salt)
	c.EncryptedAccessToken = slices.Clone(c.EncryptedAccessToken)
	c.EncryptedRefreshToken = slices.Clone(c.EncryptedRefreshToken)
	if c.RefreshExpiresAt != nil {
		t := *c.RefreshExpiresAt
		c.RefreshExpiresAt = &t
	}
	return c
}
