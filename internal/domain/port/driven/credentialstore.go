package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

// CredentialStore defines the driven port for encrypted credential persistence.
// It stores sealed token material as-is; sealing and unsealing happen in the
// application layer so that derived keys never reach the adapter.
type CredentialStore interface {
	// Upsert inserts or fully replaces the record for cred.AccountID.
	Upsert(ctx context.Context, cred model.Credential) error

	// Get returns the credential for accountID, or (nil, nil) if none exists.
	Get(ctx context.Context, accountID string) (*model.Credential, error)

	List(ctx context.Context) ([]model.Credential, error)

	// UpdateStatus changes only the status column. Returns model.ErrNotFound
	// when no record matches.
	UpdateStatus(ctx context.Context, accountID string, status model.CredentialStatus, updatedAt time.Time) error

	Delete(ctx context.Context, accountID string) error

	// ListRefreshDue returns accounts in a usable status whose access token
	// expires at or before the given instant, soonest first.
	ListRefreshDue(ctx context.Context, before time.Time) ([]string, error)

	// ResetStatus moves every credential in status from to status to and
	// returns how many rows changed.
	ResetStatus(ctx context.Context, from, to model.CredentialStatus) (int, error)
}
