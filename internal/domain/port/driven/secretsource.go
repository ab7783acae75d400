package driven

import (
	"context"
	"errors"
)

// ErrSecretNotConfigured is returned when no secret is available to seal or
// unseal an account's tokens.
var ErrSecretNotConfigured = errors.New("encryption secret not configured: set REELQUEUE_SECRET_KEY")

// SecretSource supplies the user secret that CryptoBox keys are derived from.
type SecretSource interface {
	// Secret returns the secret for an already connected account.
	Secret(ctx context.Context, accountID string) ([]byte, error)

	// Provision returns the secret to use for a newly connected account,
	// creating one if the backend stores per-account secrets.
	Provision(ctx context.Context, accountID string) ([]byte, error)

	// Forget discards any per-account secret.
	Forget(ctx context.Context, accountID string) error
}
