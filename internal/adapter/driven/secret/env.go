// Package secret implements the SecretSource port.
//
// Static serves one master secret (REELQUEUE_SECRET_KEY) for every account.
// Keyring keeps a random per-account secret in the OS keychain.
package secret

import (
	"bytes"
	"context"

	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

var _ driven.SecretSource = (*Static)(nil)

// Static returns the same secret for every account.
type Static struct {
	secret []byte
}

// NewStatic creates a Static source. An empty secret is accepted so the
// server can start; every lookup then fails with ErrSecretNotConfigured.
func NewStatic(secret string) *Static {
	return &Static{secret: []byte(secret)}
}

func (s *Static) Secret(_ context.Context, _ string) ([]byte, error) {
	if len(s.secret) == 0 {
		return nil, driven.ErrSecretNotConfigured
	}
	return bytes.Clone(s.secret), nil
}

func (s *Static) Provision(ctx context.Context, accountID string) ([]byte, error) {
	return s.Secret(ctx, accountID)
}

func (s *Static) Forget(context.Context, string) error {
	return nil
}
