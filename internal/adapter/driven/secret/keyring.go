package secret

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// DefaultKeyringService is the keychain service name secrets are stored under.
const DefaultKeyringService = "reelqueue"

const keyringSecretBytes = 32

var _ driven.SecretSource = (*Keyring)(nil)

// Keyring stores one random secret per account in the OS keychain.
type Keyring struct {
	service string
}

// NewKeyring creates a Keyring source using service as the keychain service name.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultKeyringService
	}
	return &Keyring{service: service}
}

func (k *Keyring) Secret(_ context.Context, accountID string) ([]byte, error) {
	v, err := keyring.Get(k.service, accountID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring entry for %q: %w", accountID, driven.ErrSecretNotConfigured)
	}
	if err != nil {
		return nil, fmt.Errorf("reading keyring entry for %q: %w", accountID, err)
	}
	return []byte(v), nil
}

// Provision returns the account's existing secret or stores a new random one.
func (k *Keyring) Provision(ctx context.Context, accountID string) ([]byte, error) {
	existing, err := k.Secret(ctx, accountID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, driven.ErrSecretNotConfigured) {
		return nil, err
	}

	buf := make([]byte, keyringSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	if err := keyring.Set(k.service, accountID, secret); err != nil {
		return nil, fmt.Errorf("writing keyring entry for %q: %w", accountID, err)
	}
	return []byte(secret), nil
}

func (k *Keyring) Forget(_ context.Context, accountID string) error {
	err := keyring.Delete(k.service, accountID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting keyring entry for %q: %w", accountID, err)
	}
	return nil
}
