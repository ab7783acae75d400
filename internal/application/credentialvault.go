package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/cryptobox"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// CredentialVault owns encrypted OAuth credentials. It seals tokens with a
// key derived from the caller's secret and a fresh salt on every write, and
// only ever hands plaintext back to the caller. All operations on one account
// are serialized.
type CredentialVault struct {
	store driven.CredentialStore
	clock clock.Clock
	locks *keyedMutex
}

// NewCredentialVault creates a CredentialVault over the given store.
func NewCredentialVault(store driven.CredentialStore, clk clock.Clock) *CredentialVault {
	return &CredentialVault{
		store: store,
		clock: clk,
		locks: newKeyedMutex(),
	}
}

// Put seals tokens under secret and stores them as an active credential,
// replacing any existing record for the account.
func (v *CredentialVault) Put(ctx context.Context, profile model.AccountProfile, tokens model.TokenSet, secret []byte) error {
	if profile.AccountID == "" {
		return &model.ValidationError{Field: "account_id", Message: "is required"}
	}

	unlock := v.locks.Lock(profile.AccountID)
	defer unlock()

	now := v.clock.Now()
	cred := model.Credential{
		AccountID:   profile.AccountID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		ConnectedAt: now,
	}
	if err := v.sealInto(&cred, tokens, secret); err != nil {
		return fmt.Errorf("put credential %q: %w", profile.AccountID, err)
	}
	cred.Status = model.CredentialStatusActive
	cred.UpdatedAt = now

	return v.store.Upsert(ctx, cred)
}

// GetDecrypted returns the plaintext tokens for accountID. It fails with
// model.ErrNotFound for unknown accounts and cryptobox.ErrDecryption when
// secret does not match the one used to seal.
func (v *CredentialVault) GetDecrypted(ctx context.Context, accountID string, secret []byte) (*model.TokenSet, error) {
	unlock := v.locks.Lock(accountID)
	defer unlock()

	cred, err := v.getLocked(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return v.open(cred, secret)
}

// Rotate re-seals new tokens with a freshly derived key and marks the
// credential active.
func (v *CredentialVault) Rotate(ctx context.Context, accountID string, tokens model.TokenSet, secret []byte) error {
	unlock := v.locks.Lock(accountID)
	defer unlock()

	cred, err := v.getLocked(ctx, accountID)
	if err != nil {
		return err
	}
	return v.rotateLocked(ctx, *cred, tokens, secret)
}

// MarkStatus changes the credential status without touching token material.
func (v *CredentialVault) MarkStatus(ctx context.Context, accountID string, status model.CredentialStatus) error {
	if !status.Valid() {
		return &model.ValidationError{Field: "status", Message: fmt.Sprintf("unknown value %q", status)}
	}

	unlock := v.locks.Lock(accountID)
	defer unlock()

	return v.store.UpdateStatus(ctx, accountID, status, v.clock.Now())
}

// Remove deletes the credential for accountID.
func (v *CredentialVault) Remove(ctx context.Context, accountID string) error {
	unlock := v.locks.Lock(accountID)
	defer unlock()

	return v.store.Delete(ctx, accountID)
}

// Get returns credential metadata without decrypting anything.
func (v *CredentialVault) Get(ctx context.Context, accountID string) (*model.Credential, error) {
	return v.getLocked(ctx, accountID)
}

// List returns metadata for every stored credential.
func (v *CredentialVault) List(ctx context.Context) ([]model.Credential, error) {
	return v.store.List(ctx)
}

func (v *CredentialVault) getLocked(ctx context.Context, accountID string) (*model.Credential, error) {
	cred, err := v.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("account %q: %w", accountID, model.ErrNotFound)
	}
	return cred, nil
}

func (v *CredentialVault) rotateLocked(ctx context.Context, cred model.Credential, tokens model.TokenSet, secret []byte) error {
	if err := v.sealInto(&cred, tokens, secret); err != nil {
		return fmt.Errorf("rotate credential %q: %w", cred.AccountID, err)
	}
	cred.Status = model.CredentialStatusActive
	cred.UpdatedAt = v.clock.Now()
	return v.store.Upsert(ctx, cred)
}

// sealInto derives a new key and salt and writes sealed tokens and expiries
// into cred.
func (v *CredentialVault) sealInto(cred *model.Credential, tokens model.TokenSet, secret []byte) error {
	key, salt, err := cryptobox.DeriveKey(secret, nil)
	if err != nil {
		return err
	}
	defer cryptobox.Wipe(key)

	access, err := cryptobox.Seal([]byte(tokens.AccessToken), key)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := cryptobox.Seal([]byte(tokens.RefreshToken), key)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	cred.Salt = salt
	cred.EncryptedAccessToken = access
	cred.EncryptedRefreshToken = refresh
	cred.AccessExpiresAt = tokens.AccessExpiresAt.UTC()
	cred.RefreshExpiresAt = nil
	if tokens.RefreshExpiresAt != nil {
		t := tokens.RefreshExpiresAt.UTC()
		cred.RefreshExpiresAt = &t
	}
	return nil
}

func (v *CredentialVault) open(cred *model.Credential, secret []byte) (*model.TokenSet, error) {
	key, _, err := cryptobox.DeriveKey(secret, cred.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptobox.ErrDecryption, err)
	}
	defer cryptobox.Wipe(key)

	access, err := cryptobox.Open(cred.EncryptedAccessToken, key)
	if err != nil {
		return nil, fmt.Errorf("open access token for %q: %w", cred.AccountID, err)
	}
	refresh, err := cryptobox.Open(cred.EncryptedRefreshToken, key)
	if err != nil {
		return nil, fmt.Errorf("open refresh token for %q: %w", cred.AccountID, err)
	}

	return &model.TokenSet{
		AccessToken:      string(access),
		RefreshToken:     string(refresh),
		AccessExpiresAt:  cred.AccessExpiresAt,
		RefreshExpiresAt: cred.RefreshExpiresAt,
	}, nil
}
