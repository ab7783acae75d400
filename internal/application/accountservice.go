package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// AccountService connects and disconnects creator accounts.
type AccountService struct {
	oauth     driven.OAuthClient
	secrets   driven.SecretSource
	vault     *CredentialVault
	tokens    *TokenManager
	scheduler *PublishScheduler
}

// NewAccountService creates a new AccountService with the required dependencies.
func NewAccountService(
	oauth driven.OAuthClient,
	secrets driven.SecretSource,
	vault *CredentialVault,
	tokens *TokenManager,
	scheduler *PublishScheduler,
) *AccountService {
	return &AccountService{
		oauth:     oauth,
		secrets:   secrets,
		vault:     vault,
		tokens:    tokens,
		scheduler: scheduler,
	}
}

// Connect completes an OAuth authorization by exchanging code for tokens and
// storing them sealed under the account's secret.
func (s *AccountService) Connect(ctx context.Context, code string) (*model.AccountProfile, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &model.ValidationError{Field: "code", Message: "is required"}
	}

	acct, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	secret, err := s.secrets.Provision(ctx, acct.Profile.AccountID)
	if err != nil {
		return nil, fmt.Errorf("provision secret for %q: %w", acct.Profile.AccountID, err)
	}

	if err := s.vault.Put(ctx, acct.Profile, acct.Tokens, secret); err != nil {
		return nil, err
	}

	slog.Info("account connected", "account_id", acct.Profile.AccountID, "username", acct.Profile.Username)
	return &acct.Profile, nil
}

// Disconnect cancels the account's scheduled posts and deletes its
// credential. Post history is kept.
func (s *AccountService) Disconnect(ctx context.Context, accountID string) error {
	if _, err := s.vault.Get(ctx, accountID); err != nil {
		return err
	}

	cancelled, err := s.scheduler.CancelAllForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("cancel posts for %q: %w", accountID, err)
	}

	if err := s.tokens.Revoke(ctx, accountID); err != nil {
		return err
	}
	if err := s.vault.Remove(ctx, accountID); err != nil {
		return err
	}
	if err := s.secrets.Forget(ctx, accountID); err != nil {
		slog.Warn("forget account secret failed", "account_id", accountID, "error", err)
	}

	slog.Info("account disconnected", "account_id", accountID, "cancelled_posts", cancelled)
	return nil
}

// Refresh forces a token refresh for accountID.
func (s *AccountService) Refresh(ctx context.Context, accountID string) (*model.Credential, error) {
	if err := s.tokens.ForceRefresh(ctx, accountID); err != nil {
		return nil, err
	}
	return s.vault.Get(ctx, accountID)
}

// List returns all connected accounts.
func (s *AccountService) List(ctx context.Context) ([]model.Credential, error) {
	return s.vault.List(ctx)
}

// Get returns one connected account.
func (s *AccountService) Get(ctx context.Context, accountID string) (*model.Credential, error) {
	return s.vault.Get(ctx, accountID)
}
