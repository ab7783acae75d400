package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// DefaultRefreshMargin is how far ahead of access token expiry a refresh is
// triggered.
const DefaultRefreshMargin = 5 * time.Minute

// TokenManagerConfig tunes refresh timing.
type TokenManagerConfig struct {
	Margin         time.Duration
	RefreshTimeout time.Duration
}

// TokenManager keeps access tokens valid. It refreshes credentials that are
// within the margin of expiry, rotates the stored ciphertext, and flags
// credentials whose refresh token the platform rejects.
//
// At most one refresh runs per account: concurrent callers share the result
// of the in-flight call, and the account lock is held from decrypt through
// rotate so user operations on the same credential wait for it.
type TokenManager struct {
	vault    *CredentialVault
	oauth    driven.OAuthClient
	secrets  driven.SecretSource
	notifier driven.Notifier
	clock    clock.Clock
	cfg      TokenManagerConfig
	group    singleflight.Group
}

// NewTokenManager creates a TokenManager. notifier may be nil.
func NewTokenManager(
	vault *CredentialVault,
	oauth driven.OAuthClient,
	secrets driven.SecretSource,
	notifier driven.Notifier,
	clk clock.Clock,
	cfg TokenManagerConfig,
) *TokenManager {
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultRefreshMargin
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	return &TokenManager{
		vault:    vault,
		oauth:    oauth,
		secrets:  secrets,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
	}
}

// EnsureValid returns a usable access token for accountID, refreshing it
// first if it expires within the margin.
//
// Errors: model.ErrNotFound, model.ErrCredentialExpired,
// model.ErrCredentialRevoked, cryptobox.ErrDecryption, model.ErrTransientRefresh.
func (m *TokenManager) EnsureValid(ctx context.Context, accountID string) (string, error) {
	return m.do(ctx, accountID, false)
}

// Refresh refreshes accountID if it is still within the margin once the
// account lock is held. Used for proactive refresh after ScanDue.
func (m *TokenManager) Refresh(ctx context.Context, accountID string) error {
	_, err := m.do(ctx, accountID, false)
	return err
}

// ForceRefresh refreshes accountID regardless of its expiry.
func (m *TokenManager) ForceRefresh(ctx context.Context, accountID string) error {
	_, err := m.do(ctx, accountID, true)
	return err
}

// ScanDue lists accounts whose access token expires within the margin of now.
func (m *TokenManager) ScanDue(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := m.vault.store.ListRefreshDue(ctx, now.Add(m.cfg.Margin))
	if err != nil {
		return nil, fmt.Errorf("scan refresh-due credentials: %w", err)
	}
	return ids, nil
}

// Revoke marks the credential revoked. Revoked credentials never yield a token.
func (m *TokenManager) Revoke(ctx context.Context, accountID string) error {
	return m.vault.MarkStatus(ctx, accountID, model.CredentialStatusRevoked)
}

// RecoverInterrupted returns credentials left mid-refresh by a crash to the
// active state so the next EnsureValid re-evaluates them.
func (m *TokenManager) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := m.vault.store.ResetStatus(ctx, model.CredentialStatusRefreshing, model.CredentialStatusActive)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("recovered interrupted credential refreshes", "count", n)
	}
	return n, nil
}

func (m *TokenManager) do(ctx context.Context, accountID string, force bool) (string, error) {
	key := accountID
	if force {
		key = "force:" + accountID
	}

	// The shared call outlives any single caller's cancellation; each caller
	// still stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.ensureLocked(shared, accountID, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("ensure token for %q: %w: %w", accountID, model.ErrTransientRefresh, ctx.Err())
	}
}

func (m *TokenManager) ensureLocked(ctx context.Context, accountID string, force bool) (string, error) {
	unlock := m.vault.locks.Lock(accountID)
	defer unlock()

	cred, err := m.vault.getLocked(ctx, accountID)
	if err != nil {
		return "", err
	}

	switch cred.Status {
	case model.CredentialStatusExpired:
		return "", fmt.Errorf("account %q: %w", accountID, model.ErrCredentialExpired)
	case model.CredentialStatusRevoked:
		return "", fmt.Errorf("account %q: %w", accountID, model.ErrCredentialRevoked)
	}

	secret, err := m.secrets.Secret(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("secret for %q: %w", accountID, err)
	}

	tokens, err := m.vault.open(cred, secret)
	if err != nil {
		return "", err
	}

	now := m.clock.Now()
	if !force && cred.Status == model.CredentialStatusActive && !cred.NeedsRefresh(now, m.cfg.Margin) {
		return tokens.AccessToken, nil
	}

	if cred.RefreshTokenExpired(now) {
		m.markExpired(ctx, accountID, "refresh token expired")
		return "", fmt.Errorf("account %q: %w", accountID, model.ErrCredentialExpired)
	}

	return m.refreshLocked(ctx, *cred, tokens, secret)
}

func (m *TokenManager) refreshLocked(ctx context.Context, cred model.Credential, current *model.TokenSet, secret []byte) (string, error) {
	accountID := cred.AccountID
	start := m.clock.Now()

	if err := m.vault.store.UpdateStatus(ctx, accountID, model.CredentialStatusRefreshing, start); err != nil {
		return "", fmt.Errorf("mark refreshing %q: %w", accountID, err)
	}

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
	fresh, err := m.oauth.Refresh(rctx, current.RefreshToken)
	cancel()

	if err != nil {
		if errors.Is(err, driven.ErrRefreshRejected) {
			m.markExpired(ctx, accountID, err.Error())
			return "", fmt.Errorf("refresh %q: %w: %w", accountID, model.ErrCredentialExpired, err)
		}

		if statusErr := m.vault.store.UpdateStatus(ctx, accountID, model.CredentialStatusActive, m.clock.Now()); statusErr != nil {
			slog.Error("failed to restore credential status", "account_id", accountID, "error", statusErr)
		}
		slog.Warn("token refresh failed", "account_id", accountID, "error", err)
		return "", fmt.Errorf("refresh %q: %w: %w", accountID, model.ErrTransientRefresh, err)
	}

	// Providers that do not rotate refresh tokens omit them from the response.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}
	if fresh.RefreshExpiresAt == nil {
		fresh.RefreshExpiresAt = current.RefreshExpiresAt
	}

	if err := m.vault.rotateLocked(ctx, cred, *fresh, secret); err != nil {
		return "", err
	}

	slog.Info("token refreshed",
		"account_id", accountID,
		"access_expires_at", fresh.AccessExpiresAt,
		"duration", m.clock.Now().Sub(start).Round(time.Millisecond),
	)
	return fresh.AccessToken, nil
}

func (m *TokenManager) markExpired(ctx context.Context, accountID, reason string) {
	if err := m.vault.store.UpdateStatus(ctx, accountID, model.CredentialStatusExpired, m.clock.Now()); err != nil {
		slog.Error("failed to mark credential expired", "account_id", accountID, "error", err)
	}
	slog.Warn("credential expired", "account_id", accountID, "reason", reason)

	if m.notifier == nil {
		return
	}
	n := model.Notification{
		Kind:      model.NotificationCredentialExpired,
		AccountID: accountID,
		Message:   "account needs reconnection",
		At:        m.clock.Now(),
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		slog.Error("notify credential expired failed", "account_id", accountID, "error", err)
	}
}
