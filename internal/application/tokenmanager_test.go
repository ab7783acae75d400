package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/cryptobox"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

func TestTokenManager_FastPathSkipsRefresh(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))

	token, err := f.tokens.EnsureValid(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "access-acct", token)
	assert.Equal(t, int32(0), f.oauth.refreshCalls.Load())
}

func TestTokenManager_RefreshesWithinMargin(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(4*time.Minute))

	token, err := f.tokens.EnsureValid(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", token)
	assert.Equal(t, int32(1), f.oauth.refreshCalls.Load())

	cred, err := f.vault.Get(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, model.CredentialStatusActive, cred.Status)
	assert.True(t, t0.Add(time.Hour).Equal(cred.AccessExpiresAt))

	tokens, err := f.vault.GetDecrypted(context.Background(), "acct", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-refresh", tokens.RefreshToken)
}

func TestTokenManager_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0)
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		return &model.TokenSet{AccessToken: "new-access", AccessExpiresAt: t0.Add(time.Hour)}, nil
	}

	require.NoError(t, f.tokens.Refresh(context.Background(), "acct"))

	tokens, err := f.vault.GetDecrypted(context.Background(), "acct", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "new-access", tokens.AccessToken)
	assert.Equal(t, "refresh-acct", tokens.RefreshToken)
}

func TestTokenManager_ConcurrentCallsShareOneRefresh(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Minute))

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		entered <- struct{}{}
		<-release
		return &model.TokenSet{AccessToken: "shared", RefreshToken: "r2", AccessExpiresAt: t0.Add(time.Hour)}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = f.tokens.EnsureValid(context.Background(), "acct")
		}()
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.oauth.refreshCalls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
}

func TestTokenManager_RejectedRefreshExpiresCredential(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0)
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		return nil, driven.ErrRefreshRejected
	}

	_, err := f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, model.ErrCredentialExpired)

	cred, err := f.vault.Get(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, model.CredentialStatusExpired, cred.Status)
	assert.Equal(t, []model.NotificationKind{model.NotificationCredentialExpired}, f.notifier.kinds())

	// Expired credentials fail fast without contacting the platform again.
	_, err = f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, model.ErrCredentialExpired)
	assert.Equal(t, int32(1), f.oauth.refreshCalls.Load())
}

func TestTokenManager_TransientRefreshFailure(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0)
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		return nil, errors.New("connection reset by peer")
	}

	_, err := f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, model.ErrTransientRefresh)

	cred, err := f.vault.Get(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, model.CredentialStatusActive, cred.Status)
}

func TestTokenManager_RefreshTimeoutIsTransient(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0)
	f.oauth.refresh = func(ctx context.Context, _ string) (*model.TokenSet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, model.ErrTransientRefresh)
}

func TestTokenManager_ExpiredRefreshTokenSkipsCall(t *testing.T) {
	f := newFixture(3)
	refreshExp := t0.Add(-time.Minute)
	err := f.vault.Put(context.Background(), model.AccountProfile{AccountID: "acct"},
		model.TokenSet{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: t0, RefreshExpiresAt: &refreshExp}, testSecret)
	require.NoError(t, err)

	_, err = f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, model.ErrCredentialExpired)
	assert.Equal(t, int32(0), f.oauth.refreshCalls.Load())
}

func TestTokenManager_RevokedAndMissing(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	require.NoError(t, f.tokens.Revoke(context.Background(), "acct"))

	_, err := f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, model.ErrCredentialRevoked)

	_, err = f.tokens.EnsureValid(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTokenManager_WrongSecretSurfacesDecryptionError(t *testing.T) {
	f := newFixture(3)
	err := f.vault.Put(context.Background(), model.AccountProfile{AccountID: "acct"},
		model.TokenSet{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: t0.Add(time.Hour)}, []byte("another secret"))
	require.NoError(t, err)

	_, err = f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, cryptobox.ErrDecryption)
}

func TestTokenManager_ScanDue(t *testing.T) {
	f := newFixture(3)
	f.connect("soon", t0.Add(3*time.Minute))
	f.connect("later", t0.Add(time.Hour))
	f.connect("gone", t0)
	require.NoError(t, f.vault.MarkStatus(context.Background(), "gone", model.CredentialStatusExpired))

	ids, err := f.tokens.ScanDue(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"soon"}, ids)
}

func TestTokenManager_ForceRefreshIgnoresMargin(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(24*time.Hour))

	require.NoError(t, f.tokens.ForceRefresh(context.Background(), "acct"))
	assert.Equal(t, int32(1), f.oauth.refreshCalls.Load())
}

func TestTokenManager_RecoverInterrupted(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	require.NoError(t, f.vault.MarkStatus(context.Background(), "acct", model.CredentialStatusRefreshing))

	n, err := f.tokens.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cred, err := f.vault.Get(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, model.CredentialStatusActive, cred.Status)
}

func TestTokenManager_DefaultsApplied(t *testing.T) {
	f := newFixture(3)
	tm := application.NewTokenManager(f.vault, f.oauth, staticSecrets{secret: testSecret}, nil, f.clock, application.TokenManagerConfig{})
	f.connect("acct", t0.Add(application.DefaultRefreshMargin-time.Second))

	_, err := tm.EnsureValid(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.oauth.refreshCalls.Load())
}
