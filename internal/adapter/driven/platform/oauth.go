package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// defaultAccessTTL applies when the token response omits expires_in.
const defaultAccessTTL = 24 * time.Hour

// AuthCodeURL returns the URL the user visits to authorize an account.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("client_key", c.oauth.ClientID))
}

// Exchange trades an authorization code for tokens, then loads the profile of
// the authorizing account.
func (c *Client) Exchange(ctx context.Context, code string) (*model.ConnectedAccount, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code,
		oauth2.SetAuthURLParam("client_key", c.oauth.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	tokens := c.tokenSet(tok)
	profile, err := c.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if openID, ok := tok.Extra("open_id").(string); ok && openID != "" && profile.AccountID == "" {
		profile.AccountID = openID
	}
	if profile.AccountID == "" {
		return nil, errors.New("exchanging authorization code: platform returned no account id")
	}

	return &model.ConnectedAccount{Profile: *profile, Tokens: tokens}, nil
}

// Refresh redeems a refresh token. A refresh token the platform refuses is
// reported as driven.ErrRefreshRejected; other failures are left as is so
// callers can retry them.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if rejected(err) {
			return nil, fmt.Errorf("%w: %w", driven.ErrRefreshRejected, err)
		}
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	tokens := c.tokenSet(tok)
	slog.Debug("token refreshed", "expires_at", tokens.AccessExpiresAt, "rotated", tok.RefreshToken != refreshToken)
	return &tokens, nil
}

// rejected reports whether a token endpoint error means the grant itself is
// invalid rather than the request failing.
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	if re.Response == nil {
		return false
	}
	return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
}

// tokenSet converts an oauth2 token. Both lifetimes are measured from the
// client clock; oauth2 stamps tok.Expiry from the wall clock, so it is only
// a fallback when the raw expires_in is unavailable.
func (c *Client) tokenSet(tok *oauth2.Token) model.TokenSet {
	now := c.clock.Now()

	var expiry time.Time
	switch secs := numberExtra(tok, "expires_in"); {
	case secs > 0:
		expiry = now.Add(time.Duration(secs) * time.Second)
	case !tok.Expiry.IsZero():
		expiry = tok.Expiry.UTC()
	default:
		expiry = now.Add(defaultAccessTTL)
	}

	ts := model.TokenSet{
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		AccessExpiresAt: expiry,
	}
	if secs := numberExtra(tok, "refresh_expires_in"); secs > 0 {
		at := now.Add(time.Duration(secs) * time.Second)
		ts.RefreshExpiresAt = &at
	}
	return ts
}

func numberExtra(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
