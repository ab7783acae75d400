package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

// ErrRefreshRejected is returned by OAuthClient.Refresh when the platform
// refuses the refresh token itself. Retrying will not help; the account must
// be reconnected.
var ErrRefreshRejected = errors.New("refresh token rejected")

// OAuthClient defines the driven port for the platform's OAuth endpoints.
// Errors other than ErrRefreshRejected are treated as recoverable.
type OAuthClient interface {
	// Exchange trades an authorization code for tokens and the account profile.
	Exchange(ctx context.Context, code string) (*model.ConnectedAccount, error)

	Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error)

	FetchProfile(ctx context.Context, accessToken string) (*model.AccountProfile, error)
}
