package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

type userInfo struct {
	User struct {
		OpenID      string `json:"open_id"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	} `json:"user"`
}

// FetchProfile returns the profile of the account that owns accessToken.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*model.AccountProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiURL+"/user/info/?fields=open_id,username,display_name", nil)
	if err != nil {
		return nil, fmt.Errorf("creating profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope[userInfo](resp)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK || env.Error.failed() {
		return nil, fmt.Errorf("fetching profile: status %d: %s", resp.StatusCode, env.Error)
	}

	u := env.Data.User
	return &model.AccountProfile{AccountID: u.OpenID, Username: u.Username, DisplayName: u.DisplayName}, nil
}
