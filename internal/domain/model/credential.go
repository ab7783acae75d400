package model

import "time"

// Credential is the persisted, encrypted OAuth grant for one connected
// creator account. Token fields hold CryptoBox output and are never plaintext.
type Credential struct {
	AccountID             string
	Username              string
	DisplayName           string
	Salt                  []byte
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	AccessExpiresAt       time.Time
	RefreshExpiresAt      *time.Time
	Status                CredentialStatus
	ConnectedAt           time.Time
	UpdatedAt             time.Time
}

// NeedsRefresh reports whether the access token expires within margin of now.
func (c Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !c.AccessExpiresAt.After(now.Add(margin))
}

// RefreshTokenExpired reports whether the refresh token is known to have expired.
func (c Credential) RefreshTokenExpired(now time.Time) bool {
	return c.RefreshExpiresAt != nil && !c.RefreshExpiresAt.After(now)
}

// TokenSet is a decrypted token pair. It only ever exists in memory.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt *time.Time
}

// AccountProfile is the public profile of a connected account.
type AccountProfile struct {
	AccountID   string
	Username    string
	DisplayName string
}

// ConnectedAccount is the result of a completed OAuth exchange.
type ConnectedAccount struct {
	Profile AccountProfile
	Tokens  TokenSet
}
