package model

// CredentialStatus represents where a stored credential sits in its refresh lifecycle.
type CredentialStatus string

const (
	CredentialStatusActive     CredentialStatus = "active"
	CredentialStatusRefreshing CredentialStatus = "refreshing"
	CredentialStatusExpired    CredentialStatus = "expired"
	CredentialStatusRevoked    CredentialStatus = "revoked"
)

// Valid reports whether s is one of the known credential statuses.
func (s CredentialStatus) Valid() bool {
	switch s {
	case CredentialStatusActive, CredentialStatusRefreshing, CredentialStatusExpired, CredentialStatusRevoked:
		return true
	}
	return false
}

// Usable reports whether a credential in this status may still yield a token.
// Expired and revoked credentials need the user to reconnect the account.
func (s CredentialStatus) Usable() bool {
	return s == CredentialStatusActive || s == CredentialStatusRefreshing
}

// PostState represents the state of a scheduled post.
type PostState string

const (
	PostStateScheduled  PostState = "scheduled"
	PostStatePublishing PostState = "publishing"
	PostStateSent       PostState = "sent"
	PostStateFailed     PostState = "failed"
	PostStateCancelled  PostState = "cancelled"
)

// AllPostStates lists every post state in lifecycle order.
var AllPostStates = []PostState{
	PostStateScheduled,
	PostStatePublishing,
	PostStateSent,
	PostStateFailed,
	PostStateCancelled,
}

// Valid reports whether s is one of the known post states.
func (s PostState) Valid() bool {
	for _, known := range AllPostStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s PostState) Terminal() bool {
	return s == PostStateSent || s == PostStateFailed || s == PostStateCancelled
}

// ErrorKind classifies the last failure recorded on a post.
type ErrorKind string

const (
	ErrorKindTransient   ErrorKind = "transient"   // Network, rate limit, timeout.
	ErrorKindPermanent   ErrorKind = "permanent"   // Platform rejected the content or account.
	ErrorKindCredential  ErrorKind = "credential"  // Account needs reconnection.
	ErrorKindInterrupted ErrorKind = "interrupted" // Process stopped mid-publish.
)
