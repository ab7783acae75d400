package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the application services and adapters. Callers
// match them with errors.Is; typed errors below wrap them.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidTime       = errors.New("scheduled time must be in the future")
	ErrInvalidInput      = errors.New("invalid input")
	ErrCredentialExpired = errors.New("credential expired: account needs reconnection")
	ErrCredentialRevoked = errors.New("credential revoked")
	ErrTransientRefresh  = errors.New("transient token refresh failure")
	ErrTransientPublish  = errors.New("transient publish failure")
	ErrPermanentPublish  = errors.New("permanent publish failure")
)

// ErrAccessTokenRejected marks a publish the platform refused because the
// bearer token was no longer accepted, even if it had not reached its expiry.
var ErrAccessTokenRejected = errors.New("access token rejected by platform")

// TransitionError describes a rejected state change.
type TransitionError struct {
	PostID string
	From   PostState
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s post %s in state %s", e.Action, e.PostID, e.From)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PublishError is returned by the publisher port. Transient errors are
// retried with back-off; permanent ones fail the post immediately.
type PublishError struct {
	Transient bool
	Reason    string
	Err       error
}

// NewTransientPublishError wraps err as a retryable publish failure.
func NewTransientPublishError(reason string, err error) *PublishError {
	return &PublishError{Transient: true, Reason: reason, Err: err}
}

// NewPermanentPublishError wraps err as a non-retryable publish failure.
func NewPermanentPublishError(reason string, err error) *PublishError {
	return &PublishError{Transient: false, Reason: reason, Err: err}
}

func (e *PublishError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s publish failure: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s publish failure: %s", kind, e.Reason)
}

// Unwrap exposes both the classification sentinel and the underlying cause.
func (e *PublishError) Unwrap() []error {
	sentinel := ErrPermanentPublish
	if e.Transient {
		sentinel = ErrTransientPublish
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// ValidationError reports a malformed field in user input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }
