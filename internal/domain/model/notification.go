package model

import "time"

// NotificationKind identifies the lifecycle event a notification reports.
type NotificationKind string

const (
	NotificationPostSent          NotificationKind = "post_sent"
	NotificationPostFailed        NotificationKind = "post_failed"
	NotificationCredentialExpired NotificationKind = "credential_expired"
)

// Notification is emitted to the notifier port on terminal post outcomes and
// on credentials that need reconnection.
type Notification struct {
	Kind      NotificationKind
	AccountID string
	PostID    string
	Message   string
	At        time.Time
}
