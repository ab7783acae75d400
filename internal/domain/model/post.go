package model

import (
	"time"
	"unicode/utf8"
)

// MaxCaptionLength is the longest caption, in characters, the platform accepts.
const MaxCaptionLength = 2200

// ScheduledPost is a video queued for publication at ScheduledTime.
type ScheduledPost struct {
	ID            string
	AccountID     string
	MediaRef      string
	Caption       string
	ScheduledTime time.Time
	State         PostState
	AttemptCount  int
	LastError     *PostError
	SentAt        *time.Time
	ExternalID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Due reports whether the post is waiting and its scheduled time has arrived.
func (p ScheduledPost) Due(now time.Time) bool {
	return p.State == PostStateScheduled && !p.ScheduledTime.After(now)
}

// Clone returns a deep copy so callers never share pointers with a store.
func (p ScheduledPost) Clone() ScheduledPost {
	if p.LastError != nil {
		e := *p.LastError
		p.LastError = &e
	}
	if p.SentAt != nil {
		s := *p.SentAt
		p.SentAt = &s
	}
	return p
}

// PostError records why the latest publish attempt did not succeed.
type PostError struct {
	Kind    ErrorKind
	Message string
	At      time.Time
}

// NewPost is the input to scheduling a post.
type NewPost struct {
	AccountID     string
	MediaRef      string
	Caption       string
	ScheduledTime time.Time
}

// PostUpdate carries optional edits to a still-scheduled post. Nil fields are
// left unchanged.
type PostUpdate struct {
	Caption  *string
	MediaRef *string
}

// PostFilter narrows a post listing. Zero values mean "no constraint".
type PostFilter struct {
	State     PostState
	AccountID string
	From      time.Time
	To        time.Time
	Limit     int
}

// ValidateCaption checks caption length in characters.
func ValidateCaption(caption string) error {
	if !utf8.ValidString(caption) {
		return &ValidationError{Field: "caption", Message: "must be valid UTF-8"}
	}
	if utf8.RuneCountInString(caption) > MaxCaptionLength {
		return &ValidationError{Field: "caption", Message: "exceeds maximum length"}
	}
	return nil
}
