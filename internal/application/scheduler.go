package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/cryptobox"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// AccessTokenProvider returns a valid access token for an account and can
// replace a token the platform stopped accepting. TokenManager is the
// production implementation.
type AccessTokenProvider interface {
	EnsureValid(ctx context.Context, accountID string) (string, error)
	ForceRefresh(ctx context.Context, accountID string) error
}

// SchedulerConfig holds publish retry and timeout settings.
type SchedulerConfig struct {
	Retry          RetryPolicy
	PublishTimeout time.Duration
}

// PublishScheduler owns the scheduled post state machine. AttemptPublish is
// the only place a post's retry or terminal fate is decided; user transitions
// and AttemptPublish are serialized per post.
type PublishScheduler struct {
	posts     driven.PostStore
	creds     driven.CredentialStore
	tokens    AccessTokenProvider
	publisher driven.Publisher
	media     driven.MediaStore
	notifier  driven.Notifier
	clock     clock.Clock
	cfg       SchedulerConfig
	locks     *keyedMutex
}

// NewPublishScheduler creates a PublishScheduler. media and notifier may be nil.
func NewPublishScheduler(
	posts driven.PostStore,
	creds driven.CredentialStore,
	tokens AccessTokenProvider,
	publisher driven.Publisher,
	media driven.MediaStore,
	notifier driven.Notifier,
	clk clock.Clock,
	cfg SchedulerConfig,
) *PublishScheduler {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = time.Minute
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = time.Hour
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Minute
	}
	return &PublishScheduler{
		posts:     posts,
		creds:     creds,
		tokens:    tokens,
		publisher: publisher,
		media:     media,
		notifier:  notifier,
		clock:     clk,
		cfg:       cfg,
		locks:     newKeyedMutex(),
	}
}

// Schedule queues a new post and returns its ID.
func (s *PublishScheduler) Schedule(ctx context.Context, in model.NewPost) (string, error) {
	now := s.clock.Now()
	if !in.ScheduledTime.After(now) {
		return "", model.ErrInvalidTime
	}
	if strings.TrimSpace(in.AccountID) == "" {
		return "", &model.ValidationError{Field: "account_id", Message: "is required"}
	}
	if err := s.validateContent(ctx, in.MediaRef, in.Caption); err != nil {
		return "", err
	}

	cred, err := s.creds.Get(ctx, in.AccountID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("account %q: %w", in.AccountID, model.ErrNotFound)
	}

	post := model.ScheduledPost{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		MediaRef:      in.MediaRef,
		Caption:       in.Caption,
		ScheduledTime: in.ScheduledTime.UTC(),
		State:         model.PostStateScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return "", err
	}

	slog.Info("post scheduled", "post_id", post.ID, "account_id", post.AccountID, "scheduled_time", post.ScheduledTime)
	return post.ID, nil
}

// DueNow lists scheduled posts whose time is at or before now.
func (s *PublishScheduler) DueNow(ctx context.Context, now time.Time) ([]string, error) {
	return s.posts.ListDue(ctx, now)
}

// AttemptPublish claims a due post, publishes it with a valid token, and
// records the outcome. Calling it for a post that is not due, already
// publishing, or finished is a no-op. The returned error describes a failed
// attempt after its outcome has been recorded.
func (s *PublishScheduler) AttemptPublish(ctx context.Context, postID string) error {
	post, claimed, err := s.claim(ctx, postID)
	if err != nil || !claimed {
		return err
	}

	externalID, pubErr := s.publishOnce(ctx, post)

	// The outcome must be recorded even if the caller has gone away.
	return s.recordOutcome(context.WithoutCancel(ctx), postID, externalID, pubErr)
}

func (s *PublishScheduler) claim(ctx context.Context, postID string) (model.ScheduledPost, bool, error) {
	unlock := s.locks.Lock(postID)
	defer unlock()

	post, err := s.get(ctx, postID)
	if err != nil {
		return model.ScheduledPost{}, false, err
	}

	now := s.clock.Now()
	if !post.Due(now) {
		slog.Debug("attempt skipped", "post_id", postID, "state", post.State)
		return model.ScheduledPost{}, false, nil
	}

	post.State = model.PostStatePublishing
	post.UpdatedAt = now
	if err := s.posts.Update(ctx, *post); err != nil {
		return model.ScheduledPost{}, false, err
	}
	return *post, true, nil
}

func (s *PublishScheduler) publishOnce(ctx context.Context, post model.ScheduledPost) (string, error) {
	token, err := s.tokens.EnsureValid(ctx, post.AccountID)
	if err != nil {
		return "", err
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	externalID, err := s.publisher.Publish(pctx, token, post.MediaRef, post.Caption)
	if err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return "", model.NewTransientPublishError("publish timed out", err)
	}
	if errors.Is(err, model.ErrAccessTokenRejected) {
		// The stored token is dead before its expiry. Replace it now so the
		// retry uses a fresh one, or fail on the credential if that is refused.
		if rerr := s.tokens.ForceRefresh(ctx, post.AccountID); rerr != nil {
			return "", fmt.Errorf("access token rejected, refresh failed: %w", rerr)
		}
		slog.Warn("access token rejected, refreshed before retry", "post_id", post.ID, "account_id", post.AccountID)
	}
	return externalID, err
}

func (s *PublishScheduler) recordOutcome(ctx context.Context, postID, externalID string, pubErr error) error {
	unlock := s.locks.Lock(postID)
	defer unlock()

	post, err := s.get(ctx, postID)
	if err != nil {
		return err
	}
	if post.State != model.PostStatePublishing {
		return fmt.Errorf("record outcome for post %s: unexpected state %s", postID, post.State)
	}

	now := s.clock.Now()
	attempt := post.AttemptCount
	post.AttemptCount++
	post.UpdatedAt = now

	if pubErr == nil {
		post.State = model.PostStateSent
		post.SentAt = &now
		post.ExternalID = externalID
		post.LastError = nil
		if err := s.saveOutcome(ctx, *post); err != nil {
			return err
		}
		slog.Info("post sent", "post_id", postID, "external_id", externalID, "attempts", post.AttemptCount)
		s.notify(ctx, model.NotificationPostSent, *post, "post published")
		return nil
	}

	kind := classifyPublishError(pubErr)
	post.LastError = &model.PostError{Kind: kind, Message: pubErr.Error(), At: now}

	if kind == model.ErrorKindTransient && post.AttemptCount < s.cfg.Retry.MaxAttempts {
		delay := s.cfg.Retry.Delay(attempt)
		post.State = model.PostStateScheduled
		post.ScheduledTime = now.Add(delay)
		if err := s.saveOutcome(ctx, *post); err != nil {
			return err
		}
		slog.Warn("publish attempt failed, retry scheduled",
			"post_id", postID,
			"attempt", post.AttemptCount,
			"retry_in", delay,
			"error", pubErr,
		)
		return fmt.Errorf("publish post %s: %w", postID, pubErr)
	}

	post.State = model.PostStateFailed
	if err := s.saveOutcome(ctx, *post); err != nil {
		return err
	}
	slog.Error("post failed", "post_id", postID, "kind", kind, "attempts", post.AttemptCount, "error", pubErr)
	s.notify(ctx, model.NotificationPostFailed, *post, post.LastError.Message)
	return fmt.Errorf("publish post %s: %w", postID, pubErr)
}

// saveOutcome writes the result of an attempt, retrying the write once. A post
// whose outcome is never written stays in publishing until the next restart.
func (s *PublishScheduler) saveOutcome(ctx context.Context, post model.ScheduledPost) error {
	err := s.posts.Update(ctx, post)
	if err == nil {
		return nil
	}
	slog.Warn("recording publish outcome failed, retrying", "post_id", post.ID, "state", post.State, "error", err)

	if err := s.posts.Update(ctx, post); err != nil {
		slog.Error("recording publish outcome failed, post left in publishing",
			"post_id", post.ID,
			"state", post.State,
			"error", err,
		)
		return fmt.Errorf("record outcome for post %s: %w", post.ID, err)
	}
	return nil
}

// classifyPublishError decides whether a failed attempt may be retried.
// Credential and decryption problems need the user to reconnect, so they are
// never retried; anything unrecognised is assumed transient.
func classifyPublishError(err error) model.ErrorKind {
	switch {
	case errors.Is(err, model.ErrPermanentPublish):
		return model.ErrorKindPermanent
	case errors.Is(err, model.ErrTransientPublish):
		return model.ErrorKindTransient
	case errors.Is(err, model.ErrCredentialExpired),
		errors.Is(err, model.ErrCredentialRevoked),
		errors.Is(err, cryptobox.ErrDecryption),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, driven.ErrSecretNotConfigured):
		return model.ErrorKindCredential
	default:
		return model.ErrorKindTransient
	}
}

// Cancel moves a scheduled post to cancelled.
func (s *PublishScheduler) Cancel(ctx context.Context, postID string) (*model.ScheduledPost, error) {
	return s.transition(ctx, postID, "cancel", func(p *model.ScheduledPost, now time.Time) error {
		if p.State != model.PostStateScheduled {
			return &model.TransitionError{PostID: p.ID, From: p.State, Action: "cancel"}
		}
		p.State = model.PostStateCancelled
		return nil
	})
}

// Reschedule changes the time of a scheduled post that is not yet due.
func (s *PublishScheduler) Reschedule(ctx context.Context, postID string, newTime time.Time) (*model.ScheduledPost, error) {
	return s.transition(ctx, postID, "reschedule", func(p *model.ScheduledPost, now time.Time) error {
		if p.State != model.PostStateScheduled || p.Due(now) {
			return &model.TransitionError{PostID: p.ID, From: p.State, Action: "reschedule"}
		}
		if !newTime.After(now) {
			return model.ErrInvalidTime
		}
		p.ScheduledTime = newTime.UTC()
		return nil
	})
}

// Retry requeues a failed post for immediate dispatch with a fresh attempt budget.
func (s *PublishScheduler) Retry(ctx context.Context, postID string) (*model.ScheduledPost, error) {
	return s.transition(ctx, postID, "retry", func(p *model.ScheduledPost, now time.Time) error {
		if p.State != model.PostStateFailed {
			return &model.TransitionError{PostID: p.ID, From: p.State, Action: "retry"}
		}
		p.State = model.PostStateScheduled
		p.AttemptCount = 0
		p.ScheduledTime = now
		p.LastError = nil
		return nil
	})
}

// Update edits the caption or media of a post that is still scheduled.
func (s *PublishScheduler) Update(ctx context.Context, postID string, upd model.PostUpdate) (*model.ScheduledPost, error) {
	return s.transition(ctx, postID, "update", func(p *model.ScheduledPost, now time.Time) error {
		if p.State != model.PostStateScheduled {
			return &model.TransitionError{PostID: p.ID, From: p.State, Action: "update"}
		}
		caption, mediaRef := p.Caption, p.MediaRef
		if upd.Caption != nil {
			caption = *upd.Caption
		}
		if upd.MediaRef != nil {
			mediaRef = *upd.MediaRef
		}
		if err := s.validateContent(ctx, mediaRef, caption); err != nil {
			return err
		}
		p.Caption, p.MediaRef = caption, mediaRef
		return nil
	})
}

// Delete removes a post in any state except publishing.
func (s *PublishScheduler) Delete(ctx context.Context, postID string) error {
	unlock := s.locks.Lock(postID)
	defer unlock()

	post, err := s.get(ctx, postID)
	if err != nil {
		return err
	}
	if post.State == model.PostStatePublishing {
		return &model.TransitionError{PostID: postID, From: post.State, Action: "delete"}
	}
	return s.posts.Delete(ctx, postID)
}

// Get returns a copy of the post.
func (s *PublishScheduler) Get(ctx context.Context, postID string) (*model.ScheduledPost, error) {
	return s.get(ctx, postID)
}

// ListByState returns all posts in state ordered by scheduled time.
func (s *PublishScheduler) ListByState(ctx context.Context, state model.PostState) ([]model.ScheduledPost, error) {
	return s.posts.List(ctx, model.PostFilter{State: state})
}

// List returns posts matching filter ordered by scheduled time.
func (s *PublishScheduler) List(ctx context.Context, filter model.PostFilter) ([]model.ScheduledPost, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, &model.ValidationError{Field: "state", Message: fmt.Sprintf("unknown value %q", filter.State)}
	}
	return s.posts.List(ctx, filter)
}

// CancelAllForAccount cancels every scheduled post of an account and returns
// how many were cancelled. Posts mid-publish are left to finish.
func (s *PublishScheduler) CancelAllForAccount(ctx context.Context, accountID string) (int, error) {
	posts, err := s.posts.List(ctx, model.PostFilter{AccountID: accountID, State: model.PostStateScheduled})
	if err != nil {
		return 0, err
	}

	var cancelled int
	for _, p := range posts {
		if _, err := s.Cancel(ctx, p.ID); err != nil {
			if errors.Is(err, model.ErrInvalidTransition) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// RecoverInterrupted handles posts left in publishing by a crash. The platform
// may or may not have received them, so each counts as an attempt and is
// requeued for immediate dispatch, or failed once the attempt budget is spent.
func (s *PublishScheduler) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := s.posts.List(ctx, model.PostFilter{State: model.PostStatePublishing})
	if err != nil {
		return 0, err
	}

	for _, p := range stuck {
		unlock := s.locks.Lock(p.ID)
		now := s.clock.Now()
		p.AttemptCount++
		p.UpdatedAt = now
		p.LastError = &model.PostError{Kind: model.ErrorKindInterrupted, Message: "publish interrupted by restart", At: now}
		if p.AttemptCount < s.cfg.Retry.MaxAttempts {
			p.State = model.PostStateScheduled
			p.ScheduledTime = now
		} else {
			p.State = model.PostStateFailed
		}
		err := s.posts.Update(ctx, p)
		unlock()
		if err != nil {
			return 0, err
		}
		slog.Warn("recovered interrupted publish", "post_id", p.ID, "state", p.State, "attempts", p.AttemptCount)
	}
	return len(stuck), nil
}

func (s *PublishScheduler) transition(
	ctx context.Context,
	postID, action string,
	apply func(p *model.ScheduledPost, now time.Time) error,
) (*model.ScheduledPost, error) {
	unlock := s.locks.Lock(postID)
	defer unlock()

	post, err := s.get(ctx, postID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := apply(post, now); err != nil {
		return nil, err
	}
	post.UpdatedAt = now

	if err := s.posts.Update(ctx, *post); err != nil {
		return nil, err
	}
	slog.Info("post "+action, "post_id", postID, "state", post.State)
	return post, nil
}

func (s *PublishScheduler) get(ctx context.Context, postID string) (*model.ScheduledPost, error) {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, fmt.Errorf("post %s: %w", postID, model.ErrNotFound)
	}
	return post, nil
}

func (s *PublishScheduler) validateContent(ctx context.Context, mediaRef, caption string) error {
	if strings.TrimSpace(mediaRef) == "" {
		return &model.ValidationError{Field: "media_ref", Message: "is required"}
	}
	if err := model.ValidateCaption(caption); err != nil {
		return err
	}
	if s.media == nil {
		return nil
	}
	if _, err := s.media.Stat(ctx, mediaRef); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &model.ValidationError{Field: "media_ref", Message: "does not exist"}
		}
		return err
	}
	return nil
}

func (s *PublishScheduler) notify(ctx context.Context, kind model.NotificationKind, p model.ScheduledPost, msg string) {
	if s.notifier == nil {
		return
	}
	n := model.Notification{Kind: kind, AccountID: p.AccountID, PostID: p.ID, Message: msg, At: s.clock.Now()}
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Error("notification failed", "post_id", p.ID, "kind", kind, "error", err)
	}
}
