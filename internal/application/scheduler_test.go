package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

func TestSchedule_RejectsNonFutureTime(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))

	for _, at := range []time.Time{t0.Add(-time.Second), t0} {
		_, err := f.scheduler.Schedule(context.Background(), model.NewPost{
			AccountID: "acct", MediaRef: "clip.mp4", ScheduledTime: at,
		})
		assert.ErrorIs(t, err, model.ErrInvalidTime)
	}
}

func TestSchedule_AppearsInDueNowOnceTimeArrives(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	ctx := context.Background()

	id := f.schedule("acct", time.Hour)
	post := f.post(id)
	assert.Equal(t, model.PostStateScheduled, post.State)
	assert.Equal(t, 0, post.AttemptCount)

	due, err := f.scheduler.DueNow(ctx, t0.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = f.scheduler.DueNow(ctx, t0.Add(time.Hour+time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, due)
}

func TestSchedule_Validation(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	future := t0.Add(time.Hour)

	tests := []struct {
		name    string
		in      model.NewPost
		wantErr error
	}{
		{name: "unknown account", in: model.NewPost{AccountID: "ghost", MediaRef: "a.mp4", ScheduledTime: future}, wantErr: model.ErrNotFound},
		{name: "missing account", in: model.NewPost{MediaRef: "a.mp4", ScheduledTime: future}, wantErr: model.ErrInvalidInput},
		{name: "missing media", in: model.NewPost{AccountID: "acct", ScheduledTime: future}, wantErr: model.ErrInvalidInput},
		{
			name:    "caption too long",
			in:      model.NewPost{AccountID: "acct", MediaRef: "a.mp4", Caption: strings.Repeat("x", model.MaxCaptionLength+1), ScheduledTime: future},
			wantErr: model.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.scheduler.Schedule(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAttemptPublish_Success(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	require.NoError(t, f.scheduler.AttemptPublish(context.Background(), id))

	post := f.post(id)
	assert.Equal(t, model.PostStateSent, post.State)
	assert.Equal(t, 1, post.AttemptCount)
	require.NotNil(t, post.SentAt)
	assert.Equal(t, f.clock.Now(), *post.SentAt)
	assert.Equal(t, "ext-clip.mp4-1", post.ExternalID)
	assert.Nil(t, post.LastError)
	assert.Equal(t, []string{"access-acct"}, f.publisher.tokens)
	assert.Equal(t, []model.NotificationKind{model.NotificationPostSent}, f.notifier.kinds())
}

func TestAttemptPublish_NotDueIsNoop(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	id := f.schedule("acct", time.Hour)

	require.NoError(t, f.scheduler.AttemptPublish(context.Background(), id))
	assert.Equal(t, model.PostStateScheduled, f.post(id).State)
	assert.Equal(t, 0, f.publisher.callCount())
}

func TestAttemptPublish_UnknownPost(t *testing.T) {
	f := newFixture(3)
	err := f.scheduler.AttemptPublish(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAttemptPublish_TransientExhaustsAttempts(t *testing.T) {
	const maxAttempts = 4
	f := newFixture(maxAttempts)
	f.connect("acct", t0.Add(24*time.Hour))
	for range maxAttempts {
		f.publisher.results = append(f.publisher.results, model.NewTransientPublishError("rate limited", nil))
	}

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	wantDelays := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute}
	for i := range maxAttempts {
		err := f.scheduler.AttemptPublish(context.Background(), id)
		require.ErrorIs(t, err, model.ErrTransientPublish)

		post := f.post(id)
		assert.Equal(t, i+1, post.AttemptCount)
		require.NotNil(t, post.LastError)
		assert.Equal(t, model.ErrorKindTransient, post.LastError.Kind)

		if i < maxAttempts-1 {
			assert.Equal(t, model.PostStateScheduled, post.State)
			assert.Equal(t, f.clock.Now().Add(wantDelays[i]), post.ScheduledTime)
			f.clock.Set(post.ScheduledTime)
		} else {
			assert.Equal(t, model.PostStateFailed, post.State)
		}
	}

	assert.Equal(t, maxAttempts, f.publisher.callCount())
	assert.Equal(t, []model.NotificationKind{model.NotificationPostFailed}, f.notifier.kinds())

	// Terminal: further attempts do nothing.
	require.NoError(t, f.scheduler.AttemptPublish(context.Background(), id))
	assert.Equal(t, maxAttempts, f.publisher.callCount())
}

func TestAttemptPublish_SucceedsOnAttemptK(t *testing.T) {
	for k := 1; k <= 3; k++ {
		f := newFixture(3)
		f.connect("acct", t0.Add(24*time.Hour))
		for range k - 1 {
			f.publisher.results = append(f.publisher.results, errors.New("network unreachable"))
		}

		id := f.schedule("acct", time.Minute)
		for {
			post := f.post(id)
			if post.State.Terminal() {
				break
			}
			f.clock.Set(post.ScheduledTime)
			_ = f.scheduler.AttemptPublish(context.Background(), id)
		}

		post := f.post(id)
		assert.Equal(t, model.PostStateSent, post.State, "k=%d", k)
		assert.Equal(t, k, post.AttemptCount, "k=%d", k)
	}
}

func TestAttemptPublish_PermanentFailsImmediately(t *testing.T) {
	f := newFixture(5)
	f.connect("acct", t0.Add(time.Hour))
	f.publisher.results = []error{model.NewPermanentPublishError("content violates guidelines", nil)}

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	err := f.scheduler.AttemptPublish(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrPermanentPublish)

	post := f.post(id)
	assert.Equal(t, model.PostStateFailed, post.State)
	assert.Equal(t, 1, post.AttemptCount)
	require.NotNil(t, post.LastError)
	assert.Equal(t, model.ErrorKindPermanent, post.LastError.Kind)
	assert.Contains(t, post.LastError.Message, "guidelines")
}

func TestAttemptPublish_ExpiredCredentialFailsFast(t *testing.T) {
	f := newFixture(5)
	f.connect("acct", t0)
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		return nil, driven.ErrRefreshRejected
	}

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	err := f.scheduler.AttemptPublish(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrCredentialExpired)

	post := f.post(id)
	assert.Equal(t, model.PostStateFailed, post.State)
	assert.Equal(t, 1, post.AttemptCount)
	assert.Equal(t, model.ErrorKindCredential, post.LastError.Kind)
	assert.Equal(t, 0, f.publisher.callCount())
}

func TestAttemptPublish_TransientRefreshIsRetried(t *testing.T) {
	f := newFixture(5)
	f.connect("acct", t0)
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		return nil, errors.New("503 service unavailable")
	}

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	err := f.scheduler.AttemptPublish(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrTransientRefresh)

	post := f.post(id)
	assert.Equal(t, model.PostStateScheduled, post.State)
	assert.Equal(t, 1, post.AttemptCount)
}

func TestAttemptPublish_RejectedTokenIsRefreshedBeforeRetry(t *testing.T) {
	f := newFixture(5)
	f.connect("acct", t0.Add(time.Hour))
	f.publisher.results = []error{
		model.NewTransientPublishError("upload: status 401", model.ErrAccessTokenRejected),
	}

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	err := f.scheduler.AttemptPublish(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrAccessTokenRejected)

	post := f.post(id)
	assert.Equal(t, model.PostStateScheduled, post.State)
	assert.Equal(t, 1, post.AttemptCount)
	assert.Equal(t, model.ErrorKindTransient, post.LastError.Kind)
	assert.Equal(t, int32(1), f.oauth.refreshCalls.Load())

	cred, err := f.vault.Get(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, model.CredentialStatusActive, cred.Status)

	f.clock.Set(post.ScheduledTime)
	require.NoError(t, f.scheduler.AttemptPublish(context.Background(), id))
	assert.Equal(t, model.PostStateSent, f.post(id).State)
	assert.Equal(t, []string{"access-acct", "refreshed-access"}, f.publisher.tokens)
}

func TestAttemptPublish_RejectedTokenWithRefusedRefreshFailsOnCredential(t *testing.T) {
	f := newFixture(5)
	f.connect("acct", t0.Add(time.Hour))
	f.publisher.results = []error{
		model.NewTransientPublishError("publish: status 401", model.ErrAccessTokenRejected),
	}
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		return nil, driven.ErrRefreshRejected
	}

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	err := f.scheduler.AttemptPublish(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrCredentialExpired)

	post := f.post(id)
	assert.Equal(t, model.PostStateFailed, post.State)
	require.NotNil(t, post.LastError)
	assert.Equal(t, model.ErrorKindCredential, post.LastError.Kind)

	cred, err := f.vault.Get(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, model.CredentialStatusExpired, cred.Status)

	_, err = f.tokens.EnsureValid(context.Background(), "acct")
	assert.ErrorIs(t, err, model.ErrCredentialExpired)
}

func TestAttemptPublish_OutcomeWriteIsRetriedOnce(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantState model.PostState
	}{
		{name: "first write fails", failures: 1, wantState: model.PostStateSent},
		{name: "both writes fail", failures: 2, wantErr: true, wantState: model.PostStatePublishing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(3)
			f.connect("acct", t0.Add(time.Hour))
			posts := &failingOutcomePosts{PostStore: f.posts, n: tt.failures}
			sched := application.NewPublishScheduler(posts, f.creds, f.tokens, f.publisher, nil, f.notifier, f.clock,
				application.SchedulerConfig{})

			id, err := sched.Schedule(context.Background(), model.NewPost{AccountID: "acct", MediaRef: "x.mp4", ScheduledTime: t0.Add(time.Minute)})
			require.NoError(t, err)
			f.clock.Advance(time.Minute)

			err = sched.AttemptPublish(context.Background(), id)
			if tt.wantErr {
				assert.ErrorContains(t, err, "database is locked")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantState, f.post(id).State)
			assert.Equal(t, 1, f.publisher.callCount())
		})
	}
}

func TestAttemptPublish_TimeoutIsTransient(t *testing.T) {
	f := newFixture(5)
	f.connect("acct", t0.Add(time.Hour))
	f.publisher.release = make(chan struct{}) // never closed; publish blocks until the timeout

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	err := f.scheduler.AttemptPublish(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrTransientPublish)
	assert.Equal(t, model.PostStateScheduled, f.post(id).State)
}

func TestAttemptPublish_ConcurrentCallsPublishOnce(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	f.publisher.started = make(chan struct{}, 1)
	f.publisher.release = make(chan struct{})

	id := f.schedule("acct", time.Minute)
	f.clock.Advance(time.Minute)

	done := make(chan error, 1)
	go func() { done <- f.scheduler.AttemptPublish(context.Background(), id) }()
	<-f.publisher.started

	assert.Equal(t, model.PostStatePublishing, f.post(id).State)
	require.NoError(t, f.scheduler.AttemptPublish(context.Background(), id), "second call is a no-op")

	_, err := f.scheduler.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	err = f.scheduler.Delete(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	close(f.publisher.release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.publisher.callCount())
	assert.Equal(t, model.PostStateSent, f.post(id).State)
}

func TestCancel(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	ctx := context.Background()

	id := f.schedule("acct", time.Minute)
	post, err := f.scheduler.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PostStateCancelled, post.State)

	due, err := f.scheduler.DueNow(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = f.scheduler.Cancel(ctx, id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.scheduler.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReschedule(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	ctx := context.Background()

	id := f.schedule("acct", time.Hour)

	_, err := f.scheduler.Reschedule(ctx, id, t0.Add(-time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidTime)

	post, err := f.scheduler.Reschedule(ctx, id, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), post.ScheduledTime)
	assert.Equal(t, model.PostStateScheduled, post.State)

	// Once due, the dispatcher owns the post.
	f.clock.Set(t0.Add(2 * time.Hour))
	_, err = f.scheduler.Reschedule(ctx, id, t0.Add(3*time.Hour))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestRetry_ResetsFailedPost(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	f.publisher.results = []error{model.NewPermanentPublishError("rejected", nil)}
	ctx := context.Background()

	id := f.schedule("acct", time.Minute)

	_, err := f.scheduler.Retry(ctx, id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "only failed posts can be retried")

	f.clock.Advance(time.Minute)
	_ = f.scheduler.AttemptPublish(ctx, id)
	require.Equal(t, model.PostStateFailed, f.post(id).State)

	f.clock.Advance(time.Hour)
	post, err := f.scheduler.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PostStateScheduled, post.State)
	assert.Equal(t, 0, post.AttemptCount)
	assert.Equal(t, f.clock.Now(), post.ScheduledTime)
	assert.Nil(t, post.LastError)

	require.NoError(t, f.scheduler.AttemptPublish(ctx, id))
	assert.Equal(t, model.PostStateSent, f.post(id).State)
}

func TestUpdate_EditsScheduledPostOnly(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	ctx := context.Background()

	id := f.schedule("acct", time.Hour)
	caption := "new caption #tag"
	media := "other.mp4"

	post, err := f.scheduler.Update(ctx, id, model.PostUpdate{Caption: &caption, MediaRef: &media})
	require.NoError(t, err)
	assert.Equal(t, caption, post.Caption)
	assert.Equal(t, media, post.MediaRef)

	empty := ""
	_, err = f.scheduler.Update(ctx, id, model.PostUpdate{MediaRef: &empty})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.scheduler.Cancel(ctx, id)
	require.NoError(t, err)
	_, err = f.scheduler.Update(ctx, id, model.PostUpdate{Caption: &caption})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestDelete(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	ctx := context.Background()

	id := f.schedule("acct", time.Hour)
	require.NoError(t, f.scheduler.Delete(ctx, id))

	_, err := f.scheduler.Get(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListByStateAndFilter(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	ctx := context.Background()

	a := f.schedule("acct", 2*time.Hour)
	b := f.schedule("acct", time.Hour)
	_, err := f.scheduler.Cancel(ctx, a)
	require.NoError(t, err)

	scheduled, err := f.scheduler.ListByState(ctx, model.PostStateScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, b, scheduled[0].ID)

	all, err := f.scheduler.List(ctx, model.PostFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b, all[0].ID, "ordered by scheduled time")

	_, err = f.scheduler.List(ctx, model.PostFilter{State: "weird"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCancelAllForAccount(t *testing.T) {
	f := newFixture(3)
	f.connect("a", t0.Add(time.Hour))
	f.connect("b", t0.Add(time.Hour))
	ctx := context.Background()

	f.schedule("a", time.Hour)
	f.schedule("a", 2*time.Hour)
	other := f.schedule("b", time.Hour)

	n, err := f.scheduler.CancelAllForAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.PostStateScheduled, f.post(other).State)
}

func TestRecoverInterrupted(t *testing.T) {
	f := newFixture(2)
	ctx := context.Background()

	fresh := model.ScheduledPost{ID: "fresh", AccountID: "acct", MediaRef: "a.mp4", State: model.PostStatePublishing, ScheduledTime: t0.Add(-time.Minute)}
	spent := model.ScheduledPost{ID: "spent", AccountID: "acct", MediaRef: "b.mp4", State: model.PostStatePublishing, AttemptCount: 1, ScheduledTime: t0.Add(-time.Minute)}
	require.NoError(t, f.posts.Create(ctx, fresh))
	require.NoError(t, f.posts.Create(ctx, spent))

	n, err := f.scheduler.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := f.post("fresh")
	assert.Equal(t, model.PostStateScheduled, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, t0, got.ScheduledTime)
	assert.Equal(t, model.ErrorKindInterrupted, got.LastError.Kind)

	got = f.post("spent")
	assert.Equal(t, model.PostStateFailed, got.State)
	assert.Equal(t, 2, got.AttemptCount)
}

// A post due at T+10m for an account whose token expires at T+5m is
// published with a token refreshed at dispatch time.
func TestScenario_RefreshThenPublish(t *testing.T) {
	f := newFixture(3)
	f.connect("A", t0.Add(5*time.Minute))
	f.oauth.refresh = func(context.Context, string) (*model.TokenSet, error) {
		return &model.TokenSet{AccessToken: "fresh-A", RefreshToken: "r2", AccessExpiresAt: t0.Add(70 * time.Minute)}, nil
	}

	id := f.schedule("A", 10*time.Minute)
	f.clock.Set(t0.Add(10 * time.Minute))

	due, err := f.scheduler.DueNow(context.Background(), f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, []string{id}, due)
	require.NoError(t, f.scheduler.AttemptPublish(context.Background(), id))

	assert.Equal(t, model.PostStateSent, f.post(id).State)
	assert.Equal(t, []string{"fresh-A"}, f.publisher.tokens)

	cred, err := f.vault.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, t0.Add(70*time.Minute).Equal(cred.AccessExpiresAt))
}

func TestScheduler_AcceptsAnyTokenProvider(t *testing.T) {
	f := newFixture(3)
	f.connect("acct", t0.Add(time.Hour))
	sched := application.NewPublishScheduler(f.posts, f.creds, fixedTokens{token: "canned"}, f.publisher, nil, nil, f.clock,
		application.SchedulerConfig{})

	id, err := sched.Schedule(context.Background(), model.NewPost{AccountID: "acct", MediaRef: "x.mp4", ScheduledTime: t0.Add(time.Minute)})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	require.NoError(t, sched.AttemptPublish(context.Background(), id))
	assert.Equal(t, []string{"canned"}, f.publisher.tokens)
}
