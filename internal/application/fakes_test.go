package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/adapter/driven/memory"
	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

var testSecret = []byte("correct horse battery staple")

// --- Mock implementations ---

type staticSecrets struct {
	secret []byte
}

func (s staticSecrets) Secret(context.Context, string) ([]byte, error)    { return s.secret, nil }
func (s staticSecrets) Provision(context.Context, string) ([]byte, error) { return s.secret, nil }
func (s staticSecrets) Forget(context.Context, string) error              { return nil }

type mockOAuth struct {
	refreshCalls atomic.Int32
	refresh      func(ctx context.Context, refreshToken string) (*model.TokenSet, error)
	exchange     func(ctx context.Context, code string) (*model.ConnectedAccount, error)
}

func (m *mockOAuth) Exchange(ctx context.Context, code string) (*model.ConnectedAccount, error) {
	return m.exchange(ctx, code)
}

func (m *mockOAuth) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	m.refreshCalls.Add(1)
	return m.refresh(ctx, refreshToken)
}

func (m *mockOAuth) FetchProfile(_ context.Context, _ string) (*model.AccountProfile, error) {
	return nil, fmt.Errorf("not implemented")
}

// scriptedPublisher returns results in order; once exhausted it succeeds.
type scriptedPublisher struct {
	mu      sync.Mutex
	results []error
	calls   int
	tokens  []string
	started chan struct{}
	release chan struct{}
}

func (p *scriptedPublisher) Publish(ctx context.Context, accessToken, mediaRef, _ string) (string, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.tokens = append(p.tokens, accessToken)
	var result error
	if len(p.results) > 0 {
		result = p.results[0]
		p.results = p.results[1:]
	}
	started, release := p.started, p.release
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if result != nil {
		return "", result
	}
	return fmt.Sprintf("ext-%s-%d", mediaRef, call), nil
}

func (p *scriptedPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) kinds() []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.NotificationKind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

// fixedTokens satisfies AccessTokenProvider with a canned answer.
type fixedTokens struct {
	token string
	err   error
}

func (f fixedTokens) EnsureValid(context.Context, string) (string, error) {
	return f.token, f.err
}

func (f fixedTokens) ForceRefresh(context.Context, string) error {
	return f.err
}

// failingOutcomePosts fails the next n writes that move a post out of
// publishing. Claims still go through.
type failingOutcomePosts struct {
	*memory.PostStore
	mu sync.Mutex
	n  int
}

func (s *failingOutcomePosts) Update(ctx context.Context, post model.ScheduledPost) error {
	s.mu.Lock()
	fail := post.State != model.PostStatePublishing && s.n > 0
	if fail {
		s.n--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return s.PostStore.Update(ctx, post)
}

// --- Fixture ---

type fixture struct {
	clock     *clock.Fake
	creds     *memory.CredentialStore
	posts     *memory.PostStore
	vault     *application.CredentialVault
	oauth     *mockOAuth
	tokens    *application.TokenManager
	publisher *scriptedPublisher
	notifier  *recordingNotifier
	scheduler *application.PublishScheduler
}

func newFixture(maxAttempts int) *fixture {
	f := &fixture{
		clock:     clock.NewFake(t0),
		creds:     memory.NewCredentialStore(),
		posts:     memory.NewPostStore(),
		publisher: &scriptedPublisher{},
		notifier:  &recordingNotifier{},
	}
	f.oauth = &mockOAuth{
		refresh: func(context.Context, string) (*model.TokenSet, error) {
			return &model.TokenSet{
				AccessToken:     "refreshed-access",
				RefreshToken:    "refreshed-refresh",
				AccessExpiresAt: f.clock.Now().Add(time.Hour),
			}, nil
		},
	}
	f.vault = application.NewCredentialVault(f.creds, f.clock)
	f.tokens = application.NewTokenManager(f.vault, f.oauth, staticSecrets{secret: testSecret}, f.notifier, f.clock,
		application.TokenManagerConfig{Margin: 5 * time.Minute, RefreshTimeout: time.Second})
	f.scheduler = application.NewPublishScheduler(f.posts, f.creds, f.tokens, f.publisher, nil, f.notifier, f.clock,
		application.SchedulerConfig{
			Retry:          application.RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Minute, MaxDelay: time.Hour},
			PublishTimeout: time.Second,
		})
	return f
}

// connect stores a credential whose access token expires at accessExpiresAt.
func (f *fixture) connect(accountID string, accessExpiresAt time.Time) {
	err := f.vault.Put(context.Background(),
		model.AccountProfile{AccountID: accountID, Username: accountID},
		model.TokenSet{AccessToken: "access-" + accountID, RefreshToken: "refresh-" + accountID, AccessExpiresAt: accessExpiresAt},
		testSecret,
	)
	if err != nil {
		panic(err)
	}
}

// schedule queues a post at the given offset from the fake clock.
func (f *fixture) schedule(accountID string, in time.Duration) string {
	id, err := f.scheduler.Schedule(context.Background(), model.NewPost{
		AccountID:     accountID,
		MediaRef:      "clip.mp4",
		Caption:       "hello",
		ScheduledTime: f.clock.Now().Add(in),
	})
	if err != nil {
		panic(err)
	}
	return id
}

func (f *fixture) post(id string) model.ScheduledPost {
	p, err := f.posts.Get(context.Background(), id)
	if err != nil || p == nil {
		panic(fmt.Sprintf("post %s: %v", id, err))
	}
	return *p
}

var _ driven.Publisher = (*scriptedPublisher)(nil)
