package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reelqueue/internal/adapter/driven/memory"
	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

type stubRefresher struct {
	mu      sync.Mutex
	due     []string
	failing map[string]bool
	seen    []string
}

func (s *stubRefresher) ScanDue(context.Context, time.Time) ([]string, error) {
	return s.due, nil
}

func (s *stubRefresher) Refresh(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, id)
	if s.failing[id] {
		return model.ErrTransientRefresh
	}
	return nil
}

type stubPosts struct {
	mu        sync.Mutex
	due       []string
	failing   map[string]bool
	attempted []string
}

func (s *stubPosts) DueNow(context.Context, time.Time) ([]string, error) {
	return s.due, nil
}

func (s *stubPosts) AttemptPublish(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempted = append(s.attempted, id)
	if s.failing[id] {
		return errors.New("boom")
	}
	return nil
}

func TestDispatcher_TickIsolatesFailures(t *testing.T) {
	refresher := &stubRefresher{due: []string{"a", "b", "c"}, failing: map[string]bool{"b": true}}
	posts := &stubPosts{due: []string{"p1", "p2", "p3", "p4"}, failing: map[string]bool{"p2": true, "p3": true}}

	d := application.NewDispatcher(refresher, posts, nil, clock.NewFake(t0), time.Minute, 2)
	res := d.Tick(context.Background())

	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Refreshed)
	assert.Equal(t, 1, res.RefreshErrors)
	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 2, res.PublishErrors)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3", "p4"}, posts.attempted)
	assert.Equal(t, []string{"a", "b", "c"}, refresher.seen)

	last := d.LastTick()
	require.NotNil(t, last)
	assert.Equal(t, res, *last)
}

func TestDispatcher_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	lease := memory.NewLeaseStore()
	ok, err := lease.Acquire(context.Background(), "dispatcher", "other-instance", time.Hour, t0)
	require.NoError(t, err)
	require.True(t, ok)

	refresher := &stubRefresher{due: []string{"a"}}
	posts := &stubPosts{due: []string{"p1"}}
	d := application.NewDispatcher(refresher, posts, lease, clock.NewFake(t0), time.Minute, 1)

	res := d.Tick(context.Background())
	assert.True(t, res.Skipped)
	assert.Empty(t, refresher.seen)
	assert.Empty(t, posts.attempted)
	assert.Nil(t, d.LastTick())
}

func TestDispatcher_TakesOverExpiredLease(t *testing.T) {
	lease := memory.NewLeaseStore()
	_, err := lease.Acquire(context.Background(), "dispatcher", "crashed", time.Minute, t0.Add(-time.Hour))
	require.NoError(t, err)

	posts := &stubPosts{due: []string{"p1"}}
	d := application.NewDispatcher(&stubRefresher{}, posts, lease, clock.NewFake(t0), time.Minute, 1)

	res := d.Tick(context.Background())
	assert.False(t, res.Skipped)
	assert.Equal(t, []string{"p1"}, posts.attempted)
}

func TestDispatcher_TriggerRunsTick(t *testing.T) {
	posts := &stubPosts{}
	d := application.NewDispatcher(&stubRefresher{}, posts, memory.NewLeaseStore(), clock.NewFake(t0), time.Hour, 1)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(stopped)
	}()

	res, err := d.Trigger(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_TriggerHonoursContext(t *testing.T) {
	d := application.NewDispatcher(&stubRefresher{}, &stubPosts{}, nil, clock.NewFake(t0), time.Minute, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Trigger(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_EndToEnd(t *testing.T) {
	f := newFixture(3)
	f.connect("A", t0.Add(3*time.Minute))
	f.connect("B", t0.Add(time.Hour))
	f.publisher.results = []error{model.NewPermanentPublishError("rejected", nil)}

	p1 := f.schedule("A", time.Minute)
	f.clock.Advance(time.Second)
	p2 := f.schedule("B", time.Minute)
	future := f.schedule("B", time.Hour)

	f.clock.Advance(2 * time.Minute)
	d := application.NewDispatcher(f.tokens, f.scheduler, memory.NewLeaseStore(), f.clock, time.Minute, 4)
	res := d.Tick(context.Background())

	assert.Equal(t, 1, res.Refreshed, "A expires within the margin")
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.PublishErrors)

	states := map[model.PostState]int{}
	for _, id := range []string{p1, p2} {
		states[f.post(id).State]++
	}
	assert.Equal(t, map[model.PostState]int{model.PostStateSent: 1, model.PostStateFailed: 1}, states)
	assert.Equal(t, model.PostStateScheduled, f.post(future).State)
}
