package application

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// dispatchLeaseName identifies the single-dispatcher lease row.
const dispatchLeaseName = "dispatcher"

// CredentialRefresher is the part of TokenManager the dispatcher drives.
type CredentialRefresher interface {
	ScanDue(ctx context.Context, now time.Time) ([]string, error)
	Refresh(ctx context.Context, accountID string) error
}

// PostDispatcher is the part of PublishScheduler the dispatcher drives.
type PostDispatcher interface {
	DueNow(ctx context.Context, now time.Time) ([]string, error)
	AttemptPublish(ctx context.Context, postID string) error
}

// TickResult summarises one dispatch tick.
type TickResult struct {
	Skipped       bool
	Refreshed     int
	RefreshErrors int
	Attempted     int
	PublishErrors int
	Duration      time.Duration
}

// triggerRequest represents a manual tick trigger.
type triggerRequest struct {
	done chan TickResult
}

// Dispatcher periodically refreshes expiring credentials and publishes due
// posts. Each tick runs in its own goroutine so a slow tick never delays the
// next; overlapping attempts on the same post are made harmless by
// PublishScheduler.AttemptPublish.
type Dispatcher struct {
	refresher CredentialRefresher
	posts     PostDispatcher
	lease     driven.LeaseStore
	holder    string
	clock     clock.Clock
	interval  time.Duration
	workers   int
	triggerCh chan triggerRequest
	wg        sync.WaitGroup
	lastTick  atomic.Pointer[TickResult]
}

// NewDispatcher creates a Dispatcher. lease may be nil for single-process
// deployments that do not share their store.
func NewDispatcher(
	refresher CredentialRefresher,
	posts PostDispatcher,
	lease driven.LeaseStore,
	clk clock.Clock,
	interval time.Duration,
	workers int,
) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		refresher: refresher,
		posts:     posts,
		lease:     lease,
		holder:    uuid.NewString(),
		clock:     clk,
		interval:  interval,
		workers:   workers,
		triggerCh: make(chan triggerRequest),
	}
}

// Start runs an immediate tick, then ticks on the configured interval. It
// also serves manual triggers. Start blocks until the context is canceled and
// all in-flight ticks have finished.
func (d *Dispatcher) Start(ctx context.Context) {
	d.spawnTick(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.releaseLease()
			slog.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.spawnTick(ctx)
		case req := <-d.triggerCh:
			req.done <- d.Tick(ctx)
		}
	}
}

// Trigger runs a tick on the dispatcher goroutine, bypassing the interval.
// It blocks until the tick completes or the context is canceled.
func (d *Dispatcher) Trigger(ctx context.Context) (TickResult, error) {
	done := make(chan TickResult, 1)
	req := triggerRequest{done: done}

	select {
	case d.triggerCh <- req:
	case <-ctx.Done():
		return TickResult{}, ctx.Err()
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return TickResult{}, ctx.Err()
	}
}

// LastTick returns the result of the most recent completed tick, or nil.
func (d *Dispatcher) LastTick() *TickResult {
	return d.lastTick.Load()
}

func (d *Dispatcher) spawnTick(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Tick(ctx)
	}()
}

// Tick performs one dispatch pass: proactive credential refresh, then publish
// attempts for due posts. Failures are logged per item and never abort the pass.
func (d *Dispatcher) Tick(ctx context.Context) TickResult {
	start := d.clock.Now()
	var res TickResult

	if !d.holdLease(ctx, start) {
		res.Skipped = true
		return res
	}

	accountIDs, err := d.refresher.ScanDue(ctx, start)
	if err != nil {
		slog.Error("scan refresh-due credentials failed", "error", err)
	}
	for _, id := range accountIDs {
		if ctx.Err() != nil {
			break
		}
		if err := d.refresher.Refresh(ctx, id); err != nil {
			slog.Error("proactive refresh failed", "account_id", id, "error", err)
			res.RefreshErrors++
			continue
		}
		res.Refreshed++
	}

	postIDs, err := d.posts.DueNow(ctx, d.clock.Now())
	if err != nil {
		slog.Error("list due posts failed", "error", err)
	}

	var publishErrors atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, id := range postIDs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := d.posts.AttemptPublish(gctx, id); err != nil {
				slog.Error("publish attempt failed", "post_id", id, "error", err)
				publishErrors.Add(1)
			}
			// Never return the error: one post must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	res.Attempted = len(postIDs)
	res.PublishErrors = int(publishErrors.Load())
	res.Duration = d.clock.Now().Sub(start)
	d.lastTick.Store(&res)

	slog.Info("dispatch tick complete",
		"refreshed", res.Refreshed,
		"refresh_errors", res.RefreshErrors,
		"attempted", res.Attempted,
		"publish_errors", res.PublishErrors,
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res
}

func (d *Dispatcher) holdLease(ctx context.Context, now time.Time) bool {
	if d.lease == nil {
		return true
	}
	ok, err := d.lease.Acquire(ctx, dispatchLeaseName, d.holder, 3*d.interval, now)
	if err != nil {
		slog.Error("acquire dispatch lease failed", "error", err)
		return false
	}
	if !ok {
		slog.Info("dispatch lease held by another instance, skipping tick")
	}
	return ok
}

func (d *Dispatcher) releaseLease() {
	if d.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.lease.Release(ctx, dispatchLeaseName, d.holder); err != nil {
		slog.Error("release dispatch lease failed", "error", err)
	}
}
