package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

const (
	dashboardWindow       = 30 * 24 * time.Hour
	dashboardRecentLimit  = 10
	dashboardUpcomingSpan = 7 * 24 * time.Hour
)

// DashboardService assembles read-only projections over posts and accounts.
type DashboardService struct {
	posts driven.PostStore
	creds driven.CredentialStore
	clock clock.Clock
}

// NewDashboardService creates a new DashboardService with the required dependencies.
func NewDashboardService(posts driven.PostStore, creds driven.CredentialStore, clk clock.Clock) *DashboardService {
	return &DashboardService{posts: posts, creds: creds, clock: clk}
}

// Summary returns counts by state, 30-day activity, the most recent failures,
// the next week of scheduled posts, and connected accounts.
func (s *DashboardService) Summary(ctx context.Context) (*model.DashboardSummary, error) {
	now := s.clock.Now()
	since := now.Add(-dashboardWindow)

	counts, err := s.posts.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard counts: %w", err)
	}

	created, err := s.posts.CountCreatedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("dashboard created count: %w", err)
	}

	sent, err := s.posts.CountSentSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("dashboard sent count: %w", err)
	}

	failed, err := s.posts.List(ctx, model.PostFilter{State: model.PostStateFailed})
	if err != nil {
		return nil, fmt.Errorf("dashboard failures: %w", err)
	}

	upcoming, err := s.posts.List(ctx, model.PostFilter{
		State: model.PostStateScheduled,
		From:  now,
		To:    now.Add(dashboardUpcomingSpan),
		Limit: dashboardRecentLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard upcoming: %w", err)
	}

	accounts, err := s.creds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard accounts: %w", err)
	}

	return &model.DashboardSummary{
		CountsByState:  counts,
		CreatedLast30d: created,
		SentLast30d:    sent,
		RecentFailures: mostRecentFailures(failed, dashboardRecentLimit),
		Upcoming:       upcoming,
		Accounts:       accounts,
	}, nil
}

// mostRecentFailures returns up to limit failed posts, newest failure first.
// Posts arrive ordered by scheduled time, which approximates failure order, so
// the tail is taken and reversed.
func mostRecentFailures(failed []model.ScheduledPost, limit int) []model.ScheduledPost {
	out := make([]model.ScheduledPost, 0, min(len(failed), limit))
	for i := len(failed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, failed[i])
	}
	return out
}
