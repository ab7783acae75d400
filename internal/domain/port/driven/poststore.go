package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

// PostStore defines the driven port for scheduled post persistence.
type PostStore interface {
	Create(ctx context.Context, post model.ScheduledPost) error

	// Get returns the post, or (nil, nil) if none exists.
	Get(ctx context.Context, id string) (*model.ScheduledPost, error)

	// Update replaces every mutable field of an existing post. Returns
	// model.ErrNotFound when no record matches.
	Update(ctx context.Context, post model.ScheduledPost) error

	Delete(ctx context.Context, id string) error

	// ListDue returns IDs of scheduled posts whose time is at or before now,
	// oldest first.
	ListDue(ctx context.Context, now time.Time) ([]string, error)

	// List returns posts matching filter ordered by scheduled time.
	List(ctx context.Context, filter model.PostFilter) ([]model.ScheduledPost, error)

	CountByState(ctx context.Context) (map[model.PostState]int, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
	CountSentSince(ctx context.Context, since time.Time) (int, error)
}
