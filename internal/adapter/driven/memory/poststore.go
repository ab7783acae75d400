package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

var _ driven.PostStore = (*PostStore)(nil)

// PostStore keeps scheduled posts in a map guarded by an RWMutex.
type PostStore struct {
	mu    sync.RWMutex
	posts map[string]model.ScheduledPost
}

// NewPostStore returns an empty PostStore.
func NewPostStore() *PostStore {
	return &PostStore{posts: make(map[string]model.ScheduledPost)}
}

// Create stores a new post. It fails if the id is already taken.
func (s *PostStore) Create(_ context.Context, post model.ScheduledPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.posts[post.ID]; exists {
		return fmt.Errorf("create post %s: duplicate id", post.ID)
	}
	s.posts[post.ID] = post.Clone()
	return nil
}

// Get returns a copy of the post, or nil if there is none.
func (s *PostStore) Get(_ context.Context, id string) (*model.ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, nil
	}
	c := p.Clone()
	return &c, nil
}

// Update replaces an existing post, keeping its account and creation time.
func (s *PostStore) Update(_ context.Context, post model.ScheduledPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.posts[post.ID]
	if !ok {
		return fmt.Errorf("post %s: %w", post.ID, model.ErrNotFound)
	}
	post.AccountID = existing.AccountID
	post.CreatedAt = existing.CreatedAt
	s.posts[post.ID] = post.Clone()
	return nil
}

// Delete removes a post.
func (s *PostStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return fmt.Errorf("post %s: %w", id, model.ErrNotFound)
	}
	delete(s.posts, id)
	return nil
}

// ListDue returns the ids of scheduled posts due at now, oldest first.
func (s *PostStore) ListDue(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []model.ScheduledPost
	for _, p := range s.posts {
		if p.Due(now) {
			due = append(due, p)
		}
	}
	sortPosts(due)

	ids := make([]string, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// List returns copies of the posts matching filter.
func (s *PostStore) List(_ context.Context, filter model.PostFilter) ([]model.ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := []model.ScheduledPost{}
	for _, p := range s.posts {
		if matches(p, filter) {
			posts = append(posts, p.Clone())
		}
	}
	sortPosts(posts)

	if filter.Limit > 0 && len(posts) > filter.Limit {
		posts = posts[:filter.Limit]
	}
	return posts, nil
}

// CountByState counts posts per state, including states with no posts.
func (s *PostStore) CountByState(_ context.Context) (map[model.PostState]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.PostState]int, len(model.AllPostStates))
	for _, st := range model.AllPostStates {
		counts[st] = 0
	}
	for _, p := range s.posts {
		counts[p.State]++
	}
	return counts, nil
}

// CountCreatedSince counts posts created at or after since.
func (s *PostStore) CountCreatedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, p := range s.posts {
		if !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountSentSince counts posts sent at or after since.
func (s *PostStore) CountSentSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, p := range s.posts {
		if p.State == model.PostStateSent && p.SentAt != nil && !p.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func matches(p model.ScheduledPost, f model.PostFilter) bool {
	if f.State != "" && p.State != f.State {
		return false
	}
	if f.AccountID != "" && p.AccountID != f.AccountID {
		return false
	}
	if !f.From.IsZero() && p.ScheduledTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && p.ScheduledTime.After(f.To) {
		return false
	}
	return true
}

func sortPosts(posts []model.ScheduledPost) {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].ScheduledTime.Equal(posts[j].ScheduledTime) {
			return posts[i].ScheduledTime.Before(posts[j].ScheduledTime)
		}
		return posts[i].ID < posts[j].ID
	})
}
