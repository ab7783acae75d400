package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PostStore = (*PostRepo)(nil)

// PostRepo is the SQLite implementation of the PostStore port interface.
// It maps rows through sqlx struct scanning.
type PostRepo struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPostRepo creates a new PostRepo backed by the given DB.
func NewPostRepo(db *DB) *PostRepo {
	return &PostRepo{
		writer: sqlx.NewDb(db.Writer, "sqlite"),
		reader: sqlx.NewDb(db.Reader, "sqlite"),
	}
}

// postRow mirrors the scheduled_posts table.
type postRow struct {
	ID               string         `db:"id"`
	AccountID        string         `db:"account_id"`
	MediaRef         string         `db:"media_ref"`
	Caption          string         `db:"caption"`
	ScheduledTime    string         `db:"scheduled_time"`
	State            string         `db:"state"`
	AttemptCount     int            `db:"attempt_count"`
	LastErrorKind    sql.NullString `db:"last_error_kind"`
	LastErrorMessage sql.NullString `db:"last_error_message"`
	LastErrorAt      sql.NullString `db:"last_error_at"`
	SentAt           sql.NullString `db:"sent_at"`
	ExternalID       string         `db:"external_id"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

const postColumns = `id, account_id, media_ref, caption, scheduled_time, state, attempt_count,
	last_error_kind, last_error_message, last_error_at, sent_at, external_id, created_at, updated_at`

// Create inserts a new post.
func (r *PostRepo) Create(ctx context.Context, post model.ScheduledPost) error {
	const query = `
		INSERT INTO scheduled_posts (` + postColumns + `)
		VALUES (:id, :account_id, :media_ref, :caption, :scheduled_time, :state, :attempt_count,
			:last_error_kind, :last_error_message, :last_error_at, :sent_at, :external_id, :created_at, :updated_at)
	`

	if _, err := r.writer.NamedExecContext(ctx, query, toPostRow(post)); err != nil {
		return fmt.Errorf("create post %s: %w", post.ID, err)
	}
	return nil
}

// Get returns the post with the given ID, or (nil, nil) if none exists.
func (r *PostRepo) Get(ctx context.Context, id string) (*model.ScheduledPost, error) {
	const query = `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = ?`

	var row postRow
	err := r.reader.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}

	post, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// Update overwrites all mutable fields of an existing post.
func (r *PostRepo) Update(ctx context.Context, post model.ScheduledPost) error {
	const query = `
		UPDATE scheduled_posts SET
			media_ref = :media_ref,
			caption = :caption,
			scheduled_time = :scheduled_time,
			state = :state,
			attempt_count = :attempt_count,
			last_error_kind = :last_error_kind,
			last_error_message = :last_error_message,
			last_error_at = :last_error_at,
			sent_at = :sent_at,
			external_id = :external_id,
			updated_at = :updated_at
		WHERE id = :id
	`

	result, err := r.writer.NamedExecContext(ctx, query, toPostRow(post))
	if err != nil {
		return fmt.Errorf("update post %s: %w", post.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for post %s: %w", post.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("post %s: %w", post.ID, model.ErrNotFound)
	}
	return nil
}

// Delete removes a post. Returns model.ErrNotFound if the post does not exist.
func (r *PostRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM scheduled_posts WHERE id = ?`

	result, err := r.writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for post %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("post %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ListDue returns IDs of scheduled posts whose time has arrived.
func (r *PostRepo) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	const query = `
		SELECT id FROM scheduled_posts
		WHERE state = 'scheduled' AND scheduled_time <= ?
		ORDER BY scheduled_time, id
	`

	var ids []string
	if err := r.reader.SelectContext(ctx, &ids, query, formatTime(now)); err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	return ids, nil
}

// List returns posts matching filter ordered by scheduled time.
func (r *PostRepo) List(ctx context.Context, filter model.PostFilter) ([]model.ScheduledPost, error) {
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if !filter.From.IsZero() {
		where = append(where, "scheduled_time >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "scheduled_time <= ?")
		args = append(args, formatTime(filter.To))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + postColumns + " FROM scheduled_posts")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY scheduled_time, id")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	var rows []postRow
	if err := r.reader.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]model.ScheduledPost, 0, len(rows))
	for _, row := range rows {
		post, err := row.toModel()
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// CountByState returns the number of posts in each state. States with no
// posts are present with a zero count.
func (r *PostRepo) CountByState(ctx context.Context) (map[model.PostState]int, error) {
	const query = `SELECT state, COUNT(*) AS n FROM scheduled_posts GROUP BY state`

	var rows []struct {
		State string `db:"state"`
		N     int    `db:"n"`
	}
	if err := r.reader.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count posts by state: %w", err)
	}

	counts := make(map[model.PostState]int, len(model.AllPostStates))
	for _, s := range model.AllPostStates {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[model.PostState(row.State)] = row.N
	}
	return counts, nil
}

// CountCreatedSince counts posts created at or after since.
func (r *PostRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM scheduled_posts WHERE created_at >= ?`

	var n int
	if err := r.reader.GetContext(ctx, &n, query, formatTime(since)); err != nil {
		return 0, fmt.Errorf("count posts created since: %w", err)
	}
	return n, nil
}

// CountSentSince counts posts sent at or after since.
func (r *PostRepo) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM scheduled_posts WHERE state = 'sent' AND sent_at >= ?`

	var n int
	if err := r.reader.GetContext(ctx, &n, query, formatTime(since)); err != nil {
		return 0, fmt.Errorf("count posts sent since: %w", err)
	}
	return n, nil
}

func toPostRow(p model.ScheduledPost) postRow {
	row := postRow{
		ID:            p.ID,
		AccountID:     p.AccountID,
		MediaRef:      p.MediaRef,
		Caption:       p.Caption,
		ScheduledTime: formatTime(p.ScheduledTime),
		State:         string(p.State),
		AttemptCount:  p.AttemptCount,
		SentAt:        formatNullTime(p.SentAt),
		ExternalID:    p.ExternalID,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
	if p.LastError != nil {
		row.LastErrorKind = sql.NullString{String: string(p.LastError.Kind), Valid: true}
		row.LastErrorMessage = sql.NullString{String: p.LastError.Message, Valid: true}
		row.LastErrorAt = formatNullTime(&p.LastError.At)
	}
	return row
}

func (row postRow) toModel() (model.ScheduledPost, error) {
	post := model.ScheduledPost{
		ID:           row.ID,
		AccountID:    row.AccountID,
		MediaRef:     row.MediaRef,
		Caption:      row.Caption,
		State:        model.PostState(row.State),
		AttemptCount: row.AttemptCount,
		ExternalID:   row.ExternalID,
	}

	var err error
	if post.ScheduledTime, err = parseTime(row.ScheduledTime); err != nil {
		return model.ScheduledPost{}, fmt.Errorf("parse scheduled_time for post %s: %w", row.ID, err)
	}
	if post.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return model.ScheduledPost{}, fmt.Errorf("parse created_at for post %s: %w", row.ID, err)
	}
	if post.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return model.ScheduledPost{}, fmt.Errorf("parse updated_at for post %s: %w", row.ID, err)
	}
	if post.SentAt, err = parseNullTime(row.SentAt); err != nil {
		return model.ScheduledPost{}, fmt.Errorf("parse sent_at for post %s: %w", row.ID, err)
	}

	if row.LastErrorKind.Valid {
		pe := &model.PostError{
			Kind:    model.ErrorKind(row.LastErrorKind.String),
			Message: row.LastErrorMessage.String,
		}
		at, err := parseNullTime(row.LastErrorAt)
		if err != nil {
			return model.ScheduledPost{}, fmt.Errorf("parse last_error_at for post %s: %w", row.ID, err)
		}
		if at != nil {
			pe.At = *at
		}
		post.LastError = pe
	}

	return post, nil
}
