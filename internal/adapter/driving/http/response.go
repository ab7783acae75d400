package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// AccountResponse is the JSON representation of a connected account.
// Token material is never serialised.
type AccountResponse struct {
	AccountID        string  `json:"account_id"`
	Username         string  `json:"username"`
	DisplayName      string  `json:"display_name"`
	Status           string  `json:"status"`
	AccessExpiresAt  string  `json:"access_expires_at"`
	RefreshExpiresAt *string `json:"refresh_expires_at,omitempty"`
	ConnectedAt      string  `json:"connected_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// PostErrorResponse describes the most recent failed attempt.
type PostErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	At      string `json:"at"`
}

// PostResponse is the JSON representation of a scheduled post.
type PostResponse struct {
	ID            string             `json:"id"`
	AccountID     string             `json:"account_id"`
	MediaRef      string             `json:"media_ref"`
	Caption       string             `json:"caption"`
	CaptionHTML   string             `json:"caption_html"`
	ScheduledTime string             `json:"scheduled_time"`
	State         string             `json:"state"`
	AttemptCount  int                `json:"attempt_count"`
	LastError     *PostErrorResponse `json:"last_error,omitempty"`
	SentAt        *string            `json:"sent_at,omitempty"`
	ExternalID    string             `json:"external_id,omitempty"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at"`
}

// DashboardResponse is the JSON representation of the dashboard summary.
type DashboardResponse struct {
	CountsByState  map[string]int    `json:"counts_by_state"`
	CreatedLast30d int               `json:"created_last_30d"`
	SentLast30d    int               `json:"sent_last_30d"`
	RecentFailures []PostResponse    `json:"recent_failures"`
	Upcoming       []PostResponse    `json:"upcoming"`
	Accounts       []AccountResponse `json:"accounts"`
}

// TickResponse is the JSON representation of one dispatch tick.
type TickResponse struct {
	Skipped       bool  `json:"skipped"`
	Refreshed     int   `json:"refreshed"`
	RefreshErrors int   `json:"refresh_errors"`
	Attempted     int   `json:"attempted"`
	PublishErrors int   `json:"publish_errors"`
	DurationMS    int64 `json:"duration_ms"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string        `json:"status"`
	Database string        `json:"database"`
	Time     string        `json:"time"`
	LastTick *TickResponse `json:"last_tick,omitempty"`
}

// AuthorizeURLResponse carries the URL that starts the OAuth flow.
type AuthorizeURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// ConnectAccountRequest is the JSON body for the connect account endpoint.
type ConnectAccountRequest struct {
	Code string `json:"code"`
}

// SchedulePostRequest is the JSON body for the schedule post endpoint.
type SchedulePostRequest struct {
	AccountID     string    `json:"account_id"`
	MediaRef      string    `json:"media_ref"`
	Caption       string    `json:"caption"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

// UpdatePostRequest is the JSON body for the update post endpoint. Omitted
// fields are left unchanged.
type UpdatePostRequest struct {
	Caption  *string `json:"caption"`
	MediaRef *string `json:"media_ref"`
}

// ReschedulePostRequest is the JSON body for the reschedule endpoint.
type ReschedulePostRequest struct {
	ScheduledTime time.Time `json:"scheduled_time"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// toAccountResponse converts a domain Credential to its JSON response representation.
func toAccountResponse(c model.Credential) AccountResponse {
	return AccountResponse{
		AccountID:        c.AccountID,
		Username:         c.Username,
		DisplayName:      c.DisplayName,
		Status:           string(c.Status),
		AccessExpiresAt:  formatTime(c.AccessExpiresAt),
		RefreshExpiresAt: formatTimePtr(c.RefreshExpiresAt),
		ConnectedAt:      formatTime(c.ConnectedAt),
		UpdatedAt:        formatTime(c.UpdatedAt),
	}
}

// toPostResponse converts a domain ScheduledPost to its JSON response representation.
func toPostResponse(p model.ScheduledPost) PostResponse {
	resp := PostResponse{
		ID:            p.ID,
		AccountID:     p.AccountID,
		MediaRef:      p.MediaRef,
		Caption:       p.Caption,
		CaptionHTML:   RenderCaption(p.Caption),
		ScheduledTime: formatTime(p.ScheduledTime),
		State:         string(p.State),
		AttemptCount:  p.AttemptCount,
		SentAt:        formatTimePtr(p.SentAt),
		ExternalID:    p.ExternalID,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
	if p.LastError != nil {
		resp.LastError = &PostErrorResponse{
			Kind:    string(p.LastError.Kind),
			Message: p.LastError.Message,
			At:      formatTime(p.LastError.At),
		}
	}
	return resp
}

func toPostResponses(posts []model.ScheduledPost) []PostResponse {
	out := make([]PostResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostResponse(p))
	}
	return out
}

// toDashboardResponse converts a DashboardSummary to its JSON representation.
func toDashboardResponse(s model.DashboardSummary) DashboardResponse {
	counts := make(map[string]int, len(s.CountsByState))
	for state, n := range s.CountsByState {
		counts[string(state)] = n
	}

	accounts := make([]AccountResponse, 0, len(s.Accounts))
	for _, c := range s.Accounts {
		accounts = append(accounts, toAccountResponse(c))
	}

	return DashboardResponse{
		CountsByState:  counts,
		CreatedLast30d: s.CreatedLast30d,
		SentLast30d:    s.SentLast30d,
		RecentFailures: toPostResponses(s.RecentFailures),
		Upcoming:       toPostResponses(s.Upcoming),
		Accounts:       accounts,
	}
}

func toTickResponse(r application.TickResult) TickResponse {
	return TickResponse{
		Skipped:       r.Skipped,
		Refreshed:     r.Refreshed,
		RefreshErrors: r.RefreshErrors,
		Attempted:     r.Attempted,
		PublishErrors: r.PublishErrors,
		DurationMS:    r.Duration.Milliseconds(),
	}
}

func toHealthResponse(r application.HealthReport) HealthResponse {
	resp := HealthResponse{
		Status:   r.Status,
		Database: r.Database,
		Time:     formatTime(r.CheckedAt),
	}
	if r.LastTick != nil {
		tick := toTickResponse(*r.LastTick)
		resp.LastTick = &tick
	}
	return resp
}
