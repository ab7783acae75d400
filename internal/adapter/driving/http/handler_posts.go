package httphandler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
)

// ListPosts returns posts filtered by the state, account_id, from, to, and
// limit query parameters, ordered by scheduled time.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.PostFilter{
		State:     model.PostState(q.Get("state")),
		AccountID: q.Get("account_id"),
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: expected RFC 3339 time")
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: expected RFC 3339 time")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: expected a positive integer")
			return
		}
		filter.Limit = limit
	}

	posts, err := h.scheduler.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "list posts", err)
		return
	}

	resp := make([]PostResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, toPostResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// SchedulePost queues a new post.
func (h *Handler) SchedulePost(w http.ResponseWriter, r *http.Request) {
	var req SchedulePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.scheduler.Schedule(r.Context(), model.NewPost{
		AccountID:     req.AccountID,
		MediaRef:      req.MediaRef,
		Caption:       req.Caption,
		ScheduledTime: req.ScheduledTime,
	})
	if err != nil {
		h.writeServiceError(w, "schedule post", err)
		return
	}

	post, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "schedule post", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(*post))
}

// GetPost returns a single post.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "get post", err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(*post))
}

// UpdatePost edits the caption or media of a scheduled post.
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var req UpdatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	post, err := h.scheduler.Update(r.Context(), r.PathValue("id"), model.PostUpdate{
		Caption:  req.Caption,
		MediaRef: req.MediaRef,
	})
	if err != nil {
		h.writeServiceError(w, "update post", err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(*post))
}

// DeletePost removes a post that is not being published.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, "delete post", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelPost cancels a scheduled post.
func (h *Handler) CancelPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.scheduler.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "cancel post", err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(*post))
}

// ReschedulePost moves a scheduled post to a new time.
func (h *Handler) ReschedulePost(w http.ResponseWriter, r *http.Request) {
	var req ReschedulePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	post, err := h.scheduler.Reschedule(r.Context(), r.PathValue("id"), req.ScheduledTime)
	if err != nil {
		h.writeServiceError(w, "reschedule post", err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(*post))
}

// RetryPost requeues a failed post for immediate dispatch.
func (h *Handler) RetryPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.scheduler.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "retry post", err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(*post))
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
