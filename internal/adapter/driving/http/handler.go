package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/cryptobox"
	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// DispatchTrigger runs a dispatch tick on demand.
type DispatchTrigger interface {
	Trigger(ctx context.Context) (application.TickResult, error)
}

// AuthURLBuilder builds the authorization URL a user visits to connect an account.
type AuthURLBuilder interface {
	AuthCodeURL(state string) string
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	accounts   *application.AccountService
	scheduler  *application.PublishScheduler
	dashboard  *application.DashboardService
	health     *application.HealthService
	dispatcher DispatchTrigger
	authURLs   AuthURLBuilder
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. authURLs may
// be nil when no OAuth application is configured.
func NewHandler(
	accounts *application.AccountService,
	scheduler *application.PublishScheduler,
	dashboard *application.DashboardService,
	health *application.HealthService,
	dispatcher DispatchTrigger,
	authURLs AuthURLBuilder,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		accounts:   accounts,
		scheduler:  scheduler,
		dashboard:  dashboard,
		health:     health,
		dispatcher: dispatcher,
		authURLs:   authURLs,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with auth, logging, and recovery middleware. An empty jwtSecret disables auth.
func NewServeMux(h *Handler, logger *slog.Logger, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/v1/accounts", h.ConnectAccount)
	mux.HandleFunc("GET /api/v1/accounts/authorize-url", h.AuthorizeURL)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", h.DisconnectAccount)
	mux.HandleFunc("POST /api/v1/accounts/{id}/refresh", h.RefreshAccount)

	mux.HandleFunc("GET /api/v1/posts", h.ListPosts)
	mux.HandleFunc("POST /api/v1/posts", h.SchedulePost)
	mux.HandleFunc("GET /api/v1/posts/{id}", h.GetPost)
	mux.HandleFunc("PATCH /api/v1/posts/{id}", h.UpdatePost)
	mux.HandleFunc("DELETE /api/v1/posts/{id}", h.DeletePost)
	mux.HandleFunc("POST /api/v1/posts/{id}/cancel", h.CancelPost)
	mux.HandleFunc("POST /api/v1/posts/{id}/reschedule", h.ReschedulePost)
	mux.HandleFunc("POST /api/v1/posts/{id}/retry", h.RetryPost)

	mux.HandleFunc("GET /api/v1/dashboard", h.Dashboard)
	mux.HandleFunc("POST /api/v1/dispatch", h.Dispatch)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = authMiddleware(jwtSecret, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListAccounts returns all connected accounts. Tokens are never included.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	creds, err := h.accounts.List(r.Context())
	if err != nil {
		h.writeServiceError(w, "list accounts", err)
		return
	}

	resp := make([]AccountResponse, 0, len(creds))
	for _, c := range creds {
		resp = append(resp, toAccountResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ConnectAccount exchanges an authorization code and stores the account.
func (h *Handler) ConnectAccount(w http.ResponseWriter, r *http.Request) {
	var req ConnectAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.accounts.Connect(r.Context(), req.Code)
	if err != nil {
		h.writeServiceError(w, "connect account", err)
		return
	}

	cred, err := h.accounts.Get(r.Context(), profile.AccountID)
	if err != nil {
		h.writeServiceError(w, "connect account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(*cred))
}

// AuthorizeURL returns the URL to visit to authorize a new account.
func (h *Handler) AuthorizeURL(w http.ResponseWriter, r *http.Request) {
	if h.authURLs == nil {
		writeError(w, http.StatusNotImplemented, "oauth application not configured")
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		state = uuid.NewString()
	}
	writeJSON(w, http.StatusOK, AuthorizeURLResponse{URL: h.authURLs.AuthCodeURL(state), State: state})
}

// DisconnectAccount cancels the account's scheduled posts and deletes its credential.
func (h *Handler) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Disconnect(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, "disconnect account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshAccount forces a token refresh.
func (h *Handler) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	cred, err := h.accounts.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "refresh account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(*cred))
}

// Dashboard returns post statistics and connected accounts.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.dashboard.Summary(r.Context())
	if err != nil {
		h.writeServiceError(w, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(*sum))
}

// Dispatch runs a dispatch tick immediately and returns its result.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.Trigger(r.Context())
	if err != nil {
		h.writeServiceError(w, "dispatch", err)
		return
	}
	writeJSON(w, http.StatusOK, toTickResponse(res))
}

// Health returns store reachability and the last dispatch tick.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toHealthResponse(report))
}

// writeServiceError maps domain errors to HTTP status codes. Unrecognised
// errors are logged and reported as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidTime),
		errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrCredentialExpired),
		errors.Is(err, model.ErrCredentialRevoked),
		errors.Is(err, cryptobox.ErrDecryption):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrTransientRefresh):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, driven.ErrSecretNotConfigured):
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
