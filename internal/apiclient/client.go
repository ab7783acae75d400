// Package apiclient is a small client for the reelqueue REST API, used by
// the reelctl command.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	httphandler "github.com/ericfisherdev/reelqueue/internal/adapter/driving/http"
)

// tokenTTL bounds the lifetime of the bearer tokens minted per request.
const tokenTTL = 5 * time.Minute

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running reelqueue server.
type Client struct {
	baseURL   string
	jwtSecret []byte
	http      *http.Client
	now       func() time.Time
}

// New creates a Client for baseURL. When jwtSecret is non-empty every request
// carries an HS256 bearer token signed with it.
func New(baseURL, jwtSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		jwtSecret: []byte(jwtSecret),
		http:      httpClient,
		now:       time.Now,
	}
}

// ListPostsOptions filters ListPosts. Zero values are omitted.
type ListPostsOptions struct {
	State     string
	AccountID string
	From      time.Time
	To        time.Time
	Limit     int
}

func (o ListPostsOptions) query() url.Values {
	q := url.Values{}
	if o.State != "" {
		q.Set("state", o.State)
	}
	if o.AccountID != "" {
		q.Set("account_id", o.AccountID)
	}
	if !o.From.IsZero() {
		q.Set("from", o.From.UTC().Format(time.RFC3339))
	}
	if !o.To.IsZero() {
		q.Set("to", o.To.UTC().Format(time.RFC3339))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

func (c *Client) Health(ctx context.Context) (*httphandler.HealthResponse, error) {
	return call[httphandler.HealthResponse](ctx, c, http.MethodGet, "/api/v1/health", nil)
}

func (c *Client) ListAccounts(ctx context.Context) ([]httphandler.AccountResponse, error) {
	var out []httphandler.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ConnectAccount(ctx context.Context, code string) (*httphandler.AccountResponse, error) {
	body := httphandler.ConnectAccountRequest{Code: code}
	return call[httphandler.AccountResponse](ctx, c, http.MethodPost, "/api/v1/accounts", body)
}

func (c *Client) AuthorizeURL(ctx context.Context, state string) (*httphandler.AuthorizeURLResponse, error) {
	path := "/api/v1/accounts/authorize-url"
	if state != "" {
		path += "?" + url.Values{"state": {state}}.Encode()
	}
	return call[httphandler.AuthorizeURLResponse](ctx, c, http.MethodGet, path, nil)
}

func (c *Client) DisconnectAccount(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/accounts/"+url.PathEscape(accountID), nil, nil)
}

func (c *Client) RefreshAccount(ctx context.Context, accountID string) (*httphandler.AccountResponse, error) {
	return call[httphandler.AccountResponse](ctx, c, http.MethodPost, "/api/v1/accounts/"+url.PathEscape(accountID)+"/refresh", nil)
}

func (c *Client) ListPosts(ctx context.Context, opts ListPostsOptions) ([]httphandler.PostResponse, error) {
	path := "/api/v1/posts"
	if q := opts.query(); len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []httphandler.PostResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SchedulePost(ctx context.Context, req httphandler.SchedulePostRequest) (*httphandler.PostResponse, error) {
	return call[httphandler.PostResponse](ctx, c, http.MethodPost, "/api/v1/posts", req)
}

func (c *Client) GetPost(ctx context.Context, id string) (*httphandler.PostResponse, error) {
	return call[httphandler.PostResponse](ctx, c, http.MethodGet, postPath(id, ""), nil)
}

func (c *Client) UpdatePost(ctx context.Context, id string, req httphandler.UpdatePostRequest) (*httphandler.PostResponse, error) {
	return call[httphandler.PostResponse](ctx, c, http.MethodPatch, postPath(id, ""), req)
}

func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, postPath(id, ""), nil, nil)
}

func (c *Client) CancelPost(ctx context.Context, id string) (*httphandler.PostResponse, error) {
	return call[httphandler.PostResponse](ctx, c, http.MethodPost, postPath(id, "cancel"), nil)
}

func (c *Client) ReschedulePost(ctx context.Context, id string, at time.Time) (*httphandler.PostResponse, error) {
	body := httphandler.ReschedulePostRequest{ScheduledTime: at}
	return call[httphandler.PostResponse](ctx, c, http.MethodPost, postPath(id, "reschedule"), body)
}

func (c *Client) RetryPost(ctx context.Context, id string) (*httphandler.PostResponse, error) {
	return call[httphandler.PostResponse](ctx, c, http.MethodPost, postPath(id, "retry"), nil)
}

func (c *Client) Dashboard(ctx context.Context) (*httphandler.DashboardResponse, error) {
	return call[httphandler.DashboardResponse](ctx, c, http.MethodGet, "/api/v1/dashboard", nil)
}

func (c *Client) Dispatch(ctx context.Context) (*httphandler.TickResponse, error) {
	return call[httphandler.TickResponse](ctx, c, http.MethodPost, "/api/v1/dispatch", nil)
}

// call performs one request and decodes the response into a new T.
func call[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func postPath(id, action string) string {
	p := "/api/v1/posts/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(c.jwtSecret) > 0 {
		token, err := c.bearerToken()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) bearerToken() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   "reelctl",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign api token: %w", err)
	}
	return signed, nil
}
