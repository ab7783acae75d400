// Package platform implements the OAuthClient and Publisher ports against the
// video platform's v2 open API.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// DefaultAPIURL is the production API base.
const DefaultAPIURL = "https://open.tiktokapis.com/v2"

// DefaultScopes are requested when connecting an account.
var DefaultScopes = []string{"user.info.basic", "video.upload", "video.publish"}

// Compile-time interface satisfaction checks.
var (
	_ driven.OAuthClient = (*Client)(nil)
	_ driven.Publisher   = (*Client)(nil)
)

// Config holds API endpoints and OAuth application credentials.
type Config struct {
	APIURL       string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string

	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64
}

// Client talks to the platform API. One Client is shared by every account;
// the access token is supplied per call.
type Client struct {
	http   *http.Client
	oauth  *oauth2.Config
	apiURL string
	media  driven.MediaStore
	clock  clock.Clock
}

// NewClient creates a Client with the following transport stack:
//  1. httpcache for anonymous GETs; the cache is keyed by URL only, so
//     requests carrying an Authorization header bypass it
//  2. go-github-ratelimit (sleeps on 429 responses that carry Retry-After)
//  3. a token bucket limiting the sustained request rate
func NewClient(cfg Config, media driven.MediaStore, clk clock.Clock) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(&anonymousCacheTransport{
		cached: cacheTransport,
		direct: http.DefaultTransport,
	})

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 2
	}
	httpClient := &http.Client{
		Transport: &limitedTransport{
			base:    rateLimitClient.Transport,
			limiter: rate.NewLimiter(rate.Limit(limit), max(1, int(limit))),
		},
	}
	return NewClientWithHTTPClient(httpClient, cfg, media, clk)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, cfg Config, media driven.MediaStore, clk clock.Clock) *Client {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = "https://www.tiktok.com/v2/auth/authorize/"
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = apiURL + "/oauth/token/"
	}

	return &Client{
		http: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      DefaultScopes,
		},
		apiURL: apiURL,
		media:  media,
		clock:  clk,
	}
}

// limitedTransport waits on a token bucket before each request.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// anonymousCacheTransport sends authenticated requests around the shared
// cache so one account's response is never served to another.
type anonymousCacheTransport struct {
	cached http.RoundTripper
	direct http.RoundTripper
}

func (t *anonymousCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.direct.RoundTrip(req)
	}
	return t.cached.RoundTrip(req)
}

// apiError is the error object every v2 response carries. Code "ok" means success.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e apiError) failed() bool {
	return e.Code != "" && e.Code != "ok"
}

func (e apiError) String() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// envelope wraps the data payload of a v2 response.
type envelope[T any] struct {
	Data  T        `json:"data"`
	Error apiError `json:"error"`
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// decodeEnvelope reads a response body into an envelope, limiting how much
// is read from misbehaving servers.
func decodeEnvelope[T any](resp *http.Response) (envelope[T], error) {
	var env envelope[T]
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return env, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	return env, nil
}
