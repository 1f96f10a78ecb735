// Package apiclient is the single outbound path to the AetherFit backend.
// Every request carries the current bearer token, and every response passes
// through the same interceptors, which handle expired sessions and forbidden
// access centrally.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/metrics"
	"github.com/aetherfit/aetherfit-front/internal/navigate"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/urlutil"
	"github.com/hashicorp/go-cleanhttp"
)

// TokenSource reads the durable bearer token. Absence is ("", false, nil).
type TokenSource interface {
	Token(ctx context.Context) (string, bool, error)
}

// SessionTerminator ends the local session after the backend rejected it.
type SessionTerminator interface {
	Expire(ctx context.Context)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero leaves it to the transport and the
	// caller's context.
	Timeout      time.Duration
	MaxErrorBody int64
	UserAgent    string
	SignInRoute  string
	HomeRoute    string
}

// NewConfig builds a Config from the loaded configuration.
func NewConfig(api config.APIConfig, routes config.Routes) Config {
	return Config{
		BaseURL:      api.BaseURL,
		Timeout:      api.Timeout,
		MaxErrorBody: api.MaxErrorBody,
		UserAgent:    api.UserAgent,
		SignInRoute:  routes.SignIn,
		HomeRoute:    routes.Home,
	}
}

// NewHTTPClient returns the pooled HTTP client used for backend calls.
// Redirects are returned to the caller rather than followed.
func NewHTTPClient(timeout time.Duration) *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient shares one HTTP client (and its connection pool) between
// clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records response outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client is the API client of one client instance.
type Client struct {
	cfg        Config
	tokens     TokenSource
	session    SessionTerminator
	notifier   notify.Notifier
	navigator  navigate.Navigator
	httpClient *http.Client
	metrics    *metrics.Collector

	installOnce          sync.Once
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// New creates a client. notifier and navigator are the defaults used when
// the request context does not carry its own.
func New(cfg Config, tokens TokenSource, session SessionTerminator, notifier notify.Notifier, navigator navigate.Navigator, opts ...Option) *Client {
	if notifier == nil {
		notifier = notify.Discard
	}
	if navigator == nil {
		navigator = navigate.Discard
	}
	if cfg.MaxErrorBody <= 0 {
		cfg.MaxErrorBody = config.DefaultMaxErrorBody
	}
	if cfg.SignInRoute == "" {
		cfg.SignInRoute = config.DefaultRoutes().SignIn
	}
	if cfg.HomeRoute == "" {
		cfg.HomeRoute = config.DefaultRoutes().Home
	}

	c := &Client{
		cfg:       cfg,
		tokens:    tokens,
		session:   session,
		notifier:  notifier,
		navigator: navigator,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(cfg.Timeout)
	}
	c.install()
	return c
}

// Do sends a request to path on the backend and returns the response when
// the interceptors accept it. The caller closes the body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body io.Reader, header http.Header) (*http.Response, error) {
	target, err := urlutil.Resolve(c.cfg.BaseURL, path, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	copyRequestHeaders(req.Header, header)
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	for _, intercept := range c.requestInterceptors {
		if err := intercept(ctx, req); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPIResponse(metrics.OutcomeNetworkError, time.Since(start))
		log.LogWarnWithFields("apiclient", "Backend unreachable", map[string]any{
			"method": method,
			"path":   req.URL.Path,
			"error":  err.Error(),
		})
		return nil, networkError(req, err)
	}

	for _, intercept := range c.responseInterceptors {
		if err := intercept(ctx, req, resp); err != nil {
			c.metrics.RecordAPIResponse(outcomeOf(err), time.Since(start))
			return nil, err
		}
	}
	c.metrics.RecordAPIResponse(metrics.OutcomeOK, time.Since(start))

	log.LogTraceWithFields("apiclient", "Backend request completed", map[string]any{
		"method":      method,
		"path":        req.URL.Path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return resp, nil
}

// Forward sends a request on behalf of a browser and returns the raw
// response.
func (c *Client) Forward(ctx context.Context, method, path string, query url.Values, body io.Reader, header http.Header) (*http.Response, error) {
	return c.Do(ctx, method, path, query, body, header)
}

// Get decodes the JSON response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, in, out)
}

func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, nil, in, out)
}

func (c *Client) Patch(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPatch, path, nil, in, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	header := http.Header{}
	header.Set("Accept", "application/json")

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, method, path, query, body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response from %s %s: %w", method, path, err)
	}
	return nil
}

// copyRequestHeaders copies caller headers onto the backend request,
// excluding hop-by-hop headers and the browser's own credentials.
func copyRequestHeaders(dst, src http.Header) {
	for k, v := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Connection", "Upgrade", "Host",
			"Keep-Alive", "Transfer-Encoding", "Te", "Trailer",
			"Proxy-Authorization", "Proxy-Authenticate",
			"Authorization", "Cookie",
			"Accept-Encoding":
			continue
		}
		dst[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
}
