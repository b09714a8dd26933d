// Package supabase is the HTTP Remote Data Gateway: GoTrue for sessions,
// PostgREST for rows and PostgREST RPC for the atomic procedures.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	ats "github.com/muasya/ats-go"
)

// Default request pacing.
const (
	DefaultRate  = rate.Limit(20)
	DefaultBurst = 40
)

// Client implements ats.Gateway against a hosted project.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	refreshes singleflight.Group

	mu           sync.Mutex
	session      *ats.Session
	codeVerifier string
	listeners    map[int]ats.AuthListener
	nextListener int
}

var _ ats.Gateway = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit paces outgoing requests. A zero limit disables pacing.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(cl *Client) {
		if limit == 0 {
			cl.limiter = nil
			return
		}
		cl.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithClock overrides the clock used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithSession seeds the client with a previously obtained session.
func WithSession(s *ats.Session) Option {
	return func(cl *Client) {
		if s != nil {
			cp := *s
			cl.session = &cp
		}
	}
}

// New creates a client for the project at baseURL authenticated with the
// project's public API key.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(DefaultRate, DefaultBurst),
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[int]ats.AuthListener),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ats/supabase: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("ats/supabase: %d: %s", e.Status, e.Message)
}

// Unwrap maps the response onto the root sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ats.ErrNotAuthenticated
	case e.Status == http.StatusForbidden, e.Code == "42501":
		return ats.ErrNotAuthorized
	case e.Status == http.StatusNotFound, e.Code == "PGRST116":
		return ats.ErrNotFound
	}
	return nil
}

// errorBody covers the error shapes of both GoTrue and PostgREST.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &APIError{Status: resp.StatusCode}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		// GoTrue sends a numeric code, PostgREST a SQLSTATE string.
		if code, ok := eb.Code.(string); ok {
			e.Code = code
		}
		if eb.ErrorCode != "" {
			e.Code = eb.ErrorCode
		}
		for _, m := range []string{eb.Message, eb.Msg, eb.ErrorDescription, eb.Error} {
			if m != "" {
				e.Message = m
				break
			}
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	header http.Header
	// token overrides the bearer token of the current session.
	token string
}

// do sends r and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ats/supabase: rate limit: %w", err)
		}
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("ats/supabase: encode %s: %w", r.path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("ats/supabase: create request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer(r.token))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ats/supabase: %s %s: %w", r.method, r.path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("gateway request", "method", r.method, "path", r.path, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("ats/supabase: decode %s: %w", r.path, err)
	}
	return nil
}

func (c *Client) bearer(override string) string {
	if override != "" {
		return override
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.AccessToken != "" {
		return c.session.AccessToken
	}
	return c.apiKey
}
