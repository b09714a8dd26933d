package supabase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	ats "github.com/muasya/ats-go"
)

// refreshMargin refreshes a session shortly before it expires.
const refreshMargin = 30 * time.Second

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u userResponse) identity() ats.Identity {
	return ats.Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`
}

// signUpResponse is a session when the project auto-confirms, otherwise the
// bare user.
type signUpResponse struct {
	tokenResponse
	userResponse
}

func (c *Client) sessionFrom(t tokenResponse) (*ats.Session, error) {
	if t.AccessToken == "" || t.User == nil {
		return nil, errors.New("ats/supabase: token response without session")
	}
	s := &ats.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         t.User.identity(),
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = tokenExpiry(t.AccessToken)
	}
	return s, nil
}

// tokenExpiry reads exp without verifying the token. The gateway verifies
// its own tokens; the client only schedules refreshes.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// GetSession returns the held session, refreshing it when it is about to
// expire. A session whose refresh is rejected is dropped.
func (c *Client) GetSession(ctx context.Context) (*ats.Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, nil
	}
	if s.ExpiresAt.IsZero() || c.now().Add(refreshMargin).Before(s.ExpiresAt) {
		cp := *s
		return &cp, nil
	}
	if s.RefreshToken == "" {
		c.setSession(nil)
		return nil, nil
	}

	v, err, _ := c.refreshes.Do(s.RefreshToken, func() (any, error) {
		return c.refresh(ctx, s.RefreshToken)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			c.logger.Info("session refresh rejected", "user_id", s.User.ID, "err", err)
			c.setSession(nil)
			return nil, nil
		}
		return nil, err
	}
	fresh := v.(*ats.Session)
	cp := *fresh
	return &cp, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*ats.Session, error) {
	var t tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
		token:  c.apiKey,
	}, &t)
	if err != nil {
		return nil, err
	}
	s, err := c.sessionFrom(t)
	if err != nil {
		return nil, err
	}
	c.setSession(s)
	c.emit(ats.EventTokenRefreshed, s)
	return s, nil
}

// SignInWithPassword authenticates with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*ats.Session, error) {
	var t tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
		token:  c.apiKey,
	}, &t)
	if err != nil {
		return nil, err
	}
	return c.signedIn(t)
}

// SignInWithOAuth returns the provider authorization URL. The flow uses
// PKCE; finish it with ExchangeCode.
func (c *Client) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", errors.New("ats/supabase: provider is required")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ats/supabase: code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))

	c.mu.Lock()
	c.codeVerifier = verifier
	c.mu.Unlock()

	q := url.Values{
		"provider":              {provider},
		"code_challenge":        {base64.RawURLEncoding.EncodeToString(sum[:])},
		"code_challenge_method": {"s256"},
	}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/auth/v1/authorize?" + q.Encode(), nil
}

// ExchangeCode trades the authorization code of an OAuth redirect for a
// session.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*ats.Session, error) {
	c.mu.Lock()
	verifier := c.codeVerifier
	c.mu.Unlock()
	if verifier == "" {
		return nil, errors.New("ats/supabase: no OAuth sign-in in progress")
	}
	var t tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"pkce"}},
		body:   map[string]string{"auth_code": code, "code_verifier": verifier},
		token:  c.apiKey,
	}, &t)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.codeVerifier = ""
	c.mu.Unlock()
	return c.signedIn(t)
}

// SetSession adopts tokens delivered by an implicit OAuth redirect.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*ats.Session, error) {
	var u userResponse
	err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", token: accessToken}, &u)
	if err != nil {
		return nil, err
	}
	return c.signedIn(tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         &u,
	})
}

// SignUp registers a new identity. The session is nil when the project
// requires email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*ats.Identity, *ats.Session, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	var r signUpResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   body,
		token:  c.apiKey,
	}, &r)
	if err != nil {
		return nil, nil, err
	}
	if r.AccessToken == "" {
		id := r.userResponse.identity()
		if r.User != nil {
			id = r.User.identity()
		}
		if id.ID == "" {
			return nil, nil, errors.New("ats/supabase: sign-up response without user")
		}
		return &id, nil, nil
	}
	s, err := c.signedIn(r.tokenResponse)
	if err != nil {
		return nil, nil, err
	}
	id := s.User
	return &id, s, nil
}

// SignOut revokes the session. A token the server no longer knows counts
// as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil {
		err := c.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			query:  url.Values{"scope": {"local"}},
			token:  s.AccessToken,
		}, nil)
		var apiErr *APIError
		if err != nil && !(errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound)) {
			return err
		}
	}
	c.setSession(nil)
	c.emit(ats.EventSignedOut, nil)
	return nil
}

// OnAuthStateChange registers fn. Events are delivered synchronously on the
// goroutine that caused them.
func (c *Client) OnAuthStateChange(fn ats.AuthListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) signedIn(t tokenResponse) (*ats.Session, error) {
	s, err := c.sessionFrom(t)
	if err != nil {
		return nil, err
	}
	c.setSession(s)
	c.logger.Info("signed in", "user_id", s.User.ID)
	c.emit(ats.EventSignedIn, s)
	cp := *s
	return &cp, nil
}

func (c *Client) setSession(s *ats.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

func (c *Client) emit(event ats.AuthEvent, s *ats.Session) {
	c.mu.Lock()
	ls := make([]ats.AuthListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()
	var arg *ats.Session
	if s != nil {
		cp := *s
		arg = &cp
	}
	for _, l := range ls {
		l(event, arg)
	}
}
