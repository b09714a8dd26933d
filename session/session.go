// Package session owns the authenticated identity and its profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/status"
)

// Backend is the part of the gateway the session slice consumes.
type Backend interface {
	ats.AuthProvider
	GetProfile(ctx context.Context, userID string) (*ats.Profile, error)
}

// Slice is the session slice: source of truth for who is logged in.
type Slice struct {
	backend  Backend
	board    *status.Board
	verifier ats.TokenVerifier
	logger   *slog.Logger
	notify   func()
	cleared  func()
	now      func() time.Time

	mu       sync.RWMutex
	session  *ats.Session
	identity *ats.Identity
	profile  *ats.Profile
	epoch    uint64
}

// Option configures a Slice.
type Option func(*Slice)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Slice) { s.logger = l }
}

// WithVerifier checks every session token before the identity is trusted.
func WithVerifier(v ats.TokenVerifier) Option {
	return func(s *Slice) { s.verifier = v }
}

// WithNotify sets the change callback.
func WithNotify(fn func()) Option {
	return func(s *Slice) { s.notify = fn }
}

// WithClearedHook runs after the identity is cleared, so derived tenant and
// job state can be reset.
func WithClearedHook(fn func()) Option {
	return func(s *Slice) { s.cleared = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Slice) { s.now = now }
}

// New creates a session slice.
func New(backend Backend, board *status.Board, opts ...Option) *Slice {
	s := &Slice{
		backend: backend,
		board:   board,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetIdentity assigns the identity. No side effects.
func (s *Slice) SetIdentity(id *ats.Identity) {
	s.mu.Lock()
	s.setIdentityLocked(id)
	s.mu.Unlock()
	s.changed()
}

// SetProfile assigns the profile. No side effects.
func (s *Slice) SetProfile(p *ats.Profile) {
	s.mu.Lock()
	s.profile = cloneProfile(p)
	s.mu.Unlock()
	s.changed()
}

// Identity returns a copy of the current identity, or nil.
func (s *Slice) Identity() *ats.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	cp := *s.identity
	return &cp
}

// UserID returns the current identity id, or "".
func (s *Slice) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.ID
}

// Profile returns a copy of the current profile, or nil.
func (s *Slice) Profile() *ats.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProfile(s.profile)
}

// Bootstrap fetches the current session and, when present, the matching
// profile. Both auth and profile loading flags are false when it returns.
func (s *Slice) Bootstrap(ctx context.Context) error {
	defer s.board.SetLoading(ats.DomainProfile, false)
	defer s.board.Track(ats.DomainAuth)()

	sess, err := s.backend.GetSession(ctx)
	if err != nil {
		s.board.SetError(ats.DomainAuth, ats.NewAppError(ats.CodeAuthInit, err))
		s.logger.Warn("session bootstrap failed", "code", ats.CodeAuthInit, "err", err)
		return fmt.Errorf("ats/session: %w", err)
	}
	s.board.SetError(ats.DomainAuth, nil)
	s.apply(ctx, sess)
	return nil
}

// HandleAuthChange applies an auth-state change delivered by the gateway.
// Both auth and profile loading flags are false when it returns.
func (s *Slice) HandleAuthChange(ctx context.Context, event ats.AuthEvent, sess *ats.Session) {
	defer s.board.SetLoading(ats.DomainProfile, false)
	defer s.board.Track(ats.DomainAuth)()

	s.logger.Debug("auth state change", "event", event, "signed_in", sess != nil)
	if s.apply(ctx, sess) {
		s.board.SetError(ats.DomainAuth, nil)
	}
}

// RefetchProfile re-reads the profile of the current identity.
func (s *Slice) RefetchProfile(ctx context.Context) error {
	s.mu.RLock()
	id, epoch := "", s.epoch
	if s.identity != nil {
		id = s.identity.ID
	}
	s.mu.RUnlock()
	if id == "" {
		return ats.ErrNotAuthenticated
	}
	return s.fetchProfile(ctx, id, epoch)
}

// SignInWithPassword authenticates through the gateway. State follows from
// the auth-state change the gateway delivers.
func (s *Slice) SignInWithPassword(ctx context.Context, email, password string) error {
	if _, err := s.backend.SignInWithPassword(ctx, email, password); err != nil {
		return fmt.Errorf("ats/session: sign in: %w", err)
	}
	return nil
}

// SignInWithOAuth returns the provider URL to redirect to.
func (s *Slice) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("ats/session: provider cannot be empty")
	}
	u, err := s.backend.SignInWithOAuth(ctx, provider, redirectTo)
	if err != nil {
		return "", fmt.Errorf("ats/session: oauth: %w", err)
	}
	return u, nil
}

// SignUp registers a new identity.
func (s *Slice) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*ats.Identity, *ats.Session, error) {
	if email == "" || password == "" {
		return nil, nil, fmt.Errorf("ats/session: email and password are required")
	}
	id, sess, err := s.backend.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("ats/session: sign up: %w", err)
	}
	return id, sess, nil
}

// SignOut ends the gateway session and clears the identity, the profile,
// derived state and every error record.
func (s *Slice) SignOut(ctx context.Context) error {
	defer s.board.Track(ats.DomainAuth)()

	if err := s.backend.SignOut(ctx); err != nil {
		s.board.SetError(ats.DomainAuth, ats.NewAppError(ats.CodeSignOut, err))
		return fmt.Errorf("ats/session: sign out: %w", err)
	}
	s.clear()
	s.board.ClearErrors()
	return nil
}

// apply installs sess (or clears on nil) and reports whether an identity is set.
func (s *Slice) apply(ctx context.Context, sess *ats.Session) bool {
	if sess != nil && !s.trusted(ctx, sess) {
		sess = nil
	}
	if sess == nil {
		s.clear()
		return false
	}

	s.mu.Lock()
	s.session = sess
	s.setIdentityLocked(&sess.User)
	epoch := s.epoch
	s.mu.Unlock()
	s.changed()

	_ = s.fetchProfile(ctx, sess.User.ID, epoch)
	return true
}

func (s *Slice) trusted(ctx context.Context, sess *ats.Session) bool {
	if sess.Expired(s.now()) {
		s.logger.Info("ignoring expired session", "user_id", sess.User.ID)
		return false
	}
	if s.verifier == nil {
		return true
	}
	claims, err := s.verifier.Verify(ctx, sess.AccessToken)
	if err == nil && claims.Subject != sess.User.ID {
		err = fmt.Errorf("token subject %q does not match user %q", claims.Subject, sess.User.ID)
	}
	if err != nil {
		s.board.SetError(ats.DomainAuth, ats.NewAppError(ats.CodeAuthInit, err))
		s.logger.Warn("session token rejected", "err", err)
		return false
	}
	return true
}

// fetchProfile reads exactly one profile row. Failures set the profile
// error and never block auth transitions.
func (s *Slice) fetchProfile(ctx context.Context, userID string, epoch uint64) error {
	defer s.board.Track(ats.DomainProfile)()
	s.board.SetError(ats.DomainProfile, nil)

	p, err := s.backend.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ats.ErrNotFound) {
			err = fmt.Errorf("no profile for user %s: %w", userID, err)
		}
		s.mu.Lock()
		if s.epoch == epoch {
			s.profile = nil
		}
		s.mu.Unlock()
		s.board.SetError(ats.DomainProfile, ats.NewAppError(ats.CodeProfileFetch, err))
		s.logger.Warn("profile fetch failed", "code", ats.CodeProfileFetch, "user_id", userID, "err", err)
		s.changed()
		return fmt.Errorf("ats/session: %w", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding profile for superseded identity", "user_id", userID)
		return ats.ErrSuperseded
	}
	s.profile = cloneProfile(p)
	s.mu.Unlock()
	s.changed()
	return nil
}

func (s *Slice) clear() {
	s.mu.Lock()
	had := s.identity != nil || s.profile != nil
	s.session = nil
	s.setIdentityLocked(nil)
	s.profile = nil
	s.mu.Unlock()
	if had {
		s.changed()
	}
	if s.cleared != nil {
		s.cleared()
	}
}

func (s *Slice) setIdentityLocked(id *ats.Identity) {
	prev := ""
	if s.identity != nil {
		prev = s.identity.ID
	}
	if id == nil {
		s.identity = nil
	} else {
		cp := *id
		s.identity = &cp
	}
	if id == nil || id.ID != prev {
		s.epoch++
	}
}

func (s *Slice) changed() {
	if s.notify != nil {
		s.notify()
	}
}

func cloneProfile(p *ats.Profile) *ats.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
