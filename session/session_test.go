package session_test

import (
	"context"
	"errors"
	"testing"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/fake"
	"github.com/muasya/ats-go/session"
	"github.com/muasya/ats-go/status"
)

type rejectVerifier struct{}

func (rejectVerifier) Verify(context.Context, string) (*ats.Claims, error) {
	return nil, errors.New("signature invalid")
}

func newGateway(opts ...fake.Option) *fake.Gateway {
	base := []fake.Option{
		fake.WithUser("u1", "alice@example.com", "pw", ats.UserTypeCompanyAdmin),
		fake.WithIdentity("u2", "noprofile@example.com", "pw"),
	}
	return fake.New(append(base, opts...)...)
}

func assertIdle(t *testing.T, b *status.Board) {
	t.Helper()
	if b.Loading(ats.DomainAuth) {
		t.Error("loading.auth should be false")
	}
	if b.Loading(ats.DomainProfile) {
		t.Error("loading.profile should be false")
	}
}

func TestBootstrap_NoSession(t *testing.T) {
	g := newGateway()
	b := status.New(status.WithInitialLoading(ats.DomainAuth, ats.DomainProfile))
	s := session.New(g, b)

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	if s.Identity() != nil {
		t.Error("identity should be nil")
	}
	if g.Calls("GetProfile") != 0 {
		t.Error("profile must not be fetched without a session")
	}
	assertIdle(t, b)
}

func TestBootstrap_WithSession(t *testing.T) {
	g := newGateway(fake.WithSignedIn("alice@example.com"))
	b := status.New()
	s := session.New(g, b, session.WithVerifier(g))

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	if got := s.UserID(); got != "u1" {
		t.Errorf("UserID() = %q, want %q", got, "u1")
	}
	p := s.Profile()
	if p == nil || p.UserType != ats.UserTypeCompanyAdmin {
		t.Errorf("Profile() = %+v, want company_admin", p)
	}
	assertIdle(t, b)
}

func TestBootstrap_SessionFetchFails(t *testing.T) {
	g := newGateway()
	g.Fail("GetSession", errors.New("network down"))
	b := status.New()
	s := session.New(g, b)

	if err := s.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if e := b.Err(ats.DomainAuth); e == nil || e.Code != ats.CodeAuthInit {
		t.Errorf("auth error = %+v, want %s", e, ats.CodeAuthInit)
	}
	assertIdle(t, b)
}

func TestBootstrap_ProfileFetchFails(t *testing.T) {
	g := newGateway(fake.WithSignedIn("alice@example.com"))
	g.Fail("GetProfile", errors.New("timeout"))
	b := status.New()
	s := session.New(g, b)

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("profile failure must not fail bootstrap: %v", err)
	}
	if s.Identity() == nil {
		t.Error("identity should still be set")
	}
	if s.Profile() != nil {
		t.Error("profile should be nil")
	}
	if e := b.Err(ats.DomainProfile); e == nil || e.Code != ats.CodeProfileFetch {
		t.Errorf("profile error = %+v, want %s", e, ats.CodeProfileFetch)
	}
	assertIdle(t, b)
}

func TestBootstrap_MissingProfileRow(t *testing.T) {
	g := newGateway(fake.WithSignedIn("noprofile@example.com"))
	b := status.New()
	s := session.New(g, b)

	_ = s.Bootstrap(context.Background())

	if s.Profile() != nil {
		t.Error("no profile should be synthesized")
	}
	if e := b.Err(ats.DomainProfile); e == nil || e.Code != ats.CodeProfileFetch {
		t.Errorf("profile error = %+v, want %s", e, ats.CodeProfileFetch)
	}
	assertIdle(t, b)
}

func TestBootstrap_RejectedToken(t *testing.T) {
	g := newGateway(fake.WithSignedIn("alice@example.com"))
	b := status.New()
	cleared := 0
	s := session.New(g, b, session.WithVerifier(rejectVerifier{}), session.WithClearedHook(func() { cleared++ }))

	_ = s.Bootstrap(context.Background())

	if s.Identity() != nil {
		t.Error("identity must not be trusted when the token is rejected")
	}
	if cleared != 1 {
		t.Errorf("cleared hook calls = %d, want 1", cleared)
	}
	if e := b.Err(ats.DomainAuth); e == nil || e.Code != ats.CodeAuthInit {
		t.Errorf("auth error = %+v, want %s", e, ats.CodeAuthInit)
	}
	assertIdle(t, b)
}

func TestHandleAuthChange_SignedOutRunsClearedHook(t *testing.T) {
	g := newGateway(fake.WithSignedIn("alice@example.com"))
	b := status.New()
	cleared := 0
	s := session.New(g, b, session.WithClearedHook(func() { cleared++ }))
	_ = s.Bootstrap(context.Background())

	s.HandleAuthChange(context.Background(), ats.EventSignedOut, nil)

	if s.Identity() != nil || s.Profile() != nil {
		t.Error("identity and profile should be cleared")
	}
	if cleared != 1 {
		t.Errorf("cleared hook calls = %d, want 1", cleared)
	}
	assertIdle(t, b)
}

func TestHandleAuthChange_SignedInFetchesProfile(t *testing.T) {
	g := newGateway()
	b := status.New()
	s := session.New(g, b)
	unsub := g.OnAuthStateChange(func(e ats.AuthEvent, sess *ats.Session) {
		s.HandleAuthChange(context.Background(), e, sess)
	})
	defer unsub()

	if err := s.SignInWithPassword(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("SignInWithPassword() error: %v", err)
	}
	if s.Profile() == nil {
		t.Fatal("profile should be loaded once sign in returns")
	}
	assertIdle(t, b)
}

func TestFetchProfile_DiscardedWhenIdentityChanges(t *testing.T) {
	g := newGateway(fake.WithSignedIn("alice@example.com"))
	b := status.New()
	s := session.New(g, b)

	g.Before("GetProfile", func() {
		s.SetIdentity(&ats.Identity{ID: "someone-else"})
	})
	_ = s.Bootstrap(context.Background())

	if s.Profile() != nil {
		t.Error("profile of a superseded identity must be discarded")
	}
	if got := s.UserID(); got != "someone-else" {
		t.Errorf("UserID() = %q, want %q", got, "someone-else")
	}
	assertIdle(t, b)
}

func TestSignOut_ClearsEverything(t *testing.T) {
	g := newGateway(fake.WithSignedIn("alice@example.com"))
	b := status.New()
	cleared := 0
	s := session.New(g, b, session.WithClearedHook(func() { cleared++ }))
	_ = s.Bootstrap(context.Background())
	b.SetError(ats.DomainJobs, &ats.AppError{Message: "old", Code: ats.CodeJobsFetch})

	if err := s.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error: %v", err)
	}
	if s.Identity() != nil || s.Profile() != nil {
		t.Error("identity and profile should be nil")
	}
	if cleared == 0 {
		t.Error("cleared hook should run")
	}
	for _, d := range ats.Domains {
		if b.Err(d) != nil {
			t.Errorf("%s error should be cleared", d)
		}
	}
	assertIdle(t, b)
}

func TestSignOut_GatewayFailure(t *testing.T) {
	g := newGateway(fake.WithSignedIn("alice@example.com"))
	b := status.New()
	s := session.New(g, b)
	_ = s.Bootstrap(context.Background())
	g.Fail("SignOut", errors.New("offline"))

	if err := s.SignOut(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if e := b.Err(ats.DomainAuth); e == nil || e.Code != ats.CodeSignOut {
		t.Errorf("auth error = %+v, want %s", e, ats.CodeSignOut)
	}
	if s.Identity() == nil {
		t.Error("identity should be kept when sign out fails")
	}
	assertIdle(t, b)
}

func TestSignInWithOAuth_ReturnsURL(t *testing.T) {
	s := session.New(newGateway(), status.New())

	u, err := s.SignInWithOAuth(context.Background(), "google", "https://app.example.com/auth/callback")
	if err != nil {
		t.Fatalf("SignInWithOAuth() error: %v", err)
	}
	if u == "" {
		t.Error("expected provider URL")
	}
	if _, err := s.SignInWithOAuth(context.Background(), "", ""); err == nil {
		t.Error("empty provider should be rejected")
	}
}
