package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/audit"
)

// Fallbacks used when an OAuth sign-in has no profile yet.
const (
	DefaultCompanyName      = "New Company"
	OAuthCompanyDescription = "Company created via Google sign-up"
	loginPath               = "/login"
	metadataFullName        = "full_name"
)

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Email              string `json:"email" binding:"required"`
	Password           string `json:"password" binding:"required"`
	FullName           string `json:"full_name"`
	CompanyName        string `json:"company_name" binding:"required"`
	CompanyDescription string `json:"company_description"`
}

// RegisterResult reports the outcome of Register.
type RegisterResult struct {
	Identity *ats.Identity `json:"user"`
	Company  *ats.Company  `json:"company"`
	// NeedsConfirmation is set when the gateway requires email confirmation
	// before a session exists.
	NeedsConfirmation bool `json:"needs_confirmation"`
}

// Register signs up a company administrator. The profile, the company and
// the owner link are created by one atomic gateway procedure. When sign-up
// yields a live session the new company becomes current.
func (s *Store) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	verr := &ats.ValidationError{}
	if in.Email == "" {
		verr.Fields = append(verr.Fields, ats.FieldError{Field: "email", Message: "is required"})
	}
	if len(in.Password) < 6 {
		verr.Fields = append(verr.Fields, ats.FieldError{Field: "password", Message: "must be at least 6 characters"})
	}
	if in.CompanyName == "" {
		verr.Fields = append(verr.Fields, ats.FieldError{Field: "company_name", Message: "is required"})
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	var meta map[string]any
	if name := strings.TrimSpace(in.FullName); name != "" {
		meta = map[string]any{metadataFullName: name}
	}
	id, sess, err := s.session.SignUp(ctx, in.Email, in.Password, meta)
	if err != nil {
		s.recordFor(ctx, "", "", audit.ActionSignUp, in.Email, err)
		return nil, err
	}

	c, err := s.gw.CreateCompanyAdminProfile(ctx, ats.CompanyAdminProfileParams{
		UserID:             id.ID,
		UserEmail:          in.Email,
		CompanyName:        in.CompanyName,
		CompanyDescription: strings.TrimSpace(in.CompanyDescription),
	})
	s.metrics.RecordMutation("create_company_admin_profile", err)
	if err != nil {
		s.recordFor(ctx, id.ID, "", audit.ActionSignUp, in.Email, err)
		return nil, fmt.Errorf("ats/store: create company admin profile: %w", err)
	}
	s.recordFor(ctx, id.ID, c.ID, audit.ActionSignUp, c.ID, nil)
	s.logger.Info("company admin registered", "user_id", id.ID, "company_id", c.ID)

	res := &RegisterResult{Identity: id, Company: c}
	if sess == nil {
		res.NeedsConfirmation = true
		return res, nil
	}
	if err := s.settleSignIn(ctx, sess, c.ID); err != nil {
		return res, err
	}
	return res, nil
}

// CompleteOAuthSignIn finishes an OAuth redirect. A first-time identity gets
// a profile, a company and an owner link through the atomic procedure. On
// failure the auth callback error is recorded; CallbackRedirect turns it into
// a login location.
func (s *Store) CompleteOAuthSignIn(ctx context.Context) error {
	err := s.completeOAuth(ctx)
	s.record(ctx, audit.ActionOAuthCallback, s.tenant.CurrentID(), err)
	if err != nil {
		s.board.SetError(ats.DomainAuth, ats.NewAppError(ats.CodeAuthCallback, err))
		s.logger.Warn("oauth callback failed", "code", ats.CodeAuthCallback, "err", err)
	}
	return err
}

func (s *Store) completeOAuth(ctx context.Context) error {
	sess, err := s.gw.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("ats/store: oauth callback: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("ats/store: oauth callback: no session: %w", ats.ErrNotAuthenticated)
	}

	_, err = s.gw.GetProfile(ctx, sess.User.ID)
	switch {
	case err == nil:
		return s.settleSignIn(ctx, sess, "")
	case !errors.Is(err, ats.ErrNotFound):
		return fmt.Errorf("ats/store: oauth callback: %w", err)
	}

	c, err := s.gw.CreateCompanyAdminProfile(ctx, ats.CompanyAdminProfileParams{
		UserID:             sess.User.ID,
		UserEmail:          sess.User.Email,
		CompanyName:        companyNameFor(sess.User),
		CompanyDescription: OAuthCompanyDescription,
	})
	s.metrics.RecordMutation("create_company_admin_profile", err)
	if err != nil {
		return fmt.Errorf("ats/store: oauth callback: create profile: %w", err)
	}
	s.logger.Info("profile created for oauth identity", "user_id", sess.User.ID, "company_id", c.ID)
	return s.settleSignIn(ctx, sess, c.ID)
}

// settleSignIn makes sure the session slice holds sess, re-reads the
// profile and loads companies and jobs. preferred, when set, becomes the
// current company if the fresh set contains it.
func (s *Store) settleSignIn(ctx context.Context, sess *ats.Session, preferred string) error {
	if s.session.UserID() != sess.User.ID {
		s.session.HandleAuthChange(ctx, ats.EventSignedIn, sess)
	} else if err := s.RefetchProfile(ctx); err != nil {
		return err
	}
	if s.session.UserID() != sess.User.ID {
		return fmt.Errorf("ats/store: session for %s was not accepted: %w", sess.User.ID, ats.ErrNotAuthenticated)
	}
	if preferred != "" {
		s.tenant.Prefer(preferred)
	}
	if err := relevant(s.tenant.RefetchCompaniesFresh(ctx)); err != nil {
		return err
	}
	if preferred != "" && s.tenant.CurrentID() != preferred {
		if err := s.tenant.SetCurrentCompany(ctx, preferred); err != nil {
			s.logger.Warn("new company missing from fetched set", "company_id", preferred)
		}
	}
	return relevant(s.jobs.Refetch(ctx))
}

// CallbackRedirect returns the login location that displays err.
func CallbackRedirect(err error) string {
	if err == nil {
		return loginPath
	}
	return loginPath + "?error=" + url.QueryEscape(err.Error())
}

// companyNameFor derives a company name from OAuth metadata, the email
// local part, or the default.
func companyNameFor(id ats.Identity) string {
	if v, ok := id.Metadata[metadataFullName].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if local, _, _ := strings.Cut(id.Email, "@"); local != "" {
		return local
	}
	return DefaultCompanyName
}
