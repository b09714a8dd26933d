package store

import (
	"context"
	"errors"
	"fmt"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/audit"
	"github.com/muasya/ats-go/tenant"
)

// SignInWithPassword authenticates with email and password. Session,
// companies and jobs are loaded by the auth change the gateway delivers.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) error {
	err := s.session.SignInWithPassword(ctx, email, password)
	s.record(ctx, audit.ActionSignIn, email, err)
	return err
}

// SignInWithOAuth returns the provider URL the user must visit. An empty
// redirectTo falls back to Config.OAuthRedirectTo.
func (s *Store) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if redirectTo == "" {
		redirectTo = s.cfg.OAuthRedirectTo
	}
	return s.session.SignInWithOAuth(ctx, provider, redirectTo)
}

// SignOut ends the session and resets identity, profile, companies, the
// current company and jobs. The persisted selection is forgotten.
func (s *Store) SignOut(ctx context.Context) error {
	userID := s.session.UserID()
	err := s.session.SignOut(ctx)
	s.recordFor(ctx, userID, "", audit.ActionSignOut, userID, err)
	if err != nil {
		return err
	}
	s.hint = projection{}
	if err := s.tenant.Forget(ctx); err != nil {
		s.logger.Warn("forgetting last selected company failed", "err", err)
	}
	return nil
}

// SetCurrentCompany selects a loaded company ("" for none) and reloads jobs.
func (s *Store) SetCurrentCompany(ctx context.Context, id string) error {
	if err := s.tenant.SetCurrentCompany(ctx, id); err != nil {
		return err
	}
	return relevant(s.jobs.Refetch(ctx))
}

// SwitchCompany optimistically selects id, revalidates the authorization
// link and reloads jobs for whichever company is current once it settles.
func (s *Store) SwitchCompany(ctx context.Context, id string) (tenant.SwitchResult, error) {
	res, err := s.tenant.SwitchCompany(ctx, id)
	s.record(ctx, audit.ActionSwitchCompany, id, err)
	if jerr := relevant(s.jobs.Refetch(ctx)); jerr != nil {
		s.logger.Debug("job refetch after switch failed", "company_id", s.tenant.CurrentID(), "err", jerr)
	}
	return res, err
}

// CreateCompany creates a company owned by the signed-in identity, selects
// it and loads its (empty) job set.
func (s *Store) CreateCompany(ctx context.Context, in ats.CompanyInput) (*ats.Company, error) {
	c, err := s.tenant.CreateCompany(ctx, in)
	resource := ""
	if c != nil {
		resource = c.ID
	}
	s.record(ctx, audit.ActionCreateCompany, resource, err)
	if err != nil {
		return nil, err
	}
	_ = s.jobs.Refetch(ctx)
	return c, nil
}

// UpdateCompany patches a company the identity has access to.
func (s *Store) UpdateCompany(ctx context.Context, id string, in ats.CompanyInput) (*ats.Company, error) {
	c, err := s.tenant.UpdateCompany(ctx, id, in)
	s.record(ctx, audit.ActionUpdateCompany, id, err)
	return c, err
}

// DeleteCompany deletes a company and its links, then refetches companies
// and the jobs of whichever company is current afterwards.
func (s *Store) DeleteCompany(ctx context.Context, id string) error {
	err := s.tenant.DeleteCompany(ctx, id)
	s.record(ctx, audit.ActionDeleteCompany, id, err)
	if err != nil {
		if rerr := relevant(s.jobs.Refetch(ctx)); rerr != nil {
			s.logger.Debug("job refetch after failed delete failed", "err", rerr)
		}
		return err
	}
	if err := s.RefetchAll(ctx); err != nil {
		s.logger.Warn("refetch after company delete failed", "company_id", id, "err", err)
	}
	return nil
}

// CreateJob creates a job for the current company.
func (s *Store) CreateJob(ctx context.Context, in ats.JobInput) (*ats.Job, error) {
	j, err := s.jobs.Create(ctx, in)
	resource := ""
	if j != nil {
		resource = j.ID
	}
	s.record(ctx, audit.ActionCreateJob, resource, err)
	return j, err
}

// UpdateJob updates a job of the current company.
func (s *Store) UpdateJob(ctx context.Context, id string, in ats.JobInput) (*ats.Job, error) {
	j, err := s.jobs.Update(ctx, id, in)
	s.record(ctx, audit.ActionUpdateJob, id, err)
	return j, err
}

// DeleteJob deletes a job of the current company.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	err := s.jobs.Delete(ctx, id)
	s.record(ctx, audit.ActionDeleteJob, id, err)
	return err
}

func (s *Store) record(ctx context.Context, action, resource string, err error) {
	s.recordFor(ctx, s.session.UserID(), s.tenant.CurrentID(), action, resource, err)
}

func (s *Store) recordFor(ctx context.Context, userID, companyID, action, resource string, err error) {
	if s.audit == nil {
		return
	}
	e := audit.Event{
		RequestID: audit.RequestID(ctx),
		UserID:    userID,
		CompanyID: companyID,
		Action:    action,
		Resource:  resource,
		Result:    audit.ResultSuccess,
	}
	var verr *ats.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, ats.ErrNotAuthorized), errors.Is(err, ats.ErrNotAuthenticated):
		e.Result = audit.ResultDenied
		e.Error = err.Error()
	case errors.As(err, &verr):
		e.Result = audit.ResultFailure
		e.Error = err.Error()
		e.Details = fmt.Sprintf("%d invalid fields", len(verr.Fields))
	default:
		e.Result = audit.ResultFailure
		e.Error = err.Error()
	}
	s.audit.Log(e)
}
