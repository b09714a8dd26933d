package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	ats "github.com/muasya/ats-go"
)

// Collection names.
const (
	tableProfiles      = "profiles"
	tableCompanies     = "companies"
	tableCompanyAdmins = "company_admins"
	tableAgents        = "agents"
	tableJobSeekers    = "job_seekers"
	tableJobs          = "jobs"
)

var returnRepresentation = http.Header{"Prefer": {"return=representation"}}

func eq(v string) string { return "eq." + v }

// in builds a PostgREST in-list with quoted values.
func in(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}

func (c *Client) selectRows(ctx context.Context, table string, q url.Values, out any) error {
	if q.Get("select") == "" {
		q.Set("select", "*")
	}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/rest/v1/" + table, query: q}, out); err != nil {
		return fmt.Errorf("ats/supabase: select %s: %w", table, err)
	}
	return nil
}

// selectOne returns ErrNotFound when no row matches.
func selectOne[T any](ctx context.Context, c *Client, table string, q url.Values) (*T, error) {
	q.Set("limit", "1")
	var rows []T
	if err := c.selectRows(ctx, table, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ats/supabase: %s: %w", table, ats.ErrNotFound)
	}
	return &rows[0], nil
}

// mutate sends a PATCH or DELETE filtered by q and returns the affected rows.
func mutate[T any](ctx context.Context, c *Client, method, table string, q url.Values, body any) ([]T, error) {
	var rows []T
	err := c.do(ctx, request{
		method: method,
		path:   "/rest/v1/" + table,
		query:  q,
		body:   body,
		header: returnRepresentation,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("ats/supabase: %s %s: %w", strings.ToLower(method), table, err)
	}
	return rows, nil
}

func (c *Client) GetProfile(ctx context.Context, userID string) (*ats.Profile, error) {
	return selectOne[ats.Profile](ctx, c, tableProfiles, url.Values{"id": {eq(userID)}})
}

func (c *Client) ListCompanyAdmins(ctx context.Context, userID string) ([]ats.CompanyAdmin, error) {
	var rows []ats.CompanyAdmin
	err := c.selectRows(ctx, tableCompanyAdmins, url.Values{"user_id": {eq(userID)}}, &rows)
	return rows, err
}

func (c *Client) ListAgents(ctx context.Context, userID string) ([]ats.Agent, error) {
	var rows []ats.Agent
	err := c.selectRows(ctx, tableAgents, url.Values{"user_id": {eq(userID)}}, &rows)
	return rows, err
}

func (c *Client) GetJobSeeker(ctx context.Context, userID string) (*ats.JobSeeker, error) {
	return selectOne[ats.JobSeeker](ctx, c, tableJobSeekers, url.Values{"user_id": {eq(userID)}})
}

// HasCompanyAccess checks both link tables concurrently.
func (c *Client) HasCompanyAccess(ctx context.Context, userID, companyID string) (bool, error) {
	var admin, agent bool
	g, gctx := errgroup.WithContext(ctx)
	probe := func(table string, found *bool) func() error {
		return func() error {
			var rows []struct {
				ID string `json:"id"`
			}
			q := url.Values{
				"select":     {"id"},
				"user_id":    {eq(userID)},
				"company_id": {eq(companyID)},
				"limit":      {"1"},
			}
			if err := c.selectRows(gctx, table, q, &rows); err != nil {
				return err
			}
			*found = len(rows) > 0
			return nil
		}
	}
	g.Go(probe(tableCompanyAdmins, &admin))
	g.Go(probe(tableAgents, &agent))
	if err := g.Wait(); err != nil {
		return false, err
	}
	return admin || agent, nil
}

func (c *Client) ListCompanies(ctx context.Context, ids []string) ([]ats.Company, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []ats.Company
	q := url.Values{"id": {in(ids)}, "order": {"created_at.asc"}}
	err := c.selectRows(ctx, tableCompanies, q, &rows)
	return rows, err
}

func (c *Client) UpdateCompany(ctx context.Context, id string, input ats.CompanyInput) (*ats.Company, error) {
	rows, err := mutate[ats.Company](ctx, c, http.MethodPatch, tableCompanies, url.Values{"id": {eq(id)}}, companyPatch(input))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ats/supabase: company %s: %w", id, ats.ErrNotFound)
	}
	return &rows[0], nil
}

// companyPatch writes every column so that cleared fields become null.
func companyPatch(in ats.CompanyInput) map[string]any {
	return map[string]any{
		"name":           in.Name,
		"description":    nullable(in.Description),
		"website":        nullable(in.Website),
		"logo_url":       nullable(in.LogoURL),
		"location":       in.Location,
		"industry":       in.Industry,
		"employee_count": in.EmployeeCount,
		"founded":        in.Founded,
		"ceo":            in.CEO,
	}
}

func (c *Client) DeleteCompanyAdmins(ctx context.Context, companyID string) error {
	_, err := mutate[struct{}](ctx, c, http.MethodDelete, tableCompanyAdmins, url.Values{"company_id": {eq(companyID)}}, nil)
	return err
}

func (c *Client) DeleteAgents(ctx context.Context, companyID string) error {
	_, err := mutate[struct{}](ctx, c, http.MethodDelete, tableAgents, url.Values{"company_id": {eq(companyID)}}, nil)
	return err
}

func (c *Client) DeleteCompany(ctx context.Context, id string) error {
	rows, err := mutate[struct{}](ctx, c, http.MethodDelete, tableCompanies, url.Values{"id": {eq(id)}}, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("ats/supabase: company %s: %w", id, ats.ErrNotFound)
	}
	return nil
}

func (c *Client) ListJobs(ctx context.Context, companyID string) ([]ats.Job, error) {
	var rows []ats.Job
	q := url.Values{"company_id": {eq(companyID)}, "order": {"created_at.desc"}}
	err := c.selectRows(ctx, tableJobs, q, &rows)
	return rows, err
}

func (c *Client) UpdateJob(ctx context.Context, id string, input ats.JobInput) (*ats.Job, error) {
	rows, err := mutate[ats.Job](ctx, c, http.MethodPatch, tableJobs, url.Values{"id": {eq(id)}}, jobPatch(input))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ats/supabase: job %s: %w", id, ats.ErrNotFound)
	}
	return &rows[0], nil
}

// jobPatch writes every column so that cleared fields become null.
func jobPatch(in ats.JobInput) map[string]any {
	skills := in.SkillsRequired
	if skills == nil {
		skills = []string{}
	}
	return map[string]any{
		"title":                in.Title,
		"description":          in.Description,
		"requirements":         in.Requirements,
		"location_type":        in.LocationType,
		"location":             in.Location,
		"employment_type":      in.EmploymentType,
		"salary_range":         in.SalaryRange,
		"experience_level":     nullable(string(in.ExperienceLevel)),
		"skills_required":      skills,
		"status":               in.Status,
		"application_deadline": nullable(in.ApplicationDeadline),
		"application_url":      nullable(in.ApplicationURL),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (c *Client) DeleteJob(ctx context.Context, id string) error {
	rows, err := mutate[struct{}](ctx, c, http.MethodDelete, tableJobs, url.Values{"id": {eq(id)}}, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("ats/supabase: job %s: %w", id, ats.ErrNotFound)
	}
	return nil
}

// --- Procedures ---

// rpc calls a database function with named arguments and decodes its result.
func (c *Client) rpc(ctx context.Context, fn string, args []ats.Arg, out any) error {
	body := make(map[string]any, len(args))
	for _, a := range args {
		body[a.Name] = a.Value
	}
	if err := c.do(ctx, request{method: http.MethodPost, path: "/rest/v1/rpc/" + fn, body: body}, out); err != nil {
		return fmt.Errorf("ats/supabase: rpc %s: %w", fn, err)
	}
	return nil
}

func (c *Client) CreateCompanyAdminProfile(ctx context.Context, p ats.CompanyAdminProfileParams) (*ats.Company, error) {
	var co ats.Company
	if err := c.rpc(ctx, "create_company_admin_profile", p.Args(), &co); err != nil {
		return nil, err
	}
	return &co, nil
}

func (c *Client) CreateCompanyTransaction(ctx context.Context, p ats.CreateCompanyParams) (*ats.Company, error) {
	var co ats.Company
	if err := c.rpc(ctx, "create_company_transaction", p.Args(), &co); err != nil {
		return nil, err
	}
	return &co, nil
}

func (c *Client) CreateJobTransaction(ctx context.Context, p ats.CreateJobParams) (*ats.Job, error) {
	var j ats.Job
	if err := c.rpc(ctx, "create_job_transaction", p.Args(), &j); err != nil {
		return nil, err
	}
	return &j, nil
}
