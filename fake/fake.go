// Package fake provides an in-memory Remote Data Gateway for testing.
//
// Use fake.New() in unit tests to avoid network calls and external
// dependencies. Procedures are atomic: an injected failure leaves no rows
// behind. Auth listeners are called synchronously, before the sign-in or
// sign-out call returns.
package fake

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ats "github.com/muasya/ats-go"
)

// Option configures the fake gateway.
type Option func(*Gateway)

// Rows is a copy of every table, for assertions.
type Rows struct {
	Profiles  []ats.Profile
	Companies []ats.Company
	Admins    []ats.CompanyAdmin
	Agents    []ats.Agent
	Seekers   []ats.JobSeeker
	Jobs      []ats.Job
}

type account struct {
	identity ats.Identity
	password string
}

// Gateway implements ats.Gateway and ats.TokenVerifier in memory.
type Gateway struct {
	mu        sync.Mutex
	accounts  map[string]*account // email → account
	session   *ats.Session
	tokens    map[string]string // access token → userID
	profiles  map[string]*ats.Profile
	companies map[string]*ats.Company
	admins    []ats.CompanyAdmin
	agents    []ats.Agent
	seekers   map[string]*ats.JobSeeker // userID → record
	jobs      map[string]*ats.Job

	listeners    map[int]ats.AuthListener
	nextListener int

	failures     map[string]error
	calls        map[string]int
	hooks        map[string][]func()
	confirmEmail bool

	clock time.Time
}

// WithUser adds an account with a profile of the given type.
func WithUser(id, email, password string, userType ats.UserType) Option {
	return func(g *Gateway) {
		WithIdentity(id, email, password)(g)
		now := g.tick()
		g.profiles[id] = &ats.Profile{ID: id, Email: email, UserType: userType, CreatedAt: now, UpdatedAt: now}
	}
}

// WithIdentity adds an account without a profile row.
func WithIdentity(id, email, password string) Option {
	return func(g *Gateway) {
		g.accounts[strings.ToLower(email)] = &account{
			identity: ats.Identity{ID: id, Email: email},
			password: password,
		}
	}
}

// WithCompany adds a company. Companies added later sort later.
func WithCompany(id, name string) Option {
	return func(g *Gateway) {
		now := g.tick()
		g.companies[id] = &ats.Company{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	}
}

// WithAdmin links userID to companyID with role.
func WithAdmin(userID, companyID, role string) Option {
	return func(g *Gateway) {
		g.admins = append(g.admins, ats.CompanyAdmin{
			ID: uuid.NewString(), UserID: userID, CompanyID: companyID, Role: role, CreatedAt: g.tick(),
		})
	}
}

// WithAgent links userID to companyID with the named permissions granted.
func WithAgent(userID, companyID string, permissions ...string) Option {
	return func(g *Gateway) {
		perms := make(map[string]bool, len(permissions))
		for _, p := range permissions {
			perms[p] = true
		}
		g.agents = append(g.agents, ats.Agent{
			ID: uuid.NewString(), UserID: userID, CompanyID: companyID, Permissions: perms, CreatedAt: g.tick(),
		})
	}
}

// WithJobSeeker adds the job seeker record of userID.
func WithJobSeeker(userID string, skills ...string) Option {
	return func(g *Gateway) {
		g.seekers[userID] = &ats.JobSeeker{ID: uuid.NewString(), UserID: userID, Skills: skills, CreatedAt: g.tick()}
	}
}

// WithJob adds a job to companyID. Jobs added later sort first.
func WithJob(id, companyID, title string) Option {
	return func(g *Gateway) {
		now := g.tick()
		g.jobs[id] = &ats.Job{
			ID: id, CompanyID: companyID, Title: title, Description: title,
			LocationType: ats.LocationRemote, EmploymentType: ats.EmploymentFullTime,
			Status: ats.JobActive, SkillsRequired: []string{}, CreatedAt: now, UpdatedAt: now,
		}
	}
}

// WithSignedIn starts the gateway with a live session for the account at email.
func WithSignedIn(email string) Option {
	return func(g *Gateway) {
		if a, ok := g.accounts[strings.ToLower(email)]; ok {
			g.session = g.issue(a.identity)
		}
	}
}

// WithEmailConfirmation makes SignUp return no session.
func WithEmailConfirmation() Option {
	return func(g *Gateway) { g.confirmEmail = true }
}

// New creates a fake gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		accounts:  make(map[string]*account),
		tokens:    make(map[string]string),
		profiles:  make(map[string]*ats.Profile),
		companies: make(map[string]*ats.Company),
		seekers:   make(map[string]*ats.JobSeeker),
		jobs:      make(map[string]*ats.Job),
		listeners: make(map[int]ats.AuthListener),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
		hooks:     make(map[string][]func()),
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// --- test controls ---

// Fail makes every later call of op return err. A nil err clears it.
// op is the gateway method name, e.g. "ListJobs".
func (g *Gateway) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, op)
		return
	}
	g.failures[op] = err
}

// Before runs fn once, at the start of the next call of op, outside the lock.
func (g *Gateway) Before(op string, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks[op] = append(g.hooks[op], fn)
}

// Calls returns how many times op was called.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// ResetCalls zeroes every call counter.
func (g *Gateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.calls)
}

// Revoke removes every admin and agent link between userID and companyID.
func (g *Gateway) Revoke(userID, companyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.admins = slices.DeleteFunc(g.admins, func(a ats.CompanyAdmin) bool {
		return a.UserID == userID && a.CompanyID == companyID
	})
	g.agents = slices.DeleteFunc(g.agents, func(a ats.Agent) bool {
		return a.UserID == userID && a.CompanyID == companyID
	})
}

// SignInAs starts a session for the account at email as if it happened in
// another tab, notifying listeners.
func (g *Gateway) SignInAs(email string) error {
	g.mu.Lock()
	a, ok := g.accounts[strings.ToLower(email)]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("ats/fake: no account %q", email)
	}
	g.session = g.issue(a.identity)
	sess := *g.session
	g.mu.Unlock()
	g.emit(ats.EventSignedIn, &sess)
	return nil
}

// Rows returns a copy of every table.
func (g *Gateway) Rows() Rows {
	g.mu.Lock()
	defer g.mu.Unlock()
	var r Rows
	for _, p := range g.profiles {
		r.Profiles = append(r.Profiles, *p)
	}
	r.Companies = g.sortedCompanies(nil)
	r.Admins = slices.Clone(g.admins)
	r.Agents = slices.Clone(g.agents)
	for _, s := range g.seekers {
		r.Seekers = append(r.Seekers, *s)
	}
	for _, j := range g.jobs {
		r.Jobs = append(r.Jobs, *j)
	}
	return r
}

// enter records a call of op, runs its one-shot hooks and returns the
// injected failure, if any.
func (g *Gateway) enter(op string) error {
	g.mu.Lock()
	g.calls[op]++
	hooks := g.hooks[op]
	delete(g.hooks, op)
	err := g.failures[op]
	g.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	if err != nil {
		return fmt.Errorf("ats/fake: %s: %w", op, err)
	}
	return nil
}

func (g *Gateway) tick() time.Time {
	g.clock = g.clock.Add(time.Second)
	return g.clock
}

func (g *Gateway) issue(id ats.Identity) *ats.Session {
	token := "tok-" + uuid.NewString()
	g.tokens[token] = id.ID
	return &ats.Session{
		AccessToken:  token,
		RefreshToken: "ref-" + uuid.NewString(),
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         id,
	}
}

func (g *Gateway) emit(event ats.AuthEvent, sess *ats.Session) {
	g.mu.Lock()
	ls := make([]ats.AuthListener, 0, len(g.listeners))
	for _, l := range g.listeners {
		ls = append(ls, l)
	}
	g.mu.Unlock()
	for _, l := range ls {
		l(event, sess)
	}
}

// --- AuthProvider ---

func (g *Gateway) GetSession(_ context.Context) (*ats.Session, error) {
	if err := g.enter("GetSession"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil, nil
	}
	sess := *g.session
	return &sess, nil
}

func (g *Gateway) SignInWithPassword(_ context.Context, email, password string) (*ats.Session, error) {
	if err := g.enter("SignInWithPassword"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	a, ok := g.accounts[strings.ToLower(email)]
	if !ok || a.password != password {
		g.mu.Unlock()
		return nil, errors.New("ats/fake: invalid login credentials")
	}
	g.session = g.issue(a.identity)
	sess := *g.session
	g.mu.Unlock()

	g.emit(ats.EventSignedIn, &sess)
	return &sess, nil
}

func (g *Gateway) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	if err := g.enter("SignInWithOAuth"); err != nil {
		return "", err
	}
	q := url.Values{"provider": {provider}, "redirect_to": {redirectTo}}
	return "https://fake.local/auth/v1/authorize?" + q.Encode(), nil
}

func (g *Gateway) SignUp(_ context.Context, email, password string, metadata map[string]any) (*ats.Identity, *ats.Session, error) {
	if err := g.enter("SignUp"); err != nil {
		return nil, nil, err
	}
	g.mu.Lock()
	key := strings.ToLower(email)
	if _, ok := g.accounts[key]; ok {
		g.mu.Unlock()
		return nil, nil, errors.New("ats/fake: user already registered")
	}
	id := ats.Identity{ID: uuid.NewString(), Email: email, Metadata: metadata}
	g.accounts[key] = &account{identity: id, password: password}
	if g.confirmEmail {
		g.mu.Unlock()
		return &id, nil, nil
	}
	g.session = g.issue(id)
	sess := *g.session
	g.mu.Unlock()

	g.emit(ats.EventSignedIn, &sess)
	return &id, &sess, nil
}

func (g *Gateway) SignOut(_ context.Context) error {
	if err := g.enter("SignOut"); err != nil {
		return err
	}
	g.mu.Lock()
	if g.session != nil {
		delete(g.tokens, g.session.AccessToken)
	}
	g.session = nil
	g.mu.Unlock()

	g.emit(ats.EventSignedOut, nil)
	return nil
}

func (g *Gateway) OnAuthStateChange(fn ats.AuthListener) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextListener
	g.nextListener++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

// --- TokenVerifier ---

// Verify accepts tokens issued by this gateway that are still live.
func (g *Gateway) Verify(_ context.Context, token string) (*ats.Claims, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	userID, ok := g.tokens[token]
	if !ok {
		return nil, fmt.Errorf("ats/fake: unknown token")
	}
	return &ats.Claims{
		Subject:   userID,
		Role:      "authenticated",
		ExpiresAt: time.Now().Add(time.Hour),
		IssuedAt:  time.Now(),
		Issuer:    "fake",
	}, nil
}

// --- Tables ---

func (g *Gateway) GetProfile(_ context.Context, userID string) (*ats.Profile, error) {
	if err := g.enter("GetProfile"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.profiles[userID]
	if !ok {
		return nil, ats.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (g *Gateway) ListCompanyAdmins(_ context.Context, userID string) ([]ats.CompanyAdmin, error) {
	if err := g.enter("ListCompanyAdmins"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ats.CompanyAdmin
	for _, a := range g.admins {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *Gateway) ListAgents(_ context.Context, userID string) ([]ats.Agent, error) {
	if err := g.enter("ListAgents"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ats.Agent
	for _, a := range g.agents {
		if a.UserID == userID {
			a.Permissions = maps.Clone(a.Permissions)
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *Gateway) GetJobSeeker(_ context.Context, userID string) (*ats.JobSeeker, error) {
	if err := g.enter("GetJobSeeker"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.seekers[userID]
	if !ok {
		return nil, ats.ErrNotFound
	}
	cp := *s
	cp.Skills = slices.Clone(s.Skills)
	return &cp, nil
}

func (g *Gateway) HasCompanyAccess(_ context.Context, userID, companyID string) (bool, error) {
	if err := g.enter("HasCompanyAccess"); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasAccess(userID, companyID), nil
}

func (g *Gateway) ListCompanies(_ context.Context, ids []string) ([]ats.Company, error) {
	if err := g.enter("ListCompanies"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sortedCompanies(ids), nil
}

func (g *Gateway) UpdateCompany(_ context.Context, id string, in ats.CompanyInput) (*ats.Company, error) {
	if err := g.enter("UpdateCompany"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.companies[id]
	if !ok {
		return nil, ats.ErrNotFound
	}
	applyCompany(c, in)
	c.UpdatedAt = g.tick()
	cp := *c
	return &cp, nil
}

func (g *Gateway) DeleteCompanyAdmins(_ context.Context, companyID string) error {
	if err := g.enter("DeleteCompanyAdmins"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.admins = slices.DeleteFunc(g.admins, func(a ats.CompanyAdmin) bool { return a.CompanyID == companyID })
	return nil
}

func (g *Gateway) DeleteAgents(_ context.Context, companyID string) error {
	if err := g.enter("DeleteAgents"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents = slices.DeleteFunc(g.agents, func(a ats.Agent) bool { return a.CompanyID == companyID })
	return nil
}

func (g *Gateway) DeleteCompany(_ context.Context, id string) error {
	if err := g.enter("DeleteCompany"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.companies[id]; !ok {
		return ats.ErrNotFound
	}
	for _, a := range g.admins {
		if a.CompanyID == id {
			return fmt.Errorf("ats/fake: company %s still referenced by company_admins", id)
		}
	}
	delete(g.companies, id)
	for jid, j := range g.jobs {
		if j.CompanyID == id {
			delete(g.jobs, jid)
		}
	}
	return nil
}

func (g *Gateway) ListJobs(_ context.Context, companyID string) ([]ats.Job, error) {
	if err := g.enter("ListJobs"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ats.Job
	for _, j := range g.jobs {
		if j.CompanyID == companyID {
			out = append(out, cloneJob(j))
		}
	}
	slices.SortFunc(out, func(a, b ats.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (g *Gateway) UpdateJob(_ context.Context, id string, in ats.JobInput) (*ats.Job, error) {
	if err := g.enter("UpdateJob"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[id]
	if !ok {
		return nil, ats.ErrNotFound
	}
	now := g.tick()
	applyJob(j, in, now)
	j.UpdatedAt = now
	cp := cloneJob(j)
	return &cp, nil
}

func (g *Gateway) DeleteJob(_ context.Context, id string) error {
	if err := g.enter("DeleteJob"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.jobs[id]; !ok {
		return ats.ErrNotFound
	}
	delete(g.jobs, id)
	return nil
}

// --- Procedures ---

func (g *Gateway) CreateCompanyAdminProfile(_ context.Context, p ats.CompanyAdminProfileParams) (*ats.Company, error) {
	if err := g.enter("CreateCompanyAdminProfile"); err != nil {
		return nil, err
	}
	if p.UserID == "" || strings.TrimSpace(p.CompanyName) == "" {
		return nil, errors.New("ats/fake: user_id and company_name are required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.profiles[p.UserID]; ok {
		return nil, fmt.Errorf("ats/fake: profile for %s already exists", p.UserID)
	}
	now := g.tick()
	g.profiles[p.UserID] = &ats.Profile{
		ID: p.UserID, Email: p.UserEmail, UserType: ats.UserTypeCompanyAdmin, CreatedAt: now, UpdatedAt: now,
	}
	c := g.insertCompany(p.UserID, ats.CompanyInput{Name: p.CompanyName, Description: p.CompanyDescription})
	return &c, nil
}

func (g *Gateway) CreateCompanyTransaction(_ context.Context, p ats.CreateCompanyParams) (*ats.Company, error) {
	if err := g.enter("CreateCompanyTransaction"); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, errors.New("ats/fake: p_user_id is required")
	}
	in, err := ats.ValidateCompany(p.Company, time.Now())
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.insertCompany(p.UserID, in)
	return &c, nil
}

func (g *Gateway) CreateJobTransaction(_ context.Context, p ats.CreateJobParams) (*ats.Job, error) {
	if err := g.enter("CreateJobTransaction"); err != nil {
		return nil, err
	}
	in, err := ats.ValidateJob(p.Job)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.companies[p.CompanyID]; !ok {
		return nil, ats.ErrNotFound
	}
	if !g.hasAccess(p.UserID, p.CompanyID) {
		return nil, ats.ErrNotAuthorized
	}
	now := g.tick()
	j := &ats.Job{ID: uuid.NewString(), CompanyID: p.CompanyID, CreatedBy: p.UserID, CreatedAt: now, UpdatedAt: now}
	applyJob(j, in, now)
	g.jobs[j.ID] = j
	cp := cloneJob(j)
	return &cp, nil
}

// --- helpers (caller holds g.mu) ---

func (g *Gateway) insertCompany(userID string, in ats.CompanyInput) ats.Company {
	now := g.tick()
	c := &ats.Company{ID: uuid.NewString(), CreatedAt: now}
	applyCompany(c, in)
	c.UpdatedAt = now
	g.companies[c.ID] = c
	g.admins = append(g.admins, ats.CompanyAdmin{
		ID: uuid.NewString(), UserID: userID, CompanyID: c.ID, Role: ats.RoleOwner, CreatedAt: now,
	})
	return *c
}

func (g *Gateway) hasAccess(userID, companyID string) bool {
	for _, a := range g.admins {
		if a.UserID == userID && a.CompanyID == companyID {
			return true
		}
	}
	for _, a := range g.agents {
		if a.UserID == userID && a.CompanyID == companyID {
			return true
		}
	}
	return false
}

// sortedCompanies returns the companies with the given ids (all when ids is
// nil), oldest first.
func (g *Gateway) sortedCompanies(ids []string) []ats.Company {
	var out []ats.Company
	for id, c := range g.companies {
		if ids == nil || slices.Contains(ids, id) {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b ats.Company) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func applyCompany(c *ats.Company, in ats.CompanyInput) {
	c.Name = in.Name
	c.Description = in.Description
	c.Website = in.Website
	c.LogoURL = in.LogoURL
	c.Location = in.Location
	c.Industry = in.Industry
	c.EmployeeCount = in.EmployeeCount
	c.Founded = in.Founded
	c.CEO = in.CEO
}

func applyJob(j *ats.Job, in ats.JobInput, now time.Time) {
	j.Title = in.Title
	j.Description = in.Description
	j.Requirements = in.Requirements
	j.LocationType = in.LocationType
	j.Location = in.Location
	j.EmploymentType = in.EmploymentType
	j.SalaryRange = in.SalaryRange
	j.ExperienceLevel = in.ExperienceLevel
	j.SkillsRequired = slices.Clone(in.SkillsRequired)
	j.Status = in.Status
	j.ApplicationDeadline = in.ApplicationDeadline
	j.ApplicationURL = in.ApplicationURL
	if j.Status == ats.JobActive && j.PublishedAt == nil {
		t := now
		j.PublishedAt = &t
	}
}

func cloneJob(j *ats.Job) ats.Job {
	cp := *j
	cp.SkillsRequired = slices.Clone(j.SkillsRequired)
	if cp.SkillsRequired == nil {
		cp.SkillsRequired = []string{}
	}
	return cp
}

var (
	_ ats.Gateway       = (*Gateway)(nil)
	_ ats.TokenVerifier = (*Gateway)(nil)
)
