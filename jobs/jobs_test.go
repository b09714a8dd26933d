package jobs_test

import (
	"context"
	"errors"
	"testing"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/fake"
	"github.com/muasya/ats-go/jobs"
	"github.com/muasya/ats-go/status"
	"github.com/muasya/ats-go/tenant"
)

type principal struct{ id *ats.Identity }

func (p *principal) Identity() *ats.Identity { return p.id }
func (p *principal) Profile() *ats.Profile {
	if p.id == nil {
		return nil
	}
	return &ats.Profile{ID: p.id.ID, UserType: ats.UserTypeCompanyAdmin}
}
func (p *principal) UserID() string {
	if p.id == nil {
		return ""
	}
	return p.id.ID
}

// stubScope lets tests hold a current company without a matching link.
type stubScope struct {
	current     string
	access      bool
	loaded      bool
	ensureCalls int
}

func (s *stubScope) CurrentID() string { return s.current }
func (s *stubScope) Generation() uint64 { return 1 }
func (s *stubScope) HasAccess(string) bool { return s.loaded && s.access }
func (s *stubScope) EnsureLinksLoaded(context.Context) error {
	s.ensureCalls++
	s.loaded = true
	return nil
}

func newGateway() *fake.Gateway {
	return fake.New(
		fake.WithUser("u1", "u1@example.com", "pw", ats.UserTypeCompanyAdmin),
		fake.WithCompany("c1", "Acme"),
		fake.WithCompany("c2", "Globex"),
		fake.WithAdmin("u1", "c1", ats.RoleOwner),
		fake.WithAdmin("u1", "c2", ats.RoleOwner),
		fake.WithJob("j1", "c1", "Backend Engineer"),
		fake.WithJob("j2", "c1", "Frontend Engineer"),
		fake.WithJob("j3", "c2", "Data Analyst"),
	)
}

type fixture struct {
	g      *fake.Gateway
	board  *status.Board
	tenant *tenant.Slice
	jobs   *jobs.Slice
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{g: newGateway(), board: status.New()}
	who := &principal{id: &ats.Identity{ID: "u1", Email: "u1@example.com"}}
	f.tenant = tenant.New(f.g, f.board, who, tenant.WithCurrentChange(func(string) { f.jobs.Reset() }))
	f.jobs = jobs.New(f.g, f.board, f.tenant, who)
	if err := f.tenant.RefetchCompanies(context.Background()); err != nil {
		t.Fatalf("RefetchCompanies() error: %v", err)
	}
	return f
}

func validJob(title string) ats.JobInput {
	return ats.JobInput{
		Title:          title,
		Description:    "Build things",
		LocationType:   ats.LocationRemote,
		EmploymentType: ats.EmploymentFullTime,
	}
}

// --- Refetch ---

func TestRefetch_NewestFirst(t *testing.T) {
	f := setup(t)

	if err := f.jobs.Refetch(context.Background()); err != nil {
		t.Fatalf("Refetch() error: %v", err)
	}
	got := f.jobs.Jobs()
	if len(got) != 2 || got[0].ID != "j2" || got[1].ID != "j1" {
		t.Errorf("jobs = %+v, want [j2 j1]", got)
	}
	if f.jobs.CompanyID() != "c1" {
		t.Errorf("CompanyID() = %q, want c1", f.jobs.CompanyID())
	}
	if f.board.Loading(ats.DomainJobs) {
		t.Error("loading.jobs should be false")
	}
}

func TestRefetch_NoIdentity(t *testing.T) {
	g := newGateway()
	scope := &stubScope{current: "c1", access: true}
	s := jobs.New(g, status.New(), scope, &principal{})

	if err := s.Refetch(context.Background()); err != nil {
		t.Fatalf("Refetch() error: %v", err)
	}
	if n := g.Calls("ListJobs"); n != 0 {
		t.Errorf("ListJobs calls = %d, want 0", n)
	}
}

func TestRefetch_NoCurrentCompany(t *testing.T) {
	g := newGateway()
	s := jobs.New(g, status.New(), &stubScope{}, &principal{id: &ats.Identity{ID: "u1"}})

	_ = s.Refetch(context.Background())

	if n := g.Calls("ListJobs"); n != 0 {
		t.Errorf("ListJobs calls = %d, want 0", n)
	}
	if len(s.Jobs()) != 0 {
		t.Error("jobs should be empty")
	}
}

func TestRefetch_NoAccessLink(t *testing.T) {
	g := newGateway()
	scope := &stubScope{current: "c1", access: false}
	s := jobs.New(g, status.New(), scope, &principal{id: &ats.Identity{ID: "u1"}})

	_ = s.Refetch(context.Background())

	if n := g.Calls("ListJobs"); n != 0 {
		t.Errorf("ListJobs calls = %d, want 0 without an access link", n)
	}
	if len(s.Jobs()) != 0 {
		t.Error("jobs should be exactly empty")
	}
}

func TestRefetch_LoadsLinksLazily(t *testing.T) {
	g := newGateway()
	scope := &stubScope{current: "c1", access: true}
	s := jobs.New(g, status.New(), scope, &principal{id: &ats.Identity{ID: "u1"}})

	_ = s.Refetch(context.Background())

	if scope.ensureCalls != 1 {
		t.Errorf("EnsureLinksLoaded calls = %d, want 1", scope.ensureCalls)
	}
	if len(s.Jobs()) != 2 {
		t.Errorf("jobs = %d, want 2", len(s.Jobs()))
	}
}

func TestRefetch_GatewayError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.jobs.Refetch(ctx)
	f.g.Fail("ListJobs", errors.New("500"))

	if err := f.jobs.Refetch(ctx); err == nil {
		t.Fatal("expected error")
	}
	if len(f.jobs.Jobs()) != 0 {
		t.Error("set must be reset to empty on a failed fetch")
	}
	if e := f.board.Err(ats.DomainJobs); e == nil || e.Code != ats.CodeJobsFetch {
		t.Errorf("jobs error = %+v, want %s", e, ats.CodeJobsFetch)
	}
	if f.board.Loading(ats.DomainJobs) {
		t.Error("loading.jobs should be false")
	}
}

func TestRefetch_TenantIsolationOnSwitch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.g.Before("ListJobs", func() {
		if err := f.tenant.SetCurrentCompany(ctx, "c2"); err != nil {
			t.Errorf("SetCurrentCompany() error: %v", err)
		}
	})

	err := f.jobs.Refetch(ctx)

	if !errors.Is(err, ats.ErrSuperseded) {
		t.Errorf("err = %v, want ErrSuperseded", err)
	}
	for _, j := range f.jobs.Jobs() {
		if j.CompanyID == "c1" {
			t.Fatalf("job %s of the previous company leaked into the set", j.ID)
		}
	}

	_ = f.jobs.Refetch(ctx)
	got := f.jobs.Jobs()
	if len(got) != 1 || got[0].ID != "j3" {
		t.Errorf("jobs = %+v, want [j3]", got)
	}
}

// --- intents ---

func TestCreate_ValidationBoundary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.jobs.Refetch(ctx)

	in := validJob("Go")
	in.Description = "Build"
	_, err := f.jobs.Create(ctx, in)
	var verr *ats.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if n := f.g.Calls("CreateJobTransaction"); n != 0 {
		t.Fatalf("CreateJobTransaction calls = %d, want 0", n)
	}

	in.Title = "SRE"
	if _, err := f.jobs.Create(ctx, in); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if n := f.g.Calls("CreateJobTransaction"); n != 1 {
		t.Errorf("CreateJobTransaction calls = %d, want 1", n)
	}
}

func TestCreate_SalaryRangeRejected(t *testing.T) {
	f := setup(t)
	in := validJob("Engineer")
	in.SalaryRange = &ats.SalaryRange{Min: 100, Max: 50}

	_, err := f.jobs.Create(context.Background(), in)

	var verr *ats.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if n := f.g.Calls("CreateJobTransaction"); n != 0 {
		t.Errorf("CreateJobTransaction calls = %d, want 0", n)
	}
}

func TestCreate_PrependsConfirmedJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.jobs.Refetch(ctx)

	j, err := f.jobs.Create(ctx, validJob("Platform Engineer"))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	got := f.jobs.Jobs()
	if len(got) != 3 || got[0].ID != j.ID {
		t.Errorf("new job should be first, got %+v", got)
	}
	if j.Status != ats.JobDraft || j.CreatedBy != "u1" {
		t.Errorf("job = %+v, want draft created by u1", j)
	}
}

func TestCreate_RemoteRejectionSurfaced(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.jobs.Refetch(ctx)
	f.g.Fail("CreateJobTransaction", errors.New("permission denied"))

	if _, err := f.jobs.Create(ctx, validJob("Platform Engineer")); err == nil {
		t.Fatal("expected error")
	}
	if len(f.jobs.Jobs()) != 2 {
		t.Error("set must not change on a rejected create")
	}
	if f.board.Err(ats.DomainJobs) != nil {
		t.Error("write failures are not recorded on the board")
	}
}

func TestCreate_NoCompanySelected(t *testing.T) {
	g := newGateway()
	s := jobs.New(g, status.New(), &stubScope{}, &principal{id: &ats.Identity{ID: "u1"}})

	if _, err := s.Create(context.Background(), validJob("Engineer")); !errors.Is(err, ats.ErrNoCompanySelected) {
		t.Errorf("err = %v, want ErrNoCompanySelected", err)
	}
}

func TestUpdate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.jobs.Refetch(ctx)

	in := validJob("Senior Backend Engineer")
	in.Status = ats.JobPaused
	j, err := f.jobs.Update(ctx, "j1", in)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	cached, ok := f.jobs.Job("j1")
	if !ok || cached.Title != "Senior Backend Engineer" || cached.Status != ats.JobPaused {
		t.Errorf("cached = %+v, want updated job", cached)
	}
	if j.ID != "j1" {
		t.Errorf("ID = %q", j.ID)
	}

	if _, err := f.jobs.Update(ctx, "j3", in); !errors.Is(err, ats.ErrNotFound) {
		t.Errorf("updating a job of another company: err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.jobs.Refetch(ctx)

	if err := f.jobs.Delete(ctx, "j2"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok := f.jobs.Job("j2"); ok {
		t.Error("j2 should be gone")
	}

	f.g.Fail("DeleteJob", errors.New("locked"))
	if err := f.jobs.Delete(ctx, "j1"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := f.jobs.Job("j1"); !ok {
		t.Error("j1 must stay until the gateway confirms")
	}
}

func TestCacheMutators_IgnoreOtherCompany(t *testing.T) {
	f := setup(t)
	_ = f.jobs.Refetch(context.Background())

	f.jobs.AddJob(ats.Job{ID: "x", CompanyID: "c2"})

	if _, ok := f.jobs.Job("x"); ok {
		t.Error("job sets must never merge across companies")
	}
}
