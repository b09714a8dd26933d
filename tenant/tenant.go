// Package tenant owns the companies the signed-in identity may act for and
// the single current-company selection.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/metrics"
	"github.com/muasya/ats-go/status"
)

// LastSelectedKey is the storage key of the last selected company id.
const LastSelectedKey = "lastSelectedCompany"

// Backend is the part of the gateway the tenant slice consumes.
type Backend interface {
	ListCompanyAdmins(ctx context.Context, userID string) ([]ats.CompanyAdmin, error)
	ListAgents(ctx context.Context, userID string) ([]ats.Agent, error)
	GetJobSeeker(ctx context.Context, userID string) (*ats.JobSeeker, error)
	HasCompanyAccess(ctx context.Context, userID, companyID string) (bool, error)
	ListCompanies(ctx context.Context, ids []string) ([]ats.Company, error)
	UpdateCompany(ctx context.Context, id string, in ats.CompanyInput) (*ats.Company, error)
	DeleteCompanyAdmins(ctx context.Context, companyID string) error
	DeleteAgents(ctx context.Context, companyID string) error
	DeleteCompany(ctx context.Context, id string) error
	CreateCompanyTransaction(ctx context.Context, p ats.CreateCompanyParams) (*ats.Company, error)
}

// Principal exposes the session slice to the tenant slice.
type Principal interface {
	Identity() *ats.Identity
	Profile() *ats.Profile
}

// Phase is the state of an optimistic company switch.
type Phase int

const (
	// PhasePending: the speculative company is current, revalidation in flight.
	PhasePending Phase = iota
	// PhaseConfirmed: the gateway confirmed the authorization link.
	PhaseConfirmed
	// PhaseRolledBack: revalidation failed and the selection was reverted.
	PhaseRolledBack
	// PhaseSuperseded: revalidation failed after a newer selection replaced
	// the speculative one, so nothing was reverted. A denied company that was
	// re-selected meanwhile is still dropped, and the first remaining company
	// becomes current.
	PhaseSuperseded
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRolledBack:
		return "rolled_back"
	case PhaseSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// SwitchResult reports how an optimistic switch settled.
type SwitchResult struct {
	Phase     Phase
	Requested string
	// Current is the selection once the switch settled.
	Current *ats.Company
}

// Slice is the tenant slice.
type Slice struct {
	backend Backend
	board   *status.Board
	who     Principal
	storage ats.Storage
	metrics *metrics.Metrics
	logger  *slog.Logger
	notify  func()
	onMove  func(companyID string)
	now     func() time.Time

	sf singleflight.Group

	mu          sync.RWMutex
	companies   []ats.Company
	admins      []ats.CompanyAdmin
	agents      []ats.Agent
	jobSeeker   *ats.JobSeeker
	linksUser   string // user whose links are loaded, "" when none
	current     *ats.Company
	preferred   string
	gen         uint64 // bumped when the current company id changes
	fetchIssued uint64 // bumped on every refetch and reset
}

// Option configures a Slice.
type Option func(*Slice)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Slice) { s.logger = l }
}

// WithStorage persists the last selected company id.
func WithStorage(st ats.Storage) Option {
	return func(s *Slice) { s.storage = st }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Slice) { s.metrics = m }
}

// WithNotify sets the change callback.
func WithNotify(fn func()) Option {
	return func(s *Slice) { s.notify = fn }
}

// WithCurrentChange runs fn with the new id ("" for none) every time the
// current company id changes. It is called outside the slice lock.
func WithCurrentChange(fn func(companyID string)) Option {
	return func(s *Slice) { s.onMove = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Slice) { s.now = now }
}

// New creates a tenant slice.
func New(backend Backend, board *status.Board, who Principal, opts ...Option) *Slice {
	s := &Slice{
		backend: backend,
		board:   board,
		who:     who,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// --- reads ---

// Companies returns a copy of the loaded company set in fetch order.
func (s *Slice) Companies() []ats.Company {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.companies)
}

// Current returns a copy of the current company, or nil.
func (s *Slice) Current() *ats.Company {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// CurrentID returns the current company id, or "".
func (s *Slice) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentIDLocked()
}

// Generation changes every time the current company id changes.
func (s *Slice) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Admins returns the loaded admin links.
func (s *Slice) Admins() []ats.CompanyAdmin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.admins)
}

// Agents returns the loaded agent links.
func (s *Slice) Agents() []ats.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.agents)
}

// JobSeeker returns the loaded job seeker record, or nil.
func (s *Slice) JobSeeker() *ats.JobSeeker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.jobSeeker == nil {
		return nil
	}
	js := *s.jobSeeker
	return &js
}

// CanSwitchToCompany reports whether id is in the loaded company set.
func (s *Slice) CanSwitchToCompany(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(id) >= 0
}

// HasAccess reports whether the loaded links of the current identity grant
// access to companyID.
func (s *Slice) HasAccess(companyID string) bool {
	userID := s.userID()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID == "" || s.linksUser != userID {
		return false
	}
	return s.adminLocked(companyID) != nil || s.agentLocked(companyID) != nil
}

// HasPermission reports whether the current identity may perform the named
// action on companyID. Super admins may do anything, admins anything in
// their company, agents only what their permission map grants.
func (s *Slice) HasPermission(permission, companyID string) bool {
	p := s.who.Profile()
	if p != nil && p.UserType == ats.UserTypeSuperAdmin {
		return true
	}
	userID := s.userID()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID == "" || s.linksUser != userID {
		return false
	}
	if s.adminLocked(companyID) != nil {
		return true
	}
	if a := s.agentLocked(companyID); a != nil {
		return a.Permissions[permission]
	}
	return false
}

// LinksLoaded reports whether the links of the current identity are loaded.
func (s *Slice) LinksLoaded() bool {
	userID := s.userID()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userID != "" && s.linksUser == userID
}

// EnsureLinksLoaded refetches when the links of the current identity are
// not loaded yet.
func (s *Slice) EnsureLinksLoaded(ctx context.Context) error {
	if s.LinksLoaded() {
		return nil
	}
	return s.RefetchCompanies(ctx)
}

// --- refetch ---

// Prefer sets a company id to select on the next refetch when present in
// the fetched set. It is a hint and grants nothing.
func (s *Slice) Prefer(companyID string) {
	s.mu.Lock()
	s.preferred = companyID
	s.mu.Unlock()
}

// RefetchCompanies reloads the links and companies of the current identity
// and reconciles the current selection against the fresh set. Concurrent
// calls for the same identity share one round trip.
func (s *Slice) RefetchCompanies(ctx context.Context) error {
	userID := s.userID()
	if userID == "" {
		s.Reset()
		return nil
	}
	_, err, _ := s.sf.Do(userID, func() (any, error) {
		return nil, s.refetch(ctx, userID)
	})
	return err
}

// RefetchCompaniesFresh refetches without joining a round trip issued
// before a mutation the caller needs to see.
func (s *Slice) RefetchCompaniesFresh(ctx context.Context) error {
	s.sf.Forget(s.userID())
	return s.RefetchCompanies(ctx)
}

func (s *Slice) refetch(ctx context.Context, userID string) error {
	defer s.board.Track(ats.DomainCompanies)()
	s.board.SetError(ats.DomainCompanies, nil)

	s.mu.Lock()
	s.fetchIssued++
	issued := s.fetchIssued
	s.mu.Unlock()
	start := s.now()

	if p := s.who.Profile(); p != nil && p.UserType == ats.UserTypeJobSeeker {
		js, err := s.backend.GetJobSeeker(ctx, userID)
		if err != nil && !errors.Is(err, ats.ErrNotFound) {
			return s.fail(ctx, userID, issued, start, err)
		}
		s.metrics.RecordFetch(string(ats.DomainCompanies), metrics.ResultEmpty, s.since(start))
		return s.install(ctx, userID, issued, loaded{jobSeeker: js})
	}

	var l loaded
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		l.admins, err = s.backend.ListCompanyAdmins(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		l.agents, err = s.backend.ListAgents(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return s.fail(ctx, userID, issued, start, err)
	}

	ids := linkedIDs(l.admins, l.agents)
	if len(ids) == 0 {
		s.metrics.RecordFetch(string(ats.DomainCompanies), metrics.ResultEmpty, s.since(start))
		return s.install(ctx, userID, issued, l)
	}
	companies, err := s.backend.ListCompanies(ctx, ids)
	if err != nil {
		return s.fail(ctx, userID, issued, start, err)
	}
	l.companies = companies
	s.metrics.RecordFetch(string(ats.DomainCompanies), metrics.ResultOK, s.since(start))
	return s.install(ctx, userID, issued, l)
}

type loaded struct {
	companies []ats.Company
	admins    []ats.CompanyAdmin
	agents    []ats.Agent
	jobSeeker *ats.JobSeeker
	failed    bool
}

// fail records the read error and yields an empty set.
func (s *Slice) fail(ctx context.Context, userID string, issued uint64, start time.Time, err error) error {
	s.metrics.RecordFetch(string(ats.DomainCompanies), metrics.ResultError, s.since(start))
	if s.userID() != userID || !s.latest(issued) {
		s.metrics.RecordStaleDiscard(string(ats.DomainCompanies))
		return ats.ErrSuperseded
	}
	s.board.SetError(ats.DomainCompanies, ats.NewAppError(ats.CodeUserDataFetch, err))
	s.logger.Warn("company fetch failed", "code", ats.CodeUserDataFetch, "user_id", userID, "err", err)

	_ = s.install(ctx, userID, issued, loaded{failed: true})
	return fmt.Errorf("ats/tenant: %w", err)
}

// install replaces the set and reconciles the current selection. Results
// for another identity, or older than the latest refetch, are discarded.
func (s *Slice) install(ctx context.Context, userID string, issued uint64, l loaded) error {
	if s.userID() != userID {
		s.metrics.RecordStaleDiscard(string(ats.DomainCompanies))
		s.logger.Debug("discarding companies of a previous identity", "user_id", userID)
		return ats.ErrSuperseded
	}
	persisted := s.lastSelected(ctx)

	s.mu.Lock()
	if issued != s.fetchIssued {
		s.mu.Unlock()
		s.metrics.RecordStaleDiscard(string(ats.DomainCompanies))
		s.logger.Debug("discarding superseded company fetch", "user_id", userID)
		return ats.ErrSuperseded
	}
	s.companies = l.companies
	s.admins = l.admins
	s.agents = l.agents
	s.jobSeeker = l.jobSeeker
	s.linksUser = userID
	if l.failed {
		s.linksUser = ""
	}

	next := -1
	for _, id := range []string{s.currentIDLocked(), s.preferred, persisted} {
		if i := s.indexLocked(id); id != "" && i >= 0 {
			next = i
			break
		}
	}
	if next < 0 && len(s.companies) > 0 {
		next = 0
	}
	s.preferred = ""
	var target *ats.Company
	if next >= 0 {
		target = &s.companies[next]
	}
	prev, moved := s.setCurrentLocked(target)
	n := len(s.companies)
	s.mu.Unlock()

	s.metrics.SetEntries(string(ats.DomainCompanies), n)
	s.settled(ctx, prev, moved)
	return nil
}

// --- selection ---

// SetCurrentCompany selects the company with id, or none when id is "".
// Only companies in the loaded set can be selected. The id is persisted.
func (s *Slice) SetCurrentCompany(ctx context.Context, id string) error {
	s.mu.Lock()
	var target *ats.Company
	if id != "" {
		i := s.indexLocked(id)
		if i < 0 {
			s.mu.Unlock()
			return fmt.Errorf("ats/tenant: company %s: %w", id, ats.ErrNotAuthorized)
		}
		target = &s.companies[i]
	}
	prev, moved := s.setCurrentLocked(target)
	s.mu.Unlock()

	s.settled(ctx, prev, moved)
	return nil
}

// SwitchCompany optimistically selects id, then revalidates the
// authorization link against the gateway. When revalidation fails the
// selection rolls back to the first other company (or none), unless a newer
// selection has replaced the speculative one in the meantime.
func (s *Slice) SwitchCompany(ctx context.Context, id string) (SwitchResult, error) {
	userID := s.userID()
	if userID == "" {
		return SwitchResult{Phase: PhaseRolledBack, Requested: id, Current: s.Current()}, ats.ErrNotAuthenticated
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return SwitchResult{Phase: PhaseRolledBack, Requested: id, Current: s.Current()},
			fmt.Errorf("ats/tenant: company %s: %w", id, ats.ErrNotAuthorized)
	}
	prev, moved := s.setCurrentLocked(&s.companies[i])
	speculative := s.gen
	s.mu.Unlock()
	s.settled(ctx, prev, moved)

	res := SwitchResult{Phase: PhasePending, Requested: id}
	ok, err := s.backend.HasCompanyAccess(ctx, userID, id)
	if err == nil && ok {
		res.Phase = PhaseConfirmed
		res.Current = s.Current()
		return res, nil
	}
	denied := err == nil
	if denied {
		err = ats.ErrNotAuthorized
	}

	s.mu.Lock()
	prevID := s.currentIDLocked()
	superseded := s.gen != speculative
	dropped := denied && s.dropLocked(id)
	if superseded {
		if dropped && len(s.companies) > 0 {
			s.setCurrentLocked(&s.companies[0])
		}
		s.mu.Unlock()
		s.metrics.RecordStaleDiscard(string(ats.DomainCompanies))
		s.logger.Debug("company switch superseded", "company_id", id)
		s.settled(ctx, prevID, dropped)
		res.Phase = PhaseSuperseded
		res.Current = s.Current()
		return res, fmt.Errorf("ats/tenant: switch to %s: %w", id, err)
	}
	var target *ats.Company
	for j := range s.companies {
		if s.companies[j].ID != id {
			target = &s.companies[j]
			break
		}
	}
	_, moved = s.setCurrentLocked(target)
	s.mu.Unlock()

	s.metrics.RecordRollback()
	s.logger.Warn("company switch rolled back", "company_id", id, "denied", denied, "err", err)
	s.settled(ctx, prevID, moved || dropped)
	res.Phase = PhaseRolledBack
	res.Current = s.Current()
	return res, fmt.Errorf("ats/tenant: switch to %s: %w", id, err)
}

// --- mutations ---

// CreateCompany validates in and creates the company with the caller as
// owner in one atomic gateway call. On success the set is refetched and the
// new company becomes current.
func (s *Slice) CreateCompany(ctx context.Context, in ats.CompanyInput) (*ats.Company, error) {
	id := s.who.Identity()
	if id == nil {
		return nil, ats.ErrNotAuthenticated
	}
	in, err := ats.ValidateCompany(in, s.now())
	if err != nil {
		return nil, err
	}
	c, err := s.backend.CreateCompanyTransaction(ctx, ats.CreateCompanyParams{
		UserID: id.ID, UserEmail: id.Email, Company: in,
	})
	s.metrics.RecordMutation("create_company", err)
	if err != nil {
		return nil, fmt.Errorf("ats/tenant: create company: %w", err)
	}
	s.logger.Info("company created", "company_id", c.ID, "user_id", id.ID)

	if err := s.RefetchCompaniesFresh(ctx); err != nil {
		s.logger.Warn("refetch after company create failed", "company_id", c.ID, "err", err)
		return c, nil
	}
	if err := s.SetCurrentCompany(ctx, c.ID); err != nil {
		s.logger.Warn("created company missing from refetched set", "company_id", c.ID)
	}
	return c, nil
}

// UpdateCompany applies a field-level patch once the gateway confirms it.
func (s *Slice) UpdateCompany(ctx context.Context, id string, in ats.CompanyInput) (*ats.Company, error) {
	if !s.HasAccess(id) {
		return nil, fmt.Errorf("ats/tenant: company %s: %w", id, ats.ErrNotAuthorized)
	}
	in, err := ats.ValidateCompany(in, s.now())
	if err != nil {
		return nil, err
	}
	c, err := s.backend.UpdateCompany(ctx, id, in)
	s.metrics.RecordMutation("update_company", err)
	if err != nil {
		return nil, fmt.Errorf("ats/tenant: update company: %w", err)
	}

	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.companies[i] = *c
		if s.current != nil && s.current.ID == id {
			s.current = &s.companies[i]
		}
	}
	s.mu.Unlock()
	s.changed()
	return c, nil
}

// DeleteCompany removes the admin links, the agent links and then the
// company. Local state changes only after all three are confirmed; when a
// later step fails after an earlier one succeeded, the set is refetched to
// match what the gateway holds.
func (s *Slice) DeleteCompany(ctx context.Context, id string) error {
	if !s.HasAccess(id) {
		return fmt.Errorf("ats/tenant: company %s: %w", id, ats.ErrNotAuthorized)
	}
	steps := []struct {
		name string
		run  func(context.Context, string) error
	}{
		{"company_admins", s.backend.DeleteCompanyAdmins},
		{"agents", s.backend.DeleteAgents},
		{"companies", s.backend.DeleteCompany},
	}
	for i, step := range steps {
		if err := step.run(ctx, id); err != nil {
			s.metrics.RecordMutation("delete_company", err)
			if i > 0 {
				s.logger.Warn("company delete half done, reconciling", "company_id", id, "step", step.name, "err", err)
				_ = s.RefetchCompaniesFresh(ctx)
			}
			return fmt.Errorf("ats/tenant: delete company: %s: %w", step.name, err)
		}
	}
	s.metrics.RecordMutation("delete_company", nil)
	s.logger.Info("company deleted", "company_id", id)

	s.mu.Lock()
	prevID := s.currentIDLocked()
	dropped := s.dropLocked(id)
	target := s.current
	if target == nil && len(s.companies) > 0 {
		target = &s.companies[0]
	}
	_, moved := s.setCurrentLocked(target)
	n := len(s.companies)
	s.mu.Unlock()

	s.metrics.SetEntries(string(ats.DomainCompanies), n)
	s.settled(ctx, prevID, moved || dropped)
	return nil
}

// Reset clears all tenant state, e.g. on sign-out. In-flight refetches
// issued before Reset are discarded.
func (s *Slice) Reset() {
	s.mu.Lock()
	s.fetchIssued++
	s.companies = nil
	s.admins = nil
	s.agents = nil
	s.jobSeeker = nil
	s.linksUser = ""
	s.preferred = ""
	prev, moved := s.setCurrentLocked(nil)
	s.mu.Unlock()

	s.metrics.SetEntries(string(ats.DomainCompanies), 0)
	s.settled(context.Background(), prev, moved)
}

// Forget deletes the persisted last selection.
func (s *Slice) Forget(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Delete(ctx, LastSelectedKey); err != nil {
		return fmt.Errorf("ats/tenant: %w", err)
	}
	return nil
}

// --- helpers ---

func (s *Slice) userID() string {
	if id := s.who.Identity(); id != nil {
		return id.ID
	}
	return ""
}

func (s *Slice) latest(issued uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return issued == s.fetchIssued
}

func (s *Slice) lastSelected(ctx context.Context) string {
	if s.storage == nil {
		return ""
	}
	v, ok, err := s.storage.Get(ctx, LastSelectedKey)
	if err != nil {
		s.logger.Warn("reading last selected company failed", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// settled persists and announces a selection change. Call without the lock.
func (s *Slice) settled(ctx context.Context, prevID string, moved bool) {
	if moved {
		next := s.CurrentID()
		if next != "" && s.storage != nil {
			if err := s.storage.Set(ctx, LastSelectedKey, next); err != nil {
				s.logger.Warn("persisting selected company failed", "company_id", next, "err", err)
			}
		}
		s.logger.Debug("current company changed", "from", prevID, "to", next)
		if s.onMove != nil {
			s.onMove(next)
		}
	}
	s.changed()
}

// setCurrentLocked points current at c (an element of s.companies or nil)
// and bumps the generation when the id changes.
func (s *Slice) setCurrentLocked(c *ats.Company) (prevID string, moved bool) {
	prevID = s.currentIDLocked()
	s.current = c
	if s.currentIDLocked() != prevID {
		s.gen++
		return prevID, true
	}
	return prevID, false
}

// dropLocked removes id and its links from the loaded state. current is
// re-pointed into the new backing array, or cleared when it was id; the
// result reports the latter.
func (s *Slice) dropLocked(id string) bool {
	cur := s.currentIDLocked()
	s.companies = slices.DeleteFunc(slices.Clone(s.companies), func(c ats.Company) bool { return c.ID == id })
	s.admins = slices.DeleteFunc(s.admins, func(a ats.CompanyAdmin) bool { return a.CompanyID == id })
	s.agents = slices.DeleteFunc(s.agents, func(a ats.Agent) bool { return a.CompanyID == id })
	s.current = nil
	if i := s.indexLocked(cur); cur != "" && i >= 0 {
		s.current = &s.companies[i]
		return false
	}
	if cur != "" {
		s.gen++
		return true
	}
	return false
}

func (s *Slice) currentIDLocked() string {
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

func (s *Slice) indexLocked(id string) int {
	return slices.IndexFunc(s.companies, func(c ats.Company) bool { return c.ID == id })
}

func (s *Slice) adminLocked(companyID string) *ats.CompanyAdmin {
	for i := range s.admins {
		if s.admins[i].CompanyID == companyID {
			return &s.admins[i]
		}
	}
	return nil
}

func (s *Slice) agentLocked(companyID string) *ats.Agent {
	for i := range s.agents {
		if s.agents[i].CompanyID == companyID {
			return &s.agents[i]
		}
	}
	return nil
}

func (s *Slice) since(start time.Time) float64 {
	return s.now().Sub(start).Seconds()
}

func (s *Slice) changed() {
	if s.notify != nil {
		s.notify()
	}
}

// linkedIDs unions the company ids of admin and agent links, admin links
// first, without duplicates.
func linkedIDs(admins []ats.CompanyAdmin, agents []ats.Agent) []string {
	ids := make([]string, 0, len(admins)+len(agents))
	for _, a := range admins {
		if !slices.Contains(ids, a.CompanyID) {
			ids = append(ids, a.CompanyID)
		}
	}
	for _, a := range agents {
		if !slices.Contains(ids, a.CompanyID) {
			ids = append(ids, a.CompanyID)
		}
	}
	return ids
}
