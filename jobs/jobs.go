// Package jobs owns the job postings of the current company.
//
// The cached set always belongs to exactly one company. Every fetch is
// stamped with the company id and tenant generation it was issued for and
// is discarded when either has moved on by the time it returns.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/metrics"
	"github.com/muasya/ats-go/status"
)

// Backend is the part of the gateway the job slice consumes.
type Backend interface {
	ListJobs(ctx context.Context, companyID string) ([]ats.Job, error)
	UpdateJob(ctx context.Context, id string, in ats.JobInput) (*ats.Job, error)
	DeleteJob(ctx context.Context, id string) error
	CreateJobTransaction(ctx context.Context, p ats.CreateJobParams) (*ats.Job, error)
}

// Scope is the tenant slice as seen by the job slice.
type Scope interface {
	CurrentID() string
	Generation() uint64
	HasAccess(companyID string) bool
	EnsureLinksLoaded(ctx context.Context) error
}

// Principal exposes the signed-in identity.
type Principal interface {
	UserID() string
}

// Slice is the job slice.
type Slice struct {
	backend Backend
	board   *status.Board
	scope   Scope
	who     Principal
	metrics *metrics.Metrics
	logger  *slog.Logger
	notify  func()
	now     func() time.Time

	mu        sync.RWMutex
	jobs      []ats.Job
	companyID string // company the cached set belongs to
	issued    uint64
}

// Option configures a Slice.
type Option func(*Slice)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Slice) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Slice) { s.metrics = m }
}

// WithNotify sets the change callback.
func WithNotify(fn func()) Option {
	return func(s *Slice) { s.notify = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Slice) { s.now = now }
}

// New creates a job slice.
func New(backend Backend, board *status.Board, scope Scope, who Principal, opts ...Option) *Slice {
	s := &Slice{
		backend: backend,
		board:   board,
		scope:   scope,
		who:     who,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Jobs returns a copy of the cached set, newest first.
func (s *Slice) Jobs() []ats.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.jobs)
}

// CompanyID returns the company the cached set belongs to.
func (s *Slice) CompanyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.companyID
}

// Job returns the cached job with id.
func (s *Slice) Job(id string) (ats.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.jobs[i], true
	}
	return ats.Job{}, false
}

// Refetch reloads the jobs of the current company. Without an identity, a
// current company, or an admin or agent link to it, the set is cleared and
// no remote call is made.
func (s *Slice) Refetch(ctx context.Context) error {
	companyID, ok := s.authorized(ctx)
	if !ok {
		s.Reset()
		return nil
	}
	gen := s.scope.Generation()

	s.mu.Lock()
	s.issued++
	issued := s.issued
	s.mu.Unlock()

	s.board.SetLoading(ats.DomainJobs, true)
	defer func() {
		if s.latest(issued) {
			s.board.SetLoading(ats.DomainJobs, false)
		}
	}()
	s.board.SetError(ats.DomainJobs, nil)

	start := s.now()
	jobs, err := s.backend.ListJobs(ctx, companyID)
	elapsed := s.now().Sub(start).Seconds()

	if s.scope.CurrentID() != companyID || s.scope.Generation() != gen {
		s.metrics.RecordStaleDiscard(string(ats.DomainJobs))
		s.logger.Debug("discarding jobs of a previous company", "company_id", companyID)
		return ats.ErrSuperseded
	}
	if err != nil {
		s.metrics.RecordFetch(string(ats.DomainJobs), metrics.ResultError, elapsed)
		if !s.install(issued, companyID, nil) {
			return ats.ErrSuperseded
		}
		s.board.SetError(ats.DomainJobs, ats.NewAppError(ats.CodeJobsFetch, err))
		s.logger.Warn("jobs fetch failed", "code", ats.CodeJobsFetch, "company_id", companyID, "err", err)
		return fmt.Errorf("ats/jobs: %w", err)
	}
	s.metrics.RecordFetch(string(ats.DomainJobs), metrics.ResultOK, elapsed)
	if !s.install(issued, companyID, jobs) {
		return ats.ErrSuperseded
	}
	return nil
}

// authorized checks the fetch preconditions, loading links lazily.
func (s *Slice) authorized(ctx context.Context) (string, bool) {
	if s.who.UserID() == "" {
		return "", false
	}
	if s.scope.CurrentID() == "" {
		return "", false
	}
	if err := s.scope.EnsureLinksLoaded(ctx); err != nil {
		s.logger.Debug("loading links for job fetch failed", "err", err)
	}
	companyID := s.scope.CurrentID()
	if companyID == "" || !s.scope.HasAccess(companyID) {
		s.logger.Debug("no access link for current company, clearing jobs", "company_id", companyID)
		return "", false
	}
	return companyID, true
}

func (s *Slice) install(issued uint64, companyID string, jobs []ats.Job) bool {
	s.mu.Lock()
	if issued != s.issued {
		s.mu.Unlock()
		s.metrics.RecordStaleDiscard(string(ats.DomainJobs))
		return false
	}
	s.jobs = jobs
	s.companyID = companyID
	n := len(jobs)
	s.mu.Unlock()

	s.metrics.SetEntries(string(ats.DomainJobs), n)
	s.changed()
	return true
}

// Create validates in locally and creates the job for the current company
// through the atomic gateway procedure. The confirmed job is prepended.
func (s *Slice) Create(ctx context.Context, in ats.JobInput) (*ats.Job, error) {
	in, err := ats.ValidateJob(in)
	if err != nil {
		return nil, err
	}
	userID, companyID, err := s.writable("")
	if err != nil {
		return nil, err
	}
	j, err := s.backend.CreateJobTransaction(ctx, ats.CreateJobParams{UserID: userID, CompanyID: companyID, Job: in})
	s.metrics.RecordMutation("create_job", err)
	if err != nil {
		return nil, fmt.Errorf("ats/jobs: create job: %w", err)
	}
	s.logger.Info("job created", "job_id", j.ID, "company_id", companyID)
	s.AddJob(*j)
	return j, nil
}

// Update validates in locally and replaces the cached job once the gateway
// confirms.
func (s *Slice) Update(ctx context.Context, id string, in ats.JobInput) (*ats.Job, error) {
	in, err := ats.ValidateJob(in)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.writable(id); err != nil {
		return nil, err
	}
	j, err := s.backend.UpdateJob(ctx, id, in)
	s.metrics.RecordMutation("update_job", err)
	if err != nil {
		return nil, fmt.Errorf("ats/jobs: update job: %w", err)
	}
	s.UpdateJob(*j)
	return j, nil
}

// Delete removes the job once the gateway confirms.
func (s *Slice) Delete(ctx context.Context, id string) error {
	if _, _, err := s.writable(id); err != nil {
		return err
	}
	err := s.backend.DeleteJob(ctx, id)
	s.metrics.RecordMutation("delete_job", err)
	if err != nil {
		return fmt.Errorf("ats/jobs: delete job: %w", err)
	}
	s.logger.Info("job deleted", "job_id", id)
	s.RemoveJob(id)
	return nil
}

// writable checks that the caller may write to the current company and,
// when jobID is set, that the job is cached for it.
func (s *Slice) writable(jobID string) (userID, companyID string, err error) {
	userID = s.who.UserID()
	if userID == "" {
		return "", "", ats.ErrNotAuthenticated
	}
	companyID = s.scope.CurrentID()
	if companyID == "" {
		return "", "", ats.ErrNoCompanySelected
	}
	if !s.scope.HasAccess(companyID) {
		return "", "", fmt.Errorf("ats/jobs: company %s: %w", companyID, ats.ErrNotAuthorized)
	}
	if jobID != "" {
		j, ok := s.Job(jobID)
		if !ok || j.CompanyID != companyID {
			return "", "", fmt.Errorf("ats/jobs: job %s: %w", jobID, ats.ErrNotFound)
		}
	}
	return userID, companyID, nil
}

// AddJob prepends a confirmed job. Jobs of another company are ignored.
func (s *Slice) AddJob(j ats.Job) {
	s.mutate(j.CompanyID, func(jobs []ats.Job) []ats.Job {
		if i := slices.IndexFunc(jobs, func(x ats.Job) bool { return x.ID == j.ID }); i >= 0 {
			jobs[i] = j
			return jobs
		}
		return append([]ats.Job{j}, jobs...)
	})
}

// UpdateJob replaces the cached job with the same id.
func (s *Slice) UpdateJob(j ats.Job) {
	s.mutate(j.CompanyID, func(jobs []ats.Job) []ats.Job {
		if i := slices.IndexFunc(jobs, func(x ats.Job) bool { return x.ID == j.ID }); i >= 0 {
			jobs[i] = j
		}
		return jobs
	})
}

// RemoveJob drops the cached job with id.
func (s *Slice) RemoveJob(id string) {
	s.mu.Lock()
	s.jobs = slices.DeleteFunc(slices.Clone(s.jobs), func(x ats.Job) bool { return x.ID == id })
	n := len(s.jobs)
	s.mu.Unlock()
	s.metrics.SetEntries(string(ats.DomainJobs), n)
	s.changed()
}

func (s *Slice) mutate(companyID string, fn func([]ats.Job) []ats.Job) {
	s.mu.Lock()
	if companyID != s.companyID {
		s.mu.Unlock()
		s.logger.Debug("ignoring job of another company", "company_id", companyID)
		return
	}
	s.jobs = fn(slices.Clone(s.jobs))
	n := len(s.jobs)
	s.mu.Unlock()
	s.metrics.SetEntries(string(ats.DomainJobs), n)
	s.changed()
}

// Reset empties the set and discards every fetch in flight.
func (s *Slice) Reset() {
	s.mu.Lock()
	s.issued++
	had := len(s.jobs) > 0 || s.companyID != ""
	s.jobs = nil
	s.companyID = ""
	s.mu.Unlock()

	s.board.SetLoading(ats.DomainJobs, false)
	s.metrics.SetEntries(string(ats.DomainJobs), 0)
	if had {
		s.changed()
	}
}

func (s *Slice) latest(issued uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return issued == s.issued
}

func (s *Slice) indexLocked(id string) int {
	return slices.IndexFunc(s.jobs, func(j ats.Job) bool { return j.ID == id })
}

func (s *Slice) changed() {
	if s.notify != nil {
		s.notify()
	}
}
