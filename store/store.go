// Package store composes the session, tenant, job, status and menu slices
// into one observable state container.
//
// Example:
//
//	st := store.New(store.Config{}, gw,
//	    store.WithStorage(persist.NewMemory()),
//	    store.WithLogger(logger),
//	)
//	if err := st.Start(ctx); err != nil {
//	    logger.Warn("bootstrap failed", "err", err)
//	}
//	defer st.Close()
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/audit"
	"github.com/muasya/ats-go/jobs"
	"github.com/muasya/ats-go/metrics"
	"github.com/muasya/ats-go/persist"
	"github.com/muasya/ats-go/session"
	"github.com/muasya/ats-go/status"
	"github.com/muasya/ats-go/tenant"
)

// DefaultPersistKey is the storage key of the persisted state projection.
const DefaultPersistKey = "auth-storage"

// Config holds composer behavior configuration.
type Config struct {
	// PersistKey is the storage key of the persisted projection.
	// Default: "auth-storage".
	PersistKey string

	// OAuthRedirectTo is passed to the gateway when SignInWithOAuth is called
	// without an explicit redirect.
	OAuthRedirectTo string

	// SidebarOpen is the initial sidebar visibility.
	SidebarOpen bool
}

// Store is the composed state container.
type Store struct {
	cfg      Config
	gw       ats.Gateway
	storage  ats.Storage
	verifier ats.TokenVerifier
	metrics  *metrics.Metrics
	audit    *audit.Logger
	logger   *slog.Logger
	now      func() time.Time

	board   *status.Board
	session *session.Slice
	tenant  *tenant.Slice
	jobs    *jobs.Slice
	menu    *Menu

	hub         *hub
	rev         atomic.Uint64
	unsubscribe func()
	lifetime    context.Context

	persistMu sync.Mutex
	persisted projection
	hint      projection
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store and every slice.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithStorage sets durable local storage for the persisted projection and
// the last selected company. Default: in-memory.
func WithStorage(st ats.Storage) Option {
	return func(s *Store) { s.storage = st }
}

// WithVerifier checks session tokens before an identity is trusted.
func WithVerifier(v ats.TokenVerifier) Option {
	return func(s *Store) { s.verifier = v }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithAudit emits one audit event per mutating intent.
func WithAudit(l *audit.Logger) Option {
	return func(s *Store) { s.audit = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store over gw. Nothing is fetched until Start.
func New(cfg Config, gw ats.Gateway, opts ...Option) *Store {
	if cfg.PersistKey == "" {
		cfg.PersistKey = DefaultPersistKey
	}
	s := &Store{
		cfg:      cfg,
		gw:       gw,
		logger:   slog.Default(),
		now:      time.Now,
		hub:      newHub(),
		lifetime: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.storage == nil {
		s.storage = persist.NewMemory()
	}

	s.board = status.New(
		status.WithNotify(s.changed),
		status.WithInitialLoading(ats.DomainAuth, ats.DomainProfile),
	)
	sessionOpts := []session.Option{
		session.WithLogger(s.logger.With("slice", "session")),
		session.WithNotify(s.changed),
		session.WithClearedHook(s.resetDerived),
		session.WithClock(s.now),
	}
	if s.verifier != nil {
		sessionOpts = append(sessionOpts, session.WithVerifier(s.verifier))
	}
	s.session = session.New(gw, s.board, sessionOpts...)
	s.tenant = tenant.New(gw, s.board, s.session,
		tenant.WithLogger(s.logger.With("slice", "tenant")),
		tenant.WithStorage(s.storage),
		tenant.WithMetrics(s.metrics),
		tenant.WithNotify(s.changed),
		tenant.WithCurrentChange(func(string) { s.jobs.Reset() }),
		tenant.WithClock(s.now),
	)
	s.jobs = jobs.New(gw, s.board, s.tenant, s.session,
		jobs.WithLogger(s.logger.With("slice", "jobs")),
		jobs.WithMetrics(s.metrics),
		jobs.WithNotify(s.changed),
		jobs.WithClock(s.now),
	)
	s.menu = newMenu(cfg.SidebarOpen, s.changed)
	return s
}

// Session returns the session slice.
func (s *Store) Session() *session.Slice { return s.session }

// Tenant returns the tenant slice.
func (s *Store) Tenant() *tenant.Slice { return s.tenant }

// Jobs returns the job slice.
func (s *Store) Jobs() *jobs.Slice { return s.jobs }

// Status returns the UI/status slice.
func (s *Store) Status() *status.Board { return s.board }

// Menu returns the menu slice.
func (s *Store) Menu() *Menu { return s.menu }

// Start restores the persisted projection, subscribes to gateway auth
// changes and runs the bootstrap sequence: session, then companies, then
// jobs. ctx bounds the lifetime of the auth subscription's work.
func (s *Store) Start(ctx context.Context) error {
	s.lifetime = context.WithoutCancel(ctx)
	s.hint = s.restore(ctx)
	s.unsubscribe = s.gw.OnAuthStateChange(s.onAuthChange)
	return s.Bootstrap(ctx)
}

// Bootstrap reconciles local state against the gateway. The restored
// projection is only a hint: the preferred company is considered when the
// session belongs to the same identity, and it is selected only when the
// fresh company set still contains it.
func (s *Store) Bootstrap(ctx context.Context) error {
	if err := s.session.Bootstrap(ctx); err != nil {
		return err
	}
	id := s.session.Identity()
	if id == nil {
		return nil
	}
	if s.hint.UserID == id.ID && s.hint.CurrentCompanyID != "" {
		s.tenant.Prefer(s.hint.CurrentCompanyID)
	}
	return s.RefetchAll(ctx)
}

// Close unsubscribes from the gateway and closes every subscription.
func (s *Store) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.close()
	return nil
}

// Subscribe returns a channel receiving a revision number after every state
// change, and a func to stop the subscription.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := s.hub.subscribe()
	return ch, func() { s.hub.unsubscribe(ch) }
}

// Revision returns the number of state changes so far.
func (s *Store) Revision() uint64 { return s.rev.Load() }

// State is a consistent-enough copy of every slice for presentation.
type State struct {
	Revision       uint64             `json:"revision"`
	Identity       *ats.Identity      `json:"user"`
	Profile        *ats.Profile       `json:"profile"`
	Companies      []ats.Company      `json:"companies"`
	CurrentCompany *ats.Company       `json:"currentCompany"`
	Admins         []ats.CompanyAdmin `json:"companyAdmins"`
	Agents         []ats.Agent        `json:"agents"`
	JobSeeker      *ats.JobSeeker     `json:"jobSeeker,omitempty"`
	Jobs           []ats.Job          `json:"jobs"`
	Status         status.Snapshot    `json:"status"`
	SidebarOpen    bool               `json:"sidebarOpen"`
}

// State returns a snapshot of every slice.
func (s *Store) State() State {
	return State{
		Revision:       s.rev.Load(),
		Identity:       s.session.Identity(),
		Profile:        s.session.Profile(),
		Companies:      s.tenant.Companies(),
		CurrentCompany: s.tenant.Current(),
		Admins:         s.tenant.Admins(),
		Agents:         s.tenant.Agents(),
		JobSeeker:      s.tenant.JobSeeker(),
		Jobs:           s.jobs.Jobs(),
		Status:         s.board.Snapshot(),
		SidebarOpen:    s.menu.SidebarOpen(),
	}
}

// onAuthChange reruns the bootstrap for an auth event delivered by the
// gateway. Token refreshes for the same identity only re-read the session.
func (s *Store) onAuthChange(event ats.AuthEvent, sess *ats.Session) {
	ctx := s.lifetime
	prev := s.session.UserID()
	s.session.HandleAuthChange(ctx, event, sess)

	userID := s.session.UserID()
	if userID == "" {
		return
	}
	if event == ats.EventTokenRefreshed && userID == prev {
		return
	}
	if err := s.RefetchAll(ctx); err != nil {
		s.logger.Debug("refetch after auth change failed", "event", event, "err", err)
	}
}

// resetDerived clears tenant and job state once the identity is gone.
func (s *Store) resetDerived() {
	s.tenant.Reset()
	s.jobs.Reset()
}

// RefetchAll reloads companies and then the jobs of the resulting current
// company. Superseded results are not reported as errors.
func (s *Store) RefetchAll(ctx context.Context) error {
	errC := s.tenant.RefetchCompanies(ctx)
	errJ := s.jobs.Refetch(ctx)
	return errors.Join(relevant(errC), relevant(errJ))
}

// RefetchProfile re-reads the profile of the signed-in identity.
func (s *Store) RefetchProfile(ctx context.Context) error {
	return relevant(s.session.RefetchProfile(ctx))
}

// HasPermission reports whether the signed-in identity may perform the named
// action on companyID.
func (s *Store) HasPermission(permission, companyID string) bool {
	return s.tenant.HasPermission(permission, companyID)
}

// CanSwitchToCompany reports whether id is in the loaded company set.
func (s *Store) CanSwitchToCompany(id string) bool {
	return s.tenant.CanSwitchToCompany(id)
}

// changed persists the projection and notifies subscribers. Slices call it
// outside their locks.
func (s *Store) changed() {
	if s.jobs == nil {
		return // still wiring
	}
	rev := s.rev.Add(1)
	s.persist()
	s.hub.publish(rev)
}

func relevant(err error) error {
	if errors.Is(err, ats.ErrSuperseded) {
		return nil
	}
	return err
}
