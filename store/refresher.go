package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	ats "github.com/muasya/ats-go"
)

// DefaultRefreshSpec revalidates the loaded state every five minutes.
const DefaultRefreshSpec = "@every 5m"

// Refresher periodically revalidates the signed-in identity's companies
// and jobs, so revoked links drop out of the set without user action.
type Refresher struct {
	store  *Store
	cron   *cron.Cron
	spec   string
	logger *slog.Logger
}

// NewRefresher creates a refresher firing on a cron spec such as "@every 5m".
// An empty spec uses DefaultRefreshSpec.
func NewRefresher(s *Store, spec string) *Refresher {
	if spec == "" {
		spec = DefaultRefreshSpec
	}
	logger := s.logger.With("component", "refresher")
	return &Refresher{
		store:  s,
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		spec:   spec,
		logger: logger,
	}
}

// Start registers the revalidation job and starts the scheduler.
func (r *Refresher) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.spec, func() { r.Run(ctx) }); err != nil {
		return fmt.Errorf("ats/store: refresh spec %q: %w", r.spec, err)
	}
	r.cron.Start()
	r.logger.Info("refresher started", "spec", r.spec)
	return nil
}

// Stop stops the scheduler and waits for a running revalidation.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("refresher stopped")
}

// Run revalidates once. While signed out it only retries a bootstrap that
// failed to read the session.
func (r *Refresher) Run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if r.store.session.UserID() == "" {
		if e := r.store.board.Err(ats.DomainAuth); e != nil && e.Code == ats.CodeAuthInit {
			if err := r.store.Bootstrap(ctx); err != nil {
				r.logger.Warn("bootstrap retry failed", "err", err)
			}
		}
		return
	}
	if err := r.store.RefetchAll(ctx); err != nil {
		r.logger.Warn("revalidation failed", "err", err)
		return
	}
	r.logger.Debug("revalidated", "companies", len(r.store.tenant.Companies()), "current", r.store.tenant.CurrentID())
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
