// Command atsdash serves the ATS dashboard state over HTTP.
//
// The gateway, local storage and token verification are chosen by
// configuration (see internal/config). With the default fake gateway it runs
// self-contained with a demo account: demo@example.com / demo123.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/audit"
	"github.com/muasya/ats-go/fake"
	"github.com/muasya/ats-go/httpapi"
	"github.com/muasya/ats-go/internal/config"
	"github.com/muasya/ats-go/jwks"
	"github.com/muasya/ats-go/metrics"
	"github.com/muasya/ats-go/persist"
	"github.com/muasya/ats-go/pgdata"
	"github.com/muasya/ats-go/store"
	"github.com/muasya/ats-go/supabase"
)

func main() {
	configPath := flag.String("config", os.Getenv("ATS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("atsdash stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, exchanger, cleanup, err := openGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	verifier := openVerifier(cfg, gw, logger)

	opts := []store.Option{
		store.WithLogger(logger),
		store.WithStorage(storage),
		store.WithMetrics(metrics.New(cfg.Metrics)),
	}
	if verifier != nil {
		opts = append(opts, store.WithVerifier(verifier))
	}
	if cfg.Audit {
		al := audit.New(256, audit.WithSlogHandler(logger.With("component", "audit")))
		defer al.Close()
		opts = append(opts, store.WithAudit(al))
	}

	st := store.New(store.Config{OAuthRedirectTo: cfg.Auth.OAuthRedirectTo}, gw, opts...)
	startStore(ctx, st, logger)
	defer st.Close()

	refresher := store.NewRefresher(st, cfg.RefreshSpec)
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	srvOpts := []httpapi.Option{httpapi.WithLogger(logger)}
	if cfg.Auth.RequireToken && verifier != nil {
		srvOpts = append(srvOpts, httpapi.WithVerifier(verifier))
	}
	if exchanger != nil {
		srvOpts = append(srvOpts, httpapi.WithCodeExchanger(exchanger))
	}
	if cfg.Metrics {
		srvOpts = append(srvOpts, httpapi.WithMetricsHandler(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.New(st, srvOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "gateway", cfg.Gateway.Backend, "storage", cfg.Storage.Backend)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startStore bootstraps st. A failure is already recorded on the status
// board and the refresher retries it, so the process keeps serving.
func startStore(ctx context.Context, st *store.Store, logger *slog.Logger) {
	if err := st.Start(ctx); err != nil {
		logger.Warn("store bootstrap failed, serving until a retry succeeds", "err", err)
	}
}

func openGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (ats.Gateway, httpapi.CodeExchanger, func(), error) {
	noop := func() {}
	switch cfg.Gateway.Backend {
	case config.BackendSupabase, config.BackendPostgres:
		opts := []supabase.Option{supabase.WithLogger(logger.With("component", "supabase"))}
		if cfg.Gateway.RateLimit != 0 {
			opts = append(opts, supabase.WithRateLimit(rate.Limit(cfg.Gateway.RateLimit), cfg.Gateway.Burst))
		}
		client := supabase.New(cfg.Gateway.URL, cfg.Gateway.APIKey, opts...)
		if cfg.Gateway.Backend == config.BackendSupabase {
			return client, client, noop, nil
		}

		db, err := pgdata.Open(ctx, cfg.Gateway.DatabaseURL, pgdata.WithLogger(logger.With("component", "pgdata")))
		if err != nil {
			return nil, nil, noop, err
		}
		if cfg.Gateway.Migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, noop, err
			}
		}
		return ats.Compose(client, db, db), client, db.Close, nil

	default:
		logger.Warn("using the in-memory demo gateway")
		return demoGateway(), nil, noop, nil
	}
}

func demoGateway() *fake.Gateway {
	return fake.New(
		fake.WithUser("demo-user", "demo@example.com", "demo123", ats.UserTypeCompanyAdmin),
		fake.WithCompany("demo-acme", "Acme Recruiting"),
		fake.WithCompany("demo-globex", "Globex Talent"),
		fake.WithAdmin("demo-user", "demo-acme", ats.RoleOwner),
		fake.WithAdmin("demo-user", "demo-globex", ats.RoleAdmin),
		fake.WithJob("demo-job-1", "demo-acme", "Backend Engineer"),
		fake.WithJob("demo-job-2", "demo-acme", "Product Designer"),
		fake.WithJob("demo-job-3", "demo-globex", "Data Analyst"),
	)
}

func openStorage(ctx context.Context, cfg config.Config) (ats.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageFile:
		return persist.NewFile(cfg.Storage.Path), func() {}, nil
	case config.StorageRedis:
		r, err := persist.DialRedis(ctx, cfg.Storage.RedisURL, persist.WithTTL(cfg.Storage.TTL))
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		return persist.NewMemory(), func() {}, nil
	}
}

// openVerifier returns nil when no token verification is configured. The
// fake gateway verifies its own tokens.
func openVerifier(cfg config.Config, gw ats.Gateway, logger *slog.Logger) ats.TokenVerifier {
	if v, ok := gw.(ats.TokenVerifier); ok && cfg.Gateway.Backend == config.BackendFake {
		if cfg.Auth.RequireToken {
			return v
		}
		return nil
	}
	if cfg.Auth.JWKSURL == "" && cfg.Auth.HMACSecret == "" {
		return nil
	}
	opts := []jwks.Option{jwks.WithLogger(logger.With("component", "jwks"))}
	if cfg.Auth.Issuer != "" {
		opts = append(opts, jwks.WithIssuer(cfg.Auth.Issuer))
	}
	if cfg.Auth.Audience != "" {
		opts = append(opts, jwks.WithAudience(cfg.Auth.Audience))
	}
	if cfg.Auth.HMACSecret != "" {
		opts = append(opts, jwks.WithHMACSecret([]byte(cfg.Auth.HMACSecret)))
	}
	return jwks.NewVerifier(cfg.Auth.JWKSURL, opts...)
}
