// Package app wires the warden process: config, logging, store, the
// lifecycle orchestrator, the ops HTTP listener and the expiry sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"warden/cmd/internal/auth/access"
	"warden/cmd/internal/auth/lifecycle"
	"warden/cmd/internal/auth/onetime"
	"warden/cmd/internal/auth/refresh"
	"warden/cmd/internal/metrics"
	"warden/cmd/internal/store"
	"warden/cmd/security/password"
)

// App is the warden runtime. It owns the store for its whole lifetime.
type App struct {
	cfg Config
	log Logger

	store     store.Store
	dbEnabled bool

	registry *prometheus.Registry
	svc      *lifecycle.Service
}

// New constructs a fully wired App. Component policy is read from the
// environment by each component's loader.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	hasher, err := newTokenHasher(cfg)
	if err != nil {
		return nil, err
	}

	d := lifecycle.Deps{Hasher: hasher, Log: log}
	if err := loadComponentConfig(&d); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.NewCollector(reg)

	st, dbEnabled, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	d.Store = st

	svc, err := lifecycle.New(d)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbEnabled: dbEnabled,
		registry:  reg,
		svc:       svc,
	}, nil
}

func loadComponentConfig(d *lifecycle.Deps) error {
	var err error
	if d.Config, err = lifecycle.LoadConfigFromEnv(); err != nil {
		return err
	}
	if d.Password, err = password.FromEnv(); err != nil {
		return err
	}
	if d.Refresh, err = refresh.LoadConfigFromEnv(); err != nil {
		return err
	}
	if d.OneTime, err = onetime.LoadConfigFromEnv(); err != nil {
		return err
	}

	acfg, err := access.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if !acfg.Enabled() {
		d.Log.Info("access_tokens.disabled")
		return nil
	}
	if d.Access, err = access.NewManager(acfg); err != nil {
		return fmt.Errorf("access manager: %w", err)
	}
	return nil
}

// Service returns the lifecycle orchestrator for embedding transports.
func (a *App) Service() *lifecycle.Service { return a.svc }

// Run serves the ops listener and the sweeper until ctx is cancelled or
// either fails, then shuts down and closes the store.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.store, a.dbEnabled, a.registry)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return runSweeper(gctx, a.log, a.svc, a.cfg.SweepInterval)
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
