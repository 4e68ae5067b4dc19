package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/revive/internal/adguard"
	"github.com/edvin/revive/internal/api"
	"github.com/edvin/revive/internal/backup"
	"github.com/edvin/revive/internal/compiler"
	"github.com/edvin/revive/internal/config"
	"github.com/edvin/revive/internal/core"
	"github.com/edvin/revive/internal/db"
	"github.com/edvin/revive/internal/events"
	"github.com/edvin/revive/internal/leases"
	"github.com/edvin/revive/internal/logging"
	"github.com/edvin/revive/internal/metrics"
	"github.com/edvin/revive/internal/policy"
	"github.com/edvin/revive/internal/reconciler"
	"github.com/edvin/revive/internal/registry"
	"github.com/edvin/revive/internal/scheduler"
	"github.com/edvin/revive/internal/stats"
	"github.com/edvin/revive/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("revived stopped")
	}
	logger.Info().Msg("revived stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	catalog := config.DefaultCatalog()
	if cfg.CatalogFile != "" {
		c, err := config.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return err
		}
		catalog = c
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	logger.Info().
		Str("catalog_version", catalog.Version).
		Str("timezone", loc.String()).
		Str("state_backend", cfg.StateBackend).
		Msg("starting revived")

	checks := map[string]api.Check{}

	var repo store.Repository
	switch cfg.StateBackend {
	case "postgres":
		if cfg.DBMigrate {
			logger.Info().Msg("running database migrations")
			if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to state database: %w", err)
		}
		defer pool.Close()
		if err := metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, pool); err != nil {
			return err
		}
		checks["state_db"] = pool.Ping
		repo = store.NewPostgresRepository(pool)
	default:
		repo = store.NewFileRepository(cfg.StateFile)
	}

	snap, err := repo.Load(ctx)
	if err != nil {
		// Starting with an empty store would silently lift every restriction.
		return fmt.Errorf("load state: %w", err)
	}
	logger.Info().
		Int("policies", len(snap.Policies)).
		Int("devices", len(snap.Devices)).
		Msg("state loaded")

	bus := events.New(64, logger)

	reg := registry.New(registry.Options{
		Source:     leases.NewFile(cfg.LeasesFile),
		Repo:       repo,
		Interval:   cfg.RegistryInterval,
		StaleAfter: cfg.StaleAfter,
		Logger:     logger,
	})
	reg.Load(snap.Devices)

	policies := policy.New(repo, catalog, logger)
	policies.Load(snap.Policies)

	comp := compiler.New(catalog, loc)

	tlsConfig, err := cfg.EngineTLS()
	if err != nil {
		return fmt.Errorf("configure engine TLS: %w", err)
	}
	engine := adguard.NewClient(adguard.Options{
		BaseURL:   cfg.AdGuardURL,
		Username:  cfg.AdGuardUser,
		Password:  cfg.AdGuardPassword,
		TLS:       tlsConfig,
		RateLimit: cfg.EngineRateLimit,
		Timeout:   cfg.ReconcileCallTimeout,
		Logger:    logger,
	})
	checks["engine"] = engine.Ping

	converger := reconciler.NewConverger(engine, catalog.Managed(), reconciler.RetryPolicy{
		Attempts:    cfg.ReconcileAttempts,
		BaseBackoff: cfg.ReconcileBaseBackoff,
		MaxBackoff:  cfg.ReconcileMaxBackoff,
		CallTimeout: cfg.ReconcileCallTimeout,
	}, logger)

	workers := reconciler.NewPool(reconciler.PoolOptions{
		Queue:     reconciler.NewQueue(),
		Tracker:   reconciler.NewTracker(cfg.TerminalRetryAfter),
		Converger: converger,
		Resolve: func(mac string) reconciler.Target {
			t := reconciler.Target{
				MAC:  mac,
				Name: registry.Placeholder(mac),
				Claimed: func(addr string) bool {
					owner, ok := reg.LookupByAddress(addr)
					return ok && owner.MAC != mac
				},
			}
			if d, ok := reg.Get(mac); ok {
				t.Address = d.Address
				t.Name = d.DisplayName
			}
			return t
		},
		Events:  bus,
		Workers: cfg.ReconcileWorkers,
		Logger:  logger,
	})

	collector := stats.New(engine, reg, cfg.StatsInterval, cfg.ReconcileCallTimeout, logger)

	services := core.NewServices(reg, policies, comp, workers, collector, bus)
	policies.OnChange = services.Device.PolicyChanged
	reg.OnChange = services.Device.DeviceChanged

	sched := scheduler.New(scheduler.Options{
		Policies: policies,
		Compiler: comp,
		Tracker:  workers.Tracker(),
		Enqueuer: workers,
		Events:   bus,
		Interval: cfg.SchedulerTick,
		Logger:   logger,
	})

	srv := api.NewServer(logger, services, bus, checks)
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return reg.Run(ctx) })
	g.Go(func() error { return workers.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return collector.Run(ctx) })

	if cfg.BackupS3Bucket != "" {
		client := backup.NewS3Client(cfg.BackupS3Endpoint, cfg.BackupS3Region, cfg.BackupS3AccessKey, cfg.BackupS3SecretKey)
		exporter := backup.NewExporter(client, cfg.BackupS3Bucket, cfg.HouseholdName, cfg.BackupInterval, policies, reg, logger)
		g.Go(func() error { return exporter.Run(ctx) })
	}

	if cfg.MetricsListenAddr != "" {
		g.Go(func() error {
			return serve(ctx, logger, metrics.NewServer(cfg.MetricsListenAddr), "metrics")
		})
	}

	g.Go(func() error { return serve(ctx, logger, httpServer, "admin API") })

	return g.Wait()
}

// serve runs an HTTP server until ctx is done and then shuts it down
// gracefully.
func serve(ctx context.Context, logger zerolog.Logger, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msgf("starting %s server", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msgf("shutting down %s server", name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
