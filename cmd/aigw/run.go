package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"golang.org/x/time/rate"

	"github.com/Evronai/Project-AI-Assistant/internal/app"
	"github.com/Evronai/Project-AI-Assistant/internal/budget"
	"github.com/Evronai/Project-AI-Assistant/internal/config"
	"github.com/Evronai/Project-AI-Assistant/internal/ledger"
	"github.com/Evronai/Project-AI-Assistant/internal/provider"
	"github.com/Evronai/Project-AI-Assistant/internal/provider/openai"
	"github.com/Evronai/Project-AI-Assistant/internal/ratelimit"
	"github.com/Evronai/Project-AI-Assistant/internal/server"
	"github.com/Evronai/Project-AI-Assistant/internal/storage"
	"github.com/Evronai/Project-AI-Assistant/internal/storage/postgres"
	"github.com/Evronai/Project-AI-Assistant/internal/storage/sqlite"
	"github.com/Evronai/Project-AI-Assistant/internal/telemetry"
	"github.com/Evronai/Project-AI-Assistant/internal/worker"
)

// Credential tests spend real upstream tokens; allow a short burst, then one
// every 10 seconds.
const (
	verifyEvery = 10 * time.Second
	verifyBurst = 3
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := telemetry.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("starting aigw", "version", version, "addr", cfg.Server.Addr, "db", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Metrics
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Open database
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	// Upstream client with a DNS-caching transport
	resolver := &dnscache.Resolver{}
	completer := openai.New(cfg.Gateway.Provider, &http.Client{Transport: provider.NewTransport(resolver)})

	// Wire services
	v := cfg.NewVault()
	if metrics != nil && v.EncryptionAvailable() {
		metrics.EncryptionAvailable.Set(1)
	}
	profiles := app.NewProfileService(store, v, completer, cfg.ProfileDefaults(), cfg.Gateway.ProfileCacheTTL)
	if err := config.Bootstrap(ctx, cfg, profiles); err != nil {
		return err
	}

	governor := budget.NewGovernor(store, budget.WithLocation(cfg.Location()))
	led := ledger.New(store)
	gw := app.NewGateway(app.Deps{
		Profiles:  profiles,
		Limiter:   ratelimit.NewLimiter(cfg.Gateway.RateLimitRPM),
		Governor:  governor,
		Ledger:    led,
		Completer: completer,
		Pricing:   cfg.PriceTable(),
		Metrics:   metrics,
	}, cfg.GatewayOptions())

	// Background workers
	var rollup worker.Worker
	if cfg.Workers.RollupSchedule != "" {
		w, err := worker.NewUsageRollupWorker(store, cfg.Workers.RollupSchedule)
		if err != nil {
			return err
		}
		rollup = w
	}
	var spendGauge worker.Worker
	if metrics != nil {
		spendGauge = worker.NewSpendGaugeWorker(governor, profiles, metrics, cfg.Workers.SpendRefresh)
	}
	dnsRefresh := worker.Func("dns_refresh", func(ctx context.Context) error {
		return provider.RefreshResolver(ctx, resolver, cfg.Workers.DNSRefresh)
	})
	runner := worker.NewRunner(rollup, spendGauge, dnsRefresh)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	// Create HTTP server
	handler := server.New(server.Deps{
		Gateway:        gw,
		Profiles:       profiles,
		Ledger:         led,
		Usage:          store,
		AdminKey:       cfg.Auth.AdminKey,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		VerifyLimiter:  rate.NewLimiter(rate.Every(verifyEvery), verifyBurst),
	})
	if cfg.Auth.AdminKey == "" {
		slog.Warn("auth.admin_key not set, settings and usage routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("aigw ready", "addr", cfg.Server.Addr)

	var runErr error
	workersStopped := false
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		runErr = err
	case err := <-workerDone:
		workersStopped = true
		if err != nil {
			runErr = fmt.Errorf("worker: %w", err)
		}
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	cancelWorkers()
	if !workersStopped {
		select {
		case <-workerDone:
		case <-shutdownCtx.Done():
		}
	}

	slog.Info("aigw stopped")
	return runErr
}

// openStore opens the configured backend and applies its migrations.
func openStore(ctx context.Context, db config.DatabaseConfig) (storage.Store, error) {
	switch db.Driver {
	case "postgres":
		return postgres.New(ctx, db.DSN)
	default:
		return sqlite.New(db.DSN)
	}
}
