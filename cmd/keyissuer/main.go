package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	googleadapter "github.com/ericfisherdev/keyissuer/internal/adapter/driven/google"
	postgresadapter "github.com/ericfisherdev/keyissuer/internal/adapter/driven/postgres"
	sqliteadapter "github.com/ericfisherdev/keyissuer/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/keyissuer/internal/adapter/driving/http"
	"github.com/ericfisherdev/keyissuer/internal/application"
	"github.com/ericfisherdev/keyissuer/internal/config"
	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"postgres", cfg.UsePostgres(),
		"store_timeout", cfg.StoreTimeout,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the key store, migrate and verify its schema.
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// 4. Wire adapters and services.
	provider := googleadapter.NewProvider(googleadapter.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	issuanceSvc := application.NewIssuanceService(provider, store, application.NewMetrics(reg), slog.Default())

	// 5. Create HTTP handler and register routes.
	apiHandler := httphandler.NewHandler(issuanceSvc, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, reg, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	// 6. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 7. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// openStore opens Postgres when a database URL is configured and the SQLite
// file otherwise. Schema problems abort startup.
func openStore(ctx context.Context, cfg *config.Config) (driven.APIKeyStore, func() error, error) {
	if cfg.UsePostgres() {
		db, err := postgresadapter.Open(ctx, postgresadapter.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, err
		}
		if err := postgresadapter.RunMigrations(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := postgresadapter.VerifySchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		slog.Info("postgres store ready")
		return postgresadapter.NewAPIKeyRepo(db, cfg.StoreTimeout), db.Close, nil
	}

	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := sqliteadapter.VerifySchema(ctx, db.Reader); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	slog.Info("sqlite store ready", "path", db.Path())
	return sqliteadapter.NewAPIKeyRepo(db, cfg.StoreTimeout), db.Close, nil
}
