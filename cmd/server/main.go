// Command server runs the price tracking service: the REST API, the price
// fetch runner and the scheduled maintenance jobs.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/pricemate/service/internal/app"
	"github.com/pricemate/service/internal/config"
	"github.com/pricemate/service/internal/httpapi"
	"github.com/pricemate/service/internal/metrics"
	"github.com/pricemate/service/internal/storage/postgres"
	"github.com/pricemate/service/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return fmt.Errorf("configure stores: %w", err)
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           metrics.InstrumentHandler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
	log.Info("shutdown complete")
	return nil
}

// buildStores opens the configured database. An empty DSN keeps the nil
// stores, which the application fills with the in-memory implementation.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	store := postgres.New(db)
	return app.Stores{
		Products:   store,
		Records:    store,
		Tracked:    store,
		Alerts:     store,
		Users:      store,
		Categories: store,
	}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
