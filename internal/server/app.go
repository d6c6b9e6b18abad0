// Package server wires configuration, storage, services and the HTTP
// surface into a runnable application.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mkorchagin/camstream/internal/logging"
	"github.com/mkorchagin/camstream/internal/server/config"
	"github.com/mkorchagin/camstream/internal/server/httpapi"
	"github.com/mkorchagin/camstream/internal/server/hub"
	"github.com/mkorchagin/camstream/internal/server/repositories/repomanager"
	"github.com/mkorchagin/camstream/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

// App owns the process-level resources of the server.
type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	httpServer  *http.Server
}

// NewApp opens the database and assembles the full service stack. The
// returned App is not serving yet; call Run.
func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	h := hub.NewHub(logger)

	userService := services.NewUserService(db, m, cfg)
	deviceService := services.NewDeviceService(db, m, cfg)
	segmentService := services.NewSegmentService(db, m, h, cfg)

	handler := httpapi.NewHandler(logger, userService, deviceService, segmentService, h, cfg)

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		repomanager: m,
		httpServer: &http.Server{
			Addr:              cfg.EndpointAddrHTTP,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run migrates the schema, serves HTTP until the context is cancelled or a
// termination signal arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.db.Close()

	if err := a.repomanager.RunMigrations(ctx, a.db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.httpServer.ListenAndServe()
	}()

	a.logger.Info(ctx, "server listening", "addr", a.config.EndpointAddrHTTP)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
