// Package server wires the gophsync server together: configuration,
// PostgreSQL storage, optional S3 archiving and the gRPC endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	gs "github.com/dmitrijs2005/gophsync/internal/server/grpc"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	openDB                   = sql.Open
	newRepoManager           = repomanager.NewPostgresRepositoryManager
	logOutput      io.Writer = os.Stdout
)

type App struct {
	config         *config.Config
	logger         logging.Logger
	db             *sql.DB
	userService    *services.UserService
	storageService *services.StorageService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	h := slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: logging.ParseLevel(c.LogLevel)})
	logger := logging.NewSlogLogger(slog.New(h))

	db, err := openDB("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := newRepoManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	var archiver services.Archiver
	if c.S3Enabled {
		archiver = services.NewS3Archiver(c)
		logger.Info(ctx, "archiving enabled", "bucket", c.S3Bucket)
	}

	return &App{
		config:         c,
		logger:         logger,
		db:             db,
		userService:    services.NewUserService(db, rm, c),
		storageService: services.NewStorageService(db, rm, c, archiver),
	}, nil
}

func (app *App) initSignalHandler(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

// Run serves until ctx is done or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := app.initSignalHandler(ctx)
	defer cancel()

	app.logger.Info(ctx, "Starting app...")

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.userService, app.storageService, app.config.SecretKey)
	err := s.Run(ctx)
	if err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
	}

	if cerr := app.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	app.logger.Info(ctx, "App stopped")
	return err
}
