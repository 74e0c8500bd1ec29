package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/auth"
	"github.com/BuzzLyutic/kanban-board-api/internal/cache"
	"github.com/BuzzLyutic/kanban-board-api/internal/config"
	"github.com/BuzzLyutic/kanban-board-api/internal/events"
	"github.com/BuzzLyutic/kanban-board-api/internal/handler"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
	"github.com/BuzzLyutic/kanban-board-api/internal/service"
	"github.com/BuzzLyutic/kanban-board-api/internal/worker"
	"github.com/BuzzLyutic/kanban-board-api/migrations"
)

type ledgerStore interface {
	repo.BoardStore
	repo.Outbox
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the outbox workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(migrate bool) error {
	// Подключаем логгер
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Загрузка конфигурации
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, migrate, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authn, err := newAuth(cfg)
	if err != nil {
		return err
	}

	var (
		snapshots service.Snapshots
		publisher events.Publisher = events.LogPublisher{Logger: logger}
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		snapshots = cache.NewSnapshots(store, rc, cfg.SnapshotTTL, logger)
		publisher = events.NewRedisPublisher(rc, cfg.EventsChannel)
		logger.Info("Redis connected", zap.String("channel", cfg.EventsChannel))
	}

	svcOpts := []service.Option{service.WithLogger(logger)}
	if snapshots != nil {
		svcOpts = append(svcOpts, service.WithSnapshots(snapshots))
	}
	tasks := service.NewTaskService(store, svcOpts...)
	moves := service.NewMoveService(store, svcOpts...)
	boards := service.NewBoardService(store, svcOpts...)

	router := handler.NewRouter(
		handler.NewTaskHandler(tasks, moves, logger),
		handler.NewBoardHandler(boards, logger),
		authn.Middleware,
		logger,
	)

	workers := worker.NewPool(store, publisher, logger, cfg.WorkerCount)
	workers.Start(ctx)
	defer workers.Stop()

	srv := http.Server{ // Создаем сервер
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { // Запуск сервера и обработка ошибок
		logger.Info("Server started", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Graceful shutdown
	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped successfully!")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, migrate bool, logger *zap.Logger) (ledgerStore, func(), error) {
	switch cfg.Storage {
	case "memory":
		logger.Warn("Using in-memory ledger; data is lost on restart")
		return repo.NewMemoryStore(), func() {}, nil
	case "postgres":
		pool, err := connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Successfully connected to the Database!")
		if migrate {
			applied, err := repo.Migrate(ctx, pool, migrations.FS)
			if err != nil {
				pool.Close()
				return nil, nil, err
			}
			logger.Info("Migrations applied", zap.Strings("applied", applied))
		}
		return repo.NewBoardRepo(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE %q (want postgres or memory)", cfg.Storage)
	}
}

func connect(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL) // Создаем новое соединение к БД
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil { // Пытаемся пингануть БД
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func newAuth(cfg config.Config) (*auth.Auth, error) {
	opts := []auth.Option{
		auth.WithElevatedRoles(cfg.ElevatedRoles...),
		auth.WithAudience(cfg.JWTAudience),
		auth.WithIssuer(cfg.JWTIssuer),
	}
	switch {
	case cfg.JWKSURL != "":
		jwks, err := auth.FetchJWKS(cfg.JWKSURL, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return auth.NewJWKS(jwks, opts...), nil
	case cfg.JWTSecret != "":
		return auth.NewHS256([]byte(cfg.JWTSecret), opts...), nil
	default:
		return nil, errors.New("set JWKS_URL or JWT_SECRET")
	}
}
