package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/walletapi/internal/db"
	"github.com/nkiryanov/walletapi/internal/events"
	"github.com/nkiryanov/walletapi/internal/handlers"
	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/repository/postgres"
	"github.com/nkiryanov/walletapi/internal/service/identity"
	"github.com/nkiryanov/walletapi/internal/service/ledger"
	"github.com/nkiryanov/walletapi/internal/service/provider"
	"github.com/nkiryanov/walletapi/internal/service/reconciler"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	pool       *pgxpool.Pool
	rdb        *redis.Client
	reconciler *reconciler.Reconciler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app := &ServerApp{ListenAddr: c.ListenAddr, logger: l, pool: pool}

	// Events are optional
	var publisher interface {
		Publish(ctx context.Context, e events.Event) error
	} = events.NoopPublisher{}
	if c.RedisURL != "" {
		app.rdb, err = events.Connect(ctx, c.RedisURL)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		publisher = events.NewRedisPublisher(app.rdb)
	}

	// Initialize services
	storage := postgres.NewStorage(pool)
	ledgerService := ledger.NewService(ledger.Config{
		MinTopupAmount: c.MinTopupAmount,
		MaxTopupAmount: c.MaxTopupAmount,
	}, storage, publisher, l)

	identityService, err := identity.New(identity.Config{SecretKey: c.SecretKey})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("error while creating identity service. Err: %w", err)
	}

	// Nil confirmer keeps topups pending for webhook
	var confirm interface {
		Confirm(ctx context.Context, t models.TopupAttempt) (string, error)
	}
	switch c.ConfirmMode {
	case ConfirmImmediate:
		confirm = provider.NewMock()
	case ConfirmWebhook:
		if c.ProviderAddr != "" {
			client := provider.NewClient(c.ProviderAddr, l.With("component", "provider"))
			app.reconciler = reconciler.New(reconciler.Config{}, client, ledgerService, l.With("component", "reconciler"))
		}
	}

	app.Handler = handlers.NewRouter(
		handlers.Config{WebhookSecret: c.WebhookSecret},
		ledgerService,
		identityService,
		confirm,
		l,
	)

	return app, nil
}

// Run starts http server and reconciler, closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	var reconcilerStopped <-chan struct{}
	if s.reconciler != nil {
		stopped, err := s.reconciler.Run(srvCtx)
		if err != nil {
			return fmt.Errorf("error while starting reconciler. Err: %w", err)
		}
		reconcilerStopped = stopped
		s.logger.Info("Reconciler started")
	} else {
		closed := make(chan struct{})
		close(closed)
		reconcilerStopped = closed
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-reconcilerStopped

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ServerApp) close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	s.pool.Close()
}
