package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hysteria-id/hysteria/internal/db"
	"github.com/hysteria-id/hysteria/internal/handlers"
	"github.com/hysteria-id/hysteria/internal/handlers/middleware"
	"github.com/hysteria-id/hysteria/internal/handlers/render"
	"github.com/hysteria-id/hysteria/internal/logger"
	"github.com/hysteria-id/hysteria/internal/repository"
	"github.com/hysteria-id/hysteria/internal/repository/postgres"
	"github.com/hysteria-id/hysteria/internal/repository/redisstore"
	"github.com/hysteria-id/hysteria/internal/service/auth"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories. Users always live in postgres; refresh
	// records move to redis when an address is configured.
	storage := postgres.NewStorage(pool)
	var refreshRepo repository.RefreshTokenRepo = storage.Refresh()
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		refreshRepo = redisstore.NewRefreshTokenRepo(rdb)
		log.Info("refresh tokens stored in redis", "addr", c.RedisAddr)
	}

	// Initialize the session service
	authService, err := auth.NewService(auth.Config{
		SecretKey:          c.SecretKey,
		Issuer:             c.Issuer,
		Audience:           c.Audience,
		AccessTokenTTL:     c.AccessTokenTTL,
		RefreshTokenTTL:    c.RefreshTokenTTL,
		RevokeChainOnReuse: c.RevokeChainOnReuse,
		CookieSecure:       c.CookieSecure,
	}, storage.User(), refreshRepo, log)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(authService, adminIndex(), c.LoginURL, log)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		Logger:     log,
	}, nil
}

// adminIndex stands in for the admin application. Real content routes
// are collaborators mounted behind the guard the same way.
func adminIndex() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		render.JSON(w, map[string]any{"message": "admin area", "sub": identity.UserID})
	})
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
