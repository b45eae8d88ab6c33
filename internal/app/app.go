// Package app wires configuration, storage and transports into a running
// Arogya server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/api"
	"github.com/ashureev/arogya/internal/chat"
	"github.com/ashureev/arogya/internal/config"
	"github.com/ashureev/arogya/internal/identity"
	"github.com/ashureev/arogya/internal/middleware"
	"github.com/ashureev/arogya/internal/rpc"
	"github.com/ashureev/arogya/internal/store"
	"github.com/ashureev/arogya/internal/ws"
	"github.com/ashureev/arogya/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired dependencies of the server.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	repo    store.Repository
	service *agent.Service
	tokens  *identity.Tokens
}

// New opens the store, seeds it when configured, and builds the chat service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	repo, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "driver", cfg.DBDriver)

	if cfg.SeedRemedies {
		if _, err := store.SeedIfEmpty(ctx, repo); err != nil {
			_ = repo.Close()
			return nil, err
		}
	}

	service, err := NewService(repo, cfg, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		service: service,
		tokens:  identity.NewTokens(cfg.JWTSecret, cfg.AuthTokenTTL),
	}, nil
}

// NewService builds the chat pipeline and the service around it.
func NewService(repo store.Repository, cfg *config.Config, logger *slog.Logger) (*agent.Service, error) {
	pipeline, err := chat.NewDefaultPipeline(repo, logger, chat.WithLookupTimeout(cfg.RemedyLookupTimeout))
	if err != nil {
		return nil, fmt.Errorf("build chat pipeline: %w", err)
	}

	convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize conversation logger: %w", err)
	}

	return agent.NewService(pipeline, repo,
		agent.WithRateLimiter(agent.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)),
		agent.WithConversationLogger(convLog),
		agent.WithServiceLogger(logger),
	), nil
}

// Service returns the chat service.
func (a *App) Service() *agent.Service { return a.service }

// Repository returns the store.
func (a *App) Repository() store.Repository { return a.repo }

// Tokens returns the login token issuer.
func (a *App) Tokens() *identity.Tokens { return a.tokens }

// Router builds the HTTP routes. registry tracks live chat sockets.
func (a *App) Router(registry *ws.Registry) (http.Handler, error) {
	isDev := a.cfg.IsDevelopment()

	baseHandler := api.NewHandler(a.repo, a.service, a.tokens,
		api.WithDevelopment(isDev),
		api.WithMaxBodySize(a.cfg.MaxRequestBodySize),
		api.WithLogger(a.logger),
		api.WithLogoutHook(registry.CloseUser),
	)
	healthHandler := api.NewHealthHandler(a.repo, 0)
	wsHandler := ws.NewHandler(a.service, registry, a.cfg.FrontendURL, isDev)

	spa, err := web.SPAHandler()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(a.cfg.FrontendURL, isDev)))
	r.Use(identity.Middleware(a.tokens))

	healthHandler.RegisterHealth(r)
	baseHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", spa)
	return r, nil
}

// Run serves HTTP, and gRPC when a port is configured, until ctx is done,
// then shuts both down gracefully.
func (a *App) Run(ctx context.Context) error {
	registry := ws.NewRegistry()
	router, err := a.Router(registry)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // 0 = no timeout for long-lived WebSocket chats
		IdleTimeout:       120 * time.Second,
	}

	var grpcLis net.Listener
	if a.cfg.GRPCPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+a.cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.WSIdleTimeout > 0 {
		ws.StartIdleSweeper(ctx, registry, a.cfg.WSIdleTimeout)
	}

	g.Go(func() error {
		a.logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		grpcSrv, health := rpc.NewGRPCServer(a.service, a.tokens, rpc.DefaultServerConfig(), a.logger)
		g.Go(func() error {
			a.logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := grpcSrv.Serve(grpcLis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			health.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx, srv, registry)
	})

	return g.Wait()
}

// shutdown stops srv, then closes the chat sockets it hijacked and waits for
// their handlers to return.
func (a *App) shutdown(ctx context.Context, srv *http.Server, registry *ws.Registry) error {
	srvErr := srv.Shutdown(ctx)
	if err := registry.Shutdown(ctx); err != nil {
		a.logger.Warn("Chat sockets still open at shutdown", "error", err)
	}
	if srvErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", srvErr)
	}
	return nil
}

// Close releases the service and the store.
func (a *App) Close() {
	a.service.Close()
	if err := a.repo.Close(); err != nil {
		a.logger.Error("Failed to close repository", "error", err)
	}
}
