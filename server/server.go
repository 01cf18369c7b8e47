package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/plugin/ai"
	"github.com/hrygo/bankdesk/plugin/ai/agent"
	"github.com/hrygo/bankdesk/plugin/ai/agent/tools"
	"github.com/hrygo/bankdesk/plugin/ai/cache"
	"github.com/hrygo/bankdesk/plugin/ai/session"
	"github.com/hrygo/bankdesk/server/internal/observability"
	"github.com/hrygo/bankdesk/server/middleware"
	apiv1 "github.com/hrygo/bankdesk/server/router/api/v1"
	"github.com/hrygo/bankdesk/server/runner/embedding"
	"github.com/hrygo/bankdesk/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Manager *agent.Manager
	Metrics *observability.Metrics

	sessionStore session.Store
	cleanupJob   *session.CleanupJob
	echoServer   *echo.Echo

	closers           []func() error
	runnerCancelFuncs []context.CancelFunc
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Store:   store,
		Profile: profile,
		Metrics: observability.NewMetrics(0),
	}

	sessionStore, err := s.newSessionStore(ctx)
	if err != nil {
		return nil, err
	}
	s.sessionStore = sessionStore
	authSources := make([]tools.Capability, 0, len(profile.ToolboxAuthSources))
	for _, source := range profile.ToolboxAuthSources {
		authSources = append(authSources, tools.Capability(source))
	}
	s.Manager = agent.NewManager(s.buildDispatcher, agent.WithCredentialCapabilities(authSources...))

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(middleware.RequestLogger(slog.Default(), s.Metrics))
	s.echoServer = echoServer

	// Register healthz endpoint.
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	limiter := middleware.NewRateLimiter(profile.RateLimitPerSecond, profile.RateLimitBurst)
	apiV1Service := apiv1.NewAPIV1Service(profile, s.Manager, limiter, s.Metrics)
	apiV1Service.RegisterRoutes(echoServer)

	if profile.AISessionRetentionDays > 0 {
		s.cleanupJob = session.NewCleanupJob(sessionStore, session.CleanupConfig{
			RetentionDays: profile.AISessionRetentionDays,
		})
	}

	return s, nil
}

// newSessionStore picks the checkpoint store of the configured driver.
// Durable stores get a read-through cache, tiered over Redis when configured.
func (s *Server) newSessionStore(ctx context.Context) (session.Store, error) {
	if !s.Profile.IsDurable() {
		return session.NewMemoryStore(), nil
	}

	local := cache.NewService(cache.DefaultServiceConfig())
	s.closers = append(s.closers, func() error {
		local.Close()
		return nil
	})

	var checkpointCache cache.CacheService = local
	if s.Profile.CacheRedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     s.Profile.CacheRedisAddr,
			Password: s.Profile.CacheRedisPassword,
			DB:       s.Profile.CacheRedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		s.closers = append(s.closers, redisCache.Close)
		checkpointCache = cache.NewTieredCache(local, redisCache, time.Minute)
	}

	return session.NewCachedStore(session.NewDBStore(s.Store, s.Profile.AICheckpointNamespace), checkpointCache), nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start echo server", "error", err)
		}
	}()

	s.StartBackgroundRunners(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	// Cancel all background runners
	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}
	if s.cleanupJob != nil {
		s.cleanupJob.Stop()
	}

	// Shutdown echo server.
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	for _, closeFunc := range s.closers {
		if err := closeFunc(); err != nil {
			slog.Error("failed to close cache", "error", err)
		}
	}

	// Close database connection.
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("bankdesk stopped properly")
}

func (s *Server) StartBackgroundRunners(ctx context.Context) {
	if s.cleanupJob != nil {
		s.cleanupJob.Start(ctx)
	}

	// Embeddings only pay off where the store can rank by vector.
	if !s.Profile.IsAIEnabled() || !s.Store.SupportsVectorSearch() {
		return
	}
	aiConfig := ai.NewConfigFromProfile(s.Profile)
	if aiConfig.Embedding.Model == "" {
		return
	}
	embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		slog.Warn("embedding runner disabled", "error", err)
		return
	}

	runnerCtx, runnerCancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, runnerCancel)
	runner := embedding.NewRunner(s.Store, embeddingService)
	go runner.Run(runnerCtx)
	slog.Info("embedding runner started", "model", aiConfig.Embedding.Model)
}

// Handler exposes the HTTP handler, e.g. for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}
