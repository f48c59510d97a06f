package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/config"
	"github.com/opsdash/dashboard-server/internal/database"
	"github.com/opsdash/dashboard-server/internal/handler"
	"github.com/opsdash/dashboard-server/internal/health"
	"github.com/opsdash/dashboard-server/internal/jobs"
	"github.com/opsdash/dashboard-server/internal/middleware"
	"github.com/opsdash/dashboard-server/internal/mirror"
	"github.com/opsdash/dashboard-server/internal/model"
	"github.com/opsdash/dashboard-server/internal/redis"
	"github.com/opsdash/dashboard-server/internal/repository"
	"github.com/opsdash/dashboard-server/internal/service"
	"github.com/opsdash/dashboard-server/internal/sessionctx"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var loginLimiter middleware.LoginLimiter = middleware.NewMemoryLoginLimiter(config.LoginMaxAttempts, config.LoginWindow)
	var redisPinger handler.Pinger
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		loginLimiter = middleware.NewRedisLoginLimiter(redisClient.Client, config.LoginMaxAttempts, config.LoginWindow, loginLimiter)
		redisPinger = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	} else {
		log.Info().Msg("REDIS_URL not set: login throttling is per instance")
	}

	policy := model.SessionPolicy{IdleTimeout: cfg.IdleTimeout()}
	sessionRepo := repository.NewSessionRepository(db.DB, policy, cfg.SessionRetention())
	userRepo := repository.NewUserRepository(db.DB)

	sessionService := service.NewSessionService(sessionRepo, cfg.SessionLifetime())
	authService := service.NewAuthService(userRepo, sessionService)
	adminService := service.NewAdminService(db, userRepo, sessionRepo, sessionService)
	restorer := service.NewRestorationManager(sessionService, userRepo)

	if cfg.BootstrapAdmin.Enabled() {
		created, err := adminService.EnsureDefaultAdmin(context.Background(), cfg.BootstrapAdmin)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap admin account")
		}
		if created {
			log.Warn().Str("username", cfg.BootstrapAdmin.Username).Msg("default admin created: change its password")
		}
	}

	registry := mirror.NewRegistry()
	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid TRUSTED_PROXIES")
	}
	extractor := sessionctx.NewExtractor(cfg.ContextDefaults, trustedProxies...)
	checker := health.NewChecker(extractor, registry)

	viewMiddleware := middleware.NewViewMiddleware(registry, restorer, cfg.SecureCookies)
	loginLimitMiddleware := middleware.NewLoginLimitMiddleware(loginLimiter, extractor)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.SecureCookies)

	authHandler := handler.NewAuthHandler(authService, restorer, extractor, loginLimitMiddleware)
	adminHandler := handler.NewAdminHandler(adminService)
	healthHandler := handler.NewHealthHandler(db, redisPinger, checker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.Liveness)

	r.Group(func(r chi.Router) {
		r.Use(viewMiddleware.Handler)

		r.Get("/health/session", healthHandler.Session)
		r.Mount("/auth", authHandler.Routes())
		r.Mount("/admin", adminHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(sessionRepo, registry, cfg.MirrorIdle(), cfg.CleanupInterval())
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Dur("lifetime", cfg.SessionLifetime()).
			Dur("idleTimeout", cfg.IdleTimeout()).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
