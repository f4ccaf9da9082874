package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omnidesk/console-server/internal/config"
	"github.com/omnidesk/console-server/internal/database"
	"github.com/omnidesk/console-server/internal/handler"
	"github.com/omnidesk/console-server/internal/jobs"
	"github.com/omnidesk/console-server/internal/middleware"
	"github.com/omnidesk/console-server/internal/pairing"
	"github.com/omnidesk/console-server/internal/pairingapi"
	"github.com/omnidesk/console-server/internal/redis"
	"github.com/omnidesk/console-server/internal/repository"
	"github.com/omnidesk/console-server/internal/service"
	"github.com/omnidesk/console-server/internal/sse"
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
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	tenantRepo := repository.NewTenantRepository(db.DB)
	connRepo := repository.NewConnectionRepository(db.DB)
	attemptRepo := repository.NewPairingAttemptRepository(db.DB)

	broker := sse.NewBroker(redisClient.Client)
	defer broker.Close()

	backend := pairingapi.NewClient(pairingapi.Config{
		BaseURL:           cfg.PairingAPIURL,
		APIKey:            cfg.PairingAPIKey,
		Timeout:           cfg.PairingAPITimeout(),
		RatePerSecond:     cfg.PairingAPIRatePerSecond,
		PollRatePerSecond: cfg.PairingPollRatePerSecond,
	})
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	pairingService := service.NewPairingService(
		connRepo, attemptRepo, broker, rateLimiter, cfg.PairingStartsPerMinute,
	)
	manager := pairing.NewManager(backend, pairing.ManagerConfig{
		Controller: pairing.Config{
			TickInterval:   config.PairingTickInterval,
			PollInterval:   cfg.PairingPollInterval(),
			RequestTimeout: cfg.PairingAPITimeout(),
		},
		DisplayDelay: cfg.PairingDisplayDelay(),
		IdleTimeout:  cfg.PairingIdleTimeout(),
	}, pairingService)
	pairingService.Bind(manager)

	connectionService := service.NewConnectionService(db, connRepo, attemptRepo, backend, manager)

	authMiddleware := middleware.NewAuthMiddleware(tenantRepo, config.TokenCacheSize, config.TokenCacheTTL)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(rateLimiter)
	ipRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, config.IPRateLimitPerMin, time.Minute, "v1")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())

	connectionHandler := handler.NewConnectionHandler(connectionService)
	pairingHandler := handler.NewPairingHandler(pairingService)
	eventsHandler := handler.NewEventsHandler(broker, pairingService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		pingCtx, pingCancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer pingCancel()
		if db.Ping(pingCtx) != nil || !redisClient.Healthy(r.Context(), config.DBPingTimeout) {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":          status,
			"timestamp":       time.Now().UnixMilli(),
			"pairingSessions": manager.Count(),
			"sseClients":      broker.TotalClients(),
		})
	})

	r.Route("/v1/connections", func(r chi.Router) {
		r.Use(ipRateLimitMiddleware.Handler)
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		// Event streams outlive the request timeout.
		r.Get("/{id}/pairing/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			connectionHandler.Register(r)
			pairingHandler.Register(r)
		})
	})

	cleanupJob := jobs.NewCleanupJob(
		manager, attemptRepo, cfg.PairingRetention(), config.CleanupJobInterval, nil,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// Closing sessions first records their outcome and ends open streams'
	// source of updates.
	manager.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	broker.Close()
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
