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

	"github.com/openclaw/wa-relay-go/internal/broker"
	"github.com/openclaw/wa-relay-go/internal/config"
	"github.com/openclaw/wa-relay-go/internal/credential"
	"github.com/openclaw/wa-relay-go/internal/database"
	"github.com/openclaw/wa-relay-go/internal/gateway"
	"github.com/openclaw/wa-relay-go/internal/handler"
	"github.com/openclaw/wa-relay-go/internal/jobs"
	"github.com/openclaw/wa-relay-go/internal/middleware"
	"github.com/openclaw/wa-relay-go/internal/redis"
	"github.com/openclaw/wa-relay-go/internal/repository"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
	"github.com/openclaw/wa-relay-go/internal/whatsapp"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

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
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	credDB := db
	if cfg.CredentialBackend == config.CredentialBackendSQLite {
		credDB, err = database.OpenSQLite(cfg.CredentialSQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CredentialSQLitePath).Msg("failed to open credential database")
		}
		defer credDB.Close()
	}
	if err := credDB.MigrateCredentials(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate credential store")
	}
	log.Info().Str("backend", cfg.CredentialBackend).Msg("credential store ready")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	sessionRepo := repository.NewSessionRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	credStore := credential.NewSQLStore(credDB.DB)

	eventBroker := broker.NewBroker(redisClient)
	defer eventBroker.Close()

	factory, err := whatsapp.NewFactory(context.Background(), credDB.DB.DB, credDB.Dialect(), cfg.DeviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare device store")
	}

	sup := supervisor.New(factory, credStore, sessionRepo, messageRepo, eventBroker, supervisor.Options{
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
		BroadcastDelay:       cfg.BroadcastDelay,
		CountryCode:          cfg.DefaultCountryCode,
		OperationTimeout:     config.OperationTimeout,
	})
	gw := gateway.New(sup, eventBroker, cfg.DefaultSessionID, cfg.MaxUploadBytes())

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient)
	}

	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(cfg.APIKey, middleware.NewAuthFailureLimiter())
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin, "api")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0, "/send-media")
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())

	apiHandler := handler.NewAPIHandler(gw, cfg.MaxUploadBytes())
	eventsHandler := handler.NewEventsHandler(eventBroker, gw)
	wsHandler := handler.NewWSHandler(eventBroker, gw, cfg.AllowedOrigins)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":        status,
			"live_sessions": sup.LiveCount(),
			"observers":     eventBroker.TotalClients(),
			"timestamp":     time.Now().UnixMilli(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(apiKeyMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		// Long-lived streams stay outside the request timeout.
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(bodyLimitMiddleware.Handler)
			r.Mount("/", apiHandler.Routes())
		})
	})

	var retentionJob *jobs.RetentionJob
	if retention := cfg.MessageRetention(); retention > 0 {
		retentionJob = jobs.NewRetentionJob(messageRepo, retention, config.RetentionJobInterval)
		retentionJob.Start()
	}

	if cfg.RestoreSessions {
		go func() {
			if err := sup.RestoreAll(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to restore sessions")
			}
		}()
	}

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	// Streams only end when the broker closes them.
	eventBroker.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if retentionJob != nil {
		retentionJob.Stop()
	}
	sup.Shutdown()
	gw.Wait()

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
