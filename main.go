package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chart-trade-analyzer/config"
	"chart-trade-analyzer/internal/ai/llm"
	"chart-trade-analyzer/internal/analysis"
	"chart-trade-analyzer/internal/api"
	"chart-trade-analyzer/internal/auth"
	"chart-trade-analyzer/internal/cache"
	"chart-trade-analyzer/internal/circuit"
	"chart-trade-analyzer/internal/database"
	"chart-trade-analyzer/internal/events"
	"chart-trade-analyzer/internal/lifecycle"
	"chart-trade-analyzer/internal/logging"
	"chart-trade-analyzer/internal/metrics"
	"chart-trade-analyzer/internal/patterns"
	"chart-trade-analyzer/internal/risk"
	"chart-trade-analyzer/internal/scheduler"
	"chart-trade-analyzer/internal/specialization"
	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/storage/memory"
	"chart-trade-analyzer/internal/uploads"
	"chart-trade-analyzer/internal/vault"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	cfg.LoggingConfig.Component = "main"
	logger := logging.New(&cfg.LoggingConfig)
	logging.SetDefault(logger)
	logger.Info().Str("storage", cfg.Storage).Msg("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthChecks := map[string]api.HealthCheck{}

	// Initialize storage
	var (
		tradeStore   storage.TradeStore
		patternStore storage.PatternStore
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		tradeStore, patternStore = db, db
		healthChecks["database"] = db.Ping
	default:
		logger.Warn().Msg("Using in-memory storage, trades are lost on restart")
		tradeStore, patternStore = memory.NewTradeStore(), memory.NewPatternStore()
	}

	// Initialize event bus
	eventBus := events.NewEventBus()

	var forwarder *events.KafkaForwarder
	if len(cfg.KafkaConfig.Brokers) > 0 {
		writer, err := events.NewKafkaWriter(cfg.KafkaConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure Kafka writer")
		}
		forwarder = events.NewKafkaForwarder(writer, cfg.KafkaConfig, logger)
		forwarder.Attach(eventBus)
		logger.Info().Strs("brokers", cfg.KafkaConfig.Brokers).Str("topic", cfg.KafkaConfig.Topic).Msg("Kafka event forwarding enabled")
	}

	var recorder *metrics.Recorder
	if cfg.MetricsConfig.Enabled {
		recorder = metrics.New()
	}

	// Redis backs the provider rate limit and navigation state
	var (
		limiter    *cache.RateLimiter
		navigation api.NavigationStore
	)
	if cfg.RedisConfig.Enabled {
		cacheService, err := cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			// run without Redis rather than refuse to start
			logger.Error().Err(err).Msg("Failed to initialize Redis cache")
		} else {
			defer cacheService.Close()
			limiter = cache.NewRateLimiter(cacheService, cfg.RateLimitConfig)
			navigation = cache.NewNavigationStore(cacheService, cfg.SessionConfig.NavigationTTL)
			healthChecks["redis"] = cacheService.Ping
		}
	}

	// Provider keys come from Vault when it is enabled, otherwise from config
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Vault client")
	}
	if vaultClient.IsEnabled() {
		healthChecks["vault"] = vaultClient.Health
	}
	llmClient := llm.NewClient(&cfg.LLMConfig, vaultClient)

	breaker := circuit.NewCircuitBreaker(&cfg.CircuitBreakerConfig)
	breaker.OnTrip(func(reason string) {
		logger.Warn().Str("reason", reason).Msg("Provider circuit breaker tripped")
		eventBus.PublishError("circuit_breaker", reason, nil)
	})
	breaker.OnReset(func() {
		logger.Info().Msg("Provider circuit breaker reset")
	})

	advisor := specialization.NewAdvisor(&cfg.SpecializationConfig, logger)

	orchestratorOpts := []analysis.Option{
		analysis.WithSpecializer(advisor),
		analysis.WithBreaker(breaker),
	}
	if limiter != nil {
		orchestratorOpts = append(orchestratorOpts, analysis.WithLimiter(limiter))
	}
	if recorder != nil {
		orchestratorOpts = append(orchestratorOpts, analysis.WithRecorder(recorder))
	}
	orchestrator := analysis.NewOrchestrator(llmClient, &cfg.AnalysisConfig, logger, orchestratorOpts...)

	validator, err := risk.NewValidator(cfg.RiskConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid risk rules")
	}

	tracker := patterns.NewTracker(patternStore, cfg.PatternsConfig, logger)
	if err := tracker.Seed(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed setup patterns")
	}

	uploadStore, err := uploads.NewLocalStore(cfg.UploadsConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize upload storage")
	}

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithFileRemover(uploadStore),
		lifecycle.WithEventBus(eventBus),
	}
	if recorder != nil {
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithRecorder(recorder))
	}
	manager := lifecycle.NewManager(tradeStore, tracker, cfg.LifecycleConfig, logger, lifecycleOpts...)

	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtManager, err = auth.NewJWTManager(cfg.AuthConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
	} else {
		logger.Warn().Msg("Authentication disabled, all requests use the local user")
	}

	// Scheduled jobs
	var sweepObserver scheduler.SweepObserver
	if recorder != nil {
		sweepObserver = recorder
	}
	sched := scheduler.NewScheduler(ctx, cfg.SchedulerConfig, uploadStore, tracker, eventBus, sweepObserver, logger)
	if err := sched.RegisterAll(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()

	server := api.NewServer(cfg.ServerConfig, api.Dependencies{
		Orchestrator: orchestrator,
		Validator:    validator,
		Lifecycle:    manager,
		Patterns:     tracker,
		Uploads:      uploadStore,
		Navigation:   navigation,
		EventBus:     eventBus,
		Metrics:      recorder,
		JWT:          jwtManager,
		HealthChecks: healthChecks,
	}, logger)

	// Start web server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info().
		Str("host", cfg.ServerConfig.Host).
		Int("port", cfg.ServerConfig.Port).
		Str("provider", string(llmClient.GetProvider())).
		Bool("provider_configured", llmClient.IsConfigured() || vaultClient.IsEnabled()).
		Msg("Chart trade analyzer started")

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Web server stopped")
	}

	logger.Info().Msg("Shutting down...")
	shutdown(server, sched, forwarder, logger)
	logger.Info().Msg("Shutdown complete")
}

func shutdown(server *api.Server, sched *scheduler.Scheduler, forwarder *events.KafkaForwarder, logger zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop web server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down web server")
	}

	sched.Stop()

	if forwarder != nil {
		if err := forwarder.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing Kafka writer")
		}
	}
}
