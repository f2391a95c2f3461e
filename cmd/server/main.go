package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	docs "challenge_server/docs"
	"challenge_server/internal/config"
	"challenge_server/internal/infra/db"
	"challenge_server/internal/infra/gateway"
	applogger "challenge_server/internal/infra/logger"
	"challenge_server/internal/infra/notifier"
	"challenge_server/internal/infra/repository"
	httptransport "challenge_server/internal/transport/http"
	"challenge_server/internal/usecase"
)

// @title Challenge Evaluation Engine API
// @version 1.0
// @description Monitoring, lifecycle, and gateway intake API for the trading challenge evaluation engine.
// @BasePath /api/v1

func main() {
	rootCtx := context.Background()

	applogger.Init("info") // Initialize with default level first
	logger := applogger.Logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	applogger.Init(cfg.Logging.Level)
	logger = applogger.Logger
	logger.Info().Str("level", cfg.Logging.Level).Msg("logger initialized")

	docs.SwaggerInfo.Title = "Challenge Evaluation Engine API"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.BasePath = "/api/v1"

	logger.Info().Str("dsn", maskDSN(cfg.Database.DSN)).Msg("connecting to database")
	gormDB, err := db.Connect(rootCtx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("underlying sql db")
	}
	defer sqlDB.Close()
	logger.Info().Msg("database connected successfully")

	if err := db.ApplyMigrations(rootCtx, gormDB); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	logger.Info().Msg("migrations applied successfully")

	logger.Info().Str("url", cfg.Gateway.BaseURL).Msg("initializing platform gateway client")
	platform, err := gateway.NewPlatformClient(cfg.Gateway.BaseURL, gateway.Options{
		APIKey:       cfg.Gateway.APIKey,
		Timeout:      cfg.Gateway.Timeout,
		RateLimitRPS: cfg.Gateway.RateLimitRPS,
		RateBurst:    cfg.Gateway.RateBurst,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init gateway client")
	}

	programRepo, err := repository.NewGormProgramRepository(gormDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("init program repository")
	}
	challengeRepo, err := repository.NewGormChallengeRepository(gormDB, programRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("init challenge repository")
	}
	eventRepo, err := repository.NewGormEventRepository(gormDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("init event repository")
	}
	violationRepo, err := repository.NewGormViolationRepository(gormDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("init violation repository")
	}
	alertRepo, err := repository.NewGormAlertRepository(gormDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("init alert repository")
	}
	tokenRepo, err := repository.NewGormAPITokenRepository(gormDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("init token repository")
	}

	alertNotifier := notifier.NewWebhookNotifier(notifier.Channels{
		EmailWebhook: cfg.Alerts.EmailWebhook,
		ChatWebhook:  cfg.Alerts.ChatWebhook,
		SMSWebhook:   cfg.Alerts.SMSWebhook,
	})

	enforcer, err := usecase.NewEnforcer(challengeRepo, eventRepo, violationRepo, alertRepo, platform, alertNotifier, cfg.Monitor.DisableMaxRetries)
	if err != nil {
		logger.Fatal().Err(err).Msg("init enforcer")
	}

	monitorService, err := usecase.NewMonitorService(challengeRepo, eventRepo, alertRepo, platform, alertNotifier, enforcer, usecase.MonitorOptions{
		WarnDedupWindow: cfg.Monitor.WarnDedupWindow,
		StrictRuleOrder: cfg.Monitor.StrictRuleOrder,
		WorkerCount:     cfg.Monitor.WorkerCount,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init monitor service")
	}

	queryService, err := usecase.NewQueryService(challengeRepo, eventRepo, violationRepo, alertRepo, cfg.Monitor.SyncInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("init query service")
	}

	lifecycleService, err := usecase.NewLifecycleService(challengeRepo, programRepo, violationRepo, eventRepo, platform)
	if err != nil {
		logger.Fatal().Err(err).Msg("init lifecycle service")
	}

	tokenService, err := usecase.NewAPITokenService(tokenRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("init token service")
	}

	logger.Info().Msg("all services initialized")

	router := httptransport.New(queryService, lifecycleService, monitorService, tokenService, cfg.Server.AdminAPIKey)

	logger.Info().Dur("interval", cfg.Monitor.SyncInterval).Msg("initializing scheduler")
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal().Err(err).Msg("init scheduler")
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("scheduler shutdown error")
		}
	}()

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Monitor.SyncInterval),
		gocron.NewTask(func(ctx context.Context) {
			queued, err := monitorService.Sweep(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("sweep error")
				return
			}
			logger.Debug().Int("queued", queued).Msg("sync sweep completed")
		}),
		// Overlapping ticks are dropped, not queued.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule sync job")
	}
	scheduler.Start()
	logger.Info().Msg("scheduler started")

	go func() {
		if _, err := monitorService.Sweep(context.Background()); err != nil {
			logger.Error().Err(err).Msg("initial sweep error")
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		serverErr <- router.App().Listen(addr)
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("fiber server error")
		}
	case sig := <-signalCh:
		logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := router.App().ShutdownWithContext(ctx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		// Drain in-flight processing, including enforcement retries.
		monitorService.Shutdown()
		logger.Info().Msg("server shutdown complete")
	}
}

func maskDSN(dsn string) string {
	// Simple masking to hide password in logs
	if len(dsn) > 20 {
		return dsn[:10] + "***" + dsn[len(dsn)-10:]
	}
	return "***"
}
