package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/course"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/lock"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/runner"
	"github.com/noah-isme/gema-grader/internal/service"
	dockerexec "github.com/noah-isme/gema-grader/pkg/docker"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logger.With().Str("service", cfg.AppName).Str("env", cfg.AppEnv).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	// NATS is optional: grade events still reach Redis and local streams.
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	executor, err := dockerexec.NewDockerExecutor(dockerexec.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create docker executor")
	}
	defer executor.Close()

	codeRunner := runner.NewDockerRunner(executor, runner.Config{
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})

	validate := validator.New(validator.WithRequiredStructEnabled())
	store := repository.NewStore(db)

	answerKeys := service.NewAnswerKeyService(store.Activities, store.AnswerKeys, codeRunner, redisClient, validate, service.AnswerKeyConfig{
		Timeout:     cfg.ExecutionTimeout,
		DefaultSize: cfg.IOSpecDefaultSize,
		CacheTTL:    cfg.SpecCacheTTL,
		CachePrefix: "grader:spec:",
	}, logger)

	registry := grading.NewRegistry()
	registry.Register(grading.KindCodingIO, grading.NewCodeIOGrader(answerKeys, codeRunner, cfg.ExecutionTimeout), grading.CodingIOSchema)
	registry.Register(grading.KindFreeText, grading.FreeTextGrader(), grading.FreeTextSchema)

	bus := grading.NewEventBus(logger)
	machine := grading.NewMachine(registry, store.Submissions, bus, logger)
	locker := lock.NewRedisLocker(redisClient, "grader:lock:", cfg.LockTTL)

	auditService := service.NewAuditService(store.Audit, logger)
	submissionService := service.NewSubmissionService(store, machine, registry, locker, auditService, validate, logger)
	activityService := service.NewActivityService(store, registry, answerKeys, validate, logger)
	scoreService := service.NewScoreService(store, auditService, validate, logger)
	plagiarismService := service.NewPlagiarismService(store.Submissions, logger)
	gradeFeed := service.NewGradeFeed(store.Responses, redisClient, natsConn, cfg.EventsSubject, logger)

	// scores first, so streamed events never run ahead of the totals
	bus.Subscribe(submissionService.HandleEvent)
	bus.Subscribe(gradeFeed.HandleEvent)

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	gradeFeed.Start(feedCtx)

	importer := course.NewImporter(store.Nodes, activityService, answerKeys, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.AllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		ActivityHandler:   handler.NewActivityHandler(activityService, answerKeys, auditService, validate, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, validate, logger),
		ScoreHandler:      handler.NewScoreHandler(scoreService, validate, logger),
		PlagiarismHandler: handler.NewPlagiarismHandler(plagiarismService, logger),
		AuditHandler:      handler.NewAuditHandler(auditService, logger),
		GradeFeedHandler:  handler.NewGradeFeedHandler(gradeFeed, logger, 30*time.Second),
		CourseHandler:     handler.NewCourseHandler(importer, logger),
		HealthChecks:      healthChecks(db, redisClient, natsConn),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		SubmitRateLimit:   cfg.SubmitRateLimit,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
