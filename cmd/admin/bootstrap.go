package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/course"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/runner"
	"github.com/noah-isme/gema-grader/internal/service"
	dockerexec "github.com/noah-isme/gema-grader/pkg/docker"
)

// adminApp holds the services the maintenance commands drive. Redis is
// optional here; without it the specification cache is skipped.
type adminApp struct {
	importer   *course.Importer
	answerKeys service.AnswerKeyService
	scores     service.ScoreService
	logger     zerolog.Logger
	closers    []func() error
}

func bootstrap() (*adminApp, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "admin").Logger()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	app := &adminApp{logger: logger}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, specification cache disabled")
			redisClient = nil
		} else {
			app.closers = append(app.closers, redisClient.Close)
		}
	}

	executor, err := dockerexec.NewDockerExecutor(dockerexec.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("create docker executor: %w", err)
	}
	app.closers = append(app.closers, executor.Close)

	codeRunner := runner.NewDockerRunner(executor, runner.Config{
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})

	validate := validator.New(validator.WithRequiredStructEnabled())
	store := repository.NewStore(db)

	app.answerKeys = service.NewAnswerKeyService(store.Activities, store.AnswerKeys, codeRunner, redisClient, validate, service.AnswerKeyConfig{
		Timeout:     cfg.ExecutionTimeout,
		DefaultSize: cfg.IOSpecDefaultSize,
		CacheTTL:    cfg.SpecCacheTTL,
	}, logger)

	registry := grading.NewRegistry()
	registry.Register(grading.KindCodingIO, grading.NewCodeIOGrader(app.answerKeys, codeRunner, cfg.ExecutionTimeout), grading.CodingIOSchema)
	registry.Register(grading.KindFreeText, grading.FreeTextGrader(), grading.FreeTextSchema)

	audit := service.NewAuditService(store.Audit, logger)
	activities := service.NewActivityService(store, registry, app.answerKeys, validate, logger)
	app.importer = course.NewImporter(store.Nodes, activities, app.answerKeys, logger)
	app.scores = service.NewScoreService(store, audit, validate, logger)
	return app, nil
}

func (a *adminApp) recompute(ctx context.Context, nodeID, userID uint) error {
	var payload dto.RecomputeRequest
	if userID != 0 {
		payload.UserID = &userID
	}
	score, err := a.scores.Recompute(ctx, 0, nodeID, payload)
	if err != nil {
		return err
	}
	a.logger.Info().Uint("node_id", nodeID).Int("points", score.Points).Float64("stars", score.Stars).Msg("scores recomputed")
	return printJSON(score)
}

func (a *adminApp) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
}
