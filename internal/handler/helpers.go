package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/lock"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseQueryUintList(c *fiber.Ctx, key string) ([]uint, error) {
	var ids []uint
	for _, part := range splitAndTrim(c.Query(key)) {
		parsed, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s", key)
		}
		ids = append(ids, uint(parsed))
	}
	return ids, nil
}

func parseQueryFloat(c *fiber.Ctx, key string) (float64, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := c.Params(name)
	if value == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(parsed), nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return strings.ToLower(strings.TrimSpace(role))
		}
	}
	return ""
}

func viewerFromContext(c *fiber.Ctx) service.Viewer {
	return service.Viewer{UserID: userIDFromContext(c), Staff: middleware.IsStaff(userRoleFromContext(c))}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// sendServiceError maps service and grading errors to HTTP responses.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var (
		validationErrors validator.ValidationErrors
		invalidKey       *service.ValidationError
		invalidResponse  *grading.InvalidResponseError
	)

	switch {
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.As(err, &invalidKey):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, invalidKey.Error(), dto.ValidationErrorResponse{
			Message:    invalidKey.Message,
			CaseIndex:  invalidKey.CaseIndex,
			CaseSource: invalidKey.CaseSource,
			Diff:       invalidKey.Diff,
		})
	case errors.As(err, &invalidResponse):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, invalidResponse.Message, invalidResponse.Feedback())
	case errors.Is(err, service.ErrActivityNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrResponseNotFound),
		errors.Is(err, service.ErrNodeNotFound),
		errors.Is(err, service.ErrScoreNotFound),
		errors.Is(err, service.ErrNoGradedSubmission):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSubmissionForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "forbidden")
	case errors.Is(err, grading.ErrAlreadyGraded), errors.Is(err, repository.ErrInsufficientStars):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, grading.ErrUnknownKind),
		errors.Is(err, grading.ErrGradeOutOfRange),
		errors.Is(err, grading.ErrInvalidRegradeMethod):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, lock.ErrNotAcquired):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "submission is busy, try again")
	default:
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
