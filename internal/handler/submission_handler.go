package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// SubmissionHandler manages submission and grading endpoints.
type SubmissionHandler struct {
	service   service.SubmissionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, validator *validator.Validate, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the submission routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	staff := middleware.AuthOptions{Role: middleware.AuthRoleStaff}

	router.Get("/:id", h.get)
	router.Get("/:id/feedback", h.feedback)
	router.Post("/:id/regrade", middleware.WithAuth(h.regrade, staff))
	router.Post("/:id/grade", middleware.WithAuth(h.manualGrade, staff))
}

// RegisterActivityRoutes attaches the routes nested below an activity.
func (h *SubmissionHandler) RegisterActivityRoutes(router fiber.Router) {
	staff := middleware.AuthOptions{Role: middleware.AuthRoleStaff}

	router.Post("/:id/submissions", h.submit)
	router.Get("/:id/submissions/best", h.best)
	router.Get("/:id/statistics", middleware.WithAuth(h.statistics, staff))
	router.Post("/:id/regrade", middleware.WithAuth(h.regradeActivity, staff))
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Submit(requestContext(c), userID, activityID, payload)
	if err != nil {
		var invalid *grading.InvalidResponseError
		if errors.As(err, &invalid) {
			return utils.FailWithData(c, fiber.StatusUnprocessableEntity, invalid.Message, submission, invalid.Feedback())
		}
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("user_id", userID).
		Uint("activity_id", activityID).
		Uint("submission_id", submission.ID).
		Bool("recycled", submission.Recycled).
		Str("status", submission.Status).
		Msg("submission received")

	status := fiber.StatusCreated
	if submission.Recycled {
		status = fiber.StatusOK
	}
	return utils.SendSuccessWithStatus(c, status, "submission received", submission)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(requestContext(c), viewerFromContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) feedback(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	feedback, err := h.service.Feedback(requestContext(c), viewerFromContext(c), id)
	if err != nil {
		var invalid *grading.InvalidResponseError
		if errors.As(err, &invalid) {
			return utils.FailWithData(c, fiber.StatusUnprocessableEntity, invalid.Message, feedback, nil)
		}
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "feedback retrieved", feedback)
}

// best returns the caller's best submission. Staff may ask for another user
// with ?user_id.
func (h *SubmissionHandler) best(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	viewer := viewerFromContext(c)
	userID := viewer.UserID
	if raw := c.Query("user_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid user_id")
		}
		if uint(parsed) != viewer.UserID && !viewer.Staff {
			return utils.SendError(c, fiber.StatusForbidden, "forbidden")
		}
		userID = uint(parsed)
	}
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	submission, err := h.service.BestSubmission(requestContext(c), userID, activityID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "best submission retrieved", submission)
}

func (h *SubmissionHandler) statistics(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	query := dto.StatisticsQuery{Field: c.Query("field"), By: c.Query("by")}
	if query.UserIDs, err = parseQueryUintList(c, "user_ids"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stats, err := h.service.Statistics(requestContext(c), activityID, query)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, stats, "statistics retrieved", fiber.Map{
		"field": defaultString(query.Field, "final"),
		"by":    defaultString(query.By, "response"),
	})
}

func (h *SubmissionHandler) regrade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := h.parseRegrade(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Regrade(requestContext(c), userIDFromContext(c), id, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission regraded", result)
}

func (h *SubmissionHandler) regradeActivity(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := h.parseRegrade(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	changed, err := h.service.RegradeActivity(requestContext(c), userIDFromContext(c), activityID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("activity_id", activityID).
		Str("method", payload.Method).
		Int("changed", changed).
		Msg("activity regraded")

	return utils.SendSuccess(c, "activity regraded", fiber.Map{"changed": changed})
}

func (h *SubmissionHandler) manualGrade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ManualGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.ManualGrade(requestContext(c), userIDFromContext(c), id, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}

// parseRegrade reads the regrade method, defaulting to update.
func (h *SubmissionHandler) parseRegrade(c *fiber.Ctx) (dto.RegradeRequest, error) {
	var payload dto.RegradeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return payload, errors.New("invalid request body")
		}
	}
	if payload.Method == "" {
		payload.Method = c.Query("method", grading.RegradeUpdate)
	}
	if err := h.validator.Struct(payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
