package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// ActivityHandler exposes activity definitions and their answer keys.
type ActivityHandler struct {
	activities service.ActivityService
	answerKeys service.AnswerKeyService
	audit      service.AuditRecorder
	validator  *validator.Validate
	logger     zerolog.Logger
}

// NewActivityHandler constructs the handler. audit may be nil.
func NewActivityHandler(activities service.ActivityService, answerKeys service.AnswerKeyService, audit service.AuditRecorder, validator *validator.Validate, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		activities: activities,
		answerKeys: answerKeys,
		audit:      audit,
		validator:  validator,
		logger:     logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register binds the activity routes.
func (h *ActivityHandler) Register(router fiber.Router) {
	staff := middleware.AuthOptions{Role: middleware.AuthRoleStaff}

	router.Get("/kinds", h.kinds)
	router.Post("", middleware.WithAuth(h.define, staff))
	router.Get("/:id", h.get)
	router.Get("/:id/answer-keys", middleware.WithAuth(h.listAnswerKeys, staff))
	router.Put("/:id/answer-keys", middleware.WithAuth(h.saveAnswerKey, staff))
	router.Post("/:id/answer-keys/validate", middleware.WithAuth(h.validateAnswerKeys, staff))
}

func (h *ActivityHandler) kinds(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "activity kinds", h.activities.Kinds())
}

func (h *ActivityHandler) define(c *fiber.Ctx) error {
	var payload dto.ActivityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	activity, err := h.activities.Define(requestContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("activity_id", activity.ID).
		Uint("node_id", activity.NodeID).
		Str("kind", activity.Kind).
		Int("points", activity.Points).
		Msg("activity defined")

	return utils.SendSuccess(c, "activity defined", activity)
}

func (h *ActivityHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	activity, err := h.activities.Get(requestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	// reference material stays with staff
	if !viewerFromContext(c).Staff {
		activity.IOSpec = ""
	}

	return utils.SendSuccess(c, "activity retrieved", activity)
}

func (h *ActivityHandler) listAnswerKeys(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	keys, err := h.answerKeys.List(requestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "answer keys retrieved", keys)
}

func (h *ActivityHandler) saveAnswerKey(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AnswerKeyRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := requestContext(c)
	key, err := h.answerKeys.Save(ctx, id, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	if h.audit != nil {
		if _, err := h.audit.Record(ctx, service.AuditEntry{
			ActorID:    userIDFromContext(c),
			Action:     "answer_key.saved",
			EntityType: service.AuditEntityAnswerKey,
			EntityID:   key.ID,
			Metadata: map[string]interface{}{
				"activity_id": id,
				"language":    key.Language,
				"iospec_size": key.IOSpecSize,
				"forced":      payload.Force,
			},
		}); err != nil {
			requestLogger(h.logger, c).Warn().Err(err).Uint("answer_key_id", key.ID).Msg("failed to record audit entry")
		}
	}

	return utils.SendSuccess(c, "answer key saved", key)
}

func (h *ActivityHandler) validateAnswerKeys(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	keys, err := h.answerKeys.ValidateActivity(requestContext(c), id, c.QueryBool("force", false))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "answer keys validated", keys)
}
