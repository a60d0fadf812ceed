package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// ScoreHandler serves node totals and per-user scores.
type ScoreHandler struct {
	service   service.ScoreService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewScoreHandler constructs a score handler.
func NewScoreHandler(service service.ScoreService, validator *validator.Validate, logger zerolog.Logger) *ScoreHandler {
	return &ScoreHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "score_handler").Logger(),
	}
}

// Register binds the score routes.
func (h *ScoreHandler) Register(router fiber.Router) {
	router.Get("/me", h.mine)
	router.Get("/nodes/:id", h.user)
	router.Get("/nodes/:id/total", h.total)
	router.Post("/nodes/:id/recompute", middleware.WithAuth(h.recompute, middleware.AuthOptions{Role: middleware.AuthRoleStaff}))
	router.Post("/nodes/:id/stars/spend", h.spendStars)
}

func (h *ScoreHandler) mine(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	scores, err := h.service.ListUser(requestContext(c), userID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, scores, "scores retrieved", fiber.Map{"count": len(scores)})
}

func (h *ScoreHandler) user(c *fiber.Ctx) error {
	nodeID, err := parseUintParam(c, "id")
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

	score, err := h.service.User(requestContext(c), userID, nodeID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "score retrieved", score)
}

func (h *ScoreHandler) total(c *fiber.Ctx) error {
	nodeID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	score, err := h.service.Total(requestContext(c), nodeID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "total retrieved", score)
}

func (h *ScoreHandler) recompute(c *fiber.Ctx) error {
	nodeID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RecomputeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	score, err := h.service.Recompute(requestContext(c), userIDFromContext(c), nodeID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().Uint("node_id", nodeID).Int("points", score.Points).Msg("subtree recomputed")
	return utils.SendSuccess(c, "scores recomputed", score)
}

func (h *ScoreHandler) spendStars(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	nodeID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SpendStarsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	score, err := h.service.SpendStars(requestContext(c), userID, nodeID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "stars spent", score)
}
