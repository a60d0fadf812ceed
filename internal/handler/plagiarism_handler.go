package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

const defaultSimilarityThreshold = 0.8

// PlagiarismHandler lists groups of look-alike best submissions.
type PlagiarismHandler struct {
	service service.PlagiarismService
	logger  zerolog.Logger
}

// NewPlagiarismHandler constructs the handler.
func NewPlagiarismHandler(service service.PlagiarismService, logger zerolog.Logger) *PlagiarismHandler {
	return &PlagiarismHandler{
		service: service,
		logger:  logger.With().Str("component", "plagiarism_handler").Logger(),
	}
}

// Register binds the plagiarism routes below an activity.
func (h *PlagiarismHandler) Register(router fiber.Router) {
	staff := middleware.AuthOptions{Role: middleware.AuthRoleStaff}

	router.Get("/:id/plagiarism", middleware.WithAuth(h.groups, staff))
	router.Get("/:id/plagiarism/pairs", middleware.WithAuth(h.pairs, staff))
}

func (h *PlagiarismHandler) groups(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	userIDs, err := parseQueryUintList(c, "user_ids")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	groups, err := h.service.Groups(requestContext(c), activityID, userIDs)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, groups, "plagiarism groups", fiber.Map{"count": len(groups)})
}

func (h *PlagiarismHandler) pairs(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	userIDs, err := parseQueryUintList(c, "user_ids")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	threshold, err := parseQueryFloat(c, "threshold")
	if err != nil || threshold < 0 || threshold > 1 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid threshold")
	}
	if threshold == 0 {
		threshold = defaultSimilarityThreshold
	}

	pairs, err := h.service.Pairs(requestContext(c), activityID, threshold, userIDs)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, pairs, "plagiarism pairs", fiber.Map{"threshold": threshold, "count": len(pairs)})
}
