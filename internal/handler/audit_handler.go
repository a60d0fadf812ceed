package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// AuditHandler lists recorded grading decisions.
type AuditHandler struct {
	service service.AuditService
	logger  zerolog.Logger
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service service.AuditService, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger.With().Str("component", "audit_handler").Logger(),
	}
}

// Register binds the audit routes.
func (h *AuditHandler) Register(router fiber.Router) {
	router.Get("/:entity/:id", h.list)
}

func (h *AuditHandler) list(c *fiber.Ctx) error {
	entity := c.Params("entity")
	switch entity {
	case service.AuditEntitySubmission, service.AuditEntityNode, service.AuditEntityAnswerKey:
	default:
		return utils.SendError(c, fiber.StatusBadRequest, "unknown entity type")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	entries, err := h.service.List(requestContext(c), entity, id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, entries, "audit entries", fiber.Map{"count": len(entries)})
}
