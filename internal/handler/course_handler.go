package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/course"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// CourseImporter applies course files.
type CourseImporter interface {
	Import(ctx context.Context, data []byte) (course.Summary, error)
}

// CourseHandler imports course trees posted as TOML.
type CourseHandler struct {
	importer CourseImporter
	logger   zerolog.Logger
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(importer CourseImporter, logger zerolog.Logger) *CourseHandler {
	return &CourseHandler{
		importer: importer,
		logger:   logger.With().Str("component", "course_handler").Logger(),
	}
}

// Register binds the import route.
func (h *CourseHandler) Register(router fiber.Router) {
	router.Post("/import", h.importCourse)
}

func (h *CourseHandler) importCourse(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "course file is required")
	}

	summary, err := h.importer.Import(requestContext(c), body)
	if err != nil {
		switch {
		case errors.Is(err, course.ErrInvalidFile):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, course.ErrNodeMoved):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		}
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Str("course", summary.RootSlug).
		Int("activities", summary.Activities).
		Msg("course imported")

	return utils.SendSuccess(c, "course imported", summary)
}
