package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradeFeedHandler streams the caller's grading events over SSE.
type GradeFeedHandler struct {
	feed      service.GradeFeed
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewGradeFeedHandler constructs the handler. keepAlive defaults to 30s.
func NewGradeFeedHandler(feed service.GradeFeed, logger zerolog.Logger, keepAlive time.Duration) *GradeFeedHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &GradeFeedHandler{
		feed:      feed,
		logger:    logger.With().Str("component", "grade_feed_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the stream route.
func (h *GradeFeedHandler) Register(router fiber.Router) {
	router.Get("/stream", h.stream)
}

func (h *GradeFeedHandler) stream(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(requestContext(c))
	events, cleanup := h.feed.Subscribe(userID)
	logger := requestLogger(h.logger, c).With().Uint("user_id", userID).Logger()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(h.keepAlive / 2)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeGradeEvent(w, event); err != nil {
					logger.Debug().Err(err).Msg("failed to write grade event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func writeGradeEvent(w *bufio.Writer, event dto.GradeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
