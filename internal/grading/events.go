package grading

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Event types.
const (
	EventAutograde   = "autograde"
	EventManualGrade = "manual_grade"
)

// Event announces a new grade for a submission.
type Event struct {
	Type       string
	Activity   *models.Activity
	Submission *models.Submission
	Grade      float64
}

// Handler consumes grading events.
type Handler func(ctx context.Context, event Event) error

// EventBus dispatches events synchronously to handlers in the order they
// subscribed.
type EventBus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   zerolog.Logger
}

// NewEventBus constructs an event bus.
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{logger: logger.With().Str("component", "grading_events").Logger()}
}

// Subscribe appends a handler.
func (b *EventBus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish runs every handler, even when an earlier one fails, and returns
// the joined errors.
func (b *EventBus) Publish(ctx context.Context, event Event) error {
	if b == nil {
		return nil
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().Err(err).
				Str("event", event.Type).
				Uint("submission_id", event.Submission.ID).
				Msg("grading event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
