// Package grading implements the submission lifecycle: automatic and manual
// grading, regrade strategies and recycling of identical attempts.
package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/hashing"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Regrade methods.
const (
	RegradeUpdate        = "update"
	RegradeBest          = "best"
	RegradeBestFeedback  = "best-feedback"
	RegradeWorst         = "worst"
	RegradeWorstFeedback = "worst-feedback"
)

// ErrGradeOutOfRange is returned for manual grades outside [0, 100].
var ErrGradeOutOfRange = errors.New("grade must be between 0 and 100")

// Store persists submissions on behalf of the machine.
type Store interface {
	SaveSubmission(ctx context.Context, submission *models.Submission) error
	FindByResponseHash(ctx context.Context, responseID uint, hash string) ([]models.Submission, error)
}

// AutogradeOptions tune Autograde.
type AutogradeOptions struct {
	Commit bool
	Force  bool
	Silent bool
}

// ManualGradeOptions tune ManualGrade.
type ManualGradeOptions struct {
	Commit bool
	Raises bool
	Silent bool
}

// Machine drives submissions through their grading states.
type Machine struct {
	registry *Registry
	store    Store
	events   *EventBus
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewMachine constructs a grading state machine.
func NewMachine(registry *Registry, store Store, events *EventBus, logger zerolog.Logger) *Machine {
	return &Machine{
		registry: registry,
		store:    store,
		events:   events,
		tracer:   otel.Tracer("github.com/noah-isme/gema-grader/internal/grading"),
		logger:   logger.With().Str("component", "grading_machine").Logger(),
	}
}

// Autograde grades a pending submission, or any submission when Force is
// set. Invalid submissions re-raise their stored error unless forced.
func (m *Machine) Autograde(ctx context.Context, activity *models.Activity, submission *models.Submission, opts AutogradeOptions) error {
	if submission.Status == models.SubmissionStatusInvalid && !opts.Force {
		return InvalidResponseFromFeedback(submission.Feedback)
	}
	if submission.Status != models.SubmissionStatusPending && !opts.Force {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "grading.autograde", trace.WithAttributes(
		attribute.String("activity.kind", activity.Kind),
		attribute.Int64("submission.id", int64(submission.ID)),
	))
	defer span.End()

	kind, err := m.registry.Lookup(activity.Kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var result Result
	err = kind.ValidatePayload(submission.Payload)
	if err == nil {
		result, err = kind.Grader.Grade(ctx, activity, submission)
	}

	var invalid *InvalidResponseError
	if errors.As(err, &invalid) {
		zero := 0.0
		submission.Status = models.SubmissionStatusInvalid
		submission.GivenGrade = &zero
		submission.FinalGrade = floatPtr(0)
		submission.Feedback = datatypes.JSONMap(invalid.Feedback())
		observability.Autogrades().WithLabelValues(activity.Kind, submission.Status).Inc()
		m.logger.Warn().
			Uint("submission_id", submission.ID).
			Str("reason", invalid.Message).
			Msg("submission could not be evaluated")
		if opts.Commit {
			if saveErr := m.store.SaveSubmission(ctx, submission); saveErr != nil {
				return errors.Join(err, fmt.Errorf("save invalid submission: %w", saveErr))
			}
		}
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("grade submission %d: %w", submission.ID, err)
	}

	if result.Feedback != nil {
		submission.Feedback = datatypes.JSONMap(result.Feedback)
	}
	if result.Grade == nil {
		submission.Status = models.SubmissionStatusWaiting
	} else {
		grade := clampGrade(*result.Grade)
		submission.GivenGrade = &grade
		if submission.FinalGrade == nil {
			submission.FinalGrade = floatPtr(grade)
		}
		submission.Status = models.SubmissionStatusDone
	}
	observability.Autogrades().WithLabelValues(activity.Kind, submission.Status).Inc()
	span.SetAttributes(attribute.String("submission.status", submission.Status))

	if opts.Commit {
		if err := m.store.SaveSubmission(ctx, submission); err != nil {
			return fmt.Errorf("save submission: %w", err)
		}
	}

	if submission.Status == models.SubmissionStatusDone && !opts.Silent {
		return m.emit(ctx, EventAutograde, activity, submission)
	}
	return nil
}

type snapshot struct {
	status     string
	givenGrade *float64
	finalGrade *float64
	feedback   datatypes.JSONMap
}

func takeSnapshot(s *models.Submission) snapshot {
	return snapshot{
		status:     s.Status,
		givenGrade: copyFloat(s.GivenGrade),
		finalGrade: copyFloat(s.FinalGrade),
		feedback:   copyFeedback(s.Feedback),
	}
}

func (snap snapshot) restore(s *models.Submission) {
	s.Status = snap.status
	s.GivenGrade = copyFloat(snap.givenGrade)
	s.FinalGrade = copyFloat(snap.finalGrade)
	s.Feedback = copyFeedback(snap.feedback)
}

func (snap snapshot) matches(s *models.Submission) bool {
	return snap.status == s.Status &&
		floatEqual(snap.givenGrade, s.GivenGrade) &&
		floatEqual(snap.finalGrade, s.FinalGrade) &&
		hashing.Equal(snap.feedback, s.Feedback)
}

// Regrade recomputes the grade of a submission and reconciles it with the
// previous state according to method. Submissions that are not done are
// simply autograded. It reports whether the submission changed.
//
// The best and worst strategies keep the new feedback even when the grade
// itself is rolled back.
func (m *Machine) Regrade(ctx context.Context, activity *models.Activity, submission *models.Submission, method string, commit bool) (bool, error) {
	switch method {
	case RegradeUpdate, RegradeBest, RegradeBestFeedback, RegradeWorst, RegradeWorstFeedback:
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidRegradeMethod, method)
	}

	if submission.Status != models.SubmissionStatusDone {
		before := submission.Status
		err := m.Autograde(ctx, activity, submission, AutogradeOptions{Commit: commit})
		return before != submission.Status, err
	}

	ctx, span := m.tracer.Start(ctx, "grading.regrade", trace.WithAttributes(
		attribute.String("regrade.method", method),
		attribute.Int64("submission.id", int64(submission.ID)),
	))
	defer span.End()

	state := takeSnapshot(submission)
	if !submission.ManualOverride {
		submission.FinalGrade = nil
	}
	if err := m.Autograde(ctx, activity, submission, AutogradeOptions{Force: true, Silent: true}); err != nil {
		state.restore(submission)
		span.RecordError(err)
		return false, err
	}

	newGrade := gradeOf(submission.GivenGrade)
	oldGrade := gradeOf(state.givenGrade)

	var changed bool
	switch method {
	case RegradeUpdate:
		changed = !state.matches(submission)
	case RegradeBest, RegradeBestFeedback:
		if newGrade <= oldGrade {
			changed = m.keepFeedbackOnly(state, submission)
		} else {
			changed = !state.matches(submission)
		}
	case RegradeWorst, RegradeWorstFeedback:
		if newGrade >= oldGrade {
			changed = m.keepFeedbackOnly(state, submission)
		} else {
			changed = !state.matches(submission)
		}
	}

	observability.Regrades().WithLabelValues(method, strconv.FormatBool(changed)).Inc()
	if !changed {
		return false, nil
	}

	if commit {
		if err := m.store.SaveSubmission(ctx, submission); err != nil {
			return true, fmt.Errorf("save regraded submission: %w", err)
		}
	}
	if submission.Status == models.SubmissionStatusDone && !floatEqual(state.finalGrade, submission.FinalGrade) {
		return true, m.emit(ctx, EventAutograde, activity, submission)
	}
	return true, nil
}

func (m *Machine) keepFeedbackOnly(state snapshot, submission *models.Submission) bool {
	feedback := submission.Feedback
	state.restore(submission)
	if hashing.Equal(feedback, submission.Feedback) {
		return false
	}
	submission.Feedback = feedback
	return true
}

// ManualGrade records an instructor assigned grade.
func (m *Machine) ManualGrade(ctx context.Context, activity *models.Activity, submission *models.Submission, grade float64, opts ManualGradeOptions) error {
	graded := submission.Status != models.SubmissionStatusPending && submission.Status != models.SubmissionStatusWaiting
	if graded && opts.Raises {
		return ErrAlreadyGraded
	}
	if math.IsNaN(grade) || grade < 0 || grade > 100 {
		return ErrGradeOutOfRange
	}

	submission.FinalGrade = floatPtr(grade)
	submission.ManualOverride = true
	submission.Status = models.SubmissionStatusDone

	if opts.Commit {
		if err := m.store.SaveSubmission(ctx, submission); err != nil {
			return fmt.Errorf("save manual grade: %w", err)
		}
	}
	if !opts.Silent {
		return m.emit(ctx, EventManualGrade, activity, submission)
	}
	return nil
}

// Feedback returns the feedback of a submission, grading it first when it is
// still pending. Waiting submissions have no feedback yet.
func (m *Machine) Feedback(ctx context.Context, activity *models.Activity, submission *models.Submission, opts AutogradeOptions) (map[string]interface{}, error) {
	switch submission.Status {
	case models.SubmissionStatusPending:
		if err := m.Autograde(ctx, activity, submission, opts); err != nil {
			return nil, err
		}
		if submission.Status == models.SubmissionStatusWaiting {
			return nil, nil
		}
	case models.SubmissionStatusInvalid:
		return nil, InvalidResponseFromFeedback(submission.Feedback)
	case models.SubmissionStatusWaiting:
		return nil, nil
	}
	return submission.Feedback, nil
}

// FindRecyclable returns the oldest submission of the response whose
// payload is identical to payload.
func (m *Machine) FindRecyclable(ctx context.Context, responseID uint, payload map[string]interface{}) (*models.Submission, error) {
	hash, err := hashing.Payload(payload)
	if err != nil {
		return nil, err
	}
	candidates, err := m.store.FindByResponseHash(ctx, responseID, hash)
	if err != nil {
		return nil, fmt.Errorf("find recyclable submissions: %w", err)
	}

	match := MatchRecyclable(candidates, payload)
	if match != nil {
		match.Recycled = true
		observability.Recycled().Inc()
	}
	return match, nil
}

// MatchRecyclable picks the first candidate whose payload holds exactly the
// same JSON values as payload. Candidates must be ordered by creation time.
func MatchRecyclable(candidates []models.Submission, payload map[string]interface{}) *models.Submission {
	want, err := hashing.Exact(payload)
	if err != nil {
		return nil
	}
	for i := range candidates {
		got, err := hashing.Exact(candidates[i].Payload)
		if err != nil {
			continue
		}
		if string(got) == string(want) {
			match := candidates[i]
			return &match
		}
	}
	return nil
}

func (m *Machine) emit(ctx context.Context, eventType string, activity *models.Activity, submission *models.Submission) error {
	err := m.events.Publish(ctx, Event{
		Type:       eventType,
		Activity:   activity,
		Submission: submission,
		Grade:      submission.Grade(),
	})
	if err != nil {
		return fmt.Errorf("dispatch %s event: %w", eventType, err)
	}
	return nil
}

func clampGrade(value float64) float64 {
	switch {
	case math.IsNaN(value), value < 0:
		return 0
	case value > 100:
		return 100
	}
	return value
}

func gradeOf(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}

func floatPtr(value float64) *float64 {
	return &value
}

func copyFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	return floatPtr(*value)
}

func floatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyFeedback(feedback datatypes.JSONMap) datatypes.JSONMap {
	if feedback == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(feedback))
	for k, v := range feedback {
		out[k] = v
	}
	return out
}
