package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/hashing"
	"github.com/noah-isme/gema-grader/internal/lock"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/scoring"
)

var (
	// ErrSubmissionNotFound indicates the submission cannot be located.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionForbidden indicates the caller may not access the submission.
	ErrSubmissionForbidden = errors.New("forbidden")
	// ErrResponseNotFound indicates the user never submitted to the activity.
	ErrResponseNotFound = errors.New("response not found")
	// ErrNoGradedSubmission indicates no submission earned a positive grade.
	ErrNoGradedSubmission = errors.New("no graded submission")
)

// Viewer identifies the caller of a read operation.
type Viewer struct {
	UserID uint
	Staff  bool
}

func (v Viewer) canSee(response models.Response) bool {
	return v.Staff || v.UserID == response.UserID
}

// SubmissionService drives submissions from creation to their contribution
// to the score tree.
type SubmissionService interface {
	Submit(ctx context.Context, userID, activityID uint, payload dto.SubmitRequest) (dto.SubmissionResponse, error)
	Get(ctx context.Context, viewer Viewer, submissionID uint) (dto.SubmissionResponse, error)
	Feedback(ctx context.Context, viewer Viewer, submissionID uint) (dto.FeedbackResponse, error)
	BestSubmission(ctx context.Context, userID, activityID uint) (dto.SubmissionResponse, error)
	Statistics(ctx context.Context, activityID uint, query dto.StatisticsQuery) (dto.StatisticsResponse, error)
	Regrade(ctx context.Context, actorID, submissionID uint, payload dto.RegradeRequest) (dto.RegradeResponse, error)
	RegradeActivity(ctx context.Context, actorID, activityID uint, payload dto.RegradeRequest) (int, error)
	ManualGrade(ctx context.Context, actorID, submissionID uint, payload dto.ManualGradeRequest) (dto.SubmissionResponse, error)
	RegisterSubmission(ctx context.Context, activity *models.Activity, submission *models.Submission) error
	HandleEvent(ctx context.Context, event grading.Event) error
}

type submissionService struct {
	store     *repository.Store
	machine   *grading.Machine
	registry  *grading.Registry
	locker    lock.Locker
	audit     AuditRecorder
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSubmissionService constructs the submission service. audit may be nil.
func NewSubmissionService(store *repository.Store, machine *grading.Machine, registry *grading.Registry, locker lock.Locker, audit AuditRecorder, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &submissionService{
		store:     store,
		machine:   machine,
		registry:  registry,
		locker:    locker,
		audit:     audit,
		validator: validate,
		logger:    logger.With().Str("component", "submission_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grader/internal/service/submission"),
		now:       time.Now,
	}
}

// Submit records a new attempt, reusing an identical earlier one when
// recycling is on, and grades it when autograde is on. Both default to true.
// An invalid response is returned together with the stored submission.
func (s *submissionService) Submit(ctx context.Context, userID, activityID uint, payload dto.SubmitRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "submissions.submit", trace.WithAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("activity.id", int64(activityID)),
	))
	defer span.End()

	activity, err := s.loadActivity(ctx, activityID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if _, err := s.registry.Lookup(activity.Kind); err != nil {
		return dto.SubmissionResponse{}, err
	}

	response, err := s.store.Responses.GetOrCreate(ctx, userID, activityID)
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("resolve response: %w", err)
	}

	hash, err := hashing.Payload(payload.Payload)
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("hash payload: %w", err)
	}

	recycle := payload.Recycle == nil || *payload.Recycle
	autograde := payload.Autograde == nil || *payload.Autograde

	var submission *models.Submission
	create := func(ctx context.Context) error {
		if recycle {
			match, err := s.machine.FindRecyclable(ctx, response.ID, payload.Payload)
			if err != nil {
				return err
			}
			if match != nil {
				submission = match
				return nil
			}
		}
		fresh := &models.Submission{
			ResponseID: response.ID,
			Hash:       hash,
			Payload:    datatypes.JSONMap(payload.Payload),
			Status:     models.SubmissionStatusPending,
		}
		if err := s.store.Submissions.SaveSubmission(ctx, fresh); err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		submission = fresh
		return nil
	}

	if recycle {
		key := fmt.Sprintf("recycle:%d:%s", response.ID, hash)
		err = lock.WithLock(ctx, s.locker, key, create)
	} else {
		err = create(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.SubmissionResponse{}, err
	}
	span.SetAttributes(attribute.Bool("submission.recycled", submission.Recycled))

	if autograde {
		if err := s.machine.Autograde(ctx, &activity, submission, grading.AutogradeOptions{Commit: true}); err != nil {
			var invalid *grading.InvalidResponseError
			if errors.As(err, &invalid) {
				return dto.NewSubmissionResponse(*submission, grading.Message(submission)), err
			}
			span.RecordError(err)
			s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("autograde failed")
			return dto.SubmissionResponse{}, err
		}
	}

	// A recycled submission may have been graded by a call whose score
	// registration failed. Registration only adds what is missing.
	if submission.Recycled && submission.Status == models.SubmissionStatusDone {
		if err := s.RegisterSubmission(ctx, &activity, submission); err != nil {
			span.RecordError(err)
			s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("register recycled submission failed")
			return dto.SubmissionResponse{}, fmt.Errorf("register submission %d: %w", submission.ID, err)
		}
	}

	return dto.NewSubmissionResponse(*submission, grading.Message(submission)), nil
}

func (s *submissionService) Get(ctx context.Context, viewer Viewer, submissionID uint) (dto.SubmissionResponse, error) {
	submission, _, _, err := s.load(ctx, viewer, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission, grading.Message(&submission)), nil
}

// Feedback grades a pending submission first. Invalid submissions return
// their stored error together with the feedback.
func (s *submissionService) Feedback(ctx context.Context, viewer Viewer, submissionID uint) (dto.FeedbackResponse, error) {
	submission, _, activity, err := s.load(ctx, viewer, submissionID)
	if err != nil {
		return dto.FeedbackResponse{}, err
	}

	feedback, err := s.machine.Feedback(ctx, &activity, &submission, grading.AutogradeOptions{Commit: true})
	out := dto.FeedbackResponse{
		Status:   submission.Status,
		Message:  grading.Message(&submission),
		Feedback: feedback,
	}
	var invalid *grading.InvalidResponseError
	if errors.As(err, &invalid) {
		out.Feedback = invalid.Feedback()
		return out, err
	}
	if err != nil {
		return dto.FeedbackResponse{}, err
	}
	return out, nil
}

func (s *submissionService) BestSubmission(ctx context.Context, userID, activityID uint) (dto.SubmissionResponse, error) {
	response, err := s.store.Responses.Find(ctx, userID, activityID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SubmissionResponse{}, ErrResponseNotFound
	}
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submissions, err := s.store.Submissions.ListByResponse(ctx, response.ID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	best := BestOf(submissions)
	if best == nil {
		return dto.SubmissionResponse{}, ErrNoGradedSubmission
	}
	return dto.NewSubmissionResponse(*best, grading.Message(best)), nil
}

// BestOf returns the submission with the highest final grade, the earliest
// one on ties. Submissions must be ordered by creation. It returns nil when
// the highest grade is zero.
func BestOf(submissions []models.Submission) *models.Submission {
	var best *models.Submission
	for i := range submissions {
		if submissions[i].FinalGrade == nil {
			continue
		}
		if best == nil || submissions[i].Grade() > best.Grade() {
			best = &submissions[i]
		}
	}
	if best == nil || best.Grade() <= 0 {
		return nil
	}
	return best
}

// Statistics aggregates given or final grades of an activity. Per response
// each user counts once with their highest grade; per submission every
// graded attempt counts.
func (s *submissionService) Statistics(ctx context.Context, activityID uint, query dto.StatisticsQuery) (dto.StatisticsResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.StatisticsResponse{}, err
	}

	submissions, err := s.store.Submissions.ListByActivity(ctx, activityID, query.UserIDs)
	if err != nil {
		return dto.StatisticsResponse{}, err
	}

	field := func(sub models.Submission) *float64 {
		if query.Field == "given" {
			return sub.GivenGrade
		}
		return sub.FinalGrade
	}

	var values []float64
	if query.By == "submission" {
		for _, sub := range submissions {
			if v := field(sub); sub.IsGraded() && v != nil {
				values = append(values, *v)
			}
		}
	} else {
		perResponse := map[uint]float64{}
		var order []uint
		for _, sub := range submissions {
			v := field(sub)
			if !sub.IsGraded() || v == nil {
				continue
			}
			current, seen := perResponse[sub.ResponseID]
			if !seen {
				order = append(order, sub.ResponseID)
			}
			if !seen || *v > current {
				perResponse[sub.ResponseID] = *v
			}
		}
		for _, id := range order {
			values = append(values, perResponse[id])
		}
	}

	return summarize(values), nil
}

func summarize(values []float64) dto.StatisticsResponse {
	if len(values) == 0 {
		return dto.StatisticsResponse{}
	}
	out := dto.StatisticsResponse{Count: len(values), Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, v := range values {
		out.Min = math.Min(out.Min, v)
		out.Max = math.Max(out.Max, v)
		sum += v
	}
	out.Mean = sum / float64(len(values))
	return out
}

func (s *submissionService) Regrade(ctx context.Context, actorID, submissionID uint, payload dto.RegradeRequest) (dto.RegradeResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.RegradeResponse{}, err
	}

	submission, _, activity, err := s.load(ctx, Viewer{Staff: true}, submissionID)
	if err != nil {
		return dto.RegradeResponse{}, err
	}

	before := submission.Grade()
	changed, err := s.machine.Regrade(ctx, &activity, &submission, payload.Method, true)
	if err != nil {
		var invalid *grading.InvalidResponseError
		if !errors.As(err, &invalid) {
			return dto.RegradeResponse{}, err
		}
	}
	if changed {
		s.record(ctx, AuditEntry{
			ActorID:    actorID,
			Action:     models.AuditActionRegrade,
			EntityType: AuditEntitySubmission,
			EntityID:   submission.ID,
			Metadata: map[string]interface{}{
				"method":    payload.Method,
				"old_grade": before,
				"new_grade": submission.Grade(),
			},
		})
	}

	return dto.RegradeResponse{
		Changed:    changed,
		Submission: dto.NewSubmissionResponse(submission, grading.Message(&submission)),
	}, err
}

// RegradeActivity regrades every submission of an activity and returns how
// many changed. Invalid responses do not stop the run.
func (s *submissionService) RegradeActivity(ctx context.Context, actorID, activityID uint, payload dto.RegradeRequest) (int, error) {
	if err := s.validator.Struct(payload); err != nil {
		return 0, err
	}
	activity, err := s.loadActivity(ctx, activityID)
	if err != nil {
		return 0, err
	}
	submissions, err := s.store.Submissions.ListByActivity(ctx, activityID, nil)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range submissions {
		changed, err := s.machine.Regrade(ctx, &activity, &submissions[i], payload.Method, true)
		var invalid *grading.InvalidResponseError
		if err != nil && !errors.As(err, &invalid) {
			return count, fmt.Errorf("regrade submission %d: %w", submissions[i].ID, err)
		}
		if changed {
			count++
		}
	}

	s.record(ctx, AuditEntry{
		ActorID:    actorID,
		Action:     models.AuditActionRegrade,
		EntityType: "activity",
		EntityID:   activityID,
		Metadata:   map[string]interface{}{"method": payload.Method, "changed": count, "total": len(submissions)},
	})
	return count, nil
}

func (s *submissionService) ManualGrade(ctx context.Context, actorID, submissionID uint, payload dto.ManualGradeRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, _, activity, err := s.load(ctx, Viewer{Staff: true}, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	before := submission.FinalGrade
	err = s.machine.ManualGrade(ctx, &activity, &submission, *payload.Grade, grading.ManualGradeOptions{
		Commit: true,
		Raises: !payload.Force,
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	metadata := map[string]interface{}{"new_grade": *payload.Grade}
	if before != nil {
		metadata["old_grade"] = *before
	}
	s.record(ctx, AuditEntry{
		ActorID:    actorID,
		Action:     models.AuditActionManualGrade,
		EntityType: AuditEntitySubmission,
		EntityID:   submission.ID,
		Metadata:   metadata,
	})

	return dto.NewSubmissionResponse(submission, grading.Message(&submission)), nil
}

// HandleEvent adapts RegisterSubmission to the grading event bus.
func (s *submissionService) HandleEvent(ctx context.Context, event grading.Event) error {
	return s.RegisterSubmission(ctx, event.Activity, event.Submission)
}

// RegisterSubmission folds a graded submission into its response. Totals
// only grow: the positive part of the difference between the submission
// contribution and the response totals is added to the response and
// propagated through the user score tree, all in one transaction.
func (s *submissionService) RegisterSubmission(ctx context.Context, activity *models.Activity, submission *models.Submission) error {
	if submission.Status != models.SubmissionStatusDone {
		return nil
	}

	return s.store.Transaction(ctx, func(tx *repository.Store) error {
		response, err := tx.Responses.GetForUpdate(ctx, submission.ResponseID)
		if err != nil {
			return fmt.Errorf("lock response %d: %w", submission.ResponseID, err)
		}

		final := submission.Grade()
		contribution := Contribution(activity, final)
		current := scoring.Values{Points: response.Points, Score: response.Score, Stars: response.Stars}
		delta := contribution.Sub(current).NonNegative()

		changed := false
		if final > response.Grade {
			response.Grade = final
			changed = true
		}
		if final >= 100 && !response.IsCorrect {
			finished := s.now().UTC()
			response.IsCorrect = true
			response.IsFinished = true
			response.FinishTime = &finished
			changed = true
		}
		if !delta.IsZero() {
			response.Points += delta.Points
			response.Score += delta.Score
			response.Stars += delta.Stars
			changed = true
		}
		if changed {
			if err := tx.Responses.Save(ctx, &response); err != nil {
				return fmt.Errorf("save response %d: %w", response.ID, err)
			}
		}
		if delta.IsZero() {
			return nil
		}

		tree := scoring.NewTree(tx.Scores, s.logger)
		return tree.SetDiff(ctx, scoring.UserRef(response.UserID, activity.NodeID), delta, true)
	})
}

// Contribution is what a submission graded final is worth for activity.
// Stars are only awarded for a perfect grade.
func Contribution(activity *models.Activity, final float64) scoring.Values {
	points := int(math.Floor(float64(activity.Points) * final / 100))
	values := scoring.Values{Points: points, Score: models.ScoreFromPoints(points)}
	if final >= 100 {
		values.Stars = activity.Stars
	}
	return values
}

func (s *submissionService) load(ctx context.Context, viewer Viewer, submissionID uint) (models.Submission, models.Response, models.Activity, error) {
	submission, err := s.store.Submissions.GetByID(ctx, submissionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Submission{}, models.Response{}, models.Activity{}, ErrSubmissionNotFound
	}
	if err != nil {
		return models.Submission{}, models.Response{}, models.Activity{}, err
	}

	response, err := s.store.Responses.GetByID(ctx, submission.ResponseID)
	if err != nil {
		return models.Submission{}, models.Response{}, models.Activity{}, err
	}
	if !viewer.canSee(response) {
		return models.Submission{}, models.Response{}, models.Activity{}, ErrSubmissionForbidden
	}

	activity, err := s.loadActivity(ctx, response.ActivityID)
	if err != nil {
		return models.Submission{}, models.Response{}, models.Activity{}, err
	}
	return submission, response, activity, nil
}

func (s *submissionService) loadActivity(ctx context.Context, id uint) (models.Activity, error) {
	activity, err := s.store.Activities.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Activity{}, ErrActivityNotFound
	}
	return activity, err
}

func (s *submissionService) record(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("action", entry.Action).Msg("failed to record audit entry")
	}
}
