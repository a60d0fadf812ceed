package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/hashing"
	"github.com/noah-isme/gema-grader/internal/iospec"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/runner"
)

// ErrActivityNotFound indicates the activity cannot be located.
var ErrActivityNotFound = errors.New("activity not found")

// ValidationError reports a reference solution that does not satisfy its
// own test specification. CaseIndex is 1-based and zero when the failure is
// not tied to a single case.
type ValidationError struct {
	Message    string
	CaseIndex  int
	CaseSource string
	Diff       string
}

func (e *ValidationError) Error() string {
	if e.CaseIndex > 0 {
		return fmt.Sprintf("answer key validation failed at test case %d: %s", e.CaseIndex, e.Message)
	}
	return "answer key validation failed: " + e.Message
}

// AnswerKeyConfig tunes answer key validation.
type AnswerKeyConfig struct {
	Timeout     time.Duration
	DefaultSize int
	CacheTTL    time.Duration
	CachePrefix string
}

// AnswerKeyService validates reference solutions and serves the
// specification submissions are graded against.
type AnswerKeyService interface {
	grading.SpecProvider
	Save(ctx context.Context, activityID uint, payload dto.AnswerKeyRequest) (dto.AnswerKeyResponse, error)
	List(ctx context.Context, activityID uint) ([]dto.AnswerKeyResponse, error)
	ValidateActivity(ctx context.Context, activityID uint, force bool) ([]dto.AnswerKeyResponse, error)
	Validate(ctx context.Context, activity *models.Activity, key *models.AnswerKey, force bool) error
}

type answerKeyService struct {
	activities repository.ActivityRepository
	keys       repository.AnswerKeyRepository
	runner     runner.Runner
	cache      *redis.Client
	validator  *validator.Validate
	config     AnswerKeyConfig
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewAnswerKeyService constructs the answer key service. cache may be nil.
func NewAnswerKeyService(activities repository.ActivityRepository, keys repository.AnswerKeyRepository, r runner.Runner, cache *redis.Client, validate *validator.Validate, cfg AnswerKeyConfig, logger zerolog.Logger) AnswerKeyService {
	if cfg.DefaultSize <= 0 {
		cfg.DefaultSize = 10
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "grader:spec:"
	}

	return &answerKeyService{
		activities: activities,
		keys:       keys,
		runner:     r,
		cache:      cache,
		validator:  validate,
		config:     cfg,
		logger:     logger.With().Str("component", "answer_key_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grader/internal/service/answer_key"),
	}
}

func (s *answerKeyService) Save(ctx context.Context, activityID uint, payload dto.AnswerKeyRequest) (dto.AnswerKeyResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AnswerKeyResponse{}, err
	}

	activity, err := s.loadActivity(ctx, activityID)
	if err != nil {
		return dto.AnswerKeyResponse{}, err
	}

	language := strings.ToLower(strings.TrimSpace(payload.Language))
	key, err := s.keys.Get(ctx, activityID, language)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AnswerKeyResponse{}, err
	}
	key.ActivityID = activityID
	key.Language = language
	key.Source = payload.Source

	if err := s.Validate(ctx, &activity, &key, payload.Force); err != nil {
		return dto.AnswerKeyResponse{}, err
	}
	return dto.NewAnswerKeyResponse(key), nil
}

func (s *answerKeyService) List(ctx context.Context, activityID uint) ([]dto.AnswerKeyResponse, error) {
	keys, err := s.keys.ListByActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.AnswerKeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, dto.NewAnswerKeyResponse(key))
	}
	return out, nil
}

// ValidateActivity revalidates every answer key of an activity, typically
// after its test specification changed. It stops at the first failure.
func (s *answerKeyService) ValidateActivity(ctx context.Context, activityID uint, force bool) ([]dto.AnswerKeyResponse, error) {
	activity, err := s.loadActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	keys, err := s.keys.ListByActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.AnswerKeyResponse, 0, len(keys))
	for i := range keys {
		if err := s.Validate(ctx, &activity, &keys[i], force); err != nil {
			return out, fmt.Errorf("%s: %w", keys[i].Language, err)
		}
		out = append(out, dto.NewAnswerKeyResponse(keys[i]))
	}
	return out, nil
}

// Validate runs the reference solution against the activity specification,
// expanding it to the requested size first. On success the expanded
// specification and both hashes are stored on key and persisted. Nothing is
// persisted when validation fails.
func (s *answerKeyService) Validate(ctx context.Context, activity *models.Activity, key *models.AnswerKey, force bool) (err error) {
	size := s.specSize(activity)
	parent := hashing.SpecKey(activity.IOSpecSource, size)
	sourceHash := hashing.Text(key.Source)
	if !force && key.IOSpecHash == parent && key.SourceHash == sourceHash {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "answer_key.validate", trace.WithAttributes(
		attribute.Int64("activity.id", int64(activity.ID)),
		attribute.String("answer_key.language", key.Language),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "valid"
		if err != nil {
			outcome = "invalid"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ValidationDuration().WithLabelValues(key.Language, outcome).Observe(time.Since(start).Seconds())
	}()

	expanded, err := s.expand(ctx, activity.IOSpecSource, size, key.Language)
	if err != nil {
		return err
	}

	result, err := s.runner.Run(ctx, runner.Request{
		Source:   key.Source,
		Language: key.Language,
		Spec:     expanded,
		Sandbox:  true,
		Timeout:  s.config.Timeout,
	})
	if errors.Is(err, runner.ErrUnsupportedLanguage) {
		return &ValidationError{Message: fmt.Sprintf("language %q is not supported", key.Language)}
	}
	if err != nil {
		return fmt.Errorf("run reference solution: %w", err)
	}
	if result.BuildError != "" {
		return &ValidationError{Message: "reference solution failed to build: " + result.BuildError}
	}
	if result.HasErrors() {
		return s.localizeFailure(ctx, key, expanded, result)
	}

	final := expanded.Clone()
	for i, c := range expanded.Cases {
		var produced []string
		if i < len(result.Cases) {
			produced = result.Cases[i].Output
		}
		if !c.IsSimple() {
			final.Cases[i] = iospec.Case{Kind: iospec.CaseIO, Inputs: c.Inputs, Outputs: produced}
			continue
		}
		if !iospec.OutputsEqual(c.Outputs, produced) {
			return &ValidationError{
				Message:    fmt.Sprintf("reference solution output differs from test case %d", i+1),
				CaseIndex:  i + 1,
				CaseSource: c.Source(),
				Diff:       iospec.OutputDiff(c.Outputs, produced),
			}
		}
	}

	updated := *key
	updated.IOSpec = final.Source()
	updated.IOSpecSize = final.Len()
	updated.IOSpecHash = parent
	updated.SourceHash = sourceHash
	updated.IsValid = true
	if err := s.keys.Save(ctx, &updated); err != nil {
		s.logger.Error().Err(err).Uint("activity_id", activity.ID).Msg("failed to persist answer key")
		return err
	}
	*key = updated

	s.storeCached(ctx, key, final)
	s.logger.Info().
		Uint("activity_id", activity.ID).
		Str("language", key.Language).
		Int("cases", final.Len()).
		Msg("answer key validated")
	return nil
}

// localizeFailure reruns every case alone so the error points at the first
// case the reference solution cannot execute.
func (s *answerKeyService) localizeFailure(ctx context.Context, key *models.AnswerKey, spec *iospec.Spec, aggregate *runner.Result) error {
	for i := range spec.Cases {
		single, err := s.runner.Run(ctx, runner.Request{
			Source:   key.Source,
			Language: key.Language,
			Spec:     spec.Single(i),
			Sandbox:  true,
			Timeout:  s.config.Timeout,
		})
		if err != nil {
			return fmt.Errorf("run reference solution on test case %d: %w", i+1, err)
		}
		if msg := firstError(single); msg != "" {
			return &ValidationError{
				Message:    msg,
				CaseIndex:  i + 1,
				CaseSource: spec.Cases[i].Source(),
			}
		}
	}
	return &ValidationError{Message: aggregate.ErrorMessage()}
}

// GradingSpec returns the specification used to grade a submission in
// language: the answer key for the language, validated on demand, else any
// expanded key, else the activity specification when it is simple.
func (s *answerKeyService) GradingSpec(ctx context.Context, activity *models.Activity, language string) (*iospec.Spec, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	key, err := s.keys.Get(ctx, activity.ID, language)
	switch {
	case err == nil:
		if cached := s.loadCached(ctx, &key); cached != nil && s.isCurrent(activity, &key) {
			return cached, nil
		}
		if err := s.Validate(ctx, activity, &key, false); err != nil {
			return nil, err
		}
		return s.parseKey(&key)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	keys, err := s.keys.ListByActivity(ctx, activity.ID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].IsExpanded() && s.isCurrent(activity, &keys[i]) {
			return s.parseKey(&keys[i])
		}
	}

	spec, err := iospec.Parse(activity.IOSpecSource)
	if err == nil && spec.IsSimple() {
		return spec, nil
	}
	return nil, fmt.Errorf("%w: activity %d, language %s", grading.ErrNoAnswerKey, activity.ID, language)
}

func (s *answerKeyService) expand(ctx context.Context, source string, size int, language string) (*iospec.Spec, error) {
	spec, err := iospec.Parse(source)
	if err != nil {
		return nil, &ValidationError{Message: "invalid test specification: " + err.Error()}
	}
	if spec.Len() >= size && spec.IsExpanded() {
		return spec, nil
	}

	expanded, err := s.runner.Expand(ctx, spec, max(size, spec.Len()), language)
	if errors.Is(err, runner.ErrUnsupportedLanguage) {
		return nil, &ValidationError{Message: fmt.Sprintf("language %q is not supported", language)}
	}
	if err != nil {
		return nil, &ValidationError{Message: "cannot expand test specification: " + err.Error()}
	}
	return expanded, nil
}

func (s *answerKeyService) isCurrent(activity *models.Activity, key *models.AnswerKey) bool {
	return key.IsValid && key.IOSpecHash == hashing.SpecKey(activity.IOSpecSource, s.specSize(activity))
}

func (s *answerKeyService) parseKey(key *models.AnswerKey) (*iospec.Spec, error) {
	spec, err := iospec.Parse(key.IOSpec)
	if err != nil {
		return nil, fmt.Errorf("stored specification of answer key %d: %w", key.ID, err)
	}
	return spec, nil
}

func (s *answerKeyService) specSize(activity *models.Activity) int {
	if activity.IOSpecSize > 0 {
		return activity.IOSpecSize
	}
	return s.config.DefaultSize
}

func (s *answerKeyService) cacheKey(key *models.AnswerKey) string {
	return s.config.CachePrefix + key.IOSpecHash + ":" + key.SourceHash + ":" + key.Language
}

func (s *answerKeyService) loadCached(ctx context.Context, key *models.AnswerKey) *iospec.Spec {
	if s.cache == nil || key.IOSpecHash == "" {
		return nil
	}
	text, err := s.cache.Get(ctx, s.cacheKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read specification cache")
		}
		observability.SpecCacheLookups().WithLabelValues("miss").Inc()
		return nil
	}
	spec, err := iospec.Parse(text)
	if err != nil {
		observability.SpecCacheLookups().WithLabelValues("miss").Inc()
		return nil
	}
	observability.SpecCacheLookups().WithLabelValues("hit").Inc()
	return spec
}

func (s *answerKeyService) storeCached(ctx context.Context, key *models.AnswerKey, spec *iospec.Spec) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(key), spec.Source(), s.config.CacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store specification cache")
	}
}

func (s *answerKeyService) loadActivity(ctx context.Context, id uint) (models.Activity, error) {
	activity, err := s.activities.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Activity{}, ErrActivityNotFound
	}
	return activity, err
}

func firstError(result *runner.Result) string {
	if result.BuildError != "" {
		return result.BuildError
	}
	for _, c := range result.Cases {
		if c.Error != "" {
			return c.Error
		}
	}
	return ""
}
