package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/iospec"
	"github.com/noah-isme/gema-grader/internal/lock"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/runner"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// program emulates a reference or student solution: it maps the inputs of
// one test case to stdout, or fails.
type program func(inputs []string) (string, error)

func doubler(wrongOn, crashOn string) program {
	return func(inputs []string) (string, error) {
		if len(inputs) == 0 {
			return "", errors.New("no input")
		}
		if inputs[0] == crashOn {
			return "", errors.New("exit status 1")
		}
		n, err := strconv.Atoi(inputs[0])
		if err != nil {
			return "", err
		}
		if inputs[0] == wrongOn {
			return strconv.Itoa(2*n + 1), nil
		}
		return strconv.Itoa(2 * n), nil
	}
}

// scriptedRunner runs programs registered by source. Unknown sources fail
// to build.
type scriptedRunner struct {
	mu       sync.Mutex
	programs map[string]program
	runs     int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{programs: map[string]program{
		"double":     doubler("", ""),
		"wrong-on-2": doubler("2", ""),
		"wrong-on-3": doubler("3", ""),
		"crash-on-4": doubler("", "4"),
	}}
}

func (r *scriptedRunner) Run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	r.mu.Lock()
	r.runs++
	prog, ok := r.programs[req.Source]
	r.mu.Unlock()

	if _, supported := runner.DefaultLanguages[req.Language]; !supported {
		return nil, runner.ErrUnsupportedLanguage
	}
	if !ok {
		return &runner.Result{BuildError: "SyntaxError: invalid syntax"}, nil
	}

	result := &runner.Result{Cases: make([]runner.CaseResult, 0, req.Spec.Len())}
	for _, c := range req.Spec.Cases {
		out, err := prog(c.Inputs)
		got := runner.CaseResult{Inputs: append([]string(nil), c.Inputs...)}
		if err != nil {
			got.Error = err.Error()
		} else {
			got.Output = iospec.SplitOutput(out + "\n")
		}
		result.Cases = append(result.Cases, got)
	}
	return result, nil
}

func (r *scriptedRunner) Expand(ctx context.Context, spec *iospec.Spec, size int, language string) (*iospec.Spec, error) {
	if _, supported := runner.DefaultLanguages[language]; !supported {
		return nil, runner.ErrUnsupportedLanguage
	}
	return runner.ExpandSpec(spec, size)
}

func (r *scriptedRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// harness wires the grading services the way the API server does, on top of
// sqlite and an in-memory Redis.
type harness struct {
	store       *repository.Store
	redis       *miniredis.Miniredis
	client      *redis.Client
	runner      *scriptedRunner
	registry    *grading.Registry
	bus         *grading.EventBus
	audit       AuditService
	answerKeys  AnswerKeyService
	submissions SubmissionService
	activities  ActivityService
	scores      ScoreService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := repository.NewStore(openTestDB(t))
	validate := validator.New()
	run := newScriptedRunner()

	answerKeys := NewAnswerKeyService(store.Activities, store.AnswerKeys, run, client, validate, AnswerKeyConfig{Timeout: time.Second}, testLogger())

	registry := grading.NewRegistry()
	registry.Register(grading.KindCodingIO, grading.NewCodeIOGrader(answerKeys, run, time.Second), grading.CodingIOSchema)
	registry.Register(grading.KindFreeText, grading.FreeTextGrader(), grading.FreeTextSchema)

	bus := grading.NewEventBus(testLogger())
	machine := grading.NewMachine(registry, store.Submissions, bus, testLogger())
	audit := NewAuditService(store.Audit, testLogger())
	locker := lock.NewRedisLocker(client, "grader:lock:", time.Minute)
	submissions := NewSubmissionService(store, machine, registry, locker, audit, validate, testLogger())
	bus.Subscribe(submissions.HandleEvent)

	return &harness{
		store:       store,
		redis:       server,
		client:      client,
		runner:      run,
		registry:    registry,
		bus:         bus,
		audit:       audit,
		answerKeys:  answerKeys,
		submissions: submissions,
		activities:  NewActivityService(store, registry, answerKeys, validate, testLogger()),
		scores:      NewScoreService(store, audit, validate, testLogger()),
	}
}

// seedChain creates course <- section <- leaf and returns their ids.
func (h *harness) seedChain(t *testing.T) (uint, uint, uint) {
	t.Helper()
	ctx := context.Background()

	course := models.ContentNode{Slug: "course", Title: "Course", Kind: models.NodeKindCourse}
	require.NoError(t, h.store.Nodes.Create(ctx, &course))
	section := models.ContentNode{Slug: "section", Title: "Section", Kind: models.NodeKindSection, ParentID: &course.ID}
	require.NoError(t, h.store.Nodes.Create(ctx, &section))
	leaf := models.ContentNode{Slug: "leaf", Title: "Leaf", Kind: models.NodeKindActivity, ParentID: &section.ID}
	require.NoError(t, h.store.Nodes.Create(ctx, &leaf))
	return course.ID, section.ID, leaf.ID
}

// addNode hangs a new activity node below parent.
func (h *harness) addNode(t *testing.T, slug string, parent uint) uint {
	t.Helper()
	node := models.ContentNode{Slug: slug, Title: slug, Kind: models.NodeKindActivity, ParentID: &parent}
	require.NoError(t, h.store.Nodes.Create(context.Background(), &node))
	return node.ID
}

// codingActivity defines a coding_io activity on node with a python answer
// key that doubles its input.
func (h *harness) codingActivity(t *testing.T, nodeID uint, points int, stars float64, spec string, size int) dto.ActivityResponse {
	t.Helper()
	ctx := context.Background()

	activity, err := h.activities.Define(ctx, dto.ActivityRequest{
		NodeID:     nodeID,
		Title:      "Double it",
		Kind:       grading.KindCodingIO,
		Points:     &points,
		Stars:      &stars,
		IOSpec:     spec,
		IOSpecSize: size,
	})
	require.NoError(t, err)

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "double"})
	require.NoError(t, err)
	return activity
}

func (h *harness) activityModel(t *testing.T, id uint) *models.Activity {
	t.Helper()
	activity, err := h.store.Activities.GetByID(context.Background(), id)
	require.NoError(t, err)
	return &activity
}

func codePayload(source string) dto.SubmitRequest {
	return dto.SubmitRequest{Payload: map[string]interface{}{"source": source, "language": "python"}}
}

func boolPtr(value bool) *bool {
	return &value
}

func intPtr(value int) *int {
	return &value
}

func floatPtr(value float64) *float64 {
	return &value
}
