package course

import (
	"context"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/iospec"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/runner"
	"github.com/noah-isme/gema-grader/internal/scoring"
	"github.com/noah-isme/gema-grader/internal/service"
)

const pythonCourse = `
slug = "python-101"
title = "Python 101"

[[sections]]
slug = "basics"
title = "Basics"

  [[sections.activities]]
  slug = "double"
  title = "Double it"
  kind = "coding_io"
  difficulty = "easy"
  stars = 1.0
  iospec = """
<1>
2

<2>
4
"""

    [[sections.activities.answer_keys]]
    language = "python"
    source = "double"

  [[sections.activities]]
  slug = "essay"
  title = "Why Python?"
  kind = "free_text"
  points = 40

  [[sections.sections]]
  slug = "extras"

    [[sections.sections.activities]]
    slug = "warmup"
    title = "Warm up"
    kind = "free_text"
    difficulty = "trivial"
`

// doublingRunner doubles the first input of every case for the source
// "double" and fails to build anything else.
type doublingRunner struct{}

func (doublingRunner) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	if req.Source != "double" {
		return &runner.Result{BuildError: "SyntaxError"}, nil
	}
	result := &runner.Result{}
	for _, c := range req.Spec.Cases {
		n, err := strconv.Atoi(c.Inputs[0])
		if err != nil {
			return nil, err
		}
		result.Cases = append(result.Cases, runner.CaseResult{
			Inputs: c.Inputs,
			Output: iospec.SplitOutput(strconv.Itoa(2*n) + "\n"),
		})
	}
	return result, nil
}

func (doublingRunner) Expand(_ context.Context, spec *iospec.Spec, size int, _ string) (*iospec.Spec, error) {
	return runner.ExpandSpec(spec, size)
}

func newImporter(t *testing.T) (*Importer, *repository.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	logger := zerolog.Nop()
	validate := validator.New()
	store := repository.NewStore(db)
	answerKeys := service.NewAnswerKeyService(store.Activities, store.AnswerKeys, doublingRunner{}, nil, validate, service.AnswerKeyConfig{}, logger)

	registry := grading.NewRegistry()
	registry.Register(grading.KindCodingIO, grading.NewCodeIOGrader(answerKeys, doublingRunner{}, 0), grading.CodingIOSchema)
	registry.Register(grading.KindFreeText, grading.FreeTextGrader(), grading.FreeTextSchema)

	activities := service.NewActivityService(store, registry, answerKeys, validate, logger)
	return NewImporter(store.Nodes, activities, answerKeys, logger), store
}

func TestImportBuildsTreeAndTotals(t *testing.T) {
	importer, store := newImporter(t)
	ctx := context.Background()

	summary, err := importer.Import(ctx, []byte(pythonCourse))
	require.NoError(t, err)
	require.Equal(t, 6, summary.Nodes)
	require.Equal(t, 3, summary.Activities)
	require.Equal(t, 1, summary.AnswerKeys)

	// easy 60 + essay 40 + trivial 10
	total, err := store.Scores.GetTotal(ctx, summary.RootID)
	require.NoError(t, err)
	require.Equal(t, 110, total.Points)
	require.Equal(t, 1.0, total.Stars)

	extras, err := store.Nodes.GetBySlug(ctx, "extras")
	require.NoError(t, err)
	require.NotNil(t, extras.ParentID)

	// a second import changes nothing
	_, err = importer.Import(ctx, []byte(pythonCourse))
	require.NoError(t, err)
	total, err = store.Scores.GetTotal(ctx, summary.RootID)
	require.NoError(t, err)
	require.Equal(t, 110, total.Points)

	tree := scoring.NewTree(store.Scores, zerolog.Nop())
	recomputed, err := tree.RecomputeTotal(ctx, scoring.TotalRef(summary.RootID))
	require.NoError(t, err)
	require.Equal(t, 110, recomputed.Points)
}

func TestImportRejectsMovedNodes(t *testing.T) {
	importer, _ := newImporter(t)
	ctx := context.Background()

	_, err := importer.Import(ctx, []byte(pythonCourse))
	require.NoError(t, err)

	moved := `
slug = "python-102"

[[sections]]
slug = "basics"
`
	_, err = importer.Import(ctx, []byte(moved))
	require.ErrorIs(t, err, ErrNodeMoved)
}

func TestParseRejectsBadFiles(t *testing.T) {
	_, err := Parse([]byte(`title = "no slug"`))
	require.Error(t, err)

	_, err = Parse([]byte("slug = \"c\"\nunknown = 1\n"))
	require.Error(t, err)

	_, err = Parse([]byte("slug = "))
	require.Error(t, err)
}

func TestImportFailsOnInvalidAnswerKey(t *testing.T) {
	importer, _ := newImporter(t)

	broken := `
slug = "c"

[[sections]]
slug = "s"

  [[sections.activities]]
  slug = "a"
  title = "A"
  kind = "coding_io"
  iospec = "<1>\n2"

    [[sections.activities.answer_keys]]
    language = "python"
    source = "print("
`
	_, err := importer.Import(context.Background(), []byte(broken))
	var invalid *service.ValidationError
	require.ErrorAs(t, err, &invalid)
}
