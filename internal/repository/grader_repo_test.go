package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/scoring"
)

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

// seedChain creates course <- section <- activity node and returns their ids.
func seedChain(t *testing.T, store *Store) (uint, uint, uint) {
	t.Helper()
	ctx := context.Background()

	course := models.ContentNode{Slug: "course", Title: "Course", Kind: models.NodeKindCourse}
	require.NoError(t, store.Nodes.Create(ctx, &course))
	section := models.ContentNode{Slug: "section", Title: "Section", Kind: models.NodeKindSection, ParentID: &course.ID}
	require.NoError(t, store.Nodes.Create(ctx, &section))
	leaf := models.ContentNode{Slug: "leaf", Title: "Leaf", Kind: models.NodeKindActivity, ParentID: &section.ID}
	require.NoError(t, store.Nodes.Create(ctx, &leaf))
	return course.ID, section.ID, leaf.ID
}

func TestContentNodeRepositoryTreeQueries(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	courseID, sectionID, leafID := seedChain(t, store)

	parent, ok, err := store.Nodes.Parent(ctx, leafID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sectionID, parent)

	_, ok, err = store.Nodes.Parent(ctx, courseID)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = store.Nodes.Parent(ctx, 999)
	require.NoError(t, err)
	require.False(t, ok)

	children, err := store.Nodes.Children(ctx, courseID)
	require.NoError(t, err)
	require.Equal(t, []uint{sectionID}, children)

	renamed := models.ContentNode{Slug: "leaf", Title: "Renamed", Kind: models.NodeKindActivity, ParentID: &courseID}
	require.NoError(t, store.Nodes.UpsertBySlug(ctx, &renamed))
	require.Equal(t, leafID, renamed.ID)

	stored, err := store.Nodes.GetByID(ctx, leafID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", stored.Title)
	require.Equal(t, courseID, *stored.ParentID)
}

func TestResponseRepositoryGetOrCreateIsIdempotent(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	first, err := store.Responses.GetOrCreate(ctx, 7, 3)
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.Equal(t, models.ResponseStatusOpened, first.Status)

	first.Grade = 40
	require.NoError(t, store.Responses.Save(ctx, &first))

	second, err := store.Responses.GetOrCreate(ctx, 7, 3)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 40.0, second.Grade)

	other, err := store.Responses.GetOrCreate(ctx, 8, 3)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	cohort, err := store.Responses.ListByActivity(ctx, 3, []uint{8})
	require.NoError(t, err)
	require.Len(t, cohort, 1)
	require.Equal(t, uint(8), cohort[0].UserID)
}

func TestSubmissionRepositoryOrdersCandidatesByCreation(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	response, err := store.Responses.GetOrCreate(ctx, 1, 1)
	require.NoError(t, err)

	now := time.Now()
	newer := models.Submission{ResponseID: response.ID, Hash: "h", Payload: datatypes.JSONMap{"text": "b"}, Status: models.SubmissionStatusPending, CreatedAt: now}
	older := models.Submission{ResponseID: response.ID, Hash: "h", Payload: datatypes.JSONMap{"text": "a"}, Status: models.SubmissionStatusPending, CreatedAt: now.Add(-time.Minute)}
	unrelated := models.Submission{ResponseID: response.ID, Hash: "other", Payload: datatypes.JSONMap{"text": "c"}, Status: models.SubmissionStatusPending, CreatedAt: now}
	require.NoError(t, store.Submissions.SaveSubmission(ctx, &newer))
	require.NoError(t, store.Submissions.SaveSubmission(ctx, &older))
	require.NoError(t, store.Submissions.SaveSubmission(ctx, &unrelated))

	candidates, err := store.Submissions.FindByResponseHash(ctx, response.ID, "h")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, older.ID, candidates[0].ID)
	require.Equal(t, "a", candidates[0].Payload["text"])

	grade := 75.0
	older.Status = models.SubmissionStatusDone
	older.GivenGrade = &grade
	older.FinalGrade = &grade
	require.NoError(t, store.Submissions.SaveSubmission(ctx, &older))

	stored, err := store.Submissions.GetByID(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, 75.0, stored.Grade())

	all, err := store.Submissions.ListByActivity(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint(1), all[0].Response.UserID)

	none, err := store.Submissions.ListByActivity(ctx, 1, []uint{42})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestAnswerKeyRepositorySaveOverwritesLanguage(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	key := models.AnswerKey{ActivityID: 1, Language: "python", Source: "print(1)"}
	require.NoError(t, store.AnswerKeys.Save(ctx, &key))
	require.NotZero(t, key.ID)

	replacement := models.AnswerKey{ActivityID: 1, Language: "python", Source: "print(2)", IsValid: true}
	require.NoError(t, store.AnswerKeys.Save(ctx, &replacement))
	require.Equal(t, key.ID, replacement.ID)

	keys, err := store.AnswerKeys.ListByActivity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "print(2)", keys[0].Source)
	require.True(t, keys[0].IsValid)
}

func TestScoreStorePropagatesThroughDatabase(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	courseID, sectionID, leafID := seedChain(t, store)
	tree := scoring.NewTree(store.Scores, zerolog.Nop())

	require.NoError(t, tree.SetDiff(ctx, scoring.TotalRef(leafID), scoring.Values{Points: 50}, true))

	for _, id := range []uint{courseID, sectionID, leafID} {
		total, err := store.Scores.GetTotal(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 50, total.Points, "node %d", id)
	}

	require.NoError(t, tree.SetDiff(ctx, scoring.UserRef(5, leafID), scoring.Values{Points: 10, Stars: 2}, true))
	row, err := store.Scores.GetUserScore(ctx, 5, courseID)
	require.NoError(t, err)
	require.Equal(t, 10, row.Points)
	require.Equal(t, 2.0, row.Stars)

	rows, err := store.Scores.ListUserScores(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestScoreStoreConcurrentDiffsShareAncestors(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	courseID, sectionID, leafID := seedChain(t, store)

	sibling := models.ContentNode{Slug: "sibling", Title: "Sibling", Kind: models.NodeKindActivity, ParentID: &sectionID}
	require.NoError(t, store.Nodes.Create(ctx, &sibling))

	tree := scoring.NewTree(store.Scores, zerolog.Nop())

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		leaf := leafID
		if i%2 == 1 {
			leaf = sibling.ID
		}
		wg.Add(1)
		go func(nodeID uint) {
			defer wg.Done()
			errs <- tree.SetDiff(ctx, scoring.UserRef(5, nodeID), scoring.Values{Points: 1, Score: 1}, true)
		}(leaf)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	expected := map[uint]int{courseID: writers, sectionID: writers, leafID: writers / 2, sibling.ID: writers / 2}
	for nodeID, points := range expected {
		row, err := store.Scores.GetUserScore(ctx, 5, nodeID)
		require.NoError(t, err)
		require.Equal(t, points, row.Points, "node %d", nodeID)
	}
}

func TestScoreStoreRecomputeUsesActivities(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	courseID, sectionID, leafID := seedChain(t, store)

	activity := models.Activity{NodeID: leafID, Title: "Loops", Kind: "coding_io", Points: 100, Stars: 1}
	require.NoError(t, store.Activities.Create(ctx, &activity))
	sectionActivity := models.Activity{NodeID: sectionID, Title: "Quiz", Kind: "free_text", Points: 30}
	require.NoError(t, store.Activities.Create(ctx, &sectionActivity))

	response, err := store.Responses.GetOrCreate(ctx, 9, activity.ID)
	require.NoError(t, err)
	response.Points = 60
	response.Score = 60
	require.NoError(t, store.Responses.Save(ctx, &response))

	tree := scoring.NewTree(store.Scores, zerolog.Nop())
	total, err := tree.RecomputeTotal(ctx, scoring.TotalRef(courseID))
	require.NoError(t, err)
	require.Equal(t, scoring.Values{Points: 130, Score: 130, Stars: 1}, total)

	user, err := tree.RecomputeTotal(ctx, scoring.UserRef(9, courseID))
	require.NoError(t, err)
	require.Equal(t, scoring.Values{Points: 60, Score: 60}, user)
}

func TestScoreStoreSpendStars(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	_, _, leafID := seedChain(t, store)

	tree := scoring.NewTree(store.Scores, zerolog.Nop())
	require.NoError(t, tree.SetDiff(ctx, scoring.UserRef(1, leafID), scoring.Values{Stars: 3}, false))

	row, err := store.Scores.SpendStars(ctx, 1, leafID, 2)
	require.NoError(t, err)
	require.Equal(t, 1.0, row.AvailableStars())

	_, err = store.Scores.SpendStars(ctx, 1, leafID, 2)
	require.ErrorIs(t, err, ErrInsufficientStars)
}

func TestStoreTransactionRollsBack(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	err := store.Transaction(ctx, func(tx *Store) error {
		node := models.ContentNode{Slug: "temp", Kind: models.NodeKindCourse}
		require.NoError(t, tx.Nodes.Create(ctx, &node))
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	_, err = store.Nodes.GetBySlug(ctx, "temp")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
