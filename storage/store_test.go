package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkrec/models"
	"linkrec/wiki/wikitest"
)

func setupStore(t *testing.T) (*Store, *wikitest.Wiki, context.Context) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "linkrec.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	w := wikitest.New()
	s := NewStore(db, nil, w, zap.NewNop())
	require.NoError(t, s.AutoMigrate())
	return s, w, context.Background()
}

func rec(pageID, revID int64, targets ...string) *models.Recommendation {
	links := make([]models.Link, 0, len(targets))
	for i, target := range targets {
		links = append(links, models.Link{Text: target, Target: target, MatchIndex: 1, Score: 0.9, LinkIndex: i + 1})
	}
	return models.NewRecommendation("Page", pageID, revID, links, models.Metadata{ApplicationVersion: "v1", FormatVersion: 1})
}

func TestInsertAndGet(t *testing.T) {
	s, _, ctx := setupStore(t)

	require.NoError(t, s.Insert(ctx, rec(10, 100, "France", "Paris")))

	got, err := s.GetByRevisionID(ctx, 100, ReadPrimary)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"France", "Paris"}, got.Targets())

	got, err = s.GetByPageID(ctx, 10, ReadReplica)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.RevisionID)

	got, err = s.GetByRevisionID(ctx, 999, ReadPrimary)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertRejectsEmpty(t *testing.T) {
	s, _, ctx := setupStore(t)
	err := s.Insert(ctx, rec(10, 100))
	assert.True(t, errors.Is(err, ErrEmptyRecommendation))
}

func TestInsertKeepsOneRecommendationPerPage(t *testing.T) {
	s, _, ctx := setupStore(t)

	require.NoError(t, s.Insert(ctx, rec(10, 100, "France")))
	require.NoError(t, s.Insert(ctx, rec(10, 101, "Paris")))
	require.NoError(t, s.Insert(ctx, rec(10, 101, "Paris", "Seine")))

	got, err := s.GetByPageID(ctx, 10, ReadPrimary)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(101), got.RevisionID)
	assert.Equal(t, []string{"Paris", "Seine"}, got.Targets())

	old, err := s.GetByRevisionID(ctx, 100, ReadPrimary)
	require.NoError(t, err)
	assert.Nil(t, old)

	n, err := s.DeleteByPageIDs(ctx, []int64{10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = s.GetByPageID(ctx, 10, ReadPrimary)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByTitle(t *testing.T) {
	s, w, ctx := setupStore(t)
	w.AddPage(10, "Eiffel Tower", 100, "text", time.Now())
	require.NoError(t, s.Insert(ctx, rec(10, 100, "France")))

	got, err := s.GetByTitle(ctx, "eiffel_Tower", ReadReplica, false)
	require.NoError(t, err)
	require.NotNil(t, got)

	w.AddRevision(10, 101, "text changed", time.Now())

	got, err = s.GetByTitle(ctx, "Eiffel Tower", ReadReplica, false)
	require.NoError(t, err)
	assert.Nil(t, got, "stale recommendation must not be returned")

	got, err = s.GetByTitle(ctx, "Eiffel Tower", ReadReplica, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.RevisionID)

	got, err = s.GetByTitle(ctx, "Missing", ReadReplica, true)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIterateAll(t *testing.T) {
	s, _, ctx := setupStore(t)
	for _, id := range []int64{3, 1, 5, 2, 4} {
		require.NoError(t, s.Insert(ctx, rec(id, id*100, "France")))
	}

	var seen []int64
	cursor := int64(0)
	pages := 0
	for {
		page, err := s.IterateAll(ctx, 2, cursor)
		require.NoError(t, err)
		pages++
		for _, r := range page.Recommendations {
			seen = append(seen, r.PageID)
		}
		if page.Next == nil {
			break
		}
		cursor = *page.Next
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 3, pages)
}

func TestIterateRejectsInvalidBatchSize(t *testing.T) {
	s, _, ctx := setupStore(t)
	require.NoError(t, s.Insert(ctx, rec(1, 100, "France")))

	for _, size := range []int{0, -1} {
		_, err := s.IterateAll(ctx, size, 0)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
		_, err = s.IterateFeedback(ctx, size, 0)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
	}
}

func TestFilterPageIDsWithCurrentRecommendation(t *testing.T) {
	s, w, ctx := setupStore(t)
	w.AddPage(1, "Current", 100, "a", time.Now())
	w.AddPage(2, "Stale", 200, "b", time.Now())
	w.AddRevision(2, 201, "b2", time.Now())
	w.AddPage(3, "Ahead", 300, "c", time.Now())
	w.AddPage(4, "Without", 400, "d", time.Now())

	require.NoError(t, s.Insert(ctx, rec(1, 100, "France")))
	require.NoError(t, s.Insert(ctx, rec(2, 200, "France")))
	// Replikationsverzögerung: gespeicherte Revision ist neuer als die gemeldete.
	require.NoError(t, s.Insert(ctx, rec(3, 301, "France")))
	// Seite 5 existiert nicht mehr.
	require.NoError(t, s.Insert(ctx, rec(5, 500, "France")))

	ids, err := s.FilterPageIDsWithCurrentRecommendation(ctx, []int64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestRecordFeedbackAndExclusions(t *testing.T) {
	s, w, ctx := setupStore(t)
	w.AddPage(10, "Eiffel", 100, "text", time.Now())
	w.AddPage(20, "France", 1, "x", time.Now())
	w.AddPage(30, "Paris", 1, "x", time.Now())

	for rev := int64(100); rev < 103; rev++ {
		r := rec(10, rev, "France", "Paris", "Gone")
		n, err := s.RecordFeedback(ctx, 7, r, Decisions{Rejected: []string{"France"}, Accepted: []string{"paris"}, Skipped: []string{"Gone"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "missing target must be skipped")
	}

	excluded, err := s.GetExcludedTargets(ctx, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{20: {}}, excluded)

	excluded, err = s.GetExcludedTargets(ctx, 10, 4)
	require.NoError(t, err)
	assert.Empty(t, excluded)

	has, err := s.HasFeedback(ctx, rec(10, 101, "France"), ReadPrimary)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasFeedback(ctx, rec(10, 999, "France"), ReadPrimary)
	require.NoError(t, err)
	assert.False(t, has)

	rows, err := s.IterateFeedback(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	require.NotNil(t, rows[0].AnchorLength)
	assert.Equal(t, len("Paris"), *rows[0].AnchorLength)
}

func TestRecordFeedbackWithEditRevision(t *testing.T) {
	s, w, ctx := setupStore(t)
	w.AddPage(20, "France", 1, "x", time.Now())

	edit := int64(555)
	n, err := s.RecordFeedback(ctx, 7, rec(10, 100, "France"), Decisions{Accepted: []string{"France"}}, &edit)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.IterateFeedback(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].EditRevisionID)
	assert.Equal(t, edit, *rows[0].EditRevisionID)
	assert.Equal(t, models.FeedbackAccepted, rows[0].Feedback)
}

func TestReadOnlyStore(t *testing.T) {
	s, _, ctx := setupStore(t)
	s.SetReadOnly(true)

	assert.True(t, errors.Is(s.Insert(ctx, rec(1, 1, "A")), ErrReadOnly))
	_, err := s.DeleteByPageIDs(ctx, []int64{1})
	assert.True(t, errors.Is(err, ErrReadOnly))
	_, err = s.RecordFeedback(ctx, 1, rec(1, 1, "A"), Decisions{Accepted: []string{"A"}}, nil)
	assert.True(t, errors.Is(err, ErrReadOnly))
	err = s.Transaction(ctx, func(*Store) error { return nil })
	assert.True(t, errors.Is(err, ErrReadOnly))
}

func TestTransactionRollsBack(t *testing.T) {
	s, _, ctx := setupStore(t)
	boom := errors.New("index unavailable")

	err := s.Transaction(ctx, func(tx *Store) error {
		require.NoError(t, tx.Insert(ctx, rec(1, 10, "A")))
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	got, err := s.GetByRevisionID(ctx, 10, ReadPrimary)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSubmissionLog(t *testing.T) {
	s, _, ctx := setupStore(t)
	id1, err := s.AddSubmissionLog(ctx, &models.SubmissionLog{PageID: 1, RevisionID: 10, UserID: 3, Accepted: 1})
	require.NoError(t, err)
	id2, err := s.AddSubmissionLog(ctx, &models.SubmissionLog{PageID: 1, RevisionID: 11, UserID: 3})
	require.NoError(t, err)
	assert.NotZero(t, id1)
	assert.Greater(t, id2, id1)
}

func TestRecordFeedbackKeepsAnchorForRedirectTarget(t *testing.T) {
	s, w, ctx := setupStore(t)
	w.AddPage(30, "Paris", 1, "x", time.Now())
	w.AddRedirect("City of Light", 30)

	offset := 42
	r := models.NewRecommendation("Page", 10, 100, []models.Link{
		{Text: "the city", Target: "City_of_Light", MatchIndex: 1, Score: 0.9, LinkIndex: 1, WikitextOffset: &offset},
	}, models.Metadata{})

	// Submitted decisions carry the canonical title of the target.
	n, err := s.RecordFeedback(ctx, 7, r, Decisions{Rejected: []string{"Paris"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.IterateFeedback(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(30), rows[0].TargetPageID)
	require.NotNil(t, rows[0].AnchorLength)
	assert.Equal(t, len("the city"), *rows[0].AnchorLength)
	require.NotNil(t, rows[0].AnchorOffset)
	assert.Equal(t, 42, *rows[0].AnchorOffset)
}
