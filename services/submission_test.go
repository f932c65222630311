package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linkrec/models"
	"linkrec/providers"
	"linkrec/searchindex"
	"linkrec/storage"
)

func (f *fixture) submissions(d Deferrer) *SubmissionHandler {
	return NewSubmissionHandler(f.store, f.wiki, f.sink, d, 5*time.Second, zap.NewNop())
}

func (f *fixture) storeRecommendation(t *testing.T, revID int64) *models.Recommendation {
	t.Helper()
	rec := candidate(revID, link("capital", "France", 0.9, 1), link("Paris", "Paris", 0.8, 2))
	require.NoError(t, f.store.Insert(f.ctx, rec))
	return rec
}

func TestSubmissionRecordsFeedbackAndRetires(t *testing.T) {
	f := newFixture(t)
	rec := f.storeRecommendation(t, 100)
	deferred := &inlineDeferrer{}
	edit := int64(101)

	logID, err := f.submissions(deferred).Run(f.ctx, Submission{
		Title:          "Eiffel Tower",
		UserID:         7,
		BaseRevisionID: 100,
		EditRevisionID: &edit,
		Decisions:      storage.Decisions{Accepted: []string{"france"}, Rejected: []string{"Paris"}},
	})
	require.NoError(t, err)
	require.NotNil(t, logID)
	assert.NotZero(t, *logID)
	assert.Equal(t, []error{nil, nil}, deferred.errors)

	stored, err := f.store.GetByPageID(f.ctx, 10, storage.ReadPrimary)
	require.NoError(t, err)
	assert.Nil(t, stored)

	has, err := f.store.HasFeedback(f.ctx, rec, storage.ReadPrimary)
	require.NoError(t, err)
	assert.True(t, has)

	rows, err := f.store.IterateFeedback(f.ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(20), rows[0].TargetPageID)
	assert.Equal(t, models.FeedbackAccepted, rows[0].Feedback)
	assert.Equal(t, int64(30), rows[1].TargetPageID)
	assert.Equal(t, models.FeedbackRejected, rows[1].Feedback)
	require.NotNil(t, rows[0].EditRevisionID)
	assert.Equal(t, edit, *rows[0].EditRevisionID)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "reset", events[0].Action)
	assert.Equal(t, searchindex.Page{ID: 10, Title: "Eiffel Tower"}, events[0].Page)
	assert.Equal(t, 5*time.Second, events[0].JoinWindow)
}

func TestSubmissionWithoutStoredRecommendation(t *testing.T) {
	f := newFixture(t)
	deferred := &heldDeferrer{}

	logID, err := f.submissions(deferred).Run(f.ctx, Submission{
		Title: "Eiffel Tower", UserID: 7, BaseRevisionID: 100,
		Decisions: storage.Decisions{Skipped: []string{"France"}},
	})
	require.NoError(t, err)
	assert.Nil(t, logID)
	assert.Empty(t, deferred.tasks)
}

func TestSubmissionForeignTargetFailsBeforeWriting(t *testing.T) {
	f := newFixture(t)
	rec := f.storeRecommendation(t, 100)
	deferred := &heldDeferrer{}

	logID, err := f.submissions(deferred).Run(f.ctx, Submission{
		Title: "Eiffel Tower", UserID: 7, BaseRevisionID: 100,
		Decisions: storage.Decisions{Accepted: []string{"Eiffel Tower"}},
	})
	assert.ErrorIs(t, err, ErrForeignTarget)
	assert.Contains(t, err.Error(), "Eiffel Tower")
	assert.Nil(t, logID)
	assert.Empty(t, deferred.tasks)

	has, err := f.store.HasFeedback(f.ctx, rec, storage.ReadPrimary)
	require.NoError(t, err)
	assert.False(t, has)

	stored, err := f.store.GetByRevisionID(f.ctx, 100, storage.ReadPrimary)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestSubmissionNullSubmission(t *testing.T) {
	f := newFixture(t)
	f.storeRecommendation(t, 100)

	logID, err := f.submissions(&inlineDeferrer{}).Run(f.ctx, Submission{
		Title: "Eiffel Tower", UserID: 7, BaseRevisionID: 100,
		Decisions: storage.Decisions{Rejected: []string{"France"}, Skipped: []string{"Paris"}},
	})
	require.NoError(t, err)
	require.NotNil(t, logID)

	rows, err := f.store.IterateFeedback(f.ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].EditRevisionID)
}

func TestSubmissionSwallowsReadOnlyDeletion(t *testing.T) {
	f := newFixture(t)
	f.storeRecommendation(t, 100)
	deferred := &heldDeferrer{}

	logID, err := f.submissions(deferred).Run(f.ctx, Submission{
		Title: "Eiffel Tower", UserID: 7, BaseRevisionID: 100,
		Decisions: storage.Decisions{Accepted: []string{"Paris"}},
	})
	require.NoError(t, err)
	require.NotNil(t, logID)
	require.Len(t, deferred.tasks, 2)

	f.store.SetReadOnly(true)
	assert.Equal(t, []error{nil, nil}, deferred.runAll(f.ctx))

	f.store.SetReadOnly(false)
	stored, err := f.store.GetByRevisionID(f.ctx, 100, storage.ReadPrimary)
	require.NoError(t, err)
	assert.NotNil(t, stored, "stale recommendation stays until maintenance removes it")
}

func TestRepeatedRejectionsExcludeTarget(t *testing.T) {
	f := newFixture(t)
	handler := f.submissions(&inlineDeferrer{})

	for i, rev := range []int64{101, 102, 103} {
		f.wiki.AddRevision(10, rev, article, now.Add(-48*time.Hour))
		f.storeRecommendation(t, rev)
		_, err := handler.Run(f.ctx, Submission{
			Title: "Eiffel Tower", UserID: int64(i + 1), BaseRevisionID: rev,
			Decisions: storage.Decisions{Rejected: []string{"France"}, Accepted: []string{"Paris"}},
		})
		require.NoError(t, err)

		excluded, err := f.store.GetExcludedTargets(f.ctx, 10, f.tt.ExcludedTargetRejectionThreshold)
		require.NoError(t, err)
		_, banned := excluded[20]
		assert.Equal(t, i == 2, banned, "after %d rejections", i+1)
	}

	f.provider.Set(candidate(103, link("capital", "France", 0.9, 1), link("Paris", "Paris", 0.8, 2)))
	pruning := providers.NewPruningProvider(f.provider, f.store, f.wiki, f.tt, zap.NewNop())
	res, err := pruning.GetDetailed(f.ctx, "Eiffel Tower")
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris"}, res.Recommendation.Targets())
	assert.Equal(t, 1, res.ExcludedLinksPruned)
	assert.Zero(t, res.RedLinksPruned)
}

func TestSubmissionForOtherArticleIsRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.storeRecommendation(t, 100)
	deferred := &heldDeferrer{}

	logID, err := f.submissions(deferred).Run(f.ctx, Submission{
		Title: "France", UserID: 7, BaseRevisionID: 100,
		Decisions: storage.Decisions{Accepted: []string{"Paris"}},
	})
	assert.ErrorIs(t, err, ErrForeignTarget)
	assert.Nil(t, logID)
	assert.Empty(t, deferred.tasks)

	has, err := f.store.HasFeedback(f.ctx, rec, storage.ReadPrimary)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSubmissionAcceptsRedirectToSameArticle(t *testing.T) {
	f := newFixture(t)
	f.storeRecommendation(t, 100)
	f.wiki.AddRedirect("Tour Eiffel", 10)

	logID, err := f.submissions(&inlineDeferrer{}).Run(f.ctx, Submission{
		Title: "Tour_Eiffel", UserID: 7, BaseRevisionID: 100,
		Decisions: storage.Decisions{Accepted: []string{"Paris"}},
	})
	require.NoError(t, err)
	assert.NotNil(t, logID)
}
