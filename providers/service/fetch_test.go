package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linkrec/config"
	"linkrec/providers"
	"linkrec/wiki/wikitest"
)

func newFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	w := wikitest.New()
	w.AddPage(10, "Eiffel Tower", 100, "The tower is in Paris.", time.Now())

	cfg := &config.Config{ServiceURL: srv.URL, ServiceProject: "wikipedia", ServiceLanguage: "en", ServiceTimeout: 5 * time.Second}
	tt := &config.LinkTaskType{MinimumLinkScore: 0.5, MaximumLinksToShowPerTask: 3, ExcludedSections: []string{"References"}}
	return NewFetcher(cfg, tt, w, zap.NewNop())
}

func TestFetcherBuildsRecommendation(t *testing.T) {
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/linkrecommendations/wikipedia/en/Eiffel Tower", r.URL.Path)
		assert.Equal(t, "0.5", r.URL.Query().Get("threshold"))
		assert.Equal(t, "15", r.URL.Query().Get("max_recommendations"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(10), req.PageID)
		assert.Equal(t, int64(100), req.RevID)
		assert.Equal(t, "The tower is in Paris.", req.Wikitext)
		assert.Equal(t, []string{"References"}, req.SectionsToExclude)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"page_id": 10, "revid": 100,
			"links": []map[string]any{
				{"link_text": "Paris", "link_target": "Paris", "match_index": 0, "score": 0.9, "link_index": 0, "wikitext_offset": 16},
				{"link_text": "tower", "link_target": "Tower", "match_index": 1, "score": 0.6, "link_index": 1},
			},
			"meta": map[string]any{"application_version": "abc", "format_version": 1, "dataset_checksums": map[string]string{"model": "x"}},
		})
	})

	rec, err := f.Get(context.Background(), "Eiffel_Tower")
	require.NoError(t, err)
	assert.Equal(t, "Eiffel Tower", rec.Title)
	assert.Equal(t, int64(10), rec.PageID)
	assert.Equal(t, int64(100), rec.RevisionID)
	require.Len(t, rec.Links, 2)
	assert.Equal(t, 1, rec.Links[0].MatchIndex)
	assert.Equal(t, 1, rec.Links[0].LinkIndex)
	assert.Equal(t, 2, rec.Links[1].LinkIndex)
	require.NotNil(t, rec.Links[0].WikitextOffset)
	assert.Equal(t, 16, *rec.Links[0].WikitextOffset)
	assert.Equal(t, "abc", rec.Metadata.ApplicationVersion)
	assert.Equal(t, map[string]string{"model": "x"}, rec.Metadata.DatasetChecksums)
}

func TestFetcherFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		severity providers.Severity
	}{
		{"empty links", http.StatusOK, `{"links":[]}`, providers.SeverityWarning},
		{"not found", http.StatusNotFound, `{"detail":"no such page"}`, providers.SeverityWarning},
		{"server error", http.StatusInternalServerError, `{"httpReason":"boom"}`, providers.SeverityFatal},
		{"malformed json", http.StatusOK, `{"links":`, providers.SeverityFatal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := f.Get(context.Background(), "Eiffel Tower")
			var failure *providers.Failure
			require.True(t, errors.As(err, &failure), "got %v", err)
			assert.Equal(t, tc.severity, failure.Severity)
		})
	}
}

func TestFetcherMissingPageIsWarning(t *testing.T) {
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("service must not be called")
	})
	_, err := f.Get(context.Background(), "Nowhere")
	assert.True(t, providers.IsWarning(err))
}

func TestFetcherHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	// Registered after srv.Close, so it runs first and unblocks the handler.
	t.Cleanup(func() { close(release) })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx, "Eiffel Tower")
	var failure *providers.Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, providers.SeverityFatal, failure.Severity)
}
