package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"linkrec/searchindex"
	"linkrec/storage"
	"linkrec/wiki"
)

// MaintenanceResult fasst einen Wartungslauf zusammen.
type MaintenanceResult struct {
	Checked int
	Stale   int
	Deleted int64
}

// MaintenanceJob entfernt Empfehlungen für veraltete Revisionen und gelöschte Seiten.
type MaintenanceJob struct {
	Store      *storage.Store
	Titles     wiki.TitleResolver
	Sink       searchindex.Sink
	BatchSize  int
	JoinWindow time.Duration
	// DryRun zählt nur, ohne zu löschen.
	DryRun bool
	Logger *zap.Logger
}

// NewMaintenanceJob erstellt einen neuen MaintenanceJob.
func NewMaintenanceJob(store *storage.Store, titles wiki.TitleResolver, sink searchindex.Sink, batchSize int, joinWindow time.Duration, logger *zap.Logger) *MaintenanceJob {
	return &MaintenanceJob{Store: store, Titles: titles, Sink: sink, BatchSize: batchSize, JoinWindow: joinWindow, Logger: logger}
}

// Run läuft einmal über alle gespeicherten Empfehlungen.
func (j *MaintenanceJob) Run(ctx context.Context) (MaintenanceResult, error) {
	var res MaintenanceResult
	var from int64
	for {
		page, err := j.Store.IterateAll(ctx, j.BatchSize, from)
		if err != nil {
			return res, fmt.Errorf("iterate recommendations: %w", err)
		}
		res.Checked += len(page.Recommendations)

		ids := make([]int64, 0, len(page.Recommendations))
		for _, rec := range page.Recommendations {
			ids = append(ids, rec.PageID)
		}
		latest, err := j.Titles.LatestRevisionIDs(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("look up latest revisions: %w", err)
		}

		var stale []searchindex.Page
		for _, rec := range page.Recommendations {
			cur, exists := latest[rec.PageID]
			if !exists || rec.RevisionID < cur {
				stale = append(stale, searchindex.Page{ID: rec.PageID, Title: rec.Title})
			}
		}
		res.Stale += len(stale)

		if len(stale) > 0 && !j.DryRun {
			n, err := j.RemovePages(ctx, stale)
			res.Deleted += n
			if err != nil {
				return res, err
			}
		}

		if page.Next == nil {
			break
		}
		from = *page.Next
	}

	j.Logger.Info("Maintenance finished",
		zap.Bool("dry_run", j.DryRun),
		zap.Int("checked", res.Checked),
		zap.Int("stale", res.Stale),
		zap.Int64("deleted", res.Deleted))
	return res, nil
}

// RemovePages löscht die Empfehlungen der Seiten und setzt ihren Suchindex-Tag zurück.
// Fehler beim Suchindex werden nur geloggt.
func (j *MaintenanceJob) RemovePages(ctx context.Context, pages []searchindex.Page) (int64, error) {
	ids := make([]int64, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.ID)
	}
	n, err := j.Store.DeleteByPageIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete recommendations: %w", err)
	}
	for _, p := range pages {
		if err := j.Sink.ResetTags(ctx, p, []string{searchindex.TagLinkRecommendation}, j.JoinWindow); err != nil {
			j.Logger.Warn("Could not reset search index tag", zap.Int64("page_id", p.ID), zap.Error(err))
		}
	}
	return n, nil
}
