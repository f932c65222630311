package services

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"linkrec/config"
	"linkrec/metrics"
	"linkrec/models"
	"linkrec/providers"
	"linkrec/storage"
	"linkrec/wiki"
)

// CandidateProcessor erzeugt eine Empfehlung für eine Seite; implementiert von *Evaluator.
type CandidateProcessor interface {
	ProcessCandidate(ctx context.Context, title string, force bool) (*models.Recommendation, error)
}

// RefreshResult fasst einen Lauf des RefreshJob zusammen.
type RefreshResult struct {
	Candidates int
	Current    int
	Stored     int
	Rejected   int
	Failed     int
}

// RefreshJob erzeugt Empfehlungen für zufällige Artikel, die noch keine aktuelle haben.
type RefreshJob struct {
	Candidates wiki.CandidateSource
	Titles     wiki.TitleResolver
	Store      *storage.Store
	Processor  CandidateProcessor
	BatchSize  int
	// Limiter drosselt Anfragen an den Empfehlungsdienst.
	Limiter *rate.Limiter
	Logger  *zap.Logger

	running atomic.Bool
}

// NewRefreshJob erstellt einen RefreshJob. ratePerSec <= 0 bedeutet ungedrosselt.
func NewRefreshJob(candidates wiki.CandidateSource, titles wiki.TitleResolver, store *storage.Store, processor CandidateProcessor, batchSize int, ratePerSec float64, logger *zap.Logger) *RefreshJob {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &RefreshJob{
		Candidates: candidates,
		Titles:     titles,
		Store:      store,
		Processor:  processor,
		BatchSize:  batchSize,
		Limiter:    rate.NewLimiter(limit, 1),
		Logger:     logger,
	}
}

// Run führt einen Durchlauf aus. Läuft bereits einer, kehrt Run sofort zurück.
// Konfigurationsfehler brechen den Lauf ab.
func (j *RefreshJob) Run(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	if !j.running.CompareAndSwap(false, true) {
		j.Logger.Info("Refresh already running, skipping")
		return res, nil
	}
	defer j.running.Store(false)

	titles, err := j.Candidates.RandomArticles(ctx, j.BatchSize)
	if err != nil {
		return res, err
	}
	refs, err := j.Titles.ResolveTitles(ctx, titles)
	if err != nil {
		return res, err
	}
	res.Candidates = len(refs)

	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	current, err := j.Store.FilterPageIDsWithCurrentRecommendation(ctx, ids)
	if err != nil {
		return res, err
	}
	skip := make(map[int64]bool, len(current))
	for _, id := range current {
		skip[id] = true
	}
	res.Current = len(current)

	for _, title := range wiki.NormalizeTitles(titles) {
		ref, ok := refs[title]
		if !ok || skip[ref.ID] {
			continue
		}
		if err := j.Limiter.Wait(ctx); err != nil {
			return res, err
		}

		_, err := j.Processor.ProcessCandidate(ctx, ref.Title, false)
		var cfgErr *config.ConfigError
		switch {
		case err == nil:
			res.Stored++
			metrics.RefreshStoredTotal.Inc()
		case errors.As(err, &cfgErr):
			return res, err
		case IsRejection(err), providers.IsWarning(err):
			res.Rejected++
		default:
			res.Failed++
		}
	}

	j.Logger.Info("Refresh finished",
		zap.Int("candidates", res.Candidates),
		zap.Int("current", res.Current),
		zap.Int("stored", res.Stored),
		zap.Int("rejected", res.Rejected),
		zap.Int("failed", res.Failed))
	return res, nil
}
