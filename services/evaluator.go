package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"linkrec/config"
	"linkrec/metrics"
	"linkrec/models"
	"linkrec/providers"
	"linkrec/searchindex"
	"linkrec/storage"
	"linkrec/wiki"
)

// Anzahl Revisionen, die bei einem Revert nach der wiederhergestellten Fassung durchsucht werden.
const revertSearchDepth = 20

// Rejection ist eine erwartete Ablehnung einer Kandidaten-Empfehlung. Reason ist eine kurze
// Diagnose für Betreiber und wird nie automatisch wiederholt.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "candidate rejected: " + r.Reason
}

func reject(format string, args ...any) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// IsRejection meldet, ob err eine Ablehnung ist.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// Evaluator prüft eine Seite, holt eine Kandidaten-Empfehlung, validiert sie und speichert sie
// zusammen mit dem Suchindex-Update.
type Evaluator struct {
	Revisions wiki.RevisionSource
	Provider  providers.Provider
	Store     *storage.Store
	Sink      searchindex.Sink
	TaskType  *config.LinkTaskType
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewEvaluator erstellt einen neuen Evaluator.
func NewEvaluator(revisions wiki.RevisionSource, provider providers.Provider, store *storage.Store, sink searchindex.Sink, tt *config.LinkTaskType, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		Revisions: revisions,
		Provider:  provider,
		Store:     store,
		Sink:      sink,
		TaskType:  tt,
		Logger:    logger,
		Now:       time.Now,
	}
}

// ProcessCandidate erzeugt und speichert eine Empfehlung für die aktuelle Revision von title.
// Fehler sind *Rejection (erwartet), *providers.Failure, *config.ConfigError oder Infrastrukturfehler.
// force überspringt die Eignungsprüfungen, die Feedback-Prüfung und die Mindestanzahl an Links.
func (e *Evaluator) ProcessCandidate(ctx context.Context, title string, force bool) (*models.Recommendation, error) {
	log := e.Logger.With(zap.String("title", title), zap.Bool("force", force))

	rec, err := e.processCandidate(ctx, title, force)
	var (
		rejection *Rejection
		failure   *providers.Failure
		cfgErr    *config.ConfigError
	)
	switch {
	case err == nil:
		metrics.EvaluationsTotal.WithLabelValues("stored").Inc()
		log.Info("Stored link recommendation",
			zap.Int64("page_id", rec.PageID), zap.Int64("revision_id", rec.RevisionID), zap.Int("links", len(rec.Links)))
	case errors.As(err, &rejection):
		metrics.EvaluationsTotal.WithLabelValues("rejected").Inc()
		log.Debug("Candidate rejected", zap.String("reason", rejection.Reason))
	case errors.As(err, &failure):
		metrics.EvaluationsTotal.WithLabelValues("provider_" + failure.Severity.String()).Inc()
		if failure.Severity == providers.SeverityFatal {
			log.Warn("Link recommendation provider failed", zap.Error(err))
		} else {
			log.Debug("No link recommendation available", zap.Error(err))
		}
	case errors.As(err, &cfgErr):
		metrics.EvaluationsTotal.WithLabelValues("config_error").Inc()
		log.Error("Task type misconfigured", zap.Error(err))
	default:
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		log.Error("Candidate evaluation failed", zap.Error(err))
	}
	return rec, err
}

func (e *Evaluator) processCandidate(ctx context.Context, title string, force bool) (*models.Recommendation, error) {
	if e.TaskType == nil {
		return nil, &config.ConfigError{Reason: "link task type not configured"}
	}
	if err := e.TaskType.Validate(); err != nil {
		return nil, err
	}

	rev, err := e.checkEligibility(ctx, title, force)
	if err != nil {
		return nil, err
	}

	existing, err := e.Store.GetByRevisionID(ctx, rev.ID, storage.ReadPrimary)
	if err != nil {
		return nil, fmt.Errorf("look up stored recommendation: %w", err)
	}
	if existing != nil {
		return nil, reject("already stored")
	}

	candidate, err := e.Provider.Get(ctx, rev.Title)
	if err != nil {
		return nil, err
	}

	good, err := e.validate(ctx, rev, candidate, force)
	if err != nil {
		return nil, err
	}

	err = e.Store.Transaction(ctx, func(tx *storage.Store) error {
		if err := tx.Insert(ctx, good); err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
		page := searchindex.Page{ID: good.PageID, Title: good.Title}
		if err := e.Sink.SetTag(ctx, page, searchindex.TagLinkRecommendation); err != nil {
			return fmt.Errorf("update search index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return good, nil
}

// checkEligibility prüft die Seite ohne den Empfehlungsdienst zu fragen.
func (e *Evaluator) checkEligibility(ctx context.Context, title string, force bool) (*wiki.Revision, error) {
	rev, err := e.Revisions.CurrentRevision(ctx, title)
	if errors.Is(err, wiki.ErrPageNotFound) {
		return nil, reject("page not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load current revision: %w", err)
	}
	if strings.TrimSpace(rev.Content) == "" {
		return nil, reject("content not found")
	}
	if force {
		return rev, nil
	}

	tt := e.TaskType
	words := len(strings.Fields(rev.Content))
	if words < tt.MinimumWordCount {
		return nil, reject("word count too small (%d < %d)", words, tt.MinimumWordCount)
	}
	if words > tt.MaximumWordCount {
		return nil, reject("word count too large (%d > %d)", words, tt.MaximumWordCount)
	}

	if age := e.Now().Sub(rev.Timestamp); age <= tt.MinimumTimeSinceLastEdit {
		return nil, reject("minimum time since last edit did not pass (%s)", age.Truncate(time.Second))
	}

	disambig, err := e.Revisions.IsDisambiguation(ctx, rev.PageID)
	if err != nil {
		return nil, fmt.Errorf("check disambiguation: %w", err)
	}
	if disambig {
		return nil, reject("disambiguation page")
	}

	if err := e.checkLastEdit(ctx, rev); err != nil {
		return nil, err
	}
	return rev, nil
}

// checkLastEdit lehnt ab, wenn die letzte Bearbeitung eine Link-Empfehlung war oder eine solche revertiert hat.
func (e *Evaluator) checkLastEdit(ctx context.Context, rev *wiki.Revision) error {
	if rev.HasTag(wiki.TagLinkRecommendation) {
		return reject("last edit is a link recommendation")
	}
	reverted := false
	for _, t := range rev.Tags {
		if wiki.IsRevertTag(t) {
			reverted = true
			break
		}
	}
	if !reverted || rev.ParentID == 0 {
		return nil
	}

	history, err := e.Revisions.RevisionHistory(ctx, rev.PageID, rev.ParentID, revertSearchDepth)
	if err != nil {
		return fmt.Errorf("load revision history: %w", err)
	}
	// Reverted sind alle Revisionen zwischen der wiederhergestellten Fassung und dem Revert.
	// Ohne passende Fassung im Suchfenster wird nur die direkte Vorgängerin betrachtet.
	end := len(history)
	for i, h := range history {
		if h.SHA1 != "" && h.SHA1 == rev.SHA1 {
			end = i
			break
		}
	}
	if end == len(history) && end > 1 {
		end = 1
	}
	for _, h := range history[:end] {
		if h.HasTag(wiki.TagLinkRecommendation) {
			return reject("last edit reverts a link recommendation edit")
		}
	}
	return nil
}

// validate prüft den Kandidaten gegen die beobachtete Revision und filtert nach Score.
func (e *Evaluator) validate(ctx context.Context, rev *wiki.Revision, candidate *models.Recommendation, force bool) (*models.Recommendation, error) {
	if candidate.RevisionID != rev.ID {
		return nil, reject("revision id mismatch (%d != %d)", candidate.RevisionID, rev.ID)
	}

	if !force {
		// Nutzer haben diese Revision bereits bearbeitet; muss von der Primary gelesen werden.
		has, err := e.Store.HasFeedback(ctx, candidate, storage.ReadPrimary)
		if err != nil {
			return nil, fmt.Errorf("check existing feedback: %w", err)
		}
		if has {
			return nil, reject("recommendation already has feedback")
		}
	}

	goodLinks := candidate.FilterLinks(func(l models.Link) bool {
		return l.Score >= e.TaskType.MinimumLinkScore
	})
	if len(goodLinks) == 0 || (!force && len(goodLinks) < e.TaskType.MinimumLinksPerTask) {
		return nil, reject("number of good links too small (%d)", len(goodLinks))
	}
	return candidate.WithLinks(goodLinks), nil
}
