package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"linkrec/metrics"
	"linkrec/models"
	"linkrec/searchindex"
	"linkrec/storage"
	"linkrec/wiki"
)

// ErrForeignTarget: eingereichte Ziele oder der Artikel gehören nicht zur gespeicherten Empfehlung.
// Client und Server sind sich uneinig, was angezeigt wurde.
var ErrForeignTarget = errors.New("submitted targets are not part of the recommendation")

// Submission ist die Entscheidung eines Nutzers zu einer angezeigten Empfehlung.
type Submission struct {
	Title          string
	UserID         int64
	BaseRevisionID int64
	// EditRevisionID ist nil, wenn keine Bearbeitung gespeichert wurde.
	EditRevisionID *int64
	Decisions      storage.Decisions
}

// SubmissionHandler gleicht Nutzerentscheidungen mit der gespeicherten Empfehlung ab,
// entfernt sie und schreibt Feedback.
type SubmissionHandler struct {
	Store      *storage.Store
	Titles     wiki.TitleResolver
	Sink       searchindex.Sink
	Deferred   Deferrer
	JoinWindow time.Duration
	Logger     *zap.Logger
}

// NewSubmissionHandler erstellt einen neuen SubmissionHandler.
func NewSubmissionHandler(store *storage.Store, titles wiki.TitleResolver, sink searchindex.Sink, deferred Deferrer, joinWindow time.Duration, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		Store:      store,
		Titles:     titles,
		Sink:       sink,
		Deferred:   deferred,
		JoinWindow: joinWindow,
		Logger:     logger,
	}
}

// Run verarbeitet eine Einreichung und gibt die Log-ID zurück. nil ohne Fehler bedeutet,
// dass für die Basisrevision keine Empfehlung gespeichert war.
func (h *SubmissionHandler) Run(ctx context.Context, s Submission) (*uint, error) {
	log := h.Logger.With(zap.String("title", s.Title), zap.Int64("base_revision_id", s.BaseRevisionID), zap.Int64("user_id", s.UserID))

	rec, err := h.Store.GetByRevisionID(ctx, s.BaseRevisionID, storage.ReadPrimary)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load recommendation: %w", err)
	}
	if rec == nil {
		metrics.SubmissionsTotal.WithLabelValues("no_recommendation").Inc()
		log.Info("No stored recommendation for base revision")
		return nil, nil
	}
	log = log.With(zap.Int64("page_id", rec.PageID))

	if !h.belongsTo(ctx, rec, s.Title, log) {
		metrics.SubmissionsTotal.WithLabelValues("foreign_article").Inc()
		log.Error("Stored recommendation belongs to another article", zap.String("recommendation_title", rec.Title))
		return nil, fmt.Errorf("%w: revision %d belongs to %q", ErrForeignTarget, s.BaseRevisionID, rec.Title)
	}

	decisions, foreign := h.normalize(ctx, rec, s.Decisions, log)
	if len(foreign) > 0 {
		metrics.SubmissionsTotal.WithLabelValues("foreign_target").Inc()
		log.Error("Submission contains targets outside the recommendation", zap.Strings("targets", foreign))
		return nil, fmt.Errorf("%w: %s", ErrForeignTarget, strings.Join(foreign, ", "))
	}

	h.retire(rec, log)

	var logID uint
	err = h.Store.Transaction(ctx, func(tx *storage.Store) error {
		if _, err := tx.RecordFeedback(ctx, s.UserID, rec, decisions, s.EditRevisionID); err != nil {
			return fmt.Errorf("record feedback: %w", err)
		}
		id, err := tx.AddSubmissionLog(ctx, &models.SubmissionLog{
			PageID:         rec.PageID,
			Title:          rec.Title,
			RevisionID:     rec.RevisionID,
			EditRevisionID: s.EditRevisionID,
			UserID:         s.UserID,
			Accepted:       len(decisions.Accepted),
			Rejected:       len(decisions.Rejected),
			Skipped:        len(decisions.Skipped),
		})
		if err != nil {
			return fmt.Errorf("write submission log: %w", err)
		}
		logID = id
		return nil
	})
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.SubmissionsTotal.WithLabelValues("ok").Inc()
	log.Info("Recorded link recommendation feedback", zap.Uint("log_id", logID), zap.Int("decisions", decisions.Count()))
	return &logID, nil
}

// belongsTo prüft, ob die Empfehlung zum eingereichten Artikel gehört. Ohne Auflösung des Titels
// werden die normalisierten Titel verglichen.
func (h *SubmissionHandler) belongsTo(ctx context.Context, rec *models.Recommendation, title string, log *zap.Logger) bool {
	key := wiki.NormalizeTitle(title)
	refs, err := h.Titles.ResolveTitles(ctx, []string{key})
	if err != nil {
		log.Warn("Could not resolve submitted article, comparing titles", zap.Error(err))
	} else if ref, ok := refs[key]; ok {
		return ref.ID == rec.PageID
	}
	return key == wiki.NormalizeTitle(rec.Title)
}

// normalize bringt alle Ziele in kanonische Form und liefert die Ziele, die nicht zur Empfehlung gehören.
func (h *SubmissionHandler) normalize(ctx context.Context, rec *models.Recommendation, d storage.Decisions, log *zap.Logger) (storage.Decisions, []string) {
	all := make([]string, 0, d.Count()+len(rec.Links))
	all = append(all, d.Accepted...)
	all = append(all, d.Rejected...)
	all = append(all, d.Skipped...)
	all = append(all, rec.Targets()...)

	refs, err := h.Titles.ResolveTitles(ctx, all)
	if err != nil {
		log.Warn("Could not resolve submitted targets, using plain normalization", zap.Error(err))
		refs = nil
	}
	canonical := func(t string) string {
		n := wiki.NormalizeTitle(t)
		if ref, ok := refs[n]; ok {
			return ref.Title
		}
		return n
	}

	known := make(map[string]bool, len(rec.Links))
	for _, t := range rec.Targets() {
		known[canonical(t)] = true
	}

	var foreign []string
	convert := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, t := range in {
			c := canonical(t)
			if !known[c] {
				foreign = append(foreign, t)
				continue
			}
			out = append(out, c)
		}
		return out
	}
	normalized := storage.Decisions{
		Accepted: convert(d.Accepted),
		Rejected: convert(d.Rejected),
		Skipped:  convert(d.Skipped),
	}
	return normalized, foreign
}

// retire löscht die Empfehlung und setzt den Suchindex-Tag zurück, beides im Hintergrund.
// Schreibschutz beim Löschen wird nur geloggt; die Wartung räumt die Zeile später ab.
func (h *SubmissionHandler) retire(rec *models.Recommendation, log *zap.Logger) {
	pageID := rec.PageID
	h.Deferred.Submit("delete link recommendation", func(ctx context.Context) error {
		_, err := h.Store.DeleteByPageIDs(ctx, []int64{pageID})
		if errors.Is(err, storage.ErrReadOnly) {
			metrics.SubmissionsTotal.WithLabelValues("delete_read_only").Inc()
			log.Warn("Could not delete recommendation, storage is read-only", zap.Error(err))
			return nil
		}
		return err
	})

	page := searchindex.Page{ID: pageID, Title: rec.Title}
	h.Deferred.Submit("reset link recommendation tag", func(ctx context.Context) error {
		return h.Sink.ResetTags(ctx, page, []string{searchindex.TagLinkRecommendation}, h.JoinWindow)
	})
}
