package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"linkrec/models"
	"linkrec/wiki"
)

// Consistency wählt, ob vom Replikat oder von der Primary gelesen wird.
type Consistency int

const (
	// ReadReplica toleriert Replikationsverzögerung.
	ReadReplica Consistency = iota
	// ReadPrimary liest den aktuellsten Stand; Pflicht für Race-Prüfungen vor Schreibzugriffen.
	ReadPrimary
)

var (
	// ErrReadOnly signalisiert, dass der Speicher gerade keine Schreibzugriffe erlaubt.
	ErrReadOnly = errors.New("storage is read-only")
	// ErrEmptyRecommendation: Empfehlungen ohne Links dürfen nicht als aktiv gespeichert werden.
	ErrEmptyRecommendation = errors.New("recommendation has no links")
	// ErrInvalidBatchSize wird bei Batch-Größen kleiner 1 zurückgegeben.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)

// SQLSTATE read_only_sql_transaction
const pgReadOnlyCode = "25006"

// Store verwaltet Empfehlungen und Nutzer-Feedback.
type Store struct {
	primary  *gorm.DB
	replica  *gorm.DB
	titles   wiki.TitleResolver
	logger   *zap.Logger
	readOnly bool
}

// NewStore erstellt einen Store. replica darf nil sein, dann wird immer die Primary genutzt.
func NewStore(primary, replica *gorm.DB, titles wiki.TitleResolver, logger *zap.Logger) *Store {
	if replica == nil {
		replica = primary
	}
	return &Store{primary: primary, replica: replica, titles: titles, logger: logger}
}

// SetReadOnly schaltet alle Schreibzugriffe ab, z.B. während Wartungsfenstern.
func (s *Store) SetReadOnly(v bool) {
	s.readOnly = v
}

// AutoMigrate legt die Tabellen an.
func (s *Store) AutoMigrate() error {
	return s.primary.AutoMigrate(&models.LinkRecommendationRecord{}, &models.LinkFeedback{}, &models.SubmissionLog{})
}

// Transaction führt fn in einer Transaktion auf der Primary aus. Der übergebene Store schreibt
// und liest innerhalb der Transaktion; ein Fehler aus fn rollt alles zurück.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.readOnly {
		return ErrReadOnly
	}
	err := s.primary.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{primary: tx, replica: tx, titles: s.titles, logger: s.logger})
	})
	return translate(err)
}

func (s *Store) db(ctx context.Context, c Consistency) *gorm.DB {
	if c == ReadPrimary {
		return s.primary.WithContext(ctx)
	}
	return s.replica.WithContext(ctx)
}

// GetByRevisionID liefert die Empfehlung für eine Revision oder nil.
func (s *Store) GetByRevisionID(ctx context.Context, revID int64, c Consistency) (*models.Recommendation, error) {
	return s.first(s.db(ctx, c).Where("revision_id = ?", revID))
}

// GetByPageID liefert die Empfehlung einer Seite oder nil. Bei mehreren Zeilen gewinnt die höchste Revision.
func (s *Store) GetByPageID(ctx context.Context, pageID int64, c Consistency) (*models.Recommendation, error) {
	return s.first(s.db(ctx, c).Where("page_id = ?", pageID))
}

// GetByTitle löst den Titel auf und liefert die gespeicherte Empfehlung. Ohne allowStale
// wird nur eine Empfehlung für die aktuelle Revision zurückgegeben.
func (s *Store) GetByTitle(ctx context.Context, title string, c Consistency, allowStale bool) (*models.Recommendation, error) {
	key := wiki.NormalizeTitle(title)
	refs, err := s.titles.ResolveTitles(ctx, []string{key})
	if err != nil {
		return nil, fmt.Errorf("resolve title %q: %w", title, err)
	}
	ref, ok := refs[key]
	if !ok {
		return nil, nil
	}
	if allowStale {
		return s.GetByPageID(ctx, ref.ID, c)
	}
	return s.GetByRevisionID(ctx, ref.LatestRevisionID, c)
}

func (s *Store) first(q *gorm.DB) (*models.Recommendation, error) {
	var row models.LinkRecommendationRecord
	err := q.Order("revision_id desc").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	rec, err := row.Recommendation()
	if err != nil {
		return nil, err
	}
	if len(rec.Links) == 0 {
		return nil, nil
	}
	return rec, nil
}

// Insert speichert eine Empfehlung (Upsert nach Revision) und entfernt ältere Empfehlungen derselben Seite.
func (s *Store) Insert(ctx context.Context, rec *models.Recommendation) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if len(rec.Links) == 0 {
		return ErrEmptyRecommendation
	}
	row, err := models.NewLinkRecommendationRecord(rec)
	if err != nil {
		return err
	}
	err = s.primary.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("page_id = ? AND revision_id <> ?", rec.PageID, rec.RevisionID).
			Delete(&models.LinkRecommendationRecord{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "revision_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"page_id", "title", "data", "updated_at"}),
		}).Create(row).Error
	})
	return translate(err)
}

// DeleteByPageIDs löscht alle Empfehlungen der Seiten und gibt die Anzahl gelöschter Zeilen zurück.
func (s *Store) DeleteByPageIDs(ctx context.Context, pageIDs []int64) (int64, error) {
	if len(pageIDs) == 0 {
		return 0, nil
	}
	if s.readOnly {
		return 0, ErrReadOnly
	}
	res := s.primary.WithContext(ctx).Where("page_id IN ?", pageIDs).Delete(&models.LinkRecommendationRecord{})
	return res.RowsAffected, translate(res.Error)
}

// Page ist eine Seite aus IterateAll. Next ist nil, wenn alle Zeilen gelesen wurden.
type Page struct {
	Recommendations []*models.Recommendation
	Next            *int64
}

// IterateAll liest Empfehlungen aufsteigend nach Seiten-ID ab fromPageID. Fehlerhafte Blobs
// werden übersprungen und geloggt.
func (s *Store) IterateAll(ctx context.Context, batchSize int, fromPageID int64) (Page, error) {
	if batchSize < 1 {
		return Page{}, ErrInvalidBatchSize
	}
	var rows []models.LinkRecommendationRecord
	err := s.db(ctx, ReadReplica).
		Where("page_id >= ?", fromPageID).
		Order("page_id asc").Order("revision_id desc").
		Limit(batchSize).
		Find(&rows).Error
	if err != nil {
		return Page{}, translate(err)
	}

	var out Page
	for i := range rows {
		rec, err := rows[i].Recommendation()
		if err != nil {
			s.logger.Warn("Skipping undecodable recommendation", zap.Int64("revision_id", rows[i].RevisionID), zap.Error(err))
			continue
		}
		out.Recommendations = append(out.Recommendations, rec)
	}
	if len(rows) == batchSize {
		next := rows[len(rows)-1].PageID + 1
		out.Next = &next
	}
	return out, nil
}

// FilterPageIDsWithCurrentRecommendation behält die Seiten, deren gespeicherte Empfehlung mindestens
// so neu ist wie die aktuelle Revision. >= toleriert Replikationsverzögerung der Revisionsdaten.
func (s *Store) FilterPageIDsWithCurrentRecommendation(ctx context.Context, pageIDs []int64) ([]int64, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}
	latest, err := s.titles.LatestRevisionIDs(ctx, pageIDs)
	if err != nil {
		return nil, fmt.Errorf("look up latest revisions: %w", err)
	}

	var rows []struct {
		PageID     int64
		RevisionID int64
	}
	err = s.db(ctx, ReadReplica).Model(&models.LinkRecommendationRecord{}).
		Select("page_id, MAX(revision_id) AS revision_id").
		Where("page_id IN ?", pageIDs).
		Group("page_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	stored := make(map[int64]int64, len(rows))
	for _, r := range rows {
		stored[r.PageID] = r.RevisionID
	}

	var out []int64
	for _, id := range pageIDs {
		rev, hasRec := stored[id]
		cur, exists := latest[id]
		if hasRec && exists && rev >= cur {
			out = append(out, id)
		}
	}
	return out, nil
}

// GetExcludedTargets liefert die Seiten-IDs der Ziele, die für pageID mindestens threshold-mal abgelehnt wurden.
func (s *Store) GetExcludedTargets(ctx context.Context, pageID int64, threshold int) (map[int64]struct{}, error) {
	var ids []int64
	err := s.db(ctx, ReadReplica).Model(&models.LinkFeedback{}).
		Where("page_id = ? AND feedback = ?", pageID, models.FeedbackRejected).
		Group("target_page_id").
		Having("COUNT(*) >= ?", threshold).
		Pluck("target_page_id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// HasFeedback prüft, ob es für die Revision der Empfehlung bereits Feedback gibt.
func (s *Store) HasFeedback(ctx context.Context, rec *models.Recommendation, c Consistency) (bool, error) {
	var count int64
	err := s.db(ctx, c).Model(&models.LinkFeedback{}).
		Where("page_id = ? AND revision_id = ?", rec.PageID, rec.RevisionID).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// Decisions sind die Entscheidungen eines Nutzers; Einträge sind Titel oder Linkziele.
type Decisions struct {
	Accepted []string
	Rejected []string
	Skipped  []string
}

// Count gibt die Gesamtzahl der Entscheidungen zurück.
func (d Decisions) Count() int {
	return len(d.Accepted) + len(d.Rejected) + len(d.Skipped)
}

// RecordFeedback schreibt eine Feedback-Zeile pro auflösbarem Ziel. Ziele, die nicht mehr existieren,
// werden geloggt und übersprungen. Gibt die Anzahl geschriebener Zeilen zurück.
func (s *Store) RecordFeedback(ctx context.Context, userID int64, rec *models.Recommendation, d Decisions, editRevID *int64) (int, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	all := make([]string, 0, d.Count())
	all = append(all, d.Accepted...)
	all = append(all, d.Rejected...)
	all = append(all, d.Skipped...)
	if len(all) == 0 {
		return 0, nil
	}

	refs, err := s.titles.ResolveTitles(ctx, append(all, rec.Targets()...))
	if err != nil {
		return 0, fmt.Errorf("resolve feedback targets: %w", err)
	}

	// Anker nach kanonischem Titel, damit Weiterleitungen und eingereichte Titel zusammenfinden.
	anchors := make(map[string]models.Link, len(rec.Links))
	for _, l := range rec.Links {
		key := wiki.NormalizeTitle(l.Target)
		if ref, ok := refs[key]; ok {
			key = wiki.NormalizeTitle(ref.Title)
		}
		if _, ok := anchors[key]; !ok {
			anchors[key] = l
		}
	}

	log := s.logger.With(zap.Int64("page_id", rec.PageID), zap.Int64("revision_id", rec.RevisionID))
	var rows []models.LinkFeedback
	add := func(targets []string, code models.FeedbackCode) {
		for _, target := range targets {
			key := wiki.NormalizeTitle(target)
			ref, ok := refs[key]
			if !ok {
				log.Info("Skipping feedback for missing target page", zap.String("target", target))
				continue
			}
			row := models.LinkFeedback{
				PageID:         rec.PageID,
				RevisionID:     rec.RevisionID,
				EditRevisionID: editRevID,
				UserID:         userID,
				TargetPageID:   ref.ID,
				Feedback:       code,
			}
			if l, ok := anchors[wiki.NormalizeTitle(ref.Title)]; ok {
				length := len([]rune(l.Text))
				row.AnchorLength = &length
				if l.WikitextOffset != nil {
					off := *l.WikitextOffset
					row.AnchorOffset = &off
				}
			}
			rows = append(rows, row)
		}
	}
	add(d.Accepted, models.FeedbackAccepted)
	add(d.Rejected, models.FeedbackRejected)
	add(d.Skipped, models.FeedbackSkipped)

	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.primary.WithContext(ctx).Create(&rows).Error; err != nil {
		return 0, translate(err)
	}
	return len(rows), nil
}

// AddSubmissionLog legt einen Log-Eintrag an und gibt dessen ID zurück.
func (s *Store) AddSubmissionLog(ctx context.Context, entry *models.SubmissionLog) (uint, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	if err := s.primary.WithContext(ctx).Create(entry).Error; err != nil {
		return 0, translate(err)
	}
	return entry.ID, nil
}

// IterateFeedback liest Feedback-Zeilen aufsteigend nach ID ab afterID.
func (s *Store) IterateFeedback(ctx context.Context, batchSize int, afterID uint) ([]models.LinkFeedback, error) {
	if batchSize < 1 {
		return nil, ErrInvalidBatchSize
	}
	var rows []models.LinkFeedback
	err := s.db(ctx, ReadReplica).Where("id > ?", afterID).Order("id asc").Limit(batchSize).Find(&rows).Error
	return rows, translate(err)
}

// translate bildet Treiberfehler auf Store-Fehler ab.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgReadOnlyCode {
		return fmt.Errorf("%w: %s", ErrReadOnly, pgErr.Message)
	}
	return err
}
