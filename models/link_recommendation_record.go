package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// LinkRecommendationRecord ist die persistierte Form einer Recommendation.
// Eindeutig pro Revision, indiziert nach Seite.
type LinkRecommendationRecord struct {
	RevisionID int64          `json:"revision_id" gorm:"primaryKey;autoIncrement:false"`
	PageID     int64          `json:"page_id" gorm:"index;not null"`
	Title      string         `json:"title" gorm:"not null"`
	Data       datatypes.JSON `json:"data" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName gibt explizit den Tabellennamen an.
func (LinkRecommendationRecord) TableName() string {
	return "link_recommendations"
}

type recommendationBlob struct {
	Links []Link   `json:"links"`
	Meta  Metadata `json:"meta"`
}

// NewLinkRecommendationRecord serialisiert Links und Metadaten in den JSON-Blob.
func NewLinkRecommendationRecord(rec *Recommendation) (*LinkRecommendationRecord, error) {
	data, err := json.Marshal(recommendationBlob{Links: rec.Links, Meta: rec.Metadata})
	if err != nil {
		return nil, fmt.Errorf("encode recommendation for revision %d: %w", rec.RevisionID, err)
	}
	return &LinkRecommendationRecord{
		RevisionID: rec.RevisionID,
		PageID:     rec.PageID,
		Title:      rec.Title,
		Data:       datatypes.JSON(data),
	}, nil
}

// Recommendation dekodiert den Blob. Der Aufrufer erhält eine unabhängige Kopie.
func (r *LinkRecommendationRecord) Recommendation() (*Recommendation, error) {
	var blob recommendationBlob
	if err := json.Unmarshal(r.Data, &blob); err != nil {
		return nil, fmt.Errorf("decode recommendation for revision %d: %w", r.RevisionID, err)
	}
	return &Recommendation{
		Title:      r.Title,
		PageID:     r.PageID,
		RevisionID: r.RevisionID,
		Links:      blob.Links,
		Metadata:   blob.Meta,
	}, nil
}
