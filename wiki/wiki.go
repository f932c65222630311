// Package wiki kapselt den Zugriff auf Seiten- und Revisionsdaten des Wikis.
package wiki

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrPageNotFound wird zurückgegeben, wenn eine Seite nicht existiert.
var ErrPageNotFound = errors.New("page not found")

// Change-Tags, die für die Prüfung der letzten Bearbeitung relevant sind.
const (
	TagLinkRecommendation = "newcomer task add link"
	TagManualRevert       = "mw-manual-revert"
	TagRollback           = "mw-rollback"
	TagUndo               = "mw-undo"
)

// RevertTags sind Tags, mit denen Reverts markiert werden.
var RevertTags = []string{TagManualRevert, TagRollback, TagUndo}

// PageRef identifiziert eine existierende Seite.
type PageRef struct {
	ID               int64
	Title            string
	LatestRevisionID int64
}

// Revision ist eine konkrete Inhaltsfassung einer Seite.
type Revision struct {
	ID        int64
	ParentID  int64
	PageID    int64
	Title     string
	Timestamp time.Time
	Content   string
	SHA1      string
	Tags      []string
}

// HasTag prüft, ob die Revision einen Change-Tag trägt.
func (r *Revision) HasTag(tag string) bool {
	return containsTag(r.Tags, tag)
}

// RevisionInfo ist eine Revision ohne Inhalt.
type RevisionInfo struct {
	ID   int64
	SHA1 string
	Tags []string
}

// HasTag prüft, ob die Revision einen Change-Tag trägt.
func (r RevisionInfo) HasTag(tag string) bool {
	return containsTag(r.Tags, tag)
}

// TitleResolver löst Titel in Seiten-IDs auf.
type TitleResolver interface {
	// ResolveTitles liefert eine Map von normalisiertem Titel auf PageRef. Fehlende Seiten fehlen in der Map.
	ResolveTitles(ctx context.Context, titles []string) (map[string]PageRef, error)
	// LatestRevisionIDs liefert die aktuelle Revision pro existierender Seite.
	LatestRevisionIDs(ctx context.Context, pageIDs []int64) (map[int64]int64, error)
}

// RevisionSource liefert Revisionsinhalte und Metadaten.
type RevisionSource interface {
	CurrentRevision(ctx context.Context, title string) (*Revision, error)
	IsDisambiguation(ctx context.Context, pageID int64) (bool, error)
	// RevisionHistory liefert bis zu limit Revisionen, neueste zuerst, beginnend bei startRevID.
	RevisionHistory(ctx context.Context, pageID, startRevID int64, limit int) ([]RevisionInfo, error)
}

// CandidateSource liefert Artikel, für die Empfehlungen erzeugt werden können.
type CandidateSource interface {
	RandomArticles(ctx context.Context, limit int) ([]string, error)
}

// NormalizeTitle bringt einen Titel oder ein Linkziel in kanonische Form (NFC, Leerzeichen statt
// Unterstrichen, erster Buchstabe groß).
func NormalizeTitle(title string) string {
	if nfc, _, err := transform.String(transform.Chain(norm.NFC), title); err == nil {
		title = nfc
	}
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

// NormalizeTitles normalisiert und dedupliziert, Reihenfolge bleibt erhalten.
func NormalizeTitles(titles []string) []string {
	seen := make(map[string]bool, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		n := NormalizeTitle(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// IsRevertTag meldet, ob tag einen Revert kennzeichnet.
func IsRevertTag(tag string) bool {
	return containsTag(RevertTags, tag)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
