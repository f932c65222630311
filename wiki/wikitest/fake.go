// Package wikitest stellt ein In-Memory-Wiki für Tests bereit.
package wikitest

import (
	"context"
	"sort"
	"sync"
	"time"

	"linkrec/wiki"
)

// Page ist eine Seite des Fake-Wikis; Revisions sind aufsteigend sortiert, die letzte ist aktuell.
type Page struct {
	ID             int64
	Title          string
	Disambiguation bool
	Revisions      []wiki.Revision
}

// Wiki implementiert wiki.TitleResolver, wiki.RevisionSource und wiki.CandidateSource.
type Wiki struct {
	mu      sync.Mutex
	pages     map[int64]*Page
	byTitle   map[string]int64
	redirects map[string]int64

	// Err wird, falls gesetzt, von allen Methoden zurückgegeben.
	Err error
}

// New erstellt ein leeres Fake-Wiki.
func New() *Wiki {
	return &Wiki{pages: map[int64]*Page{}, byTitle: map[string]int64{}, redirects: map[string]int64{}}
}

// AddPage legt eine Seite mit einer einzigen Revision an.
func (w *Wiki) AddPage(id int64, title string, revID int64, content string, ts time.Time) *Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := &Page{ID: id, Title: wiki.NormalizeTitle(title)}
	p.Revisions = append(p.Revisions, wiki.Revision{
		ID: revID, PageID: id, Title: p.Title, Timestamp: ts, Content: content, SHA1: sha(content),
	})
	w.pages[id] = p
	w.byTitle[p.Title] = id
	return p
}

// AddRevision hängt eine neue aktuelle Revision an eine bestehende Seite an.
func (w *Wiki) AddRevision(pageID, revID int64, content string, ts time.Time, tags ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.pages[pageID]
	parent := p.Revisions[len(p.Revisions)-1].ID
	p.Revisions = append(p.Revisions, wiki.Revision{
		ID: revID, ParentID: parent, PageID: pageID, Title: p.Title, Timestamp: ts,
		Content: content, SHA1: sha(content), Tags: tags,
	})
}

// AddRedirect lässt from auf die Seite pageID weiterleiten.
func (w *Wiki) AddRedirect(from string, pageID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.redirects[wiki.NormalizeTitle(from)] = pageID
}

// SetDisambiguation markiert eine Seite als Begriffsklärung.
func (w *Wiki) SetDisambiguation(pageID int64, v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pages[pageID].Disambiguation = v
}

// DeletePage entfernt eine Seite.
func (w *Wiki) DeletePage(pageID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pages[pageID]; ok {
		delete(w.byTitle, p.Title)
		delete(w.pages, pageID)
	}
}

func (w *Wiki) ResolveTitles(_ context.Context, titles []string) (map[string]wiki.PageRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	out := map[string]wiki.PageRef{}
	for _, t := range wiki.NormalizeTitles(titles) {
		id, ok := w.byTitle[t]
		if !ok {
			id, ok = w.redirects[t]
		}
		if p, exists := w.pages[id]; ok && exists {
			out[t] = wiki.PageRef{ID: id, Title: p.Title, LatestRevisionID: p.Revisions[len(p.Revisions)-1].ID}
		}
	}
	return out, nil
}

func (w *Wiki) LatestRevisionIDs(_ context.Context, pageIDs []int64) (map[int64]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	out := map[int64]int64{}
	for _, id := range pageIDs {
		if p, ok := w.pages[id]; ok {
			out[id] = p.Revisions[len(p.Revisions)-1].ID
		}
	}
	return out, nil
}

func (w *Wiki) CurrentRevision(_ context.Context, title string) (*wiki.Revision, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	id, ok := w.byTitle[wiki.NormalizeTitle(title)]
	if !ok {
		return nil, wiki.ErrPageNotFound
	}
	rev := w.pages[id].Revisions[len(w.pages[id].Revisions)-1]
	return &rev, nil
}

func (w *Wiki) IsDisambiguation(_ context.Context, pageID int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return false, w.Err
	}
	p, ok := w.pages[pageID]
	if !ok {
		return false, wiki.ErrPageNotFound
	}
	return p.Disambiguation, nil
}

func (w *Wiki) RevisionHistory(_ context.Context, pageID, startRevID int64, limit int) ([]wiki.RevisionInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	p, ok := w.pages[pageID]
	if !ok {
		return nil, wiki.ErrPageNotFound
	}
	var out []wiki.RevisionInfo
	for i := len(p.Revisions) - 1; i >= 0 && len(out) < limit; i-- {
		r := p.Revisions[i]
		if r.ID > startRevID {
			continue
		}
		out = append(out, wiki.RevisionInfo{ID: r.ID, SHA1: r.SHA1, Tags: r.Tags})
	}
	return out, nil
}

// RandomArticles liefert Titel in aufsteigender Seiten-ID-Reihenfolge.
func (w *Wiki) RandomArticles(_ context.Context, limit int) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	ids := make([]int64, 0, len(w.pages))
	for id := range w.pages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var titles []string
	for _, id := range ids {
		if len(titles) >= limit {
			break
		}
		titles = append(titles, w.pages[id].Title)
	}
	return titles, nil
}

// sha ist eine stabile Pseudo-Prüfsumme; identischer Inhalt ergibt identische Werte.
func sha(content string) string {
	return content
}
