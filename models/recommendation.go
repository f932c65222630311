package models

// Link ist ein einzelner vorgeschlagener Link innerhalb eines Artikels.
type Link struct {
	// Ankertext, wie er im Klartext des Artikels vorkommt.
	Text string `json:"text"`
	// Linkziel als roher Titel.
	Target string `json:"target"`
	// 1-basierter Index des Vorkommens von Text im Klartext.
	MatchIndex int `json:"match_index"`
	// Position im Wikitext, falls der Dienst sie liefert.
	WikitextOffset *int    `json:"wikitext_offset,omitempty"`
	Score          float64 `json:"score"`
	ContextBefore  string  `json:"context_before"`
	ContextAfter   string  `json:"context_after"`
	// 1-basierte Reihenfolge in Leserichtung; bestimmt die Anzeige.
	LinkIndex int `json:"link_index"`
}

// Metadata beschreibt, wie eine Empfehlung erzeugt wurde.
type Metadata struct {
	ApplicationVersion string            `json:"application_version"`
	FormatVersion      int               `json:"format_version"`
	DatasetChecksums   map[string]string `json:"dataset_checksums,omitempty"`
}

// Recommendation ist ein Satz vorgeschlagener Links für genau eine Revision eines Artikels.
// Werte werden nach der Erzeugung nicht verändert; WithLinks liefert eine neue Instanz.
type Recommendation struct {
	Title      string   `json:"title"`
	PageID     int64    `json:"page_id"`
	RevisionID int64    `json:"revision_id"`
	Links      []Link   `json:"links"`
	Metadata   Metadata `json:"meta"`
}

// NewRecommendation kopiert links, damit der Aufrufer die Slice weiterverwenden kann.
func NewRecommendation(title string, pageID, revisionID int64, links []Link, meta Metadata) *Recommendation {
	return &Recommendation{
		Title:      title,
		PageID:     pageID,
		RevisionID: revisionID,
		Links:      copyLinks(links),
		Metadata:   copyMetadata(meta),
	}
}

// WithLinks erzeugt eine Empfehlung mit gleicher Identität, aber anderen Links.
func (r *Recommendation) WithLinks(links []Link) *Recommendation {
	return NewRecommendation(r.Title, r.PageID, r.RevisionID, links, r.Metadata)
}

// Clone liefert eine tiefe Kopie.
func (r *Recommendation) Clone() *Recommendation {
	return r.WithLinks(r.Links)
}

// Targets gibt die Linkziele in Anzeige-Reihenfolge zurück; Duplikate bleiben erhalten.
func (r *Recommendation) Targets() []string {
	targets := make([]string, 0, len(r.Links))
	for _, l := range r.Links {
		targets = append(targets, l.Target)
	}
	return targets
}

// FilterLinks behält nur die Links, für die keep true liefert.
func (r *Recommendation) FilterLinks(keep func(Link) bool) []Link {
	var out []Link
	for _, l := range r.Links {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func copyLinks(links []Link) []Link {
	out := make([]Link, len(links))
	for i, l := range links {
		if l.WikitextOffset != nil {
			off := *l.WikitextOffset
			l.WikitextOffset = &off
		}
		out[i] = l
	}
	return out
}

func copyMetadata(m Metadata) Metadata {
	if m.DatasetChecksums == nil {
		return m
	}
	sums := make(map[string]string, len(m.DatasetChecksums))
	for k, v := range m.DatasetChecksums {
		sums[k] = v
	}
	m.DatasetChecksums = sums
	return m
}
