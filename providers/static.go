package providers

import (
	"context"
	"sync"

	"linkrec/models"
	"linkrec/wiki"
)

// StaticProvider liefert fest hinterlegte Empfehlungen, z.B. für Tests und lokale Entwicklung.
type StaticProvider struct {
	mu       sync.Mutex
	byTitle  map[string]*models.Recommendation
	failures map[string]error
	// Fallback wird für unbekannte Titel zurückgegeben; nil bedeutet "keine Empfehlung".
	Fallback error
	calls    int
}

// NewStaticProvider erstellt einen leeren StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{byTitle: map[string]*models.Recommendation{}, failures: map[string]error{}}
}

// Set hinterlegt eine Empfehlung für ihren Titel.
func (p *StaticProvider) Set(rec *models.Recommendation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byTitle[wiki.NormalizeTitle(rec.Title)] = rec.Clone()
}

// SetError hinterlegt einen Fehler für einen Titel.
func (p *StaticProvider) SetError(title string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[wiki.NormalizeTitle(title)] = err
}

// Calls gibt zurück, wie oft Get aufgerufen wurde.
func (p *StaticProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *StaticProvider) Get(_ context.Context, title string) (*models.Recommendation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	key := wiki.NormalizeTitle(title)
	if err, ok := p.failures[key]; ok {
		return nil, err
	}
	if rec, ok := p.byTitle[key]; ok {
		return rec.Clone(), nil
	}
	if p.Fallback != nil {
		return nil, p.Fallback
	}
	return nil, Warning("no recommendation for %q", title)
}
