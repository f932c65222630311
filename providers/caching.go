package providers

import (
	"context"

	"go.uber.org/zap"

	"linkrec/models"
	"linkrec/storage"
)

// CachingProvider liest zuerst aus dem Store und fragt bei einem Fehlschlag den inneren Provider.
type CachingProvider struct {
	Store  *storage.Store
	Inner  Provider
	Logger *zap.Logger
	// Populate speichert Ergebnisse des inneren Providers im Store.
	Populate bool
}

// NewCachingProvider erstellt einen DB-gestützten Provider.
func NewCachingProvider(store *storage.Store, inner Provider, populate bool, logger *zap.Logger) *CachingProvider {
	return &CachingProvider{Store: store, Inner: inner, Logger: logger, Populate: populate}
}

func (p *CachingProvider) Get(ctx context.Context, title string) (*models.Recommendation, error) {
	log := p.Logger.With(zap.String("title", title))

	rec, err := p.Store.GetByTitle(ctx, title, storage.ReadReplica, false)
	if err != nil {
		log.Warn("Recommendation store lookup failed, falling back to inner provider", zap.Error(err))
	} else if rec != nil {
		return rec, nil
	}

	rec, err = p.Inner.Get(ctx, title)
	if err != nil {
		return nil, err
	}
	if p.Populate {
		if err := p.Store.Insert(ctx, rec); err != nil {
			log.Warn("Could not cache recommendation", zap.Int64("revision_id", rec.RevisionID), zap.Error(err))
		}
	}
	return rec, nil
}
