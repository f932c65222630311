package providers

import (
	"context"

	"go.uber.org/zap"

	"linkrec/config"
	"linkrec/metrics"
	"linkrec/models"
	"linkrec/wiki"
)

// ExclusionLister liefert die für eine Seite gesperrten Ziele.
type ExclusionLister interface {
	GetExcludedTargets(ctx context.Context, pageID int64, threshold int) (map[int64]struct{}, error)
}

// PruneResult ist das Ergebnis von GetDetailed. Recommendation ist nil, wenn nichts übrig blieb.
type PruneResult struct {
	Recommendation      *models.Recommendation
	RedLinksPruned      int
	ExcludedLinksPruned int
}

// PruningProvider entfernt Links auf nicht existierende Seiten und zu oft abgelehnte Ziele.
type PruningProvider struct {
	Inner      Provider
	Exclusions ExclusionLister
	Titles     wiki.TitleResolver
	TaskType   *config.LinkTaskType
	Logger     *zap.Logger
}

// NewPruningProvider erstellt einen neuen PruningProvider.
func NewPruningProvider(inner Provider, exclusions ExclusionLister, titles wiki.TitleResolver, tt *config.LinkTaskType, logger *zap.Logger) *PruningProvider {
	return &PruningProvider{Inner: inner, Exclusions: exclusions, Titles: titles, TaskType: tt, Logger: logger}
}

func (p *PruningProvider) Get(ctx context.Context, title string) (*models.Recommendation, error) {
	res, err := p.GetDetailed(ctx, title)
	if err != nil {
		return nil, err
	}
	return res.Recommendation, nil
}

// GetDetailed filtert die Empfehlung des inneren Providers. Bleibt kein Link übrig, wird
// zusätzlich zum Ergebnis mit den Zählern eine Warnung zurückgegeben.
func (p *PruningProvider) GetDetailed(ctx context.Context, title string) (PruneResult, error) {
	rec, err := p.Inner.Get(ctx, title)
	if err != nil {
		return PruneResult{}, err
	}

	excluded, err := p.Exclusions.GetExcludedTargets(ctx, rec.PageID, p.TaskType.ExcludedTargetRejectionThreshold)
	if err != nil {
		return PruneResult{}, Fatal(err, "could not load excluded targets for page %d", rec.PageID)
	}
	refs, err := p.Titles.ResolveTitles(ctx, rec.Targets())
	if err != nil {
		return PruneResult{}, Fatal(err, "could not resolve link targets for page %d", rec.PageID)
	}

	var res PruneResult
	kept := rec.FilterLinks(func(l models.Link) bool {
		ref, exists := refs[wiki.NormalizeTitle(l.Target)]
		if !exists {
			if p.TaskType.PruneRedLinks {
				res.RedLinksPruned++
				return false
			}
			return true
		}
		if _, banned := excluded[ref.ID]; banned {
			res.ExcludedLinksPruned++
			return false
		}
		return true
	})

	metrics.LinksPrunedTotal.WithLabelValues("red").Add(float64(res.RedLinksPruned))
	metrics.LinksPrunedTotal.WithLabelValues("excluded").Add(float64(res.ExcludedLinksPruned))

	if len(kept) == 0 {
		p.Logger.Debug("All links pruned",
			zap.String("title", title),
			zap.Int("red", res.RedLinksPruned),
			zap.Int("excluded", res.ExcludedLinksPruned))
		return res, Warning("all %d recommended links were pruned", len(rec.Links))
	}
	res.Recommendation = rec.WithLinks(kept)
	return res, nil
}
