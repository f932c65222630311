package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"linkrec/config"
	"linkrec/models"
	"linkrec/providers"
	"linkrec/wiki"
)

// Request ist der Body für den Link-Recommendation-Dienst.
type Request struct {
	PageID            int64    `json:"pageid"`
	RevID             int64    `json:"revid"`
	Wikitext          string   `json:"wikitext"`
	SectionsToExclude []string `json:"sections_to_exclude,omitempty"`
}

// Response repräsentiert die JSON-Antwort des Dienstes.
type Response struct {
	PageID int64          `json:"page_id"`
	RevID  int64          `json:"revid"`
	Links  []responseLink `json:"links"`
	Meta   struct {
		ApplicationVersion string            `json:"application_version"`
		FormatVersion      int               `json:"format_version"`
		DatasetChecksums   map[string]string `json:"dataset_checksums"`
	} `json:"meta"`
}

type responseLink struct {
	LinkText       string  `json:"link_text"`
	LinkTarget     string  `json:"link_target"`
	MatchIndex     int     `json:"match_index"`
	WikitextOffset *int    `json:"wikitext_offset"`
	Score          float64 `json:"score"`
	ContextBefore  string  `json:"context_before"`
	ContextAfter   string  `json:"context_after"`
	LinkIndex      int     `json:"link_index"`
}

type errorResponse struct {
	Detail     string `json:"detail"`
	HTTPReason string `json:"httpReason"`
}

// Fetcher fragt den externen Dienst nach Empfehlungen für die aktuelle Revision eines Artikels.
type Fetcher struct {
	Config    *config.Config
	TaskType  *config.LinkTaskType
	Revisions wiki.RevisionSource
	HTTP      *http.Client
	Logger    *zap.Logger
}

// NewFetcher erstellt einen neuen Fetcher. Es gibt keine Wiederholungsversuche.
func NewFetcher(cfg *config.Config, tt *config.LinkTaskType, revisions wiki.RevisionSource, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:    cfg,
		TaskType:  tt,
		Revisions: revisions,
		HTTP:      &http.Client{Timeout: cfg.ServiceTimeout},
		Logger:    logger,
	}
}

func (f *Fetcher) Get(ctx context.Context, title string) (*models.Recommendation, error) {
	rev, err := f.Revisions.CurrentRevision(ctx, title)
	if errors.Is(err, wiki.ErrPageNotFound) {
		return nil, providers.Warning("page %q not found", title)
	}
	if err != nil {
		return nil, providers.Fatal(err, "could not load revision for %q", title)
	}

	log := f.Logger.With(zap.String("title", rev.Title), zap.Int64("revision_id", rev.ID))

	body, err := json.Marshal(Request{
		PageID:            rev.PageID,
		RevID:             rev.ID,
		Wikitext:          rev.Content,
		SectionsToExclude: f.TaskType.ExcludedSections,
	})
	if err != nil {
		return nil, providers.Fatal(err, "could not encode request")
	}

	q := url.Values{}
	q.Set("threshold", strconv.FormatFloat(f.TaskType.MinimumLinkScore, 'f', -1, 64))
	q.Set("max_recommendations", strconv.Itoa(f.TaskType.MaximumLinksToShowPerTask*5))
	endpoint := fmt.Sprintf("%s/v1/linkrecommendations/%s/%s/%s?%s",
		f.Config.ServiceURL, f.Config.ServiceProject, f.Config.ServiceLanguage,
		url.PathEscape(rev.Title), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, providers.Fatal(err, "could not build request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.HTTP.Do(req)
	if err != nil {
		log.Warn("Link recommendation service request failed", zap.Error(err))
		return nil, providers.Fatal(err, "link recommendation service request failed")
	}
	defer resp.Body.Close()
	log.Debug("Link recommendation service responded", zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.Fatal(err, "could not read service response")
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		msg := er.Detail
		if msg == "" {
			msg = er.HTTPReason
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, providers.Warning("service has no data for %q: %s", rev.Title, msg)
		}
		return nil, providers.Fatal(nil, "service request failed with status %d: %s", resp.StatusCode, msg)
	}

	var sr Response
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, providers.Fatal(err, "invalid JSON from link recommendation service")
	}
	if len(sr.Links) == 0 {
		return nil, providers.Warning("no recommendations for %q", rev.Title)
	}

	links := make([]models.Link, 0, len(sr.Links))
	for _, l := range sr.Links {
		links = append(links, models.Link{
			Text:           l.LinkText,
			Target:         l.LinkTarget,
			MatchIndex:     l.MatchIndex + 1,
			WikitextOffset: l.WikitextOffset,
			Score:          l.Score,
			ContextBefore:  l.ContextBefore,
			ContextAfter:   l.ContextAfter,
			LinkIndex:      l.LinkIndex + 1,
		})
	}

	pageID, revID := sr.PageID, sr.RevID
	if pageID == 0 {
		pageID = rev.PageID
	}
	if revID == 0 {
		revID = rev.ID
	}
	return models.NewRecommendation(rev.Title, pageID, revID, links, models.Metadata{
		ApplicationVersion: sr.Meta.ApplicationVersion,
		FormatVersion:      sr.Meta.FormatVersion,
		DatasetChecksums:   sr.Meta.DatasetChecksums,
	}), nil
}
