// Package searchindex überträgt Tag-Änderungen an den Suchindex.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TagLinkRecommendation markiert Seiten mit einer aktiven Link-Empfehlung.
const TagLinkRecommendation = "recommendation.link"

// Page identifiziert die Seite, deren Tags geändert werden.
type Page struct {
	ID    int64  `json:"page_id"`
	Title string `json:"title"`
}

// Sink nimmt Tag-Änderungen entgegen. Die Verarbeitung im Index ist asynchron.
type Sink interface {
	SetTag(ctx context.Context, page Page, tag string) error
	// ResetTags entfernt Tags; joinWindow > 0 erlaubt das Zusammenfassen mit anderen Updates der Seite.
	ResetTags(ctx context.Context, page Page, tags []string, joinWindow time.Duration) error
}

type tagEvent struct {
	Page
	Action            string   `json:"action"`
	Tags              []string `json:"tags"`
	JoinWindowSeconds int      `json:"join_window_seconds,omitempty"`
}

// HTTPSink schickt Events als JSON an den Index-Updater.
type HTTPSink struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *zap.Logger
}

// NewHTTPSink erstellt einen neuen HTTP-Sink.
func NewHTTPSink(baseURL string, logger *zap.Logger) *HTTPSink {
	return &HTTPSink{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}, Logger: logger}
}

func (s *HTTPSink) SetTag(ctx context.Context, page Page, tag string) error {
	return s.send(ctx, tagEvent{Page: page, Action: "set", Tags: []string{tag}})
}

func (s *HTTPSink) ResetTags(ctx context.Context, page Page, tags []string, joinWindow time.Duration) error {
	return s.send(ctx, tagEvent{Page: page, Action: "reset", Tags: tags, JoinWindowSeconds: int(joinWindow / time.Second)})
}

func (s *HTTPSink) send(ctx context.Context, ev tagEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/weighted_tags", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("search index update failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("search index update failed with status: %d", resp.StatusCode)
	}
	s.Logger.Debug("Search index update queued",
		zap.Int64("page_id", ev.ID), zap.String("action", ev.Action), zap.Strings("tags", ev.Tags))
	return nil
}
