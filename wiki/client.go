package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Die Action API erlaubt maximal 50 Titel bzw. IDs pro Anfrage.
const batchSize = 50

// Client spricht die MediaWiki Action API an.
type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	Logger    *zap.Logger
}

// NewClient erstellt einen neuen Action-API-Client.
func NewClient(baseURL, userAgent string, logger *zap.Logger) *Client {
	return &Client{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Logger:    logger,
	}
}

type apiPage struct {
	PageID    int64          `json:"pageid"`
	Title     string         `json:"title"`
	Missing   bool           `json:"missing"`
	Invalid   bool           `json:"invalid"`
	LastRevID int64          `json:"lastrevid"`
	PageProps map[string]any `json:"pageprops"`
	Revisions []apiRevision  `json:"revisions"`
}

type apiRevision struct {
	RevID     int64    `json:"revid"`
	ParentID  int64    `json:"parentid"`
	Timestamp string   `json:"timestamp"`
	SHA1      string   `json:"sha1"`
	Tags      []string `json:"tags"`
	Slots     struct {
		Main struct {
			Content string `json:"content"`
		} `json:"main"`
	} `json:"slots"`
}

type titleMapping struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type apiResponse struct {
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
	Query struct {
		Normalized []titleMapping `json:"normalized"`
		Redirects  []titleMapping `json:"redirects"`
		Pages  []apiPage `json:"pages"`
		Random []struct {
			Title string `json:"title"`
		} `json:"random"`
	} `json:"query"`
}

func (c *Client) query(ctx context.Context, params url.Values) (*apiResponse, error) {
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("formatversion", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiki api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wiki api request failed with status: %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode wiki api response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("wiki api error %s: %s", out.Error.Code, out.Error.Info)
	}
	return &out, nil
}

// ResolveTitles löst Titel in Batches von 50 auf.
func (c *Client) ResolveTitles(ctx context.Context, titles []string) (map[string]PageRef, error) {
	titles = NormalizeTitles(titles)
	result := make(map[string]PageRef, len(titles))
	for start := 0; start < len(titles); start += batchSize {
		end := min(start+batchSize, len(titles))
		params := url.Values{}
		params.Set("prop", "info")
		params.Set("redirects", "1")
		params.Set("titles", strings.Join(titles[start:end], "|"))

		resp, err := c.query(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Query.Pages {
			if p.Missing || p.Invalid || p.PageID == 0 {
				continue
			}
			ref := PageRef{ID: p.PageID, Title: p.Title, LatestRevisionID: p.LastRevID}
			result[NormalizeTitle(p.Title)] = ref
		}
		// Die API normalisiert zuerst und folgt dann Weiterleitungen; beide Schritte rückwärts eintragen.
		for _, m := range resp.Query.Redirects {
			if ref, ok := result[NormalizeTitle(m.To)]; ok {
				result[NormalizeTitle(m.From)] = ref
			}
		}
		for _, m := range resp.Query.Normalized {
			if ref, ok := result[NormalizeTitle(m.To)]; ok {
				result[NormalizeTitle(m.From)] = ref
			}
		}
	}
	return result, nil
}

// LatestRevisionIDs liefert die aktuelle Revision pro Seite.
func (c *Client) LatestRevisionIDs(ctx context.Context, pageIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(pageIDs))
	for start := 0; start < len(pageIDs); start += batchSize {
		end := min(start+batchSize, len(pageIDs))
		params := url.Values{}
		params.Set("prop", "info")
		params.Set("pageids", joinIDs(pageIDs[start:end]))

		resp, err := c.query(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Query.Pages {
			if p.Missing || p.PageID == 0 {
				continue
			}
			result[p.PageID] = p.LastRevID
		}
	}
	return result, nil
}

// CurrentRevision holt die aktuelle Revision inklusive Wikitext und Tags.
func (c *Client) CurrentRevision(ctx context.Context, title string) (*Revision, error) {
	params := url.Values{}
	params.Set("prop", "revisions")
	params.Set("titles", NormalizeTitle(title))
	params.Set("rvprop", "ids|timestamp|content|sha1|tags")
	params.Set("rvslots", "main")

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Query.Pages) == 0 {
		return nil, ErrPageNotFound
	}
	p := resp.Query.Pages[0]
	if p.Missing || p.Invalid || len(p.Revisions) == 0 {
		return nil, ErrPageNotFound
	}
	r := p.Revisions[0]
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse revision timestamp %q: %w", r.Timestamp, err)
	}
	return &Revision{
		ID:        r.RevID,
		ParentID:  r.ParentID,
		PageID:    p.PageID,
		Title:     p.Title,
		Timestamp: ts,
		Content:   r.Slots.Main.Content,
		SHA1:      r.SHA1,
		Tags:      r.Tags,
	}, nil
}

// IsDisambiguation prüft die Seiteneigenschaft "disambiguation".
func (c *Client) IsDisambiguation(ctx context.Context, pageID int64) (bool, error) {
	params := url.Values{}
	params.Set("prop", "pageprops")
	params.Set("ppprop", "disambiguation")
	params.Set("pageids", strconv.FormatInt(pageID, 10))

	resp, err := c.query(ctx, params)
	if err != nil {
		return false, err
	}
	for _, p := range resp.Query.Pages {
		if _, ok := p.PageProps["disambiguation"]; ok {
			return true, nil
		}
	}
	return false, nil
}

// RevisionHistory liefert Revisionen ohne Inhalt, neueste zuerst.
func (c *Client) RevisionHistory(ctx context.Context, pageID, startRevID int64, limit int) ([]RevisionInfo, error) {
	params := url.Values{}
	params.Set("prop", "revisions")
	params.Set("pageids", strconv.FormatInt(pageID, 10))
	params.Set("rvprop", "ids|sha1|tags")
	params.Set("rvstartid", strconv.FormatInt(startRevID, 10))
	params.Set("rvdir", "older")
	params.Set("rvlimit", strconv.Itoa(limit))

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Query.Pages) == 0 || resp.Query.Pages[0].Missing {
		return nil, ErrPageNotFound
	}
	var out []RevisionInfo
	for _, r := range resp.Query.Pages[0].Revisions {
		out = append(out, RevisionInfo{ID: r.RevID, SHA1: r.SHA1, Tags: r.Tags})
	}
	return out, nil
}

// RandomArticles liefert zufällige Artikel aus dem Hauptnamensraum.
func (c *Client) RandomArticles(ctx context.Context, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("list", "random")
	params.Set("rnnamespace", "0")
	params.Set("rnlimit", strconv.Itoa(limit))

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Query.Random))
	for _, r := range resp.Query.Random {
		titles = append(titles, r.Title)
	}
	c.Logger.Debug("Fetched random articles", zap.Int("count", len(titles)))
	return titles, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, "|")
}
