package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIProvider implements Provider using the NewsAPI "everything"
// endpoint.
type NewsAPIProvider struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

// NewNewsAPIProvider creates a NewsAPI provider.
func NewNewsAPIProvider(apiKey string) *NewsAPIProvider {
	return &NewsAPIProvider{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: newsAPIBaseURL,
	}
}

// Name returns the provider identifier.
func (n *NewsAPIProvider) Name() string { return ProviderNewsAPI }

// Search queries NewsAPI sorted by publication date inside the recency
// window.
func (n *NewsAPIProvider) Search(ctx context.Context, query string, cfg Config) ([]core.Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	size := cfg.MaxResults
	if size <= 0 || size > 100 {
		size = 20
	}
	params.Set("pageSize", strconv.Itoa(size))
	if cfg.RecencyHours > 0 {
		from := time.Now().Add(-time.Duration(cfg.RecencyHours) * time.Hour).UTC()
		params.Set("from", from.Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create NewsAPI request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute NewsAPI request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResponse struct {
		Status   string `json:"status"`
		Code     string `json:"code"`
		Message  string `json:"message"`
		Articles []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Content     string `json:"content"`
			PublishedAt string `json:"publishedAt"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse NewsAPI response: %w", err)
	}
	if apiResponse.Status != "ok" {
		return nil, fmt.Errorf("newsAPI error (%s): %s", apiResponse.Code, apiResponse.Message)
	}

	var candidates []core.Candidate
	for _, a := range apiResponse.Articles {
		if a.URL == "" {
			continue
		}
		c := core.Candidate{
			ID:           core.HashURL(a.URL),
			Provider:     ProviderNewsAPI,
			Title:        a.Title,
			URL:          a.URL,
			SourceName:   a.Source.Name,
			Snippet:      a.Description,
			ProviderData: a.Content,
		}
		if ts, perr := time.Parse(time.RFC3339, a.PublishedAt); perr == nil {
			utc := ts.UTC()
			c.PublishedAt = &utc
		}
		candidates = append(candidates, c)
	}
	logger.Debug("NewsAPI search completed", "query", query, "results", len(candidates))
	return candidates, nil
}
