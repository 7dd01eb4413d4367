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

const googleBaseURL = "https://www.googleapis.com/customsearch/v1"

// GoogleProvider implements Provider using the Google Custom Search API.
type GoogleProvider struct {
	apiKey   string
	searchID string
	client   *http.Client
	baseURL  string
}

// NewGoogleProvider creates a Google Custom Search provider.
func NewGoogleProvider(apiKey, searchID string) *GoogleProvider {
	return &GoogleProvider{
		apiKey:   apiKey,
		searchID: searchID,
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  googleBaseURL,
	}
}

// Name returns the provider identifier.
func (g *GoogleProvider) Name() string { return ProviderGoogle }

// Search performs a search using the Google Custom Search API.
func (g *GoogleProvider) Search(ctx context.Context, query string, cfg Config) ([]core.Candidate, error) {
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.searchID)
	params.Set("q", query)
	n := cfg.MaxResults
	if n <= 0 || n > 10 {
		n = 10 // Google CSE allows max 10 results per request
	}
	params.Set("num", strconv.Itoa(n))
	if cfg.RecencyHours > 0 {
		days := cfg.RecencyHours / 24
		if days < 1 {
			days = 1
		}
		params.Set("sort", "date:r:"+time.Now().AddDate(0, 0, -days).Format("20060102"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google CSE request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute Google CSE request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google CSE request failed with status: %d", resp.StatusCode)
	}

	var apiResponse struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Pagemap struct {
				Metatags []map[string]string `json:"metatags"`
			} `json:"pagemap"`
		} `json:"items"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse Google CSE response: %w", err)
	}
	if apiResponse.Error.Code != 0 {
		return nil, fmt.Errorf("google CSE API error (%d): %s", apiResponse.Error.Code, apiResponse.Error.Message)
	}

	var candidates []core.Candidate
	for _, item := range apiResponse.Items {
		c := core.Candidate{
			ID:       core.HashURL(item.Link),
			Provider: ProviderGoogle,
			Title:    item.Title,
			URL:      item.Link,
			Snippet:  item.Snippet,
		}
		// CSE sometimes exposes a publication time through page metatags.
		for _, tags := range item.Pagemap.Metatags {
			if raw, ok := tags["article:published_time"]; ok {
				if ts, perr := time.Parse(time.RFC3339, raw); perr == nil {
					utc := ts.UTC()
					c.PublishedAt = &utc
					break
				}
			}
		}
		candidates = append(candidates, c)
	}
	logger.Debug("Google Custom Search completed", "query", query, "results", len(candidates))
	return candidates, nil
}
