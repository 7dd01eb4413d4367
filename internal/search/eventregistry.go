package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

const eventRegistryBaseURL = "https://eventregistry.org/api/v1/article/getArticles"

// EventRegistryProvider implements Provider using the Event Registry
// article search API.
type EventRegistryProvider struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

// NewEventRegistryProvider creates an Event Registry provider.
func NewEventRegistryProvider(apiKey string) *EventRegistryProvider {
	return &EventRegistryProvider{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: eventRegistryBaseURL,
	}
}

// Name returns the provider identifier.
func (e *EventRegistryProvider) Name() string { return ProviderEventRegistry }

// Search posts an article query to Event Registry.
func (e *EventRegistryProvider) Search(ctx context.Context, query string, cfg Config) ([]core.Candidate, error) {
	size := cfg.MaxResults
	if size <= 0 || size > 100 {
		size = 20
	}
	payload := map[string]any{
		"action":         "getArticles",
		"keyword":        query,
		"articlesCount":  size,
		"articlesSortBy": "date",
		"lang":           "eng",
		"apiKey":         e.apiKey,
	}
	if cfg.RecencyHours > 0 {
		from := time.Now().Add(-time.Duration(cfg.RecencyHours) * time.Hour).UTC()
		payload["dateStart"] = from.Format("2006-01-02")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Event Registry request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create Event Registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute Event Registry request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("event Registry request failed with status: %d", resp.StatusCode)
	}

	var apiResponse struct {
		Error    string `json:"error"`
		Articles struct {
			Results []struct {
				Title    string `json:"title"`
				URL      string `json:"url"`
				Body     string `json:"body"`
				DateTime string `json:"dateTime"`
				Source   struct {
					Title string `json:"title"`
				} `json:"source"`
			} `json:"results"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse Event Registry response: %w", err)
	}
	if apiResponse.Error != "" {
		return nil, fmt.Errorf("event Registry API error: %s", apiResponse.Error)
	}

	var candidates []core.Candidate
	for _, a := range apiResponse.Articles.Results {
		if a.URL == "" {
			continue
		}
		c := core.Candidate{
			ID:           core.HashURL(a.URL),
			Provider:     ProviderEventRegistry,
			Title:        a.Title,
			URL:          a.URL,
			SourceName:   a.Source.Title,
			ProviderData: a.Body,
		}
		if ts, perr := time.Parse("2006-01-02T15:04:05Z", a.DateTime); perr == nil {
			utc := ts.UTC()
			c.PublishedAt = &utc
		}
		candidates = append(candidates, c)
	}
	logger.Debug("Event Registry search completed", "query", query, "results", len(candidates))
	return candidates, nil
}
