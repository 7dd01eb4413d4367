package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

const googleNewsBaseURL = "https://news.google.com/rss/search"

// rss mirrors the subset of the Google News RSS feed the connector reads.
type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Source      struct {
		Name string `xml:",chardata"`
		URL  string `xml:"url,attr"`
	} `xml:"source"`
}

// GoogleNewsProvider implements Provider over the Google News RSS search
// feed. It needs no API key.
type GoogleNewsProvider struct {
	client  *http.Client
	baseURL string
}

// NewGoogleNewsProvider creates a Google News RSS provider.
func NewGoogleNewsProvider() *GoogleNewsProvider {
	return &GoogleNewsProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: googleNewsBaseURL,
	}
}

// Name returns the provider identifier.
func (g *GoogleNewsProvider) Name() string { return ProviderGoogleNews }

// Search fetches and parses the RSS search feed for the query.
func (g *GoogleNewsProvider) Search(ctx context.Context, query string, cfg Config) ([]core.Candidate, error) {
	params := url.Values{}
	q := query
	if cfg.RecencyHours > 0 {
		q = fmt.Sprintf("%s when:%dh", query, cfg.RecencyHours)
	}
	params.Set("q", q)
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google News request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute Google News request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google News request failed with status: %d", resp.StatusCode)
	}

	var feed rss
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to parse Google News feed: %w", err)
	}

	limit := cfg.MaxResults
	if limit <= 0 {
		limit = 20
	}
	var candidates []core.Candidate
	for _, item := range feed.Channel.Items {
		if item.Link == "" {
			continue
		}
		c := core.Candidate{
			ID:         core.HashURL(item.Link),
			Provider:   ProviderGoogleNews,
			Title:      item.Title,
			URL:        item.Link,
			SourceName: item.Source.Name,
			Snippet:    item.Description,
		}
		if ts, perr := time.Parse(time.RFC1123, item.PubDate); perr == nil {
			utc := ts.UTC()
			c.PublishedAt = &utc
		} else if ts, perr := time.Parse(time.RFC1123Z, item.PubDate); perr == nil {
			utc := ts.UTC()
			c.PublishedAt = &utc
		}
		candidates = append(candidates, c)
		if len(candidates) >= limit {
			break
		}
	}
	logger.Debug("Google News search completed", "query", query, "results", len(candidates))
	return candidates, nil
}
