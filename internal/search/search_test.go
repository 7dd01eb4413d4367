package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEnabledProviders(t *testing.T) {
	providers := Enabled(Keys{
		GoogleCSEKey: "k", GoogleCSECX: "cx",
		NewsAPIKey: "nk",
	}, false)
	names := map[string]bool{}
	for _, p := range providers {
		names[p.Name()] = true
	}
	if !names[ProviderGoogle] || !names[ProviderNewsAPI] || !names[ProviderGoogleNews] {
		t.Errorf("unexpected provider set: %v", names)
	}
	if names[ProviderEventRegistry] {
		t.Error("event registry should be disabled without a key")
	}

	if got := Enabled(Keys{}, true); len(got) != 0 {
		t.Errorf("no keys and RSS disabled should yield no providers, got %d", len(got))
	}
}

func TestIsGoogleLike(t *testing.T) {
	if !IsGoogleLike(ProviderGoogle) || !IsGoogleLike(ProviderGoogleNews) {
		t.Error("google connectors should be date-exempt")
	}
	if IsGoogleLike(ProviderNewsAPI) || IsGoogleLike(ProviderEventRegistry) {
		t.Error("non-google connectors must not be date-exempt")
	}
}

func TestGoogleProviderParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cx") != "engine" {
			t.Errorf("missing cx param")
		}
		_, _ = w.Write([]byte(`{"items": [
			{"title": "Story A", "link": "https://a.example.com/story", "snippet": "about a"},
			{"title": "Story B", "link": "https://b.example.com/story", "snippet": "about b",
			 "pagemap": {"metatags": [{"article:published_time": "2026-02-10T10:00:00Z"}]}}
		]}`))
	}))
	defer srv.Close()

	p := NewGoogleProvider("key", "engine")
	p.baseURL = srv.URL
	got, err := p.Search(context.Background(), "ai regulation", Config{MaxResults: 10, RecencyHours: 168})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Provider != ProviderGoogle || got[0].PublishedAt != nil {
		t.Errorf("candidate 0 = %+v", got[0])
	}
	if got[1].PublishedAt == nil {
		t.Error("candidate 1 should carry the metatag publication time")
	}
}

func TestGoogleProviderSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "quota exceeded"}}`))
	}))
	defer srv.Close()

	p := NewGoogleProvider("key", "engine")
	p.baseURL = srv.URL
	if _, err := p.Search(context.Background(), "q", Config{}); err == nil {
		t.Fatal("expected API error")
	}
}

func TestNewsAPIProviderParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "nk" {
			t.Error("missing API key header")
		}
		_, _ = w.Write([]byte(`{"status": "ok", "articles": [
			{"title": "T", "url": "https://news.example.com/t", "description": "d",
			 "content": "full text", "publishedAt": "2026-02-09T12:00:00Z",
			 "source": {"name": "Example News"}}
		]}`))
	}))
	defer srv.Close()

	p := NewNewsAPIProvider("nk")
	p.baseURL = srv.URL
	got, err := p.Search(context.Background(), "topic", Config{MaxResults: 20, RecencyHours: 72})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].SourceName != "Example News" || got[0].PublishedAt == nil {
		t.Errorf("unexpected candidates: %+v", got)
	}
	if got[0].ProviderData != "full text" {
		t.Errorf("provider data should carry the content field")
	}
}

func TestEventRegistryProviderParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"articles": {"results": [
			{"title": "E", "url": "https://er.example.com/e", "body": "body text",
			 "dateTime": "2026-02-08T09:30:00Z", "source": {"title": "ER Source"}}
		]}}`))
	}))
	defer srv.Close()

	p := NewEventRegistryProvider("ek")
	p.baseURL = srv.URL
	got, err := p.Search(context.Background(), "topic", Config{MaxResults: 10})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].PublishedAt == nil || got[0].ProviderData != "body text" {
		t.Errorf("unexpected candidates: %+v", got)
	}
}

func TestGoogleNewsProviderParsesFeed(t *testing.T) {
	feed := `<?xml version="1.0"?><rss version="2.0"><channel>
	<item><title>N1</title><link>https://pub.example.com/n1</link>
	<pubDate>Tue, 10 Feb 2026 08:00:00 GMT</pubDate>
	<source url="https://pub.example.com">Publisher</source></item>
	<item><title>N2</title><link>https://pub.example.com/n2</link>
	<pubDate>not a date</pubDate></item>
	</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	p := NewGoogleNewsProvider()
	p.baseURL = srv.URL
	got, err := p.Search(context.Background(), "topic", Config{MaxResults: 10, RecencyHours: 48})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].SourceName != "Publisher" || got[0].PublishedAt == nil {
		t.Errorf("candidate 0 = %+v", got[0])
	}
	if got[1].PublishedAt != nil {
		t.Error("unparseable pubDate should leave PublishedAt nil")
	}
}
