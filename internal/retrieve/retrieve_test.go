package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/search"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestRetrieveDedupesAcrossProviders(t *testing.T) {
	a := &search.MockProvider{ProviderName: "alpha", Candidates: []core.Candidate{
		{Title: "One", URL: "https://example.com/one?utm_source=x", PublishedAt: ts("2026-02-10T10:00:00Z")},
		{Title: "Two", URL: "https://example.com/two", PublishedAt: ts("2026-02-09T10:00:00Z")},
	}}
	b := &search.MockProvider{ProviderName: "beta", Candidates: []core.Candidate{
		{Title: "One again", URL: "https://EXAMPLE.com/one", PublishedAt: ts("2026-02-10T10:00:00Z")},
		{Title: "Three", URL: "https://example.com/three"},
	}}

	r := NewRetriever([]search.Provider{a, b}, nil)
	got, err := r.Retrieve(context.Background(), Params{Topic: "ai policy", MaxPerQuery: 10})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got.Candidates) != 3 {
		t.Fatalf("expected 3 unique candidates, got %d", len(got.Candidates))
	}
	if got.Metrics["alpha"].Unique != 2 || got.Metrics["beta"].Unique != 1 || got.Metrics["beta"].Deduped != 1 {
		t.Errorf("metrics = alpha:%+v beta:%+v", got.Metrics["alpha"], got.Metrics["beta"])
	}
	for _, c := range got.Candidates {
		if c.ID == "" {
			t.Errorf("candidate %q has no id", c.URL)
		}
	}
	// Freshest first, undated last.
	if got.Candidates[len(got.Candidates)-1].URL != "https://example.com/three" {
		t.Errorf("undated candidate should sort last: %+v", got.Candidates)
	}
}

func TestRetrieveIsolatesProviderFailure(t *testing.T) {
	ok := &search.MockProvider{ProviderName: "ok", Candidates: []core.Candidate{
		{Title: "A", URL: "https://example.com/a"},
	}}
	broken := &search.MockProvider{ProviderName: "broken", Err: errors.New("boom")}

	r := NewRetriever([]search.Provider{ok, broken}, nil)
	got, err := r.Retrieve(context.Background(), Params{Topic: "topic"})
	if err != nil {
		t.Fatalf("one failing provider must not abort the batch: %v", err)
	}
	if len(got.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got.Candidates))
	}
	m := got.Metrics["broken"]
	if !m.Failed || m.FailureMsg == "" || len(m.Errors) == 0 {
		t.Errorf("failure not recorded: %+v", m)
	}
}

func TestRetrieveCapsProviderDataAndCandidates(t *testing.T) {
	var cands []core.Candidate
	for i := 0; i < 5; i++ {
		cands = append(cands, core.Candidate{
			Title:        "T",
			URL:          "https://example.com/" + string(rune('a'+i)),
			ProviderData: strings.Repeat("x", 6000),
		})
	}
	p := &search.MockProvider{ProviderName: "p", Candidates: cands}
	r := NewRetriever([]search.Provider{p}, nil)
	got, err := r.Retrieve(context.Background(), Params{Topic: "topic", MaxCandidates: 3})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got.Candidates) != 3 {
		t.Fatalf("candidate cap not applied: %d", len(got.Candidates))
	}
	for _, c := range got.Candidates {
		if len(c.ProviderData) != maxProviderDataChars {
			t.Errorf("provider data not capped: %d", len(c.ProviderData))
		}
	}
}

func TestRetrieveRejectsEmptyTopicAndNoProviders(t *testing.T) {
	r := NewRetriever([]search.Provider{&search.MockProvider{ProviderName: "p"}}, nil)
	if _, err := r.Retrieve(context.Background(), Params{Topic: "   "}); err == nil {
		t.Error("empty topic should fail")
	}
	r = NewRetriever(nil, nil)
	if _, err := r.Retrieve(context.Background(), Params{Topic: "x"}); err == nil {
		t.Error("no providers should fail")
	}
}

func TestDedupeQueries(t *testing.T) {
	got := dedupeQueries([]string{" ai policy ", "AI Policy", "", "chips", "funding", "extra"}, 3)
	if len(got) != 3 || got[0] != "ai policy" || got[1] != "chips" {
		t.Errorf("dedupeQueries = %v", got)
	}
}
