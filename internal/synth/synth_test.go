package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/config"
	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
)

func scriptedClient(fn func(prompt string, call int) (string, error)) *llm.Client {
	calls := 0
	gate := llm.NewScriptedGate(func(_ context.Context, _ string, prompt string, _ llm.CallOptions) (string, error) {
		calls++
		return fn(prompt, calls)
	})
	return llm.NewClient(gate, config.Gemini{
		APIKey:            "test-key",
		Model:             "gemini-2.5-pro",
		RequestsPerMinute: 10,
	})
}

func makeEvidence(citations int) []core.EvidenceItem {
	var cits []core.Citation
	for i := 1; i <= citations; i++ {
		pub := time.Date(2026, 2, i, 10, 0, 0, 0, time.UTC)
		cits = append(cits, core.Citation{
			ID:          i,
			Title:       fmt.Sprintf("Source %d", i),
			URL:         fmt.Sprintf("https://example.com/%d", i),
			Source:      fmt.Sprintf("Outlet %d", i),
			PublishedAt: &pub,
		})
	}
	return []core.EvidenceItem{{OutlineIndex: 0, Point: "point", Digest: "digest", Citations: cits}}
}

func goodArticle() string {
	return `The week brought major developments [1] across the sector [2]. Regulators moved first [3] while vendors responded [4].

Funding followed quickly [5] with several rounds closing [6]. Analysts see the trend continuing [7] into next quarter [8].`
}

func articleJSON(title, article string) string {
	b, _ := json.Marshal(map[string]any{"title": title, "article": article})
	return string(b)
}

func synthParams() Params {
	return Params{
		Topic:    "sector news",
		Outline:  core.OutlinePayload{Thesis: "thesis", Outline: []core.OutlinePoint{{Point: "point"}}},
		Evidence: makeEvidence(10),
	}
}

func TestBuildSourceCatalogOrderAndDedup(t *testing.T) {
	pub := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	evidence := []core.EvidenceItem{{Citations: []core.Citation{
		{Title: "A", URL: "https://a.example.com/x", PublishedAt: &pub},
		{Title: "B", URL: "https://b.example.com/y"},
	}}}
	clusters := []core.StoryCluster{{Citations: []core.Citation{
		{Title: "A dup", URL: "https://a.example.com/x"},
		{Title: "C", URL: "https://c.example.com/z"},
	}}}
	got := BuildSourceCatalog(evidence, clusters)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.ID != i+1 {
			t.Errorf("entry %d has id %d", i, e.ID)
		}
	}
	if got[0].Title != "A" || got[2].Title != "C" {
		t.Errorf("first-seen order violated: %+v", got)
	}
}

func TestSynthesizeHappyPath(t *testing.T) {
	s := NewSynthesizer(scriptedClient(func(string, int) (string, error) {
		return articleJSON("Weekly briefing", goodArticle()), nil
	}))
	got, err := s.Synthesize(context.Background(), synthParams())
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if got.Title != "Weekly briefing" || got.Attempts != 1 {
		t.Errorf("title=%q attempts=%d", got.Title, got.Attempts)
	}
	if !strings.Contains(got.Article, keyDevHeading) {
		t.Error("key developments section missing")
	}
	if !strings.Contains(got.Article, "- 2026-02-10 - Outlet 10 - Source 10 (https://example.com/10) [10]") {
		t.Errorf("bullet format wrong:\n%s", got.Article)
	}
	if len(got.Sources) != 8 || got.Sources[0].ID != 1 {
		t.Errorf("sources should follow the used citations: %+v", got.Sources)
	}
	if got.NoveltyScore != 1 {
		t.Errorf("novelty with no previous article = %v", got.NoveltyScore)
	}
	if len(got.SourceCatalog) != 10 {
		t.Errorf("catalog = %d entries", len(got.SourceCatalog))
	}
	// Short article: the word-count warning must fire but not fail the run.
	found := false
	for _, w := range got.Warnings {
		if strings.Contains(w, "outside the 350-900 target") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected word-count warning, got %v", got.Warnings)
	}
}

func TestSynthesizeRepairsOnTooFewCitations(t *testing.T) {
	var sawRepair bool
	s := NewSynthesizer(scriptedClient(func(prompt string, call int) (string, error) {
		if call == 1 {
			return articleJSON("T", "Barely cited prose [1] that runs long enough to matter."), nil
		}
		if strings.Contains(prompt, "violated these rules") {
			sawRepair = true
		}
		return articleJSON("T", goodArticle()), nil
	}))
	got, err := s.Synthesize(context.Background(), synthParams())
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if got.Attempts != 2 || !sawRepair {
		t.Errorf("attempts=%d sawRepair=%v", got.Attempts, sawRepair)
	}
}

func TestSynthesizeFailsOnUnknownCitation(t *testing.T) {
	body := goodArticle() + "\n\nAnd a stray reference [42] to nothing."
	s := NewSynthesizer(scriptedClient(func(string, int) (string, error) {
		return articleJSON("T", body), nil
	}))
	if _, err := s.Synthesize(context.Background(), synthParams()); err == nil {
		t.Fatal("citation outside the catalog must fail after repairs")
	}
}

func TestSynthesizeRequiresCatalog(t *testing.T) {
	s := NewSynthesizer(scriptedClient(func(string, int) (string, error) {
		t.Fatal("model must not be called without sources")
		return "", nil
	}))
	if _, err := s.Synthesize(context.Background(), Params{Topic: "t"}); err == nil {
		t.Fatal("empty catalog must fail")
	}
}

func TestCoercePayloadFieldVariants(t *testing.T) {
	catalog := BuildSourceCatalog(makeEvidence(3), nil)
	m := map[string]any{
		"headline": "H",
		"body":     "text [1] more [2]",
		"citations": []any{
			map[string]any{"id": float64(2), "title": "override"},
			map[string]any{"id": float64(99)},
		},
	}
	d := coercePayload(m, catalog)
	if d.Title != "H" || d.Article != "text [1] more [2]" {
		t.Errorf("draft = %+v", d)
	}
	if len(d.Sources) != 1 || d.Sources[0].ID != 2 || d.Sources[0].Title != "override" {
		t.Errorf("sources = %+v", d.Sources)
	}
}

func TestCoercePayloadSectionsAndRawNesting(t *testing.T) {
	catalog := BuildSourceCatalog(makeEvidence(2), nil)
	m := map[string]any{
		"raw": map[string]any{
			"title": "Nested",
			"sections": []any{
				map[string]any{"heading": "Intro", "text": "opening [1]"},
				map[string]any{"content": "closing [2]"},
			},
		},
	}
	d := coercePayload(m, catalog)
	if d.Title != "Nested" {
		t.Errorf("title = %q", d.Title)
	}
	if !strings.Contains(d.Article, "## Intro") || !strings.Contains(d.Article, "closing [2]") {
		t.Errorf("article = %q", d.Article)
	}
	if len(d.Sources) != 2 {
		t.Errorf("sources from marks = %+v", d.Sources)
	}
}

func TestCoerceSourcesFallsBackToCatalogHead(t *testing.T) {
	catalog := BuildSourceCatalog(makeEvidence(12), nil)
	got := coerceSources(map[string]any{}, "no marks here", catalog)
	if len(got) != 10 || got[0].ID != 1 {
		t.Errorf("fallback sources = %d entries", len(got))
	}
}

func TestRewriteKeyDevelopmentsReplacesVariants(t *testing.T) {
	catalog := BuildSourceCatalog(makeEvidence(3), nil)
	for _, heading := range []string{
		"**Key developments (past 14 days):**",
		"Key developments:",
		"## Key Developments",
	} {
		article := "Opening prose.\n\n" + heading + "\n- old bullet one\n- old bullet two\n\nClosing prose."
		got := rewriteKeyDevelopments(article, catalog, 7)
		if strings.Contains(got, "old bullet") {
			t.Errorf("heading %q: old bullets kept:\n%s", heading, got)
		}
		if !strings.Contains(got, keyDevHeading) {
			t.Errorf("heading %q: canonical heading missing", heading)
		}
		if !strings.Contains(got, "Closing prose.") {
			t.Errorf("heading %q: trailing prose lost", heading)
		}
		if strings.Count(got, "Key developments") != 1 {
			t.Errorf("heading %q: duplicate sections:\n%s", heading, got)
		}
	}
}

func TestRewriteKeyDevelopmentsAppendsWhenMissing(t *testing.T) {
	catalog := BuildSourceCatalog(makeEvidence(2), nil)
	got := rewriteKeyDevelopments("Just prose.", catalog, 7)
	if !strings.HasPrefix(got, "Just prose.") || !strings.Contains(got, keyDevHeading) {
		t.Errorf("section not appended:\n%s", got)
	}
	// Newest entry first.
	first := strings.Index(got, "[2]")
	second := strings.Index(got, "[1]")
	if first < 0 || second < 0 || first > second {
		t.Errorf("bullets not newest-first:\n%s", got)
	}
}

func TestValidateArticleBodyRules(t *testing.T) {
	catalog := BuildSourceCatalog(makeEvidence(10), nil)
	t10 := deriveTargets(catalog)
	ok := draft{Title: "T", Article: rewriteKeyDevelopments(goodArticle(), catalog, 7)}
	if errs := validateArticleBody(ok, catalog, t10); len(errs) != 0 {
		t.Errorf("valid draft rejected: %v", errs)
	}

	few := draft{Title: "T", Article: rewriteKeyDevelopments("Prose [1] [2].", catalog, 7)}
	errs := validateArticleBody(few, catalog, t10)
	if len(errs) == 0 {
		t.Error("too few citations should fail")
	}

	promo := draft{Title: "T", Article: rewriteKeyDevelopments(goodArticle()+" Subscribe now!", catalog, 7)}
	if errs := validateArticleBody(promo, catalog, t10); len(errs) == 0 {
		t.Error("promotional language should fail")
	}
}

func TestNoveltyScore(t *testing.T) {
	if got := NoveltyScore("", "anything at all here"); got != 1 {
		t.Errorf("no previous article: %v", got)
	}
	same := "identical vocabulary throughout this entire passage"
	if got := NoveltyScore(same, same); got != 0 {
		t.Errorf("identical articles: %v", got)
	}
	got := NoveltyScore("alpha bravo charlie delta", "alpha bravo echo foxtrot")
	if got != 0.5 {
		t.Errorf("half-new vocabulary: %v", got)
	}
}

func TestGenerateImagePromptFallback(t *testing.T) {
	s := NewSynthesizer(scriptedClient(func(string, int) (string, error) {
		return "A wide-angle illustration of shipping containers at dusk", nil
	}))
	got, err := s.GenerateImagePrompt(context.Background(), "Title", "Body", llm.Options{})
	if err != nil {
		t.Fatalf("GenerateImagePrompt failed: %v", err)
	}
	if !strings.Contains(got.Prompt, "shipping containers") {
		t.Errorf("prompt = %q", got.Prompt)
	}
}
