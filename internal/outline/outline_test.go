package outline

import (
	"context"
	"encoding/json"
	"errors"
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

func makeClusters(n int) []core.StoryCluster {
	var out []core.StoryCluster
	for i := 0; i < n; i++ {
		pub := time.Date(2026, 2, 10-i, 12, 30, 0, 0, time.UTC)
		out = append(out, core.StoryCluster{
			ClusterID: fmt.Sprintf("cl%02d", i+1),
			Representative: core.NormalizedArticle{
				Title:       fmt.Sprintf("Cluster %d headline", i+1),
				Excerpt:     fmt.Sprintf("Cluster %d excerpt text", i+1),
				PublishedAt: &pub,
			},
			Members: []core.NormalizedArticle{{Title: "m"}},
			Score:   float64(n - i),
		})
	}
	return out
}

func outlineJSON(points []core.OutlinePoint, thesis string) string {
	b, _ := json.Marshal(core.OutlinePayload{Thesis: thesis, Outline: points})
	return string(b)
}

func TestGenerateNoClusters(t *testing.T) {
	g := NewGenerator(scriptedClient(func(string, int) (string, error) {
		t.Fatal("model must not be called with no clusters")
		return "", nil
	}))
	if _, err := g.Generate(context.Background(), "topic", nil, llm.Options{}); !errors.Is(err, ErrNoClusters) {
		t.Fatalf("err = %v, want ErrNoClusters", err)
	}
}

func TestGenerateResolvesAliasesAndDates(t *testing.T) {
	clusters := makeClusters(3)
	resp := outlineJSON([]core.OutlinePoint{
		{Point: "P1", Summary: "s", Supports: []string{"C01", "C09"}, Dates: []string{"2026-02-10T12:30:00Z"}},
		{Point: "P2", Summary: "s", Supports: []string{"C02"}},
		{Point: "P3", Summary: "s", Supports: []string{"C03"}, Dates: []string{"2026-02-08"}},
	}, "The week's central development is a substantive one.")

	g := NewGenerator(scriptedClient(func(string, int) (string, error) { return resp, nil }))
	got, err := g.Generate(context.Background(), "topic", clusters, llm.Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d", got.Attempts)
	}
	p1 := got.Outline[0]
	if len(p1.Supports) != 1 || p1.Supports[0] != "cl01" {
		t.Errorf("alias resolution: supports = %v", p1.Supports)
	}
	if len(p1.Dates) != 1 || p1.Dates[0] != "2026-02-10" {
		t.Errorf("date not reduced to day precision: %v", p1.Dates)
	}
	// P2 had no dates: inherited from its first supporting cluster.
	if len(got.Outline[1].Dates) != 1 || got.Outline[1].Dates[0] != "2026-02-09" {
		t.Errorf("inherited date = %v", got.Outline[1].Dates)
	}
}

func TestGeneratePadsShortOutline(t *testing.T) {
	clusters := makeClusters(4)
	resp := outlineJSON([]core.OutlinePoint{
		{Point: "Only point", Summary: "s", Supports: []string{"C01"}, Dates: []string{"2026-02-10"}},
	}, "A thesis long enough to pass validation easily.")

	g := NewGenerator(scriptedClient(func(string, int) (string, error) { return resp, nil }))
	got, err := g.Generate(context.Background(), "topic", clusters, llm.Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(got.Outline) != 4 {
		t.Fatalf("outline should be padded to 4 points, got %d", len(got.Outline))
	}
	for i, pt := range got.Outline {
		if len(pt.Supports) == 0 {
			t.Errorf("padded point %d has no supports", i)
		}
	}
}

func TestGenerateTrimsLongOutline(t *testing.T) {
	clusters := makeClusters(8)
	var points []core.OutlinePoint
	for i := 0; i < 7; i++ {
		points = append(points, core.OutlinePoint{
			Point:    fmt.Sprintf("P%d", i+1),
			Summary:  "s",
			Supports: []string{fmt.Sprintf("C%02d", i+1)},
			Dates:    []string{"2026-02-10"},
		})
	}
	resp := outlineJSON(points, "A thesis long enough to pass validation easily.")

	g := NewGenerator(scriptedClient(func(string, int) (string, error) { return resp, nil }))
	got, err := g.Generate(context.Background(), "topic", clusters, llm.Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(got.Outline) != 5 {
		t.Errorf("outline should be trimmed to 5 points, got %d", len(got.Outline))
	}
}

func TestGenerateRepairsInvalidThesis(t *testing.T) {
	clusters := makeClusters(2)
	good := outlineJSON([]core.OutlinePoint{
		{Point: "P1", Summary: "s", Supports: []string{"C01"}, Dates: []string{"2026-02-10"}},
		{Point: "P2", Summary: "s", Supports: []string{"C02"}, Dates: []string{"2026-02-09"}},
	}, "A thesis long enough to pass validation easily.")
	bad := outlineJSON([]core.OutlinePoint{
		{Point: "P1", Summary: "s", Supports: []string{"C01"}},
		{Point: "P2", Summary: "s", Supports: []string{"C02"}},
	}, "short")

	var sawRepair bool
	g := NewGenerator(scriptedClient(func(prompt string, call int) (string, error) {
		if call == 1 {
			return bad, nil
		}
		if strings.Contains(prompt, "violated these rules") {
			sawRepair = true
		}
		return good, nil
	}))
	got, err := g.Generate(context.Background(), "topic", clusters, llm.Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.Attempts != 2 || !sawRepair {
		t.Errorf("attempts=%d sawRepair=%v", got.Attempts, sawRepair)
	}
}

func TestGenerateFailsAfterRepairBudget(t *testing.T) {
	clusters := makeClusters(2)
	bad := outlineJSON(nil, "x")
	calls := 0
	g := NewGenerator(scriptedClient(func(string, int) (string, error) {
		calls++
		return bad, nil
	}))
	if _, err := g.Generate(context.Background(), "topic", clusters, llm.Options{}); err == nil {
		t.Fatal("expected failure after repair attempts run out")
	}
	if calls != repairAttempts {
		t.Errorf("calls = %d, want %d", calls, repairAttempts)
	}
}

func TestCoverageWidening(t *testing.T) {
	clusters := makeClusters(5)
	// One point citing one cluster; coverage target for 5 clusters is 4.
	payload := core.OutlinePayload{
		Thesis: "A thesis long enough to pass validation easily.",
		Outline: []core.OutlinePoint{
			{Point: "P1", Summary: "s", Supports: []string{"cl01"}, Dates: []string{"2026-02-10"}},
		},
	}
	normalize(&payload, clusters, buildAliases(clusters), 5)
	used := usedClusters(&payload)
	if len(used) < 4 {
		t.Errorf("coverage not widened: %d distinct clusters", len(used))
	}
	if len(payload.Outline) != 5 {
		t.Errorf("outline not padded: %d", len(payload.Outline))
	}
}

func TestPointCountAndCoverageBounds(t *testing.T) {
	cases := []struct{ n, p, k int }{
		{0, 1, 1}, {1, 1, 1}, {3, 3, 3}, {4, 4, 4}, {5, 5, 4}, {12, 5, 4},
	}
	for _, c := range cases {
		if got := pointCount(c.n); got != c.p {
			t.Errorf("pointCount(%d) = %d, want %d", c.n, got, c.p)
		}
		if got := coverageTarget(c.n); got != c.k {
			t.Errorf("coverageTarget(%d) = %d, want %d", c.n, got, c.k)
		}
	}
}
