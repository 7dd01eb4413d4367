// Package outline turns ranked story clusters into a validated briefing
// outline via an LLM with a bounded repair loop.
package outline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
	"github.com/niyazmukh/content-pipeline-sub001/internal/prompts"
)

const (
	maxPoints      = 5
	maxCoverage    = 4
	minThesisChars = 12
	repairAttempts = 3
)

// ErrNoClusters is returned when the outline stage is invoked with nothing
// to outline.
var ErrNoClusters = errors.New("Cannot generate outline: no clusters provided")

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Generator produces outlines.
type Generator struct {
	client *llm.Client
}

// NewGenerator builds a generator over the shared LLM client.
func NewGenerator(client *llm.Client) *Generator {
	return &Generator{client: client}
}

// pointCount is the number of outline points requested for n clusters.
func pointCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxPoints {
		return maxPoints
	}
	return n
}

// coverageTarget is the minimum number of distinct clusters the outline
// must draw on for n clusters.
func coverageTarget(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxCoverage {
		return maxCoverage
	}
	return n
}

// Generate asks the model for an outline, normalizes aliases and dates, and
// retries with repair instructions until the result validates or attempts
// run out.
func (g *Generator) Generate(ctx context.Context, topic string, clusters []core.StoryCluster, opts llm.Options) (*core.OutlineResult, error) {
	if len(clusters) == 0 {
		return nil, ErrNoClusters
	}

	p := pointCount(len(clusters))
	k := coverageTarget(len(clusters))
	aliases := buildAliases(clusters)
	basePrompt := prompts.Outline(topic, p, renderListing(clusters, aliases))

	generate := func(ctx context.Context, prompt string) (core.OutlinePayload, string, error) {
		payload, raw, err := llm.GenerateAndParse[core.OutlinePayload](ctx, g.client, prompt, opts, nil)
		if err != nil {
			return core.OutlinePayload{}, raw, err
		}
		normalize(&payload, clusters, aliases, p)
		return payload, raw, nil
	}
	validate := func(payload core.OutlinePayload) []string {
		return validateOutline(payload, clusters, p, k)
	}

	payload, raw, attempts, err := llm.RunWithRepair(ctx, repairAttempts, basePrompt, generate, validate, nil)
	if err != nil {
		return nil, fmt.Errorf("outline generation failed: %w", err)
	}
	return &core.OutlineResult{
		OutlinePayload: payload,
		RawResponse:    raw,
		Attempts:       attempts,
	}, nil
}

// buildAliases maps prompt aliases (C01, C02, ...) onto cluster IDs in rank
// order.
func buildAliases(clusters []core.StoryCluster) map[string]string {
	aliases := make(map[string]string, len(clusters))
	for i, c := range clusters {
		aliases[fmt.Sprintf("C%02d", i+1)] = c.ClusterID
	}
	return aliases
}

func renderListing(clusters []core.StoryCluster, aliases map[string]string) string {
	ids := make(map[string]string, len(aliases))
	for alias, id := range aliases {
		ids[id] = alias
	}
	var b strings.Builder
	for _, c := range clusters {
		date := "undated"
		if c.Representative.PublishedAt != nil {
			date = c.Representative.PublishedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%s (%s, %d sources): %s\n  %s\n",
			ids[c.ClusterID], date, len(c.Members), c.Representative.Title, c.Representative.Excerpt)
	}
	return b.String()
}

// normalize rewrites the model output in place: aliases become cluster IDs,
// unknown references drop, dates reduce to YYYY-MM-DD, missing dates are
// inherited from the first supporting cluster, the point list is trimmed or
// padded to p entries, and coverage is widened round-robin.
func normalize(payload *core.OutlinePayload, clusters []core.StoryCluster, aliases map[string]string, p int) {
	payload.Thesis = strings.TrimSpace(payload.Thesis)
	valid := make(map[string]bool, len(clusters))
	byID := make(map[string]core.StoryCluster, len(clusters))
	for _, c := range clusters {
		valid[c.ClusterID] = true
		byID[c.ClusterID] = c
	}

	for i := range payload.Outline {
		pt := &payload.Outline[i]
		pt.Point = strings.TrimSpace(pt.Point)
		pt.Summary = strings.TrimSpace(pt.Summary)
		pt.Supports = resolveSupports(pt.Supports, aliases, valid)
		pt.Dates = normalizeDates(pt.Dates)
		if len(pt.Dates) == 0 && len(pt.Supports) > 0 {
			if rep := byID[pt.Supports[0]].Representative; rep.PublishedAt != nil {
				pt.Dates = []string{rep.PublishedAt.Format("2006-01-02")}
			}
		}
	}

	if len(payload.Outline) > p {
		payload.Outline = payload.Outline[:p]
	}
	padPoints(payload, clusters, p)
	widenCoverage(payload, clusters, coverageTarget(len(clusters)))
}

func resolveSupports(supports []string, aliases map[string]string, valid map[string]bool) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range supports {
		s = strings.TrimSpace(s)
		if id, ok := aliases[strings.ToUpper(s)]; ok {
			s = id
		}
		if !valid[s] || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func normalizeDates(dates []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, d := range dates {
		m := dateRe.FindString(strings.TrimSpace(d))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// padPoints appends synthetic points built from the highest-ranked clusters
// no point supports yet until the outline has p entries.
func padPoints(payload *core.OutlinePayload, clusters []core.StoryCluster, p int) {
	if len(payload.Outline) >= p {
		return
	}
	used := usedClusters(payload)
	for _, c := range clusters {
		if len(payload.Outline) >= p {
			break
		}
		if used[c.ClusterID] {
			continue
		}
		used[c.ClusterID] = true
		pt := core.OutlinePoint{
			Point:    c.Representative.Title,
			Summary:  c.Representative.Excerpt,
			Supports: []string{c.ClusterID},
		}
		if c.Representative.PublishedAt != nil {
			pt.Dates = []string{c.Representative.PublishedAt.Format("2006-01-02")}
		}
		payload.Outline = append(payload.Outline, pt)
	}
}

// widenCoverage distributes unused clusters round-robin across the points
// until at least k distinct clusters are supported (or clusters run out).
func widenCoverage(payload *core.OutlinePayload, clusters []core.StoryCluster, k int) {
	if len(payload.Outline) == 0 {
		return
	}
	used := usedClusters(payload)
	i := 0
	for _, c := range clusters {
		if len(used) >= k {
			break
		}
		if used[c.ClusterID] {
			continue
		}
		pt := &payload.Outline[i%len(payload.Outline)]
		pt.Supports = append(pt.Supports, c.ClusterID)
		used[c.ClusterID] = true
		i++
	}
}

func usedClusters(payload *core.OutlinePayload) map[string]bool {
	used := map[string]bool{}
	for _, pt := range payload.Outline {
		for _, s := range pt.Supports {
			used[s] = true
		}
	}
	return used
}

// validateOutline returns the rule violations fed back to the model by the
// repair loop.
func validateOutline(payload core.OutlinePayload, clusters []core.StoryCluster, p, k int) []string {
	var errs []string
	if len(strings.TrimSpace(payload.Thesis)) < minThesisChars {
		errs = append(errs, fmt.Sprintf("thesis must be a substantive sentence of at least %d characters", minThesisChars))
	}
	if len(payload.Outline) != p {
		errs = append(errs, fmt.Sprintf("outline must have exactly %d points, got %d", p, len(payload.Outline)))
	}
	for i, pt := range payload.Outline {
		if pt.Point == "" {
			errs = append(errs, fmt.Sprintf("point %d has an empty title", i+1))
		}
		if len(pt.Supports) == 0 {
			errs = append(errs, fmt.Sprintf("point %d cites no clusters from the listing", i+1))
		}
		for _, d := range pt.Dates {
			if !dateRe.MatchString(d) {
				errs = append(errs, fmt.Sprintf("point %d has a date not in YYYY-MM-DD form: %q", i+1, d))
			}
		}
	}
	used := usedClusters(&payload)
	if len(used) < k {
		errs = append(errs, fmt.Sprintf("outline must draw on at least %d distinct clusters, got %d", k, len(used)))
	}
	return errs
}
