// Package research runs targeted evidence gathering for each outline point:
// query expansion, a tightened mini-retrieval, clustering and an evidence
// digest with per-point citations.
package research

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/niyazmukh/content-pipeline-sub001/internal/cluster"
	"github.com/niyazmukh/content-pipeline-sub001/internal/config"
	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
	"github.com/niyazmukh/content-pipeline-sub001/internal/pool"
	"github.com/niyazmukh/content-pipeline-sub001/internal/prompts"
	"github.com/niyazmukh/content-pipeline-sub001/internal/retrieve"
)

const (
	maxQueriesPerPoint = 2
	maxPointParallel   = 2
	maxTopClusters     = 8
	maxDigestLines     = 5
	maxRewriteCache    = 32

	tightMinAccepted   = 6
	tightMaxAttempts   = 18
	tightMaxCandidates = 36
)

// Researcher gathers evidence for outline points. Query rewrites are cached
// per (topic, point) in a small LRU; concurrent rewrites for the same key
// collapse into one model call.
type Researcher struct {
	client    *llm.Client
	retriever *retrieve.Retriever
	stage     *retrieve.Stage
	clusterer *cluster.Clusterer
	cfg       config.Retrieval

	flight singleflight.Group
	mu     sync.Mutex
	cache  map[string][]string
	order  []string // LRU order, most recently used last
}

// NewResearcher wires a researcher over the shared pipeline components.
func NewResearcher(client *llm.Client, retriever *retrieve.Retriever, stage *retrieve.Stage, clusterer *cluster.Clusterer, cfg config.Retrieval) *Researcher {
	return &Researcher{
		client:    client,
		retriever: retriever,
		stage:     stage,
		clusterer: clusterer,
		cfg:       cfg,
		cache:     make(map[string][]string),
	}
}

// Params bounds one research pass.
type Params struct {
	Topic        string
	RecencyHours int
	LLMOptions   llm.Options
}

// Research gathers evidence for every outline point, at most two points in
// flight at once. A failing point yields an empty digest instead of failing
// the stage.
func (r *Researcher) Research(ctx context.Context, outline core.OutlinePayload, p Params) ([]core.EvidenceItem, error) {
	points := outline.Outline
	if len(points) == 0 {
		return nil, fmt.Errorf("research: outline has no points")
	}
	parallel := minInt(maxPointParallel, r.cfg.GlobalConcurrency)
	return pool.Run(ctx, len(points), parallel, func(ctx context.Context, i int) (core.EvidenceItem, error) {
		item := r.researchPoint(ctx, i, points[i], p)
		if err := ctx.Err(); err != nil {
			return core.EvidenceItem{}, err
		}
		return item, nil
	})
}

func (r *Researcher) researchPoint(ctx context.Context, idx int, point core.OutlinePoint, p Params) core.EvidenceItem {
	empty := core.EvidenceItem{
		OutlineIndex: idx,
		Point:        point.Point,
		Digest:       "No supporting evidence found.",
	}
	queries := r.expandQueries(ctx, p.Topic, point.Point, p.LLMOptions)

	batch, err := r.retriever.RetrieveQueries(ctx, queries, retrieve.Params{
		Topic:         p.Topic,
		RecencyHours:  p.RecencyHours,
		MaxCandidates: tightMaxCandidates,
		MaxPerQuery:   tightMaxCandidates / maxQueriesPerPoint,
	})
	if err != nil {
		logger.Warn("point retrieval failed", "point", point.Point, "error", err.Error())
		return empty
	}

	stageRes, err := r.stage.Process(ctx, strings.Join(queries, " "), batch.Candidates, retrieve.Limits{
		MinAccepted:        minInt(tightMinAccepted, r.cfg.MinAccepted),
		MaxAttempts:        minInt(tightMaxAttempts, r.cfg.MaxAttempts),
		RecencyHours:       p.RecencyHours,
		MinWordCount:       r.cfg.MinWordCount,
		BannedHostPatterns: r.cfg.BannedHostPatterns,
	})
	if err != nil || len(stageRes.Accepted) == 0 {
		return empty
	}

	clusters := r.clusterer.Cluster(stageRes.Accepted)
	if len(clusters) > maxTopClusters {
		clusters = clusters[:maxTopClusters]
	}
	digest, citations := DigestClusters(clusters)
	return core.EvidenceItem{
		OutlineIndex: idx,
		Point:        point.Point,
		Digest:       digest,
		Citations:    citations,
	}
}

// expandQueries returns up to two search queries for a point: the baseline
// "topic point" string plus a model rewrite. Rewrites are cached and
// collapsed; any model failure falls back to the baseline alone.
func (r *Researcher) expandQueries(ctx context.Context, topic, point string, opts llm.Options) []string {
	baseline := strings.TrimSpace(topic + " " + point)
	key := strings.ToLower(topic + "|" + point)

	if cached, ok := r.cacheGet(key); ok {
		return mergeQueries(baseline, cached)
	}

	v, err, _ := r.flight.Do(key, func() (any, error) {
		type payload struct {
			Queries []string `json:"queries"`
		}
		out, _, err := llm.GenerateAndParse[payload](ctx, r.client, prompts.QueryExpansion(topic, point, maxQueriesPerPoint), opts, nil)
		if err != nil {
			return nil, err
		}
		return out.Queries, nil
	})
	if err != nil {
		logger.Warn("query expansion failed, using baseline", "point", point, "error", err.Error())
		return []string{baseline}
	}
	expanded, _ := v.([]string)
	r.cachePut(key, expanded)
	return mergeQueries(baseline, expanded)
}

func (r *Researcher) cacheGet(key string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[key]
	if ok {
		r.touch(key)
	}
	return v, ok
}

func (r *Researcher) cachePut(key string, queries []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache[key]; !ok {
		r.order = append(r.order, key)
		if len(r.order) > maxRewriteCache {
			evicted := r.order[0]
			r.order = r.order[1:]
			delete(r.cache, evicted)
		}
	} else {
		r.touch(key)
	}
	r.cache[key] = queries
}

func (r *Researcher) touch(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(append(r.order[:i:i], r.order[i+1:]...), key)
			return
		}
	}
}

func mergeQueries(baseline string, expanded []string) []string {
	out := []string{baseline}
	seen := map[string]bool{strings.ToLower(baseline): true}
	for _, q := range expanded {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == maxQueriesPerPoint {
			break
		}
	}
	return out
}

// DigestClusters renders up to five digest lines from the cluster
// representatives, with matching citations numbered from 1.
func DigestClusters(clusters []core.StoryCluster) (string, []core.Citation) {
	var (
		lines     []string
		citations []core.Citation
	)
	for _, c := range clusters {
		if len(lines) == maxDigestLines {
			break
		}
		rep := c.Representative
		date := "Undated"
		if rep.PublishedAt != nil {
			date = rep.PublishedAt.Format("2006-01-02")
		}
		source := rep.SourceName
		if source == "" {
			source = rep.SourceHost
		}
		n := len(lines) + 1
		lines = append(lines, fmt.Sprintf("[%d] %s - %s: %s. Key points: %s", n, date, source, rep.Title, rep.Excerpt))
		citations = append(citations, core.Citation{
			ID:          n,
			Title:       rep.Title,
			URL:         rep.CanonicalURL,
			PublishedAt: rep.PublishedAt,
			Source:      source,
		})
	}
	return strings.Join(lines, "\n"), citations
}

// BuildEvidenceFromClusters projects the top retrieval clusters onto every
// outline point. Serverless hosts use it in place of targeted research: the
// digest is identical across points and no extra subrequests are issued.
func BuildEvidenceFromClusters(outline core.OutlinePayload, clusters []core.StoryCluster) []core.EvidenceItem {
	top := clusters
	if len(top) > maxDigestLines {
		top = top[:maxDigestLines]
	}
	digest, citations := DigestClusters(top)
	if digest == "" {
		digest = "No supporting evidence found."
	}
	items := make([]core.EvidenceItem, 0, len(outline.Outline))
	for i, pt := range outline.Outline {
		items = append(items, core.EvidenceItem{
			OutlineIndex: i,
			Point:        pt.Point,
			Digest:       digest,
			Citations:    citations,
		})
	}
	return items
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
