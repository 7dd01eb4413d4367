// Package retrieve implements the candidate retrieval fan-out and the
// extract-and-filter stage that turns candidates into normalized articles.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
	"github.com/niyazmukh/content-pipeline-sub001/internal/prompts"
	"github.com/niyazmukh/content-pipeline-sub001/internal/search"
)

const (
	maxProviderDataChars = 5000
	maxTopicQueries      = 3
)

// Retriever fans a topic out to the enabled search providers and merges
// their candidates into one deduplicated batch.
type Retriever struct {
	providers []search.Provider
	client    *llm.Client // nil disables topic analysis
}

// NewRetriever builds a retriever over the given providers. A nil client
// skips topic analysis and searches the raw topic only.
func NewRetriever(providers []search.Provider, client *llm.Client) *Retriever {
	return &Retriever{providers: providers, client: client}
}

// Params bounds one retrieval batch.
type Params struct {
	Topic         string
	RecencyHours  int
	MaxCandidates int
	MaxPerQuery   int
	SkipAnalysis  bool
	LLMOptions    llm.Options
}

// BatchResult is the output of one retrieval fan-out.
type BatchResult struct {
	Queries    []string                         `json:"queries"`
	Candidates []core.Candidate                 `json:"candidates"`
	Metrics    map[string]*core.ProviderMetrics `json:"metrics"`
}

type queriesPayload struct {
	Queries []string `json:"queries"`
}

// analyzeTopic asks the LLM for focused queries; any failure falls back to
// the raw topic so retrieval never depends on the model being up.
func (r *Retriever) analyzeTopic(ctx context.Context, p Params) []string {
	if r.client == nil || p.SkipAnalysis {
		return []string{p.Topic}
	}
	payload, _, err := llm.GenerateAndParse[queriesPayload](ctx, r.client, prompts.TopicAnalysis(p.Topic, maxTopicQueries), p.LLMOptions, nil)
	if err != nil {
		logger.Warn("topic analysis failed, using raw topic", "error", err.Error())
		return []string{p.Topic}
	}
	queries := dedupeQueries(payload.Queries, maxTopicQueries)
	if len(queries) == 0 {
		return []string{p.Topic}
	}
	return queries
}

func dedupeQueries(in []string, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, q := range in {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Retrieve runs topic analysis (unless skipped), searches every provider for
// every query, and merges the results with canonical-URL deduplication.
// Provider failures are recorded in metrics and never abort the batch.
func (r *Retriever) Retrieve(ctx context.Context, p Params) (*BatchResult, error) {
	if strings.TrimSpace(p.Topic) == "" {
		return nil, fmt.Errorf("retrieve: empty topic")
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("retrieve: no search providers enabled")
	}
	queries := r.analyzeTopic(ctx, p)
	return r.RetrieveQueries(ctx, queries, p)
}

// RetrieveQueries is Retrieve without topic analysis, used by targeted
// research with its own query set.
func (r *Retriever) RetrieveQueries(ctx context.Context, queries []string, p Params) (*BatchResult, error) {
	result := &BatchResult{
		Queries: queries,
		Metrics: make(map[string]*core.ProviderMetrics, len(r.providers)),
	}
	for _, prov := range r.providers {
		result.Metrics[prov.Name()] = &core.ProviderMetrics{Rejected: map[string]int{}}
	}

	perProvider := make([][]core.Candidate, len(r.providers))
	var wg sync.WaitGroup
	for i, prov := range r.providers {
		wg.Add(1)
		go func(i int, prov search.Provider) {
			defer wg.Done()
			m := result.Metrics[prov.Name()]
			for _, q := range queries {
				cands, err := prov.Search(ctx, q, search.Config{
					MaxResults:   p.MaxPerQuery,
					RecencyHours: p.RecencyHours,
				})
				if err != nil {
					m.Failed = true
					m.FailureMsg = err.Error()
					m.Errors = append(m.Errors, err.Error())
					logger.Warn("provider search failed", "provider", prov.Name(), "query", q, "error", err.Error())
					continue
				}
				perProvider[i] = append(perProvider[i], cands...)
			}
		}(i, prov)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, prov := range r.providers {
		m := result.Metrics[prov.Name()]
		for _, c := range perProvider[i] {
			m.Returned++
			if strings.TrimSpace(c.URL) == "" {
				m.Deduped++
				continue
			}
			id := core.HashURL(c.URL)
			if seen[id] {
				m.Deduped++
				continue
			}
			seen[id] = true
			m.Unique++
			c.ID = id
			if len(c.ProviderData) > maxProviderDataChars {
				c.ProviderData = c.ProviderData[:maxProviderDataChars]
			}
			result.Candidates = append(result.Candidates, c)
		}
	}

	// Freshest first so the candidate cap keeps the most recent stories.
	// Undated candidates keep their arrival order at the tail.
	sort.SliceStable(result.Candidates, func(a, b int) bool {
		ca, cb := result.Candidates[a], result.Candidates[b]
		if ca.PublishedAt == nil {
			return false
		}
		if cb.PublishedAt == nil {
			return true
		}
		return ca.PublishedAt.After(*cb.PublishedAt)
	})
	if p.MaxCandidates > 0 && len(result.Candidates) > p.MaxCandidates {
		result.Candidates = result.Candidates[:p.MaxCandidates]
	}
	return result, nil
}
