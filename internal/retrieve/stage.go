package retrieve

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/fetch"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
	"github.com/niyazmukh/content-pipeline-sub001/internal/pool"
	"github.com/niyazmukh/content-pipeline-sub001/internal/search"
)

const (
	relevanceQueryTokens = 24
	relevanceThreshold   = 0.1
	minUniqueWords       = 80
	maxPromoMatches      = 2
)

// Rejection reasons recorded in provider metrics.
const (
	rejectStale      = "stale"
	rejectNoDate     = "missing_published_at"
	rejectTooShort   = "too_short"
	rejectLowDiverse = "low_lexical_diversity"
	rejectIrrelevant = "low_relevance"
	rejectBannedHost = "banned_host"
	rejectPromo      = "promotional"
)

var promoRe = regexp.MustCompile(`(?i)subscribe now|sign up today|join our newsletter|limited[- ]time offer|promo code|discount code|buy now|free trial|click here|act now`)

var relevanceTokenRe = regexp.MustCompile(`[a-z0-9]+`)

// Limits bounds one extraction pass. Targeted research reuses the stage with
// tightened values.
type Limits struct {
	MinAccepted        int
	MaxAttempts        int
	RecencyHours       int
	MinWordCount       int
	BannedHostPatterns []string
}

// Stage downloads candidates and filters them into normalized articles.
// Concurrency is bounded globally and per host; per-host semaphores are
// created on first contact with a host and live for the stage's lifetime.
type Stage struct {
	extractor *fetch.Extractor
	global    *pool.Semaphore

	mu      sync.Mutex
	hosts   map[string]*pool.Semaphore
	perHost int

	now func() time.Time
}

// NewStage builds a stage with the given concurrency bounds.
func NewStage(extractor *fetch.Extractor, globalConcurrency, perHostConcurrency int) *Stage {
	if perHostConcurrency < 1 {
		perHostConcurrency = 1
	}
	return &Stage{
		extractor: extractor,
		global:    pool.NewSemaphore(globalConcurrency),
		hosts:     make(map[string]*pool.Semaphore),
		perHost:   perHostConcurrency,
		now:       time.Now,
	}
}

func (s *Stage) hostSem(host string) *pool.Semaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.hosts[host]
	if !ok {
		sem = pool.NewSemaphore(s.perHost)
		s.hosts[host] = sem
	}
	return sem
}

// StageResult is the output of one extract-and-filter pass.
type StageResult struct {
	Accepted []core.NormalizedArticle         `json:"accepted"`
	Metrics  map[string]*core.ProviderMetrics `json:"metrics"`
	Attempts int                              `json:"attempts"`
}

// Process extracts candidates in order until MinAccepted articles pass the
// filter or MaxAttempts candidates have been tried. Extraction errors are
// recorded per provider and never fail the stage.
func (s *Stage) Process(ctx context.Context, query string, candidates []core.Candidate, limits Limits) (*StageResult, error) {
	result := &StageResult{Metrics: make(map[string]*core.ProviderMetrics)}
	queryTokens := tokenizeForRelevance(query, relevanceQueryTokens)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		accepted int
		attempts int
	)
	metricsFor := func(provider string) *core.ProviderMetrics {
		m, ok := result.Metrics[provider]
		if !ok {
			m = &core.ProviderMetrics{Rejected: map[string]int{}}
			result.Metrics[provider] = m
		}
		return m
	}
	done := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return accepted >= limits.MinAccepted
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		if done() {
			break
		}
		mu.Lock()
		if limits.MaxAttempts > 0 && attempts >= limits.MaxAttempts {
			mu.Unlock()
			break
		}
		attempts++
		mu.Unlock()

		wg.Add(1)
		go func(cand core.Candidate) {
			defer wg.Done()
			if done() {
				return
			}
			art, reason, err := s.fetchOne(ctx, cand, queryTokens, limits)

			mu.Lock()
			defer mu.Unlock()
			m := metricsFor(cand.Provider)
			switch {
			case err != nil:
				m.Errors = append(m.Errors, cand.URL+": "+err.Error())
			case reason != "":
				m.Rejected[reason]++
			default:
				m.Accepted++
				accepted++
				result.Accepted = append(result.Accepted, *art)
			}
		}(cand)
	}
	wg.Wait()

	result.Attempts = attempts
	logger.Info("extraction stage finished",
		"attempts", attempts, "accepted", len(result.Accepted), "candidates", len(candidates))
	return result, ctx.Err()
}

// fetchOne extracts a single candidate under the global and per-host
// semaphores, released in reverse acquisition order on every path.
func (s *Stage) fetchOne(ctx context.Context, cand core.Candidate, queryTokens []string, limits Limits) (*core.NormalizedArticle, string, error) {
	releaseGlobal, err := s.global.Acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	defer releaseGlobal()

	host := core.HostOf(cand.URL)
	releaseHost, err := s.hostSem(host).Acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	defer releaseHost()

	if reason := checkBannedHost(host, limits.BannedHostPatterns); reason != "" {
		return nil, reason, nil
	}

	ex, err := s.extractor.Extract(ctx, cand.URL)
	if err != nil {
		return nil, "", err
	}

	art := s.normalize(cand, ex)
	if reason := s.evaluateArticle(art, cand.Provider, queryTokens, limits); reason != "" {
		return nil, reason, nil
	}
	return art, "", nil
}

func (s *Stage) normalize(cand core.Candidate, ex *fetch.Extracted) *core.NormalizedArticle {
	title := ex.Title
	if title == "" {
		title = cand.Title
	}
	published := ex.PublishedAt
	if published == nil {
		published = cand.PublishedAt
	}
	return &core.NormalizedArticle{
		ID:           uuid.NewString(),
		Title:        title,
		CanonicalURL: core.CanonicalURL(cand.URL),
		SourceHost:   core.HostOf(cand.URL),
		SourceName:   cand.SourceName,
		PublishedAt:  published,
		Excerpt:      ex.Excerpt,
		Body:         ex.Text,
		WordCount:    ex.WordCount,
		Provenance: core.Provenance{
			Provider:  cand.Provider,
			FetchedAt: s.now().UTC(),
		},
	}
}

// evaluateArticle applies the acceptance policy and returns the rejection
// reason, or "" when the article passes.
func (s *Stage) evaluateArticle(art *core.NormalizedArticle, provider string, queryTokens []string, limits Limits) string {
	if !search.IsGoogleLike(provider) {
		if art.PublishedAt == nil {
			return rejectNoDate
		}
		if !s.isFresh(art.PublishedAt, limits.RecencyHours) {
			return rejectStale
		}
	}
	if art.WordCount < limits.MinWordCount {
		return rejectTooShort
	}
	if uniqueWordCount(art.Body) < minUniqueWords {
		return rejectLowDiverse
	}
	if relevanceScore(art, queryTokens) < relevanceThreshold {
		return rejectIrrelevant
	}
	if len(promoRe.FindAllString(art.Body, maxPromoMatches+1)) > maxPromoMatches {
		return rejectPromo
	}
	return ""
}

func (s *Stage) isFresh(published *time.Time, recencyHours int) bool {
	if published == nil {
		return false
	}
	if recencyHours <= 0 {
		return true
	}
	return s.now().Sub(*published) <= time.Duration(recencyHours)*time.Hour
}

func checkBannedHost(host string, patterns []string) string {
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(host, p) {
			return rejectBannedHost
		}
	}
	return ""
}

// tokenizeForRelevance lowercases the query and keeps up to maxTokens
// distinct alphanumeric tokens longer than two characters.
func tokenizeForRelevance(query string, maxTokens int) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range relevanceTokenRe.FindAllString(strings.ToLower(query), -1) {
		if len(tok) <= 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == maxTokens {
			break
		}
	}
	return out
}

// relevanceScore is the fraction of query tokens that appear in the article
// title or body. An empty token list scores 1 so free-form runs pass.
func relevanceScore(art *core.NormalizedArticle, queryTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 1
	}
	text := strings.ToLower(art.Title + " " + art.Body)
	hits := 0
	for _, tok := range queryTokens {
		if strings.Contains(text, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func uniqueWordCount(text string) int {
	seen := map[string]bool{}
	for _, tok := range relevanceTokenRe.FindAllString(strings.ToLower(text), -1) {
		seen[tok] = true
	}
	return len(seen)
}
