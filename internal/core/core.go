// Package core holds the data model shared by every pipeline stage.
// Values are created once per run and treated as immutable after they are
// handed to the next stage or to the artifact store.
package core

import (
	"crypto/sha1"
	"encoding/hex"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// Candidate is a pre-extraction record produced by one search provider.
type Candidate struct {
	ID           string     `json:"id"`                      // Hash of the canonical URL
	Provider     string     `json:"provider"`                // Provider that returned this candidate
	Title        string     `json:"title"`                   // Result title
	URL          string     `json:"url"`                     // Original URL as returned
	SourceName   string     `json:"source_name,omitempty"`   // Publisher name when the provider reports one
	PublishedAt  *time.Time `json:"published_at,omitempty"`  // Publication time when known
	Snippet      string     `json:"snippet,omitempty"`       // Short description from the provider
	ProviderData string     `json:"provider_data,omitempty"` // Provider body/content field, capped at 5000 chars
}

// NormalizedArticle is the post-extraction record consumed by clustering,
// outline generation and synthesis.
type NormalizedArticle struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	CanonicalURL string     `json:"canonical_url"` // Lowercased, fragment and query stripped
	SourceHost   string     `json:"source_host"`
	SourceName   string     `json:"source_name,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Excerpt      string     `json:"excerpt"` // At most 600 characters
	Body         string     `json:"body"`
	WordCount    int        `json:"word_count"`
	Provenance   Provenance `json:"provenance"`
}

// Provenance records where and when an article was obtained.
type Provenance struct {
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Citation points at one source backing a cluster or an evidence item.
type Citation struct {
	ID          int        `json:"id,omitempty"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Source      string     `json:"source,omitempty"`
}

// StoryCluster groups articles judged to cover the same story.
// The representative is always one of the members; the cluster ID is stable
// within a single run.
type StoryCluster struct {
	ClusterID      string              `json:"cluster_id"`
	Representative NormalizedArticle   `json:"representative"`
	Members        []NormalizedArticle `json:"members"`
	Citations      []Citation          `json:"citations"`
	Score          float64             `json:"score"`
}

// OutlinePoint is one entry of the generated outline.
type OutlinePoint struct {
	Point    string   `json:"point"`
	Summary  string   `json:"summary"`
	Supports []string `json:"supports"` // Cluster IDs backing this point
	Dates    []string `json:"dates"`    // YYYY-MM-DD strings
}

// OutlinePayload is the validated thesis-plus-points outline.
type OutlinePayload struct {
	Thesis   string         `json:"thesis"`
	Outline  []OutlinePoint `json:"outline"`
	Coverage string         `json:"coverage,omitempty"`
}

// OutlineResult wraps the payload with generation telemetry for the artifact.
type OutlineResult struct {
	OutlinePayload
	RawResponse string `json:"raw_response,omitempty"`
	Attempts    int    `json:"attempts"`
}

// EvidenceItem is the research digest for one outline point.
type EvidenceItem struct {
	OutlineIndex int        `json:"outline_index"`
	Point        string     `json:"point"`
	Digest       string     `json:"digest"`
	Citations    []Citation `json:"citations"` // IDs are per-item sequential starting at 1
}

// SourceCatalogEntry maps one citation number to a source for the final
// article. IDs are unique within a run, assigned in first-seen order.
type SourceCatalogEntry struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ArticleSource is one entry of the final article's source list.
type ArticleSource struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ArticleResult is the final synthesized article plus telemetry.
type ArticleResult struct {
	Title         string               `json:"title"`
	Article       string               `json:"article"`
	Sources       []ArticleSource      `json:"sources"`
	WordCount     int                  `json:"word_count"`
	RawResponse   string               `json:"raw_response,omitempty"`
	Attempts      int                  `json:"attempts"`
	NoveltyScore  float64              `json:"novelty_score"`
	SourceCatalog []SourceCatalogEntry `json:"source_catalog"`
	Warnings      []string             `json:"warnings,omitempty"`
}

// Pipeline stages as they appear in stage events.
const (
	StageRetrieval        = "retrieval"
	StageRanking          = "ranking"
	StageOutline          = "outline"
	StageTargetedResearch = "targetedResearch"
	StageSynthesis        = "synthesis"
	StageImagePrompt      = "imagePrompt"
)

// Stage event statuses.
const (
	StatusStart    = "start"
	StatusProgress = "progress"
	StatusSuccess  = "success"
	StatusFailure  = "failure"
)

// StageEvent is one progress record pushed over the SSE stream.
type StageEvent struct {
	RunID   string `json:"runId"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	TS      string `json:"ts"` // ISO-8601
}

// ProviderMetrics accumulates per-provider counters across retrieval and
// extraction.
type ProviderMetrics struct {
	Returned   int            `json:"returned"`
	Deduped    int            `json:"deduped"`
	Unique     int            `json:"unique"`
	Accepted   int            `json:"accepted"`
	Rejected   map[string]int `json:"rejected,omitempty"` // Reason name -> count
	Errors     []string       `json:"errors,omitempty"`
	Failed     bool           `json:"failed,omitempty"`
	FailureMsg string         `json:"failure_msg,omitempty"`
}

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewShortID returns a short random URL-safe identifier of n characters.
func NewShortID(n int) string {
	if n <= 0 {
		n = 10
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = shortIDAlphabet[rand.Intn(len(shortIDAlphabet))]
	}
	return string(b)
}

// NewRunID returns the identifier assigned to one pipeline run.
func NewRunID() string {
	return NewShortID(10)
}

// CanonicalURL lowercases a URL and strips its fragment and query so that
// the same story reached through tracking parameters dedupes to one entry.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Fragment = ""
	u.RawQuery = ""
	return strings.ToLower(u.String())
}

// HashURL derives the candidate ID from the canonical form of its URL.
func HashURL(raw string) string {
	sum := sha1.Sum([]byte(CanonicalURL(raw)))
	return hex.EncodeToString(sum[:8])
}

// HostOf returns the lowercased hostname of a URL, or "" if it does not parse.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
