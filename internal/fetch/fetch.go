// Package fetch downloads article URLs and extracts their main text content.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultUA       = "newsbrief/1.0 (+https://github.com/niyazmukh/content-pipeline-sub001)"
	maxBodyBytes    = 4 << 20 // 4 MiB of HTML is plenty for any article page
	maxExcerptChars = 600
)

var (
	wordRe         = regexp.MustCompile(`\b\w+\b`)
	multiNewlineRe = regexp.MustCompile(`(\n\s*){2,}`)
)

// Extracted is the raw output of one successful extraction.
type Extracted struct {
	Title       string
	Text        string
	Excerpt     string
	PublishedAt *time.Time
	WordCount   int
}

// Extractor downloads pages and pulls out their main article text.
type Extractor struct {
	client    *http.Client
	userAgent string
}

// NewExtractor creates an extractor with a bounded HTTP client.
func NewExtractor() *Extractor {
	return &Extractor{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUA,
	}
}

// Extract fetches rawURL and returns its title, main text, publication time
// (when the page declares one) and a bounded excerpt.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Extracted, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status code %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", rawURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", rawURL, err)
	}

	ex := &Extracted{
		Title:       extractTitle(doc),
		PublishedAt: extractPublishedAt(doc),
	}
	ex.Text = extractMainText(doc)
	ex.WordCount = len(wordRe.FindAllString(ex.Text, -1))
	ex.Excerpt = buildExcerpt(doc, ex.Text)
	return ex, nil
}

// extractTitle tries the head title, then OpenGraph, then the first h1.
func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	if og, _ := doc.Find("meta[property='og:title']").Attr("content"); og != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// publishedAtSelectors are checked in order; the first parseable wins.
var publishedAtSelectors = []struct {
	selector string
	attr     string
}{
	{"meta[property='article:published_time']", "content"},
	{"meta[property='og:article:published_time']", "content"},
	{"meta[name='date']", "content"},
	{"meta[itemprop='datePublished']", "content"},
	{"time[datetime]", "datetime"},
}

var publishedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func extractPublishedAt(doc *goquery.Document) *time.Time {
	for _, s := range publishedAtSelectors {
		val, ok := doc.Find(s.selector).First().Attr(s.attr)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		val = strings.TrimSpace(val)
		for _, layout := range publishedAtLayouts {
			if ts, err := time.Parse(layout, val); err == nil {
				utc := ts.UTC()
				return &utc
			}
		}
	}
	return nil
}

// mainContentSelectors mirror the places publishers usually put body copy.
var mainContentSelectors = []string{
	"article", "main", ".main-content", ".entry-content", ".post-content",
	".post-body", ".article-body", "[role='main']", ".content", "#content",
}

func extractMainText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner").Remove()

	var b strings.Builder
	collect := func(s *goquery.Selection) {
		s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			if text := strings.TrimSpace(item.Text()); text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
		})
	}

	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) { collect(s) })
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		collect(doc.Find("body"))
	}

	text := multiNewlineRe.ReplaceAllString(b.String(), "\n")
	return strings.TrimSpace(text)
}

// buildExcerpt prefers the page's own description and falls back to the
// opening of the extracted text, capped at 600 characters either way.
func buildExcerpt(doc *goquery.Document, text string) string {
	if desc, _ := doc.Find("meta[property='og:description']").Attr("content"); strings.TrimSpace(desc) != "" {
		return truncate(strings.TrimSpace(desc), maxExcerptChars)
	}
	if desc, _ := doc.Find("meta[name='description']").Attr("content"); strings.TrimSpace(desc) != "" {
		return truncate(strings.TrimSpace(desc), maxExcerptChars)
	}
	flat := strings.Join(strings.Fields(text), " ")
	return truncate(flat, maxExcerptChars)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
