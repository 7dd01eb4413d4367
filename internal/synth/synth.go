// Package synth writes the final briefing article from the outline and the
// research evidence, enforcing citation discipline against a numbered source
// catalog.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
	"github.com/niyazmukh/content-pipeline-sub001/internal/prompts"
)

const (
	minCitations      = 8
	maxDistinctTarget = 6
	maxDateTarget     = 3
	minWordsWarn      = 350
	maxWordsWarn      = 900
	repairAttempts    = 3
	minParagraphWords = 8
)

const keyDevHeading = "**Key developments (past 14 days):**"

var (
	keyDevHeadingRe = regexp.MustCompile(`(?mi)^\s*(?:#+\s*)?(?:\*\*)?\s*key developments(?:\s*\(past 14 days\))?\s*:?\s*(?:\*\*)?\s*:?\s*$`)
	wordRe          = regexp.MustCompile(`\b\w+\b`)
	noveltyTokenRe  = regexp.MustCompile(`[a-z0-9]+`)
	dateInTextRe    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}`)
	promoRe         = regexp.MustCompile(`(?i)subscribe now|sign up today|join our newsletter|limited[- ]time offer|promo code|discount code|buy now|click here`)
)

// Synthesizer generates the final article.
type Synthesizer struct {
	client *llm.Client
}

// NewSynthesizer builds a synthesizer over the shared LLM client.
func NewSynthesizer(client *llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Params carries everything one synthesis needs.
type Params struct {
	Topic           string
	Outline         core.OutlinePayload
	Evidence        []core.EvidenceItem
	Clusters        []core.StoryCluster
	PreviousArticle string
	LLMOptions      llm.Options
}

// targets are the per-run validation thresholds, derived from the catalog.
type targets struct {
	distinctSources int
	narrativeDates  int
	keyDevMin       int
	keyDevMax       int
}

func deriveTargets(catalog []core.SourceCatalogEntry) targets {
	n := len(catalog)
	t := targets{
		distinctSources: clampInt(n, 1, maxDistinctTarget),
		narrativeDates:  minInt(maxDateTarget, len(distinctCatalogDates(catalog))),
		keyDevMin:       clampInt(n, 1, 5),
		keyDevMax:       clampInt(n, 1, 7),
	}
	return t
}

// Synthesize writes the article with up to three validated attempts. The
// key-developments section is rewritten deterministically from the catalog
// before validation, so its format never depends on the model.
func (s *Synthesizer) Synthesize(ctx context.Context, p Params) (*core.ArticleResult, error) {
	catalog := BuildSourceCatalog(p.Evidence, p.Clusters)
	if len(catalog) == 0 {
		return nil, fmt.Errorf("synthesis requires at least one catalog source")
	}
	t := deriveTargets(catalog)
	basePrompt := prompts.Synthesis(
		p.Topic,
		p.Outline.Thesis,
		renderOutline(p.Outline),
		renderEvidence(p.Evidence),
		renderCatalog(catalog),
		t.keyDevMin, t.keyDevMax,
	)

	generate := func(ctx context.Context, prompt string) (draft, string, error) {
		payload, raw, err := llm.GenerateAndParse(ctx, s.client, prompt, p.LLMOptions, func(raw string) (map[string]any, error) {
			// Non-JSON output still salvages into an article body.
			return map[string]any{"article": raw}, nil
		})
		if err != nil {
			return draft{}, raw, err
		}
		d := coercePayload(payload, catalog)
		d.Article = rewriteKeyDevelopments(d.Article, catalog, t.keyDevMax)
		return d, raw, nil
	}
	validate := func(d draft) []string {
		return validateArticleBody(d, catalog, t)
	}

	d, raw, attempts, err := llm.RunWithRepair(ctx, repairAttempts, basePrompt, generate, validate, nil)
	if err != nil {
		return nil, fmt.Errorf("article synthesis failed: %w", err)
	}

	d.Sources = finalSources(d, catalog)
	words := len(wordRe.FindAllString(d.Article, -1))
	result := &core.ArticleResult{
		Title:         d.Title,
		Article:       d.Article,
		Sources:       d.Sources,
		WordCount:     words,
		RawResponse:   raw,
		Attempts:      attempts,
		NoveltyScore:  NoveltyScore(p.PreviousArticle, d.Article),
		SourceCatalog: catalog,
		Warnings:      collectWarnings(d, catalog, t, words),
	}
	return result, nil
}

func renderOutline(outline core.OutlinePayload) string {
	var b strings.Builder
	for i, pt := range outline.Outline {
		fmt.Fprintf(&b, "%d. %s - %s", i+1, pt.Point, pt.Summary)
		if len(pt.Dates) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(pt.Dates, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderEvidence(evidence []core.EvidenceItem) string {
	var b strings.Builder
	for _, ev := range evidence {
		fmt.Fprintf(&b, "Point %d: %s\n%s\n\n", ev.OutlineIndex+1, ev.Point, ev.Digest)
	}
	return b.String()
}

// rewriteKeyDevelopments replaces (or appends) the key-developments section
// with bullets generated from the catalog: newest first, undated last, each
// as "- <date> - <source> - <title> (<url>) [<id>]".
func rewriteKeyDevelopments(article string, catalog []core.SourceCatalogEntry, limit int) string {
	entries := keyDevelopmentEntries(catalog, limit)
	var b strings.Builder
	b.WriteString(keyDevHeading + "\n")
	for _, e := range entries {
		date := "Undated"
		if e.PublishedAt != nil {
			date = e.PublishedAt.Format("2006-01-02")
		}
		source := e.Source
		if source == "" {
			source = core.HostOf(e.URL)
		}
		fmt.Fprintf(&b, "- %s - %s - %s (%s) [%d]\n", date, source, e.Title, e.URL, e.ID)
	}
	section := strings.TrimRight(b.String(), "\n")

	loc := keyDevHeadingRe.FindStringIndex(article)
	if loc == nil {
		return strings.TrimRight(article, "\n") + "\n\n" + section + "\n"
	}

	head := article[:loc[0]]
	rest := article[loc[1]:]
	lines := strings.Split(rest, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
			continue
		}
		break
	}
	tail := strings.Join(lines[i:], "\n")
	out := strings.TrimRight(head, "\n") + "\n\n" + section + "\n"
	if strings.TrimSpace(tail) != "" {
		out += "\n" + tail
	}
	return out
}

// validateArticleBody returns the violations fed back through the repair
// loop. Soft limits (word count, narrative dates, uncited paragraphs) are
// reported as warnings later, not here.
func validateArticleBody(d draft, catalog []core.SourceCatalogEntry, t targets) []string {
	var errs []string
	if strings.TrimSpace(d.Title) == "" {
		errs = append(errs, "the response must include a non-empty title")
	}
	if strings.TrimSpace(d.Article) == "" {
		errs = append(errs, "the response must include the article body")
		return errs
	}

	known := make(map[int]bool, len(catalog))
	for _, e := range catalog {
		known[e.ID] = true
	}
	// The rewritten key-developments bullets carry their own marks; citation
	// discipline is judged on the narrative alone.
	narrative := narrativeOnly(d.Article)
	marks := citationMarkRe.FindAllStringSubmatch(narrative, -1)
	if len(marks) < minCitations {
		errs = append(errs, fmt.Sprintf("the article must contain at least %d inline [n] citations, found %d", minCitations, len(marks)))
	}
	used := usedCitationIDs(narrative)
	distinct := 0
	for _, id := range used {
		if known[id] {
			distinct++
		} else {
			errs = append(errs, fmt.Sprintf("citation [%d] does not exist in the source catalog", id))
		}
	}
	if distinct < t.distinctSources {
		errs = append(errs, fmt.Sprintf("the article must cite at least %d distinct catalog sources, found %d", t.distinctSources, distinct))
	}
	if !strings.Contains(d.Article, keyDevHeading) {
		errs = append(errs, "the article must contain a \"Key developments (past 14 days):\" section")
	}
	if promoRe.MatchString(d.Article) {
		errs = append(errs, "the article must not contain promotional language or calls to action")
	}
	return errs
}

// collectWarnings reports the soft limits on the accepted article.
func collectWarnings(d draft, catalog []core.SourceCatalogEntry, t targets, words int) []string {
	var warns []string
	if words < minWordsWarn || words > maxWordsWarn {
		warns = append(warns, fmt.Sprintf("article length %d words is outside the %d-%d target", words, minWordsWarn, maxWordsWarn))
	}
	if n := len(distinctDatesInText(narrativeOnly(d.Article))); n < t.narrativeDates {
		warns = append(warns, fmt.Sprintf("narrative mentions %d distinct dates, target is %d", n, t.narrativeDates))
	}
	for _, para := range uncitedParagraphs(narrativeOnly(d.Article)) {
		warns = append(warns, fmt.Sprintf("paragraph without citation: %q", truncateForWarning(para)))
	}
	return warns
}

// narrativeOnly strips the key-developments section so soft checks apply to
// prose only.
func narrativeOnly(article string) string {
	if i := strings.Index(article, keyDevHeading); i >= 0 {
		head := article[:i]
		rest := article[i+len(keyDevHeading):]
		lines := strings.Split(rest, "\n")
		j := 0
		for ; j < len(lines); j++ {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" || strings.HasPrefix(trimmed, "-") {
				continue
			}
			break
		}
		return head + strings.Join(lines[j:], "\n")
	}
	return article
}

func distinctDatesInText(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range dateInTextRe.FindAllString(text, -1) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// uncitedParagraphs returns prose paragraphs of at least eight words that
// carry no [n] mark. Headings and bullets are skipped.
func uncitedParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") || strings.HasPrefix(para, "-") || strings.HasPrefix(para, "*") {
			continue
		}
		if len(wordRe.FindAllString(para, -1)) < minParagraphWords {
			continue
		}
		if !citationMarkRe.MatchString(para) {
			out = append(out, para)
		}
	}
	return out
}

func truncateForWarning(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// finalSources rebuilds the source list from the citations the article
// actually uses; the coerced list is kept only when nothing resolves.
func finalSources(d draft, catalog []core.SourceCatalogEntry) []core.ArticleSource {
	byID := make(map[int]core.SourceCatalogEntry, len(catalog))
	for _, e := range catalog {
		byID[e.ID] = e
	}
	if out := sourcesFromMarks(narrativeOnly(d.Article), byID); len(out) > 0 {
		return out
	}
	return d.Sources
}

// NoveltyScore measures how much of the current article's vocabulary is new
// relative to the previous one: 1 with no previous article, otherwise
// 1 - |prev ∩ curr| / |curr| over lowercased tokens longer than three
// characters, rounded to three decimals.
func NoveltyScore(previous, current string) float64 {
	if strings.TrimSpace(previous) == "" {
		return 1
	}
	prev := noveltyTokens(previous)
	curr := noveltyTokens(current)
	if len(curr) == 0 {
		return 0
	}
	overlap := 0
	for tok := range curr {
		if prev[tok] {
			overlap++
		}
	}
	score := 1 - float64(overlap)/float64(len(curr))
	return float64(int(score*1000+0.5)) / 1000
}

func noveltyTokens(text string) map[string]bool {
	toks := map[string]bool{}
	for _, t := range noveltyTokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(t) > 3 {
			toks[t] = true
		}
	}
	return toks
}

// ImagePromptResult is the generated cover-illustration prompt.
type ImagePromptResult struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
}

// GenerateImagePrompt produces one illustration prompt for the article.
// Non-JSON model output is used verbatim as the prompt.
func (s *Synthesizer) GenerateImagePrompt(ctx context.Context, title, article string, opts llm.Options) (*ImagePromptResult, error) {
	excerpt := article
	if len(excerpt) > 600 {
		excerpt = excerpt[:600]
	}
	payload, raw, err := llm.GenerateAndParse(ctx, s.client, prompts.ImagePrompt(title, excerpt), opts, func(raw string) (ImagePromptResult, error) {
		return ImagePromptResult{Prompt: strings.TrimSpace(raw)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("image prompt generation failed: %w", err)
	}
	if strings.TrimSpace(payload.Prompt) == "" {
		return nil, fmt.Errorf("image prompt generation returned an empty prompt")
	}
	payload.RawResponse = raw
	return &payload, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
