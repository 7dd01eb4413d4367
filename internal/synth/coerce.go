package synth

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
)

var citationMarkRe = regexp.MustCompile(`\[(\d+)\]`)

// draft is the synthesizer's working payload before validation.
type draft struct {
	Title   string
	Article string
	Sources []core.ArticleSource
}

// articleFieldOrder and sourcesFieldOrder are the accepted payload spellings,
// checked in order. Models routinely drift between them.
var (
	titleFieldOrder   = []string{"title", "headline"}
	articleFieldOrder = []string{"article", "body", "content", "text", "markdown"}
	sourcesFieldOrder = []string{"sources", "citations", "references", "refs", "sourceList", "source_list"}
	sectionFieldOrder = []string{"text", "content", "body"}
)

// coercePayload maps a loosely-shaped model response onto a draft. The
// payload may nest the real object under "raw" or "raw.data"; the article
// may arrive as a single string or as sections; sources under several names.
func coercePayload(m map[string]any, catalog []core.SourceCatalogEntry) draft {
	m = unwrap(m)
	d := draft{
		Title:   firstString(m, titleFieldOrder),
		Article: firstString(m, articleFieldOrder),
	}
	if d.Article == "" {
		d.Article = joinSections(m["sections"])
	}
	d.Sources = coerceSources(m, d.Article, catalog)
	return d
}

func unwrap(m map[string]any) map[string]any {
	for i := 0; i < 2; i++ {
		inner, ok := m["raw"].(map[string]any)
		if !ok {
			if data, ok := m["data"].(map[string]any); ok && firstString(m, articleFieldOrder) == "" {
				m = data
				continue
			}
			return m
		}
		m = inner
	}
	return m
}

func firstString(m map[string]any, fields []string) string {
	for _, f := range fields {
		if s, ok := m[f].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func joinSections(v any) string {
	sections, ok := v.([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, s := range sections {
		sm, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if heading, ok := sm["heading"].(string); ok && strings.TrimSpace(heading) != "" {
			parts = append(parts, "## "+strings.TrimSpace(heading))
		}
		if text := firstString(sm, sectionFieldOrder); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// coerceSources resolves the source list: a recognized field, then inline
// citation marks, then the head of the catalog. Entries whose ID is not in
// the catalog are dropped.
func coerceSources(m map[string]any, article string, catalog []core.SourceCatalogEntry) []core.ArticleSource {
	byID := make(map[int]core.SourceCatalogEntry, len(catalog))
	for _, e := range catalog {
		byID[e.ID] = e
	}

	for _, f := range sourcesFieldOrder {
		raw, ok := m[f].([]any)
		if !ok {
			continue
		}
		var out []core.ArticleSource
		for _, r := range raw {
			rm, ok := r.(map[string]any)
			if !ok {
				continue
			}
			id := intField(rm, "id")
			entry, known := byID[id]
			if !known {
				continue
			}
			src := core.ArticleSource{ID: id, Title: entry.Title, URL: entry.URL}
			if t, ok := rm["title"].(string); ok && strings.TrimSpace(t) != "" {
				src.Title = strings.TrimSpace(t)
			}
			out = append(out, src)
		}
		if len(out) > 0 {
			return out
		}
	}

	if out := sourcesFromMarks(article, byID); len(out) > 0 {
		return out
	}

	limit := 10
	if len(catalog) < limit {
		limit = len(catalog)
	}
	var out []core.ArticleSource
	for _, e := range catalog[:limit] {
		out = append(out, core.ArticleSource{ID: e.ID, Title: e.Title, URL: e.URL})
	}
	return out
}

// sourcesFromMarks derives the source list from the inline [n] marks that
// resolve against the catalog, in ascending ID order.
func sourcesFromMarks(article string, byID map[int]core.SourceCatalogEntry) []core.ArticleSource {
	ids := usedCitationIDs(article)
	var out []core.ArticleSource
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, core.ArticleSource{ID: id, Title: e.Title, URL: e.URL})
		}
	}
	return out
}

// usedCitationIDs returns the distinct [n] marks in the article, ascending.
func usedCitationIDs(article string) []int {
	seen := map[int]bool{}
	var out []int
	for _, m := range citationMarkRe.FindAllStringSubmatch(article, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}
