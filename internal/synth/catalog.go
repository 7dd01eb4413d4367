package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
)

// BuildSourceCatalog assigns citation numbers to every distinct source the
// article may cite: evidence citations first, then cluster citations, in
// first-seen order, deduplicated by URL. IDs start at 1.
func BuildSourceCatalog(evidence []core.EvidenceItem, clusters []core.StoryCluster) []core.SourceCatalogEntry {
	var catalog []core.SourceCatalogEntry
	seen := map[string]bool{}
	push := func(c core.Citation) {
		key := strings.ToLower(strings.TrimSpace(c.URL))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		catalog = append(catalog, core.SourceCatalogEntry{
			ID:          len(catalog) + 1,
			Title:       c.Title,
			URL:         c.URL,
			Source:      c.Source,
			PublishedAt: c.PublishedAt,
		})
	}
	for _, ev := range evidence {
		for _, c := range ev.Citations {
			push(c)
		}
	}
	for _, cl := range clusters {
		for _, c := range cl.Citations {
			push(c)
		}
	}
	return catalog
}

// renderCatalog lists the catalog for the synthesis prompt.
func renderCatalog(catalog []core.SourceCatalogEntry) string {
	var b strings.Builder
	for _, e := range catalog {
		date := "Undated"
		if e.PublishedAt != nil {
			date = e.PublishedAt.Format("2006-01-02")
		}
		source := e.Source
		if source == "" {
			source = core.HostOf(e.URL)
		}
		fmt.Fprintf(&b, "[%d] %s - %s - %s (%s)\n", e.ID, date, source, e.Title, e.URL)
	}
	return b.String()
}

// keyDevelopmentEntries orders the catalog for the key-developments section:
// newest first, undated entries last, ties keeping catalog order.
func keyDevelopmentEntries(catalog []core.SourceCatalogEntry, limit int) []core.SourceCatalogEntry {
	entries := make([]core.SourceCatalogEntry, len(catalog))
	copy(entries, catalog)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.PublishedAt == nil {
			return false
		}
		if b.PublishedAt == nil {
			return true
		}
		return a.PublishedAt.After(*b.PublishedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// distinctCatalogDates counts the distinct calendar dates the catalog spans.
func distinctCatalogDates(catalog []core.SourceCatalogEntry) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range catalog {
		if e.PublishedAt == nil {
			continue
		}
		d := e.PublishedAt.Format("2006-01-02")
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
