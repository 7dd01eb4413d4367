// Package cluster groups normalized articles into story clusters using
// Jaccard similarity over title and excerpt tokens.
package cluster

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// Clusterer groups articles. Similarity at or above the cluster threshold
// joins an article to a cluster; a second pass folds leftover singletons
// into their closest cluster at the lower attach threshold.
type Clusterer struct {
	clusterThreshold float64
	attachThreshold  float64
	now              func() time.Time
}

// New builds a clusterer with the given thresholds.
func New(clusterThreshold, attachThreshold float64) *Clusterer {
	return &Clusterer{
		clusterThreshold: clusterThreshold,
		attachThreshold:  attachThreshold,
		now:              time.Now,
	}
}

type working struct {
	members []core.NormalizedArticle
	tokens  map[string]bool
}

// Cluster groups the articles and returns clusters ranked by score: larger,
// fresher clusters drawing on more distinct hosts rank first.
func (c *Clusterer) Cluster(articles []core.NormalizedArticle) []core.StoryCluster {
	var groups []*working
	for _, art := range articles {
		toks := tokenize(art)
		bestIdx, bestSim := -1, 0.0
		for i, g := range groups {
			if sim := jaccard(toks, g.tokens); sim > bestSim {
				bestIdx, bestSim = i, sim
			}
		}
		if bestIdx >= 0 && bestSim >= c.clusterThreshold {
			g := groups[bestIdx]
			g.members = append(g.members, art)
			for t := range toks {
				g.tokens[t] = true
			}
			continue
		}
		groups = append(groups, &working{members: []core.NormalizedArticle{art}, tokens: toks})
	}

	groups = c.attachSingletons(groups)

	clusters := make([]core.StoryCluster, 0, len(groups))
	for _, g := range groups {
		rep := c.pickRepresentative(g.members)
		clusters = append(clusters, core.StoryCluster{
			ClusterID:      core.NewShortID(8),
			Representative: rep,
			Members:        g.members,
			Citations:      buildCitations(g.members),
			Score:          c.score(g.members),
		})
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Score > clusters[j].Score
	})
	return clusters
}

// attachSingletons merges lone articles into the nearest multi-member
// cluster when they clear the attach threshold.
func (c *Clusterer) attachSingletons(groups []*working) []*working {
	var multi, single []*working
	for _, g := range groups {
		if len(g.members) > 1 {
			multi = append(multi, g)
		} else {
			single = append(single, g)
		}
	}
	if len(multi) == 0 {
		return groups
	}
	var remaining []*working
	for _, s := range single {
		bestIdx, bestSim := -1, 0.0
		for i, m := range multi {
			if sim := jaccard(s.tokens, m.tokens); sim > bestSim {
				bestIdx, bestSim = i, sim
			}
		}
		if bestIdx >= 0 && bestSim >= c.attachThreshold {
			m := multi[bestIdx]
			m.members = append(m.members, s.members[0])
			for t := range s.tokens {
				m.tokens[t] = true
			}
			continue
		}
		remaining = append(remaining, s)
	}
	return append(multi, remaining...)
}

// pickRepresentative favors the freshest dated member, breaking ties by
// word count. Undated members only represent all-undated clusters.
func (c *Clusterer) pickRepresentative(members []core.NormalizedArticle) core.NormalizedArticle {
	best := members[0]
	for _, m := range members[1:] {
		if betterRepresentative(m, best) {
			best = m
		}
	}
	return best
}

func betterRepresentative(a, b core.NormalizedArticle) bool {
	switch {
	case a.PublishedAt != nil && b.PublishedAt == nil:
		return true
	case a.PublishedAt == nil && b.PublishedAt != nil:
		return false
	case a.PublishedAt != nil && b.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.After(*b.PublishedAt)
	}
	return a.WordCount > b.WordCount
}

// score combines size, source diversity and freshness.
func (c *Clusterer) score(members []core.NormalizedArticle) float64 {
	hosts := map[string]bool{}
	fresh := 0.0
	now := c.now()
	for _, m := range members {
		hosts[m.SourceHost] = true
		if m.PublishedAt != nil {
			age := now.Sub(*m.PublishedAt).Hours()
			if age < 0 {
				age = 0
			}
			fresh += 1.0 / (1.0 + age/24.0)
		}
	}
	return float64(len(members)) + float64(len(hosts)) + fresh
}

func buildCitations(members []core.NormalizedArticle) []core.Citation {
	var out []core.Citation
	seen := map[string]bool{}
	for _, m := range members {
		if seen[m.CanonicalURL] {
			continue
		}
		seen[m.CanonicalURL] = true
		out = append(out, core.Citation{
			Title:       m.Title,
			URL:         m.CanonicalURL,
			PublishedAt: m.PublishedAt,
			Source:      m.SourceName,
		})
	}
	return out
}

// tokenize folds case and keeps alphanumeric tokens longer than three
// characters from the title and excerpt.
func tokenize(art core.NormalizedArticle) map[string]bool {
	toks := map[string]bool{}
	for _, t := range tokenRe.FindAllString(strings.ToLower(art.Title+" "+art.Excerpt), -1) {
		if len(t) > 3 {
			toks[t] = true
		}
	}
	return toks
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
