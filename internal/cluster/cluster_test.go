package cluster

import (
	"testing"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
)

func article(title, excerpt, host string, published *time.Time) core.NormalizedArticle {
	return core.NormalizedArticle{
		ID:           core.NewShortID(6),
		Title:        title,
		Excerpt:      excerpt,
		SourceHost:   host,
		CanonicalURL: "https://" + host + "/" + core.NewShortID(4),
		PublishedAt:  published,
		WordCount:    300,
	}
}

func at(hoursAgo int) *time.Time {
	t := time.Now().UTC().Add(-time.Duration(hoursAgo) * time.Hour)
	return &t
}

func TestClusterGroupsSimilarStories(t *testing.T) {
	c := New(0.42, 0.30)
	got := c.Cluster([]core.NormalizedArticle{
		article("OpenAI announces enterprise pricing changes", "OpenAI enterprise pricing changes announced this week", "a.com", at(10)),
		article("OpenAI enterprise pricing changes announced", "OpenAI announces enterprise pricing changes weekly", "b.com", at(5)),
		article("Intel opens Ohio fabrication plant", "Intel fabrication plant opens in Ohio with state subsidies", "c.com", at(3)),
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(got))
	}
	var pricing *core.StoryCluster
	for i := range got {
		if len(got[i].Members) == 2 {
			pricing = &got[i]
		}
	}
	if pricing == nil {
		t.Fatalf("similar stories not grouped: %+v", got)
	}
	if pricing.Representative.SourceHost != "b.com" {
		t.Errorf("representative should be the freshest member, got %s", pricing.Representative.SourceHost)
	}
	if len(pricing.Citations) != 2 {
		t.Errorf("citations = %+v", pricing.Citations)
	}
}

func TestClusterRanksByScore(t *testing.T) {
	c := New(0.42, 0.30)
	got := c.Cluster([]core.NormalizedArticle{
		article("Solo niche story about archival standards", "A lone piece on archival metadata standards revisions", "x.com", at(100)),
		article("Major chip export controls tightened again", "Chip export controls tightened by regulators this quarter", "a.com", at(2)),
		article("Chip export controls tightened by regulators", "Major chip export controls tightened again this quarter", "b.com", at(4)),
	})
	if len(got) < 2 {
		t.Fatalf("expected at least 2 clusters, got %d", len(got))
	}
	if len(got[0].Members) != 2 {
		t.Errorf("larger fresher cluster should rank first: %+v", got[0])
	}
	if got[0].Score <= got[len(got)-1].Score {
		t.Errorf("scores not descending: %v vs %v", got[0].Score, got[len(got)-1].Score)
	}
}

func TestClusterIDsAreUnique(t *testing.T) {
	c := New(0.42, 0.30)
	got := c.Cluster([]core.NormalizedArticle{
		article("Topic alpha entirely unrelated headline", "completely distinct vocabulary first entry", "a.com", at(1)),
		article("Different beta subject matter report", "second article shares nothing textual", "b.com", at(2)),
		article("Gamma coverage third unrelated item", "third cluster unique wording throughout", "c.com", at(3)),
	})
	seen := map[string]bool{}
	for _, cl := range got {
		if cl.ClusterID == "" || seen[cl.ClusterID] {
			t.Errorf("duplicate or empty cluster id: %q", cl.ClusterID)
		}
		seen[cl.ClusterID] = true
	}
}

func TestAttachSingletonsUsesLowerThreshold(t *testing.T) {
	c := New(0.9, 0.20) // strict clustering, permissive attachment
	got := c.Cluster([]core.NormalizedArticle{
		article("Quantum computing milestone reached today", "Quantum computing milestone reached in laboratory today", "a.com", at(1)),
		article("Quantum computing milestone reached today", "Quantum computing milestone reached in laboratory today", "b.com", at(2)),
		article("Quantum milestone laboratory results published", "Laboratory quantum results published alongside milestone", "c.com", at(3)),
	})
	for _, cl := range got {
		if len(cl.Members) == 3 {
			return
		}
	}
	t.Fatalf("related singleton should attach to the pair: %+v", got)
}

func TestJaccardEdgeCases(t *testing.T) {
	if got := jaccard(map[string]bool{}, map[string]bool{"word": true}); got != 0 {
		t.Errorf("empty set similarity = %v", got)
	}
	same := map[string]bool{"alpha": true, "beta": true}
	if got := jaccard(same, same); got != 1 {
		t.Errorf("identical set similarity = %v", got)
	}
}
