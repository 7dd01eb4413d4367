// Package prompts builds the LLM prompts used across the pipeline stages.
// Keeping them in one place makes tone and format changes reviewable.
package prompts

import (
	"fmt"
	"strings"
)

// TopicAnalysis asks for refined search queries for a briefing topic.
func TopicAnalysis(topic string, maxQueries int) string {
	return fmt.Sprintf(`You are a news research planner. Given the briefing topic below, produce up to %d focused web search queries that together cover the most newsworthy recent angles of the topic.

Topic: %s

Respond with JSON only:
{"queries": ["query one", "query two"]}

Rules:
1. Each query must be a plain search string, no operators.
2. Queries must be distinct angles, not rephrasings of each other.
3. Keep each query under 12 words.`, maxQueries, topic)
}

// QueryExpansion asks for targeted follow-up queries for one outline point.
func QueryExpansion(topic, point string, maxQueries int) string {
	return fmt.Sprintf(`You are researching one point of a news briefing about "%s".

Point: %s

Produce up to %d search queries that would surface concrete, recent evidence for this point (named companies, numbers, dates, announcements).

Respond with JSON only:
{"queries": ["query one", "query two"]}`, topic, point, maxQueries)
}

// Outline asks for a thesis plus outline points grounded in the clusters
// listed with their aliases.
func Outline(topic string, pointCount int, clusterListing string) string {
	return fmt.Sprintf(`You are the lead editor of a weekly intelligence briefing on "%s".

Below are the story clusters found this week, each with an alias you must use when citing support:

%s

Write a briefing outline as JSON only:
{
  "thesis": "one or two sentences stating the week's central development",
  "outline": [
    {
      "point": "short point title",
      "summary": "two or three sentences",
      "supports": ["C01"],
      "dates": ["2026-02-10"]
    }
  ]
}

Rules:
1. Produce exactly %d outline points.
2. The thesis must be a substantive sentence, not a title.
3. Every point's "supports" lists the aliases (C01, C02, ...) of clusters that back it; use only aliases from the listing.
4. "dates" holds the relevant dates in YYYY-MM-DD form.
5. Cover as many distinct clusters as possible across the points.`, topic, clusterListing, pointCount)
}

// Synthesis asks for the final article over the outline and evidence.
func Synthesis(topic, thesis, outlineBlock, evidenceBlock, catalogBlock string, keyDevMin, keyDevMax int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are writing the weekly intelligence briefing on "%s".

Thesis: %s

Outline:
%s

Evidence per point (cite with the bracketed numbers):
%s

Source catalog (the only valid citation numbers):
%s

`, topic, thesis, outlineBlock, evidenceBlock, catalogBlock)
	fmt.Fprintf(&b, `Respond with JSON only:
{
  "title": "article headline",
  "article": "full markdown article",
  "sources": [{"id": 1, "title": "...", "url": "..."}]
}

Rules:
1. The article is markdown with an opening narrative, a section per outline point, and a closing outlook.
2. Cite sources inline as [n] using only numbers from the catalog.
3. Include a "**Key developments (past 14 days):**" section listing %d to %d dated bullet items.
4. Weave specific dates into the narrative.
5. Target 350 to 900 words.
6. No promotional language, no calls to action.`, keyDevMin, keyDevMax)
	return b.String()
}

// ImagePrompt asks for a single illustration prompt for the article.
func ImagePrompt(title, articleExcerpt string) string {
	return fmt.Sprintf(`Create one image-generation prompt for the cover illustration of this news briefing.

Title: %s

Opening:
%s

Respond with JSON only:
{"prompt": "the image prompt", "style": "short style descriptor"}

The prompt must be concrete and visual, avoid text in the image, and avoid real people's likenesses.`, title, articleExcerpt)
}
