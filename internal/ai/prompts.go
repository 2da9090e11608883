package ai

import (
	"fmt"
	"strings"

	"github.com/dverney/newsmith/internal/storage"
)

// perArticleBudget caps how much of each article's text goes into the
// grouping prompt; grouping needs the gist, not the full body.
const perArticleBudget = 1200

// perSourceBudget caps the text handed to one compression call.
const perSourceBudget = 12000

const groupingPromptTemplate = `You are a news editor curating a daily digest for one reader.

Reader profile:
%s

Today's candidate articles, numbered:
%s

Group the articles into topics. Articles covering the same story or the same
development belong in one topic. An article may appear in at most one topic.
Score each topic's relevance to the reader between 0.0 and 1.0.

Rules:
- topic_type is "hot" for a story several articles cover, "standalone" for a
  single notable article, "normal" otherwise.
- headline is a fresh headline for the topic, not copied from any article.
- summary is 2-3 sentences.
- tags are 1-4 lowercase subject tags.
- article_indices refer to the numbers above.
- Leave out articles that are not worth the reader's time.

Respond ONLY with valid JSON in this exact format:
{
  "topics": [
    {
      "headline": "...",
      "summary": "...",
      "topic_type": "hot",
      "relevance_score": 0.8,
      "tags": ["..."],
      "article_indices": [0, 3]
    }
  ]
}`

const compressPromptTemplate = `Extract the essential information from this article for later reuse.

Title: %s
URL: %s

Article text:
%s

Pull out the concrete information. Facts and quotes must be faithful to the
text, never invented or embellished. Score how relevant the article is to the
topic "%s" between 0.0 and 1.0.

Respond ONLY with valid JSON in this exact format:
{
  "facts": ["one factual statement per entry"],
  "quotes": ["verbatim quotes worth keeping, if any"],
  "metrics": ["numbers, dates and figures, if any"],
  "relevance": 0.8
}`

const synthesisPromptTemplate = `You are writing a single cohesive news article for one reader.

Reader profile:
%s

Topic: %s
%s

Source material, numbered:
%s

Write the article in %s. Weave the sources into one narrative; do not
summarize them one by one. Every claim drawn from a source must carry an
inline citation marker like [1] matching the source numbers above. Use
markdown with a # headline. Do not invent facts beyond the source material.`

const gatherPromptTemplate = `You are researching a news topic before writing about it.

Topic: %s
%s

Material gathered so far:
%s

You may take %d more action(s). Decide the single next step:
- "search" with a query, when a specific angle is missing.
- "fetch" with a URL, when a known page would add substance.
- "stop" when the material is sufficient.

Respond ONLY with valid JSON in this exact format:
{"action": "search", "query": "...", "url": "", "reason": "..."}`

// buildProfileBlock renders the reader profile for prompt use.
func buildProfileBlock(profile storage.Profile) string {
	var b strings.Builder
	if profile.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", profile.Background)
	}
	if len(profile.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(profile.Interests, ", "))
	}
	if len(profile.Topics) > 0 {
		fmt.Fprintf(&b, "Standing topics: %s\n", strings.Join(profile.Topics, ", "))
	}
	if profile.Style != "" {
		fmt.Fprintf(&b, "Preferred style: %s\n", profile.Style)
	}
	if b.Len() == 0 {
		return "A general reader."
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildGroupingPrompt(articles []storage.RawArticle, profile storage.Profile) string {
	var list strings.Builder
	for i, a := range articles {
		body := a.Content
		if a.Excerpt != "" {
			body = a.Excerpt
		}
		fmt.Fprintf(&list, "[%d] %s (%s)\n%s\n\n", i, a.Title, a.SiteName, truncateText(body, perArticleBudget))
	}
	return fmt.Sprintf(groupingPromptTemplate, buildProfileBlock(profile), strings.TrimRight(list.String(), "\n"))
}

func buildCompressPrompt(title, url, text, topicHeadline string) string {
	return fmt.Sprintf(compressPromptTemplate, title, url, truncateText(text, perSourceBudget), topicHeadline)
}

func buildSynthesisPrompt(headline, summary string, profile storage.Profile, sources []CompressedSource) string {
	var material strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&material, "[%d] %s (%s)\n", i+1, src.Title, src.URL)
		for _, f := range src.Facts {
			fmt.Fprintf(&material, "- %s\n", f)
		}
		for _, q := range src.Quotes {
			fmt.Fprintf(&material, "- Quote: %q\n", q)
		}
		for _, m := range src.Metrics {
			fmt.Fprintf(&material, "- %s\n", m)
		}
		material.WriteString("\n")
	}

	language := profile.Language
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf(synthesisPromptTemplate,
		buildProfileBlock(profile), headline, summary,
		strings.TrimRight(material.String(), "\n"), language)
}

func buildGatherPrompt(headline, summary string, gathered []GatheredItem, remaining int) string {
	var have strings.Builder
	if len(gathered) == 0 {
		have.WriteString("(nothing yet)")
	}
	for _, g := range gathered {
		fmt.Fprintf(&have, "- %s (%s)\n", g.Title, g.URL)
	}
	return fmt.Sprintf(gatherPromptTemplate, headline, summary,
		strings.TrimRight(have.String(), "\n"), remaining)
}
