// Package synth turns a topic cluster into a finished article: gather extra
// material under a tool budget, compress each source, synthesize with inline
// citations. The service wrapper adds the per-topic cache.
package synth

import (
	"context"
	"log"

	"github.com/dverney/newsmith/internal/ai"
	"github.com/dverney/newsmith/internal/dedup"
	"github.com/dverney/newsmith/internal/extract"
	"github.com/dverney/newsmith/internal/sources"
)

// SourceMaterial is one piece of input text for an article, either a topic's
// ingested article or something the gather loop pulled in.
type SourceMaterial struct {
	Title string
	URL   string
	Text  string
}

// Searcher runs a web search; the discovery search adapter satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]sources.Discovered, error)
}

// Extractor fetches full text for a URL; the extraction chain satisfies it.
type Extractor interface {
	Extract(ctx context.Context, url string) (*extract.Content, error)
}

// gatherSearchResults caps how many search hits one search action will try to
// extract before giving up on the action.
const gatherSearchResults = 3

// gather runs the bounded research loop. Every model decision spends one unit
// of budget whether or not it yields material; gathering failures never fail
// the generation since the topic's own articles are already in hand.
func (p *Pipeline) gather(ctx context.Context, headline, summary string, materials []SourceMaterial) []SourceMaterial {
	if p.extractor == nil {
		return materials
	}

	have := make(map[string]bool, len(materials))
	for _, m := range materials {
		have[dedup.CanonicalURL(m.URL)] = true
	}

	for remaining := p.toolBudget; remaining > 0; remaining-- {
		decision, err := p.llm.DecideGather(ctx, headline, summary, gatheredItems(materials), remaining)
		if err != nil {
			log.Printf("newsmith: gather decision failed, proceeding with %d sources: %v", len(materials), err)
			return materials
		}

		switch decision.Action {
		case ai.ActionStop:
			return materials

		case ai.ActionSearch:
			if p.search == nil {
				log.Printf("newsmith: gather wanted a search but no search backend is configured")
				return materials
			}
			results, err := p.search.Search(ctx, decision.Query, gatherSearchResults)
			if err != nil {
				log.Printf("newsmith: gather search %q failed: %v", decision.Query, err)
				continue
			}
			for _, r := range results {
				if m, ok := p.fetchMaterial(ctx, r.URL, have); ok {
					materials = append(materials, m)
					break
				}
			}

		case ai.ActionFetch:
			if m, ok := p.fetchMaterial(ctx, decision.URL, have); ok {
				materials = append(materials, m)
			}
		}
	}
	return materials
}

// fetchMaterial extracts one URL into material, skipping URLs already held.
func (p *Pipeline) fetchMaterial(ctx context.Context, url string, have map[string]bool) (SourceMaterial, bool) {
	key := dedup.CanonicalURL(url)
	if url == "" || have[key] {
		return SourceMaterial{}, false
	}
	have[key] = true

	content, err := p.extractor.Extract(ctx, url)
	if err != nil {
		log.Printf("newsmith: gather fetch %s failed: %v", url, err)
		return SourceMaterial{}, false
	}
	return SourceMaterial{Title: content.Title, URL: url, Text: content.Text}, true
}

func gatheredItems(materials []SourceMaterial) []ai.GatheredItem {
	items := make([]ai.GatheredItem, len(materials))
	for i, m := range materials {
		items[i] = ai.GatheredItem{Title: m.Title, URL: m.URL}
	}
	return items
}
