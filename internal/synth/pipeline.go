package synth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/dverney/newsmith/internal/ai"
	"github.com/dverney/newsmith/internal/storage"
)

// ErrNoSources means no source survived compression, leaving nothing to
// write from.
var ErrNoSources = errors.New("no usable source material")

// ErrIncompleteCitations means the synthesized text failed to cite every
// source that contributed material. The text was already streamed; it must
// not be cached.
var ErrIncompleteCitations = errors.New("synthesized article missing citations")

// modelClient is the slice of the ai client the pipeline uses.
type modelClient interface {
	DecideGather(ctx context.Context, headline, summary string, gathered []ai.GatheredItem, remaining int) (*ai.GatherDecision, error)
	CompressSource(ctx context.Context, title, url, text, topicHeadline string) (*ai.CompressedSource, error)
	Synthesize(ctx context.Context, req ai.SynthesisRequest, emit func(chunk string) error) (string, error)
}

// Pipeline runs the three generation phases for one topic.
type Pipeline struct {
	llm                modelClient
	search             Searcher
	extractor          Extractor
	profile            storage.Profile
	toolBudget         int
	maxOverflowRetries int
}

// NewPipeline assembles a generation pipeline. search may be nil when no
// search backend is configured; extractor may be nil to disable gathering
// entirely.
func NewPipeline(llm modelClient, search Searcher, extractor Extractor, profile storage.Profile, toolBudget, maxOverflowRetries int) *Pipeline {
	if toolBudget < 0 {
		toolBudget = 0
	}
	if maxOverflowRetries < 0 {
		maxOverflowRetries = 0
	}
	return &Pipeline{
		llm:                llm,
		search:             search,
		extractor:          extractor,
		profile:            profile,
		toolBudget:         toolBudget,
		maxOverflowRetries: maxOverflowRetries,
	}
}

// Run generates the article for a topic from its linked articles, streaming
// chunks through emit. Returns the full text.
func (p *Pipeline) Run(ctx context.Context, topic *storage.DailyTopic, articles []storage.RawArticle, emit func(chunk string) error) (string, error) {
	materials := make([]SourceMaterial, 0, len(articles))
	for _, a := range articles {
		materials = append(materials, SourceMaterial{Title: a.Title, URL: a.URL, Text: a.Content})
	}

	materials = p.gather(ctx, topic.Headline, topic.Summary, materials)

	compressed, err := p.compressAll(ctx, topic.Headline, materials)
	if err != nil {
		return "", err
	}

	return p.synthesize(ctx, topic, compressed, emit)
}

// compressAll distills every material through the compression model, one
// independent call per source run in parallel. Slice order is preserved so
// citation indices stay stable. A single source failing is logged and
// dropped; all of them failing is an error.
func (p *Pipeline) compressAll(ctx context.Context, topicHeadline string, materials []SourceMaterial) ([]ai.CompressedSource, error) {
	results := make([]*ai.CompressedSource, len(materials))

	var wg sync.WaitGroup
	for i, m := range materials {
		wg.Add(1)
		go func(i int, m SourceMaterial) {
			defer wg.Done()
			src, err := p.llm.CompressSource(ctx, m.Title, m.URL, m.Text, topicHeadline)
			if err != nil {
				log.Printf("newsmith: compression failed for %s, dropping source: %v", m.URL, err)
				return
			}
			if src.ItemCount() == 0 {
				log.Printf("newsmith: compression yielded nothing for %s, dropping source", m.URL)
				return
			}
			results[i] = src
		}(i, m)
	}
	wg.Wait()

	var compressed []ai.CompressedSource
	for _, src := range results {
		if src != nil {
			compressed = append(compressed, *src)
		}
	}
	if len(compressed) == 0 {
		return nil, fmt.Errorf("%w: %d materials, none compressed", ErrNoSources, len(materials))
	}
	return compressed, nil
}

// synthesize runs the synthesis call with overflow recovery. On a context
// overflow before any chunk reached the caller, the payload shrinks (the
// globally shortest facts first, then the least relevant whole source) and
// the call is retried. Once a chunk has streamed there is no retry; the
// caller has already seen a partial article.
func (p *Pipeline) synthesize(ctx context.Context, topic *storage.DailyTopic, compressed []ai.CompressedSource, emit func(chunk string) error) (string, error) {
	var streamed bool
	wrapped := func(chunk string) error {
		streamed = true
		if emit == nil {
			return nil
		}
		return emit(chunk)
	}

	droppedSource := false
	for attempt := 0; ; attempt++ {
		streamed = false
		text, err := p.llm.Synthesize(ctx, ai.SynthesisRequest{
			Headline: topic.Headline,
			Summary:  topic.Summary,
			Profile:  p.profile,
			Sources:  compressed,
		}, wrapped)
		if err == nil {
			if missing := missingCitations(text, compressed); len(missing) > 0 {
				return text, fmt.Errorf("%w: sources %v uncited", ErrIncompleteCitations, missing)
			}
			return text, nil
		}
		if !ai.IsContextOverflow(err) || streamed {
			return "", fmt.Errorf("synthesize topic %d: %w", topic.ID, err)
		}

		if attempt < p.maxOverflowRetries {
			n := dropShortestFacts(compressed, 0.1)
			log.Printf("newsmith: synthesis overflow for topic %d, dropped %d facts (attempt %d/%d)",
				topic.ID, n, attempt+1, p.maxOverflowRetries)
			continue
		}
		if !droppedSource && len(compressed) > 1 {
			idx := leastRelevant(compressed)
			log.Printf("newsmith: synthesis still overflowing for topic %d, dropping source %s", topic.ID, compressed[idx].URL)
			compressed = append(compressed[:idx], compressed[idx+1:]...)
			droppedSource = true
			continue
		}
		return "", fmt.Errorf("synthesize topic %d: %w", topic.ID, err)
	}
}

// dropShortestFacts removes the globally shortest tenth of all facts (at
// least one), spread across whichever sources hold them. Returns how many
// were removed.
func dropShortestFacts(compressed []ai.CompressedSource, fraction float64) int {
	type ref struct {
		src    int
		length int
	}
	var refs []ref
	for i := range compressed {
		for _, f := range compressed[i].Facts {
			refs = append(refs, ref{src: i, length: len(f)})
		}
	}
	if len(refs) == 0 {
		return 0
	}

	n := int(float64(len(refs)) * fraction)
	if n < 1 {
		n = 1
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].length < refs[j].length })
	perSource := make(map[int]int)
	for _, r := range refs[:n] {
		perSource[r.src]++
	}
	for i, count := range perSource {
		compressed[i].DropShortestFacts(count)
	}
	return n
}

func leastRelevant(compressed []ai.CompressedSource) int {
	idx := 0
	for i := range compressed {
		if compressed[i].Relevance < compressed[idx].Relevance {
			idx = i
		}
	}
	return idx
}

// missingCitations returns the 1-based numbers of sources that contributed
// material but are never cited in the text.
func missingCitations(text string, compressed []ai.CompressedSource) []int {
	var missing []int
	for i := range compressed {
		if compressed[i].ItemCount() == 0 {
			continue
		}
		if !strings.Contains(text, fmt.Sprintf("[%d]", i+1)) {
			missing = append(missing, i+1)
		}
	}
	return missing
}
