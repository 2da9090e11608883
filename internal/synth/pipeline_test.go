package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dverney/newsmith/internal/ai"
	"github.com/dverney/newsmith/internal/extract"
	"github.com/dverney/newsmith/internal/sources"
	"github.com/dverney/newsmith/internal/storage"
)

// synthStep scripts one Synthesize call: chunks delivered, then err.
type synthStep struct {
	chunks []string
	err    error
}

type fakeLLM struct {
	mu            sync.Mutex
	decisions     []*ai.GatherDecision
	decideCalls   int
	compressCalls int
	compressErr   map[string]error // by URL
	relevance     map[string]float64
	factCount     int // facts per compressed source; default 2

	synthSteps   []synthStep
	synthCalls   int
	synthPayload [][]ai.CompressedSource
}

func (f *fakeLLM) DecideGather(_ context.Context, _, _ string, _ []ai.GatheredItem, _ int) (*ai.GatherDecision, error) {
	i := f.decideCalls
	f.decideCalls++
	if i < len(f.decisions) {
		return f.decisions[i], nil
	}
	return &ai.GatherDecision{Action: ai.ActionStop}, nil
}

// CompressSource is called from concurrent goroutines.
func (f *fakeLLM) CompressSource(_ context.Context, title, url, _, _ string) (*ai.CompressedSource, error) {
	f.mu.Lock()
	f.compressCalls++
	f.mu.Unlock()
	if err := f.compressErr[url]; err != nil {
		return nil, err
	}
	n := f.factCount
	if n == 0 {
		n = 2
	}
	facts := make([]string, n)
	for i := range facts {
		facts[i] = fmt.Sprintf("fact %d about %s with some padding", i, title)
	}
	rel := 0.8
	if r, ok := f.relevance[url]; ok {
		rel = r
	}
	return &ai.CompressedSource{Title: title, URL: url, Facts: facts, Relevance: rel}, nil
}

func (f *fakeLLM) Synthesize(_ context.Context, req ai.SynthesisRequest, emit func(string) error) (string, error) {
	i := f.synthCalls
	f.synthCalls++
	payload := make([]ai.CompressedSource, len(req.Sources))
	copy(payload, req.Sources)
	f.synthPayload = append(f.synthPayload, payload)

	step := synthStep{}
	if i < len(f.synthSteps) {
		step = f.synthSteps[i]
	}
	var full strings.Builder
	for _, chunk := range step.chunks {
		full.WriteString(chunk)
		if emit != nil {
			if err := emit(chunk); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), step.err
}

// citeAll builds a response that cites sources 1..n.
func citeAll(n int) []string {
	var b strings.Builder
	b.WriteString("# Headline\n\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "A claim [%d]. ", i)
	}
	return []string{b.String()}
}

func overflowErr() error {
	return fmt.Errorf("%w: prompt too big", ai.ErrContextOverflow)
}

func testTopic() *storage.DailyTopic {
	return &storage.DailyTopic{ID: 7, Headline: "Test topic", Summary: "Summary."}
}

func testRawArticles(n int) []storage.RawArticle {
	articles := make([]storage.RawArticle, n)
	for i := range articles {
		articles[i] = storage.RawArticle{
			Title:   fmt.Sprintf("Source %d", i+1),
			URL:     fmt.Sprintf("https://example.com/%d", i+1),
			Content: "full text",
		}
	}
	return articles
}

func TestRunStreamsAndCitesEverySource(t *testing.T) {
	llm := &fakeLLM{synthSteps: []synthStep{{chunks: citeAll(3)}}}
	p := NewPipeline(llm, nil, nil, storage.Profile{}, 4, 3)

	var chunks int
	text, err := p.Run(context.Background(), testTopic(), testRawArticles(3), func(string) error {
		chunks++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if !strings.Contains(text, fmt.Sprintf("[%d]", i)) {
			t.Errorf("citation [%d] missing", i)
		}
	}
	if chunks == 0 {
		t.Errorf("nothing streamed")
	}
	if llm.compressCalls != 3 {
		t.Errorf("compress calls = %d, want 3", llm.compressCalls)
	}
}

func TestRunMissingCitationFails(t *testing.T) {
	llm := &fakeLLM{synthSteps: []synthStep{{chunks: citeAll(2)}}} // three sources, two cited
	p := NewPipeline(llm, nil, nil, storage.Profile{}, 0, 3)

	_, err := p.Run(context.Background(), testTopic(), testRawArticles(3), nil)
	if !errors.Is(err, ErrIncompleteCitations) {
		t.Fatalf("got %v, want ErrIncompleteCitations", err)
	}
}

func TestRunDropsFailedCompressions(t *testing.T) {
	llm := &fakeLLM{
		compressErr: map[string]error{"https://example.com/2": errors.New("model hiccup")},
		synthSteps:  []synthStep{{chunks: citeAll(2)}},
	}
	p := NewPipeline(llm, nil, nil, storage.Profile{}, 0, 3)

	_, err := p.Run(context.Background(), testTopic(), testRawArticles(3), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(llm.synthPayload[0]); got != 2 {
		t.Errorf("synthesis saw %d sources, want 2", got)
	}
}

func TestRunAllCompressionsFailed(t *testing.T) {
	llm := &fakeLLM{compressErr: map[string]error{"https://example.com/1": errors.New("down")}}
	p := NewPipeline(llm, nil, nil, storage.Profile{}, 0, 3)

	_, err := p.Run(context.Background(), testTopic(), testRawArticles(1), nil)
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("got %v, want ErrNoSources", err)
	}
}

func TestOverflowRetryShrinksPayload(t *testing.T) {
	llm := &fakeLLM{
		factCount: 10,
		synthSteps: []synthStep{
			{err: overflowErr()},
			{err: overflowErr()},
			{chunks: citeAll(2)},
		},
	}
	p := NewPipeline(llm, nil, nil, storage.Profile{}, 0, 3)

	_, err := p.Run(context.Background(), testTopic(), testRawArticles(2), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.synthCalls != 3 {
		t.Fatalf("synth calls = %d, want 3", llm.synthCalls)
	}

	counts := make([]int, len(llm.synthPayload))
	for i, payload := range llm.synthPayload {
		for _, src := range payload {
			counts[i] += len(src.Facts)
		}
	}
	if !(counts[0] > counts[1] && counts[1] > counts[2]) {
		t.Errorf("payload did not shrink across retries: %v", counts)
	}
}

func TestOverflowAfterStreamingIsFatal(t *testing.T) {
	llm := &fakeLLM{
		synthSteps: []synthStep{{chunks: []string{"partial "}, err: overflowErr()}},
	}
	p := NewPipeline(llm, nil, nil, storage.Profile{}, 0, 3)

	_, err := p.Run(context.Background(), testTopic(), testRawArticles(1), func(string) error { return nil })
	if !ai.IsContextOverflow(err) {
		t.Fatalf("got %v, want overflow error", err)
	}
	if llm.synthCalls != 1 {
		t.Errorf("synth calls = %d, want 1 (no retry after streaming began)", llm.synthCalls)
	}
}

func TestOverflowDropsLeastRelevantSourceLast(t *testing.T) {
	llm := &fakeLLM{
		relevance: map[string]float64{
			"https://example.com/1": 0.9,
			"https://example.com/2": 0.2,
		},
		synthSteps: []synthStep{
			{err: overflowErr()},
			{chunks: citeAll(1)},
		},
	}
	// Zero fact-drop retries forces the whole-source drop immediately.
	p := NewPipeline(llm, nil, nil, storage.Profile{}, 0, 0)

	_, err := p.Run(context.Background(), testTopic(), testRawArticles(2), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	final := llm.synthPayload[1]
	if len(final) != 1 || final[0].URL != "https://example.com/1" {
		t.Errorf("least relevant source not dropped, final payload: %+v", final)
	}
}

// fixedSearcher returns the same results for every query.
type fixedSearcher struct {
	results []sources.Discovered
	calls   int
}

func (s *fixedSearcher) Search(_ context.Context, _ string, _ int) ([]sources.Discovered, error) {
	s.calls++
	return s.results, nil
}

// fixedExtractor returns canned content for any URL.
type fixedExtractor struct {
	calls int
	fail  bool
}

func (e *fixedExtractor) Extract(_ context.Context, url string) (*extract.Content, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("extract failed")
	}
	return &extract.Content{Title: "Fetched " + url, Text: strings.Repeat("text ", 100)}, nil
}

func TestGatherRespectsToolBudget(t *testing.T) {
	llm := &fakeLLM{
		decisions: []*ai.GatherDecision{
			{Action: ai.ActionSearch, Query: "angle one"},
			{Action: ai.ActionSearch, Query: "angle two"},
			{Action: ai.ActionSearch, Query: "angle three"},
		},
		synthSteps: []synthStep{{chunks: citeAll(3)}}, // 1 original + 2 gathered
	}
	searcher := &fixedSearcher{results: []sources.Discovered{
		{Title: "Hit A", URL: "https://news.example/a"},
	}}
	extractor := &fixedExtractor{}
	p := NewPipeline(llm, searcher, extractor, storage.Profile{}, 2, 3)

	materials := p.gather(context.Background(), "H", "s", []SourceMaterial{
		{Title: "Original", URL: "https://example.com/1", Text: "t"},
	})
	if llm.decideCalls != 2 {
		t.Errorf("decide calls = %d, want 2 (budget)", llm.decideCalls)
	}
	if searcher.calls != 2 {
		t.Errorf("search calls = %d, want 2", searcher.calls)
	}
	// Second search's only hit is a duplicate URL, so one material was added.
	if len(materials) != 2 {
		t.Errorf("materials = %d, want 2", len(materials))
	}
}

func TestGatherStopEndsLoop(t *testing.T) {
	llm := &fakeLLM{decisions: []*ai.GatherDecision{{Action: ai.ActionStop}}}
	extractor := &fixedExtractor{}
	p := NewPipeline(llm, nil, extractor, storage.Profile{}, 5, 3)

	materials := p.gather(context.Background(), "H", "s", []SourceMaterial{{URL: "https://example.com/1"}})
	if llm.decideCalls != 1 {
		t.Errorf("decide calls = %d, want 1", llm.decideCalls)
	}
	if len(materials) != 1 {
		t.Errorf("materials = %d, want 1", len(materials))
	}
}

func TestGatherFetchSkipsKnownURL(t *testing.T) {
	llm := &fakeLLM{decisions: []*ai.GatherDecision{
		{Action: ai.ActionFetch, URL: "https://example.com/1?utm_source=x"},
	}}
	extractor := &fixedExtractor{}
	p := NewPipeline(llm, nil, extractor, storage.Profile{}, 1, 3)

	materials := p.gather(context.Background(), "H", "s", []SourceMaterial{{URL: "https://example.com/1"}})
	if extractor.calls != 0 {
		t.Errorf("known URL was fetched anyway")
	}
	if len(materials) != 1 {
		t.Errorf("materials = %d, want 1", len(materials))
	}
}

func TestDropShortestFactsGlobal(t *testing.T) {
	compressed := []ai.CompressedSource{
		{Facts: []string{"tiny", "a considerably longer statement of fact"}},
		{Facts: []string{"xx", "another fairly long statement", "mid length"}},
	}
	n := dropShortestFacts(compressed, 0.5)
	if n != 2 {
		t.Fatalf("dropped %d, want 2", n)
	}
	if len(compressed[0].Facts) != 1 || compressed[0].Facts[0] != "a considerably longer statement of fact" {
		t.Errorf("source 0 facts: %v", compressed[0].Facts)
	}
	if len(compressed[1].Facts) != 2 {
		t.Errorf("source 1 facts: %v", compressed[1].Facts)
	}
}
