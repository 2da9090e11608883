package dedup

import (
	"math"
	"testing"
	"time"

	"github.com/dverney/newsmith/internal/sources"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips scheme and www", "https://www.Example.com/story", "example.com/story"},
		{"http equals https", "http://example.com/story", "example.com/story"},
		{"drops utm params", "https://example.com/story?utm_source=x&utm_medium=y", "example.com/story"},
		{"drops fbclid", "https://example.com/story?fbclid=abc123", "example.com/story"},
		{"keeps meaningful query", "https://example.com/story?id=42", "example.com/story?id=42"},
		{"mixed params keep meaningful only", "https://example.com/s?utm_campaign=c&page=2", "example.com/s?page=2"},
		{"drops fragment", "https://example.com/story#comments", "example.com/story"},
		{"drops trailing slash", "https://example.com/story/", "example.com/story"},
		{"lowercases host only", "https://EXAMPLE.com/Story", "example.com/Story"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalURL(tt.in); got != tt.want {
				t.Errorf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDiceSimilarity(t *testing.T) {
	// Near-duplicate headlines score high.
	got := DiceSimilarity("Apple unveils new iPhone", "Apple unveils the new iPhone")
	if got < 0.9 {
		t.Errorf("near-duplicate similarity = %v, want >= 0.9", got)
	}

	// Unrelated headlines score low.
	got = DiceSimilarity("Apple unveils new iPhone", "Google releases new Pixel")
	if got >= 0.7 {
		t.Errorf("unrelated similarity = %v, want < 0.7", got)
	}

	if DiceSimilarity("Same title", "Same title") != 1.0 {
		t.Errorf("identical titles must score 1.0")
	}
	if DiceSimilarity("", "anything") != 0.0 {
		t.Errorf("empty title must score 0.0")
	}

	// Case and punctuation do not matter.
	if DiceSimilarity("Breaking: Apple unveils iPhone!", "breaking apple unveils iphone") != 1.0 {
		t.Errorf("normalization failed")
	}

	// One-character tokens count; titles differing only in such a token are
	// similar but not identical.
	if got := DiceSimilarity("Chapter 1 released", "Chapter 2 released"); got == 1.0 {
		t.Errorf("titles differing in a one-character token scored 1.0")
	}
	if DiceSimilarity("A", "B") != 0.0 {
		t.Errorf("distinct one-character titles must score 0.0")
	}
}

func TestScoreMultiSourceBeatsSingle(t *testing.T) {
	weights := map[string]float64{"feed": 1.0, "ranked": 1.2, "search": 0.8}

	multi := score([]Origin{
		{SourceType: "feed", Rank: 0},
		{SourceType: "ranked", Rank: 2},
	}, weights, nil, 0, time.Now())
	if math.Abs(multi-1.4) > 1e-9 {
		t.Errorf("multi-source score = %v, want 1.4", multi)
	}

	single := score([]Origin{{SourceType: "search", Rank: 0}}, weights, nil, 0, time.Now())
	if math.Abs(single-0.8) > 1e-9 {
		t.Errorf("single-source score = %v, want 0.8", single)
	}
	if multi <= single {
		t.Errorf("two-origin article must outrank single origin: %v <= %v", multi, single)
	}
}

func TestScoreUnknownTypeDefaultsToOne(t *testing.T) {
	got := score([]Origin{{SourceType: "mystery", Rank: 0}}, map[string]float64{"feed": 1.0}, nil, 0, time.Now())
	if got != 1.0 {
		t.Errorf("unknown type weight = %v, want 1.0", got)
	}
}

func TestScoreRecencyDecay(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-24 * time.Hour)
	fresh := now.Add(-time.Hour)

	weights := map[string]float64{"feed": 1.0}
	scoreOld := score([]Origin{{SourceType: "feed", Rank: 0}}, weights, &old, 24, now)
	scoreFresh := score([]Origin{{SourceType: "feed", Rank: 0}}, weights, &fresh, 24, now)
	if scoreOld >= scoreFresh {
		t.Errorf("older article must decay: old=%v fresh=%v", scoreOld, scoreFresh)
	}

	// No published date means no decay.
	noDate := score([]Origin{{SourceType: "feed", Rank: 0}}, weights, nil, 24, now)
	if noDate != 1.0 {
		t.Errorf("missing date score = %v, want 1.0", noDate)
	}
}

func disc(title, url, srcType string, rank int) sources.Discovered {
	return sources.Discovered{Title: title, URL: url, SourceType: srcType, Rank: rank}
}

func TestProcessExactDuplicates(t *testing.T) {
	e := New(Options{})
	candidates := []sources.Discovered{
		disc("Story", "https://example.com/a?utm_source=feed", "feed", 0),
		disc("Story", "http://www.example.com/a", "ranked", 1),
	}

	merged, dropped := e.Process(candidates, nil, nil)
	if len(merged) != 1 {
		t.Fatalf("survivors = %d, want 1", len(merged))
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(merged[0].Origins) != 2 {
		t.Errorf("origins = %d, want union of 2", len(merged[0].Origins))
	}
}

func TestProcessSeenWindowDropsCandidates(t *testing.T) {
	e := New(Options{})
	candidates := []sources.Discovered{disc("Story", "https://example.com/a", "feed", 0)}
	seen := map[string]bool{"example.com/a": true}

	merged, dropped := e.Process(candidates, seen, nil)
	if len(merged) != 0 || dropped != 1 {
		t.Errorf("got %d survivors / %d dropped, want 0 / 1", len(merged), dropped)
	}
}

func TestProcessTitleMergeKeepsRicherContent(t *testing.T) {
	e := New(Options{})
	thin := disc("Apple unveils new iPhone", "https://a.example/1", "feed", 0)
	thin.Snippet = "short"
	rich := disc("Apple unveils the new iPhone", "https://b.example/2", "ranked", 0)
	rich.Content = "a much longer full body of extracted text"

	merged, dropped := e.Process([]sources.Discovered{thin, rich}, nil, nil)
	if len(merged) != 1 {
		t.Fatalf("survivors = %d, want 1", len(merged))
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if merged[0].Content != rich.Content {
		t.Errorf("richer copy not kept: %q", merged[0].Content)
	}
	if len(merged[0].Origins) != 2 {
		t.Errorf("origins = %d, want 2", len(merged[0].Origins))
	}
}

func TestProcessDistinctTitlesSurvive(t *testing.T) {
	e := New(Options{})
	merged, dropped := e.Process([]sources.Discovered{
		disc("Apple unveils new iPhone", "https://a.example/1", "feed", 0),
		disc("Google releases new Pixel", "https://b.example/2", "feed", 1),
	}, nil, nil)
	if len(merged) != 2 || dropped != 0 {
		t.Errorf("got %d survivors / %d dropped, want 2 / 0", len(merged), dropped)
	}
}

func TestProcessOrdersByScoreDescending(t *testing.T) {
	e := New(Options{Weights: map[string]float64{"feed": 1.0, "ranked": 1.2}})
	// One candidate discovered twice outranks a single-origin one.
	merged, _ := e.Process([]sources.Discovered{
		disc("Solo story", "https://a.example/solo", "feed", 0),
		disc("Big story", "https://b.example/big", "feed", 0),
		disc("Big story", "https://b.example/big?ref=x", "ranked", 2),
	}, nil, nil)
	if len(merged) != 2 {
		t.Fatalf("survivors = %d, want 2", len(merged))
	}
	if merged[0].Title != "Big story" {
		t.Errorf("highest-scored first, got %q", merged[0].Title)
	}
	if merged[0].Score <= merged[1].Score {
		t.Errorf("not sorted: %v <= %v", merged[0].Score, merged[1].Score)
	}
}

func TestProcessIdempotentAgainstWindow(t *testing.T) {
	e := New(Options{})
	candidates := []sources.Discovered{
		disc("Apple unveils new iPhone", "https://a.example/1", "feed", 0),
		disc("Google releases new Pixel", "https://b.example/2", "feed", 1),
	}

	first, _ := e.Process(candidates, nil, nil)
	seen := make(map[string]bool)
	for _, m := range first {
		seen[m.Canonical] = true
	}

	second, dropped := e.Process(candidates, seen, nil)
	if len(second) != 0 || dropped != len(candidates) {
		t.Errorf("re-run over ingested batch: %d survivors / %d dropped, want 0 / %d",
			len(second), dropped, len(candidates))
	}
}

func TestProcessTitleMergeIdempotentOnRerun(t *testing.T) {
	e := New(Options{})
	candidates := []sources.Discovered{
		disc("Apple unveils new iPhone", "https://a.example/1", "feed", 0),
		disc("Apple unveils the new iPhone", "https://b.example/2", "ranked", 0),
	}

	first, dropped := e.Process(candidates, nil, nil)
	if len(first) != 1 || dropped != 1 {
		t.Fatalf("first run: %d survivors / %d dropped, want 1 / 1", len(first), dropped)
	}
	if len(first[0].Aliases) != 1 {
		t.Fatalf("folded canonical not recorded as alias: %v", first[0].Aliases)
	}

	// The window carries the survivor's canonical and its aliases; the
	// identical payload must then be a no-op.
	seen := map[string]bool{first[0].Canonical: true}
	for _, alias := range first[0].Aliases {
		seen[alias] = true
	}
	second, dropped := e.Process(candidates, seen, nil)
	if len(second) != 0 || dropped != 2 {
		t.Errorf("re-run over merged batch: %d survivors / %d dropped, want 0 / 2",
			len(second), dropped)
	}
}

func TestProcessDropsTitlesAlreadyInWindow(t *testing.T) {
	e := New(Options{})
	candidates := []sources.Discovered{
		disc("Apple unveils the new iPhone", "https://c.example/3", "feed", 0),
		disc("Google releases new Pixel", "https://d.example/4", "feed", 1),
	}

	merged, dropped := e.Process(candidates, nil, []string{"Apple unveils new iPhone"})
	if len(merged) != 1 || dropped != 1 {
		t.Fatalf("got %d survivors / %d dropped, want 1 / 1", len(merged), dropped)
	}
	if merged[0].Title != "Google releases new Pixel" {
		t.Errorf("wrong candidate dropped, survivor is %q", merged[0].Title)
	}
}
