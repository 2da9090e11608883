// Package dedup collapses duplicate coverage across sources and ranks the
// survivors. Stage A removes exact republishes by canonical URL against a
// rolling window of already-ingested keys; Stage B merges near-duplicate
// titles by Dice similarity; Stage C scores what remains.
package dedup

import (
	"sort"
	"time"

	"github.com/dverney/newsmith/internal/sources"
)

// Origin records one discovery of an article by one source instance.
type Origin struct {
	SourceID   int64
	SourceType string
	Rank       int
}

// Merged is a deduplicated candidate. The embedded Discovered is the
// representative copy (the one with the most content); Origins is the union
// of every source discovery that was folded into it. Aliases holds the
// canonical URLs of candidates folded in at the title stage; callers persist
// them alongside the survivor so a re-run drops the folded copies at Stage A.
type Merged struct {
	sources.Discovered
	Canonical string
	Aliases   []string
	Origins   []Origin
	Score     float64
}

// Options tunes the engine. Zero values fall back to the documented defaults.
type Options struct {
	TitleThreshold       float64            // Dice score at or above which titles merge; default 0.7
	Weights              map[string]float64 // score weight per source type; missing types weigh 1.0
	RecencyHalfLifeHours float64            // 0 disables the recency multiplier
}

// Engine applies the three dedup stages.
type Engine struct {
	opts Options
	now  func() time.Time
}

// New creates a dedup engine.
func New(opts Options) *Engine {
	if opts.TitleThreshold == 0 {
		opts.TitleThreshold = 0.7
	}
	return &Engine{opts: opts, now: time.Now}
}

// Process collapses the candidate batch. seen is the set of canonical URLs
// already ingested within the rolling window (survivors and their aliases);
// candidates matching it are dropped outright, which makes re-running
// discovery over an already-ingested payload a no-op. recentTitles are the
// window's persisted titles: a candidate near-duplicating one of them is
// already covered and is dropped too. Returns survivors ordered by score
// descending and the number of candidates removed as duplicates.
//
// Stage B is pairwise over the batch and the window; fine for a few hundred
// articles a day, needs a sub-quadratic method beyond that.
func (e *Engine) Process(candidates []sources.Discovered, seen map[string]bool, recentTitles []string) ([]Merged, int) {
	dropped := 0

	// Stage A: exact-duplicate removal by canonical URL. Within the batch the
	// first occurrence wins and later ones fold their origin into it.
	byCanonical := make(map[string]int)
	var merged []Merged
	for _, c := range candidates {
		key := CanonicalURL(c.URL)
		if seen[key] {
			dropped++
			continue
		}
		if idx, ok := byCanonical[key]; ok {
			merged[idx] = fold(merged[idx], c)
			dropped++
			continue
		}
		byCanonical[key] = len(merged)
		merged = append(merged, Merged{
			Discovered: c,
			Canonical:  key,
			Origins:    []Origin{{SourceID: c.SourceID, SourceType: c.SourceType, Rank: c.Rank}},
		})
	}

	// Stage B: title-similarity merge, scoped over the batch plus the
	// window's already-persisted titles.
	var survivors []Merged
	for _, cand := range merged {
		if e.matchesRecentTitle(cand.Title, recentTitles) {
			dropped++
			continue
		}
		mergedInto := -1
		for i := range survivors {
			if DiceSimilarity(survivors[i].Title, cand.Title) >= e.opts.TitleThreshold {
				mergedInto = i
				break
			}
		}
		if mergedInto >= 0 {
			s := survivors[mergedInto]
			if contentLen(cand.Discovered) > contentLen(s.Discovered) {
				// Keep the richer copy, carry the union of origins and the
				// losing canonical as an alias.
				cand.Origins = append(cand.Origins, s.Origins...)
				cand.Aliases = append(cand.Aliases, s.Aliases...)
				cand.Aliases = append(cand.Aliases, s.Canonical)
				survivors[mergedInto] = cand
			} else {
				s.Origins = append(s.Origins, cand.Origins...)
				s.Aliases = append(s.Aliases, cand.Aliases...)
				s.Aliases = append(s.Aliases, cand.Canonical)
				survivors[mergedInto] = s
			}
			dropped++
			continue
		}
		survivors = append(survivors, cand)
	}

	// Stage C: ranking.
	now := e.now().UTC()
	for i := range survivors {
		survivors[i].Score = score(survivors[i].Origins, e.opts.Weights,
			survivors[i].PublishedAt, e.opts.RecencyHalfLifeHours, now)
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Score > survivors[j].Score
	})

	return survivors, dropped
}

// matchesRecentTitle reports whether a title near-duplicates one persisted
// within the rolling window.
func (e *Engine) matchesRecentTitle(title string, recentTitles []string) bool {
	for _, recent := range recentTitles {
		if DiceSimilarity(title, recent) >= e.opts.TitleThreshold {
			return true
		}
	}
	return false
}

// fold merges a later exact duplicate into an existing entry: origins union,
// richer content wins.
func fold(existing Merged, dup sources.Discovered) Merged {
	existing.Origins = append(existing.Origins, Origin{
		SourceID: dup.SourceID, SourceType: dup.SourceType, Rank: dup.Rank,
	})
	if contentLen(dup) > contentLen(existing.Discovered) {
		canonical, origins := existing.Canonical, existing.Origins
		existing = Merged{Discovered: dup, Canonical: canonical, Origins: origins}
	}
	return existing
}

// contentLen measures how much text a candidate carries; full content when
// the source provided it, otherwise the snippet.
func contentLen(d sources.Discovered) int {
	if len(d.Content) > 0 {
		return len(d.Content)
	}
	return len(d.Snippet)
}
