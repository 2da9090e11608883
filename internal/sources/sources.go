package sources

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dverney/newsmith/internal/storage"
)

// Discovered is a candidate article produced by a source adapter. Transient;
// it only becomes a RawArticle after dedup and successful extraction.
type Discovered struct {
	Title       string
	URL         string
	Snippet     string
	Content     string // full text when the source provides it (feed body)
	Author      string
	PublishedAt *time.Time
	ExternalID  string
	SourceID    int64
	SourceType  string
	Rank        int // 0-based position in the source's listing
}

// Adapter discovers candidate articles from one source type. Implementations
// form a closed set: feed, ranked, search.
type Adapter interface {
	Type() string
	Fetch(ctx context.Context, src storage.Source) ([]Discovered, error)
}

// Registry holds the active adapter per source type. Which adapters exist is
// decided by configuration presence, not by the source rows.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds the adapter set. The feed and ranked adapters are always
// available; the search adapter is registered only when a search API endpoint
// is configured.
func NewRegistry(store storage.Store, cfg *storage.Config) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.adapters["feed"] = NewFeedAdapter(store)
	r.adapters["ranked"] = NewRankedAdapter()
	if cfg.Search.APIURL != "" {
		r.adapters["search"] = NewSearchAdapter(cfg.Search.APIURL, cfg.Search.APIKey, cfg.Profile.SearchQueries)
	}
	return r
}

// Adapter returns the adapter for a source type, or nil when none is configured.
func (r *Registry) Adapter(srcType string) Adapter {
	return r.adapters[srcType]
}

// DiscoveryStats summarizes one discovery batch.
type DiscoveryStats struct {
	SourcesTotal   int
	SourcesErrored int
	Candidates     int
}

// DiscoverAll fetches every enabled source concurrently, each under its own
// timeout. A failing or slow source contributes zero results and is logged;
// it never aborts the batch.
func (r *Registry) DiscoverAll(ctx context.Context, store storage.Store, srcs []storage.Source, timeout time.Duration) ([]Discovered, DiscoveryStats) {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		all   []Discovered
		stats = DiscoveryStats{SourcesTotal: len(srcs)}
	)

	for _, src := range srcs {
		adapter := r.Adapter(src.Type)
		if adapter == nil {
			log.Printf("newsmith: no adapter configured for source %q (type %s)", src.Name, src.Type)
			continue
		}

		wg.Add(1)
		go func(src storage.Source) {
			defer wg.Done()

			srcCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			found, err := adapter.Fetch(srcCtx, src)
			if err != nil {
				log.Printf("newsmith: discovery failed for source %q: %v", src.Name, err)
				if uerr := store.UpdateSourceError(src.ID, err.Error()); uerr != nil {
					log.Printf("newsmith: record error for source %q failed: %v", src.Name, uerr)
				}
				mu.Lock()
				stats.SourcesErrored++
				mu.Unlock()
				return
			}
			if cerr := store.ClearSourceError(src.ID); cerr != nil {
				log.Printf("newsmith: clear error for source %q failed: %v", src.Name, cerr)
			}

			mu.Lock()
			all = append(all, found...)
			stats.Candidates += len(found)
			mu.Unlock()
		}(src)
	}

	wg.Wait()
	return all, stats
}
