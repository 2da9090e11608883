package newsmith

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dverney/newsmith/internal/ai"
	"github.com/dverney/newsmith/internal/dedup"
	"github.com/dverney/newsmith/internal/extract"
	"github.com/dverney/newsmith/internal/sources"
	"github.com/dverney/newsmith/internal/storage"
	"github.com/dverney/newsmith/internal/synth"
)

// validSourceTypes is the closed set of source adapters.
var validSourceTypes = map[string]bool{"feed": true, "ranked": true, "search": true}

// topicGrouper is the slice of the model client the digest run needs.
type topicGrouper interface {
	GroupTopics(ctx context.Context, articles []storage.RawArticle, profile storage.Profile) ([]ai.TopicCluster, error)
}

// Engine ties the pipeline together: discovery, dedup, extraction, grouping,
// and the article service.
type Engine struct {
	cfg      *Config
	store    storage.Store
	registry *sources.Registry
	chain    *extract.Chain
	grouper  topicGrouper
	articles *synth.Service
}

// NewEngine opens the database and wires up the pipeline from config.
func NewEngine(cfg *Config) (*Engine, error) {
	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	llm, err := ai.NewClient(cfg.Ollama.BaseURL,
		cfg.Ollama.GroupingModel, cfg.Ollama.CompressModel, cfg.Ollama.SynthesisModel,
		time.Duration(cfg.Ollama.TimeoutSeconds)*time.Second)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("model client: %w", err)
	}

	extractors := []extract.Extractor{extract.NewReadabilityExtractor()}
	if cfg.Extraction.RemoteAPIURL != "" {
		extractors = append(extractors, extract.NewRemoteExtractor(cfg.Extraction.RemoteAPIURL, cfg.Extraction.RemoteAPIKey))
	}
	chain := extract.NewChain(cfg.Extraction.MinContentLength,
		time.Duration(cfg.Extraction.TimeoutSeconds)*time.Second, extractors...)

	var searcher synth.Searcher
	if cfg.Search.APIURL != "" {
		searcher = sources.NewSearchAdapter(cfg.Search.APIURL, cfg.Search.APIKey, nil)
	}
	pipeline := synth.NewPipeline(llm, searcher, chain, cfg.Profile,
		cfg.Synthesis.ToolBudget, cfg.Synthesis.MaxOverflowRetries)

	return &Engine{
		cfg:      cfg,
		store:    store,
		registry: sources.NewRegistry(store, cfg),
		chain:    chain,
		grouper:  llm,
		articles: synth.NewService(store, pipeline, cfg.Ollama.SynthesisModel),
	}, nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// RunDigest executes the full daily pipeline for a date (YYYY-MM-DD, empty
// means today in the profile timezone): discover, dedup, extract, persist,
// group into topics. Re-running for the same date is additive and idempotent;
// already-ingested articles are dropped at dedup.
func (e *Engine) RunDigest(ctx context.Context, date string) (*DigestSummary, error) {
	if date == "" {
		date = e.today()
	}
	summary := &DigestSummary{Date: date}

	srcs, err := e.store.EnabledSources()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if len(srcs) == 0 {
		return nil, fmt.Errorf("no enabled sources")
	}

	candidates, stats := e.registry.DiscoverAll(ctx, e.store, srcs,
		time.Duration(e.cfg.Discovery.TimeoutSeconds)*time.Second)
	summary.SourcesTotal = stats.SourcesTotal
	summary.SourcesErrored = stats.SourcesErrored
	summary.Candidates = stats.Candidates
	log.Printf("newsmith: discovery found %d candidates from %d sources (%d errored)",
		stats.Candidates, stats.SourcesTotal, stats.SourcesErrored)

	window := time.Duration(e.cfg.Dedup.WindowHours) * time.Hour
	seen, err := e.store.RecentCanonicalURLs(window)
	if err != nil {
		return nil, fmt.Errorf("load dedup window: %w", err)
	}
	recentTitles, err := e.store.RecentTitles(window)
	if err != nil {
		return nil, fmt.Errorf("load dedup window titles: %w", err)
	}

	deduper := dedup.New(dedup.Options{
		TitleThreshold:       e.cfg.Dedup.TitleThreshold,
		Weights:              e.cfg.Dedup.Weights,
		RecencyHalfLifeHours: e.cfg.Dedup.RecencyHalfLifeHours,
	})
	merged, dropped := deduper.Process(candidates, seen, recentTitles)
	summary.DuplicatesDropped = dropped
	log.Printf("newsmith: dedup kept %d of %d candidates", len(merged), len(candidates))

	ingested, failures := e.ingest(ctx, merged, date)
	summary.ArticlesIngested = ingested
	summary.ExtractionFailures = failures

	articles, err := e.store.ArticlesByDate(date)
	if err != nil {
		return nil, fmt.Errorf("load day's articles: %w", err)
	}
	if len(articles) == 0 {
		log.Printf("newsmith: nothing to group for %s", date)
		return summary, nil
	}

	// Grouping failure aborts the run. The ingested articles stay persisted;
	// a later re-run groups them without re-fetching.
	clusters, err := e.grouper.GroupTopics(ctx, articles, e.cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("group topics: %w", err)
	}

	for _, cl := range clusters {
		topicID, err := e.store.CreateTopic(&storage.DailyTopic{
			Date:           date,
			TopicType:      cl.TopicType,
			Headline:       cl.Headline,
			Summary:        cl.Summary,
			RelevanceScore: cl.RelevanceScore,
			SourceCount:    len(cl.ArticleIndices),
		})
		if err != nil {
			return nil, fmt.Errorf("persist topic: %w", err)
		}
		for _, tag := range cl.Tags {
			if err := e.store.TagTopic(topicID, tag); err != nil {
				return nil, fmt.Errorf("tag topic: %w", err)
			}
		}
		for _, idx := range cl.ArticleIndices {
			if err := e.store.LinkTopicArticle(topicID, articles[idx].ID); err != nil {
				return nil, fmt.Errorf("link topic article: %w", err)
			}
		}
		summary.TopicsCreated++
	}
	log.Printf("newsmith: digest for %s created %d topics from %d articles",
		date, summary.TopicsCreated, len(articles))
	return summary, nil
}

// ingest extracts full text for the merged candidates over a worker pool and
// persists the survivors. Candidates whose source already supplied enough
// text skip extraction. Returns ingested and failed counts.
func (e *Engine) ingest(ctx context.Context, merged []dedup.Merged, date string) (int, int) {
	workers := e.cfg.Discovery.ExtractWorkers
	if workers <= 0 {
		workers = 4
	}

	type outcome struct {
		article *storage.RawArticle
		aliases []string
		failed  bool
	}

	jobs := make(chan dedup.Merged)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				article, ok := e.materialize(ctx, m, date)
				results <- outcome{article: article, aliases: m.Aliases, failed: !ok}
			}
		}()
	}
	go func() {
		for _, m := range merged {
			jobs <- m
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	ingested, failures := 0, 0
	for res := range results {
		if res.failed {
			failures++
			continue
		}
		id, err := e.store.AddRawArticle(res.article)
		if err != nil {
			log.Printf("newsmith: persist article %s failed: %v", res.article.URL, err)
			failures++
			continue
		}
		if id == 0 {
			continue
		}
		ingested++
		// Folded canonicals join the dedup window so a re-run drops them
		// before re-extraction.
		if len(res.aliases) > 0 {
			if err := e.store.AddArticleAliases(id, res.aliases); err != nil {
				log.Printf("newsmith: record aliases for %s failed: %v", res.article.URL, err)
			}
		}
	}
	return ingested, failures
}

// materialize turns a merged candidate into a persistable article, running
// the extraction chain when the source text is too thin. A candidate that
// cannot be extracted is dropped; empty articles are never persisted.
func (e *Engine) materialize(ctx context.Context, m dedup.Merged, date string) (*storage.RawArticle, bool) {
	article := &storage.RawArticle{
		SourceID:     m.SourceID,
		Title:        m.Title,
		URL:          m.URL,
		CanonicalURL: m.Canonical,
		Content:      m.Content,
		Excerpt:      m.Snippet,
		Author:       m.Author,
		ExternalID:   m.ExternalID,
		Score:        m.Score,
		SourceCount:  len(m.Origins),
		PublishedAt:  m.PublishedAt,
		ScrapedDate:  date,
	}

	if utf8.RuneCountInString(article.Content) >= e.cfg.Extraction.MinContentLength {
		return article, true
	}

	content, err := e.chain.Extract(ctx, m.URL)
	if err != nil {
		log.Printf("newsmith: dropping %s, no usable text: %v", m.URL, err)
		return nil, false
	}
	article.Content = content.Text
	article.SiteName = content.SiteName
	if article.Author == "" {
		article.Author = content.Author
	}
	if article.Excerpt == "" {
		article.Excerpt = content.Excerpt
	}
	if article.PublishedAt == nil {
		article.PublishedAt = content.Published
	}
	return article, true
}

// today is the current date in the profile timezone, or UTC when unset or
// invalid.
func (e *Engine) today() string {
	loc := time.UTC
	if e.cfg.Profile.Timezone != "" {
		if l, err := time.LoadLocation(e.cfg.Profile.Timezone); err == nil {
			loc = l
		} else {
			log.Printf("newsmith: unknown timezone %q, using UTC", e.cfg.Profile.Timezone)
		}
	}
	return time.Now().In(loc).Format("2006-01-02")
}

// --- Topics and articles ---

// Topics lists a day's topics by relevance, paginated by cursor (0 for the
// first page). An empty tag disables filtering.
func (e *Engine) Topics(date string, cursor int64, limit int, tag string) ([]Topic, int64, error) {
	if date == "" {
		date = e.today()
	}
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListTopics(date, cursor, limit, tag)
}

// Topic returns one topic with its tags.
func (e *Engine) Topic(topicID int64) (*Topic, error) {
	return e.store.GetTopic(topicID)
}

// TopicArticles returns the source articles linked to a topic.
func (e *Engine) TopicArticles(topicID int64) ([]Article, error) {
	return e.store.TopicArticles(topicID)
}

// Article returns the generated article for a topic, streaming its text
// through emit; generated on first request, cached after.
func (e *Engine) Article(ctx context.Context, topicID int64, force bool, emit func(chunk string) error) (*ArticleResult, error) {
	return e.articles.Article(ctx, topicID, force, emit)
}

// CachedArticle returns the cached article for a topic without triggering
// generation; nil on a cache miss.
func (e *Engine) CachedArticle(topicID int64) (*GeneratedArticle, error) {
	return e.store.GetGeneratedArticle(topicID)
}

// InvalidateArticle drops a topic's cached article.
func (e *Engine) InvalidateArticle(topicID int64) error {
	return e.articles.Invalidate(topicID)
}

// --- Source management ---

// AddSource registers a discovery source.
func (e *Engine) AddSource(srcType, name, url string) (int64, error) {
	if !validSourceTypes[srcType] {
		return 0, fmt.Errorf("unknown source type %q", srcType)
	}
	if name == "" || url == "" {
		return 0, fmt.Errorf("source name and url are required")
	}
	return e.store.AddSource(srcType, name, url)
}

// Sources lists every configured source.
func (e *Engine) Sources() ([]Source, error) {
	return e.store.ListSources()
}

// SetSourceEnabled toggles a source.
func (e *Engine) SetSourceEnabled(sourceID int64, enabled bool) error {
	return e.store.SetSourceEnabled(sourceID, enabled)
}
