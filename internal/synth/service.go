package synth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dverney/newsmith/internal/storage"
)

// ErrArticleInProgress is returned for a topic whose article is already being
// generated by another caller.
var ErrArticleInProgress = errors.New("article generation already in progress")

// Result is the outcome of an article request.
type Result struct {
	Content     string
	Model       string
	Cached      bool
	GeneratedAt time.Time
}

// Service serves generated articles: cache hit streams the stored text, cache
// miss runs the pipeline and caches the result. At most one generation runs
// per topic at a time.
type Service struct {
	store    storage.Store
	pipeline *Pipeline
	model    string // synthesis model name recorded with cached articles

	mu       sync.Mutex
	inflight map[int64]bool
}

// NewService creates the article service.
func NewService(store storage.Store, pipeline *Pipeline, model string) *Service {
	return &Service{
		store:    store,
		pipeline: pipeline,
		model:    model,
		inflight: make(map[int64]bool),
	}
}

// Article returns the article for a topic, streaming its text through emit.
// A cache hit streams the cached text as one chunk and makes no model calls;
// force bypasses the cache. A second request for a topic mid-generation fails
// fast with ErrArticleInProgress rather than queueing.
func (s *Service) Article(ctx context.Context, topicID int64, force bool, emit func(chunk string) error) (*Result, error) {
	if !force {
		cached, err := s.store.GetGeneratedArticle(topicID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			if emit != nil {
				if err := emit(cached.Content); err != nil {
					return nil, err
				}
			}
			return &Result{
				Content:     cached.Content,
				Model:       cached.Model,
				Cached:      true,
				GeneratedAt: cached.GeneratedAt,
			}, nil
		}
	}

	if !s.acquire(topicID) {
		return nil, fmt.Errorf("topic %d: %w", topicID, ErrArticleInProgress)
	}
	defer s.release(topicID)

	topic, err := s.store.GetTopic(topicID)
	if err != nil {
		return nil, fmt.Errorf("load topic %d: %w", topicID, err)
	}
	articles, err := s.store.TopicArticles(topicID)
	if err != nil {
		return nil, fmt.Errorf("load topic %d articles: %w", topicID, err)
	}
	if len(articles) == 0 {
		return nil, fmt.Errorf("topic %d: %w", topicID, ErrNoSources)
	}

	runID := uuid.NewString()
	log.Printf("newsmith: generating article for topic %d (%q), run %s", topicID, topic.Headline, runID)

	text, err := s.pipeline.Run(ctx, topic, articles, emit)
	if err != nil {
		// Nothing is cached on any failure; a partial or uncited article
		// must not be served from cache later.
		log.Printf("newsmith: generation run %s failed: %v", runID, err)
		return nil, err
	}

	if err := s.store.UpsertGeneratedArticle(topicID, text, s.model); err != nil {
		return nil, fmt.Errorf("cache article for topic %d: %w", topicID, err)
	}
	log.Printf("newsmith: generation run %s complete, %d chars cached", runID, len(text))

	return &Result{Content: text, Model: s.model, GeneratedAt: time.Now().UTC()}, nil
}

// Invalidate drops the cached article for a topic so the next request
// regenerates it.
func (s *Service) Invalidate(topicID int64) error {
	return s.store.DeleteGeneratedArticle(topicID)
}

func (s *Service) acquire(topicID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[topicID] {
		return false
	}
	s.inflight[topicID] = true
	return true
}

func (s *Service) release(topicID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, topicID)
}
