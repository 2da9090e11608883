// Package newsmith is a personal news engine: it ingests articles from
// configured sources, deduplicates and ranks them, groups them into daily
// topics with a local LLM, and synthesizes full cited articles on demand.
package newsmith

import (
	"github.com/dverney/newsmith/internal/storage"
	"github.com/dverney/newsmith/internal/synth"
)

// Re-exported storage types forming the public surface; callers never import
// the internal packages.
type (
	Config           = storage.Config
	Profile          = storage.Profile
	Source           = storage.Source
	Article          = storage.RawArticle
	Topic            = storage.DailyTopic
	GeneratedArticle = storage.GeneratedArticle
	ArticleResult    = synth.Result
)

// ErrArticleInProgress is returned when a topic's article is already being
// generated by another request.
var ErrArticleInProgress = synth.ErrArticleInProgress

// LoadConfig reads the YAML config file, layering it over defaults.
func LoadConfig(path string) (*Config, error) {
	return storage.LoadConfig(path)
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return storage.DefaultConfig()
}

// DigestSummary reports what one digest run did.
type DigestSummary struct {
	Date               string
	SourcesTotal       int
	SourcesErrored     int
	Candidates         int
	DuplicatesDropped  int
	ExtractionFailures int
	ArticlesIngested   int
	TopicsCreated      int
}
