package storage

import "time"

// Store defines the storage interface for newsmith's data layer.
type Store interface {
	Close() error

	// Sources
	AddSource(srcType, name, url string) (int64, error)
	ListSources() ([]Source, error)
	EnabledSources() ([]Source, error)
	SetSourceEnabled(sourceID int64, enabled bool) error
	UpdateSourceError(sourceID int64, errMsg string) error
	ClearSourceError(sourceID int64) error
	UpdateSourceCacheHeaders(sourceID int64, etag, lastModified string) error

	// Raw articles
	AddRawArticle(article *RawArticle) (int64, error)
	AddArticleAliases(articleID int64, canonicals []string) error
	GetRawArticle(articleID int64) (*RawArticle, error)
	ArticlesByDate(date string) ([]RawArticle, error)
	RecentCanonicalURLs(window time.Duration) (map[string]bool, error)
	RecentTitles(window time.Duration) ([]string, error)

	// Topics
	CreateTopic(topic *DailyTopic) (int64, error)
	GetTopic(topicID int64) (*DailyTopic, error)
	ListTopics(date string, cursor int64, limit int, tag string) ([]DailyTopic, int64, error)
	TagTopic(topicID int64, tag string) error
	LinkTopicArticle(topicID, articleID int64) error
	TopicArticles(topicID int64) ([]RawArticle, error)

	// Generated articles
	UpsertGeneratedArticle(topicID int64, content, model string) error
	GetGeneratedArticle(topicID int64) (*GeneratedArticle, error)
	DeleteGeneratedArticle(topicID int64) error
}
