package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the sqlite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Source is a configured discovery source. Type is one of "feed", "ranked"
// (community-ranked API) or "search". ETag/LastModified are conditional-fetch
// cache validators, used by feed sources only.
type Source struct {
	ID           int64      `json:"id"`
	Type         string     `json:"type"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Enabled      bool       `json:"enabled"`
	ETag         string     `json:"-"`
	LastModified string     `json:"-"`
	LastFetched  *time.Time `json:"last_fetched,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RawArticle is the persisted merge of a discovered article and its extracted
// content. CanonicalURL is the dedup identity and is unique. An article with
// no successful extraction is never persisted.
type RawArticle struct {
	ID           int64      `json:"id"`
	SourceID     int64      `json:"source_id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	CanonicalURL string     `json:"-"`
	Content      string     `json:"-"`
	Excerpt      string     `json:"excerpt,omitempty"`
	Author       string     `json:"author,omitempty"`
	SiteName     string     `json:"site_name,omitempty"`
	ExternalID   string     `json:"-"`
	Score        float64    `json:"score"`
	SourceCount  int        `json:"source_count"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	ScrapedDate  string     `json:"scraped_date"` // YYYY-MM-DD
	CreatedAt    time.Time  `json:"created_at"`
}

// DailyTopic is one scored cluster from a digest run.
type DailyTopic struct {
	ID             int64     `json:"id"`
	Date           string    `json:"date"`       // YYYY-MM-DD
	TopicType      string    `json:"topic_type"` // hot, normal, standalone
	Headline       string    `json:"headline"`
	Summary        string    `json:"summary"`
	RelevanceScore float64   `json:"relevance_score"`
	SourceCount    int       `json:"source_count"`
	CreatedAt      time.Time `json:"created_at"`
	Tags           []string  `json:"tags,omitempty"`
}

// GeneratedArticle is the cached synthesis output for a topic. At most one
// live row per topic; replaced on regeneration.
type GeneratedArticle struct {
	TopicID     int64     `json:"topic_id"`
	Content     string    `json:"content"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewSQLiteStore opens (or creates) the database and initializes the schema.
// WAL mode keeps reads from blocking on the daily batch write.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sources ---

// AddSource registers a discovery source.
func (s *SQLiteStore) AddSource(srcType, name, url string) (int64, error) {
	result, err := s.db.Exec(
		"INSERT INTO sources (type, name, url) VALUES (?, ?, ?)",
		srcType, name, url,
	)
	if err != nil {
		return 0, fmt.Errorf("add source: %w", err)
	}
	return result.LastInsertId()
}

const sourceColumns = "id, type, name, url, enabled, etag, last_modified, last_fetched, last_error, created_at"

func scanSource(rows *sql.Rows) (Source, error) {
	var src Source
	var etag, lastMod sql.NullString
	err := rows.Scan(&src.ID, &src.Type, &src.Name, &src.URL, &src.Enabled,
		&etag, &lastMod, &src.LastFetched, &src.LastError, &src.CreatedAt)
	src.ETag = etag.String
	src.LastModified = lastMod.String
	return src, err
}

func (s *SQLiteStore) querySources(query string, args ...any) ([]Source, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// ListSources returns all sources, enabled or not.
func (s *SQLiteStore) ListSources() ([]Source, error) {
	return s.querySources("SELECT " + sourceColumns + " FROM sources ORDER BY name")
}

// EnabledSources returns the sources the discovery step should run.
func (s *SQLiteStore) EnabledSources() ([]Source, error) {
	return s.querySources("SELECT " + sourceColumns + " FROM sources WHERE enabled = 1 ORDER BY name")
}

// SetSourceEnabled toggles a source without deleting its history.
func (s *SQLiteStore) SetSourceEnabled(sourceID int64, enabled bool) error {
	_, err := s.db.Exec("UPDATE sources SET enabled = ? WHERE id = ?", enabled, sourceID)
	if err != nil {
		return fmt.Errorf("set source enabled: %w", err)
	}
	return nil
}

// UpdateSourceError records a fetch error for a source.
func (s *SQLiteStore) UpdateSourceError(sourceID int64, errMsg string) error {
	_, err := s.db.Exec("UPDATE sources SET last_error = ? WHERE id = ?", errMsg, sourceID)
	if err != nil {
		return fmt.Errorf("update source error: %w", err)
	}
	return nil
}

// ClearSourceError clears the last error and updates last_fetched.
func (s *SQLiteStore) ClearSourceError(sourceID int64) error {
	_, err := s.db.Exec("UPDATE sources SET last_error = NULL, last_fetched = CURRENT_TIMESTAMP WHERE id = ?", sourceID)
	if err != nil {
		return fmt.Errorf("clear source error: %w", err)
	}
	return nil
}

// UpdateSourceCacheHeaders stores the HTTP cache validators from the last
// successful conditional fetch.
func (s *SQLiteStore) UpdateSourceCacheHeaders(sourceID int64, etag, lastModified string) error {
	_, err := s.db.Exec("UPDATE sources SET etag = ?, last_modified = ? WHERE id = ?", etag, lastModified, sourceID)
	if err != nil {
		return fmt.Errorf("update source cache headers: %w", err)
	}
	return nil
}

// --- Raw articles ---

// AddRawArticle persists an extracted article. Returns 0 with no error when
// the canonical URL was already present, which keeps digest re-runs idempotent.
func (s *SQLiteStore) AddRawArticle(article *RawArticle) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO raw_articles (source_id, title, url, canonical_url, content, excerpt,
		                           author, site_name, external_id, score, source_count,
		                           published_at, scraped_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(canonical_url) DO NOTHING`,
		article.SourceID, article.Title, article.URL, article.CanonicalURL,
		article.Content, article.Excerpt, article.Author, article.SiteName,
		article.ExternalID, article.Score, article.SourceCount,
		article.PublishedAt, article.ScrapedDate,
	)
	if err != nil {
		return 0, fmt.Errorf("add raw article: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("add raw article rows affected: %w", err)
	}
	if affected == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

const articleColumns = `id, source_id, title, url, canonical_url, content, excerpt,
	author, site_name, external_id, score, source_count, published_at, scraped_date, created_at`

func scanArticle(scanner interface{ Scan(...any) error }) (RawArticle, error) {
	var a RawArticle
	var excerpt, author, siteName, externalID sql.NullString
	err := scanner.Scan(&a.ID, &a.SourceID, &a.Title, &a.URL, &a.CanonicalURL,
		&a.Content, &excerpt, &author, &siteName, &externalID,
		&a.Score, &a.SourceCount, &a.PublishedAt, &a.ScrapedDate, &a.CreatedAt)
	a.Excerpt = excerpt.String
	a.Author = author.String
	a.SiteName = siteName.String
	a.ExternalID = externalID.String
	return a, err
}

// GetRawArticle returns a single article by ID.
func (s *SQLiteStore) GetRawArticle(articleID int64) (*RawArticle, error) {
	row := s.db.QueryRow("SELECT "+articleColumns+" FROM raw_articles WHERE id = ?", articleID)
	a, err := scanArticle(row)
	if err != nil {
		return nil, fmt.Errorf("get raw article %d: %w", articleID, err)
	}
	return &a, nil
}

// ArticlesByDate returns all articles scraped on the given date, best score first.
func (s *SQLiteStore) ArticlesByDate(date string) ([]RawArticle, error) {
	rows, err := s.db.Query(
		"SELECT "+articleColumns+" FROM raw_articles WHERE scraped_date = ? ORDER BY score DESC, id",
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("articles by date: %w", err)
	}
	defer rows.Close()

	var articles []RawArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// AddArticleAliases records canonical URLs that were folded into an article
// during dedup, so later runs recognize the folded copies as already ingested.
func (s *SQLiteStore) AddArticleAliases(articleID int64, canonicals []string) error {
	for _, canonical := range canonicals {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO article_aliases (canonical_url, article_id) VALUES (?, ?)",
			canonical, articleID,
		)
		if err != nil {
			return fmt.Errorf("add article alias %q: %w", canonical, err)
		}
	}
	return nil
}

// RecentCanonicalURLs returns the canonical URLs persisted within the rolling
// window, aliases included, as an O(1) lookup set for exact-duplicate removal.
func (s *SQLiteStore) RecentCanonicalURLs(window time.Duration) (map[string]bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.Query(
		`SELECT canonical_url FROM raw_articles WHERE created_at >= ?
		 UNION
		 SELECT canonical_url FROM article_aliases WHERE created_at >= ?`,
		cutoff, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("recent canonical urls: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan canonical url: %w", err)
		}
		seen[u] = true
	}
	return seen, rows.Err()
}

// RecentTitles returns the titles persisted within the rolling window, for
// similarity checks against incoming candidates.
func (s *SQLiteStore) RecentTitles(window time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.Query(
		"SELECT title FROM raw_articles WHERE created_at >= ?", cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// --- Topics ---

// CreateTopic persists a topic cluster.
func (s *SQLiteStore) CreateTopic(topic *DailyTopic) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO daily_topics (date, topic_type, headline, summary, relevance_score, source_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		topic.Date, topic.TopicType, topic.Headline, topic.Summary,
		topic.RelevanceScore, topic.SourceCount,
	)
	if err != nil {
		return 0, fmt.Errorf("create topic: %w", err)
	}
	return result.LastInsertId()
}

const topicColumns = "id, date, topic_type, headline, summary, relevance_score, source_count, created_at"

func scanTopic(scanner interface{ Scan(...any) error }) (DailyTopic, error) {
	var t DailyTopic
	err := scanner.Scan(&t.ID, &t.Date, &t.TopicType, &t.Headline, &t.Summary,
		&t.RelevanceScore, &t.SourceCount, &t.CreatedAt)
	return t, err
}

// GetTopic returns a single topic with its tags.
func (s *SQLiteStore) GetTopic(topicID int64) (*DailyTopic, error) {
	row := s.db.QueryRow("SELECT "+topicColumns+" FROM daily_topics WHERE id = ?", topicID)
	t, err := scanTopic(row)
	if err != nil {
		return nil, fmt.Errorf("get topic %d: %w", topicID, err)
	}
	tags, err := s.topicTags(topicID)
	if err != nil {
		return nil, err
	}
	t.Tags = tags
	return &t, nil
}

// ListTopics returns topics for a date ordered by relevance, paginated by an
// id cursor (pass 0 for the first page). Returns the cursor for the next page,
// or 0 when the listing is exhausted. An empty tag disables tag filtering.
func (s *SQLiteStore) ListTopics(date string, cursor int64, limit int, tag string) ([]DailyTopic, int64, error) {
	query := "SELECT " + qualifiedTopicColumns + " FROM daily_topics dt WHERE dt.date = ? AND dt.id > ?"
	args := []any{date, cursor}
	if tag != "" {
		query = `SELECT ` + qualifiedTopicColumns + ` FROM daily_topics dt
			JOIN topic_tags tt ON tt.topic_id = dt.id
			JOIN tags t ON t.id = tt.tag_id
			WHERE dt.date = ? AND dt.id > ? AND t.name = ? COLLATE NOCASE`
		args = append(args, tag)
	}
	query += " ORDER BY dt.id LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []DailyTopic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var next int64
	if len(topics) > limit {
		topics = topics[:limit]
		next = topics[len(topics)-1].ID
	}

	for i := range topics {
		tags, err := s.topicTags(topics[i].ID)
		if err != nil {
			return nil, 0, err
		}
		topics[i].Tags = tags
	}
	return topics, next, nil
}

const qualifiedTopicColumns = "dt.id, dt.date, dt.topic_type, dt.headline, dt.summary, dt.relevance_score, dt.source_count, dt.created_at"

// TagTopic attaches a tag to a topic, creating the tag row if needed.
func (s *SQLiteStore) TagTopic(topicID int64, tag string) error {
	if _, err := s.db.Exec("INSERT OR IGNORE INTO tags (name) VALUES (?)", tag); err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO topic_tags (topic_id, tag_id)
		 SELECT ?, id FROM tags WHERE name = ? COLLATE NOCASE`,
		topicID, tag,
	)
	if err != nil {
		return fmt.Errorf("tag topic: %w", err)
	}
	return nil
}

func (s *SQLiteStore) topicTags(topicID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT t.name FROM tags t
		 JOIN topic_tags tt ON tt.tag_id = t.id
		 WHERE tt.topic_id = ? ORDER BY t.name`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("topic tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// LinkTopicArticle records that an article belongs to a topic cluster.
func (s *SQLiteStore) LinkTopicArticle(topicID, articleID int64) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO topic_sources (topic_id, article_id) VALUES (?, ?)",
		topicID, articleID,
	)
	if err != nil {
		return fmt.Errorf("link topic article: %w", err)
	}
	return nil
}

// TopicArticles returns the articles linked to a topic, best score first.
func (s *SQLiteStore) TopicArticles(topicID int64) ([]RawArticle, error) {
	rows, err := s.db.Query(
		`SELECT `+articleColumns+` FROM raw_articles
		 WHERE id IN (SELECT article_id FROM topic_sources WHERE topic_id = ?)
		 ORDER BY score DESC, id`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("topic articles: %w", err)
	}
	defer rows.Close()

	var articles []RawArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// --- Generated articles ---

// UpsertGeneratedArticle stores the synthesized text for a topic, replacing
// any prior cached entry. Single-row upsert; no cross-request transaction.
func (s *SQLiteStore) UpsertGeneratedArticle(topicID int64, content, model string) error {
	_, err := s.db.Exec(
		`INSERT INTO generated_articles (topic_id, content, model, generated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(topic_id) DO UPDATE SET
		   content = excluded.content,
		   model = excluded.model,
		   generated_at = CURRENT_TIMESTAMP`,
		topicID, content, model,
	)
	if err != nil {
		return fmt.Errorf("upsert generated article: %w", err)
	}
	return nil
}

// GetGeneratedArticle returns the cached article for a topic, or nil on a
// cache miss (a miss is not an error).
func (s *SQLiteStore) GetGeneratedArticle(topicID int64) (*GeneratedArticle, error) {
	var ga GeneratedArticle
	err := s.db.QueryRow(
		"SELECT topic_id, content, model, generated_at FROM generated_articles WHERE topic_id = ?",
		topicID,
	).Scan(&ga.TopicID, &ga.Content, &ga.Model, &ga.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get generated article: %w", err)
	}
	return &ga, nil
}

// DeleteGeneratedArticle invalidates the cached article for a topic.
func (s *SQLiteStore) DeleteGeneratedArticle(topicID int64) error {
	_, err := s.db.Exec("DELETE FROM generated_articles WHERE topic_id = ?", topicID)
	if err != nil {
		return fmt.Errorf("delete generated article: %w", err)
	}
	return nil
}
