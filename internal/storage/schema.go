package storage

const Schema = `
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL CHECK (type IN ('feed', 'ranked', 'search')),
    name TEXT NOT NULL,
    url TEXT NOT NULL UNIQUE,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    etag TEXT,
    last_modified TEXT,
    last_fetched DATETIME,
    last_error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS raw_articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER NOT NULL,
    title TEXT NOT NULL,
    url TEXT NOT NULL,
    canonical_url TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    excerpt TEXT,
    author TEXT,
    site_name TEXT,
    external_id TEXT,
    score REAL NOT NULL DEFAULT 0,
    source_count INTEGER NOT NULL DEFAULT 1,
    published_at DATETIME,
    scraped_date TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (source_id) REFERENCES sources(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_raw_articles_scraped ON raw_articles(scraped_date);
CREATE INDEX IF NOT EXISTS idx_raw_articles_created ON raw_articles(created_at);

CREATE TABLE IF NOT EXISTS article_aliases (
    canonical_url TEXT PRIMARY KEY,
    article_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (article_id) REFERENCES raw_articles(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_article_aliases_created ON article_aliases(created_at);

CREATE TABLE IF NOT EXISTS daily_topics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    topic_type TEXT NOT NULL CHECK (topic_type IN ('hot', 'normal', 'standalone')),
    headline TEXT NOT NULL,
    summary TEXT NOT NULL,
    relevance_score REAL NOT NULL,
    source_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_daily_topics_date ON daily_topics(date);

CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS topic_tags (
    topic_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL,
    PRIMARY KEY (topic_id, tag_id),
    FOREIGN KEY (topic_id) REFERENCES daily_topics(id) ON DELETE CASCADE,
    FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_topic_tags_tag ON topic_tags(tag_id);

CREATE TABLE IF NOT EXISTS topic_sources (
    topic_id INTEGER NOT NULL,
    article_id INTEGER NOT NULL,
    PRIMARY KEY (topic_id, article_id),
    FOREIGN KEY (topic_id) REFERENCES daily_topics(id) ON DELETE CASCADE,
    FOREIGN KEY (article_id) REFERENCES raw_articles(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_topic_sources_article ON topic_sources(article_id);

CREATE TABLE IF NOT EXISTS generated_articles (
    topic_id INTEGER PRIMARY KEY,
    content TEXT NOT NULL,
    model TEXT NOT NULL,
    generated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (topic_id) REFERENCES daily_topics(id) ON DELETE CASCADE
);
`
