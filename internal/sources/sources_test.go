package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dverney/newsmith/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Feed</title>
<item>
  <title>First &lt;b&gt;story&lt;/b&gt;</title>
  <link>https://news.example/one</link>
  <description>&lt;p&gt;Summary with &lt;a href="x"&gt;markup&lt;/a&gt;.&lt;/p&gt;</description>
  <guid>guid-1</guid>
  <pubDate>Wed, 26 Aug 2026 10:00:00 GMT</pubDate>
</item>
<item>
  <title>Second story</title>
  <link>https://news.example/two</link>
</item>
</channel></rss>`

func TestFeedAdapterParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, testFeed)
	}))
	defer srv.Close()

	store := newTestStore(t)
	id, err := store.AddSource("feed", "Feed", srv.URL)
	if err != nil {
		t.Fatalf("add source: %v", err)
	}

	adapter := NewFeedAdapter(store)
	found, err := adapter.Fetch(context.Background(), storage.Source{ID: id, Type: "feed", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("items = %d, want 2", len(found))
	}

	first := found[0]
	if first.Title != "First story" {
		t.Errorf("feed HTML should be stripped from titles, got %q", first.Title)
	}
	if strings.Contains(first.Snippet, "<") {
		t.Errorf("feed HTML leaked into snippet: %q", first.Snippet)
	}
	if first.Rank != 0 || found[1].Rank != 1 {
		t.Errorf("ranks = %d, %d", first.Rank, found[1].Rank)
	}
	if first.PublishedAt == nil {
		t.Errorf("pubDate not parsed")
	}
	if first.ExternalID != "guid-1" {
		t.Errorf("external id = %q", first.ExternalID)
	}

	// The ETag from the response must be persisted for the next fetch.
	srcs, _ := store.ListSources()
	if srcs[0].ETag != `"v1"` {
		t.Errorf("etag = %q, want persisted validator", srcs[0].ETag)
	}
}

func TestFeedAdapterConditionalGet(t *testing.T) {
	var sawValidator bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			sawValidator = true
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fmt.Fprint(w, testFeed)
	}))
	defer srv.Close()

	store := newTestStore(t)
	adapter := NewFeedAdapter(store)

	found, err := adapter.Fetch(context.Background(), storage.Source{ID: 1, Type: "feed", URL: srv.URL, ETag: `"v1"`})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !sawValidator {
		t.Errorf("If-None-Match header not sent")
	}
	if len(found) != 0 {
		t.Errorf("304 must yield zero candidates, got %d", len(found))
	}
}

func TestRankedAdapterParsesListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"short_id": "abc", "title": "Top story", "url": "https://x.example/1",
			 "description": "desc", "submitter_user": "alice",
			 "created_at": "2026-08-26T09:00:00-05:00", "score": 120},
			{"short_id": "def", "title": "", "url": "https://x.example/skip"},
			{"short_id": "ghi", "title": "Runner up", "url": "https://x.example/2", "score": 80}
		]`)
	}))
	defer srv.Close()

	adapter := NewRankedAdapter()
	found, err := adapter.Fetch(context.Background(), storage.Source{ID: 3, Type: "ranked", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("items = %d, want 2 (untitled item skipped)", len(found))
	}
	if found[0].Title != "Top story" || found[0].Rank != 0 {
		t.Errorf("first item: %+v", found[0])
	}
	if found[0].PublishedAt == nil {
		t.Errorf("created_at not parsed")
	}
	if found[1].Rank != 2 {
		t.Errorf("rank preserves listing position, got %d", found[1].Rank)
	}
	if found[0].SourceID != 3 {
		t.Errorf("source id = %d", found[0].SourceID)
	}
}

func TestSearchAdapterParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "golang news" {
			t.Errorf("query = %q", got)
		}
		fmt.Fprint(w, `{"organic_results": [
			{"title": "Hit one", "link": "https://a.example/1", "snippet": "s1", "position": 1},
			{"title": "Hit two", "link": "https://b.example/2", "snippet": "s2", "position": 2}
		]}`)
	}))
	defer srv.Close()

	adapter := NewSearchAdapter(srv.URL, "key", nil)
	results, err := adapter.Search(context.Background(), "golang news", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Rank != 0 || results[1].Rank != 1 {
		t.Errorf("positions should map to 0-based ranks: %d, %d", results[0].Rank, results[1].Rank)
	}
}

func TestSearchAdapterAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"code": 429, "message": "quota exceeded"}}`)
	}))
	defer srv.Close()

	adapter := NewSearchAdapter(srv.URL, "key", nil)
	if _, err := adapter.Search(context.Background(), "q", 5); err == nil {
		t.Fatalf("expected error from API error payload")
	}
}

// failingAdapter always errors; used to prove source isolation.
type failingAdapter struct{}

func (failingAdapter) Type() string { return "feed" }
func (failingAdapter) Fetch(context.Context, storage.Source) ([]Discovered, error) {
	return nil, errors.New("connection refused")
}

// stubAdapter returns fixed candidates.
type stubAdapter struct{ found []Discovered }

func (stubAdapter) Type() string { return "ranked" }
func (s stubAdapter) Fetch(_ context.Context, src storage.Source) ([]Discovered, error) {
	out := make([]Discovered, len(s.found))
	copy(out, s.found)
	for i := range out {
		out[i].SourceID = src.ID
	}
	return out, nil
}

func TestDiscoverAllIsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	badID, _ := store.AddSource("feed", "Bad", "https://bad.example/rss")
	goodID, _ := store.AddSource("ranked", "Good", "https://good.example/api")

	registry := &Registry{adapters: map[string]Adapter{
		"feed":   failingAdapter{},
		"ranked": stubAdapter{found: []Discovered{{Title: "A", URL: "https://a.example"}}},
	}}

	srcs, _ := store.EnabledSources()
	found, stats := registry.DiscoverAll(context.Background(), store, srcs, 5*time.Second)

	if stats.SourcesTotal != 2 || stats.SourcesErrored != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(found) != 1 || found[0].SourceID != goodID {
		t.Errorf("found = %+v", found)
	}

	// The failure is recorded against the failing source only.
	all, _ := store.ListSources()
	for _, s := range all {
		switch s.ID {
		case badID:
			if s.LastError == nil {
				t.Errorf("failing source should carry last_error")
			}
		case goodID:
			if s.LastError != nil {
				t.Errorf("healthy source should not carry last_error: %v", *s.LastError)
			}
		}
	}
}

// brokenBookkeepingStore fails the per-source error bookkeeping writes.
type brokenBookkeepingStore struct {
	storage.Store
}

func (brokenBookkeepingStore) UpdateSourceError(int64, string) error {
	return errors.New("disk full")
}

func (brokenBookkeepingStore) ClearSourceError(int64) error {
	return errors.New("disk full")
}

func TestDiscoverAllSurvivesBookkeepingFailure(t *testing.T) {
	registry := &Registry{adapters: map[string]Adapter{
		"feed":   failingAdapter{},
		"ranked": stubAdapter{found: []Discovered{{Title: "A", URL: "https://a.example"}}},
	}}
	srcs := []storage.Source{
		{ID: 1, Type: "feed", Name: "Bad", Enabled: true},
		{ID: 2, Type: "ranked", Name: "Good", Enabled: true},
	}

	found, stats := registry.DiscoverAll(context.Background(), brokenBookkeepingStore{}, srcs, 5*time.Second)
	if stats.SourcesTotal != 2 || stats.SourcesErrored != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(found) != 1 {
		t.Errorf("found = %+v", found)
	}
}

func TestRegistrySearchRequiresEndpoint(t *testing.T) {
	store := newTestStore(t)

	cfg := storage.DefaultConfig()
	r := NewRegistry(store, cfg)
	if r.Adapter("search") != nil {
		t.Errorf("search adapter registered without an endpoint")
	}
	if r.Adapter("feed") == nil || r.Adapter("ranked") == nil {
		t.Errorf("feed and ranked adapters must always exist")
	}

	cfg.Search.APIURL = "https://serp.example/search"
	r = NewRegistry(store, cfg)
	if r.Adapter("search") == nil {
		t.Errorf("search adapter missing despite configured endpoint")
	}
}
