package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/dverney/newsmith"
)

// engineAPI is the slice of the engine the handlers use; tests inject a fake.
type engineAPI interface {
	RunDigest(ctx context.Context, date string) (*newsmith.DigestSummary, error)
	Topics(date string, cursor int64, limit int, tag string) ([]newsmith.Topic, int64, error)
	Topic(topicID int64) (*newsmith.Topic, error)
	TopicArticles(topicID int64) ([]newsmith.Article, error)
	Article(ctx context.Context, topicID int64, force bool, emit func(chunk string) error) (*newsmith.ArticleResult, error)
	CachedArticle(topicID int64) (*newsmith.GeneratedArticle, error)
	InvalidateArticle(topicID int64) error
	AddSource(srcType, name, url string) (int64, error)
	Sources() ([]newsmith.Source, error)
	SetSourceEnabled(sourceID int64, enabled bool) error
}

type server struct {
	engine engineAPI
}

func newServer(engine engineAPI) *server {
	return &server{engine: engine}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/topics", s.handleListTopics)
	mux.HandleFunc("GET /api/topics/{topicID}", s.handleGetTopic)
	mux.HandleFunc("GET /api/topics/{topicID}/article", s.handleGetArticle)
	mux.HandleFunc("POST /api/topics/{topicID}/article", s.handleGenerateArticle)
	mux.HandleFunc("DELETE /api/topics/{topicID}/article", s.handleInvalidate)
	mux.HandleFunc("POST /api/digest/run", s.handleRunDigest)
	mux.HandleFunc("GET /api/sources", s.handleListSources)
	mux.HandleFunc("POST /api/sources", s.handleAddSource)
	mux.HandleFunc("POST /api/sources/{sourceID}/enabled", s.handleSetSourceEnabled)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("newsmith: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func (s *server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor, _ := strconv.ParseInt(q.Get("cursor"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))

	topics, next, err := s.engine.Topics(q.Get("date"), cursor, limit, q.Get("tag"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topics":      topics,
		"next_cursor": next,
	})
}

func (s *server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathID(r, "topicID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return
	}
	topic, err := s.engine.Topic(topicID)
	if err != nil {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	articles, err := s.engine.TopicArticles(topicID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":    topic,
		"articles": articles,
	})
}

// handleGetArticle returns the cached article without triggering generation.
// A miss is a normal response with cached=false.
func (s *server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathID(r, "topicID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return
	}
	cached, err := s.engine.CachedArticle(topicID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cached == nil {
		writeJSON(w, http.StatusOK, map[string]any{"cached": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cached":       true,
		"content":      cached.Content,
		"model":        cached.Model,
		"generated_at": cached.GeneratedAt,
	})
}

// handleGenerateArticle streams the generated article as markdown text. A
// cached article arrives in one write; a fresh generation is flushed chunk by
// chunk. The client closing the connection cancels the generation through the
// request context.
func (s *server) handleGenerateArticle(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathID(r, "topicID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return
	}
	force := r.URL.Query().Get("force") == "1"

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	flusher, _ := w.(http.Flusher)

	wrote := false
	_, err := s.engine.Article(r.Context(), topicID, force, func(chunk string) error {
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if wrote {
			// Headers and part of the body are already out; all that is left
			// is to cut the stream.
			log.Printf("newsmith: article stream for topic %d aborted: %v", topicID, err)
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, newsmith.ErrArticleInProgress) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
	}
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathID(r, "topicID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return
	}
	if err := s.engine.InvalidateArticle(topicID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRunDigest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if r.Body != nil {
		// An empty body means today.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	summary, err := s.engine.RunDigest(r.Context(), req.Date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleListSources(w http.ResponseWriter, r *http.Request) {
	srcs, err := s.engine.Sources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": srcs})
}

func (s *server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.engine.AddSource(req.Type, req.Name, req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *server) handleSetSourceEnabled(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := pathID(r, "sourceID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.SetSourceEnabled(sourceID, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
