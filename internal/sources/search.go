package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dverney/newsmith/internal/storage"
)

// SearchAdapter discovers articles by running the reader profile's standing
// search queries against a SerpAPI-style search endpoint. It also serves the
// synthesis gather step's web-search tool.
type SearchAdapter struct {
	client  *http.Client
	apiURL  string
	apiKey  string
	queries []string
}

// NewSearchAdapter creates a search adapter for the given endpoint.
func NewSearchAdapter(apiURL, apiKey string, queries []string) *SearchAdapter {
	return &SearchAdapter{
		client:  &http.Client{},
		apiURL:  apiURL,
		apiKey:  apiKey,
		queries: queries,
	}
}

func (s *SearchAdapter) Type() string { return "search" }

// Fetch runs every standing query and concatenates the results. Positions
// within one query's results are the rank; cross-query duplicates are left
// for the dedup engine to collapse.
func (s *SearchAdapter) Fetch(ctx context.Context, src storage.Source) ([]Discovered, error) {
	var all []Discovered
	var lastErr error
	for _, query := range s.queries {
		results, err := s.Search(ctx, query, 10)
		if err != nil {
			lastErr = err
			continue
		}
		for i := range results {
			results[i].SourceID = src.ID
		}
		all = append(all, results...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}

// Search runs a single query against the endpoint. Used directly by the
// synthesis gather loop.
func (s *SearchAdapter) Search(ctx context.Context, query string, maxResults int) ([]Discovered, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("engine", "google")
	params.Set("num", strconv.Itoa(maxResults))
	if s.apiKey != "" {
		params.Set("api_key", s.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q returned status %d", query, resp.StatusCode)
	}

	var apiResponse struct {
		OrganicResults []struct {
			Title    string `json:"title"`
			Link     string `json:"link"`
			Snippet  string `json:"snippet"`
			Position int    `json:"position"`
		} `json:"organic_results"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	if apiResponse.Error.Code != 0 {
		return nil, fmt.Errorf("search API error (%d): %s", apiResponse.Error.Code, apiResponse.Error.Message)
	}

	var results []Discovered
	for i, item := range apiResponse.OrganicResults {
		if item.Link == "" {
			continue
		}
		rank := item.Position - 1
		if rank < 0 {
			rank = i
		}
		results = append(results, Discovered{
			Title:      item.Title,
			URL:        item.Link,
			Snippet:    item.Snippet,
			SourceType: "search",
			Rank:       rank,
		})
	}
	return results, nil
}
