package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/dverney/newsmith/internal/storage"
)

// RankedAdapter discovers articles from a community-ranked JSON API
// (Lobsters-style hottest listing). The API's own ordering is the rank.
type RankedAdapter struct {
	client *http.Client
}

// NewRankedAdapter creates a ranked-listing adapter.
func NewRankedAdapter() *RankedAdapter {
	return &RankedAdapter{client: &http.Client{}}
}

func (r *RankedAdapter) Type() string { return "ranked" }

// rankedItem matches the common shape of community-ranking endpoints.
type rankedItem struct {
	ShortID     string `json:"short_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Submitter   string `json:"submitter_user"`
	CreatedAt   string `json:"created_at"`
	Score       int    `json:"score"`
}

// Fetch downloads the listing and maps items to candidates.
func (r *RankedAdapter) Fetch(ctx context.Context, src storage.Source) ([]Discovered, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", feedUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ranked listing %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ranked listing %s returned status %d", src.URL, resp.StatusCode)
	}

	var items []rankedItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("parse ranked listing %s: %w", src.URL, err)
	}

	var found []Discovered
	for i, item := range items {
		if item.URL == "" || item.Title == "" {
			continue
		}
		d := Discovered{
			Title:      strings.TrimSpace(item.Title),
			URL:        item.URL,
			Snippet:    strings.TrimSpace(item.Description),
			Author:     item.Submitter,
			ExternalID: item.ShortID,
			SourceID:   src.ID,
			SourceType: "ranked",
			Rank:       i,
		}
		if item.CreatedAt != "" {
			// Ranking APIs are inconsistent about timestamp formats.
			if ts, err := dateparse.ParseAny(item.CreatedAt); err == nil {
				utc := ts.UTC()
				d.PublishedAt = &utc
			}
		}
		found = append(found, d)
	}
	return found, nil
}
