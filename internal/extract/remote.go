package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/araddon/dateparse"
)

// RemoteExtractor calls a paid parser API (Mercury-style contract). Last in
// the chain; only reached when the local extractor comes up short.
type RemoteExtractor struct {
	client *http.Client
	apiURL string
	apiKey string
}

// NewRemoteExtractor creates the remote fallback extractor.
func NewRemoteExtractor(apiURL, apiKey string) *RemoteExtractor {
	return &RemoteExtractor{
		client: &http.Client{},
		apiURL: apiURL,
		apiKey: apiKey,
	}
}

func (e *RemoteExtractor) Name() string { return "remote" }

// Extract asks the parser API for the article.
func (e *RemoteExtractor) Extract(ctx context.Context, articleURL string) (*Content, error) {
	params := url.Values{}
	params.Set("url", articleURL)

	var headers map[string]string
	if e.apiKey != "" {
		headers = map[string]string{"x-api-key": e.apiKey}
	}
	resp, err := getWithRetry(ctx, e.client, e.apiURL+"?"+params.Encode(), headers)
	if err != nil {
		return nil, fmt.Errorf("remote extract %s: %w", articleURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote extract %s: status %d", articleURL, resp.StatusCode)
	}

	var parsed struct {
		Title         string `json:"title"`
		Content       string `json:"content"` // plain text when requested
		Author        string `json:"author"`
		DatePublished string `json:"date_published"`
		Excerpt       string `json:"excerpt"`
		Domain        string `json:"domain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse remote extract response: %w", err)
	}

	content := &Content{
		Title:    parsed.Title,
		Text:     parsed.Content,
		Author:   parsed.Author,
		SiteName: parsed.Domain,
		Excerpt:  parsed.Excerpt,
	}
	if parsed.DatePublished != "" {
		if ts, err := dateparse.ParseAny(parsed.DatePublished); err == nil {
			utc := ts.UTC()
			content.Published = &utc
		}
	}
	return content, nil
}
