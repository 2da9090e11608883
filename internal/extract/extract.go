// Package extract turns article URLs into plain text. Extractors are tried
// in a fixed order, free and local first, paid remote API last; the first
// result that passes the validation gate wins.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
	"unicode/utf8"
)

// ErrAllExtractorsFailed means every extractor in the chain failed or was
// rejected by the validation gate. The article must be discarded, never
// persisted with empty content.
var ErrAllExtractorsFailed = errors.New("all extractors failed")

// Content is the full text produced for one URL. Transient.
type Content struct {
	Title     string
	Text      string
	Author    string
	SiteName  string
	Excerpt   string
	Published *time.Time
	Extractor string // which extractor produced it
}

// Extractor produces full text from a URL, or an error when it cannot.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, url string) (*Content, error)
}

// Chain runs extractors in order. The ordering is fixed at construction and
// not configurable at call time.
type Chain struct {
	extractors []Extractor
	minLength  int // minimum rune count for extracted text
	timeout    time.Duration
}

// NewChain builds the fallback chain. Content shorter than minLength runes,
// or with an empty title, counts as a failure even when the extractor
// returned a value.
func NewChain(minLength int, timeout time.Duration, extractors ...Extractor) *Chain {
	if minLength <= 0 {
		minLength = 300
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Chain{extractors: extractors, minLength: minLength, timeout: timeout}
}

// Extract tries each extractor sequentially and returns on first success.
func (c *Chain) Extract(ctx context.Context, url string) (*Content, error) {
	for _, ex := range c.extractors {
		exCtx, cancel := context.WithTimeout(ctx, c.timeout)
		content, err := ex.Extract(exCtx, url)
		cancel()
		if err != nil {
			log.Printf("newsmith: extractor %s failed for %s: %v", ex.Name(), url, err)
			continue
		}
		if content == nil || utf8.RuneCountInString(content.Text) < c.minLength || content.Title == "" {
			log.Printf("newsmith: extractor %s returned thin content for %s, trying next", ex.Name(), url)
			continue
		}
		content.Extractor = ex.Name()
		return content, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAllExtractorsFailed, url)
}

// getWithRetry performs a GET, retrying once with a short backoff on
// transient network errors and 5xx responses. The caller owns the body.
func getWithRetry(ctx context.Context, client *http.Client, url string, headers map[string]string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", extractUserAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
}
