package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
)

// CompressedSource is the distilled form of one source article, the unit the
// synthesis prompt is assembled from. Facts, quotes and metrics are kept
// verbatim from the model output so the synthesis stage can cite them.
type CompressedSource struct {
	Title     string   `json:"-"`
	URL       string   `json:"-"`
	Facts     []string `json:"facts"`
	Quotes    []string `json:"quotes"`
	Metrics   []string `json:"metrics"`
	Relevance float64  `json:"relevance"`
}

// ItemCount is the total number of extracted items the source carries.
func (s *CompressedSource) ItemCount() int {
	return len(s.Facts) + len(s.Quotes) + len(s.Metrics)
}

// DropShortestFacts removes the n shortest facts, the cheapest information to
// lose when the synthesis prompt must shrink.
func (s *CompressedSource) DropShortestFacts(n int) {
	if n <= 0 || len(s.Facts) == 0 {
		return
	}
	sorted := make([]string, len(s.Facts))
	copy(sorted, s.Facts)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) < len(sorted[j]) })

	drop := make(map[string]int)
	for i := 0; i < n && i < len(sorted); i++ {
		drop[sorted[i]]++
	}

	kept := s.Facts[:0]
	for _, f := range s.Facts {
		if drop[f] > 0 {
			drop[f]--
			continue
		}
		kept = append(kept, f)
	}
	s.Facts = kept
}

// CompressSource distills one article's text into facts, quotes and metrics
// scored for relevance to the topic. Same retry discipline as grouping.
func (c *Client) CompressSource(ctx context.Context, title, url, text, topicHeadline string) (*CompressedSource, error) {
	prompt := buildCompressPrompt(title, url, text, topicHeadline)

	var lastErr error
	for attempt := 0; attempt <= structuredRetries; attempt++ {
		resp, err := c.generate(ctx, c.compressModel, prompt, 0.1)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", url, err)
		}

		var parsed CompressedSource
		if err := json.Unmarshal([]byte(extractJSON(resp)), &parsed); err != nil {
			lastErr = err
			log.Printf("newsmith: compression output unparseable for %s (attempt %d/%d): %v", url, attempt+1, structuredRetries+1, err)
			continue
		}
		parsed.Title = title
		parsed.URL = url
		if parsed.Relevance < 0 {
			parsed.Relevance = 0
		} else if parsed.Relevance > 1 {
			parsed.Relevance = 1
		}
		return &parsed, nil
	}
	return nil, fmt.Errorf("%w: compress %s: %v", ErrMalformedOutput, url, lastErr)
}
