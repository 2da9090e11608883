package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/dverney/newsmith/internal/storage"
)

// minTopicRelevance is the floor under which a proposed topic is discarded
// before persistence.
const minTopicRelevance = 0.3

// TopicCluster is one proposed topic from the grouping call. ArticleIndices
// refer into the article slice passed to GroupTopics.
type TopicCluster struct {
	Headline       string   `json:"headline"`
	Summary        string   `json:"summary"`
	TopicType      string   `json:"topic_type"`
	RelevanceScore float64  `json:"relevance_score"`
	Tags           []string `json:"tags"`
	ArticleIndices []int    `json:"article_indices"`
}

// GroupTopics asks the grouping model to cluster the day's articles into
// topics scored against the reader profile. Malformed output is retried with
// the identical request a bounded number of times, then fails hard; a digest
// without trustworthy grouping is worse than no digest.
func (c *Client) GroupTopics(ctx context.Context, articles []storage.RawArticle, profile storage.Profile) ([]TopicCluster, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	prompt := buildGroupingPrompt(articles, profile)

	var lastErr error
	for attempt := 0; attempt <= structuredRetries; attempt++ {
		resp, err := c.generate(ctx, c.groupingModel, prompt, 0.2)
		if err != nil {
			return nil, fmt.Errorf("grouping call: %w", err)
		}
		var parsed struct {
			Topics []TopicCluster `json:"topics"`
		}
		if err := json.Unmarshal([]byte(extractJSON(resp)), &parsed); err != nil {
			lastErr = err
			log.Printf("newsmith: grouping output unparseable (attempt %d/%d): %v", attempt+1, structuredRetries+1, err)
			continue
		}
		return sanitizeClusters(parsed.Topics, len(articles)), nil
	}
	return nil, fmt.Errorf("%w: grouping: %v", ErrMalformedOutput, lastErr)
}

// sanitizeClusters enforces the structural invariants the model cannot be
// trusted with: indices in range, each article in at most one topic, known
// topic types, and the relevance floor.
func sanitizeClusters(clusters []TopicCluster, articleCount int) []TopicCluster {
	claimed := make(map[int]bool)
	var out []TopicCluster
	for _, cl := range clusters {
		if cl.Headline == "" || cl.RelevanceScore < minTopicRelevance {
			continue
		}

		var indices []int
		for _, idx := range cl.ArticleIndices {
			if idx < 0 || idx >= articleCount || claimed[idx] {
				continue
			}
			claimed[idx] = true
			indices = append(indices, idx)
		}
		if len(indices) == 0 {
			continue
		}
		sort.Ints(indices)
		cl.ArticleIndices = indices

		switch cl.TopicType {
		case "hot", "normal", "standalone":
		default:
			if len(indices) == 1 {
				cl.TopicType = "standalone"
			} else {
				cl.TopicType = "normal"
			}
		}
		if cl.RelevanceScore > 1.0 {
			cl.RelevanceScore = 1.0
		}

		out = append(out, cl)
	}
	return out
}
