package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// Gather actions the decide call may return.
const (
	ActionSearch = "search"
	ActionFetch  = "fetch"
	ActionStop   = "stop"
)

// GatheredItem is one piece of material already collected for a topic, shown
// to the model when it decides the next gather step.
type GatheredItem struct {
	Title string
	URL   string
}

// GatherDecision is the model's choice of next research step.
type GatherDecision struct {
	Action string `json:"action"`
	Query  string `json:"query"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// DecideGather asks the model for the next research step on a topic given
// what has been gathered so far and how many actions remain in the budget.
// A structurally invalid decision after retries degrades to stop rather than
// failing the whole generation; the gathered material is still usable.
func (c *Client) DecideGather(ctx context.Context, headline, summary string, gathered []GatheredItem, remaining int) (*GatherDecision, error) {
	prompt := buildGatherPrompt(headline, summary, gathered, remaining)

	for attempt := 0; attempt <= structuredRetries; attempt++ {
		resp, err := c.generate(ctx, c.compressModel, prompt, 0.2)
		if err != nil {
			return nil, fmt.Errorf("gather decision: %w", err)
		}

		var decision GatherDecision
		if err := json.Unmarshal([]byte(extractJSON(resp)), &decision); err != nil {
			log.Printf("newsmith: gather decision unparseable (attempt %d/%d): %v", attempt+1, structuredRetries+1, err)
			continue
		}
		switch decision.Action {
		case ActionSearch:
			if decision.Query != "" {
				return &decision, nil
			}
		case ActionFetch:
			if decision.URL != "" {
				return &decision, nil
			}
		case ActionStop:
			return &decision, nil
		}
		log.Printf("newsmith: gather decision invalid (action=%q), retrying", decision.Action)
	}

	log.Printf("newsmith: gather decision never validated, stopping research")
	return &GatherDecision{Action: ActionStop, Reason: "decision output invalid"}, nil
}
