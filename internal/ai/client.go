// Package ai wraps the model provider behind newsmith's three call shapes:
// structured JSON output (grouping, compression, gather decisions), and a
// streaming completion (synthesis).
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// ErrMalformedOutput means the model's response did not conform to the
// requested JSON shape after the bounded retries were spent.
var ErrMalformedOutput = errors.New("model output malformed")

// ErrContextOverflow means the model rejected the request as too large for
// its context window.
var ErrContextOverflow = errors.New("model context overflow")

// structuredRetries is how many additional identical attempts a structured
// call gets when the response fails to parse.
const structuredRetries = 2

// generator is the slice of the ollama client the package uses; tests inject
// fakes through it.
type generator interface {
	Generate(ctx context.Context, req *api.GenerateRequest, fn api.GenerateResponseFunc) error
}

// Client issues model calls with per-call timeouts.
type Client struct {
	llm            generator
	groupingModel  string
	compressModel  string
	synthesisModel string
	timeout        time.Duration
}

// NewClient creates a model client against the given ollama base URL.
func NewClient(baseURL, groupingModel, compressModel, synthesisModel string, timeout time.Duration) (*Client, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		parsedURL, parseErr := url.Parse(baseURL)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid base URL: %w", parseErr)
		}
		client = api.NewClient(parsedURL, nil)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		llm:            client,
		groupingModel:  groupingModel,
		compressModel:  compressModel,
		synthesisModel: synthesisModel,
		timeout:        timeout,
	}, nil
}

// SynthesisModel reports the model name used for article synthesis, recorded
// alongside cached articles.
func (c *Client) SynthesisModel() string { return c.synthesisModel }

// generate runs a non-streaming completion and returns the full response text.
func (c *Client) generate(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: new(bool), // false
		Options: map[string]interface{}{
			"temperature": temperature,
		},
	}

	var full strings.Builder
	err := c.llm.Generate(callCtx, req, func(resp api.GenerateResponse) error {
		full.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", classifyErr(err)
	}
	return full.String(), nil
}

// generateStream runs a streaming completion, forwarding each chunk to emit
// as it is produced. Cancelling ctx aborts the underlying call.
func (c *Client) generateStream(ctx context.Context, model, prompt string, temperature float64, emit func(string) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream := true
	req := &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": temperature,
		},
	}

	err := c.llm.Generate(callCtx, req, func(resp api.GenerateResponse) error {
		if resp.Response == "" {
			return nil
		}
		return emit(resp.Response)
	})
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

// classifyErr maps provider errors onto the package sentinels where the
// message allows it.
func classifyErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context window") ||
		strings.Contains(msg, "input too long") {
		return fmt.Errorf("%w: %s", ErrContextOverflow, err)
	}
	return err
}

// IsContextOverflow reports whether an error is a context-size overflow.
func IsContextOverflow(err error) bool {
	return errors.Is(err, ErrContextOverflow)
}

// truncateText truncates text to maxLen characters.
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

// extractJSON pulls the JSON object out of a response that may carry extra
// prose around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
