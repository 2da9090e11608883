package ai

import (
	"context"
	"strings"

	"github.com/dverney/newsmith/internal/storage"
)

// SynthesisRequest carries everything the synthesis prompt needs.
type SynthesisRequest struct {
	Headline string
	Summary  string
	Profile  storage.Profile
	Sources  []CompressedSource
}

// Synthesize writes the final article from compressed source material,
// streaming chunks through emit as they arrive, and returns the accumulated
// text. An error from emit aborts the stream.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest, emit func(chunk string) error) (string, error) {
	prompt := buildSynthesisPrompt(req.Headline, req.Summary, req.Profile, req.Sources)

	var full strings.Builder
	err := c.generateStream(ctx, c.synthesisModel, prompt, 0.7, func(chunk string) error {
		full.WriteString(chunk)
		if emit == nil {
			return nil
		}
		return emit(chunk)
	})
	if err != nil {
		return full.String(), err
	}
	return full.String(), nil
}
