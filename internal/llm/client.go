// Package llm provides an optional language-model-assisted quality scorer
// for the DatasetAssembly trainer. It is grounded directly on the
// teacher's internal/clients/gemini/client.go (functional-options
// constructor wrapping google.golang.org/genai, context-bound calls) and
// is wired in only when a search provider's API key is configured — a
// run with no LLM configured falls back to the provider's own
// QualityScore untouched.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/makr-code/loraforge/internal/common"
)

const DefaultModel = "gemini-2.0-flash"

// Client wraps a genai.Client scoped to one model.
type Client struct {
	client *genai.Client
	model  string
	logger *common.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient constructs a Client against the Gemini API backend.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := &Client{
		client: genaiClient,
		model:  DefaultModel,
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ScoreQuality asks the model to rate a document's suitability for
// inclusion in a fine-tuning dataset on a 0.0-1.0 scale. It never fails
// the caller's pipeline on error or an unparsable response — it logs and
// returns the fallback instead, since quality scoring assist is an
// enhancement, not a requirement, for DatasetAssembly (§4.6's "graceful
// degradation is mandatory" extended here by analogy to the LLM-assist
// path, not just the absent-search-provider path).
func (c *Client) ScoreQuality(ctx context.Context, text string, fallback float64) float64 {
	prompt := fmt.Sprintf(
		"Rate the following document's suitability for inclusion in a fine-tuning "+
			"dataset on a scale from 0.0 (unsuitable) to 1.0 (excellent). "+
			"Respond with only the number.\n\nDocument:\n%s", truncate(text, 4000))

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("quality scoring assist call failed, using fallback score")
		return fallback
	}

	text, err = extractText(result)
	if err != nil {
		c.logger.Warn().Err(err).Msg("quality scoring assist returned no content, using fallback score")
		return fallback
	}

	score, err := parseScore(text)
	if err != nil {
		c.logger.Warn().Str("response", text).Msg("quality scoring assist returned an unparsable score, using fallback")
		return fallback
	}
	return score
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func parseScore(text string) (float64, error) {
	var score float64
	text = strings.TrimSpace(text)
	if _, err := fmt.Sscanf(text, "%f", &score); err != nil {
		return 0, err
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}
