// Package extractor wraps the Anthropic API for transcript requirement
// extraction and short free-form completions.
package extractor

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 8096
)

// Requirements is the JSON schema the extraction prompt demands. Zero
// values mean "not stated in the transcript".
type Requirements struct {
	ClientName        string   `json:"client_name"`
	BudgetMax         float64  `json:"budget_max"`
	Locations         []string `json:"locations"`
	MustHaves         []string `json:"must_haves"`
	NiceToHaves       []string `json:"nice_to_haves"`
	PropertyType      string   `json:"property_type"`
	MinBeds           int      `json:"min_beds"`
	MinBaths          float64  `json:"min_baths"`
	MinSqft           int      `json:"min_sqft"`
	SchoolRequirement string   `json:"school_requirement"`
	Timeline          string   `json:"timeline"`
	FinancingType     string   `json:"financing_type"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

// Client defines the Anthropic operations the pipeline uses.
type Client interface {
	ExtractRequirements(ctx context.Context, transcript string) (*Requirements, error)
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Option configures the client.
type Option func(*sdkClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *sdkClient) {
		c.temperature = &t
	}
}

// WithMaxTokens overrides the default completion budget.
func WithMaxTokens(n int64) Option {
	return func(c *sdkClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

type sdkClient struct {
	client      sdk.Client
	model       string
	temperature *float64
	maxTokens   int64
}

// NewClient creates an extraction client backed by the official SDK.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *sdkClient) Model() string {
	return c.model
}

func (c *sdkClient) ExtractRequirements(ctx context.Context, transcript string) (*Requirements, error) {
	raw, err := c.Complete(ctx, extractionSystemPrompt, buildExtractionUserPrompt(transcript))
	if err != nil {
		return nil, err
	}

	reqs, err := ParseRequirements(raw)
	if err != nil {
		return nil, err
	}

	zap.L().Info("extractor: requirements extracted",
		zap.String("model", c.model),
		zap.String("client_name", reqs.ClientName),
		zap.Float64("confidence", reqs.ConfidenceScore),
		zap.Int("must_haves", len(reqs.MustHaves)),
		zap.Int("nice_to_haves", len(reqs.NiceToHaves)),
	)
	return reqs, nil
}

func (c *sdkClient) Complete(ctx context.Context, system, user string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: system},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if c.temperature != nil {
		params.Temperature = sdk.Float(*c.temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "extractor: create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// ParseRequirements decodes the model's JSON output, tolerating markdown
// fences and leading prose some models wrap around the object.
func ParseRequirements(raw string) (*Requirements, error) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	// Trim anything outside the outermost braces.
	if start := strings.Index(text, "{"); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndex(text, "}"); end >= 0 && end < len(text)-1 {
		text = text[:end+1]
	}

	var reqs Requirements
	if err := json.Unmarshal([]byte(text), &reqs); err != nil {
		return nil, eris.Wrap(err, "extractor: parse requirements json")
	}
	if reqs.ConfidenceScore < 0 {
		reqs.ConfidenceScore = 0
	}
	if reqs.ConfidenceScore > 1 {
		reqs.ConfidenceScore = 1
	}
	return &reqs, nil
}
