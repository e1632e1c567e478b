package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/pkg/extractor"
)

// LLMExtractor adapts the Anthropic extraction client to the machine's
// Extractor interface, normalizing the prompt schema's zero-means-unknown
// convention into the model's nil-means-unknown pointers.
type LLMExtractor struct {
	client extractor.Client
}

// NewLLMExtractor creates the adapter.
func NewLLMExtractor(client extractor.Client) *LLMExtractor {
	return &LLMExtractor{client: client}
}

func (e *LLMExtractor) Extract(ctx context.Context, transcript string) (*model.Requirement, error) {
	raw, err := e.client.ExtractRequirements(ctx, transcript)
	if err != nil {
		return nil, err
	}

	req := &model.Requirement{
		ClientName:        raw.ClientName,
		Locations:         raw.Locations,
		MustHaves:         raw.MustHaves,
		NiceToHaves:       raw.NiceToHaves,
		PropertyType:      raw.PropertyType,
		SchoolRequirement: raw.SchoolRequirement,
		Timeline:          raw.Timeline,
		FinancingType:     raw.FinancingType,
		ConfidenceScore:   raw.ConfidenceScore,
		LLMProvider:       "anthropic",
		LLMModel:          e.client.Model(),
	}
	if raw.BudgetMax > 0 {
		req.BudgetMax = &raw.BudgetMax
	}
	if raw.MinBeds > 0 {
		req.MinBeds = &raw.MinBeds
	}
	if raw.MinBaths > 0 {
		req.MinBaths = &raw.MinBaths
	}
	if raw.MinSqft > 0 {
		req.MinSqft = &raw.MinSqft
	}

	zap.L().Info("extract: requirement built",
		zap.String("client_name", req.ClientName),
		zap.Int("locations", len(req.Locations)),
		zap.Int("must_haves", len(req.MustHaves)),
		zap.Int("nice_to_haves", len(req.NiceToHaves)),
	)
	return req, nil
}
