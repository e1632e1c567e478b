package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
)

// Completer is the LLM completion surface the semantic matcher needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const semanticSystemPrompt = `You evaluate whether a property listing satisfies a buyer criterion.
Respond with ONLY a JSON object: {"score": <0.0, 0.5 or 1.0>, "reason": "<one sentence>"}.
Score 1.0 when the listing clearly satisfies the criterion, 0.5 when it
partially or plausibly does, 0.0 when it does not or there is no evidence.`

// SemanticMatcher grades criteria with an LLM call, falling back to the
// given deterministic matcher when the provider fails or returns garbage.
type SemanticMatcher struct {
	completer Completer
	fallback  Matcher
}

// NewSemanticMatcher creates a semantic matcher. fallback must not be nil.
func NewSemanticMatcher(completer Completer, fallback Matcher) *SemanticMatcher {
	return &SemanticMatcher{completer: completer, fallback: fallback}
}

func (m *SemanticMatcher) Match(ctx context.Context, criterion string, listing model.Listing) (MatchResult, error) {
	user := fmt.Sprintf(
		"Criterion: %s\n\nListing:\nAddress: %s\nType: %s\nNeighborhood: %s\nDescription: %s",
		criterion, listing.Address, listing.PropertyType, listing.Neighborhood, listing.Description,
	)

	raw, err := m.completer.Complete(ctx, semanticSystemPrompt, user)
	if err != nil {
		zap.L().Warn("scoring: semantic match failed, using keyword fallback",
			zap.String("criterion", criterion),
			zap.Error(err),
		)
		return m.fallback.Match(ctx, criterion, listing)
	}

	res, err := parseSemanticResponse(raw)
	if err != nil {
		zap.L().Warn("scoring: semantic response unparseable, using keyword fallback",
			zap.String("criterion", criterion),
			zap.Error(err),
		)
		return m.fallback.Match(ctx, criterion, listing)
	}
	return res, nil
}

func parseSemanticResponse(raw string) (MatchResult, error) {
	text := strings.TrimSpace(raw)
	// Strip markdown fences the model sometimes wraps JSON in.
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var parsed struct {
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return MatchResult{}, eris.Wrap(err, "scoring: parse semantic response")
	}
	if parsed.Score < 0 || parsed.Score > 1 {
		return MatchResult{}, eris.Errorf("scoring: semantic score %g out of range", parsed.Score)
	}
	return MatchResult{Score: parsed.Score, Reason: parsed.Reason}, nil
}
