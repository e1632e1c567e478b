package scoring

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
)

// Check names used for the structured must-have checks.
const (
	checkBudget       = "budget"
	checkBedrooms     = "bedrooms"
	checkBathrooms    = "bathrooms"
	checkSqft         = "sqft"
	checkLocation     = "location"
	checkPropertyType = "property_type"
)

// quantitativeKeywords flag free-text must-haves that duplicate a structured
// numeric constraint; those entries are skipped rather than double-counted.
var quantitativeKeywords = []string{
	"bedroom", "bed", "bath", "bathroom", "budget", "price",
	"sqft", "square feet", "square foot", "sq ft",
	"property type", "house", "condo", "townhouse",
}

// Scorer evaluates one listing against one requirement. It is deterministic
// for a deterministic matcher and performs no I/O of its own.
type Scorer struct {
	weights model.Weights
	matcher Matcher
}

// New creates a Scorer. Weights that do not sum to 1.0 are normalized; a
// zero total falls back to the defaults.
func New(weights model.Weights, matcher Matcher) *Scorer {
	return &Scorer{
		weights: NormalizeWeights(weights),
		matcher: matcher,
	}
}

// NormalizeWeights scales weights to sum to 1.0. A non-positive total falls
// back to the package defaults.
func NormalizeWeights(w model.Weights) model.Weights {
	total := w.MustHave + w.NiceToHave
	if total <= 0 {
		zap.L().Warn("scoring: weights sum to zero, using defaults",
			zap.Float64("must_have", w.MustHave),
			zap.Float64("nice_to_have", w.NiceToHave),
		)
		return model.DefaultWeights
	}
	if total != 1.0 {
		zap.L().Warn("scoring: weights do not sum to 1.0, normalizing",
			zap.Float64("must_have", w.MustHave),
			zap.Float64("nice_to_have", w.NiceToHave),
		)
		return model.Weights{
			MustHave:   w.MustHave / total,
			NiceToHave: w.NiceToHave / total,
		}
	}
	return w
}

// Score evaluates every applicable must-have and nice-to-have. Constraints
// absent from the requirement are omitted from the breakdown entirely. With
// zero evaluated must-haves the rate is vacuously 1.0.
func (s *Scorer) Score(ctx context.Context, req model.Requirement, listing model.Listing) model.ScoreBreakdown {
	checks := make(map[string]model.CheckResult)

	if req.BudgetMax != nil {
		checks[checkBudget] = checkMax(listing.Price, *req.BudgetMax, "budget", formatMoney)
	}
	if req.MinBeds != nil {
		checks[checkBedrooms] = checkMinInt(listing.Bedrooms, *req.MinBeds, "beds")
	}
	if req.MinBaths != nil {
		checks[checkBathrooms] = checkMinFloat(listing.Bathrooms, *req.MinBaths, "baths")
	}
	if req.MinSqft != nil {
		checks[checkSqft] = checkMinInt(listing.Sqft, *req.MinSqft, "sqft")
	}
	if len(req.Locations) > 0 {
		checks[checkLocation] = checkLocations(req.Locations, listing)
	}
	if strings.TrimSpace(req.PropertyType) != "" {
		checks[checkPropertyType] = checkPropType(req.PropertyType, listing)
	}

	for _, mh := range req.MustHaves {
		if isQuantitativeMustHave(mh) {
			continue
		}
		checks[mh] = s.checkFreeText(ctx, mh, listing)
	}

	details := make(map[string]model.PreferenceScore, len(req.NiceToHaves))
	for _, nth := range req.NiceToHaves {
		details[nth] = s.scorePreference(ctx, nth, listing)
	}

	rate := 1.0
	if len(checks) > 0 {
		passed := 0
		for _, c := range checks {
			if c.Passed {
				passed++
			}
		}
		rate = float64(passed) / float64(len(checks))
	}

	return model.ScoreBreakdown{
		MustHaveChecks:    checks,
		NiceToHaveDetails: details,
		MustHaveRate:      rate,
		Weights:           s.weights,
	}
}

func (s *Scorer) checkFreeText(ctx context.Context, criterion string, listing model.Listing) model.CheckResult {
	res, err := s.matcher.Match(ctx, criterion, listing)
	if err != nil {
		return model.CheckResult{Passed: false, Reason: "matcher error: " + err.Error()}
	}
	// A must-have needs a full match; a partial hit is not satisfaction.
	return model.CheckResult{Passed: res.Score >= 1.0, Reason: res.Reason}
}

func (s *Scorer) scorePreference(ctx context.Context, criterion string, listing model.Listing) model.PreferenceScore {
	res, err := s.matcher.Match(ctx, criterion, listing)
	if err != nil {
		return model.PreferenceScore{Score: 0, Reason: "matcher error: " + err.Error()}
	}
	score := res.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return model.PreferenceScore{Score: score, Reason: res.Reason}
}

func isQuantitativeMustHave(mustHave string) bool {
	lower := strings.ToLower(mustHave)
	for _, kw := range quantitativeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// checkMax verifies listing value <= constraint. Unknown values fail hard
// constraints by policy.
func checkMax(value *float64, constraint float64, label string, format func(float64) string) model.CheckResult {
	if value == nil {
		return model.CheckResult{Passed: false, Reason: label + ": unknown value, cannot verify"}
	}
	if *value <= constraint {
		return model.CheckResult{
			Passed: true,
			Reason: fmt.Sprintf("%s %s <= %s required", format(*value), label, format(constraint)),
		}
	}
	return model.CheckResult{
		Passed: false,
		Reason: fmt.Sprintf("%s %s > %s required", format(*value), label, format(constraint)),
	}
}

func checkMinInt(value *int, constraint int, label string) model.CheckResult {
	if value == nil {
		return model.CheckResult{Passed: false, Reason: label + ": unknown value, cannot verify"}
	}
	if *value >= constraint {
		return model.CheckResult{
			Passed: true,
			Reason: fmt.Sprintf("%d %s >= %d required", *value, label, constraint),
		}
	}
	return model.CheckResult{
		Passed: false,
		Reason: fmt.Sprintf("%d %s < %d required", *value, label, constraint),
	}
}

func checkMinFloat(value *float64, constraint float64, label string) model.CheckResult {
	if value == nil {
		return model.CheckResult{Passed: false, Reason: label + ": unknown value, cannot verify"}
	}
	if *value >= constraint {
		return model.CheckResult{
			Passed: true,
			Reason: fmt.Sprintf("%g %s >= %g required", *value, label, constraint),
		}
	}
	return model.CheckResult{
		Passed: false,
		Reason: fmt.Sprintf("%g %s < %g required", *value, label, constraint),
	}
}

func checkLocations(locations []string, listing model.Listing) model.CheckResult {
	address := strings.ToLower(listing.Address)
	neighborhood := strings.ToLower(listing.Neighborhood)
	for _, loc := range locations {
		l := strings.ToLower(strings.TrimSpace(loc))
		if l == "" {
			continue
		}
		if strings.Contains(address, l) || strings.Contains(neighborhood, l) {
			return model.CheckResult{Passed: true, Reason: "matches preferred area " + strconvQuote(loc)}
		}
	}
	return model.CheckResult{
		Passed: false,
		Reason: "not in preferred areas (" + strings.Join(locations, ", ") + ")",
	}
}

func checkPropType(required string, listing model.Listing) model.CheckResult {
	if strings.TrimSpace(listing.PropertyType) == "" {
		return model.CheckResult{Passed: false, Reason: "property type: unknown value, cannot verify"}
	}
	want := strings.ToLower(strings.TrimSpace(required))
	got := strings.ToLower(strings.TrimSpace(listing.PropertyType))
	if want == got {
		return model.CheckResult{Passed: true, Reason: "type " + strconvQuote(listing.PropertyType) + " matches required " + strconvQuote(required)}
	}
	return model.CheckResult{Passed: false, Reason: "type " + strconvQuote(listing.PropertyType) + " does not match required " + strconvQuote(required)}
}

func formatMoney(v float64) string {
	return fmt.Sprintf("$%.0f", v)
}
