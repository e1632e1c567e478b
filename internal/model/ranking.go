package model

import "time"

// CheckResult records the outcome of one must-have check.
type CheckResult struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// PreferenceScore records the graded outcome of one nice-to-have.
type PreferenceScore struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Weights combine the must-have pass rate and the aggregate nice-to-have
// score into an overall score. They are expected to sum to 1.0.
type Weights struct {
	MustHave   float64 `json:"must_have"`
	NiceToHave float64 `json:"nice_to_have"`
}

// DefaultWeights is the per-deployment default combination.
var DefaultWeights = Weights{MustHave: 0.7, NiceToHave: 0.3}

// ScoreBreakdown is the explainable per-criterion detail behind an overall
// score. Checks absent from the requirement are omitted entirely: they never
// appear as a forced pass or fail.
type ScoreBreakdown struct {
	MustHaveChecks    map[string]CheckResult     `json:"must_have_checks"`
	NiceToHaveDetails map[string]PreferenceScore `json:"nice_to_have_details"`
	MustHaveRate      float64                    `json:"must_have_rate"`
	Weights           Weights                    `json:"weights"`
}

// MustHavePass is true only when every evaluated must-have passed. With no
// evaluated checks the constraints are vacuously satisfied.
func (b ScoreBreakdown) MustHavePass() bool {
	return b.MustHaveRate >= 1.0
}

// NiceToHaveScore is the arithmetic mean of the per-preference scores, 1.0
// when the buyer stated no preferences.
func (b ScoreBreakdown) NiceToHaveScore() float64 {
	if len(b.NiceToHaveDetails) == 0 {
		return 1.0
	}
	var sum float64
	for _, d := range b.NiceToHaveDetails {
		sum += d.Score
	}
	return sum / float64(len(b.NiceToHaveDetails))
}

// Overall combines the must-have rate and nice-to-have score with the
// breakdown's weights.
func (b ScoreBreakdown) Overall() float64 {
	return b.Weights.MustHave*b.MustHaveRate + b.Weights.NiceToHave*b.NiceToHaveScore()
}

// RankedListing pairs one listing with one score breakdown for one run.
type RankedListing struct {
	ID            int64 `json:"id"`
	PipelineRunID int64 `json:"pipeline_run_id"`
	ListingID     int64 `json:"listing_id"`
	RequirementID int64 `json:"requirement_id"`

	OverallScore    float64 `json:"overall_score"`
	MustHavePass    bool    `json:"must_have_pass"`
	NiceToHaveScore float64 `json:"nice_to_have_score"`
	RankPosition    int     `json:"rank_position"`

	Breakdown ScoreBreakdown `json:"score_breakdown"`

	// ApprovedByHarry is tri-state: nil undecided, true approved, false
	// rejected.
	ApprovedByHarry *bool `json:"approved_by_harry"`
	SentToClient    bool  `json:"sent_to_client"`

	// Listing is populated on reads that join the listing row.
	Listing *Listing `json:"listing,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
