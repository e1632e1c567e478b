package model

import "time"

// Requirement is the structured representation of a buyer's needs,
// extracted from a call transcript. Every constraint field is optional;
// a nil/empty field means "no constraint" and is skipped during scoring.
type Requirement struct {
	ID           int64  `json:"id"`
	TranscriptID int64  `json:"transcript_id"`
	ClientID     *int64 `json:"client_id,omitempty"`
	ClientName   string `json:"client_name,omitempty"`

	BudgetMax   *float64 `json:"budget_max,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	MustHaves   []string `json:"must_haves,omitempty"`
	NiceToHaves []string `json:"nice_to_haves,omitempty"`

	PropertyType      string   `json:"property_type,omitempty"`
	MinBeds           *int     `json:"min_beds,omitempty"`
	MinBaths          *float64 `json:"min_baths,omitempty"`
	MinSqft           *int     `json:"min_sqft,omitempty"`
	SchoolRequirement string   `json:"school_requirement,omitempty"`
	Timeline          string   `json:"timeline,omitempty"`
	FinancingType     string   `json:"financing_type,omitempty"`

	// ConfidenceScore comes from the extraction step. Informational only;
	// the scoring engine never reads it.
	ConfidenceScore float64 `json:"confidence_score"`

	LLMProvider string `json:"llm_provider,omitempty"`
	LLMModel    string `json:"llm_model,omitempty"`

	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
