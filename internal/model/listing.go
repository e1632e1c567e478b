package model

import "time"

// Listing is a candidate property returned by the search capability.
// Numeric fields are pointers: nil means "unknown", which is distinct from
// zero and by policy fails any hard numeric constraint checked against it.
type Listing struct {
	ID            int64  `json:"id"`
	ExternalID    string `json:"external_id,omitempty"`
	PipelineRunID int64  `json:"pipeline_run_id"`
	RequirementID int64  `json:"requirement_id"`

	Address      string   `json:"address,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Bathrooms    *float64 `json:"bathrooms,omitempty"`
	Sqft         *int     `json:"sqft,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	Description  string   `json:"description,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	YearBuilt    *int     `json:"year_built,omitempty"`
	DaysOnMarket *int     `json:"days_on_market,omitempty"`

	ListingURL string `json:"listing_url,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Source     string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
