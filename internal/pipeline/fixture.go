package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
)

// fixtureListings are the offline candidate set. They cover the common
// constraint shapes (house vs townhouse, varying beds/baths/price) so the
// downstream stages exercise real pass/fail paths without an API key.
var fixtureListings = []model.Listing{
	{
		Address:      "123 Oak Street, Springfield",
		Price:        fptr(450000),
		Bedrooms:     iptr(3),
		Bathrooms:    fptr(2.0),
		Sqft:         iptr(1800),
		PropertyType: "house",
		Description:  "Charming 3-bed home with updated kitchen and large backyard.",
		Neighborhood: "Downtown Springfield",
		Source:       "fixture",
	},
	{
		Address:      "456 Maple Avenue, Springfield",
		Price:        fptr(525000),
		Bedrooms:     iptr(4),
		Bathrooms:    fptr(2.5),
		Sqft:         iptr(2200),
		PropertyType: "house",
		Description:  "Spacious 4-bed colonial with open floor plan near top-rated schools.",
		Neighborhood: "Westside Springfield",
		Source:       "fixture",
	},
	{
		Address:      "789 Pine Court, Shelbyville",
		Price:        fptr(380000),
		Bedrooms:     iptr(3),
		Bathrooms:    fptr(2.0),
		Sqft:         iptr(1600),
		PropertyType: "townhouse",
		Description:  "Modern townhouse with garage, close to transit and shopping.",
		Neighborhood: "Central Shelbyville",
		Source:       "fixture",
	},
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

// OfflineSearcher serves the fixture set instead of calling a listings API.
// Wired in when no search API key is configured, so the pipeline stays
// usable end to end during development and demos.
type OfflineSearcher struct{}

// NewOfflineSearcher creates a fixture-backed searcher.
func NewOfflineSearcher() *OfflineSearcher {
	return &OfflineSearcher{}
}

// Search returns fixtures whose address or neighborhood mentions the
// location; an empty or unmatched location returns the full set.
func (s *OfflineSearcher) Search(_ context.Context, _ model.Requirement, location string) ([]model.Listing, error) {
	zap.L().Info("search: offline fixtures in use", zap.String("location", location))

	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return append([]model.Listing(nil), fixtureListings...), nil
	}

	var matched []model.Listing
	for _, l := range fixtureListings {
		haystack := strings.ToLower(l.Address + " " + l.Neighborhood)
		if strings.Contains(haystack, loc) {
			matched = append(matched, l)
		}
	}
	if len(matched) == 0 {
		return append([]model.Listing(nil), fixtureListings...), nil
	}
	return matched, nil
}
