package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	raw := `{
		"client_name": "Dana Whitfield",
		"budget_max": 500000,
		"locations": ["Springfield", "Shelbyville"],
		"must_haves": ["at least 3 bedrooms", "good school district"],
		"nice_to_haves": ["garage", "open floor plan"],
		"property_type": "house",
		"min_beds": 3,
		"min_baths": 2,
		"min_sqft": 1500,
		"school_requirement": "top-rated elementary",
		"timeline": "lease ends in 60 days",
		"financing_type": "conventional",
		"confidence_score": 0.9
	}`

	reqs, err := ParseRequirements(raw)
	require.NoError(t, err)
	assert.Equal(t, "Dana Whitfield", reqs.ClientName)
	assert.Equal(t, 500000.0, reqs.BudgetMax)
	assert.Equal(t, []string{"Springfield", "Shelbyville"}, reqs.Locations)
	assert.Len(t, reqs.MustHaves, 2)
	assert.Equal(t, 3, reqs.MinBeds)
	assert.Equal(t, 2.0, reqs.MinBaths)
	assert.Equal(t, 0.9, reqs.ConfidenceScore)
}

func TestParseRequirements_MarkdownFences(t *testing.T) {
	raw := "```json\n{\"client_name\": \"Sam\", \"confidence_score\": 0.5}\n```"

	reqs, err := ParseRequirements(raw)
	require.NoError(t, err)
	assert.Equal(t, "Sam", reqs.ClientName)
	assert.Equal(t, 0.5, reqs.ConfidenceScore)
}

func TestParseRequirements_LeadingProse(t *testing.T) {
	raw := `Here is the extraction you asked for:
{"client_name": "Sam", "confidence_score": 0.8}`

	reqs, err := ParseRequirements(raw)
	require.NoError(t, err)
	assert.Equal(t, "Sam", reqs.ClientName)
}

func TestParseRequirements_ClampsConfidence(t *testing.T) {
	reqs, err := ParseRequirements(`{"confidence_score": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, reqs.ConfidenceScore)

	reqs, err = ParseRequirements(`{"confidence_score": -0.3}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, reqs.ConfidenceScore)
}

func TestParseRequirements_Garbage(t *testing.T) {
	_, err := ParseRequirements("the transcript was inconclusive")
	require.Error(t, err)
}

func TestBuildExtractionUserPrompt(t *testing.T) {
	prompt := buildExtractionUserPrompt("Harry: hello. Dana: hi.")
	assert.Contains(t, prompt, "Harry: hello. Dana: hi.")
	assert.Contains(t, prompt, "Return ONLY the JSON object")
}
