package zillow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestLocationSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"New York, NY", "new-york-ny"},
		{"Springfield", "springfield"},
		{"  St. Louis,  MO ", "st-louis-mo"},
		{"Coeur d'Alene, ID", "coeur-dalene-id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LocationSlug(tt.in), tt.in)
	}
}

func TestBuildSearchURL(t *testing.T) {
	q := SearchQuery{
		Location: "Springfield, IL",
		MaxPrice: intp(500000),
		BedsMin:  intp(3),
		BathsMin: floatp(2),
	}
	raw := BuildSearchURL(q, &MapBounds{South: 39.6, North: 39.9, West: -89.8, East: -89.5})

	require.True(t, strings.HasPrefix(raw, "https://www.zillow.com/springfield-il/?searchQueryState="))

	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(parsed.Query().Get("searchQueryState")), &state))

	assert.Equal(t, "Springfield, IL", state["usersSearchTerm"])

	filters, ok := state["filterState"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(500000), filters["price"].(map[string]any)["max"])
	assert.Equal(t, float64(3), filters["beds"].(map[string]any)["min"])
	assert.Equal(t, float64(2), filters["baths"].(map[string]any)["min"])
	assert.NotContains(t, filters, "sqft")

	bounds, ok := state["mapBounds"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 39.6, bounds["south"])
}

func TestBuildSearchURL_NoFiltersNoBounds(t *testing.T) {
	raw := BuildSearchURL(SearchQuery{Location: "Austin, TX"}, nil)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(parsed.Query().Get("searchQueryState")), &state))
	assert.NotContains(t, state, "mapBounds")

	filters := state["filterState"].(map[string]any)
	assert.Contains(t, filters, "sort")
	assert.NotContains(t, filters, "price")
}

func TestSearch(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Springfield, IL", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"boundingbox":["39.6","39.9","-89.8","-89.5"]}]`))
	}))
	defer geocode.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search/byurl", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-rapidapi-key"))
		assert.Equal(t, "real-estate101.p.rapidapi.com", r.Header.Get("x-rapidapi-host"))
		assert.Contains(t, r.URL.Query().Get("url"), "zillow.com/springfield-il")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"totalCount": 2,
			"results": [
				{
					"zpid": 12345,
					"address": {"street": "123 Oak St", "city": "Springfield", "state": "IL", "zipcode": "62704"},
					"unformattedPrice": 450000,
					"beds": 3,
					"baths": 2,
					"livingArea": "1,800 sqft",
					"homeType": "SINGLE_FAMILY",
					"detailUrl": "/homedetails/123-oak-st/12345_zpid/"
				},
				{
					"zpid": "67890",
					"address": "456 Maple Ave, Springfield, IL",
					"price": "$525,000",
					"beds": "4",
					"baths": 2.5,
					"homeType": "TOWNHOUSE"
				}
			]
		}`))
	}))
	defer api.Close()

	client := NewClient("test-key",
		WithBaseURL(api.URL),
		WithGeocodeURL(geocode.URL),
		WithRateLimit(1000),
	)

	props, err := client.Search(context.Background(), SearchQuery{Location: "Springfield, IL", MaxPrice: intp(600000)})
	require.NoError(t, err)
	require.Len(t, props, 2)

	first := props[0]
	assert.Equal(t, "12345", first.ExternalID())
	assert.Equal(t, "123 Oak St, Springfield, IL, 62704", first.Address.String())
	assert.Equal(t, "Springfield", first.Address.City)

	price, ok := first.PriceValue()
	require.True(t, ok)
	assert.Equal(t, 450000.0, price)

	sqft, ok := first.SqftValue()
	require.True(t, ok)
	assert.Equal(t, 1800, sqft)

	assert.Equal(t, "single family", first.NormalizedHomeType())
	assert.Equal(t, "https://www.zillow.com/homedetails/123-oak-st/12345_zpid/", first.ListingURL())

	second := props[1]
	assert.Equal(t, "67890", second.ExternalID())
	assert.Equal(t, "456 Maple Ave, Springfield, IL", second.Address.String())

	price, ok = second.PriceValue()
	require.True(t, ok)
	assert.Equal(t, 525000.0, price)

	beds := second.Beds
	require.True(t, beds.OK)
	assert.Equal(t, 4.0, beds.Value)
}

func TestSearch_APIError(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer geocode.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer api.Close()

	client := NewClient("test-key",
		WithBaseURL(api.URL),
		WithGeocodeURL(geocode.URL),
		WithRateLimit(1000),
	)

	_, err := client.Search(context.Background(), SearchQuery{Location: "Springfield"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestSearch_EmptyLocation(t *testing.T) {
	client := NewClient("test-key")
	_, err := client.Search(context.Background(), SearchQuery{Location: "  "})
	require.Error(t, err)
}

func TestParseLeadingInt(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"1,010 sqft", 1010, true},
		{"1 day", 1, true},
		{"2200", 2200, true},
		{"--", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLeadingInt(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
