// Package zillow searches property listings through the RapidAPI
// real-estate101 endpoint, which scrapes Zillow search result pages.
package zillow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultHost         = "real-estate101.p.rapidapi.com"
	nominatimURL        = "https://nominatim.openstreetmap.org/search"
	nominatimUserAgent  = "HarrowRealtyListings/1.0"
	defaultRatePerSec   = 2.0
	defaultLimiterBurst = 1
)

// SearchQuery carries the location plus the structured filters the search
// URL encodes. Nil filters are omitted.
type SearchQuery struct {
	Location string
	MaxPrice *int
	BedsMin  *int
	BathsMin *float64
	SqftMin  *int
	Page     int
}

// Client searches Zillow by location and filters.
type Client interface {
	Search(ctx context.Context, query SearchQuery) ([]Property, error)
}

// APIError reports a non-2xx response from the RapidAPI endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zillow: API returned %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithHost overrides the RapidAPI host.
func WithHost(host string) Option {
	return func(c *httpClient) {
		if host != "" {
			c.host = host
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the request rate limit in requests per second.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), defaultLimiterBurst)
		}
	}
}

// WithBaseURL overrides the full API base URL. Used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *httpClient) {
		c.baseURL = baseURL
	}
}

// WithGeocodeURL overrides the Nominatim endpoint. Used by tests.
func WithGeocodeURL(geocodeURL string) Option {
	return func(c *httpClient) {
		c.geocodeURL = geocodeURL
	}
}

type httpClient struct {
	apiKey     string
	host       string
	baseURL    string
	geocodeURL string
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a RapidAPI Zillow client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:     apiKey,
		host:       defaultHost,
		geocodeURL: nominatimURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultLimiterBurst),
	}
	for _, o := range opts {
		o(c)
	}
	if c.baseURL == "" {
		c.baseURL = "https://" + c.host
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query SearchQuery) ([]Property, error) {
	if strings.TrimSpace(query.Location) == "" {
		return nil, eris.New("zillow: location is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "zillow: rate limit wait")
	}

	// Map bounds sharpen the search but are not required; a geocoding
	// failure degrades to a location-slug-only query.
	bounds := c.geocode(ctx, query.Location)

	searchURL := BuildSearchURL(query, bounds)

	apiURL := c.baseURL + "/api/search/byurl"
	params := url.Values{"url": {searchURL}}
	if query.Page > 1 {
		params.Set("page", fmt.Sprintf("%d", query.Page))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "zillow: create request")
	}
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "zillow: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "zillow: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var result struct {
		Results    []Property `json:"results"`
		TotalCount int        `json:"totalCount"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "zillow: parse response")
	}

	zap.L().Info("zillow: search completed",
		zap.String("location", query.Location),
		zap.Int("results", len(result.Results)),
		zap.Int("total_count", result.TotalCount),
	)
	return result.Results, nil
}

// MapBounds is a geographic bounding box for the search viewport.
type MapBounds struct {
	South float64 `json:"south"`
	North float64 `json:"north"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

func (c *httpClient) geocode(ctx context.Context, location string) *MapBounds {
	params := url.Values{
		"q":      {location},
		"format": {"json"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", nominatimUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		zap.L().Warn("zillow: geocoding failed", zap.String("location", location), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("zillow: geocoding status", zap.String("location", location), zap.Int("status", resp.StatusCode))
		return nil
	}

	var results []struct {
		BoundingBox []string `json:"boundingbox"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil || len(results) == 0 {
		return nil
	}
	bbox := results[0].BoundingBox
	if len(bbox) < 4 {
		return nil
	}

	south, err1 := parseFloat(bbox[0])
	north, err2 := parseFloat(bbox[1])
	west, err3 := parseFloat(bbox[2])
	east, err4 := parseFloat(bbox[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil
	}
	return &MapBounds{South: south, North: north, West: west, East: east}
}

// BuildSearchURL constructs the zillow.com search results URL the RapidAPI
// endpoint scrapes, with filters encoded in searchQueryState.
func BuildSearchURL(query SearchQuery, bounds *MapBounds) string {
	filterState := map[string]any{
		"sort": map[string]any{"value": "globalrelevanceex"},
	}
	if query.MaxPrice != nil {
		filterState["price"] = map[string]any{"max": *query.MaxPrice}
	}
	if query.BedsMin != nil {
		filterState["beds"] = map[string]any{"min": *query.BedsMin}
	}
	if query.BathsMin != nil {
		filterState["baths"] = map[string]any{"min": *query.BathsMin}
	}
	if query.SqftMin != nil {
		filterState["sqft"] = map[string]any{"min": *query.SqftMin}
	}

	state := map[string]any{
		"isMapVisible":    true,
		"isListVisible":   true,
		"filterState":     filterState,
		"usersSearchTerm": query.Location,
	}
	if bounds != nil {
		state["mapBounds"] = bounds
	}

	encoded, _ := json.Marshal(state)
	return fmt.Sprintf("https://www.zillow.com/%s/?searchQueryState=%s",
		LocationSlug(query.Location), url.QueryEscape(string(encoded)))
}

var (
	slugCommaRe    = regexp.MustCompile(`[,]+`)
	slugSpaceRe    = regexp.MustCompile(`\s+`)
	slugInvalidRe  = regexp.MustCompile(`[^a-z0-9-]`)
	slugCollapseRe = regexp.MustCompile(`-+`)
)

// LocationSlug converts a location like "New York, NY" into the zillow.com
// URL slug "new-york-ny".
func LocationSlug(location string) string {
	slug := strings.ToLower(strings.TrimSpace(location))
	slug = strings.ReplaceAll(slug, ".", "")
	slug = slugCommaRe.ReplaceAllString(slug, " ")
	slug = strings.TrimSpace(slugSpaceRe.ReplaceAllString(slug, " "))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugInvalidRe.ReplaceAllString(slug, "")
	slug = strings.Trim(slugCollapseRe.ReplaceAllString(slug, "-"), "-")
	return slug
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
