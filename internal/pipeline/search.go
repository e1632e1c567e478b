package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/resilience"
	"github.com/harrow-realty/listings-cli/pkg/zillow"
)

// ZillowSearcher adapts the Zillow client to the machine's Searcher
// interface, translating requirement constraints into search filters and
// scraped properties into listings.
type ZillowSearcher struct {
	client     zillow.Client
	maxResults int
	retry      resilience.RetryConfig
}

// NewZillowSearcher creates the adapter. maxResults caps the candidates
// kept per location; zero means no cap.
func NewZillowSearcher(client zillow.Client, maxResults int) *ZillowSearcher {
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		var apiErr *zillow.APIError
		if errors.As(err, &apiErr) {
			return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
		}
		return resilience.IsTransient(err)
	}
	retry.OnRetry = resilience.RetryLogger("zillow", "search")

	return &ZillowSearcher{
		client:     client,
		maxResults: maxResults,
		retry:      retry,
	}
}

func (s *ZillowSearcher) Search(ctx context.Context, req model.Requirement, location string) ([]model.Listing, error) {
	query := zillow.SearchQuery{Location: location}
	if req.BudgetMax != nil {
		maxPrice := int(*req.BudgetMax)
		query.MaxPrice = &maxPrice
	}
	query.BedsMin = req.MinBeds
	query.BathsMin = req.MinBaths
	query.SqftMin = req.MinSqft

	props, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]zillow.Property, error) {
		return s.client.Search(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	if s.maxResults > 0 && len(props) > s.maxResults {
		props = props[:s.maxResults]
	}

	listings := make([]model.Listing, 0, len(props))
	for _, p := range props {
		listings = append(listings, propertyToListing(p))
	}

	zap.L().Info("search: zillow results mapped",
		zap.String("location", location),
		zap.Int("listings", len(listings)),
	)
	return listings, nil
}

func propertyToListing(p zillow.Property) model.Listing {
	l := model.Listing{
		ExternalID:   p.ExternalID(),
		Address:      p.Address.String(),
		PropertyType: p.NormalizedHomeType(),
		Description:  p.StatusText,
		Neighborhood: p.Address.City,
		ListingURL:   p.ListingURL(),
		ImageURL:     p.ImageURL(),
		Source:       "zillow",
		CreatedAt:    time.Now().UTC(),
	}

	if price, ok := p.PriceValue(); ok {
		l.Price = &price
	}
	if p.Beds.OK {
		beds := int(p.Beds.Value)
		l.Bedrooms = &beds
	}
	if p.Baths.OK {
		baths := p.Baths.Value
		l.Bathrooms = &baths
	}
	if sqft, ok := p.SqftValue(); ok {
		l.Sqft = &sqft
	}
	if days, ok := p.DaysOnMarket(); ok {
		l.DaysOnMarket = &days
	}
	return l
}
