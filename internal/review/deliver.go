package review

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/resilience"
	"github.com/harrow-realty/listings-cli/pkg/delivery"
)

// EmailDeliverer renders the approved listings into an HTML digest and
// sends it through the delivery client.
type EmailDeliverer struct {
	client delivery.Client
	from   string
	retry  resilience.RetryConfig
}

// NewEmailDeliverer creates the deliverer. from is the sender address.
func NewEmailDeliverer(client delivery.Client, from string) *EmailDeliverer {
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		var apiErr *delivery.APIError
		if errors.As(err, &apiErr) {
			return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
		}
		return resilience.IsTransient(err)
	}
	retry.OnRetry = resilience.RetryLogger("delivery", "send")

	return &EmailDeliverer{client: client, from: from, retry: retry}
}

func (d *EmailDeliverer) Deliver(ctx context.Context, recipient, idempotencyKey string, req model.Requirement, items []model.RankedListing) error {
	html, err := renderDigest(req, items)
	if err != nil {
		return err
	}

	clientName := req.ClientName
	if clientName == "" {
		clientName = "your client"
	}
	msg := delivery.Message{
		From:    d.from,
		To:      []string{recipient},
		Subject: fmt.Sprintf("Top %d listings for %s", len(items), clientName),
		HTML:    html,
	}

	return resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		_, err := d.client.Send(ctx, msg, idempotencyKey)
		return err
	})
}

var titleCaser = cases.Title(language.AmericanEnglish)

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"title": func(s string) string { return titleCaser.String(s) },
	"pct":   func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	"money": formatMoney,
}).Parse(`<html>
<body style="font-family: Arial, sans-serif; max-width: 640px; margin: 0 auto; color: #1f2933;">
  <h2>Hand-picked listings{{if .ClientName}} for {{.ClientName}}{{end}}</h2>
  <p>These {{len .Items}} properties were reviewed and approved against the stated requirements.</p>
  {{range .Items}}
  <div style="border: 1px solid #d2d6dc; border-radius: 8px; padding: 16px; margin-bottom: 16px;">
    <h3 style="margin-top: 0;">#{{.Rank}} &mdash; {{.Address}}</h3>
    {{if .ImageURL}}<img src="{{.ImageURL}}" alt="{{.Address}}" style="max-width: 100%; border-radius: 4px;"/>{{end}}
    <p>
      <strong>{{.Price}}</strong>
      {{if .Facts}} &middot; {{.Facts}}{{end}}
      {{if .PropertyType}} &middot; {{title .PropertyType}}{{end}}
    </p>
    <p>Match score: <strong>{{pct .Score}}</strong>{{if not .MustHavePass}} (some must-haves unverified){{end}}</p>
    {{if .Highlights}}<p>{{.Highlights}}</p>{{end}}
    {{if .URL}}<p><a href="{{.URL}}">View listing</a>{{if .Source}} on {{title .Source}}{{end}}</p>{{end}}
  </div>
  {{end}}
  <p style="color: #6b7280; font-size: 12px;">Sent by Harrow Realty's listings assistant.</p>
</body>
</html>`))

type digestItem struct {
	Rank         int
	Address      string
	Price        string
	Facts        string
	PropertyType string
	Score        float64
	MustHavePass bool
	Highlights   string
	URL          string
	ImageURL     string
	Source       string
}

type digestData struct {
	ClientName string
	Items      []digestItem
}

func renderDigest(req model.Requirement, items []model.RankedListing) (string, error) {
	ordered := append([]model.RankedListing(nil), items...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RankPosition < ordered[j].RankPosition
	})

	data := digestData{ClientName: req.ClientName}
	for _, r := range ordered {
		item := digestItem{
			Rank:         r.RankPosition,
			Score:        r.OverallScore,
			MustHavePass: r.MustHavePass,
			Highlights:   summarizeBreakdown(r.Breakdown),
		}
		if l := r.Listing; l != nil {
			item.Address = l.Address
			item.Price = formatMoney(l.Price)
			item.PropertyType = l.PropertyType
			item.Facts = listingFacts(*l)
			item.URL = l.ListingURL
			item.ImageURL = l.ImageURL
			item.Source = l.Source
		}
		data.Items = append(data.Items, item)
	}

	var sb strings.Builder
	if err := digestTemplate.Execute(&sb, data); err != nil {
		return "", eris.Wrap(err, "review: render digest")
	}
	return sb.String(), nil
}

func listingFacts(l model.Listing) string {
	parts := make([]string, 0, 3)
	if l.Bedrooms != nil {
		parts = append(parts, fmt.Sprintf("%d bd", *l.Bedrooms))
	}
	if l.Bathrooms != nil {
		parts = append(parts, fmt.Sprintf("%g ba", *l.Bathrooms))
	}
	if l.Sqft != nil {
		parts = append(parts, fmt.Sprintf("%s sqft", groupThousands(*l.Sqft)))
	}
	return strings.Join(parts, " / ")
}

// summarizeBreakdown names the strongest matched preferences so the email
// reads like an agent's note rather than a score dump.
func summarizeBreakdown(b model.ScoreBreakdown) string {
	type scored struct {
		name  string
		score float64
	}
	var prefs []scored
	for name, d := range b.NiceToHaveDetails {
		if d.Score >= 0.5 {
			prefs = append(prefs, scored{name, d.Score})
		}
	}
	if len(prefs) == 0 {
		return ""
	}
	sort.Slice(prefs, func(i, j int) bool {
		if prefs[i].score != prefs[j].score {
			return prefs[i].score > prefs[j].score
		}
		return prefs[i].name < prefs[j].name
	})
	if len(prefs) > 3 {
		prefs = prefs[:3]
	}
	names := make([]string, len(prefs))
	for i, p := range prefs {
		names[i] = p.name
	}
	return "Matches: " + strings.Join(names, ", ")
}

func formatMoney(price *float64) string {
	if price == nil {
		return "Price unavailable"
	}
	return "$" + groupThousands(int(*price))
}

func groupThousands(v int) string {
	s := fmt.Sprintf("%d", v)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}
