// Package export writes run artifacts to spreadsheet files Harry can open
// and annotate.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/harrow-realty/listings-cli/internal/model"
)

var rankingHeader = []string{
	"Rank", "Address", "Neighborhood", "Price", "Beds", "Baths", "Sqft",
	"Type", "Must-Haves Pass", "Nice-to-Have Score", "Overall Score",
	"Approved", "Sent", "Must-Have Detail", "Nice-to-Have Detail", "URL",
}

// WriteRankingsXLSX writes the ranked listings of one run to an XLSX file,
// one row per listing in rank order.
func WriteRankingsXLSX(path string, req model.Requirement, rankings []model.RankedListing) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Rankings")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range rankingHeader {
		header.AddCell().Value = h
	}

	ordered := append([]model.RankedListing(nil), rankings...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RankPosition < ordered[j].RankPosition
	})

	for _, r := range ordered {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.RankPosition)

		l := r.Listing
		if l == nil {
			l = &model.Listing{}
		}
		row.AddCell().Value = l.Address
		row.AddCell().Value = l.Neighborhood
		setOptionalFloat(row.AddCell(), l.Price)
		setOptionalInt(row.AddCell(), l.Bedrooms)
		setOptionalFloat(row.AddCell(), l.Bathrooms)
		setOptionalInt(row.AddCell(), l.Sqft)
		row.AddCell().Value = l.PropertyType

		row.AddCell().SetBool(r.MustHavePass)
		row.AddCell().SetFloatWithFormat(r.NiceToHaveScore, "0.00")
		row.AddCell().SetFloatWithFormat(r.OverallScore, "0.00")

		row.AddCell().Value = approvalLabel(r.ApprovedByHarry)
		row.AddCell().SetBool(r.SentToClient)

		row.AddCell().Value = formatChecks(r.Breakdown.MustHaveChecks)
		row.AddCell().Value = formatPreferences(r.Breakdown.NiceToHaveDetails)
		row.AddCell().Value = l.ListingURL
	}

	if err := addRequirementSheet(f, req); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save file")
	}
	return nil
}

func addRequirementSheet(f *xlsx.File, req model.Requirement) error {
	sheet, err := f.AddSheet("Requirements")
	if err != nil {
		return eris.Wrap(err, "export: add requirements sheet")
	}

	addPair := func(key, value string) {
		if value == "" {
			return
		}
		row := sheet.AddRow()
		row.AddCell().Value = key
		row.AddCell().Value = value
	}

	addPair("Client", req.ClientName)
	if req.BudgetMax != nil {
		addPair("Budget Max", fmt.Sprintf("$%.0f", *req.BudgetMax))
	}
	addPair("Locations", strings.Join(req.Locations, "; "))
	addPair("Must-Haves", strings.Join(req.MustHaves, "; "))
	addPair("Nice-to-Haves", strings.Join(req.NiceToHaves, "; "))
	addPair("Property Type", req.PropertyType)
	if req.MinBeds != nil {
		addPair("Min Beds", fmt.Sprintf("%d", *req.MinBeds))
	}
	if req.MinBaths != nil {
		addPair("Min Baths", fmt.Sprintf("%g", *req.MinBaths))
	}
	if req.MinSqft != nil {
		addPair("Min Sqft", fmt.Sprintf("%d", *req.MinSqft))
	}
	addPair("Schools", req.SchoolRequirement)
	addPair("Timeline", req.Timeline)
	addPair("Financing", req.FinancingType)
	addPair("Extraction Confidence", fmt.Sprintf("%.2f", req.ConfidenceScore))
	return nil
}

func approvalLabel(approved *bool) string {
	switch {
	case approved == nil:
		return "undecided"
	case *approved:
		return "approved"
	default:
		return "rejected"
	}
}

func setOptionalFloat(cell *xlsx.Cell, v *float64) {
	if v == nil {
		cell.Value = "unknown"
		return
	}
	cell.SetFloat(*v)
}

func setOptionalInt(cell *xlsx.Cell, v *int) {
	if v == nil {
		cell.Value = "unknown"
		return
	}
	cell.SetInt(*v)
}

func formatChecks(checks map[string]model.CheckResult) string {
	keys := make([]string, 0, len(checks))
	for k := range checks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		c := checks[k]
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", k, mark, c.Reason))
	}
	return strings.Join(parts, "\n")
}

func formatPreferences(prefs map[string]model.PreferenceScore) string {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		p := prefs[k]
		parts = append(parts, fmt.Sprintf("%s: %.1f (%s)", k, p.Score, p.Reason))
	}
	return strings.Join(parts, "\n")
}
