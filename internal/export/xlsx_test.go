package export

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/harrow-realty/listings-cli/internal/model"
)

func TestWriteRankingsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rankings.xlsx")

	budget := 500000.0
	price := 450000.0
	beds := 3
	approved := true
	req := model.Requirement{
		ClientName:      "Dana Whitfield",
		BudgetMax:       &budget,
		Locations:       []string{"Springfield", "Shelbyville"},
		MustHaves:       []string{"garage"},
		ConfidenceScore: 0.9,
	}
	rankings := []model.RankedListing{
		{
			RankPosition: 2,
			OverallScore: 0.6,
			MustHavePass: false,
			Listing:      &model.Listing{Address: "456 Maple Avenue"},
		},
		{
			RankPosition:    1,
			OverallScore:    0.95,
			MustHavePass:    true,
			NiceToHaveScore: 1.0,
			ApprovedByHarry: &approved,
			SentToClient:    true,
			Breakdown: model.ScoreBreakdown{
				MustHaveChecks: map[string]model.CheckResult{
					"budget": {Passed: true, Reason: "within budget"},
				},
			},
			Listing: &model.Listing{
				Address:    "123 Oak Street",
				Price:      &price,
				Bedrooms:   &beds,
				ListingURL: "https://www.zillow.com/homedetails/123",
			},
		},
	}

	require.NoError(t, WriteRankingsXLSX(path, req, rankings))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	sheet := f.Sheet["Rankings"]
	require.NotNil(t, sheet)
	require.Len(t, sheet.Rows, 3) // header + two listings

	assert.Equal(t, "Rank", sheet.Rows[0].Cells[0].Value)
	assert.Equal(t, "URL", sheet.Rows[0].Cells[len(rankingHeader)-1].Value)

	// Rows come out in rank order regardless of input order.
	first := sheet.Rows[1]
	assert.Equal(t, "1", first.Cells[0].Value)
	assert.Equal(t, "123 Oak Street", first.Cells[1].Value)
	assert.Equal(t, "approved", first.Cells[11].Value)
	assert.Contains(t, first.Cells[13].Value, "budget: PASS (within budget)")

	second := sheet.Rows[2]
	assert.Equal(t, "456 Maple Avenue", second.Cells[1].Value)
	assert.Equal(t, "unknown", second.Cells[3].Value, "missing price renders as unknown")
	assert.Equal(t, "undecided", second.Cells[11].Value)

	reqSheet := f.Sheet["Requirements"]
	require.NotNil(t, reqSheet)
	pairs := map[string]string{}
	for _, row := range reqSheet.Rows {
		pairs[row.Cells[0].Value] = row.Cells[1].Value
	}
	assert.Equal(t, "Dana Whitfield", pairs["Client"])
	assert.Equal(t, "$500000", pairs["Budget Max"])
	assert.Equal(t, "Springfield; Shelbyville", pairs["Locations"])
	assert.Equal(t, "0.90", pairs["Extraction Confidence"])
}

func TestApprovalLabel(t *testing.T) {
	yes, no := true, false
	assert.Equal(t, "undecided", approvalLabel(nil))
	assert.Equal(t, "approved", approvalLabel(&yes))
	assert.Equal(t, "rejected", approvalLabel(&no))
}
