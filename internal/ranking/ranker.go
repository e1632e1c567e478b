package ranking

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/scoring"
)

// Ranker applies the scoring engine across a listing set and produces a
// deterministic ordering with 1-based rank positions. It never drops a
// listing; exclusion is a review decision, not a ranking one.
type Ranker struct {
	scorer      *scoring.Scorer
	concurrency int
}

// New creates a Ranker. concurrency bounds the parallel scoring fan-out;
// values below 1 default to 8.
func New(scorer *scoring.Scorer, concurrency int) *Ranker {
	if concurrency < 1 {
		concurrency = 8
	}
	return &Ranker{scorer: scorer, concurrency: concurrency}
}

// Rank scores every listing, sorts by must-have pass then overall score,
// with listing id as the deterministic tie-break, and assigns positions.
// An empty input yields an empty output. A single listing's scoring failure
// degrades to a zero score with a diagnostic reason instead of aborting the
// pass.
func (r *Ranker) Rank(ctx context.Context, req model.Requirement, listings []model.Listing) []model.RankedListing {
	if len(listings) == 0 {
		return []model.RankedListing{}
	}

	ranked := make([]model.RankedListing, len(listings))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, listing := range listings {
		g.Go(func() error {
			ranked[i] = r.scoreOne(gCtx, req, listing)
			return nil
		})
	}
	// Scoring errors are contained per listing; the group never fails.
	_ = g.Wait()

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].MustHavePass != ranked[j].MustHavePass {
			return ranked[i].MustHavePass
		}
		if ranked[i].OverallScore != ranked[j].OverallScore {
			return ranked[i].OverallScore > ranked[j].OverallScore
		}
		return ranked[i].ListingID < ranked[j].ListingID
	})

	for i := range ranked {
		ranked[i].RankPosition = i + 1
	}

	passed := 0
	for _, rl := range ranked {
		if rl.MustHavePass {
			passed++
		}
	}
	zap.L().Info("ranking: scored listings",
		zap.Int("listings", len(ranked)),
		zap.Int("full_passes", passed),
	)

	return ranked
}

func (r *Ranker) scoreOne(ctx context.Context, req model.Requirement, listing model.Listing) (out model.RankedListing) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("ranking: scoring panic contained",
				zap.Int64("listing_id", listing.ID),
				zap.Any("panic", rec),
			)
			out = failedRanking(req, listing, fmt.Sprintf("scoring failed: %v", rec))
		}
	}()

	breakdown := r.scorer.Score(ctx, req, listing)
	return model.RankedListing{
		PipelineRunID:   listing.PipelineRunID,
		ListingID:       listing.ID,
		RequirementID:   req.ID,
		OverallScore:    breakdown.Overall(),
		MustHavePass:    breakdown.MustHavePass(),
		NiceToHaveScore: breakdown.NiceToHaveScore(),
		Breakdown:       breakdown,
	}
}

// failedRanking produces a zero-score entry carrying the diagnostic so the
// listing stays visible in review.
func failedRanking(req model.Requirement, listing model.Listing, reason string) model.RankedListing {
	return model.RankedListing{
		PipelineRunID: listing.PipelineRunID,
		ListingID:     listing.ID,
		RequirementID: req.ID,
		OverallScore:  0,
		MustHavePass:  false,
		Breakdown: model.ScoreBreakdown{
			MustHaveChecks: map[string]model.CheckResult{
				"scoring": {Passed: false, Reason: reason},
			},
			NiceToHaveDetails: map[string]model.PreferenceScore{},
			MustHaveRate:      0,
			Weights:           model.DefaultWeights,
		},
	}
}
