package store

import (
	"context"
	"time"

	"github.com/harrow-realty/listings-cli/internal/model"
)

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	Status model.StageStatus `json:"status,omitempty"`
	Stage  model.Stage       `json:"stage,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// RequirementUpdate carries a partial manual edit. Nil fields are left
// untouched; list-valued fields are replaced wholesale when set.
type RequirementUpdate struct {
	ClientName        *string   `json:"client_name,omitempty"`
	BudgetMax         *float64  `json:"budget_max,omitempty"`
	Locations         *[]string `json:"locations,omitempty"`
	MustHaves         *[]string `json:"must_haves,omitempty"`
	NiceToHaves       *[]string `json:"nice_to_haves,omitempty"`
	PropertyType      *string   `json:"property_type,omitempty"`
	MinBeds           *int      `json:"min_beds,omitempty"`
	MinBaths          *float64  `json:"min_baths,omitempty"`
	MinSqft           *int      `json:"min_sqft,omitempty"`
	SchoolRequirement *string   `json:"school_requirement,omitempty"`
	Timeline          *string   `json:"timeline,omitempty"`
	FinancingType     *string   `json:"financing_type,omitempty"`
}

// Store defines the persistence interface for the matching pipeline.
type Store interface {
	// Transcripts
	CreateTranscript(ctx context.Context, t *model.Transcript) (*model.Transcript, error)
	GetTranscript(ctx context.Context, id int64) (*model.Transcript, error)

	// Runs. ClaimStage performs the conditional status transition
	// (pending|failed|completed -> in_progress) that serializes stage
	// execution across processes; a run already in progress claims as a
	// conflict. CompleteStage stamps the stage's completion timestamp and
	// advances current_stage. FailStage records the error message and leaves
	// earlier completion timestamps untouched.
	CreateRun(ctx context.Context, transcriptID int64) (*model.PipelineRun, error)
	GetRun(ctx context.Context, id int64) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)
	ClaimStage(ctx context.Context, runID int64, stage model.Stage) error
	CompleteStage(ctx context.Context, runID int64, stage model.Stage, at time.Time) error
	FailStage(ctx context.Context, runID int64, stage model.Stage, errMsg string) error
	RecordSendReceipt(ctx context.Context, runID int64, recipient string, count int, at time.Time) error

	// Requirements. Upsert is keyed by transcript id so a re-run of
	// extraction never produces a duplicate requirement row.
	UpsertRequirement(ctx context.Context, r *model.Requirement) (*model.Requirement, error)
	GetRequirement(ctx context.Context, id int64) (*model.Requirement, error)
	GetRequirementByTranscript(ctx context.Context, transcriptID int64) (*model.Requirement, error)
	UpdateRequirement(ctx context.Context, id int64, update RequirementUpdate) (*model.Requirement, error)

	// Listings
	ReplaceListings(ctx context.Context, runID int64, listings []model.Listing) ([]model.Listing, error)
	ListListingsByRun(ctx context.Context, runID int64) ([]model.Listing, error)

	// Rankings
	ReplaceRankings(ctx context.Context, runID int64, rankings []model.RankedListing) ([]model.RankedListing, error)
	ListRankingsByRun(ctx context.Context, runID int64) ([]model.RankedListing, error)
	ListApprovedRankings(ctx context.Context, runID int64) ([]model.RankedListing, error)
	SetApproval(ctx context.Context, runID, rankingID int64, approved bool) (*model.RankedListing, error)
	MarkRankingsSent(ctx context.Context, runID int64) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
