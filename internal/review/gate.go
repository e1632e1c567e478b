// Package review implements the operator gate between ranking and send.
// Harry approves or rejects ranked listings, and only approved ones ever
// leave the system.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/fault"
	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/store"
)

// Deliverer sends an approved listing digest to a recipient. The
// idempotency key dedupes retries on the provider side.
type Deliverer interface {
	Deliver(ctx context.Context, recipient, idempotencyKey string, req model.Requirement, items []model.RankedListing) error
}

// SendResult is the receipt for a send, replayed verbatim on repeat calls.
type SendResult struct {
	RunID     int64     `json:"run_id"`
	Recipient string    `json:"recipient"`
	Count     int       `json:"count"`
	SentAt    time.Time `json:"sent_at"`
	Replayed  bool      `json:"replayed"`
}

// Gate owns the review and send stages.
type Gate struct {
	store     store.Store
	deliverer Deliverer
}

// New creates a Gate.
func New(st store.Store, deliverer Deliverer) *Gate {
	return &Gate{store: st, deliverer: deliverer}
}

// Pending returns the full ranked set for operator review. Ranking must have
// completed first; there is nothing to review before that.
func (g *Gate) Pending(ctx context.Context, runID int64) ([]model.RankedListing, error) {
	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.RankingCompletedAt == nil {
		return nil, fault.Newf(fault.KindPrecondition, "run %d has no completed ranking to review", runID)
	}
	return g.store.ListRankingsByRun(ctx, runID)
}

// Approve marks the given rankings approved. Approvals are additive: earlier
// decisions on other rankings stand, and re-approving is a no-op. The first
// approval completes the review stage.
func (g *Gate) Approve(ctx context.Context, runID int64, rankingIDs []int64) ([]model.RankedListing, error) {
	return g.decide(ctx, runID, rankingIDs, true)
}

// Reject marks the given rankings rejected. Like approval it is additive and
// idempotent; a rejection can later be reversed by an approval.
func (g *Gate) Reject(ctx context.Context, runID int64, rankingIDs []int64) ([]model.RankedListing, error) {
	return g.decide(ctx, runID, rankingIDs, false)
}

func (g *Gate) decide(ctx context.Context, runID int64, rankingIDs []int64, approved bool) ([]model.RankedListing, error) {
	if len(rankingIDs) == 0 {
		return nil, fault.New(fault.KindValidation, "no ranking ids given")
	}

	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.RankingCompletedAt == nil {
		return nil, fault.Newf(fault.KindPrecondition, "run %d has no completed ranking to review", runID)
	}
	if run.SendCompletedAt != nil {
		return nil, fault.Newf(fault.KindPrecondition, "run %d has already been sent", runID)
	}

	for _, id := range rankingIDs {
		if _, err := g.store.SetApproval(ctx, runID, id, approved); err != nil {
			return nil, err
		}
	}
	zap.L().Info("review: decision recorded",
		zap.Int64("run_id", runID),
		zap.Int("rankings", len(rankingIDs)),
		zap.Bool("approved", approved),
	)

	if approved && run.ReviewCompletedAt == nil {
		if err := g.store.ClaimStage(ctx, runID, model.StageReview); err != nil {
			return nil, err
		}
		if err := g.store.CompleteStage(ctx, runID, model.StageReview, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	return g.store.ListRankingsByRun(ctx, runID)
}

// Receipt returns the persisted send receipt for a run, or NotFound when the
// run has not been sent.
func (g *Gate) Receipt(ctx context.Context, runID int64) (*SendResult, error) {
	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.SendCompletedAt == nil {
		return nil, fault.Newf(fault.KindNotFound, "run %d has not been sent", runID)
	}
	return &SendResult{
		RunID:     runID,
		Recipient: run.SendRecipient,
		Count:     run.SendCount,
		SentAt:    *run.SendCompletedAt,
		Replayed:  true,
	}, nil
}

// Send delivers the approved listings to the recipient, at most once per
// run. A repeat call replays the original receipt instead of sending again.
func (g *Gate) Send(ctx context.Context, runID int64, recipient string) (*SendResult, error) {
	if recipient == "" {
		return nil, fault.New(fault.KindValidation, "recipient is required")
	}

	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.SendCompletedAt != nil {
		zap.L().Info("review: send already completed, replaying receipt",
			zap.Int64("run_id", runID),
		)
		return &SendResult{
			RunID:     runID,
			Recipient: run.SendRecipient,
			Count:     run.SendCount,
			SentAt:    *run.SendCompletedAt,
			Replayed:  true,
		}, nil
	}

	if run.ReviewCompletedAt == nil {
		return nil, fault.Newf(fault.KindPrecondition, "run %d has not been reviewed", runID)
	}

	approved, err := g.store.ListApprovedRankings(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(approved) == 0 {
		return nil, fault.Newf(fault.KindPrecondition, "run %d has no approved listings to send", runID)
	}

	req, err := g.store.GetRequirementByTranscript(ctx, run.TranscriptID)
	if err != nil {
		return nil, err
	}

	if err := g.store.ClaimStage(ctx, runID, model.StageSend); err != nil {
		return nil, err
	}

	idempotencyKey := uuid.New().String()
	if err := g.deliverer.Deliver(ctx, recipient, idempotencyKey, *req, approved); err != nil {
		wrapped := fault.Wrap(fault.KindExternal, err, "review: deliver digest")
		if failErr := g.store.FailStage(ctx, runID, model.StageSend, wrapped.Error()); failErr != nil {
			zap.L().Warn("review: could not record send failure", zap.Error(failErr))
		}
		return nil, wrapped
	}

	sentAt := time.Now().UTC()
	if err := g.store.MarkRankingsSent(ctx, runID); err != nil {
		return nil, err
	}
	if err := g.store.RecordSendReceipt(ctx, runID, recipient, len(approved), sentAt); err != nil {
		return nil, err
	}
	if err := g.store.CompleteStage(ctx, runID, model.StageSend, sentAt); err != nil {
		return nil, err
	}

	zap.L().Info("review: digest sent",
		zap.Int64("run_id", runID),
		zap.String("recipient", recipient),
		zap.Int("count", len(approved)),
	)
	return &SendResult{
		RunID:     runID,
		Recipient: recipient,
		Count:     len(approved),
		SentAt:    sentAt,
	}, nil
}
