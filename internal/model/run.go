package model

import (
	"fmt"
	"time"
)

// Stage identifies one of the six pipeline phases.
type Stage string

const (
	StageIngestion  Stage = "ingestion"
	StageExtraction Stage = "extraction"
	StageSearch     Stage = "search"
	StageRanking    Stage = "ranking"
	StageReview     Stage = "review"
	StageSend       Stage = "send"
)

// StageStatus is the execution state of the run's current stage.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// stageOrder defines the only legal stage sequence.
var stageOrder = []Stage{
	StageIngestion,
	StageExtraction,
	StageSearch,
	StageRanking,
	StageReview,
	StageSend,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	for _, st := range stageOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Next returns the stage after s, or s itself when s is terminal.
func (s Stage) Next() Stage {
	for i, st := range stageOrder {
		if st == s && i < len(stageOrder)-1 {
			return stageOrder[i+1]
		}
	}
	return s
}

// Prev returns the stage before s and false when s is the first stage.
func (s Stage) Prev() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i > 0 {
			return stageOrder[i-1], true
		}
	}
	return "", false
}

// PipelineRun tracks one end-to-end execution of the pipeline for a
// transcript. Completion timestamps are append-only: a stage failure never
// clears a previously completed stage.
type PipelineRun struct {
	ID           int64       `json:"id"`
	TranscriptID int64       `json:"transcript_id"`
	CurrentStage Stage       `json:"current_stage"`
	Status       StageStatus `json:"status"`

	IngestionCompletedAt  *time.Time `json:"ingestion_completed_at,omitempty"`
	ExtractionCompletedAt *time.Time `json:"extraction_completed_at,omitempty"`
	SearchCompletedAt     *time.Time `json:"search_completed_at,omitempty"`
	RankingCompletedAt    *time.Time `json:"ranking_completed_at,omitempty"`
	ReviewCompletedAt     *time.Time `json:"review_completed_at,omitempty"`
	SendCompletedAt       *time.Time `json:"send_completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// Send receipt, populated once the send stage completes.
	SendRecipient string `json:"send_recipient,omitempty"`
	SendCount     int    `json:"send_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageCompletedAt returns the completion timestamp for a stage, or nil.
func (r *PipelineRun) StageCompletedAt(s Stage) *time.Time {
	switch s {
	case StageIngestion:
		return r.IngestionCompletedAt
	case StageExtraction:
		return r.ExtractionCompletedAt
	case StageSearch:
		return r.SearchCompletedAt
	case StageRanking:
		return r.RankingCompletedAt
	case StageReview:
		return r.ReviewCompletedAt
	case StageSend:
		return r.SendCompletedAt
	}
	return nil
}

// SetStageCompletedAt records a stage completion timestamp on the struct.
// Persistence is the store's job; this only mutates the in-memory copy.
func (r *PipelineRun) SetStageCompletedAt(s Stage, t time.Time) {
	switch s {
	case StageIngestion:
		r.IngestionCompletedAt = &t
	case StageExtraction:
		r.ExtractionCompletedAt = &t
	case StageSearch:
		r.SearchCompletedAt = &t
	case StageRanking:
		r.RankingCompletedAt = &t
	case StageReview:
		r.ReviewCompletedAt = &t
	case StageSend:
		r.SendCompletedAt = &t
	}
}

// CanEnter reports whether stage s may begin on this run: the preceding
// stage must be completed (ingestion has no predecessor). Already-completed
// stages are allowed through; callers treat them as idempotent re-entry.
func (r *PipelineRun) CanEnter(s Stage) error {
	prev, ok := s.Prev()
	if !ok {
		return nil
	}
	if r.StageCompletedAt(prev) == nil {
		return fmt.Errorf("stage %s requires %s to be completed first", s, prev)
	}
	return nil
}

// Terminal reports whether the run has finished its lifecycle.
func (r *PipelineRun) Terminal() bool {
	return r.SendCompletedAt != nil
}
