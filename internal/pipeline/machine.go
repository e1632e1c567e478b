// Package pipeline drives a transcript through the six-stage matching
// pipeline: ingestion, extraction, search, ranking, review, send. The
// machine executes the first four; review and send are operator decisions
// owned by the review gate.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harrow-realty/listings-cli/internal/fault"
	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/ranking"
	"github.com/harrow-realty/listings-cli/internal/store"
)

// Extractor turns raw transcript text into a structured requirement.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (*model.Requirement, error)
}

// Searcher finds candidate listings for a requirement in one location.
type Searcher interface {
	Search(ctx context.Context, req model.Requirement, location string) ([]model.Listing, error)
}

// Machine executes pipeline stages against the store. Stage execution is
// guarded twice: an in-process per-run mutex stops concurrent calls inside
// one process, and the store's conditional claim stops a second process.
type Machine struct {
	store        store.Store
	extractor    Extractor
	searcher     Searcher
	ranker       *ranking.Ranker
	stageTimeout time.Duration

	mu       sync.Mutex
	runLocks map[int64]*runLock
}

// runLock is reference-counted so the lock map shrinks back as stages
// finish; a long-lived serve process would otherwise grow one mutex per run
// ever executed.
type runLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Machine. stageTimeout bounds each stage execution; zero
// means no timeout.
func New(st store.Store, extractor Extractor, searcher Searcher, ranker *ranking.Ranker, stageTimeout time.Duration) *Machine {
	return &Machine{
		store:        st,
		extractor:    extractor,
		searcher:     searcher,
		ranker:       ranker,
		stageTimeout: stageTimeout,
		runLocks:     make(map[int64]*runLock),
	}
}

// machineStages are the stages the machine itself executes. Review and send
// never run here; they require an operator decision.
var machineStages = map[model.Stage]bool{
	model.StageIngestion:  true,
	model.StageExtraction: true,
	model.StageSearch:     true,
	model.StageRanking:    true,
}

// StartRun creates a new pipeline run for a transcript.
func (m *Machine) StartRun(ctx context.Context, transcriptID int64) (*model.PipelineRun, error) {
	if _, err := m.store.GetTranscript(ctx, transcriptID); err != nil {
		return nil, err
	}
	run, err := m.store.CreateRun(ctx, transcriptID)
	if err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: run created",
		zap.Int64("run_id", run.ID),
		zap.Int64("transcript_id", transcriptID),
	)
	return run, nil
}

// RunStage executes one stage. Re-running a completed stage is a no-op that
// returns the current run. A stage whose predecessor has not completed fails
// the precondition; a stage already executing elsewhere fails with a
// conflict.
func (m *Machine) RunStage(ctx context.Context, runID int64, stage model.Stage) (*model.PipelineRun, error) {
	if !machineStages[stage] {
		return nil, fault.Newf(fault.KindValidation, "stage %s is operator-driven and cannot be executed directly", stage)
	}

	release, ok := m.tryLockRun(runID)
	if !ok {
		return nil, fault.Newf(fault.KindConflict, "run %d is already executing in this process", runID)
	}
	defer release()

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.StageCompletedAt(stage) != nil {
		zap.L().Info("pipeline: stage already completed, skipping",
			zap.Int64("run_id", runID),
			zap.String("stage", string(stage)),
		)
		return run, nil
	}
	if err := run.CanEnter(stage); err != nil {
		return nil, fault.Wrap(fault.KindPrecondition, err, "pipeline: stage order")
	}

	if err := m.store.ClaimStage(ctx, runID, stage); err != nil {
		return nil, err
	}

	execCtx := ctx
	if m.stageTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, m.stageTimeout)
		defer cancel()
	}

	log := zap.L().With(zap.Int64("run_id", runID), zap.String("stage", string(stage)))
	log.Info("pipeline: stage starting")
	start := time.Now()

	if err := m.execute(execCtx, run, stage); err != nil {
		log.Error("pipeline: stage failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		if failErr := m.store.FailStage(ctx, runID, stage, err.Error()); failErr != nil {
			log.Warn("pipeline: could not record stage failure", zap.Error(failErr))
		}
		return nil, err
	}

	if err := m.store.CompleteStage(ctx, runID, stage, time.Now().UTC()); err != nil {
		return nil, err
	}
	log.Info("pipeline: stage completed", zap.Duration("elapsed", time.Since(start)))

	return m.store.GetRun(ctx, runID)
}

// RunPipeline executes ingestion through ranking in order, stopping at the
// first failure. Completed stages are skipped, so it also resumes a failed
// run from where it stopped.
func (m *Machine) RunPipeline(ctx context.Context, runID int64) (*model.PipelineRun, error) {
	var run *model.PipelineRun
	var err error
	for _, stage := range model.Stages() {
		if !machineStages[stage] {
			break
		}
		run, err = m.RunStage(ctx, runID, stage)
		if err != nil {
			return nil, err
		}
	}
	return run, nil
}

// tryLockRun takes the in-process lock for a run without blocking. On
// success the returned release func unlocks and drops the reference; the
// map entry is deleted once the last reference is gone.
func (m *Machine) tryLockRun(runID int64) (func(), bool) {
	m.mu.Lock()
	lock, ok := m.runLocks[runID]
	if !ok {
		lock = &runLock{}
		m.runLocks[runID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	if !lock.mu.TryLock() {
		m.releaseRunLock(runID, lock)
		return nil, false
	}
	return func() {
		lock.mu.Unlock()
		m.releaseRunLock(runID, lock)
	}, true
}

func (m *Machine) releaseRunLock(runID int64, lock *runLock) {
	m.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.runLocks, runID)
	}
	m.mu.Unlock()
}

func (m *Machine) execute(ctx context.Context, run *model.PipelineRun, stage model.Stage) error {
	switch stage {
	case model.StageIngestion:
		return m.runIngestion(ctx, run)
	case model.StageExtraction:
		return m.runExtraction(ctx, run)
	case model.StageSearch:
		return m.runSearch(ctx, run)
	case model.StageRanking:
		return m.runRanking(ctx, run)
	}
	return fault.Newf(fault.KindValidation, "unknown stage %q", stage)
}

// runIngestion verifies the transcript is present and non-empty. Upload
// already persisted it; this stage is the validation checkpoint.
func (m *Machine) runIngestion(ctx context.Context, run *model.PipelineRun) error {
	transcript, err := m.store.GetTranscript(ctx, run.TranscriptID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(transcript.RawText) == "" {
		return fault.Newf(fault.KindValidation, "transcript %d is empty", transcript.ID)
	}
	return nil
}

// runExtraction produces the structured requirement. An existing requirement
// short-circuits the provider call, which keeps re-runs cheap and protects
// manual edits from being overwritten.
func (m *Machine) runExtraction(ctx context.Context, run *model.PipelineRun) error {
	if existing, err := m.store.GetRequirementByTranscript(ctx, run.TranscriptID); err == nil {
		zap.L().Info("pipeline: requirement already extracted",
			zap.Int64("run_id", run.ID),
			zap.Int64("requirement_id", existing.ID),
			zap.Bool("is_edited", existing.IsEdited),
		)
		return nil
	} else if !fault.Is(err, fault.KindNotFound) {
		return err
	}

	transcript, err := m.store.GetTranscript(ctx, run.TranscriptID)
	if err != nil {
		return err
	}

	req, err := m.extractor.Extract(ctx, transcript.RawText)
	if err != nil {
		return fault.Wrap(fault.KindExternal, err, "pipeline: extract requirement")
	}
	req.TranscriptID = transcript.ID
	req.ClientID = transcript.ClientID

	stored, err := m.store.UpsertRequirement(ctx, req)
	if err != nil {
		return err
	}
	zap.L().Info("pipeline: requirement extracted",
		zap.Int64("run_id", run.ID),
		zap.Int64("requirement_id", stored.ID),
		zap.Float64("confidence", stored.ConfidenceScore),
	)
	return nil
}

// broadSearchLocation is the query used when a requirement names no
// locations. The search providers reject an empty location, so the fallback
// has to be a real searchable term.
const broadSearchLocation = "United States"

// runSearch fans out one query per requested location and stores whatever
// comes back. A location that errors is logged and skipped; the stage fails
// only when every location errored. Zero matching listings is a valid
// outcome.
func (m *Machine) runSearch(ctx context.Context, run *model.PipelineRun) error {
	req, err := m.store.GetRequirementByTranscript(ctx, run.TranscriptID)
	if err != nil {
		return err
	}

	locations := req.Locations
	if len(locations) == 0 {
		zap.L().Warn("pipeline: requirement has no locations, searching broadly",
			zap.Int64("run_id", run.ID),
			zap.String("location", broadSearchLocation),
		)
		locations = []string{broadSearchLocation}
	}

	results := make([][]model.Listing, len(locations))
	errs := make([]error, len(locations))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, loc := range locations {
		g.Go(func() error {
			listings, err := m.searcher.Search(gCtx, *req, loc)
			if err != nil {
				zap.L().Warn("pipeline: location search failed",
					zap.Int64("run_id", run.ID),
					zap.String("location", loc),
					zap.Error(err),
				)
				errs[i] = err
				return nil
			}
			results[i] = listings
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	if failed == len(locations) && failed > 0 {
		return fault.Wrap(fault.KindExternal, errs[0], "pipeline: every location search failed")
	}

	merged := mergeListings(results, req.ID)
	stored, err := m.store.ReplaceListings(ctx, run.ID, merged)
	if err != nil {
		return err
	}
	zap.L().Info("pipeline: search completed",
		zap.Int64("run_id", run.ID),
		zap.Int("locations", len(locations)),
		zap.Int("listings", len(stored)),
	)
	return nil
}

// mergeListings flattens per-location result sets, dropping duplicates that
// appear under more than one searched location.
func mergeListings(results [][]model.Listing, requirementID int64) []model.Listing {
	seen := make(map[string]bool)
	var merged []model.Listing
	for _, batch := range results {
		for _, l := range batch {
			if l.ExternalID != "" {
				if seen[l.ExternalID] {
					continue
				}
				seen[l.ExternalID] = true
			}
			l.RequirementID = requirementID
			merged = append(merged, l)
		}
	}
	return merged
}

// runRanking scores the stored listings against the requirement and persists
// the ordered result set.
func (m *Machine) runRanking(ctx context.Context, run *model.PipelineRun) error {
	req, err := m.store.GetRequirementByTranscript(ctx, run.TranscriptID)
	if err != nil {
		return err
	}
	listings, err := m.store.ListListingsByRun(ctx, run.ID)
	if err != nil {
		return err
	}

	ranked := m.ranker.Rank(ctx, *req, listings)
	if _, err := m.store.ReplaceRankings(ctx, run.ID, ranked); err != nil {
		return err
	}
	zap.L().Info("pipeline: ranking completed",
		zap.Int64("run_id", run.ID),
		zap.Int("ranked", len(ranked)),
	)
	return nil
}
