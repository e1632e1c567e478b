package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrow-realty/listings-cli/internal/fault"
	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/ranking"
	"github.com/harrow-realty/listings-cli/internal/scoring"
	"github.com/harrow-realty/listings-cli/internal/store"
)

type stubExtractor struct {
	calls int
	req   *model.Requirement
	err   error
}

func (s *stubExtractor) Extract(_ context.Context, _ string) (*model.Requirement, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.req
	return &cp, nil
}

// stubSearcher is called concurrently by the per-location fan-out, so its
// bookkeeping is mutex-guarded.
type stubSearcher struct {
	mu        sync.Mutex
	calls     int
	locations []string
	listings  map[string][]model.Listing
	errs      map[string]error
}

func (s *stubSearcher) Search(_ context.Context, _ model.Requirement, location string) ([]model.Listing, error) {
	s.mu.Lock()
	s.calls++
	s.locations = append(s.locations, location)
	s.mu.Unlock()
	if err := s.errs[location]; err != nil {
		return nil, err
	}
	return s.listings[location], nil
}

// blockingSearcher parks inside Search until released, so a test can hold a
// run mid-stage.
type blockingSearcher struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSearcher) Search(ctx context.Context, _ model.Requirement, _ string) ([]model.Listing, error) {
	close(s.entered)
	select {
	case <-s.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func defaultRequirement() *model.Requirement {
	budget := 500000.0
	beds := 3
	return &model.Requirement{
		ClientName:  "Dana Whitfield",
		BudgetMax:   &budget,
		MinBeds:     &beds,
		Locations:   []string{"Springfield"},
		NiceToHaves: []string{"garage"},
	}
}

func springfieldListings() []model.Listing {
	price1, price2 := 450000.0, 480000.0
	beds := 3
	return []model.Listing{
		{
			ExternalID:   "z-1",
			Address:      "123 Oak Street, Springfield",
			Price:        &price1,
			Bedrooms:     &beds,
			PropertyType: "house",
			Description:  "Two-car garage and updated kitchen.",
			Neighborhood: "Springfield",
			Source:       "zillow",
		},
		{
			ExternalID:   "z-2",
			Address:      "456 Maple Avenue, Springfield",
			Price:        &price2,
			Bedrooms:     &beds,
			PropertyType: "house",
			Description:  "Quiet street.",
			Neighborhood: "Springfield",
			Source:       "zillow",
		},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "machine_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestMachine(st store.Store, ext Extractor, search Searcher) *Machine {
	scorer := scoring.New(model.DefaultWeights, scoring.NewKeywordMatcher())
	return New(st, ext, search, ranking.New(scorer, 2), 30*time.Second)
}

func seedTranscript(t *testing.T, st store.Store, text string) *model.Transcript {
	t.Helper()
	tr, err := st.CreateTranscript(context.Background(), &model.Transcript{
		RawText:      text,
		UploadMethod: model.UploadMethodPaste,
	})
	require.NoError(t, err)
	return tr
}

func TestRunPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ext := &stubExtractor{req: defaultRequirement()}
	search := &stubSearcher{listings: map[string][]model.Listing{"Springfield": springfieldListings()}}
	m := newTestMachine(st, ext, search)

	tr := seedTranscript(t, st, "Harry: what are you looking for? Dana: three beds in Springfield under 500k.")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	run, err = m.RunPipeline(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, run.Status)
	assert.Equal(t, model.StageReview, run.CurrentStage)
	assert.NotNil(t, run.IngestionCompletedAt)
	assert.NotNil(t, run.ExtractionCompletedAt)
	assert.NotNil(t, run.SearchCompletedAt)
	assert.NotNil(t, run.RankingCompletedAt)
	assert.Nil(t, run.ReviewCompletedAt)

	req, err := st.GetRequirementByTranscript(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dana Whitfield", req.ClientName)

	listings, err := st.ListListingsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	rankings, err := st.ListRankingsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	assert.Equal(t, 1, rankings[0].RankPosition)
	// The garage listing wins on the nice-to-have.
	require.NotNil(t, rankings[0].Listing)
	assert.Equal(t, "z-1", rankings[0].Listing.ExternalID)
}

func TestRunPipeline_ResumesAndSkipsCompletedStages(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ext := &stubExtractor{req: defaultRequirement()}
	search := &stubSearcher{listings: map[string][]model.Listing{"Springfield": springfieldListings()}}
	m := newTestMachine(st, ext, search)

	tr := seedTranscript(t, st, "transcript text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	_, err = m.RunPipeline(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 1, ext.calls)
	require.Equal(t, 1, search.calls)

	// A re-run is a pure no-op: every stage short-circuits.
	_, err = m.RunPipeline(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, 1, search.calls)
}

func TestRunStage_OrderEnforced(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := newTestMachine(st, &stubExtractor{req: defaultRequirement()}, &stubSearcher{})

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageSearch)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindPrecondition))
}

func TestRunStage_OperatorStagesRejected(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := newTestMachine(st, &stubExtractor{req: defaultRequirement()}, &stubSearcher{})

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	for _, stage := range []model.Stage{model.StageReview, model.StageSend} {
		_, err := m.RunStage(ctx, run.ID, stage)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.KindValidation), string(stage))
	}
}

func TestRunStage_EmptyTranscriptFailsIngestion(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := newTestMachine(st, &stubExtractor{req: defaultRequirement()}, &stubSearcher{})

	tr := seedTranscript(t, st, "   \n\t ")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageIngestion)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindValidation))

	run, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "empty")
}

func TestRunSearch_AllLocationsFailedFailsStage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	req := defaultRequirement()
	req.Locations = []string{"Springfield", "Shelbyville"}
	search := &stubSearcher{errs: map[string]error{
		"Springfield": eris.New("503 from provider"),
		"Shelbyville": eris.New("503 from provider"),
	}}
	m := newTestMachine(st, &stubExtractor{req: req}, search)

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageIngestion)
	require.NoError(t, err)
	_, err = m.RunStage(ctx, run.ID, model.StageExtraction)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageSearch)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindExternal))

	// The failure is recorded but earlier completions survive.
	run, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, run.Status)
	assert.Equal(t, model.StageSearch, run.CurrentStage)
	assert.NotNil(t, run.ExtractionCompletedAt)
	assert.Nil(t, run.SearchCompletedAt)
	assert.NotEmpty(t, run.ErrorMessage)
}

func TestRunSearch_PartialLocationFailureCompletes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	req := defaultRequirement()
	req.Locations = []string{"Springfield", "Shelbyville"}
	search := &stubSearcher{
		listings: map[string][]model.Listing{"Springfield": springfieldListings()},
		errs:     map[string]error{"Shelbyville": eris.New("timeout")},
	}
	m := newTestMachine(st, &stubExtractor{req: req}, search)

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	for _, stage := range []model.Stage{model.StageIngestion, model.StageExtraction, model.StageSearch} {
		_, err = m.RunStage(ctx, run.ID, stage)
		require.NoError(t, err)
	}

	listings, err := st.ListListingsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}

func TestRunSearch_DedupesAcrossLocations(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	req := defaultRequirement()
	req.Locations = []string{"Springfield", "Greater Springfield"}
	search := &stubSearcher{listings: map[string][]model.Listing{
		"Springfield":         springfieldListings(),
		"Greater Springfield": springfieldListings(), // same externals again
	}}
	m := newTestMachine(st, &stubExtractor{req: req}, search)

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	for _, stage := range []model.Stage{model.StageIngestion, model.StageExtraction, model.StageSearch} {
		_, err = m.RunStage(ctx, run.ID, stage)
		require.NoError(t, err)
	}

	listings, err := st.ListListingsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}

func TestRunSearch_NoLocationsSearchesBroadly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	req := defaultRequirement()
	req.Locations = nil
	search := &stubSearcher{listings: map[string][]model.Listing{
		"United States": springfieldListings(),
	}}
	m := newTestMachine(st, &stubExtractor{req: req}, search)

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	for _, stage := range []model.Stage{model.StageIngestion, model.StageExtraction, model.StageSearch} {
		_, err = m.RunStage(ctx, run.ID, stage)
		require.NoError(t, err)
	}

	// The fallback is a real searchable term, never an empty location the
	// provider would reject.
	assert.Equal(t, []string{"United States"}, search.locations)

	listings, err := st.ListListingsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}

func TestRunStage_ConcurrentEntryConflicts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	search := &blockingSearcher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newTestMachine(st, &stubExtractor{req: defaultRequirement()}, search)

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageIngestion)
	require.NoError(t, err)
	_, err = m.RunStage(ctx, run.ID, model.StageExtraction)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.RunStage(ctx, run.ID, model.StageSearch)
		done <- err
	}()

	// Once the first call is parked inside the search stage, a second entry
	// for the same run must be refused without touching the store.
	<-search.entered
	_, err = m.RunStage(ctx, run.ID, model.StageSearch)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindConflict))

	close(search.release)
	require.NoError(t, <-done)
}

func TestRunStage_RunLocksPruned(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := newTestMachine(st, &stubExtractor{req: defaultRequirement()}, &stubSearcher{})

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageIngestion)
	require.NoError(t, err)

	m.mu.Lock()
	remaining := len(m.runLocks)
	m.mu.Unlock()
	assert.Zero(t, remaining, "released run locks must not accumulate")
}

func TestRunExtraction_PreservesExistingRequirement(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ext := &stubExtractor{req: defaultRequirement()}
	m := newTestMachine(st, ext, &stubSearcher{})

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	// Harry edited the requirement before extraction ran.
	manual := defaultRequirement()
	manual.TranscriptID = tr.ID
	manual.ClientName = "Edited By Harry"
	_, err = st.UpsertRequirement(ctx, manual)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageIngestion)
	require.NoError(t, err)
	_, err = m.RunStage(ctx, run.ID, model.StageExtraction)
	require.NoError(t, err)

	assert.Equal(t, 0, ext.calls, "extractor must not overwrite an existing requirement")
	req, err := st.GetRequirementByTranscript(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited By Harry", req.ClientName)
}

func TestRunExtraction_ExternalFailureRecorded(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ext := &stubExtractor{err: eris.New("api overloaded")}
	m := newTestMachine(st, ext, &stubSearcher{})

	tr := seedTranscript(t, st, "text")
	run, err := m.StartRun(ctx, tr.ID)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageIngestion)
	require.NoError(t, err)

	_, err = m.RunStage(ctx, run.ID, model.StageExtraction)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindExternal))

	// Failed runs resume: fix the provider and re-run the stage.
	ext.err = nil
	ext.req = defaultRequirement()
	_, err = m.RunStage(ctx, run.ID, model.StageExtraction)
	require.NoError(t, err)
}

func TestStartRun_UnknownTranscript(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := newTestMachine(st, &stubExtractor{req: defaultRequirement()}, &stubSearcher{})

	_, err := m.StartRun(ctx, 9999)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestOfflineSearcher_FiltersByLocation(t *testing.T) {
	s := NewOfflineSearcher()

	all, err := s.Search(context.Background(), model.Requirement{}, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	shelbyville, err := s.Search(context.Background(), model.Requirement{}, "Shelbyville")
	require.NoError(t, err)
	require.Len(t, shelbyville, 1)
	assert.Contains(t, shelbyville[0].Address, "Pine Court")

	// Unmatched locations degrade to the full fixture set.
	unknown, err := s.Search(context.Background(), model.Requirement{}, "Atlantis")
	require.NoError(t, err)
	assert.Len(t, unknown, 3)
}
