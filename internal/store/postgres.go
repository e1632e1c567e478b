package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harrow-realty/listings-cli/internal/db"
	"github.com/harrow-realty/listings-cli/internal/fault"
	"github.com/harrow-realty/listings-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS transcripts (
	id            BIGSERIAL PRIMARY KEY,
	client_id     BIGINT,
	filename      TEXT,
	raw_text      TEXT NOT NULL,
	upload_method TEXT NOT NULL DEFAULT 'file',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                      BIGSERIAL PRIMARY KEY,
	transcript_id           BIGINT NOT NULL REFERENCES transcripts(id),
	current_stage           TEXT NOT NULL DEFAULT 'ingestion',
	status                  TEXT NOT NULL DEFAULT 'pending',
	ingestion_completed_at  TIMESTAMPTZ,
	extraction_completed_at TIMESTAMPTZ,
	search_completed_at     TIMESTAMPTZ,
	ranking_completed_at    TIMESTAMPTZ,
	review_completed_at     TIMESTAMPTZ,
	send_completed_at       TIMESTAMPTZ,
	error_message           TEXT,
	send_recipient          TEXT,
	send_count              INTEGER NOT NULL DEFAULT 0,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS requirements (
	id                 BIGSERIAL PRIMARY KEY,
	transcript_id      BIGINT NOT NULL UNIQUE REFERENCES transcripts(id),
	client_id          BIGINT,
	client_name        TEXT,
	budget_max         DOUBLE PRECISION,
	locations          JSONB NOT NULL DEFAULT '[]',
	must_haves         JSONB NOT NULL DEFAULT '[]',
	nice_to_haves      JSONB NOT NULL DEFAULT '[]',
	property_type      TEXT,
	min_beds           INTEGER,
	min_baths          DOUBLE PRECISION,
	min_sqft           INTEGER,
	school_requirement TEXT,
	timeline           TEXT,
	financing_type     TEXT,
	confidence_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	llm_provider       TEXT,
	llm_model          TEXT,
	is_edited          BOOLEAN NOT NULL DEFAULT false,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS listings (
	id              BIGSERIAL PRIMARY KEY,
	external_id     TEXT,
	pipeline_run_id BIGINT NOT NULL REFERENCES pipeline_runs(id),
	requirement_id  BIGINT NOT NULL,
	address         TEXT,
	price           DOUBLE PRECISION,
	bedrooms        INTEGER,
	bathrooms       DOUBLE PRECISION,
	sqft            INTEGER,
	property_type   TEXT,
	description     TEXT,
	neighborhood    TEXT,
	year_built      INTEGER,
	days_on_market  INTEGER,
	listing_url     TEXT,
	image_url       TEXT,
	source          TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rankings (
	id                 BIGSERIAL PRIMARY KEY,
	pipeline_run_id    BIGINT NOT NULL REFERENCES pipeline_runs(id),
	listing_id         BIGINT NOT NULL REFERENCES listings(id),
	requirement_id     BIGINT NOT NULL,
	overall_score      DOUBLE PRECISION NOT NULL,
	must_have_pass     BOOLEAN NOT NULL DEFAULT false,
	nice_to_have_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	rank_position      INTEGER NOT NULL,
	breakdown          JSONB NOT NULL,
	approved           BOOLEAN,
	sent_to_client     BOOLEAN NOT NULL DEFAULT false,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_stage ON pipeline_runs(current_stage);
CREATE INDEX IF NOT EXISTS idx_runs_transcript ON pipeline_runs(transcript_id);
CREATE INDEX IF NOT EXISTS idx_listings_run ON listings(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_rankings_run ON rankings(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_rankings_run_position ON rankings(pipeline_run_id, rank_position);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Transcripts

func (s *PostgresStore) CreateTranscript(ctx context.Context, t *model.Transcript) (*model.Transcript, error) {
	now := time.Now().UTC()
	method := t.UploadMethod
	if method == "" {
		method = model.UploadMethodFile
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO transcripts (client_id, filename, raw_text, upload_method, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		t.ClientID, t.Filename, t.RawText, method, now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert transcript")
	}

	out := *t
	out.ID = id
	out.UploadMethod = method
	out.CreatedAt = now
	return &out, nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, id int64) (*model.Transcript, error) {
	var t model.Transcript
	var filename *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, filename, raw_text, upload_method, created_at
		 FROM transcripts WHERE id = $1`, id,
	).Scan(&t.ID, &t.ClientID, &filename, &t.RawText, &t.UploadMethod, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "transcript not found: %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get transcript %d", id)
	}
	if filename != nil {
		t.Filename = *filename
	}
	return &t, nil
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, transcriptID int64) (*model.PipelineRun, error) {
	now := time.Now().UTC()

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO pipeline_runs (transcript_id, current_stage, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		transcriptID, string(model.StageIngestion), string(model.StatusPending), now, now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for transcript %d", transcriptID)
	}

	return &model.PipelineRun{
		ID:           id,
		TranscriptID: transcriptID,
		CurrentStage: model.StageIngestion,
		Status:       model.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id,
	)
	r, err := scanRunPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "run not found: %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get run %d", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Stage != "" {
		query += fmt.Sprintf(` AND current_stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRunPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ClaimStage(ctx context.Context, runID int64, stage model.Stage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET current_stage = $1, status = $2, error_message = NULL, updated_at = $3
		 WHERE id = $4 AND status IN ($5, $6, $7)`,
		string(stage), string(model.StatusInProgress), time.Now().UTC(), runID,
		string(model.StatusPending), string(model.StatusFailed), string(model.StatusCompleted),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: claim stage %s for run %d", stage, runID)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM pipeline_runs WHERE id = $1`, runID,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Newf(fault.KindNotFound, "run not found: %d", runID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: check run %d", runID)
		}
		return fault.Newf(fault.KindConflict, "run %d is already in progress", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteStage(ctx context.Context, runID int64, stage model.Stage, at time.Time) error {
	col, ok := stageColumns[stage]
	if !ok {
		return fault.Newf(fault.KindValidation, "unknown stage %q", stage)
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE pipeline_runs
		 SET %s = $1, status = $2, current_stage = $3, updated_at = $4
		 WHERE id = $5`, col),
		at.UTC(), string(model.StatusCompleted), string(stage.Next()), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete stage %s for run %d", stage, runID)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.KindNotFound, "run not found: %d", runID)
	}
	return nil
}

func (s *PostgresStore) FailStage(ctx context.Context, runID int64, stage model.Stage, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $1, current_stage = $2, error_message = $3, updated_at = $4
		 WHERE id = $5`,
		string(model.StatusFailed), string(stage), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail stage %s for run %d", stage, runID)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.KindNotFound, "run not found: %d", runID)
	}
	return nil
}

func (s *PostgresStore) RecordSendReceipt(ctx context.Context, runID int64, recipient string, count int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET send_recipient = $1, send_count = $2, updated_at = $3
		 WHERE id = $4`,
		recipient, count, at.UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record send receipt for run %d", runID)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.KindNotFound, "run not found: %d", runID)
	}
	return nil
}

// Requirements

func (s *PostgresStore) UpsertRequirement(ctx context.Context, r *model.Requirement) (*model.Requirement, error) {
	now := time.Now().UTC()

	locations, err := marshalStrings(r.Locations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal locations")
	}
	mustHaves, err := marshalStrings(r.MustHaves)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal must haves")
	}
	niceToHaves, err := marshalStrings(r.NiceToHaves)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal nice to haves")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO requirements
		 (transcript_id, client_id, client_name, budget_max, locations, must_haves,
		  nice_to_haves, property_type, min_beds, min_baths, min_sqft,
		  school_requirement, timeline, financing_type, confidence_score,
		  llm_provider, llm_model, is_edited, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, false, $18, $19)
		 ON CONFLICT (transcript_id) DO UPDATE SET
		   client_id = excluded.client_id,
		   client_name = excluded.client_name,
		   budget_max = excluded.budget_max,
		   locations = excluded.locations,
		   must_haves = excluded.must_haves,
		   nice_to_haves = excluded.nice_to_haves,
		   property_type = excluded.property_type,
		   min_beds = excluded.min_beds,
		   min_baths = excluded.min_baths,
		   min_sqft = excluded.min_sqft,
		   school_requirement = excluded.school_requirement,
		   timeline = excluded.timeline,
		   financing_type = excluded.financing_type,
		   confidence_score = excluded.confidence_score,
		   llm_provider = excluded.llm_provider,
		   llm_model = excluded.llm_model,
		   is_edited = false,
		   updated_at = excluded.updated_at
		 RETURNING id`,
		r.TranscriptID, r.ClientID, r.ClientName, r.BudgetMax, locations, mustHaves,
		niceToHaves, r.PropertyType, r.MinBeds, r.MinBaths, r.MinSqft,
		r.SchoolRequirement, r.Timeline, r.FinancingType, r.ConfidenceScore,
		r.LLMProvider, r.LLMModel, now, now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert requirement for transcript %d", r.TranscriptID)
	}

	return s.GetRequirement(ctx, id)
}

func (s *PostgresStore) GetRequirement(ctx context.Context, id int64) (*model.Requirement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE id = $1`, id,
	)
	r, err := scanRequirementPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "requirement not found: %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get requirement %d", id)
	}
	return r, nil
}

func (s *PostgresStore) GetRequirementByTranscript(ctx context.Context, transcriptID int64) (*model.Requirement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE transcript_id = $1`, transcriptID,
	)
	r, err := scanRequirementPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.KindNotFound, "requirement not found for transcript: %d", transcriptID)
		}
		return nil, eris.Wrapf(err, "postgres: get requirement by transcript %d", transcriptID)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRequirement(ctx context.Context, id int64, update RequirementUpdate) (*model.Requirement, error) {
	existing, err := s.GetRequirement(ctx, id)
	if err != nil {
		return nil, err
	}
	applyRequirementUpdate(existing, update)

	locations, err := marshalStrings(existing.Locations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal locations")
	}
	mustHaves, err := marshalStrings(existing.MustHaves)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal must haves")
	}
	niceToHaves, err := marshalStrings(existing.NiceToHaves)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal nice to haves")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE requirements SET
		   client_name = $1, budget_max = $2, locations = $3, must_haves = $4,
		   nice_to_haves = $5, property_type = $6, min_beds = $7, min_baths = $8,
		   min_sqft = $9, school_requirement = $10, timeline = $11, financing_type = $12,
		   is_edited = true, updated_at = $13
		 WHERE id = $14`,
		existing.ClientName, existing.BudgetMax, locations, mustHaves,
		niceToHaves, existing.PropertyType, existing.MinBeds, existing.MinBaths,
		existing.MinSqft, existing.SchoolRequirement, existing.Timeline, existing.FinancingType,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update requirement %d", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, fault.Newf(fault.KindNotFound, "requirement not found: %d", id)
	}
	return s.GetRequirement(ctx, id)
}

// Listings

var listingCopyColumns = []string{
	"external_id", "pipeline_run_id", "requirement_id", "address", "price",
	"bedrooms", "bathrooms", "sqft", "property_type", "description",
	"neighborhood", "year_built", "days_on_market", "listing_url", "image_url",
	"source", "created_at",
}

func (s *PostgresStore) ReplaceListings(ctx context.Context, runID int64, listings []model.Listing) ([]model.Listing, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin replace listings")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Rankings reference listings, so they go first.
	if _, err := tx.Exec(ctx, `DELETE FROM rankings WHERE pipeline_run_id = $1`, runID); err != nil {
		return nil, eris.Wrapf(err, "postgres: clear rankings for run %d", runID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM listings WHERE pipeline_run_id = $1`, runID); err != nil {
		return nil, eris.Wrapf(err, "postgres: clear listings for run %d", runID)
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []any{
			l.ExternalID, runID, l.RequirementID, l.Address, l.Price,
			l.Bedrooms, l.Bathrooms, l.Sqft, l.PropertyType, l.Description,
			l.Neighborhood, l.YearBuilt, l.DaysOnMarket, l.ListingURL, l.ImageURL,
			l.Source, now,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "listings", listingCopyColumns, rows); err != nil {
		return nil, eris.Wrapf(err, "postgres: copy listings for run %d", runID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit replace listings")
	}
	return s.ListListingsByRun(ctx, runID)
}

func (s *PostgresStore) ListListingsByRun(ctx context.Context, runID int64) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE pipeline_run_id = $1 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list listings for run %d", runID)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: list listings iterate")
}

// Rankings

func (s *PostgresStore) ReplaceRankings(ctx context.Context, runID int64, rankings []model.RankedListing) ([]model.RankedListing, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rankings WHERE pipeline_run_id = $1`, runID); err != nil {
		return nil, eris.Wrapf(err, "postgres: clear rankings for run %d", runID)
	}

	now := time.Now().UTC()
	for _, rl := range rankings {
		breakdown, err := json.Marshal(rl.Breakdown)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal breakdown")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO rankings
			 (pipeline_run_id, listing_id, requirement_id, overall_score, must_have_pass,
			  nice_to_have_score, rank_position, breakdown, approved, sent_to_client, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, false, $9)`,
			runID, rl.ListingID, rl.RequirementID, rl.OverallScore, rl.MustHavePass,
			rl.NiceToHaveScore, rl.RankPosition, breakdown, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert ranking for run %d", runID)
		}
	}

	return s.ListRankingsByRun(ctx, runID)
}

func (s *PostgresStore) ListRankingsByRun(ctx context.Context, runID int64) ([]model.RankedListing, error) {
	return s.queryRankings(ctx,
		rankingSelect+` WHERE r.pipeline_run_id = $1 ORDER BY r.rank_position ASC`,
		runID,
	)
}

func (s *PostgresStore) ListApprovedRankings(ctx context.Context, runID int64) ([]model.RankedListing, error) {
	return s.queryRankings(ctx,
		rankingSelect+` WHERE r.pipeline_run_id = $1 AND r.approved = true ORDER BY r.rank_position ASC`,
		runID,
	)
}

func (s *PostgresStore) queryRankings(ctx context.Context, query string, args ...any) ([]model.RankedListing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query rankings")
	}
	defer rows.Close()

	var out []model.RankedListing
	for rows.Next() {
		rl, err := scanRankingPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ranking")
		}
		out = append(out, *rl)
	}
	return out, eris.Wrap(rows.Err(), "postgres: rankings iterate")
}

func (s *PostgresStore) SetApproval(ctx context.Context, runID, rankingID int64, approved bool) (*model.RankedListing, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rankings SET approved = $1 WHERE id = $2 AND pipeline_run_id = $3`,
		approved, rankingID, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: set approval %d", rankingID)
	}
	if tag.RowsAffected() == 0 {
		return nil, fault.Newf(fault.KindNotFound, "ranking not found: %d", rankingID)
	}

	rankings, err := s.queryRankings(ctx, rankingSelect+` WHERE r.id = $1`, rankingID)
	if err != nil {
		return nil, err
	}
	if len(rankings) == 0 {
		return nil, fault.Newf(fault.KindNotFound, "ranking not found: %d", rankingID)
	}
	return &rankings[0], nil
}

func (s *PostgresStore) MarkRankingsSent(ctx context.Context, runID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rankings SET sent_to_client = true WHERE pipeline_run_id = $1 AND approved = true`,
		runID,
	)
	return eris.Wrapf(err, "postgres: mark rankings sent for run %d", runID)
}

// pgx scan helpers. pgx maps SQL NULL onto pointer targets directly, so the
// database/sql Null* buffers the sqlite side uses are unnecessary here.

func scanRunPg(row pgx.Row) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var errMsg, recipient *string

	err := row.Scan(
		&r.ID, &r.TranscriptID, &r.CurrentStage, &r.Status,
		&r.IngestionCompletedAt, &r.ExtractionCompletedAt, &r.SearchCompletedAt,
		&r.RankingCompletedAt, &r.ReviewCompletedAt, &r.SendCompletedAt,
		&errMsg, &recipient, &r.SendCount, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	if recipient != nil {
		r.SendRecipient = *recipient
	}
	return &r, nil
}

func scanRequirementPg(row pgx.Row) (*model.Requirement, error) {
	var r model.Requirement
	var clientName, propertyType, school, timeline, financing *string
	var provider, llmModel *string
	var locations, mustHaves, niceToHaves []byte

	err := row.Scan(
		&r.ID, &r.TranscriptID, &r.ClientID, &clientName, &r.BudgetMax,
		&locations, &mustHaves, &niceToHaves, &propertyType, &r.MinBeds, &r.MinBaths,
		&r.MinSqft, &school, &timeline, &financing, &r.ConfidenceScore,
		&provider, &llmModel, &r.IsEdited, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if clientName != nil {
		r.ClientName = *clientName
	}
	if propertyType != nil {
		r.PropertyType = *propertyType
	}
	if school != nil {
		r.SchoolRequirement = *school
	}
	if timeline != nil {
		r.Timeline = *timeline
	}
	if financing != nil {
		r.FinancingType = *financing
	}
	if provider != nil {
		r.LLMProvider = *provider
	}
	if llmModel != nil {
		r.LLMModel = *llmModel
	}
	if r.Locations, err = unmarshalStrings(string(locations)); err != nil {
		return nil, eris.Wrap(err, "unmarshal locations")
	}
	if r.MustHaves, err = unmarshalStrings(string(mustHaves)); err != nil {
		return nil, eris.Wrap(err, "unmarshal must haves")
	}
	if r.NiceToHaves, err = unmarshalStrings(string(niceToHaves)); err != nil {
		return nil, eris.Wrap(err, "unmarshal nice to haves")
	}
	return &r, nil
}

func scanListingDestPg(l *model.Listing, ext, addr, ptype, desc, hood, url, img, src **string) []any {
	return []any{
		&l.ID, ext, &l.PipelineRunID, &l.RequirementID, addr,
		&l.Price, &l.Bedrooms, &l.Bathrooms, &l.Sqft, ptype,
		desc, hood, &l.YearBuilt, &l.DaysOnMarket,
		url, img, src, &l.CreatedAt,
	}
}

func applyListingStringsPg(l *model.Listing, ext, addr, ptype, desc, hood, url, img, src *string) {
	if ext != nil {
		l.ExternalID = *ext
	}
	if addr != nil {
		l.Address = *addr
	}
	if ptype != nil {
		l.PropertyType = *ptype
	}
	if desc != nil {
		l.Description = *desc
	}
	if hood != nil {
		l.Neighborhood = *hood
	}
	if url != nil {
		l.ListingURL = *url
	}
	if img != nil {
		l.ImageURL = *img
	}
	if src != nil {
		l.Source = *src
	}
}

func scanRankingPg(row pgx.Row) (*model.RankedListing, error) {
	var rl model.RankedListing
	var breakdown []byte
	var l model.Listing
	var ext, addr, ptype, desc, hood, url, img, src *string

	dest := []any{
		&rl.ID, &rl.PipelineRunID, &rl.ListingID, &rl.RequirementID, &rl.OverallScore,
		&rl.MustHavePass, &rl.NiceToHaveScore, &rl.RankPosition, &breakdown,
		&rl.ApprovedByHarry, &rl.SentToClient, &rl.CreatedAt,
	}
	dest = append(dest, scanListingDestPg(&l, &ext, &addr, &ptype, &desc, &hood, &url, &img, &src)...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	applyListingStringsPg(&l, ext, addr, ptype, desc, hood, url, img, src)

	if err := json.Unmarshal(breakdown, &rl.Breakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal breakdown")
	}
	rl.Listing = &l
	return &rl, nil
}
