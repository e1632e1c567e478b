package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harrow-realty/listings-cli/internal/fault"
	"github.com/harrow-realty/listings-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS transcripts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id     INTEGER,
	filename      TEXT,
	raw_text      TEXT NOT NULL,
	upload_method TEXT NOT NULL DEFAULT 'file',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id           INTEGER NOT NULL REFERENCES transcripts(id),
	current_stage           TEXT NOT NULL DEFAULT 'ingestion',
	status                  TEXT NOT NULL DEFAULT 'pending',
	ingestion_completed_at  DATETIME,
	extraction_completed_at DATETIME,
	search_completed_at     DATETIME,
	ranking_completed_at    DATETIME,
	review_completed_at     DATETIME,
	send_completed_at       DATETIME,
	error_message           TEXT,
	send_recipient          TEXT,
	send_count              INTEGER NOT NULL DEFAULT 0,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS requirements (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id      INTEGER NOT NULL UNIQUE REFERENCES transcripts(id),
	client_id          INTEGER,
	client_name        TEXT,
	budget_max         REAL,
	locations          TEXT NOT NULL DEFAULT '[]',
	must_haves         TEXT NOT NULL DEFAULT '[]',
	nice_to_haves      TEXT NOT NULL DEFAULT '[]',
	property_type      TEXT,
	min_beds           INTEGER,
	min_baths          REAL,
	min_sqft           INTEGER,
	school_requirement TEXT,
	timeline           TEXT,
	financing_type     TEXT,
	confidence_score   REAL NOT NULL DEFAULT 0,
	llm_provider       TEXT,
	llm_model          TEXT,
	is_edited          INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS listings (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id     TEXT,
	pipeline_run_id INTEGER NOT NULL REFERENCES pipeline_runs(id),
	requirement_id  INTEGER NOT NULL,
	address         TEXT,
	price           REAL,
	bedrooms        INTEGER,
	bathrooms       REAL,
	sqft            INTEGER,
	property_type   TEXT,
	description     TEXT,
	neighborhood    TEXT,
	year_built      INTEGER,
	days_on_market  INTEGER,
	listing_url     TEXT,
	image_url       TEXT,
	source          TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rankings (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	pipeline_run_id    INTEGER NOT NULL REFERENCES pipeline_runs(id),
	listing_id         INTEGER NOT NULL REFERENCES listings(id),
	requirement_id     INTEGER NOT NULL,
	overall_score      REAL NOT NULL,
	must_have_pass     INTEGER NOT NULL DEFAULT 0,
	nice_to_have_score REAL NOT NULL DEFAULT 0,
	rank_position      INTEGER NOT NULL,
	breakdown          TEXT NOT NULL,
	approved           INTEGER,
	sent_to_client     INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_stage ON pipeline_runs(current_stage);
CREATE INDEX IF NOT EXISTS idx_runs_transcript ON pipeline_runs(transcript_id);
CREATE INDEX IF NOT EXISTS idx_listings_run ON listings(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_rankings_run ON rankings(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_rankings_run_position ON rankings(pipeline_run_id, rank_position);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// stageColumns maps each stage to its completion timestamp column. Used to
// build UPDATE statements; stages outside this map never reach SQL.
var stageColumns = map[model.Stage]string{
	model.StageIngestion:  "ingestion_completed_at",
	model.StageExtraction: "extraction_completed_at",
	model.StageSearch:     "search_completed_at",
	model.StageRanking:    "ranking_completed_at",
	model.StageReview:     "review_completed_at",
	model.StageSend:       "send_completed_at",
}

// Transcripts

func (s *SQLiteStore) CreateTranscript(ctx context.Context, t *model.Transcript) (*model.Transcript, error) {
	now := time.Now().UTC()
	method := t.UploadMethod
	if method == "" {
		method = model.UploadMethodFile
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (client_id, filename, raw_text, upload_method, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ClientID, t.Filename, t.RawText, method, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert transcript")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: transcript id")
	}

	out := *t
	out.ID = id
	out.UploadMethod = method
	out.CreatedAt = now
	return &out, nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, id int64) (*model.Transcript, error) {
	var t model.Transcript
	var clientID sql.NullInt64
	var filename sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, filename, raw_text, upload_method, created_at
		 FROM transcripts WHERE id = ?`, id,
	).Scan(&t.ID, &clientID, &filename, &t.RawText, &t.UploadMethod, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "transcript not found: %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get transcript %d", id)
	}
	if clientID.Valid {
		t.ClientID = &clientID.Int64
	}
	t.Filename = filename.String
	return &t, nil
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, transcriptID int64) (*model.PipelineRun, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (transcript_id, current_stage, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		transcriptID, string(model.StageIngestion), string(model.StatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for transcript %d", transcriptID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: run id")
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

const runColumns = `id, transcript_id, current_stage, status,
	ingestion_completed_at, extraction_completed_at, search_completed_at,
	ranking_completed_at, review_completed_at, send_completed_at,
	error_message, send_recipient, send_count, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "run not found: %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Stage != "" {
		query += ` AND current_stage = ?`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ClaimStage(ctx context.Context, runID int64, stage model.Stage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET current_stage = ?, status = ?, error_message = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		string(stage), string(model.StatusInProgress), time.Now().UTC(), runID,
		string(model.StatusPending), string(model.StatusFailed), string(model.StatusCompleted),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: claim stage %s for run %d", stage, runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Either the run does not exist or another worker holds it.
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM pipeline_runs WHERE id = ?`, runID,
		).Scan(&status)
		if err == sql.ErrNoRows {
			return fault.Newf(fault.KindNotFound, "run not found: %d", runID)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: check run %d", runID)
		}
		return fault.Newf(fault.KindConflict, "run %d is already in progress", runID)
	}
	return nil
}

func (s *SQLiteStore) CompleteStage(ctx context.Context, runID int64, stage model.Stage, at time.Time) error {
	col, ok := stageColumns[stage]
	if !ok {
		return fault.Newf(fault.KindValidation, "unknown stage %q", stage)
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE pipeline_runs
		 SET %s = ?, status = ?, current_stage = ?, updated_at = ?
		 WHERE id = ?`, col),
		at.UTC(), string(model.StatusCompleted), string(stage.Next()), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete stage %s for run %d", stage, runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailStage(ctx context.Context, runID int64, stage model.Stage, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, current_stage = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.StatusFailed), string(stage), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail stage %s for run %d", stage, runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) RecordSendReceipt(ctx context.Context, runID int64, recipient string, count int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET send_recipient = ?, send_count = ?, updated_at = ?
		 WHERE id = ?`,
		recipient, count, at.UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record send receipt for run %d", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// Requirements

const requirementColumns = `id, transcript_id, client_id, client_name, budget_max,
	locations, must_haves, nice_to_haves, property_type, min_beds, min_baths,
	min_sqft, school_requirement, timeline, financing_type, confidence_score,
	llm_provider, llm_model, is_edited, created_at, updated_at`

func (s *SQLiteStore) UpsertRequirement(ctx context.Context, r *model.Requirement) (*model.Requirement, error) {
	now := time.Now().UTC()

	locations, err := marshalStrings(r.Locations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal locations")
	}
	mustHaves, err := marshalStrings(r.MustHaves)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal must haves")
	}
	niceToHaves, err := marshalStrings(r.NiceToHaves)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal nice to haves")
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO requirements
		 (transcript_id, client_id, client_name, budget_max, locations, must_haves,
		  nice_to_haves, property_type, min_beds, min_baths, min_sqft,
		  school_requirement, timeline, financing_type, confidence_score,
		  llm_provider, llm_model, is_edited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
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
		   is_edited = 0,
		   updated_at = excluded.updated_at
		 RETURNING id`,
		r.TranscriptID, r.ClientID, r.ClientName, r.BudgetMax, locations, mustHaves,
		niceToHaves, r.PropertyType, r.MinBeds, r.MinBaths, r.MinSqft,
		r.SchoolRequirement, r.Timeline, r.FinancingType, r.ConfidenceScore,
		r.LLMProvider, r.LLMModel, now, now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert requirement for transcript %d", r.TranscriptID)
	}

	return s.GetRequirement(ctx, id)
}

func (s *SQLiteStore) GetRequirement(ctx context.Context, id int64) (*model.Requirement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE id = ?`, id,
	)
	r, err := scanRequirement(row)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "requirement not found: %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get requirement %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) GetRequirementByTranscript(ctx context.Context, transcriptID int64) (*model.Requirement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE transcript_id = ?`, transcriptID,
	)
	r, err := scanRequirement(row)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "requirement not found for transcript: %d", transcriptID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get requirement by transcript %d", transcriptID)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRequirement(ctx context.Context, id int64, update RequirementUpdate) (*model.Requirement, error) {
	existing, err := s.GetRequirement(ctx, id)
	if err != nil {
		return nil, err
	}
	applyRequirementUpdate(existing, update)

	locations, err := marshalStrings(existing.Locations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal locations")
	}
	mustHaves, err := marshalStrings(existing.MustHaves)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal must haves")
	}
	niceToHaves, err := marshalStrings(existing.NiceToHaves)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal nice to haves")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE requirements SET
		   client_name = ?, budget_max = ?, locations = ?, must_haves = ?,
		   nice_to_haves = ?, property_type = ?, min_beds = ?, min_baths = ?,
		   min_sqft = ?, school_requirement = ?, timeline = ?, financing_type = ?,
		   is_edited = 1, updated_at = ?
		 WHERE id = ?`,
		existing.ClientName, existing.BudgetMax, locations, mustHaves,
		niceToHaves, existing.PropertyType, existing.MinBeds, existing.MinBaths,
		existing.MinSqft, existing.SchoolRequirement, existing.Timeline, existing.FinancingType,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update requirement %d", id)
	}
	if err := checkRowsAffected(res, "requirement", id); err != nil {
		return nil, err
	}
	return s.GetRequirement(ctx, id)
}

// Listings

const listingColumns = `id, external_id, pipeline_run_id, requirement_id, address,
	price, bedrooms, bathrooms, sqft, property_type, description, neighborhood,
	year_built, days_on_market, listing_url, image_url, source, created_at`

func (s *SQLiteStore) ReplaceListings(ctx context.Context, runID int64, listings []model.Listing) ([]model.Listing, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin replace listings")
	}
	defer tx.Rollback()

	// Rankings reference listings, so they go first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM rankings WHERE pipeline_run_id = ?`, runID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: clear rankings for run %d", runID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE pipeline_run_id = ?`, runID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: clear listings for run %d", runID)
	}

	now := time.Now().UTC()
	out := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO listings
			 (external_id, pipeline_run_id, requirement_id, address, price, bedrooms,
			  bathrooms, sqft, property_type, description, neighborhood, year_built,
			  days_on_market, listing_url, image_url, source, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ExternalID, runID, l.RequirementID, l.Address, l.Price, l.Bedrooms,
			l.Bathrooms, l.Sqft, l.PropertyType, l.Description, l.Neighborhood, l.YearBuilt,
			l.DaysOnMarket, l.ListingURL, l.ImageURL, l.Source, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert listing for run %d", runID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: listing id")
		}
		stored := l
		stored.ID = id
		stored.PipelineRunID = runID
		stored.CreatedAt = now
		out = append(out, stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit replace listings")
	}
	return out, nil
}

func (s *SQLiteStore) ListListingsByRun(ctx context.Context, runID int64) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE pipeline_run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list listings for run %d", runID)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: list listings iterate")
}

// Rankings

func (s *SQLiteStore) ReplaceRankings(ctx context.Context, runID int64, rankings []model.RankedListing) ([]model.RankedListing, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin replace rankings")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rankings WHERE pipeline_run_id = ?`, runID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: clear rankings for run %d", runID)
	}

	now := time.Now().UTC()
	out := make([]model.RankedListing, 0, len(rankings))
	for _, rl := range rankings {
		breakdown, err := json.Marshal(rl.Breakdown)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal breakdown")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO rankings
			 (pipeline_run_id, listing_id, requirement_id, overall_score, must_have_pass,
			  nice_to_have_score, rank_position, breakdown, approved, sent_to_client, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, ?)`,
			runID, rl.ListingID, rl.RequirementID, rl.OverallScore, boolToInt(rl.MustHavePass),
			rl.NiceToHaveScore, rl.RankPosition, string(breakdown), now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert ranking for run %d", runID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: ranking id")
		}
		stored := rl
		stored.ID = id
		stored.PipelineRunID = runID
		stored.ApprovedByHarry = nil
		stored.SentToClient = false
		stored.CreatedAt = now
		out = append(out, stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit replace rankings")
	}
	return out, nil
}

const rankingSelect = `SELECT
	r.id, r.pipeline_run_id, r.listing_id, r.requirement_id, r.overall_score,
	r.must_have_pass, r.nice_to_have_score, r.rank_position, r.breakdown,
	r.approved, r.sent_to_client, r.created_at,
	l.id, l.external_id, l.pipeline_run_id, l.requirement_id, l.address,
	l.price, l.bedrooms, l.bathrooms, l.sqft, l.property_type, l.description,
	l.neighborhood, l.year_built, l.days_on_market, l.listing_url, l.image_url,
	l.source, l.created_at
 FROM rankings r
 JOIN listings l ON l.id = r.listing_id`

func (s *SQLiteStore) ListRankingsByRun(ctx context.Context, runID int64) ([]model.RankedListing, error) {
	return s.queryRankings(ctx,
		rankingSelect+` WHERE r.pipeline_run_id = ? ORDER BY r.rank_position ASC`,
		runID,
	)
}

func (s *SQLiteStore) ListApprovedRankings(ctx context.Context, runID int64) ([]model.RankedListing, error) {
	return s.queryRankings(ctx,
		rankingSelect+` WHERE r.pipeline_run_id = ? AND r.approved = 1 ORDER BY r.rank_position ASC`,
		runID,
	)
}

func (s *SQLiteStore) queryRankings(ctx context.Context, query string, args ...any) ([]model.RankedListing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query rankings")
	}
	defer rows.Close()

	var out []model.RankedListing
	for rows.Next() {
		rl, err := scanRanking(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ranking")
		}
		out = append(out, *rl)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: rankings iterate")
}

func (s *SQLiteStore) SetApproval(ctx context.Context, runID, rankingID int64, approved bool) (*model.RankedListing, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rankings SET approved = ? WHERE id = ? AND pipeline_run_id = ?`,
		boolToInt(approved), rankingID, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: set approval %d", rankingID)
	}
	if err := checkRowsAffected(res, "ranking", rankingID); err != nil {
		return nil, err
	}

	rankings, err := s.queryRankings(ctx, rankingSelect+` WHERE r.id = ?`, rankingID)
	if err != nil {
		return nil, err
	}
	if len(rankings) == 0 {
		return nil, fault.Newf(fault.KindNotFound, "ranking not found: %d", rankingID)
	}
	return &rankings[0], nil
}

func (s *SQLiteStore) MarkRankingsSent(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rankings SET sent_to_client = 1 WHERE pipeline_run_id = ? AND approved = 1`,
		runID,
	)
	return eris.Wrapf(err, "sqlite: mark rankings sent for run %d", runID)
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return fault.Newf(fault.KindNotFound, "%s not found: %d", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func applyRequirementUpdate(r *model.Requirement, update RequirementUpdate) {
	if update.ClientName != nil {
		r.ClientName = *update.ClientName
	}
	if update.BudgetMax != nil {
		r.BudgetMax = update.BudgetMax
	}
	if update.Locations != nil {
		r.Locations = *update.Locations
	}
	if update.MustHaves != nil {
		r.MustHaves = *update.MustHaves
	}
	if update.NiceToHaves != nil {
		r.NiceToHaves = *update.NiceToHaves
	}
	if update.PropertyType != nil {
		r.PropertyType = *update.PropertyType
	}
	if update.MinBeds != nil {
		r.MinBeds = update.MinBeds
	}
	if update.MinBaths != nil {
		r.MinBaths = update.MinBaths
	}
	if update.MinSqft != nil {
		r.MinSqft = update.MinSqft
	}
	if update.SchoolRequirement != nil {
		r.SchoolRequirement = *update.SchoolRequirement
	}
	if update.Timeline != nil {
		r.Timeline = *update.Timeline
	}
	if update.FinancingType != nil {
		r.FinancingType = *update.FinancingType
	}
	r.IsEdited = true
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var ingestion, extraction, search, ranking, review, send sql.NullTime
	var errMsg, recipient sql.NullString

	err := row.Scan(
		&r.ID, &r.TranscriptID, &r.CurrentStage, &r.Status,
		&ingestion, &extraction, &search, &ranking, &review, &send,
		&errMsg, &recipient, &r.SendCount, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ingestion.Valid {
		r.IngestionCompletedAt = &ingestion.Time
	}
	if extraction.Valid {
		r.ExtractionCompletedAt = &extraction.Time
	}
	if search.Valid {
		r.SearchCompletedAt = &search.Time
	}
	if ranking.Valid {
		r.RankingCompletedAt = &ranking.Time
	}
	if review.Valid {
		r.ReviewCompletedAt = &review.Time
	}
	if send.Valid {
		r.SendCompletedAt = &send.Time
	}
	r.ErrorMessage = errMsg.String
	r.SendRecipient = recipient.String
	return &r, nil
}

func scanRequirement(row scannable) (*model.Requirement, error) {
	var r model.Requirement
	var clientID sql.NullInt64
	var clientName, propertyType, school, timeline, financing sql.NullString
	var provider, llmModel sql.NullString
	var budget, minBaths sql.NullFloat64
	var minBeds, minSqft sql.NullInt64
	var locations, mustHaves, niceToHaves string
	var isEdited int

	err := row.Scan(
		&r.ID, &r.TranscriptID, &clientID, &clientName, &budget,
		&locations, &mustHaves, &niceToHaves, &propertyType, &minBeds, &minBaths,
		&minSqft, &school, &timeline, &financing, &r.ConfidenceScore,
		&provider, &llmModel, &isEdited, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if clientID.Valid {
		r.ClientID = &clientID.Int64
	}
	r.ClientName = clientName.String
	if budget.Valid {
		r.BudgetMax = &budget.Float64
	}
	if r.Locations, err = unmarshalStrings(locations); err != nil {
		return nil, eris.Wrap(err, "unmarshal locations")
	}
	if r.MustHaves, err = unmarshalStrings(mustHaves); err != nil {
		return nil, eris.Wrap(err, "unmarshal must haves")
	}
	if r.NiceToHaves, err = unmarshalStrings(niceToHaves); err != nil {
		return nil, eris.Wrap(err, "unmarshal nice to haves")
	}
	r.PropertyType = propertyType.String
	if minBeds.Valid {
		v := int(minBeds.Int64)
		r.MinBeds = &v
	}
	if minBaths.Valid {
		r.MinBaths = &minBaths.Float64
	}
	if minSqft.Valid {
		v := int(minSqft.Int64)
		r.MinSqft = &v
	}
	r.SchoolRequirement = school.String
	r.Timeline = timeline.String
	r.FinancingType = financing.String
	r.LLMProvider = provider.String
	r.LLMModel = llmModel.String
	r.IsEdited = isEdited != 0
	return &r, nil
}

// listingScanBuf holds nullable column targets matching listingColumns
// order. apply copies the scanned values onto the model.
type listingScanBuf struct {
	externalID, address, propertyType, description, neighborhood sql.NullString
	listingURL, imageURL, source                                 sql.NullString
	price, bathrooms                                             sql.NullFloat64
	bedrooms, sqft, yearBuilt, daysOnMarket                      sql.NullInt64
}

func (b *listingScanBuf) dest(l *model.Listing) []any {
	return []any{
		&l.ID, &b.externalID, &l.PipelineRunID, &l.RequirementID, &b.address,
		&b.price, &b.bedrooms, &b.bathrooms, &b.sqft, &b.propertyType,
		&b.description, &b.neighborhood, &b.yearBuilt, &b.daysOnMarket,
		&b.listingURL, &b.imageURL, &b.source, &l.CreatedAt,
	}
}

func (b *listingScanBuf) apply(l *model.Listing) {
	l.ExternalID = b.externalID.String
	l.Address = b.address.String
	l.PropertyType = b.propertyType.String
	l.Description = b.description.String
	l.Neighborhood = b.neighborhood.String
	l.ListingURL = b.listingURL.String
	l.ImageURL = b.imageURL.String
	l.Source = b.source.String
	if b.price.Valid {
		l.Price = &b.price.Float64
	}
	if b.bathrooms.Valid {
		l.Bathrooms = &b.bathrooms.Float64
	}
	if b.bedrooms.Valid {
		v := int(b.bedrooms.Int64)
		l.Bedrooms = &v
	}
	if b.sqft.Valid {
		v := int(b.sqft.Int64)
		l.Sqft = &v
	}
	if b.yearBuilt.Valid {
		v := int(b.yearBuilt.Int64)
		l.YearBuilt = &v
	}
	if b.daysOnMarket.Valid {
		v := int(b.daysOnMarket.Int64)
		l.DaysOnMarket = &v
	}
}

func scanListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	var buf listingScanBuf
	if err := row.Scan(buf.dest(&l)...); err != nil {
		return nil, err
	}
	buf.apply(&l)
	return &l, nil
}

func scanRanking(row scannable) (*model.RankedListing, error) {
	var rl model.RankedListing
	var mustHavePass, sentToClient int
	var approved sql.NullInt64
	var breakdown string
	var l model.Listing
	var buf listingScanBuf

	dest := []any{
		&rl.ID, &rl.PipelineRunID, &rl.ListingID, &rl.RequirementID, &rl.OverallScore,
		&mustHavePass, &rl.NiceToHaveScore, &rl.RankPosition, &breakdown,
		&approved, &sentToClient, &rl.CreatedAt,
	}
	dest = append(dest, buf.dest(&l)...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	buf.apply(&l)

	rl.MustHavePass = mustHavePass != 0
	rl.SentToClient = sentToClient != 0
	if approved.Valid {
		v := approved.Int64 != 0
		rl.ApprovedByHarry = &v
	}
	if err := json.Unmarshal([]byte(breakdown), &rl.Breakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal breakdown")
	}
	rl.Listing = &l
	return &rl, nil
}
