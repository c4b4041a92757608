package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hirelens/calibration-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local
// development and single-operator deployments; the bulk outcome path
// degrades to a transactional row loop since there is no COPY protocol.
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS assessments (
	id                  TEXT PRIMARY KEY,
	version             TEXT NOT NULL,
	language            TEXT NOT NULL,
	position_code       TEXT NOT NULL,
	industry_code       TEXT NOT NULL DEFAULT '',
	raw_final_score     REAL NOT NULL,
	raw_decision        TEXT NOT NULL,
	competency_scores   TEXT,
	risk_flags          TEXT,
	calibration_version TEXT,
	policy_version      TEXT,
	z_score             REAL,
	calibrated_score    REAL,
	policy_code         TEXT,
	final_decision      TEXT,
	decision_reason     TEXT,
	completed_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_dims ON assessments(version, language, position_code, industry_code);
CREATE INDEX IF NOT EXISTS idx_assessments_completed_at ON assessments(completed_at DESC);

CREATE TABLE IF NOT EXISTS baseline_stats (
	version       TEXT NOT NULL,
	language      TEXT NOT NULL DEFAULT '',
	position_code TEXT NOT NULL DEFAULT '',
	industry_code TEXT NOT NULL DEFAULT '',
	mean          REAL NOT NULL,
	stddev        REAL NOT NULL,
	n             INTEGER NOT NULL,
	window_days   INTEGER NOT NULL,
	computed_at   DATETIME NOT NULL,
	PRIMARY KEY (version, language, position_code, industry_code)
);

CREATE TABLE IF NOT EXISTS outcomes (
	assessment_id      TEXT PRIMARY KEY,
	hired              BOOLEAN,
	started            BOOLEAN,
	still_employed_30d BOOLEAN,
	still_employed_90d BOOLEAN,
	performance_rating INTEGER,
	incident_flag      BOOLEAN NOT NULL DEFAULT 0,
	outcome_source     TEXT,
	recorded_at        DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertAssessment(ctx context.Context, a *model.Assessment) error {
	competencyJSON, err := json.Marshal(a.CompetencyScores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal competency scores")
	}
	flagsJSON, err := json.Marshal(a.RiskFlags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal risk flags")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, version, language, position_code, industry_code, raw_final_score, raw_decision,
		   competency_scores, risk_flags, calibration_version, policy_version, z_score, calibrated_score,
		   policy_code, final_decision, decision_reason, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Dimensions.Version, a.Dimensions.Language, a.Dimensions.PositionCode, a.Dimensions.IndustryCode,
		a.RawFinalScore, string(a.RawDecision), string(competencyJSON), string(flagsJSON),
		a.CalibrationVersion, a.PolicyVersion, a.ZScore, a.CalibratedScore,
		a.PolicyCode, string(a.FinalDecision), a.DecisionReason, a.CompletedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert assessment %s", a.ID)
}

const sqliteAssessmentColumns = `id, version, language, position_code, industry_code, raw_final_score, raw_decision,
	competency_scores, risk_flags, calibration_version, policy_version, z_score, calibrated_score,
	policy_code, final_decision, decision_reason, completed_at`

func (s *SQLiteStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAssessmentColumns+` FROM assessments WHERE id = ?`, id)
	a, err := scanSQLiteAssessment(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get assessment %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, filter AssessmentFilter) ([]model.Assessment, error) {
	query := `SELECT ` + sqliteAssessmentColumns + ` FROM assessments WHERE 1=1`
	query, args := appendSQLiteDimFilters(query, nil, filter, "")
	query += ` ORDER BY completed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assessments")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanSQLiteAssessment(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assessment")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assessments iterate")
}

func (s *SQLiteStore) ListUncalibrated(ctx context.Context, after Cursor, limit int) ([]model.Assessment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteAssessmentColumns+` FROM assessments
		 WHERE calibrated_score IS NULL
		   AND (completed_at > ? OR (completed_at = ? AND id > ?))
		 ORDER BY completed_at ASC, id ASC LIMIT ?`,
		after.CompletedAt.UTC(), after.CompletedAt.UTC(), after.ID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list uncalibrated")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanSQLiteAssessment(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan uncalibrated")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list uncalibrated iterate")
}

func (s *SQLiteStore) SetCalibration(ctx context.Context, id string, zScore, calibrated float64, version string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessments SET z_score = ?, calibrated_score = ?, calibration_version = ?
		 WHERE id = ? AND calibrated_score IS NULL`,
		zScore, calibrated, version, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set calibration %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ClearCalibration(ctx context.Context, filter AssessmentFilter) (int, error) {
	query := `UPDATE assessments SET z_score = NULL, calibrated_score = NULL WHERE calibrated_score IS NOT NULL`
	query, args := appendSQLiteDimFilters(query, nil, filter, "")

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear calibration")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) SampleScores(ctx context.Context, dims model.Dimensions, since time.Time, maxN int) ([]float64, error) {
	query := `SELECT raw_final_score FROM assessments WHERE completed_at >= ?`
	args := []any{since.UTC()}
	query, args = appendSQLiteDimFilters(query, args, AssessmentFilter{Dims: dims}, "")
	query += ` ORDER BY completed_at DESC`
	if maxN > 0 {
		query += ` LIMIT ?`
		args = append(args, maxN)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: sample scores")
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		scores = append(scores, v)
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: sample scores iterate")
}

func (s *SQLiteStore) ListDimensionTuples(ctx context.Context, since time.Time) ([]model.Dimensions, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT version, language, position_code, industry_code
		 FROM assessments WHERE completed_at >= ?`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dimension tuples")
	}
	defer rows.Close()

	var dims []model.Dimensions
	for rows.Next() {
		var d model.Dimensions
		if err := rows.Scan(&d.Version, &d.Language, &d.PositionCode, &d.IndustryCode); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dimension tuple")
		}
		dims = append(dims, d)
	}
	return dims, eris.Wrap(rows.Err(), "sqlite: list dimension tuples iterate")
}

func (s *SQLiteStore) UpsertBaseline(ctx context.Context, stat *model.BaselineStat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO baseline_stats (version, language, position_code, industry_code, mean, stddev, n, window_days, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (version, language, position_code, industry_code)
		 DO UPDATE SET mean = excluded.mean, stddev = excluded.stddev, n = excluded.n,
		   window_days = excluded.window_days, computed_at = excluded.computed_at`,
		stat.Dimensions.Version, stat.Dimensions.Language, stat.Dimensions.PositionCode, stat.Dimensions.IndustryCode,
		stat.Mean, stat.StdDev, stat.N, stat.WindowDays, stat.ComputedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert baseline %s", stat.Dimensions.Key())
}

func (s *SQLiteStore) GetBaseline(ctx context.Context, dims model.Dimensions) (*model.BaselineStat, error) {
	var b model.BaselineStat
	err := s.db.QueryRowContext(ctx,
		`SELECT version, language, position_code, industry_code, mean, stddev, n, window_days, computed_at
		 FROM baseline_stats WHERE version = ? AND language = ? AND position_code = ? AND industry_code = ?`,
		dims.Version, dims.Language, dims.PositionCode, dims.IndustryCode,
	).Scan(&b.Dimensions.Version, &b.Dimensions.Language, &b.Dimensions.PositionCode, &b.Dimensions.IndustryCode,
		&b.Mean, &b.StdDev, &b.N, &b.WindowDays, &b.ComputedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get baseline %s", dims.Key())
	}
	return &b, nil
}

func (s *SQLiteStore) UpsertOutcome(ctx context.Context, o *model.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (assessment_id, hired, started, still_employed_30d, still_employed_90d,
		                       performance_rating, incident_flag, outcome_source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (assessment_id) DO UPDATE SET
		   hired = excluded.hired, started = excluded.started,
		   still_employed_30d = excluded.still_employed_30d, still_employed_90d = excluded.still_employed_90d,
		   performance_rating = excluded.performance_rating, incident_flag = excluded.incident_flag,
		   outcome_source = excluded.outcome_source, recorded_at = excluded.recorded_at`,
		o.AssessmentID, o.Hired, o.Started, o.StillEmployed30d, o.StillEmployed90d,
		o.PerformanceRating, o.IncidentFlag, o.OutcomeSource, o.RecordedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert outcome %s", o.AssessmentID)
}

func (s *SQLiteStore) BulkUpsertOutcomes(ctx context.Context, outcomes []model.Outcome) (int64, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	var n int64
	for i := range outcomes {
		o := &outcomes[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outcomes (assessment_id, hired, started, still_employed_30d, still_employed_90d,
			                       performance_rating, incident_flag, outcome_source, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (assessment_id) DO UPDATE SET
			   hired = excluded.hired, started = excluded.started,
			   still_employed_30d = excluded.still_employed_30d, still_employed_90d = excluded.still_employed_90d,
			   performance_rating = excluded.performance_rating, incident_flag = excluded.incident_flag,
			   outcome_source = excluded.outcome_source, recorded_at = excluded.recorded_at`,
			o.AssessmentID, o.Hired, o.Started, o.StillEmployed30d, o.StillEmployed90d,
			o.PerformanceRating, o.IncidentFlag, o.OutcomeSource, o.RecordedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: bulk upsert outcome %s", o.AssessmentID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return n, nil
}

func (s *SQLiteStore) GetOutcome(ctx context.Context, assessmentID string) (*model.Outcome, error) {
	var o model.Outcome
	var source sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT assessment_id, hired, started, still_employed_30d, still_employed_90d,
		        performance_rating, incident_flag, outcome_source, recorded_at
		 FROM outcomes WHERE assessment_id = ?`, assessmentID,
	).Scan(&o.AssessmentID, &o.Hired, &o.Started, &o.StillEmployed30d, &o.StillEmployed90d,
		&o.PerformanceRating, &o.IncidentFlag, &source, &o.RecordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get outcome %s", assessmentID)
	}
	o.OutcomeSource = source.String
	return &o, nil
}

func (s *SQLiteStore) ListDecisionOutcomes(ctx context.Context, filter AssessmentFilter) ([]model.DecisionOutcome, error) {
	query := `SELECT a.id, a.version, a.language, a.position_code, a.industry_code, a.raw_final_score, a.raw_decision,
		a.competency_scores, a.risk_flags, a.calibration_version, a.policy_version, a.z_score, a.calibrated_score,
		a.policy_code, a.final_decision, a.decision_reason, a.completed_at,
		o.assessment_id, o.hired, o.started, o.still_employed_30d, o.still_employed_90d,
		o.performance_rating, o.incident_flag, o.outcome_source, o.recorded_at
	 FROM assessments a
	 LEFT JOIN outcomes o ON o.assessment_id = a.id
	 WHERE 1=1`
	query, args := appendSQLiteDimFilters(query, nil, filter, "a.")
	query += ` ORDER BY a.completed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decision outcomes")
	}
	defer rows.Close()

	var out []model.DecisionOutcome
	for rows.Next() {
		do, err := scanSQLiteDecisionOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision outcome")
		}
		out = append(out, *do)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decision outcomes iterate")
}

func appendSQLiteDimFilters(query string, args []any, filter AssessmentFilter, prefix string) (string, []any) {
	add := func(col string, val any) {
		query += fmt.Sprintf(` AND %s%s = ?`, prefix, col)
		args = append(args, val)
	}

	if filter.Dims.Version != "" {
		add("version", filter.Dims.Version)
	}
	if filter.Dims.Language != "" {
		add("language", filter.Dims.Language)
	}
	if filter.Dims.PositionCode != "" {
		add("position_code", filter.Dims.PositionCode)
	}
	if filter.Dims.IndustryCode != "" {
		add("industry_code", filter.Dims.IndustryCode)
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND %scompleted_at >= ?`, prefix)
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(` AND %scompleted_at < ?`, prefix)
		args = append(args, filter.Until.UTC())
	}
	return query, args
}

func scanSQLiteAssessment(scan func(dest ...any) error) (*model.Assessment, error) {
	var a model.Assessment
	var competencyJSON, flagsJSON sql.NullString
	var calVersion, polVersion, polCode, finalDecision, reason sql.NullString

	err := scan(
		&a.ID, &a.Dimensions.Version, &a.Dimensions.Language, &a.Dimensions.PositionCode, &a.Dimensions.IndustryCode,
		&a.RawFinalScore, &a.RawDecision, &competencyJSON, &flagsJSON,
		&calVersion, &polVersion, &a.ZScore, &a.CalibratedScore,
		&polCode, &finalDecision, &reason, &a.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if competencyJSON.Valid && competencyJSON.String != "" && competencyJSON.String != "null" {
		if err := json.Unmarshal([]byte(competencyJSON.String), &a.CompetencyScores); err != nil {
			return nil, eris.Wrap(err, "unmarshal competency scores")
		}
	}
	if flagsJSON.Valid && flagsJSON.String != "" && flagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &a.RiskFlags); err != nil {
			return nil, eris.Wrap(err, "unmarshal risk flags")
		}
	}
	a.CalibrationVersion = calVersion.String
	a.PolicyVersion = polVersion.String
	a.PolicyCode = polCode.String
	a.FinalDecision = model.Decision(finalDecision.String)
	a.DecisionReason = reason.String
	return &a, nil
}

func scanSQLiteDecisionOutcome(rows *sql.Rows) (*model.DecisionOutcome, error) {
	var a model.Assessment
	var competencyJSON, flagsJSON sql.NullString
	var calVersion, polVersion, polCode, finalDecision, reason sql.NullString

	var outcomeID, source sql.NullString
	var hired, started, e30, e90 sql.NullBool
	var rating sql.NullInt64
	var incident sql.NullBool
	var recordedAt sql.NullTime

	err := rows.Scan(
		&a.ID, &a.Dimensions.Version, &a.Dimensions.Language, &a.Dimensions.PositionCode, &a.Dimensions.IndustryCode,
		&a.RawFinalScore, &a.RawDecision, &competencyJSON, &flagsJSON,
		&calVersion, &polVersion, &a.ZScore, &a.CalibratedScore,
		&polCode, &finalDecision, &reason, &a.CompletedAt,
		&outcomeID, &hired, &started, &e30, &e90, &rating, &incident, &source, &recordedAt,
	)
	if err != nil {
		return nil, err
	}

	if competencyJSON.Valid && competencyJSON.String != "" && competencyJSON.String != "null" {
		if err := json.Unmarshal([]byte(competencyJSON.String), &a.CompetencyScores); err != nil {
			return nil, eris.Wrap(err, "unmarshal competency scores")
		}
	}
	if flagsJSON.Valid && flagsJSON.String != "" && flagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &a.RiskFlags); err != nil {
			return nil, eris.Wrap(err, "unmarshal risk flags")
		}
	}
	a.CalibrationVersion = calVersion.String
	a.PolicyVersion = polVersion.String
	a.PolicyCode = polCode.String
	a.FinalDecision = model.Decision(finalDecision.String)
	a.DecisionReason = reason.String

	do := &model.DecisionOutcome{Assessment: a}
	if outcomeID.Valid {
		o := &model.Outcome{
			AssessmentID:  outcomeID.String,
			IncidentFlag:  incident.Valid && incident.Bool,
			OutcomeSource: source.String,
		}
		if hired.Valid {
			o.Hired = &hired.Bool
		}
		if started.Valid {
			o.Started = &started.Bool
		}
		if e30.Valid {
			o.StillEmployed30d = &e30.Bool
		}
		if e90.Valid {
			o.StillEmployed90d = &e90.Bool
		}
		if rating.Valid {
			r := int(rating.Int64)
			o.PerformanceRating = &r
		}
		if recordedAt.Valid {
			o.RecordedAt = recordedAt.Time
		}
		do.Outcome = o
	}
	return do, nil
}
