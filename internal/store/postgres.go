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

	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/db"
	"github.com/hirelens/calibration-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_baseline": `SELECT version, language, position_code, industry_code, mean, stddev, n, window_days, computed_at
	                 FROM baseline_stats WHERE version = $1 AND language = $2 AND position_code = $3 AND industry_code = $4`,
	"set_calibration": `UPDATE assessments SET z_score = $1, calibrated_score = $2, calibration_version = $3
	                    WHERE id = $4 AND calibrated_score IS NULL`,
	"get_outcome": `SELECT assessment_id, hired, started, still_employed_30d, still_employed_90d, performance_rating, incident_flag, outcome_source, recorded_at
	                FROM outcomes WHERE assessment_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg config.PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg.MaxConns > 0 {
		maxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		minConns = poolCfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk outcome import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS assessments (
	id                  TEXT PRIMARY KEY,
	version             TEXT NOT NULL,
	language            TEXT NOT NULL,
	position_code       TEXT NOT NULL,
	industry_code       TEXT NOT NULL DEFAULT '',
	raw_final_score     DOUBLE PRECISION NOT NULL,
	raw_decision        TEXT NOT NULL,
	competency_scores   JSONB,
	risk_flags          JSONB,
	calibration_version TEXT,
	policy_version      TEXT,
	z_score             DOUBLE PRECISION,
	calibrated_score    DOUBLE PRECISION,
	policy_code         TEXT,
	final_decision      TEXT,
	decision_reason     TEXT,
	completed_at        TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_assessments_dims ON assessments(version, language, position_code, industry_code);
CREATE INDEX IF NOT EXISTS idx_assessments_completed_at ON assessments(completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_assessments_uncalibrated ON assessments(completed_at) WHERE calibrated_score IS NULL;

CREATE TABLE IF NOT EXISTS baseline_stats (
	version       TEXT NOT NULL,
	language      TEXT NOT NULL DEFAULT '',
	position_code TEXT NOT NULL DEFAULT '',
	industry_code TEXT NOT NULL DEFAULT '',
	mean          DOUBLE PRECISION NOT NULL,
	stddev        DOUBLE PRECISION NOT NULL,
	n             INTEGER NOT NULL,
	window_days   INTEGER NOT NULL,
	computed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (version, language, position_code, industry_code)
);

CREATE TABLE IF NOT EXISTS outcomes (
	assessment_id      TEXT PRIMARY KEY,
	hired              BOOLEAN,
	started            BOOLEAN,
	still_employed_30d BOOLEAN,
	still_employed_90d BOOLEAN,
	performance_rating SMALLINT,
	incident_flag      BOOLEAN NOT NULL DEFAULT false,
	outcome_source     TEXT,
	recorded_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const assessmentColumns = `id, version, language, position_code, industry_code, raw_final_score, raw_decision,
	competency_scores, risk_flags, calibration_version, policy_version, z_score, calibrated_score,
	policy_code, final_decision, decision_reason, completed_at`

func (s *PostgresStore) InsertAssessment(ctx context.Context, a *model.Assessment) error {
	competencyJSON, err := json.Marshal(a.CompetencyScores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal competency scores")
	}
	flagsJSON, err := json.Marshal(a.RiskFlags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal risk flags")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO assessments (`+assessmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.Dimensions.Version, a.Dimensions.Language, a.Dimensions.PositionCode, a.Dimensions.IndustryCode,
		a.RawFinalScore, string(a.RawDecision), competencyJSON, flagsJSON,
		nullable(a.CalibrationVersion), nullable(a.PolicyVersion), a.ZScore, a.CalibratedScore,
		nullable(a.PolicyCode), nullable(string(a.FinalDecision)), nullable(a.DecisionReason), a.CompletedAt,
	)
	return eris.Wrapf(err, "postgres: insert assessment %s", a.ID)
}

func (s *PostgresStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id)

	a, err := scanAssessment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get assessment %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAssessments(ctx context.Context, filter AssessmentFilter) ([]model.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE true`
	query, args := appendDimFilters(query, nil, filter, "")
	query += ` ORDER BY completed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assessments")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan assessment")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assessments iterate")
}

func (s *PostgresStore) ListUncalibrated(ctx context.Context, after Cursor, limit int) ([]model.Assessment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments
		 WHERE calibrated_score IS NULL
		   AND (completed_at, id) > ($1, $2)
		 ORDER BY completed_at ASC, id ASC LIMIT $3`,
		after.CompletedAt.UTC(), after.ID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list uncalibrated")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan uncalibrated")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list uncalibrated iterate")
}

func (s *PostgresStore) SetCalibration(ctx context.Context, id string, zScore, calibrated float64, version string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assessments SET z_score = $1, calibrated_score = $2, calibration_version = $3
		 WHERE id = $4 AND calibrated_score IS NULL`,
		zScore, calibrated, version, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set calibration %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ClearCalibration(ctx context.Context, filter AssessmentFilter) (int, error) {
	query := `UPDATE assessments SET z_score = NULL, calibrated_score = NULL WHERE calibrated_score IS NOT NULL`
	query, args := appendDimFilters(query, nil, filter, "")

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear calibration")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SampleScores(ctx context.Context, dims model.Dimensions, since time.Time, maxN int) ([]float64, error) {
	query := `SELECT raw_final_score FROM assessments WHERE completed_at >= $1`
	args := []any{since}
	query, args = appendDimFilters(query, args, AssessmentFilter{Dims: dims}, "")
	query += ` ORDER BY completed_at DESC`
	if maxN > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, maxN)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: sample scores")
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		scores = append(scores, v)
	}
	return scores, eris.Wrap(rows.Err(), "postgres: sample scores iterate")
}

func (s *PostgresStore) ListDimensionTuples(ctx context.Context, since time.Time) ([]model.Dimensions, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT version, language, position_code, industry_code
		 FROM assessments WHERE completed_at >= $1`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dimension tuples")
	}
	defer rows.Close()

	var dims []model.Dimensions
	for rows.Next() {
		var d model.Dimensions
		if err := rows.Scan(&d.Version, &d.Language, &d.PositionCode, &d.IndustryCode); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dimension tuple")
		}
		dims = append(dims, d)
	}
	return dims, eris.Wrap(rows.Err(), "postgres: list dimension tuples iterate")
}

func (s *PostgresStore) UpsertBaseline(ctx context.Context, stat *model.BaselineStat) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO baseline_stats (version, language, position_code, industry_code, mean, stddev, n, window_days, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (version, language, position_code, industry_code)
		 DO UPDATE SET mean = $5, stddev = $6, n = $7, window_days = $8, computed_at = $9`,
		stat.Dimensions.Version, stat.Dimensions.Language, stat.Dimensions.PositionCode, stat.Dimensions.IndustryCode,
		stat.Mean, stat.StdDev, stat.N, stat.WindowDays, stat.ComputedAt,
	)
	return eris.Wrapf(err, "postgres: upsert baseline %s", stat.Dimensions.Key())
}

func (s *PostgresStore) GetBaseline(ctx context.Context, dims model.Dimensions) (*model.BaselineStat, error) {
	var b model.BaselineStat
	err := s.pool.QueryRow(ctx,
		`SELECT version, language, position_code, industry_code, mean, stddev, n, window_days, computed_at
		 FROM baseline_stats WHERE version = $1 AND language = $2 AND position_code = $3 AND industry_code = $4`,
		dims.Version, dims.Language, dims.PositionCode, dims.IndustryCode,
	).Scan(&b.Dimensions.Version, &b.Dimensions.Language, &b.Dimensions.PositionCode, &b.Dimensions.IndustryCode,
		&b.Mean, &b.StdDev, &b.N, &b.WindowDays, &b.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get baseline %s", dims.Key())
	}
	return &b, nil
}

// outcomeColumns is shared by UpsertOutcome and BulkUpsertOutcomes so the
// single-row and COPY paths stay in sync.
var outcomeColumns = []string{
	"assessment_id", "hired", "started", "still_employed_30d", "still_employed_90d",
	"performance_rating", "incident_flag", "outcome_source", "recorded_at",
}

func (s *PostgresStore) UpsertOutcome(ctx context.Context, o *model.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outcomes (assessment_id, hired, started, still_employed_30d, still_employed_90d,
		                       performance_rating, incident_flag, outcome_source, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (assessment_id) DO UPDATE SET
		   hired = $2, started = $3, still_employed_30d = $4, still_employed_90d = $5,
		   performance_rating = $6, incident_flag = $7, outcome_source = $8, recorded_at = $9`,
		o.AssessmentID, o.Hired, o.Started, o.StillEmployed30d, o.StillEmployed90d,
		o.PerformanceRating, o.IncidentFlag, nullable(o.OutcomeSource), o.RecordedAt,
	)
	return eris.Wrapf(err, "postgres: upsert outcome %s", o.AssessmentID)
}

func (s *PostgresStore) BulkUpsertOutcomes(ctx context.Context, outcomes []model.Outcome) (int64, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(outcomes))
	for i := range outcomes {
		o := &outcomes[i]
		rows = append(rows, []any{
			o.AssessmentID, o.Hired, o.Started, o.StillEmployed30d, o.StillEmployed90d,
			o.PerformanceRating, o.IncidentFlag, nullable(o.OutcomeSource), o.RecordedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "outcomes",
		Columns:      outcomeColumns,
		ConflictKeys: []string{"assessment_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: bulk upsert outcomes")
}

func (s *PostgresStore) GetOutcome(ctx context.Context, assessmentID string) (*model.Outcome, error) {
	var o model.Outcome
	var source *string
	err := s.pool.QueryRow(ctx,
		`SELECT assessment_id, hired, started, still_employed_30d, still_employed_90d,
		        performance_rating, incident_flag, outcome_source, recorded_at
		 FROM outcomes WHERE assessment_id = $1`, assessmentID,
	).Scan(&o.AssessmentID, &o.Hired, &o.Started, &o.StillEmployed30d, &o.StillEmployed90d,
		&o.PerformanceRating, &o.IncidentFlag, &source, &o.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get outcome %s", assessmentID)
	}
	if source != nil {
		o.OutcomeSource = *source
	}
	return &o, nil
}

func (s *PostgresStore) ListDecisionOutcomes(ctx context.Context, filter AssessmentFilter) ([]model.DecisionOutcome, error) {
	query := `SELECT a.id, a.version, a.language, a.position_code, a.industry_code, a.raw_final_score, a.raw_decision,
		a.competency_scores, a.risk_flags, a.calibration_version, a.policy_version, a.z_score, a.calibrated_score,
		a.policy_code, a.final_decision, a.decision_reason, a.completed_at,
		o.assessment_id, o.hired, o.started, o.still_employed_30d, o.still_employed_90d,
		o.performance_rating, o.incident_flag, o.outcome_source, o.recorded_at
	 FROM assessments a
	 LEFT JOIN outcomes o ON o.assessment_id = a.id
	 WHERE true`
	query, args := appendDimFilters(query, nil, filter, "a.")
	query += ` ORDER BY a.completed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decision outcomes")
	}
	defer rows.Close()

	var out []model.DecisionOutcome
	for rows.Next() {
		do, err := scanDecisionOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision outcome")
		}
		out = append(out, *do)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decision outcomes iterate")
}

// appendDimFilters adds dimension and window conditions to a query. The
// prefix qualifies column names when the query joins tables.
func appendDimFilters(query string, args []any, filter AssessmentFilter, prefix string) (string, []any) {
	add := func(col string, val any) {
		query += fmt.Sprintf(` AND %s%s = $%d`, prefix, col, len(args)+1)
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
		query += fmt.Sprintf(` AND %scompleted_at >= $%d`, prefix, len(args)+1)
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(` AND %scompleted_at < $%d`, prefix, len(args)+1)
		args = append(args, filter.Until)
	}
	return query, args
}

// scanAssessment reads one assessment row from either pgx.Row or pgx.Rows.
func scanAssessment(row pgx.Row) (*model.Assessment, error) {
	var a model.Assessment
	var competencyJSON, flagsJSON []byte
	var calVersion, polVersion, polCode, finalDecision, reason *string

	err := row.Scan(
		&a.ID, &a.Dimensions.Version, &a.Dimensions.Language, &a.Dimensions.PositionCode, &a.Dimensions.IndustryCode,
		&a.RawFinalScore, &a.RawDecision, &competencyJSON, &flagsJSON,
		&calVersion, &polVersion, &a.ZScore, &a.CalibratedScore,
		&polCode, &finalDecision, &reason, &a.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(competencyJSON) > 0 {
		if err := json.Unmarshal(competencyJSON, &a.CompetencyScores); err != nil {
			return nil, eris.Wrap(err, "unmarshal competency scores")
		}
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &a.RiskFlags); err != nil {
			return nil, eris.Wrap(err, "unmarshal risk flags")
		}
	}
	if calVersion != nil {
		a.CalibrationVersion = *calVersion
	}
	if polVersion != nil {
		a.PolicyVersion = *polVersion
	}
	if polCode != nil {
		a.PolicyCode = *polCode
	}
	if finalDecision != nil {
		a.FinalDecision = model.Decision(*finalDecision)
	}
	if reason != nil {
		a.DecisionReason = *reason
	}
	return &a, nil
}

// scanDecisionOutcome reads one left-joined assessment+outcome row.
func scanDecisionOutcome(row pgx.Row) (*model.DecisionOutcome, error) {
	var a model.Assessment
	var competencyJSON, flagsJSON []byte
	var calVersion, polVersion, polCode, finalDecision, reason *string

	var outcomeID, source *string
	var hired, started, e30, e90 *bool
	var rating *int
	var incident *bool
	var recordedAt *time.Time

	err := row.Scan(
		&a.ID, &a.Dimensions.Version, &a.Dimensions.Language, &a.Dimensions.PositionCode, &a.Dimensions.IndustryCode,
		&a.RawFinalScore, &a.RawDecision, &competencyJSON, &flagsJSON,
		&calVersion, &polVersion, &a.ZScore, &a.CalibratedScore,
		&polCode, &finalDecision, &reason, &a.CompletedAt,
		&outcomeID, &hired, &started, &e30, &e90, &rating, &incident, &source, &recordedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(competencyJSON) > 0 {
		if err := json.Unmarshal(competencyJSON, &a.CompetencyScores); err != nil {
			return nil, eris.Wrap(err, "unmarshal competency scores")
		}
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &a.RiskFlags); err != nil {
			return nil, eris.Wrap(err, "unmarshal risk flags")
		}
	}
	if calVersion != nil {
		a.CalibrationVersion = *calVersion
	}
	if polVersion != nil {
		a.PolicyVersion = *polVersion
	}
	if polCode != nil {
		a.PolicyCode = *polCode
	}
	if finalDecision != nil {
		a.FinalDecision = model.Decision(*finalDecision)
	}
	if reason != nil {
		a.DecisionReason = *reason
	}

	do := &model.DecisionOutcome{Assessment: a}
	if outcomeID != nil {
		o := &model.Outcome{
			AssessmentID:      *outcomeID,
			Hired:             hired,
			Started:           started,
			StillEmployed30d:  e30,
			StillEmployed90d:  e90,
			PerformanceRating: rating,
		}
		if incident != nil {
			o.IncidentFlag = *incident
		}
		if source != nil {
			o.OutcomeSource = *source
		}
		if recordedAt != nil {
			o.RecordedAt = *recordedAt
		}
		do.Outcome = o
	}
	return do, nil
}

// nullable maps empty strings to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
