package store

import (
	"context"
	"time"

	"github.com/hirelens/calibration-cli/internal/model"
)

// AssessmentFilter specifies criteria for listing completed assessments.
// Empty dimension fields match everything, so the same filter shape serves
// both exact-tuple queries and the analyzers' optional filters.
type AssessmentFilter struct {
	Dims  model.Dimensions `json:"dims,omitempty"`
	Since time.Time        `json:"since,omitempty"`
	Until time.Time        `json:"until,omitempty"`
	Limit int              `json:"limit,omitempty"`
}

// Cursor is a keyset position in the (completed_at, id) ordering. The zero
// value starts from the beginning.
type Cursor struct {
	CompletedAt time.Time
	ID          string
}

// After returns the cursor positioned just past a.
func After(a *model.Assessment) Cursor {
	return Cursor{CompletedAt: a.CompletedAt, ID: a.ID}
}

// Store defines the persistence interface for the calibration pipeline.
// The assessment/outcome dataset is read-mostly: the only writes are
// baseline upserts, outcome upserts, and the once-per-assessment
// calibration fields.
type Store interface {
	// Assessments
	InsertAssessment(ctx context.Context, a *model.Assessment) error
	GetAssessment(ctx context.Context, id string) (*model.Assessment, error)
	ListAssessments(ctx context.Context, filter AssessmentFilter) ([]model.Assessment, error)
	// ListUncalibrated pages the uncalibrated backlog in (completed_at, id)
	// order starting after the cursor. Keyset paging keeps a batch runner
	// moving even when rows it cannot calibrate yet stay at the head.
	ListUncalibrated(ctx context.Context, after Cursor, limit int) ([]model.Assessment, error)
	// SetCalibration writes z_score and calibrated_score together, guarded
	// so a second attempt is a no-op. Returns false when the assessment was
	// already calibrated.
	SetCalibration(ctx context.Context, id string, zScore, calibrated float64, version string) (bool, error)
	// ClearCalibration nulls the calibrated fields for matching assessments
	// so an explicit recalibration job can rewrite them.
	ClearCalibration(ctx context.Context, filter AssessmentFilter) (int, error)
	// SampleScores returns the most recent maxN raw scores for assessments
	// matching dims (empty fields match any) completed since the cutoff.
	SampleScores(ctx context.Context, dims model.Dimensions, since time.Time, maxN int) ([]float64, error)
	// ListDimensionTuples returns the distinct fully-specific dimension
	// tuples seen among assessments completed since the cutoff.
	ListDimensionTuples(ctx context.Context, since time.Time) ([]model.Dimensions, error)

	// Baselines
	UpsertBaseline(ctx context.Context, stat *model.BaselineStat) error
	// GetBaseline returns nil, nil when no stat exists for the exact key.
	GetBaseline(ctx context.Context, dims model.Dimensions) (*model.BaselineStat, error)

	// Outcomes
	UpsertOutcome(ctx context.Context, o *model.Outcome) error
	BulkUpsertOutcomes(ctx context.Context, outcomes []model.Outcome) (int64, error)
	// GetOutcome returns nil, nil when the assessment has no outcome yet.
	GetOutcome(ctx context.Context, assessmentID string) (*model.Outcome, error)
	// ListDecisionOutcomes left-joins assessments with their outcomes;
	// entries without ground truth carry a nil Outcome.
	ListDecisionOutcomes(ctx context.Context, filter AssessmentFilter) ([]model.DecisionOutcome, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
