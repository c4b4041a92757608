package calibration

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hirelens/calibration-cli/internal/baseline"
	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

// RunStats summarizes one calibration pass.
type RunStats struct {
	Calibrated   int `json:"calibrated"`
	Skipped      int `json:"skipped"`
	AlreadyDone  int `json:"already_done"`
	UsedFallback int `json:"used_fallback"`
	Cleared      int `json:"cleared,omitempty"`
}

// Runner drains the uncalibrated backlog in batches. Each assessment is
// calibrated at most once: the store's guarded update makes concurrent
// runners safe, the loser of a race just counts the row as already done.
type Runner struct {
	store    store.Store
	resolver *baseline.Resolver
	cfg      config.CalibrationConfig
}

func NewRunner(st store.Store, cfg config.CalibrationConfig) *Runner {
	return &Runner{
		store:    st,
		resolver: baseline.NewResolver(st, cfg.MinN, cfg.MaxN),
		cfg:      cfg,
	}
}

// Run calibrates every uncalibrated assessment. When recalibrate is set the
// matching calibrated fields are cleared first, so the whole population goes
// back through the current baselines.
func (r *Runner) Run(ctx context.Context, recalibrate bool, filter store.AssessmentFilter) (*RunStats, error) {
	stats := &RunStats{}

	if recalibrate {
		cleared, err := r.store.ClearCalibration(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "calibration: clear for recalibrate")
		}
		stats.Cleared = cleared
		zap.L().Info("calibration: cleared for recalibration", zap.Int("count", cleared))
	}

	batchSize := r.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 100
	}

	// Keyset cursor over (completed_at, id). Skipped rows stay uncalibrated,
	// so paging by position instead of re-reading the head guarantees one full
	// sweep of the backlog per run even when whole batches lack baselines.
	var after store.Cursor
	for {
		batch, err := r.store.ListUncalibrated(ctx, after, batchSize)
		if err != nil {
			return nil, eris.Wrap(err, "calibration: list uncalibrated")
		}
		if len(batch) == 0 {
			break
		}
		after = store.After(&batch[len(batch)-1])

		calibrated, skipped, already, fellBack, err := r.runBatch(ctx, batch)
		stats.Calibrated += calibrated
		stats.Skipped += skipped
		stats.AlreadyDone += already
		stats.UsedFallback += fellBack
		if err != nil {
			return stats, err
		}
	}

	zap.L().Info("calibration: run complete",
		zap.Int("calibrated", stats.Calibrated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("used_fallback", stats.UsedFallback))
	return stats, nil
}

func (r *Runner) runBatch(ctx context.Context, batch []model.Assessment) (calibrated, skipped, already, fellBack int, err error) {
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var nCalibrated, nSkipped, nAlready, nFellBack atomic.Int64
	for i := range batch {
		a := batch[i]
		g.Go(func() error {
			res, err := r.resolver.Resolve(gCtx, a.Dimensions)
			if err != nil {
				if eris.Is(err, baseline.ErrInsufficientData) {
					zap.L().Warn("calibration: skipping, no eligible baseline",
						zap.String("assessment_id", a.ID),
						zap.String("dims", a.Dimensions.Key()))
					nSkipped.Add(1)
					return nil
				}
				return err
			}
			if res.UsedFallback {
				nFellBack.Add(1)
			}

			result := Calibrate(a.RawFinalScore, res.Stat, r.cfg.ZScale)
			wrote, err := r.store.SetCalibration(gCtx, a.ID, result.ZScore, result.CalibratedScore, r.cfg.Version)
			if err != nil {
				return eris.Wrapf(err, "calibration: write %s", a.ID)
			}
			if wrote {
				nCalibrated.Add(1)
			} else {
				nAlready.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return int(nCalibrated.Load()), int(nSkipped.Load()), int(nAlready.Load()), int(nFellBack.Load()), err
}
