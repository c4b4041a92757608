package baseline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

// Recomputer rebuilds baseline stats from the assessments table. Each
// dimension tuple is recomputed independently, so concurrent runs for
// different tuples are safe and the whole job is idempotent.
type Recomputer struct {
	store store.Store
	cfg   config.CalibrationConfig
}

func NewRecomputer(st store.Store, cfg config.CalibrationConfig) *Recomputer {
	return &Recomputer{store: st, cfg: cfg}
}

// Targets expands the distinct tuples seen in the window into the full set
// the resolver may walk: each observed tuple plus its relaxed variants, down
// to the version-wide global. Deduped by key.
func (r *Recomputer) Targets(ctx context.Context, since time.Time) ([]model.Dimensions, error) {
	observed, err := r.store.ListDimensionTuples(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "baseline: list dimension tuples")
	}

	var targets []model.Dimensions
	seen := make(map[string]struct{})
	for _, dims := range observed {
		for _, level := range fallbackChain(dims) {
			if _, ok := seen[level.Key()]; ok {
				continue
			}
			seen[level.Key()] = struct{}{}
			targets = append(targets, level)
		}
	}
	return targets, nil
}

// RecomputeAll recomputes every target tuple concurrently and returns the
// number of stats written. A tuple with no samples in the window still gets
// its n=0 sentinel written, so stale stats never linger after cohorts dry up.
func (r *Recomputer) RecomputeAll(ctx context.Context, filter model.Dimensions) (int, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -r.cfg.WindowDays)

	targets, err := r.Targets(ctx, since)
	if err != nil {
		return 0, err
	}
	if !filter.Empty() {
		targets = filterTargets(targets, filter)
	}
	if len(targets) == 0 {
		zap.L().Info("baseline: nothing to recompute")
		return 0, nil
	}

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var written atomic.Int64
	for _, dims := range targets {
		g.Go(func() error {
			if err := r.RecomputeOne(gCtx, dims, now); err != nil {
				return err
			}
			written.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(written.Load()), err
	}

	zap.L().Info("baseline: recompute complete",
		zap.Int("tuples", len(targets)),
		zap.Int("window_days", r.cfg.WindowDays))
	return int(written.Load()), nil
}

// RecomputeOne rebuilds and stores the stat for a single tuple.
func (r *Recomputer) RecomputeOne(ctx context.Context, dims model.Dimensions, now time.Time) error {
	since := now.AddDate(0, 0, -r.cfg.WindowDays)

	scores, err := r.store.SampleScores(ctx, dims, since, r.cfg.MaxN)
	if err != nil {
		return eris.Wrapf(err, "baseline: sample %s", dims.Key())
	}

	stat := Compute(dims, scores, r.cfg.WindowDays, now)
	if err := r.store.UpsertBaseline(ctx, stat); err != nil {
		return eris.Wrapf(err, "baseline: upsert %s", dims.Key())
	}

	zap.L().Debug("baseline: recomputed",
		zap.String("dims", dims.Key()),
		zap.Int("n", stat.N),
		zap.Float64("mean", stat.Mean))
	return nil
}

// filterTargets keeps tuples whose non-blank filter fields all match.
func filterTargets(targets []model.Dimensions, filter model.Dimensions) []model.Dimensions {
	var out []model.Dimensions
	for _, d := range targets {
		if filter.Version != "" && d.Version != filter.Version {
			continue
		}
		if filter.Language != "" && d.Language != filter.Language {
			continue
		}
		if filter.PositionCode != "" && d.PositionCode != filter.PositionCode {
			continue
		}
		if filter.IndustryCode != "" && d.IndustryCode != filter.IndustryCode {
			continue
		}
		out = append(out, d)
	}
	return out
}
