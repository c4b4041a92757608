package baseline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

// ErrInsufficientData means no baseline along the fallback chain met the
// minimum sample size. Callers decide policy: skip calibration, or keep the
// raw score and flag it.
var ErrInsufficientData = eris.New("baseline: insufficient data")

// Resolution is the outcome of a fallback lookup. UsedDims is the tuple the
// stat was actually read from; UsedFallback is true whenever it differs from
// the requested tuple.
type Resolution struct {
	Stat         *model.BaselineStat `json:"stat"`
	UsedDims     model.Dimensions    `json:"used_dims"`
	UsedFallback bool                `json:"used_fallback"`
}

// Resolver walks the dimension relaxation chain over stored baselines.
type Resolver struct {
	store store.Store
	minN  int
	maxN  int
}

func NewResolver(st store.Store, minN, maxN int) *Resolver {
	return &Resolver{store: st, minN: minN, maxN: maxN}
}

// fallbackChain lists candidate tuples from most to least specific:
// the full tuple, then without industry, then without position, then the
// version-wide global. Levels made identical by already-blank request
// fields are collapsed.
func fallbackChain(dims model.Dimensions) []model.Dimensions {
	levels := []model.Dimensions{
		dims,
		{Version: dims.Version, Language: dims.Language, PositionCode: dims.PositionCode},
		{Version: dims.Version, Language: dims.Language},
		{Version: dims.Version},
	}

	chain := make([]model.Dimensions, 0, len(levels))
	seen := make(map[string]struct{}, len(levels))
	for _, d := range levels {
		if _, ok := seen[d.Key()]; ok {
			continue
		}
		seen[d.Key()] = struct{}{}
		chain = append(chain, d)
	}
	return chain
}

// Resolve picks the baseline for dims. Every chain level with n >= minN is a
// candidate; among candidates the largest n (capped at maxN) wins, and on a
// tie the more specific level wins. Sample size beats specificity once the
// minimum is met, since a just-barely-sufficient specific cohort is noisier
// than a large relaxed one. Returns ErrInsufficientData when no level
// qualifies.
func (r *Resolver) Resolve(ctx context.Context, dims model.Dimensions) (*Resolution, error) {
	var best *Resolution
	bestN := 0

	for _, candidate := range fallbackChain(dims) {
		stat, err := r.store.GetBaseline(ctx, candidate)
		if err != nil {
			return nil, eris.Wrapf(err, "baseline: resolve %s", candidate.Key())
		}
		if stat == nil || stat.N < r.minN {
			continue
		}

		n := stat.N
		if r.maxN > 0 && n > r.maxN {
			n = r.maxN
		}
		if n > bestN {
			bestN = n
			best = &Resolution{
				Stat:         stat,
				UsedDims:     candidate,
				UsedFallback: candidate.Key() != dims.Key(),
			}
		}
	}

	if best == nil {
		zap.L().Debug("baseline: no eligible baseline",
			zap.String("dims", dims.Key()),
			zap.Int("min_n", r.minN))
		return nil, ErrInsufficientData
	}
	return best, nil
}
