package ingest

import (
	"context"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

// ImportStats summarizes one outcome import.
type ImportStats struct {
	Rows         int   `json:"rows"`
	Imported     int64 `json:"imported"`
	BadRows      int   `json:"bad_rows"`
	Inconsistent int   `json:"inconsistent"`
}

// Importer loads outcome files into the store. Bad rows and lifecycle
// inconsistencies are tolerated and reported, never fatal: ground truth
// entered by humans is imperfect and a partial import beats none.
type Importer struct {
	store   store.Store
	fetcher Fetcher
	cfg     config.IngestConfig
}

func NewImporter(st store.Store, fetcher Fetcher, cfg config.IngestConfig) *Importer {
	return &Importer{store: st, fetcher: fetcher, cfg: cfg}
}

// Import loads the source into the store. format is "csv", "xlsx" or
// "xml"; when empty it is inferred from the source extension.
func (im *Importer) Import(ctx context.Context, src, format string) (*ImportStats, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(path.Ext(src)), ".")
	}

	var (
		outcomes []model.Outcome
		stats    = &ImportStats{}
		now      = time.Now().UTC()
		err      error
	)
	switch format {
	case "csv":
		outcomes, err = im.readCSV(ctx, src, now, stats)
	case "xlsx":
		outcomes, err = im.readXLSX(ctx, src, now, stats)
	case "xml":
		outcomes, err = im.readXML(ctx, src, now, stats)
	default:
		return nil, eris.Errorf("ingest: unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}

	for i := range outcomes {
		if !outcomes[i].Consistent() {
			stats.Inconsistent++
			zap.L().Warn("ingest: inconsistent outcome lifecycle",
				zap.String("assessment_id", outcomes[i].AssessmentID))
		}
	}

	stats.Imported, err = im.store.BulkUpsertOutcomes(ctx, outcomes)
	if err != nil {
		return stats, eris.Wrap(err, "ingest: bulk upsert outcomes")
	}

	zap.L().Info("ingest: import complete",
		zap.String("source", src),
		zap.String("format", format),
		zap.Int("rows", stats.Rows),
		zap.Int64("imported", stats.Imported),
		zap.Int("bad_rows", stats.BadRows),
		zap.Int("inconsistent", stats.Inconsistent),
	)
	return stats, nil
}

func (im *Importer) readCSV(ctx context.Context, src string, now time.Time, stats *ImportStats) ([]model.Outcome, error) {
	rc, err := im.fetcher.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	// Cancelling the derived context unblocks the StreamCSV producer if we
	// bail out before draining the row channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := StreamCSV(ctx, rc, CSVOptions{LazyQuotes: true})

	var (
		idx      map[string]int
		outcomes []model.Outcome
	)
	for row := range rowCh {
		if idx == nil {
			if idx, err = headerIndex(row); err != nil {
				return nil, err
			}
			continue
		}
		stats.Rows++
		o, rowErr := parseOutcomeRow(idx, row, im.cfg.SourceLabel, now)
		if rowErr != nil {
			stats.BadRows++
			zap.L().Warn("ingest: skipping bad row", zap.Error(rowErr))
			continue
		}
		outcomes = append(outcomes, *o)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, eris.Errorf("ingest: %s is empty", src)
	}
	return outcomes, nil
}

func (im *Importer) readXLSX(ctx context.Context, src string, now time.Time, stats *ImportStats) ([]model.Outcome, error) {
	local, err := fetchToFile(ctx, im.fetcher, src)
	if err != nil {
		return nil, err
	}
	if local != src {
		defer removeTemp(local)
	}

	rows, err := ReadXLSX(local, XLSXOptions{})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("ingest: %s is empty", src)
	}

	idx, err := headerIndex(rows[0])
	if err != nil {
		return nil, err
	}

	var outcomes []model.Outcome
	for _, row := range rows[1:] {
		stats.Rows++
		o, rowErr := parseOutcomeRow(idx, row, im.cfg.SourceLabel, now)
		if rowErr != nil {
			stats.BadRows++
			zap.L().Warn("ingest: skipping bad row", zap.Error(rowErr))
			continue
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, nil
}

func (im *Importer) readXML(ctx context.Context, src string, now time.Time, stats *ImportStats) ([]model.Outcome, error) {
	rc, err := im.fetcher.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	recCh, errCh := StreamXML[outcomeXML](ctx, rc, "outcome")

	var outcomes []model.Outcome
	for rec := range recCh {
		stats.Rows++
		o, rowErr := rec.toOutcome(im.cfg.SourceLabel, now)
		if rowErr != nil {
			stats.BadRows++
			zap.L().Warn("ingest: skipping bad record", zap.Error(rowErr))
			continue
		}
		outcomes = append(outcomes, *o)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return outcomes, nil
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil {
		zap.L().Warn("ingest: failed to remove temp file",
			zap.String("path", path), zap.Error(err))
	}
}
