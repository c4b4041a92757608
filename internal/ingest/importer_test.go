package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/store"
)

func ingestConfig() config.IngestConfig {
	return config.IngestConfig{
		TimeoutSecs: 5,
		MaxRetries:  3,
		RatePerSec:  100,
		SourceLabel: "hr_import",
		UserAgent:   "test importer",
	}
}

func newImportStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const outcomesCSV = `assessment_id,hired,started,still_employed_30d,still_employed_90d,performance_rating,incident_flag
asmt-1,yes,yes,yes,yes,5,no
asmt-2,no,,,,,
asmt-3,yes,no,yes,,,
asmt-4,definitely,,,,,
`

func TestImporter_CSV(t *testing.T) {
	st := newImportStore(t)
	im := NewImporter(st, NewFetcher(ingestConfig()), ingestConfig())

	path := writeFile(t, "outcomes.csv", outcomesCSV)
	stats, err := im.Import(context.Background(), path, "")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, int64(3), stats.Imported)
	assert.Equal(t, 1, stats.BadRows, "unparseable boolean row is skipped")
	assert.Equal(t, 1, stats.Inconsistent, "asmt-3 is employed without starting")

	o, err := st.GetOutcome(context.Background(), "asmt-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	require.NotNil(t, o.StillEmployed90d)
	assert.True(t, *o.StillEmployed90d)
	assert.Equal(t, "hr_import", o.OutcomeSource)

	// Inconsistent rows are stored as given, not rejected.
	o, err = st.GetOutcome(context.Background(), "asmt-3")
	require.NoError(t, err)
	require.NotNil(t, o)
}

func TestImporter_SourceLabelIndependentOfFeedLocation(t *testing.T) {
	st := newImportStore(t)

	// A configured feed URL is where to fetch from, never what to tag
	// rows with.
	cfg := ingestConfig()
	cfg.DefaultSource = "https://hr-exports.example.com/outcomes.csv"
	im := NewImporter(st, NewFetcher(cfg), cfg)

	path := writeFile(t, "outcomes.csv", outcomesCSV)
	_, err := im.Import(context.Background(), path, "")
	require.NoError(t, err)

	o, err := st.GetOutcome(context.Background(), "asmt-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "hr_import", o.OutcomeSource)
}

func TestImporter_CSVBadHeaderReleasesReader(t *testing.T) {
	st := newImportStore(t)
	im := NewImporter(st, NewFetcher(ingestConfig()), ingestConfig())

	// More rows than the stream buffer holds, behind a header missing the
	// required id column. The reader goroutine must not stay blocked on a
	// channel nobody drains.
	var b strings.Builder
	b.WriteString("candidate,hired\n")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "cand-%d,yes\n", i)
	}
	path := writeFile(t, "outcomes.csv", b.String())

	before := runtime.NumGoroutine()
	_, err := im.Import(context.Background(), path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no assessment id column")

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond, "csv reader goroutine should exit")
}

func TestImporter_CSVOverHTTPWithRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(outcomesCSV))
	}))
	defer srv.Close()

	st := newImportStore(t)
	im := NewImporter(st, NewFetcher(ingestConfig()), ingestConfig())

	stats, err := im.Import(context.Background(), srv.URL+"/export/outcomes.csv", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Imported)
	assert.Equal(t, int64(2), calls.Load(), "first attempt failed, second succeeded")
}

func TestImporter_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Outcomes")
	require.NoError(t, err)
	for _, rowData := range [][]string{
		{"assessment_id", "hired", "started", "retained_90", "rating"},
		{"asmt-10", "yes", "yes", "yes", "3"},
		{"asmt-11", "no", "", "", ""},
	} {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "outcomes.xlsx")
	require.NoError(t, f.Save(path))

	st := newImportStore(t)
	im := NewImporter(st, NewFetcher(ingestConfig()), ingestConfig())

	stats, err := im.Import(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Imported)

	o, err := st.GetOutcome(context.Background(), "asmt-10")
	require.NoError(t, err)
	require.NotNil(t, o)
	require.NotNil(t, o.PerformanceRating)
	assert.Equal(t, 3, *o.PerformanceRating)
}

const outcomesXML = `<?xml version="1.0" encoding="UTF-8"?>
<outcomes>
  <outcome>
    <assessment_id>asmt-20</assessment_id>
    <hired>true</hired>
    <started>true</started>
    <still_employed_30d>true</still_employed_30d>
    <still_employed_90d>true</still_employed_90d>
    <performance_rating>5</performance_rating>
    <incident_flag>false</incident_flag>
    <outcome_source>legacy_hr</outcome_source>
  </outcome>
  <outcome>
    <assessment_id>asmt-21</assessment_id>
    <hired>false</hired>
  </outcome>
</outcomes>
`

func TestImporter_XML(t *testing.T) {
	st := newImportStore(t)
	im := NewImporter(st, NewFetcher(ingestConfig()), ingestConfig())

	path := writeFile(t, "outcomes.xml", outcomesXML)
	stats, err := im.Import(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, int64(2), stats.Imported)

	o, err := st.GetOutcome(context.Background(), "asmt-20")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "legacy_hr", o.OutcomeSource)

	o, err = st.GetOutcome(context.Background(), "asmt-21")
	require.NoError(t, err)
	require.NotNil(t, o)
	require.NotNil(t, o.Hired)
	assert.False(t, *o.Hired)
}

func TestImporter_UnsupportedFormat(t *testing.T) {
	st := newImportStore(t)
	im := NewImporter(st, NewFetcher(ingestConfig()), ingestConfig())

	_, err := im.Import(context.Background(), "outcomes.parquet", "")
	assert.Error(t, err)
}

func TestImporter_ReimportUpdatesExisting(t *testing.T) {
	st := newImportStore(t)
	im := NewImporter(st, NewFetcher(ingestConfig()), ingestConfig())

	first := writeFile(t, "first.csv",
		"assessment_id,hired\nasmt-1,yes\n")
	_, err := im.Import(context.Background(), first, "")
	require.NoError(t, err)

	// 30-day retention arrives in a later export.
	second := writeFile(t, "second.csv",
		"assessment_id,hired,started,retained_30\nasmt-1,yes,yes,yes\n")
	_, err = im.Import(context.Background(), second, "")
	require.NoError(t, err)

	o, err := st.GetOutcome(context.Background(), "asmt-1")
	require.NoError(t, err)
	require.NotNil(t, o.StillEmployed30d)
	assert.True(t, *o.StillEmployed30d)
}
