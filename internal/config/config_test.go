package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from a directory without a config file so only defaults apply.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, 30, cfg.Calibration.MinN)
	assert.Equal(t, 200, cfg.Calibration.MaxN)
	assert.Equal(t, 90, cfg.Calibration.WindowDays)
	assert.Equal(t, 15.0, cfg.Calibration.ZScale)

	assert.Equal(t, 30, cfg.Drift.MaxWindowDays)
	assert.Equal(t, 40.0, cfg.Drift.RejectPctThreshold)
	assert.Equal(t, 10.0, cfg.Drift.HirePctThreshold)
	assert.Equal(t, 10, cfg.Drift.HireMinTotal)
	assert.Equal(t, 0.5, cfg.Drift.ZScoreThreshold)
	assert.Equal(t, 20.0, cfg.Drift.IncompletePctLimit)

	assert.Equal(t, 60.0, cfg.Health.HirePrecisionThreshold)
	assert.Equal(t, 10.0, cfg.Health.RejectFNRThreshold)
	assert.Equal(t, 30, cfg.Health.MinValidSample)

	assert.Equal(t, 5, cfg.Quality.TopBucketMinN)
	assert.Equal(t, 70.0, cfg.Quality.TopBucketSuccessPctMin)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
store:
  driver: sqlite
  database_url: /tmp/calib.db
calibration:
  min_n: 50
  z_scale: 12.5
drift:
  critical_flag_codes:
    - INTEGRITY_RISK
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/calib.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 50, cfg.Calibration.MinN)
	assert.Equal(t, 12.5, cfg.Calibration.ZScale)
	assert.Equal(t, []string{"INTEGRITY_RISK"}, cfg.Drift.CriticalFlagCodes)

	// Untouched sections keep their defaults.
	assert.Equal(t, 200, cfg.Calibration.MaxN)
	assert.Equal(t, 40.0, cfg.Drift.RejectPctThreshold)
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
}
