package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Drift       DriftConfig       `yaml:"drift" mapstructure:"drift"`
	Health      HealthConfig      `yaml:"health" mapstructure:"health"`
	Quality     QualityConfig     `yaml:"quality" mapstructure:"quality"`
	Alerting    AlertingConfig    `yaml:"alerting" mapstructure:"alerting"`
	Ingest      IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CalibrationConfig configures baseline computation and the calibration
// rescaling. ZScale is the slope of the linear z-to-score mapping; the
// midpoint is pinned at 50 so a cohort-average candidate always maps there.
type CalibrationConfig struct {
	Version    string  `yaml:"version" mapstructure:"version"`
	MinN       int     `yaml:"min_n" mapstructure:"min_n"`
	MaxN       int     `yaml:"max_n" mapstructure:"max_n"`
	WindowDays int     `yaml:"window_days" mapstructure:"window_days"`
	ZScale     float64 `yaml:"z_scale" mapstructure:"z_scale"`
	BatchSize  int     `yaml:"batch_size" mapstructure:"batch_size"`
	Workers    int     `yaml:"workers" mapstructure:"workers"`
}

// DriftConfig holds the drift reporter's alert thresholds and flag lists.
type DriftConfig struct {
	MaxWindowDays       int      `yaml:"max_window_days" mapstructure:"max_window_days"`
	RejectPctThreshold  float64  `yaml:"reject_pct_threshold" mapstructure:"reject_pct_threshold"`
	HirePctThreshold    float64  `yaml:"hire_pct_threshold" mapstructure:"hire_pct_threshold"`
	HireMinTotal        int      `yaml:"hire_min_total" mapstructure:"hire_min_total"`
	ZScoreThreshold     float64  `yaml:"z_score_threshold" mapstructure:"z_score_threshold"`
	IncompletePctLimit  float64  `yaml:"incomplete_pct_limit" mapstructure:"incomplete_pct_limit"`
	CriticalFlagCodes   []string `yaml:"critical_flag_codes" mapstructure:"critical_flag_codes"`
	IncompleteFlagCodes []string `yaml:"incomplete_flag_codes" mapstructure:"incomplete_flag_codes"`
	TopRiskFlagCount    int      `yaml:"top_risk_flag_count" mapstructure:"top_risk_flag_count"`
}

// HealthConfig holds the model-health analyzer's alert thresholds.
type HealthConfig struct {
	HirePrecisionThreshold float64 `yaml:"hire_precision_threshold" mapstructure:"hire_precision_threshold"`
	RejectFNRThreshold     float64 `yaml:"reject_fnr_threshold" mapstructure:"reject_fnr_threshold"`
	MinValidSample         int     `yaml:"min_valid_sample" mapstructure:"min_valid_sample"`
}

// QualityConfig holds the calibration-quality analyzer's mismatch gate.
type QualityConfig struct {
	TopBucketMinN          int     `yaml:"top_bucket_min_n" mapstructure:"top_bucket_min_n"`
	TopBucketSuccessPctMin float64 `yaml:"top_bucket_success_pct_min" mapstructure:"top_bucket_success_pct_min"`
}

// AlertingConfig configures alert delivery and the background checker.
type AlertingConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackDays      int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	RulesFile         string `yaml:"rules_file" mapstructure:"rules_file"`
}

// IngestConfig configures outcome file ingestion. DefaultSource is a feed
// location (path or URL) used when no --src is given; SourceLabel is the
// provenance tag written to rows whose feed carries no outcome_source column.
type IngestConfig struct {
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	DefaultSource string  `yaml:"default_source" mapstructure:"default_source"`
	SourceLabel   string  `yaml:"source_label" mapstructure:"source_label"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CALIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("calibration.version", "v1")
	v.SetDefault("calibration.min_n", 30)
	v.SetDefault("calibration.max_n", 200)
	v.SetDefault("calibration.window_days", 90)
	v.SetDefault("calibration.z_scale", 15.0)
	v.SetDefault("calibration.batch_size", 500)
	v.SetDefault("calibration.workers", 4)
	v.SetDefault("drift.max_window_days", 30)
	v.SetDefault("drift.reject_pct_threshold", 40.0)
	v.SetDefault("drift.hire_pct_threshold", 10.0)
	v.SetDefault("drift.hire_min_total", 10)
	v.SetDefault("drift.z_score_threshold", 0.5)
	v.SetDefault("drift.incomplete_pct_limit", 20.0)
	v.SetDefault("drift.top_risk_flag_count", 10)
	v.SetDefault("health.hire_precision_threshold", 60.0)
	v.SetDefault("health.reject_fnr_threshold", 10.0)
	v.SetDefault("health.min_valid_sample", 30)
	v.SetDefault("quality.top_bucket_min_n", 5)
	v.SetDefault("quality.top_bucket_success_pct_min", 70.0)
	v.SetDefault("alerting.check_interval_secs", 300)
	v.SetDefault("alerting.lookback_days", 14)
	v.SetDefault("ingest.timeout_secs", 60)
	v.SetDefault("ingest.max_retries", 2)
	v.SetDefault("ingest.rate_per_sec", 5.0)
	v.SetDefault("ingest.default_source", "")
	v.SetDefault("ingest.source_label", "hr_import")
	v.SetDefault("ingest.user_agent", "calibration-cli outcome importer")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
