package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/herdline/breeding-cli/internal/allocator"
	"github.com/herdline/breeding-cli/internal/loader"
	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Matrix     MatrixConfig     `yaml:"matrix" mapstructure:"matrix"`
	Allocation AllocationConfig `yaml:"allocation" mapstructure:"allocation"`
	Input      InputConfig      `yaml:"input" mapstructure:"input"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	SubmitRate     float64  `yaml:"submit_rate" mapstructure:"submit_rate"` // run submissions per second
	SubmitBurst    int      `yaml:"submit_burst" mapstructure:"submit_burst"`
	MaxBodyMB      int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
	MaxConcurrent  int      `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// MatrixConfig configures the candidate recommendation filter.
type MatrixConfig struct {
	RiskCutoffPercent float64 `yaml:"risk_cutoff_percent" mapstructure:"risk_cutoff_percent"`
	ExcludeHighDefect bool    `yaml:"exclude_high_defect" mapstructure:"exclude_high_defect"`
}

// AllocationConfig configures the allocation engine.
type AllocationConfig struct {
	RiskThresholdPercent float64  `yaml:"risk_threshold_percent" mapstructure:"risk_threshold_percent"`
	ControlDefectGenes   bool     `yaml:"control_defect_genes" mapstructure:"control_defect_genes"`
	EnsureMinimumQuota   bool     `yaml:"ensure_minimum_quota" mapstructure:"ensure_minimum_quota"`
	ExcludeSexed         []string `yaml:"exclude_sexed_markers" mapstructure:"exclude_sexed_markers"`
	ExcludeConventional  []string `yaml:"exclude_conventional_markers" mapstructure:"exclude_conventional_markers"`
}

// InputConfig configures how input tables are interpreted.
type InputConfig struct {
	RiskScale      string   `yaml:"risk_scale" mapstructure:"risk_scale"`
	HighRiskValues []string `yaml:"high_risk_values" mapstructure:"high_risk_values"`
	CarrierValues  []string `yaml:"carrier_values" mapstructure:"carrier_values"`
}

// OutputConfig configures exported tables.
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
}

// MonitoringConfig configures background alerting on run health.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"` // 0-1
	MinFillRate          float64 `yaml:"min_fill_rate" mapstructure:"min_fill_rate"`                   // 0-1, 0 disables
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BREEDING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	ex := allocator.DefaultExclusions()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "breeding.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.submit_rate", 2.0)
	v.SetDefault("server.submit_burst", 5)
	v.SetDefault("server.max_body_mb", 32)
	v.SetDefault("server.max_concurrent_runs", 2)
	v.SetDefault("matrix.risk_cutoff_percent", 3.125)
	v.SetDefault("matrix.exclude_high_defect", true)
	v.SetDefault("allocation.risk_threshold_percent", 6.25)
	v.SetDefault("allocation.control_defect_genes", true)
	v.SetDefault("allocation.ensure_minimum_quota", true)
	v.SetDefault("allocation.exclude_sexed_markers", ex[model.ClassSexed])
	v.SetDefault("allocation.exclude_conventional_markers", ex[model.ClassConventional])
	v.SetDefault("input.risk_scale", string(loader.ScaleFraction))
	v.SetDefault("input.high_risk_values", loader.DefaultHighRiskValues())
	v.SetDefault("input.carrier_values", loader.DefaultCarrierValues())
	v.SetDefault("output.format", "csv")
	v.SetDefault("output.dir", ".")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_fill_rate", 0.0)

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

// Validate checks the settings a command depends on. mode is one of
// "allocate", "serve" or "runs".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "allocate":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Server.SubmitRate <= 0 {
			problems = append(problems, "server.submit_rate must be > 0")
		}
		if c.Server.SubmitBurst < 1 {
			problems = append(problems, "server.submit_burst must be >= 1")
		}
		if c.Server.MaxConcurrent < 1 {
			problems = append(problems, "server.max_concurrent_runs must be >= 1")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			problems = append(problems, "monitoring.webhook_url is required when monitoring is enabled")
		}
	case "runs":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if !inPercentRange(c.Matrix.RiskCutoffPercent) {
		problems = append(problems, "matrix.risk_cutoff_percent must be between 0 and 100")
	}
	if !inPercentRange(c.Allocation.RiskThresholdPercent) {
		problems = append(problems, "allocation.risk_threshold_percent must be between 0 and 100")
	}
	switch loader.RiskScale(c.Input.RiskScale) {
	case loader.ScaleFraction, loader.ScalePercent:
	default:
		problems = append(problems, fmt.Sprintf("input.risk_scale %q must be fraction or percent", c.Input.RiskScale))
	}
	switch c.Output.Format {
	case "csv", "xlsx", "json":
	default:
		problems = append(problems, fmt.Sprintf("output.format %q must be csv, xlsx or json", c.Output.Format))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func inPercentRange(p float64) bool {
	return p >= 0 && p <= 100
}

// PercentToFraction converts an operator-facing percentage to the fraction
// used internally.
func PercentToFraction(p float64) float64 {
	return decimal.NewFromFloat(p).Div(decimal.NewFromInt(100)).InexactFloat64()
}

// MatrixPolicy returns the recommendation filter in internal units.
func (c *Config) MatrixPolicy() matrix.Policy {
	return matrix.Policy{
		RiskCutoff:        PercentToFraction(c.Matrix.RiskCutoffPercent),
		ExcludeHighDefect: c.Matrix.ExcludeHighDefect,
	}
}

// AllocatorConfig returns the engine configuration in internal units.
func (c *Config) AllocatorConfig() allocator.Config {
	return allocator.Config{
		Constraint: allocator.Constraint{
			RiskThreshold:      PercentToFraction(c.Allocation.RiskThresholdPercent),
			ControlDefectGenes: c.Allocation.ControlDefectGenes,
		},
		EnsureMinimumQuota: c.Allocation.EnsureMinimumQuota,
		Exclusions: map[model.SemenClass][]string{
			model.ClassSexed:        c.Allocation.ExcludeSexed,
			model.ClassConventional: c.Allocation.ExcludeConventional,
		},
	}
}

// LoaderOptions returns the input interpretation settings.
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{
		RiskScale:      loader.RiskScale(c.Input.RiskScale),
		HighRiskValues: c.Input.HighRiskValues,
		CarrierValues:  c.Input.CarrierValues,
	}
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
