package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/settlemetrics/qc-service/internal/qc"
	"github.com/settlemetrics/qc-service/internal/report"
	"github.com/settlemetrics/qc-service/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig         `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig      `yaml:"registry" mapstructure:"registry"`
	QC       qc.Config           `yaml:"qc" mapstructure:"qc"`
	Triage   TriageConfig        `yaml:"triage" mapstructure:"triage"`
	Export   report.ExportConfig `yaml:"export" mapstructure:"export"`
	Server   ServerConfig        `yaml:"server" mapstructure:"server"`
	Log      LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RegistryConfig configures the field registry source.
type RegistryConfig struct {
	// FieldsFile optionally overrides the builtin case schema with a YAML
	// field list.
	FieldsFile string `yaml:"fields_file" mapstructure:"fields_file"`
}

// TriageConfig configures flag-report intake.
type TriageConfig struct {
	// AnonymousRatePerMin throttles unauthenticated flag submissions per
	// client IP.
	AnonymousRatePerMin float64 `yaml:"anonymous_rate_per_min" mapstructure:"anonymous_rate_per_min"`
	AnonymousBurst      int     `yaml:"anonymous_burst" mapstructure:"anonymous_burst"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "qc.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("qc.baseline_model", "model-a")
	v.SetDefault("qc.model_a", "model-a")
	v.SetDefault("qc.model_b", "model-b")
	v.SetDefault("triage.anonymous_rate_per_min", 10)
	v.SetDefault("triage.anonymous_burst", 5)
	v.SetDefault("export.amount_field", "settlementAmount")
	v.SetDefault("export.components_field", "settlementComponents")
	v.SetDefault("export.case_name_field", "caseName")

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

// Validate checks the configuration for the given run mode ("serve" or
// "cli") and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}
	if c.QC.ModelA == "" || c.QC.ModelB == "" {
		problems = append(problems, "qc.model_a and qc.model_b are required")
	}
	if c.QC.ModelA != "" && c.QC.ModelA == c.QC.ModelB {
		problems = append(problems, "qc.model_a and qc.model_b must differ")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Triage.AnonymousRatePerMin < 0 {
			problems = append(problems, "triage.anonymous_rate_per_min must be >= 0")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
