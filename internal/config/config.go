package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pricepaid/internal/credential"
)

// Config holds the full application configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Destination DestinationConfig `yaml:"destination" mapstructure:"destination"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// SourceConfig locates the price-paid files to read.
type SourceConfig struct {
	Pattern      string `yaml:"pattern" mapstructure:"pattern"`
	Format       string `yaml:"format" mapstructure:"format"`
	Encoding     string `yaml:"encoding" mapstructure:"encoding"`
	S3Region     string `yaml:"s3_region" mapstructure:"s3_region"`
	TempDir      string `yaml:"temp_dir" mapstructure:"temp_dir"`
	ParquetChunk int    `yaml:"parquet_chunk" mapstructure:"parquet_chunk"`
}

// DestinationConfig configures the partitioned table.
type DestinationConfig struct {
	Driver     string            `yaml:"driver" mapstructure:"driver"`
	DSN        string            `yaml:"dsn" mapstructure:"dsn"`
	Table      string            `yaml:"table" mapstructure:"table"`
	MaxConns   int32             `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns   int32             `yaml:"min_conns" mapstructure:"min_conns"`
	Credential credential.Config `yaml:"credential" mapstructure:"credential"`
}

// PipelineConfig tunes partition replacement.
type PipelineConfig struct {
	BatchSize            int      `yaml:"batch_size" mapstructure:"batch_size"`
	ExcludePropertyTypes []string `yaml:"exclude_property_types" mapstructure:"exclude_property_types"`
	OnDestinationError   string   `yaml:"on_destination_error" mapstructure:"on_destination_error"`
	MemoryLimitMB        int      `yaml:"memory_limit_mb" mapstructure:"memory_limit_mb"`
	RetryAttempts        int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs       int      `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs    int      `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
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
	v.SetEnvPrefix("PRICEPAID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("source.pattern", "")
	v.SetDefault("source.format", "auto")
	v.SetDefault("source.encoding", "utf-8")
	v.SetDefault("source.s3_region", "eu-west-2")
	v.SetDefault("source.temp_dir", os.TempDir())
	v.SetDefault("source.parquet_chunk", 1024)
	v.SetDefault("destination.driver", "postgres")
	v.SetDefault("destination.dsn", "")
	v.SetDefault("destination.table", "")
	v.SetDefault("destination.max_conns", 4)
	v.SetDefault("destination.min_conns", 1)
	v.SetDefault("destination.credential.token", "")
	v.SetDefault("destination.credential.token_env", "")
	v.SetDefault("destination.credential.token_command", "")
	v.SetDefault("pipeline.batch_size", 5000)
	v.SetDefault("pipeline.exclude_property_types", []string{"O"})
	v.SetDefault("pipeline.on_destination_error", "skip")
	v.SetDefault("pipeline.memory_limit_mb", 0)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_backoff_ms", 1000)
	v.SetDefault("pipeline.retry_max_backoff_ms", 30000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings a command needs are present. The mode
// names the command family: "ingest", "export" or "query".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "ingest":
		if c.Source.Pattern == "" {
			errs = append(errs, "source.pattern is required")
		}
		if c.Pipeline.BatchSize < 0 {
			errs = append(errs, "pipeline.batch_size must not be negative")
		}
		if c.Pipeline.RetryAttempts < 0 {
			errs = append(errs, "pipeline.retry_attempts must not be negative")
		}
		switch c.Pipeline.OnDestinationError {
		case "", "skip", "abort":
		default:
			errs = append(errs, fmt.Sprintf("pipeline.on_destination_error must be skip or abort, got %q", c.Pipeline.OnDestinationError))
		}
	case "export", "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Destination.DSN == "" {
		errs = append(errs, "destination.dsn is required")
	}
	if c.Destination.MaxConns < 0 || c.Destination.MinConns < 0 {
		errs = append(errs, "destination connection limits must not be negative")
	} else if c.Destination.MaxConns > 0 && c.Destination.MinConns > c.Destination.MaxConns {
		errs = append(errs, "destination.min_conns must not exceed destination.max_conns")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
