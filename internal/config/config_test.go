package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Source.Pattern)
	assert.Equal(t, "auto", cfg.Source.Format)
	assert.Equal(t, "utf-8", cfg.Source.Encoding)
	assert.Equal(t, os.TempDir(), cfg.Source.TempDir)
	assert.Equal(t, 1024, cfg.Source.ParquetChunk)
	assert.Equal(t, "postgres", cfg.Destination.Driver)
	assert.Equal(t, int32(4), cfg.Destination.MaxConns)
	assert.Equal(t, int32(1), cfg.Destination.MinConns)
	assert.Equal(t, 5000, cfg.Pipeline.BatchSize)
	assert.Equal(t, []string{"O"}, cfg.Pipeline.ExcludePropertyTypes)
	assert.Equal(t, "skip", cfg.Pipeline.OnDestinationError)
	assert.Equal(t, 0, cfg.Pipeline.MemoryLimitMB)
	assert.Equal(t, 3, cfg.Pipeline.RetryAttempts)
	assert.Equal(t, 1000, cfg.Pipeline.RetryBackoffMs)
	assert.Equal(t, 30000, cfg.Pipeline.RetryMaxBackoffMs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
source:
  pattern: s3://land-registry/pp-*.csv
  encoding: latin1
destination:
  driver: sqlite
  dsn: /tmp/pp.db
  credential:
    token_env: PP_DB_TOKEN
pipeline:
  batch_size: 250
  exclude_property_types: []
  on_destination_error: abort
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3://land-registry/pp-*.csv", cfg.Source.Pattern)
	assert.Equal(t, "latin1", cfg.Source.Encoding)
	assert.Equal(t, "sqlite", cfg.Destination.Driver)
	assert.Equal(t, "/tmp/pp.db", cfg.Destination.DSN)
	assert.Equal(t, "PP_DB_TOKEN", cfg.Destination.Credential.TokenEnv)
	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Empty(t, cfg.Pipeline.ExcludePropertyTypes)
	assert.Equal(t, "abort", cfg.Pipeline.OnDestinationError)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "auto", cfg.Source.Format)
	assert.Equal(t, 3, cfg.Pipeline.RetryAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
destination:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PRICEPAID_DESTINATION_DRIVER", "postgres")
	t.Setenv("PRICEPAID_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Destination.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PRICEPAID_PIPELINE_BATCH_SIZE", "100")
	t.Setenv("PRICEPAID_DESTINATION_DSN", "postgres://localhost/pp")
	t.Setenv("PRICEPAID_DESTINATION_CREDENTIAL_TOKEN_COMMAND", "vault read -field=token db/creds")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, "postgres://localhost/pp", cfg.Destination.DSN)
	assert.Equal(t, "vault read -field=token db/creds", cfg.Destination.Credential.TokenCommand)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("source: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Source.Pattern = "/data/pp-*.csv"
	cfg.Destination.Driver = "postgres"
	cfg.Destination.DSN = "postgres://localhost/test"
	cfg.Destination.MaxConns = 4
	cfg.Destination.MinConns = 1
	cfg.Pipeline.BatchSize = 5000
	cfg.Pipeline.OnDestinationError = "skip"
	cfg.Pipeline.RetryAttempts = 3
	return cfg
}

func TestValidateIngest_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateIngest_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.Pattern = ""
	cfg.Destination.DSN = ""

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "source.pattern is required")
	assert.Contains(t, err.Error(), "destination.dsn is required")
}

func TestValidateIngest_BadPolicy(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.OnDestinationError = "ignore"

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "on_destination_error must be skip or abort")
}

func TestValidateIngest_NegativeNumbers(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.BatchSize = -1
	cfg.Pipeline.RetryAttempts = -2

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size must not be negative")
	assert.Contains(t, err.Error(), "retry_attempts must not be negative")
}

func TestValidateQuery_NoSourceNeeded(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.Pattern = ""

	assert.NoError(t, cfg.Validate("query"))
	assert.NoError(t, cfg.Validate("export"))
}

func TestValidateQuery_NoDSN(t *testing.T) {
	cfg := validDefaults()
	cfg.Destination.DSN = ""

	err := cfg.Validate("query")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "destination.dsn")
}

func TestValidateConnectionBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Destination.MinConns = 8
	err := cfg.Validate("query")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "min_conns must not exceed")

	cfg.Destination.MinConns = -1
	err = cfg.Validate("query")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must not be negative")

	cfg.Destination.MinConns = 4
	assert.NoError(t, cfg.Validate("query"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
