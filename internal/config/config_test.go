package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backfill/internal/backfill"
	"backfill/internal/retry"
	"backfill/internal/source"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "backfill", cfg.Job)
	assert.Equal(t, source.DefaultBaseURL, cfg.Source.BaseURL)
	assert.Equal(t, source.DefaultReferenceURL, cfg.Source.ReferenceURL)
	assert.Equal(t, source.DefaultTimeout, cfg.Source.Timeout)
	assert.Equal(t, "sqlite", cfg.Warehouse.Kind)
	assert.Equal(t, retry.DefaultDelay, cfg.Retry.Delay)
	assert.Equal(t, retry.DefaultMultiplier, cfg.Retry.Multiplier)
	assert.Equal(t, backfill.DefaultService, cfg.Backfill.Service)
	assert.Equal(t, backfill.DefaultYear, cfg.Backfill.Year)
	assert.Equal(t, backfill.DefaultChunkSize, cfg.Backfill.ChunkSize)
	assert.Equal(t, backfill.DefaultMaxRetries, cfg.Backfill.MaxRetries)
	assert.Equal(t, "none", cfg.Metrics.Backend)
	assert.Equal(t, "backfill", cfg.Temporal.TaskQueue)
	assert.Empty(t, Validate(*cfg, nil))
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "backfill.yaml", `
job: nightly
warehouse:
  kind: postgres
  dsn: postgres://etl:${PGPASS}@db/taxi
  schema: raw
retry:
  delay: 250ms
backfill:
  service: green
  year: 2019
  months: "1,2,3"
  chunk_size: 5000
`)
	t.Setenv("PGPASS", "s3cret")
	t.Setenv("BACKFILL_BACKFILL_YEAR", "2020")
	t.Setenv("BACKFILL_METRICS_BACKEND", "pushgateway")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "nightly", cfg.Job)
	assert.Equal(t, "postgres://etl:s3cret@db/taxi", cfg.Warehouse.DSN)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, "green", cfg.Backfill.Service)
	assert.Equal(t, 2020, cfg.Backfill.Year)
	assert.Equal(t, 5000, cfg.Backfill.ChunkSize)
	assert.Equal(t, "pushgateway", cfg.Metrics.Backend)

	sc := cfg.StorageConfig()
	assert.Equal(t, "postgres", sc.Kind)
	assert.Equal(t, "raw", sc.Schema)
	assert.Nil(t, sc.Options)

	p := cfg.Params()
	assert.Equal(t, "1,2,3", p.Months)
	assert.Equal(t, 2020, p.Year)

	pol := cfg.RetryPolicy()
	assert.Equal(t, retry.Policy{MaxAttempts: backfill.DefaultMaxRetries, Delay: 250 * time.Millisecond, Multiplier: 2}, pol)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestParams_EmptyMonthsMeansAll(t *testing.T) {
	t.Parallel()
	cfg := Config{Backfill: Backfill{Service: "yellow", Year: 2015, ChunkSize: 10, MaxRetries: 1}}
	if got := cfg.Params().Months; got != nil {
		t.Fatalf("Params().Months=%v, want nil", got)
	}
}

func TestStorageConfig_Snowflake(t *testing.T) {
	t.Setenv("SF_PASSWORD", "pw")
	path := writeFile(t, "sf.yaml", `
warehouse:
  kind: snowflake
  dsn: ""
  database: NYC
  schema: RAW
  snowflake:
    account: acme-xy123
    user: loader
    password: $SF_PASSWORD
    warehouse: LOAD_WH
`)
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	sc := cfg.StorageConfig()
	assert.Equal(t, "NYC", sc.Database)
	assert.Equal(t, map[string]string{
		"account": "acme-xy123", "user": "loader", "password": "pw", "warehouse": "LOAD_WH", "role": "",
	}, sc.Options)
	assert.False(t, HasErrors(Validate(*cfg, []string{"snowflake"})))
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	cfg := Config{Source: Source{BaseURL: "http://mirror/trips", ReferenceURL: "http://mirror/zones.csv"}}
	assert.Equal(t, source.Catalog{BaseURL: "http://mirror/trips", ReferenceURL: "http://mirror/zones.csv"}, cfg.Catalog())
}
