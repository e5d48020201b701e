// Package config loads the backfill configuration.
//
// Precedence, lowest first: built-in defaults, the optional config file
// (YAML, JSON or TOML by extension), BACKFILL_* environment variables with
// "." replaced by "_" (warehouse.dsn is BACKFILL_WAREHOUSE_DSN), then flags
// bound by the caller. DSNs and credentials may reference other environment
// variables as $VAR or ${VAR}.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"backfill/internal/backfill"
	"backfill/internal/retry"
	"backfill/internal/source"
	"backfill/internal/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BACKFILL"

type Config struct {
	// Job names the run in metrics ("job" tag / Pushgateway group).
	Job string `mapstructure:"job"`

	Source    Source    `mapstructure:"source"`
	Warehouse Warehouse `mapstructure:"warehouse"`
	Retry     Retry     `mapstructure:"retry"`
	Backfill  Backfill  `mapstructure:"backfill"`
	Logging   Logging   `mapstructure:"logging"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Temporal  Temporal  `mapstructure:"temporal"`
}

type Source struct {
	BaseURL      string        `mapstructure:"base_url"`
	ReferenceURL string        `mapstructure:"reference_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type Warehouse struct {
	Kind     string `mapstructure:"kind"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
	Schema   string `mapstructure:"schema"`

	// Snowflake builds its DSN from these when DSN is empty.
	Snowflake Snowflake `mapstructure:"snowflake"`
}

type Snowflake struct {
	Account   string `mapstructure:"account"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Warehouse string `mapstructure:"warehouse"`
	Role      string `mapstructure:"role"`
}

type Retry struct {
	Delay      time.Duration `mapstructure:"delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// Backfill holds the default invocation parameters. Command line flags and
// workflow input override them per run.
type Backfill struct {
	Service     string `mapstructure:"service"`
	Year        int    `mapstructure:"year"`
	Months      string `mapstructure:"months"`
	ChunkSize   int    `mapstructure:"chunk_size"`
	MaxRetries  int    `mapstructure:"max_retries"`
	ForceReload bool   `mapstructure:"force_reload"`
}

type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string        `mapstructure:"backend"`
	PushgatewayURL string        `mapstructure:"pushgateway_url"`
	FlushEvery     time.Duration `mapstructure:"flush_every"`
	Tags           string        `mapstructure:"tags"`
}

type Temporal struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("job", "backfill")

	v.SetDefault("source.base_url", source.DefaultBaseURL)
	v.SetDefault("source.reference_url", source.DefaultReferenceURL)
	v.SetDefault("source.timeout", source.DefaultTimeout)

	v.SetDefault("warehouse.kind", "sqlite")
	v.SetDefault("warehouse.dsn", "backfill.db")
	v.SetDefault("warehouse.database", "")
	v.SetDefault("warehouse.schema", "")
	for _, k := range []string{"account", "user", "password", "warehouse", "role"} {
		v.SetDefault("warehouse.snowflake."+k, "")
	}

	v.SetDefault("retry.delay", retry.DefaultDelay)
	v.SetDefault("retry.multiplier", retry.DefaultMultiplier)

	v.SetDefault("backfill.service", backfill.DefaultService)
	v.SetDefault("backfill.year", backfill.DefaultYear)
	v.SetDefault("backfill.months", "")
	v.SetDefault("backfill.chunk_size", backfill.DefaultChunkSize)
	v.SetDefault("backfill.max_retries", backfill.DefaultMaxRetries)
	v.SetDefault("backfill.force_reload", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.pushgateway_url", "http://localhost:9091")
	v.SetDefault("metrics.flush_every", 60*time.Second)
	v.SetDefault("metrics.tags", "")

	v.SetDefault("temporal.address", "127.0.0.1:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "backfill")
}

// Load reads path (skipped when empty) and the environment into a Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expand()
	return &cfg, nil
}

func (c *Config) expand() {
	c.Warehouse.DSN = os.ExpandEnv(c.Warehouse.DSN)
	sf := &c.Warehouse.Snowflake
	sf.Account = os.ExpandEnv(sf.Account)
	sf.User = os.ExpandEnv(sf.User)
	sf.Password = os.ExpandEnv(sf.Password)
}

// StorageConfig is the warehouse section in the form storage.Open takes.
func (c *Config) StorageConfig() storage.Config {
	w := c.Warehouse
	sc := storage.Config{Kind: w.Kind, DSN: w.DSN, Database: w.Database, Schema: w.Schema}
	if w.Kind == "snowflake" {
		sc.Options = map[string]string{
			"account":   w.Snowflake.Account,
			"user":      w.Snowflake.User,
			"password":  w.Snowflake.Password,
			"warehouse": w.Snowflake.Warehouse,
			"role":      w.Snowflake.Role,
		}
	}
	return sc
}

// RetryPolicy returns the configured delay and multiplier. The attempt count
// comes from each run's max_retries.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Backfill.MaxRetries, Delay: c.Retry.Delay, Multiplier: c.Retry.Multiplier}
}

func (c *Config) Catalog() source.Catalog {
	return source.Catalog{BaseURL: c.Source.BaseURL, ReferenceURL: c.Source.ReferenceURL}
}

// Params returns the configured default invocation.
func (c *Config) Params() backfill.Params {
	p := backfill.Params{
		Service:     c.Backfill.Service,
		Year:        c.Backfill.Year,
		ChunkSize:   c.Backfill.ChunkSize,
		MaxRetries:  c.Backfill.MaxRetries,
		ForceReload: c.Backfill.ForceReload,
	}
	if c.Backfill.Months != "" {
		p.Months = c.Backfill.Months
	}
	return p
}
