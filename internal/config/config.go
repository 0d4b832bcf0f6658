package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/types"
)

type Config struct {
	Database    Database                  `json:"database" mapstructure:"database"`
	Source      Source                    `json:"source" mapstructure:"source"`
	Window      Window                    `json:"window" mapstructure:"window"`
	Entities    map[string]EntityOverride `json:"entities" mapstructure:"entities"`
	SnapshotDir string                    `json:"snapshot_dir" mapstructure:"snapshot_dir"`
	Transform   Transform                 `json:"transform" mapstructure:"transform"`
	Export      Export                    `json:"export" mapstructure:"export"`
	Pipeline    Pipeline                  `json:"pipeline" mapstructure:"pipeline"`
	LogFile     string                    `json:"log_file" mapstructure:"log_file"`
}

type Database struct {
	Provider string `json:"provider" mapstructure:"provider"`
	URLEnv   string `json:"url_env" mapstructure:"url_env"`
}

type Source struct {
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	AppTokenEnv string        `json:"app_token_env" mapstructure:"app_token_env"`
	PageSize    int           `json:"page_size" mapstructure:"page_size"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	Retry       Retry         `json:"retry" mapstructure:"retry"`
}

// Retry configures the HTTP retry transport. InitialBackoff is in seconds.
type Retry struct {
	MaxAttempts       int     `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff    float64 `json:"initial_backoff" mapstructure:"initial_backoff"`
	BackoffMultiplier float64 `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	RetryableStatuses []int   `json:"retryable_statuses" mapstructure:"retryable_statuses"`
}

type Window struct {
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
}

type EntityOverride struct {
	Resource string `json:"resource,omitempty" mapstructure:"resource"`
	Table    string `json:"table,omitempty" mapstructure:"table"`
	RowCap   int    `json:"row_cap,omitempty" mapstructure:"row_cap"`
}

type Transform struct {
	Script       string `json:"script,omitempty" mapstructure:"script"`
	SummaryTable string `json:"summary_table" mapstructure:"summary_table"`
}

type Export struct {
	Path   string `json:"path" mapstructure:"path"`
	Format string `json:"format" mapstructure:"format"`
}

type Pipeline struct {
	Parallel  bool   `json:"parallel" mapstructure:"parallel"`
	Reconcile string `json:"reconcile" mapstructure:"reconcile"`
}

const (
	ReconcileWarn   = "warn"
	ReconcileStrict = "strict"

	DefaultBaseURL = "https://data.cityofnewyork.us/resource"
	DefaultStart   = "2024-10-01T00:00:00"
)

// Load unmarshals the global viper state.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal. Entity overrides are map keyed and only come from files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.provider", "postgresql")
	v.SetDefault("database.url_env", "POSTGRES_URL")
	v.SetDefault("source.base_url", DefaultBaseURL)
	v.SetDefault("source.app_token_env", "SOCRATA_APP_TOKEN")
	v.SetDefault("source.page_size", 10000)
	v.SetDefault("source.timeout", 60*time.Second)
	v.SetDefault("source.retry.max_attempts", 4)
	v.SetDefault("source.retry.initial_backoff", 1.0)
	v.SetDefault("source.retry.backoff_multiplier", 2.0)
	v.SetDefault("source.retry.retryable_statuses", []int{429, 500, 502, 503, 504})
	v.SetDefault("window.start", DefaultStart)
	v.SetDefault("window.end", time.Now().UTC().Truncate(24*time.Hour).Format(types.FloatingTimestamp))
	v.SetDefault("snapshot_dir", filepath.Join("data", "raw"))
	v.SetDefault("transform.script", "")
	v.SetDefault("transform.summary_table", "collision_summary")
	v.SetDefault("export.path", "collision_summary.csv")
	v.SetDefault("export.format", "csv")
	v.SetDefault("pipeline.parallel", true)
	v.SetDefault("pipeline.reconcile", ReconcileWarn)
	v.SetDefault("log_file", "")
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrConfig, "failed to unmarshal config")
	}
	cfg.Source.BaseURL = strings.TrimRight(cfg.Source.BaseURL, "/")

	return &cfg, nil
}

func (c *Config) GetDatabaseURL() (string, error) {
	dbURL := os.Getenv(c.Database.URLEnv)
	if dbURL == "" {
		return "", errors.WrapError(nil, errors.ErrConfig,
			fmt.Sprintf("database URL not found in environment variable %s", c.Database.URLEnv))
	}
	return dbURL, nil
}

// AppToken returns the optional Socrata application token.
func (c *Config) AppToken() string {
	return os.Getenv(c.Source.AppTokenEnv)
}

func (c *Config) GetWindow() (types.Window, error) {
	w, err := types.ParseWindow(c.Window.Start, c.Window.End)
	if err != nil {
		return types.Window{}, errors.WrapError(err, errors.ErrConfig, "invalid window")
	}
	return w, nil
}

// GetEntities merges configured overrides onto the default datasets.
func (c *Config) GetEntities() (map[string]types.Entity, error) {
	entities := types.DefaultEntities()
	for name, override := range c.Entities {
		e, ok := entities[name]
		if !ok {
			return nil, errors.WrapError(nil, errors.ErrConfig, fmt.Sprintf("unknown entity %q", name))
		}
		if override.Resource != "" {
			e.ResourceID = override.Resource
		}
		if override.Table != "" {
			e.Table = override.Table
		}
		if override.RowCap != 0 {
			e.RowCap = override.RowCap
		}
		entities[name] = e
	}
	return entities, nil
}

// SnapshotPath is the fixed location of an entity's raw snapshot.
func (c *Config) SnapshotPath(entity string) string {
	return filepath.Join(c.SnapshotDir, fmt.Sprintf("data_raw_%s.csv", entity))
}

func (c *Config) ManifestPath() string {
	return filepath.Join(c.SnapshotDir, "manifest.yaml")
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.SnapshotDir,
		filepath.Dir(c.Export.Path),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func (c *Config) Validate() error {
	supportedProviders := []string{"postgresql", "postgres", "mysql", "sqlite", "sqlite3"}
	supported := false
	for _, provider := range supportedProviders {
		if c.Database.Provider == provider {
			supported = true
			break
		}
	}
	if !supported {
		return errors.WrapError(nil, errors.ErrConfig,
			fmt.Sprintf("unsupported database provider: %s. Supported providers: %v", c.Database.Provider, supportedProviders))
	}

	if _, err := c.GetWindow(); err != nil {
		return err
	}

	entities, err := c.GetEntities()
	if err != nil {
		return err
	}
	tables := make(map[string]string, len(entities))
	for _, name := range types.EntityOrder {
		e := entities[name]
		if e.RowCap <= 0 {
			return errors.WrapError(nil, errors.ErrConfig, fmt.Sprintf("row_cap for %s must be positive", name))
		}
		if e.ResourceID == "" || e.Table == "" {
			return errors.WrapError(nil, errors.ErrConfig, fmt.Sprintf("entity %s needs a resource and a table", name))
		}
		if other, dup := tables[e.Table]; dup {
			return errors.WrapError(nil, errors.ErrConfig, fmt.Sprintf("entities %s and %s share table %s", other, name, e.Table))
		}
		tables[e.Table] = name
	}
	if _, dup := tables[c.Transform.SummaryTable]; dup {
		return errors.WrapError(nil, errors.ErrConfig, "summary_table cannot reuse a raw table name")
	}

	if c.Source.PageSize <= 0 || c.Source.PageSize > 50000 {
		return errors.WrapError(nil, errors.ErrConfig, "source.page_size must be between 1 and 50000")
	}

	if c.Pipeline.Reconcile != ReconcileWarn && c.Pipeline.Reconcile != ReconcileStrict {
		return errors.WrapError(nil, errors.ErrConfig,
			fmt.Sprintf("pipeline.reconcile must be %q or %q", ReconcileWarn, ReconcileStrict))
	}

	switch c.Export.Format {
	case "csv", "json", "sqlite":
	default:
		return errors.WrapError(nil, errors.ErrConfig, fmt.Sprintf("unsupported export format: %s", c.Export.Format))
	}

	if c.SnapshotDir == "" {
		return errors.WrapError(nil, errors.ErrConfig, "snapshot_dir cannot be empty")
	}

	return nil
}
