// Package config loads the similarusers service configuration from an
// optional YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// SIMILARUSERS_DATABASE_PATH overrides database.path.
const EnvPrefix = "SIMILARUSERS"

// Config represents the complete service configuration
type Config struct {
	Listen   string         `json:"listen" mapstructure:"listen"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Wiki     WikiConfig     `json:"wiki" mapstructure:"wiki"`
	Query    QueryConfig    `json:"query" mapstructure:"query"`
	Followup FollowupConfig `json:"followup" mapstructure:"followup"`
	Ingest   IngestConfig   `json:"ingest" mapstructure:"ingest"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// DatabaseConfig contains backing-store configuration
type DatabaseConfig struct {
	// Path is the sqlite database path; ":memory:" for an in-memory store
	Path string `json:"path" mapstructure:"path"`
	// AdvisoryLock selects the lock implementation: "store" uses the
	// backing store's lock table, "noop" disables refresh-collision
	// detection (always reports the lock as free).
	AdvisoryLock string `json:"advisoryLock" mapstructure:"advisoryLock"`
	// LockName is the advisory lock shared by the ingestion pipeline
	// and the serving path's refresh check.
	LockName string `json:"lockName" mapstructure:"lockName"`
}

// WikiConfig contains edit-history API client configuration
type WikiConfig struct {
	Lang        string `json:"lang" mapstructure:"lang"`
	UserAgent   string `json:"userAgent" mapstructure:"userAgent"`
	RequestHost string `json:"requestHost" mapstructure:"requestHost"`
	Retries     int    `json:"retries" mapstructure:"retries"`
	Namespaces  []int  `json:"namespaces" mapstructure:"namespaces"`
	// EarliestTimestamp bounds the "does this user edit at all" probe.
	EarliestTimestamp string `json:"earliestTimestamp" mapstructure:"earliestTimestamp"`
	// BaselineTimestamp is where the bulk dataset ends; live augmentation
	// fetches revisions from this point forward.
	BaselineTimestamp string `json:"baselineTimestamp" mapstructure:"baselineTimestamp"`
}

// QueryConfig contains similarity-query tunables
type QueryConfig struct {
	DefaultK          int   `json:"defaultK" mapstructure:"defaultK"`
	MaxPagesPerLookup int   `json:"maxPagesPerLookup" mapstructure:"maxPagesPerLookup"`
	EditWindow        int   `json:"editWindow" mapstructure:"editWindow"`
	NeighborCap       int   `json:"neighborCap" mapstructure:"neighborCap"`
	TemporalOffsets   []int `json:"temporalOffsets" mapstructure:"temporalOffsets"`
}

// FollowupConfig contains URL templates for follow-up tool links
type FollowupConfig struct {
	URLPrefix              string `json:"urlPrefix" mapstructure:"urlPrefix"`
	EditorInteractURL      string `json:"editorInteractUrl" mapstructure:"editorInteractUrl"`
	InteractionTimelineURL string `json:"interactionTimelineUrl" mapstructure:"interactionTimelineUrl"`
}

// IngestConfig contains ingestion pipeline defaults
type IngestConfig struct {
	ResourceDir  string `json:"resourceDir" mapstructure:"resourceDir"`
	BatchSize    int    `json:"batchSize" mapstructure:"batchSize"`
	ThrottleMs   int    `json:"throttleMs" mapstructure:"throttleMs"`
	CreateTables bool   `json:"createTables" mapstructure:"createTables"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:5000",
		Database: DatabaseConfig{
			Path:         ":memory:",
			AdvisoryLock: "store",
			LockName:     "lock_ingestion",
		},
		Wiki: WikiConfig{
			Lang:              "en",
			UserAgent:         "similarusers (https://spd-test.wmcloud.org)",
			Retries:           2,
			Namespaces:        []int{0},
			EarliestTimestamp: "2020-01-01T00:00:00Z",
			BaselineTimestamp: "2020-09-30T00:00:00Z",
		},
		Query: QueryConfig{
			DefaultK:          50,
			MaxPagesPerLookup: 50,
			EditWindow:        10,
			NeighborCap:       250,
			TemporalOffsets:   []int{-1, 0, 1},
		},
		Followup: FollowupConfig{
			URLPrefix:              "https://spd-test.wmcloud.org/similarusers",
			EditorInteractURL:      "https://sigma.toolforge.org/editorinteract.py?users=%s&users=%s&users=&startdate=&enddate=&ns=&server=enwiki&allusers=on",
			InteractionTimelineURL: "https://interaction-timeline.toolforge.org/?wiki=enwiki&user=%s&user=%s",
		},
		Ingest: IngestConfig{
			ResourceDir: "resources",
			BatchSize:   50,
			ThrottleMs:  0,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// Load reads configuration from the given YAML file (optional; pass "" to
// use defaults) applying SIMILARUSERS_* environment overrides.
// Precedence: env var > config file > default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("listen", d.Listen)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.advisoryLock", d.Database.AdvisoryLock)
	v.SetDefault("database.lockName", d.Database.LockName)
	v.SetDefault("wiki.lang", d.Wiki.Lang)
	v.SetDefault("wiki.userAgent", d.Wiki.UserAgent)
	v.SetDefault("wiki.requestHost", d.Wiki.RequestHost)
	v.SetDefault("wiki.retries", d.Wiki.Retries)
	v.SetDefault("wiki.namespaces", d.Wiki.Namespaces)
	v.SetDefault("wiki.earliestTimestamp", d.Wiki.EarliestTimestamp)
	v.SetDefault("wiki.baselineTimestamp", d.Wiki.BaselineTimestamp)
	v.SetDefault("query.defaultK", d.Query.DefaultK)
	v.SetDefault("query.maxPagesPerLookup", d.Query.MaxPagesPerLookup)
	v.SetDefault("query.editWindow", d.Query.EditWindow)
	v.SetDefault("query.neighborCap", d.Query.NeighborCap)
	v.SetDefault("query.temporalOffsets", d.Query.TemporalOffsets)
	v.SetDefault("followup.urlPrefix", d.Followup.URLPrefix)
	v.SetDefault("followup.editorInteractUrl", d.Followup.EditorInteractURL)
	v.SetDefault("followup.interactionTimelineUrl", d.Followup.InteractionTimelineURL)
	v.SetDefault("ingest.resourceDir", d.Ingest.ResourceDir)
	v.SetDefault("ingest.batchSize", d.Ingest.BatchSize)
	v.SetDefault("ingest.throttleMs", d.Ingest.ThrottleMs)
	v.SetDefault("ingest.createTables", d.Ingest.CreateTables)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Query.DefaultK < 1 {
		return fmt.Errorf("query.defaultK must be at least 1, got %d", c.Query.DefaultK)
	}
	if c.Query.EditWindow < 1 {
		return fmt.Errorf("query.editWindow must be at least 1, got %d", c.Query.EditWindow)
	}
	if c.Query.NeighborCap < 1 {
		return fmt.Errorf("query.neighborCap must be at least 1, got %d", c.Query.NeighborCap)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batchSize must be at least 1, got %d", c.Ingest.BatchSize)
	}
	switch c.Database.AdvisoryLock {
	case "store", "noop":
	default:
		return fmt.Errorf("database.advisoryLock must be \"store\" or \"noop\", got %q", c.Database.AdvisoryLock)
	}
	return nil
}
