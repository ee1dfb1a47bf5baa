package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/timmy/tendersync/internal/domain"
)

type Config struct {
	Data        DataConfig          `mapstructure:"data"`
	Sync        SyncConfig          `mapstructure:"sync"`
	Reconcile   ReconcileConfig     `mapstructure:"reconcile"`
	Status      StatusConfig        `mapstructure:"status"`
	Scraper     ScraperConfig       `mapstructure:"scraper"`
	TenderTypes []domain.TenderType `mapstructure:"tender_types"`
	Server      ServerConfig        `mapstructure:"server"`
	Database    DatabaseConfig      `mapstructure:"database"`
	Storage     StorageConfig       `mapstructure:"storage"`
	Metrics     MetricsConfig       `mapstructure:"metrics"`
	Log         LogConfig           `mapstructure:"log"`
}

type DataConfig struct {
	Dir         string        `mapstructure:"dir"`
	HistoryFile string        `mapstructure:"history_file"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

type SyncConfig struct {
	RecencyDays          int           `mapstructure:"recency_days"`
	RecheckBatchSize     int           `mapstructure:"recheck_batch_size"`
	CallTimeout          time.Duration `mapstructure:"call_timeout"`
	InitialLookbackDays  int           `mapstructure:"initial_lookback_days"`
	DiscoveryBufferDays  int           `mapstructure:"discovery_buffer_days"`
	DiscoveryHorizonDays int           `mapstructure:"discovery_horizon_days"`
	HistoryRetention     int           `mapstructure:"history_retention"`
	FreshnessHours       float64       `mapstructure:"freshness_hours"`
	Timezone             string        `mapstructure:"timezone"`
}

type ReconcileConfig struct {
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	MaxCountQueries   int           `mapstructure:"max_count_queries"`
	FullRescrapeRatio float64       `mapstructure:"full_rescrape_ratio"`
	Coalesce          bool          `mapstructure:"coalesce"`
}

type StatusConfig struct {
	VocabularyFile string `mapstructure:"vocabulary_file"`
}

type ScraperConfig struct {
	Backend    string        `mapstructure:"backend"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Workers    int           `mapstructure:"workers"`
	RetryCount int           `mapstructure:"retry_count"`
	StagingDir string        `mapstructure:"staging_dir"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	BatchSize       int           `mapstructure:"batch_size"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment endpoints under their conventional names
	v.BindEnv("scraper.base_url", "SCRAPER_API_URL")
	v.BindEnv("scraper.api_key", "SCRAPER_API_KEY")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.TenderTypes) == 0 {
		cfg.TenderTypes = domain.DefaultTenderTypes()
	}

	return &cfg, nil
}

// SetDefaults registers a default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.history_file", "update_logs.json")
	v.SetDefault("data.lock_ttl", 10*time.Minute)

	v.SetDefault("sync.recency_days", 60)
	v.SetDefault("sync.recheck_batch_size", 50)
	v.SetDefault("sync.call_timeout", 10*time.Minute)
	v.SetDefault("sync.initial_lookback_days", 30)
	v.SetDefault("sync.discovery_buffer_days", 0)
	v.SetDefault("sync.discovery_horizon_days", 0)
	v.SetDefault("sync.history_retention", 100)
	v.SetDefault("sync.freshness_hours", 48.0)
	v.SetDefault("sync.timezone", "Asia/Tbilisi")

	v.SetDefault("reconcile.call_timeout", 60*time.Second)
	v.SetDefault("reconcile.max_count_queries", 64)
	v.SetDefault("reconcile.full_rescrape_ratio", 0.75)
	v.SetDefault("reconcile.coalesce", true)

	v.SetDefault("status.vocabulary_file", "")

	v.SetDefault("scraper.backend", "api")
	v.SetDefault("scraper.base_url", "http://localhost:8000")
	v.SetDefault("scraper.timeout", 5*time.Minute)
	v.SetDefault("scraper.workers", 4)
	v.SetDefault("scraper.retry_count", 2)
	v.SetDefault("scraper.staging_dir", "./data/staging")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/tenders.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.batch_size", 500)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.type", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "tender-snapshots")
	v.SetDefault("storage.prefix", "snapshots")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate rejects values the sync engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is required"))
	}
	if c.Sync.RecencyDays < 0 {
		errs = append(errs, errors.New("sync.recency_days must not be negative"))
	}
	if c.Sync.RecheckBatchSize <= 0 {
		errs = append(errs, errors.New("sync.recheck_batch_size must be positive"))
	}
	if c.Sync.CallTimeout <= 0 {
		errs = append(errs, errors.New("sync.call_timeout must be positive"))
	}
	if c.Sync.InitialLookbackDays < 0 || c.Sync.DiscoveryBufferDays < 0 || c.Sync.DiscoveryHorizonDays < 0 {
		errs = append(errs, errors.New("sync lookback, buffer and horizon days must not be negative"))
	}
	if c.Sync.HistoryRetention <= 0 {
		errs = append(errs, errors.New("sync.history_retention must be positive"))
	}
	if c.Sync.Timezone != "" {
		if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("sync.timezone: %w", err))
		}
	}
	if c.Reconcile.FullRescrapeRatio < 0 || c.Reconcile.FullRescrapeRatio > 1 {
		errs = append(errs, errors.New("reconcile.full_rescrape_ratio must be within [0,1]"))
	}
	if c.Reconcile.MaxCountQueries < 0 {
		errs = append(errs, errors.New("reconcile.max_count_queries must not be negative"))
	}
	switch c.Scraper.Backend {
	case "api":
		if c.Scraper.BaseURL == "" {
			errs = append(errs, errors.New("scraper.base_url is required for the api backend"))
		}
	case "staging":
		if c.Scraper.StagingDir == "" {
			errs = append(errs, errors.New("scraper.staging_dir is required for the staging backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("scraper.backend %q is not one of api, staging", c.Scraper.Backend))
	}
	seen := make(map[string]bool)
	for _, tt := range c.TenderTypes {
		if tt.Code == "" {
			errs = append(errs, errors.New("tender_types entry without code"))
			continue
		}
		if seen[tt.Code] {
			errs = append(errs, fmt.Errorf("tender type %s configured twice", tt.Code))
		}
		seen[tt.Code] = true
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite, postgres", c.Database.Driver))
		}
		if c.Database.DSN() == "" {
			errs = append(errs, errors.New("database connection is not configured"))
		}
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required when storage is enabled"))
	}
	return errors.Join(errs...)
}

// Location returns the configured sync timezone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c.Sync.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HistoryPath returns the run-history file inside the data directory.
func (c *Config) HistoryPath() string {
	if filepath.IsAbs(c.Data.HistoryFile) {
		return c.Data.HistoryFile
	}
	return filepath.Join(c.Data.Dir, c.Data.HistoryFile)
}

// TenderType returns the configured entry for code.
func (c *Config) TenderType(code string) (domain.TenderType, error) {
	return domain.LookupTenderType(c.TenderTypes, code)
}

// DataFile returns the record file for a tender type.
func (c *Config) DataFile(tt domain.TenderType) string {
	name := tt.File
	if name == "" {
		name = domain.DataFileName(tt.Code)
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Data.Dir, name)
}
