// Package config handles loading and parsing of Galleria configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for Galleria.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Registry      RegistryConfig      `yaml:"registry"`
	Storage       StorageConfig       `yaml:"storage"`
	Scan          ScanConfig          `yaml:"scan"`
	Export        ExportConfig        `yaml:"export"`
	Admin         AdminConfig         `yaml:"admin"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown window in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxUploadBytes caps the size of a single uploaded image.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// RegistryConfig selects and configures the relational registry.
type RegistryConfig struct {
	// Engine is "sqlite", "postgres" or "memory".
	Engine   string         `yaml:"engine"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite registry settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL registry settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// StorageConfig holds asset store settings.
type StorageConfig struct {
	// Backend is one of local, memory, aws, gcp, azure.
	Backend string `yaml:"backend"`
	// Collection is the top-level directory new uploads are placed in.
	Collection string      `yaml:"collection"`
	Local      LocalConfig `yaml:"local"`
	// MemoryMaxBytes caps the memory backend; zero means unbounded.
	MemoryMaxBytes int64 `yaml:"memory_max_bytes"`

	AWSBucket          string `yaml:"aws_bucket"`
	AWSRegion          string `yaml:"aws_region"`
	AWSPrefix          string `yaml:"aws_prefix"`
	// AWSEndpointURL points at an S3-compatible service instead of AWS.
	AWSEndpointURL     string `yaml:"aws_endpoint_url"`
	AWSUsePathStyle    bool   `yaml:"aws_use_path_style"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`

	GCPBucket  string `yaml:"gcp_bucket"`
	GCPProject string `yaml:"gcp_project"`
	GCPPrefix  string `yaml:"gcp_prefix"`

	AzureContainer string `yaml:"azure_container"`
	// AzureAccount is used to construct the account URL
	// https://{account}.blob.core.windows.net when AzureAccountURL is empty.
	AzureAccount          string `yaml:"azure_account"`
	AzureAccountURL       string `yaml:"azure_account_url"`
	AzurePrefix           string `yaml:"azure_prefix"`
	AzureConnectionString string `yaml:"azure_connection_string"`
	AzureUseManagedID     bool   `yaml:"azure_use_managed_identity"`
}

// LocalConfig holds local filesystem store settings.
type LocalConfig struct {
	// RootDir is the base directory of the asset store.
	RootDir string `yaml:"root_dir"`
}

// ScanConfig holds consistency scanner settings.
type ScanConfig struct {
	// OrphanPolicy is the default for /api/admin/cleanup: report or delete.
	OrphanPolicy string `yaml:"orphan_policy"`
	// MaxErrors bounds the error list of a scan report.
	MaxErrors int `yaml:"max_errors"`
	// Schedule is a cron expression for periodic report-only scans.
	// Empty disables scheduling.
	Schedule string `yaml:"schedule"`
}

// ExportConfig holds archive export settings.
type ExportConfig struct {
	// Concurrency is the number of parallel store reads per export.
	Concurrency int `yaml:"concurrency"`
}

// AdminConfig guards the maintenance endpoints.
type AdminConfig struct {
	// Token, when set, must be presented as a Bearer token on /api/admin/*.
	Token string `yaml:"token"`
}

// ObservabilityConfig toggles metrics and deep health checks.
type ObservabilityConfig struct {
	Metrics     bool `yaml:"metrics"`
	HealthCheck bool `yaml:"health_check"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies defaults for unset values.
// If the primary path fails, it falls back to galleria.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "galleria.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "galleria.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ShutdownTimeout: 30,
			MaxUploadBytes:  10 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Registry: RegistryConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/registry.db",
			},
		},
		Storage: StorageConfig{
			Backend:    "local",
			Collection: "uploads",
			Local: LocalConfig{
				RootDir: "./data/public",
			},
		},
		Scan: ScanConfig{
			OrphanPolicy: "report",
			MaxErrors:    100,
		},
		Export: ExportConfig{
			Concurrency: 4,
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = d.Server.MaxUploadBytes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Registry.Engine == "" {
		cfg.Registry.Engine = d.Registry.Engine
	}
	if cfg.Registry.SQLite.Path == "" {
		cfg.Registry.SQLite.Path = d.Registry.SQLite.Path
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = d.Storage.Collection
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = d.Storage.Local.RootDir
	}
	if cfg.Scan.OrphanPolicy == "" {
		cfg.Scan.OrphanPolicy = d.Scan.OrphanPolicy
	}
	if cfg.Scan.MaxErrors == 0 {
		cfg.Scan.MaxErrors = d.Scan.MaxErrors
	}
	if cfg.Export.Concurrency == 0 {
		cfg.Export.Concurrency = d.Export.Concurrency
	}
}

// Validate checks enumerated settings and backend requirements.
func (c *Config) Validate() error {
	switch c.Registry.Engine {
	case "sqlite", "memory":
	case "postgres":
		if c.Registry.Postgres.DSN == "" {
			return fmt.Errorf("registry.postgres.dsn is required when engine is 'postgres'")
		}
	default:
		return fmt.Errorf("unknown registry.engine %q", c.Registry.Engine)
	}

	switch c.Storage.Backend {
	case "local", "memory":
	case "aws":
		if c.Storage.AWSBucket == "" {
			return fmt.Errorf("storage.aws_bucket is required when backend is 'aws'")
		}
	case "gcp":
		if c.Storage.GCPBucket == "" {
			return fmt.Errorf("storage.gcp_bucket is required when backend is 'gcp'")
		}
	case "azure":
		if c.Storage.AzureContainer == "" {
			return fmt.Errorf("storage.azure_container is required when backend is 'azure'")
		}
		if c.Storage.AzureAccountURL == "" && c.Storage.AzureAccount == "" && c.Storage.AzureConnectionString == "" {
			return fmt.Errorf("storage.azure_account, storage.azure_account_url or storage.azure_connection_string is required when backend is 'azure'")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Scan.OrphanPolicy {
	case "report", "delete":
	default:
		return fmt.Errorf("scan.orphan_policy must be report or delete, got %q", c.Scan.OrphanPolicy)
	}
	return nil
}

// AzureAccountURLOrDefault returns the configured account URL, or one
// derived from the account name.
func (s StorageConfig) AzureAccountURLOrDefault() string {
	if s.AzureAccountURL != "" || s.AzureAccount == "" {
		return s.AzureAccountURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", s.AzureAccount)
}
