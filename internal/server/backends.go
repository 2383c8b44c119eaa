package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/galleria/galleria/internal/config"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/storage"
)

// OpenRegistry opens the registry engine named in cfg. The caller owns the
// returned registry and must Close it.
func OpenRegistry(ctx context.Context, cfg config.RegistryConfig) (registry.Registry, error) {
	switch cfg.Engine {
	case "memory":
		slog.Warn("Memory registry selected; records do not survive a restart")
		return registry.NewMemoryRegistry(), nil
	case "postgres":
		reg, err := registry.NewPostgresRegistry(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres registry: %w", err)
		}
		slog.Info("Registry initialized", "engine", "postgres")
		return reg, nil
	default:
		dbPath := cfg.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
		reg, err := registry.NewSQLiteRegistry(dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing sqlite registry: %w", err)
		}
		slog.Info("Registry initialized", "engine", "sqlite", "path", dbPath)
		return reg, nil
	}
}

// OpenStore builds the asset store backend named in cfg. Cloud backends
// verify their bucket or container before returning.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		slog.Warn("Memory storage backend selected; assets do not survive a restart")
		return storage.NewMemoryBackend(cfg.MemoryMaxBytes), nil

	case "aws":
		b, err := storage.NewAWSGatewayBackend(ctx, storage.AWSOptions{
			Bucket:          cfg.AWSBucket,
			Region:          cfg.AWSRegion,
			Prefix:          cfg.AWSPrefix,
			EndpointURL:     cfg.AWSEndpointURL,
			UsePathStyle:    cfg.AWSUsePathStyle,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "aws", "bucket", b.Bucket, "region", b.Region, "prefix", b.Prefix)
		return b, nil

	case "gcp":
		b, err := storage.NewGCPGatewayBackend(ctx, cfg.GCPBucket, cfg.GCPProject, cfg.GCPPrefix)
		if err != nil {
			return nil, fmt.Errorf("initializing GCP storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "gcp", "bucket", cfg.GCPBucket, "project", cfg.GCPProject, "prefix", cfg.GCPPrefix)
		return b, nil

	case "azure":
		b, err := storage.NewAzureGatewayBackend(ctx, storage.AzureOptions{
			Container:          cfg.AzureContainer,
			AccountURL:         cfg.AzureAccountURLOrDefault(),
			Prefix:             cfg.AzurePrefix,
			ConnectionString:   cfg.AzureConnectionString,
			UseManagedIdentity: cfg.AzureUseManagedID,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Azure storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "azure", "container", b.Container, "account", b.AccountURL, "prefix", b.Prefix)
		return b, nil

	default:
		b := storage.NewLocalBackend(cfg.Local.RootDir, cfg.Collection)
		if err := b.EnsureRoot(ctx); err != nil {
			return nil, fmt.Errorf("initializing local storage backend: %w", err)
		}
		// Crash-only recovery: leftovers in the temp dir are incomplete writes.
		n, err := b.CleanTempFiles()
		if err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		} else if n > 0 {
			slog.Info("Removed incomplete writes", "count", n)
		}
		slog.Info("Storage backend initialized", "backend", "local", "root", b.RootDir)
		return b, nil
	}
}
