// Package removal deletes assets and artists. Registry rows are removed
// before files, so an interrupted delete leaves orphaned files for the
// scanner to find, never records that point at nothing.
package removal

import (
	"context"
	"fmt"
	"log/slog"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/metrics"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/storage"
)

// FileError records a file that could not be removed during a cascade.
type FileError struct {
	AssetID int64  `json:"assetId"`
	Path    string `json:"path"`
	Error   string `json:"error"`
}

// CascadeResult is the outcome of DeleteArtist.
type CascadeResult struct {
	AssetsRemoved int         `json:"assetsRemoved"`
	FileErrors    []FileError `json:"fileErrors"`
}

// Orchestrator deletes registry rows and their backing files.
type Orchestrator struct {
	registry registry.Registry
	store    storage.Backend
	logger   *slog.Logger
}

// New creates an Orchestrator. A nil logger uses slog.Default().
func New(reg registry.Registry, store storage.Backend, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{registry: reg, store: store, logger: logging.Component(logger, "removal")}
}

// DeleteAsset removes the record, then its file. A file that cannot be
// removed is logged and left for the scanner.
func (o *Orchestrator) DeleteAsset(ctx context.Context, id int64) error {
	rec, err := o.registry.GetAsset(ctx, id)
	if err != nil {
		return apperr.ErrRegistry.Wrap(err)
	}
	if rec == nil {
		return apperr.ErrAssetNotFound
	}

	removed, err := o.registry.DeleteAsset(ctx, id)
	if err != nil {
		return apperr.ErrRegistry.Wrap(err)
	}
	if !removed {
		// Raced with another delete.
		return apperr.ErrAssetNotFound
	}
	metrics.DeletesTotal.WithLabelValues("asset").Inc()

	if err := o.store.Delete(ctx, rec.Path); err != nil {
		metrics.FileCleanupFailuresTotal.Inc()
		o.logger.Warn("asset file delete failed", "id", id, "path", rec.Path, "error", err)
	}
	o.logger.Info("asset deleted", "id", id, "path", rec.Path)
	return nil
}

// DeleteArtist removes the artist together with every asset it owns.
// Asset rows go first in one registry transaction, then every file is
// attempted, then the artist row. File failures are collected, not fatal.
func (o *Orchestrator) DeleteArtist(ctx context.Context, id int64) (*CascadeResult, error) {
	artist, err := o.registry.GetArtist(ctx, id)
	if err != nil {
		return nil, apperr.ErrRegistry.Wrap(err)
	}
	if artist == nil {
		return nil, apperr.ErrArtistNotFound
	}

	assets, err := o.registry.ListAssetsByArtist(ctx, id)
	if err != nil {
		return nil, apperr.ErrRegistry.Wrap(err)
	}
	removed, err := o.registry.DeleteAssetsByArtist(ctx, id)
	if err != nil {
		return nil, apperr.ErrRegistry.Wrap(err)
	}

	res := &CascadeResult{AssetsRemoved: removed, FileErrors: make([]FileError, 0)}
	for _, a := range assets {
		if err := o.store.Delete(ctx, a.Path); err != nil {
			metrics.FileCleanupFailuresTotal.Inc()
			o.logger.Warn("asset file delete failed", "artist_id", id, "id", a.ID, "path", a.Path, "error", err)
			res.FileErrors = append(res.FileErrors, FileError{AssetID: a.ID, Path: a.Path, Error: err.Error()})
		}
	}

	ok, err := o.registry.DeleteArtist(ctx, id)
	if err != nil {
		return res, apperr.ErrRegistry.Wrap(fmt.Errorf("deleting artist %d: %w", id, err))
	}
	if !ok {
		return res, apperr.ErrArtistNotFound
	}
	metrics.DeletesTotal.WithLabelValues("artist").Inc()
	o.logger.Info("artist deleted", "id", id, "assets_removed", removed, "file_errors", len(res.FileErrors))
	return res, nil
}
