// Package export bundles an artist's assets into a ZIP archive.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/metrics"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/storage"
)

// DefaultConcurrency is the number of parallel store reads per export.
const DefaultConcurrency = 4

// SkippedEntry is an asset left out of an archive because its file could not be read.
type SkippedEntry struct {
	ID     int64  `json:"id"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Archive is a built export.
type Archive struct {
	// Filename is the suggested download name, e.g. "jane_doe_gallery.zip".
	Filename string
	Data     []byte
	// Entries lists the entry names in archive order.
	Entries []string
	Skipped []SkippedEntry
}

// Exporter builds archives from the registry and store.
type Exporter struct {
	registry    registry.Registry
	store       storage.Backend
	concurrency int
	logger      *slog.Logger
}

// New creates an Exporter. Non-positive concurrency uses DefaultConcurrency.
func New(reg registry.Registry, store storage.Backend, concurrency int, logger *slog.Logger) *Exporter {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Exporter{
		registry:    reg,
		store:       store,
		concurrency: concurrency,
		logger:      logging.Component(logger, "export"),
	}
}

// Build reads every asset of the artist and writes them to a ZIP archive,
// entries in ascending asset ID. Unreadable files are skipped and listed.
func (e *Exporter) Build(ctx context.Context, artistID int64) (*Archive, error) {
	arc, err := e.build(ctx, artistID)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ExportsTotal.WithLabelValues("success").Inc()
	return arc, nil
}

func (e *Exporter) build(ctx context.Context, artistID int64) (*Archive, error) {
	artist, err := e.registry.GetArtist(ctx, artistID)
	if err != nil {
		return nil, apperr.ErrRegistry.Wrap(err)
	}
	if artist == nil {
		return nil, apperr.ErrArtistNotFound
	}
	assets, err := e.registry.ListAssetsByArtist(ctx, artistID)
	if err != nil {
		return nil, apperr.ErrRegistry.Wrap(err)
	}
	if len(assets) == 0 {
		return nil, apperr.ErrNoAssets
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })

	// Each goroutine owns one slot, so no locking is needed.
	contents := make([][]byte, len(assets))
	readErrs := make([]error, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, a := range assets {
		g.Go(func() error {
			data, err := e.store.Read(gctx, a.Path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				readErrs[i] = err
				return nil
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	arc := &Archive{Filename: ArchiveName(artist.Name), Skipped: make([]SkippedEntry, 0)}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, a := range assets {
		if readErrs[i] != nil {
			e.logger.Warn("skipping unreadable asset", "id", a.ID, "path", a.Path, "error", readErrs[i])
			arc.Skipped = append(arc.Skipped, SkippedEntry{ID: a.ID, Path: a.Path, Reason: skipReason(readErrs[i])})
			continue
		}
		name := EntryName(a)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: a.UploadedAt.UTC(),
		})
		if err != nil {
			return nil, apperr.ErrInternal.Wrap(fmt.Errorf("adding %s: %w", name, err))
		}
		if _, err := w.Write(contents[i]); err != nil {
			return nil, apperr.ErrInternal.Wrap(fmt.Errorf("writing %s: %w", name, err))
		}
		arc.Entries = append(arc.Entries, name)
	}
	if len(arc.Entries) == 0 {
		return nil, apperr.ErrNoReadableAssets
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.ErrInternal.Wrap(fmt.Errorf("finishing archive: %w", err))
	}
	arc.Data = buf.Bytes()

	e.logger.Info("archive built",
		"artist_id", artistID,
		"entries", len(arc.Entries),
		"skipped", len(arc.Skipped),
		"bytes", len(arc.Data),
	)
	return arc, nil
}

// EntryName is the archive entry for an asset: <id>_<YYYY-MM-DD>.<format>,
// dated by the UTC upload day.
func EntryName(a registry.AssetRecord) string {
	return fmt.Sprintf("%d_%s.%s", a.ID, a.UploadedAt.UTC().Format(time.DateOnly), a.Format)
}

// ArchiveName turns an artist name into a download filename. Every
// character outside [A-Za-z0-9] becomes '_'.
func ArchiveName(artistName string) string {
	var b strings.Builder
	for _, r := range artistName {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String() + "_gallery.zip"
}

func skipReason(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return "file not found"
	}
	return err.Error()
}
