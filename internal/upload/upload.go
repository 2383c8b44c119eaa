// Package upload stores new image assets: bytes go to the asset store first,
// then the record is inserted into the registry.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/metrics"
	"github.com/galleria/galleria/internal/naming"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/storage"
)

// DefaultMaxBytes is the per-payload size limit when none is configured.
const DefaultMaxBytes int64 = 10 << 20

// maxNameAttempts bounds how often a path is re-derived when the store
// already holds a file at the generated path.
const maxNameAttempts = 3

// Payload is one uploaded file as received from the client.
type Payload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Skipped describes a batch payload that was not stored.
type Skipped struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// BatchResult is the outcome of UploadBatch.
type BatchResult struct {
	Created []registry.AssetRecord `json:"created"`
	Skipped []Skipped              `json:"skipped"`
}

// Pipeline validates payloads, writes them to the store, and registers them.
type Pipeline struct {
	registry registry.Registry
	store    storage.Backend
	namer    *naming.Namer
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxBytes sets the per-payload size limit. Non-positive values keep the default.
func WithMaxBytes(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.Component(l, "upload") }
}

// WithClock replaces the clock used for upload timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline.
func New(reg registry.Registry, store storage.Backend, namer *naming.Namer, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: reg,
		store:    store,
		namer:    namer,
		maxBytes: DefaultMaxBytes,
		now:      time.Now,
		logger:   logging.Component(nil, "upload"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxBytes returns the per-payload size limit.
func (p *Pipeline) MaxBytes() int64 { return p.maxBytes }

// Upload stores a single payload. Validation failures are returned before
// anything is written.
func (p *Pipeline) Upload(ctx context.Context, artistID int64, pl Payload) (*registry.AssetRecord, error) {
	if err := p.requireArtist(ctx, artistID); err != nil {
		return nil, err
	}
	format, err := p.validate(pl)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("skipped").Inc()
		return nil, err
	}
	rec, err := p.store1(ctx, artistID, pl, format, p.timestamp())
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.UploadsTotal.WithLabelValues("created").Inc()
	return rec, nil
}

// UploadBatch stores every acceptable payload. Rejected or failed payloads
// are listed in Skipped and do not stop the batch. All created records share
// one upload timestamp. If nothing was created the result is
// ErrNoValidPayloads. When ctx ends mid-batch the records created so far are
// returned with ctx's error and the untouched payloads are listed as skipped.
func (p *Pipeline) UploadBatch(ctx context.Context, artistID int64, payloads []Payload) (*BatchResult, error) {
	if err := p.requireArtist(ctx, artistID); err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, apperr.ErrNoPayload
	}

	res := &BatchResult{
		Created: make([]registry.AssetRecord, 0, len(payloads)),
		Skipped: make([]Skipped, 0),
	}
	ts := p.timestamp()
	for i, pl := range payloads {
		if err := ctx.Err(); err != nil {
			for _, rest := range payloads[i:] {
				res.Skipped = append(res.Skipped, Skipped{Filename: rest.Filename, Reason: "upload cancelled"})
			}
			return res, err
		}
		format, err := p.validate(pl)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("skipped").Inc()
			res.Skipped = append(res.Skipped, Skipped{Filename: pl.Filename, Reason: reason(err)})
			continue
		}
		rec, err := p.store1(ctx, artistID, pl, format, ts)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
			res.Skipped = append(res.Skipped, Skipped{Filename: pl.Filename, Reason: reason(err)})
			continue
		}
		metrics.UploadsTotal.WithLabelValues("created").Inc()
		res.Created = append(res.Created, *rec)
	}

	if len(res.Created) == 0 {
		return res, apperr.ErrNoValidPayloads
	}
	return res, nil
}

func (p *Pipeline) requireArtist(ctx context.Context, artistID int64) error {
	artist, err := p.registry.GetArtist(ctx, artistID)
	if err != nil {
		return apperr.ErrRegistry.Wrap(err)
	}
	if artist == nil {
		return apperr.ErrArtistNotFound
	}
	return nil
}

// validate derives the format from the declared content type and checks
// the payload size.
func (p *Pipeline) validate(pl Payload) (registry.Format, error) {
	format, ok := FormatFromContentType(pl.ContentType)
	if !ok {
		return "", apperr.ErrUnsupportedFormat
	}
	if len(pl.Data) == 0 {
		return "", apperr.ErrUnsupportedFormat.WithMessage("Image file is empty")
	}
	if int64(len(pl.Data)) > p.maxBytes {
		return "", apperr.ErrPayloadTooLarge
	}
	return format, nil
}

// store1 writes one validated payload and registers it.
func (p *Pipeline) store1(ctx context.Context, artistID int64, pl Payload, format registry.Format, ts time.Time) (*registry.AssetRecord, error) {
	rel, err := p.freePath(ctx, artistID, pl.Filename)
	if err != nil {
		return nil, err
	}
	if err := p.store.Write(ctx, rel, pl.Data); err != nil {
		return nil, apperr.ErrStoreWrite.Wrap(err)
	}
	metrics.BytesStoredTotal.Add(float64(len(pl.Data)))

	rec := &registry.AssetRecord{
		ArtistID:   artistID,
		Path:       rel,
		Format:     format,
		UploadedAt: ts,
	}
	if err := p.registry.CreateAsset(ctx, rec); err != nil {
		// A conflicting path belongs to another record; leave its file alone.
		if !errors.Is(err, registry.ErrPathConflict) {
			p.discard(rel)
		}
		if errors.Is(err, registry.ErrArtistMissing) {
			return nil, apperr.ErrArtistNotFound.Wrap(err)
		}
		return nil, apperr.ErrRegistry.Wrap(err)
	}
	p.logger.Info("asset stored", "id", rec.ID, "artist_id", artistID, "path", rel, "bytes", len(pl.Data))
	return rec, nil
}

// freePath returns a generated path that the store does not already hold.
func (p *Pipeline) freePath(ctx context.Context, artistID int64, filename string) (string, error) {
	for range maxNameAttempts {
		rel := p.namer.Next(artistID, filename)
		exists, err := p.store.Exists(ctx, rel)
		if err != nil {
			return "", apperr.ErrStoreWrite.Wrap(err)
		}
		if !exists {
			return rel, nil
		}
		p.logger.Warn("generated path already taken, re-deriving", "path", rel)
	}
	return "", apperr.ErrStoreWrite.Wrap(fmt.Errorf("no free path after %d attempts", maxNameAttempts))
}

// discard removes a file whose record could not be inserted. It uses a
// fresh context so a cancelled request still cleans up.
func (p *Pipeline) discard(rel string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.Delete(ctx, rel); err != nil {
		metrics.FileCleanupFailuresTotal.Inc()
		p.logger.Warn("failed to remove unregistered file", "path", rel, "error", err)
	}
}

func (p *Pipeline) timestamp() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}

// FormatFromContentType returns the format named by the subtype of a MIME
// type such as "image/png" or "image/JPEG; charset=binary".
func FormatFromContentType(ct string) (registry.Format, bool) {
	ct, _, _ = strings.Cut(ct, ";")
	_, subtype, ok := strings.Cut(ct, "/")
	if !ok {
		return "", false
	}
	return registry.ParseFormat(subtype)
}

func reason(err error) string {
	var apiErr *apperr.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
