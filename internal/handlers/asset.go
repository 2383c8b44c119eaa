package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/export"
	"github.com/galleria/galleria/internal/jsonutil"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/removal"
	"github.com/galleria/galleria/internal/storage"
	"github.com/galleria/galleria/internal/upload"
)

const (
	// singleField carries one image; its presence selects single mode.
	singleField = "image"
	// batchField carries any number of images.
	batchField = "images"
	// maxBatchFiles bounds the payloads accepted in one batch request.
	maxBatchFiles = 32
	// multipartMemory is the in-memory share of a parsed multipart form.
	multipartMemory = 32 << 20
)

// AssetHandler contains handlers for image assets.
type AssetHandler struct {
	reg      registry.Registry
	store    storage.Backend
	pipeline *upload.Pipeline
	remover  *removal.Orchestrator
	exporter *export.Exporter
	logger   *slog.Logger
}

// NewAssetHandler creates a new AssetHandler with the given dependencies.
func NewAssetHandler(reg registry.Registry, store storage.Backend, pipeline *upload.Pipeline, remover *removal.Orchestrator, exporter *export.Exporter, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		reg:      reg,
		store:    store,
		pipeline: pipeline,
		remover:  remover,
		exporter: exporter,
		logger:   logging.Component(logger, "assets"),
	}
}

// ListArtistAssets handles GET /api/artists/{id}/images, newest first.
func (h *AssetHandler) ListArtistAssets(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	if err := h.requireArtist(r, id); err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	assets, err := h.reg.ListAssetsByArtist(r.Context(), id)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, assets)
}

// Upload handles POST /api/artists/{id}/upload. A form with an "image"
// field is a single upload and fails on an unacceptable file; an "images"
// form is a batch that skips unacceptable files.
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	if err := h.requireArtist(r, id); err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.pipeline.MaxBytes()*maxBatchFiles+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonutil.WriteErrorResponse(w, r, apperr.ErrPayloadTooLarge)
			return
		}
		if errors.Is(err, http.ErrNotMultipart) {
			jsonutil.WriteErrorResponse(w, r, apperr.ErrNoPayload)
			return
		}
		jsonutil.WriteErrorResponse(w, r, apperr.ErrMalformedBody.Wrap(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	if files := r.MultipartForm.File[singleField]; len(files) > 0 {
		pl, err := h.readPayload(files[0])
		if err != nil {
			jsonutil.WriteErrorResponse(w, r, err)
			return
		}
		rec, err := h.pipeline.Upload(r.Context(), id, pl)
		if err != nil {
			jsonutil.WriteErrorResponse(w, r, err)
			return
		}
		jsonutil.WriteJSON(w, http.StatusCreated, rec)
		return
	}

	files := r.MultipartForm.File[batchField]
	if len(files) == 0 {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrNoPayload)
		return
	}
	if len(files) > maxBatchFiles {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrPayloadTooLarge.WithMessage("At most %d files may be uploaded at once", maxBatchFiles))
		return
	}

	payloads := make([]upload.Payload, 0, len(files))
	var unreadable []upload.Skipped
	for _, fh := range files {
		pl, err := h.readPayload(fh)
		if err != nil {
			unreadable = append(unreadable, upload.Skipped{Filename: fh.Filename, Reason: apperr.From(err).Message})
			continue
		}
		payloads = append(payloads, pl)
	}
	if len(payloads) == 0 {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrNoValidPayloads)
		return
	}

	res, err := h.pipeline.UploadBatch(r.Context(), id, payloads)
	if err != nil && (res == nil || len(res.Created) == 0) {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	res.Skipped = append(res.Skipped, unreadable...)
	jsonutil.WriteJSON(w, http.StatusCreated, res)
}

// readPayload loads one multipart file, reading at most one byte past the
// size limit so oversized files are detected without buffering them whole.
func (h *AssetHandler) readPayload(fh *multipart.FileHeader) (upload.Payload, error) {
	f, err := fh.Open()
	if err != nil {
		return upload.Payload{}, apperr.ErrMalformedBody.Wrap(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.pipeline.MaxBytes()+1))
	if err != nil {
		return upload.Payload{}, apperr.ErrMalformedBody.Wrap(err)
	}
	return upload.Payload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Download handles GET /api/artists/{id}/download and streams a ZIP of the
// artist's images.
func (h *AssetHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	arc, err := h.exporter.Build(r.Context(), id)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", arc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(arc.Data)))
	if len(arc.Skipped) > 0 {
		w.Header().Set("X-Skipped-Entries", strconv.Itoa(len(arc.Skipped)))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(arc.Data); err != nil {
		h.logger.Warn("archive write failed", "artist_id", id, "error", err)
	}
}

// GetImage handles GET /api/images/{id} and serves the stored bytes.
func (h *AssetHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	rec, err := h.reg.GetAsset(r.Context(), id)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	if rec == nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrAssetNotFound)
		return
	}

	data, err := h.store.Read(r.Context(), rec.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonutil.WriteErrorResponse(w, r, apperr.ErrFileNotFound)
			return
		}
		jsonutil.WriteErrorResponse(w, r, apperr.ErrStoreRead.Wrap(err))
		return
	}

	w.Header().Set("Content-Type", contentTypeForPath(rec.Path))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeleteImage handles DELETE /api/images/{id}.
func (h *AssetHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	if err := h.remover.DeleteAsset(r.Context(), id); err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AssetHandler) requireArtist(r *http.Request, id int64) error {
	artist, err := h.reg.GetArtist(r.Context(), id)
	if err != nil {
		return apperr.ErrRegistry.Wrap(err)
	}
	if artist == nil {
		return apperr.ErrArtistNotFound
	}
	return nil
}
