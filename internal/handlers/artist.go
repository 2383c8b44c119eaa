package handlers

import (
	"log/slog"
	"net/http"
	"time"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/jsonutil"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/removal"
)

// ArtistHandler contains handlers for artist operations.
type ArtistHandler struct {
	reg     registry.Registry
	remover *removal.Orchestrator
	logger  *slog.Logger
}

// NewArtistHandler creates a new ArtistHandler with the given dependencies.
func NewArtistHandler(reg registry.Registry, remover *removal.Orchestrator, logger *slog.Logger) *ArtistHandler {
	return &ArtistHandler{reg: reg, remover: remover, logger: logging.Component(logger, "artists")}
}

type artistRequest struct {
	Name string `json:"name"`
}

// DeleteArtistResponse is the body of a successful cascade delete.
type DeleteArtistResponse struct {
	Success bool `json:"success"`
	removal.CascadeResult
}

// ListArtists handles GET /api/artists.
func (h *ArtistHandler) ListArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := h.reg.ListArtists(r.Context())
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, artists)
}

// CreateArtist handles POST /api/artists with body {"name": "..."}.
func (h *ArtistHandler) CreateArtist(w http.ResponseWriter, r *http.Request) {
	var req artistRequest
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	name, err := validateArtistName(req.Name)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}

	artist, err := h.reg.CreateArtist(r.Context(), name, time.Now().UTC())
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	h.logger.Info("artist created", "id", artist.ID)
	jsonutil.WriteJSON(w, http.StatusCreated, artist)
}

// GetArtist handles GET /api/artists/{id}.
func (h *ArtistHandler) GetArtist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	artist, err := h.reg.GetArtist(r.Context(), id)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	if artist == nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrArtistNotFound)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, artist)
}

// UpdateArtist handles PUT /api/artists/{id} with body {"name": "..."}.
func (h *ArtistHandler) UpdateArtist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	var req artistRequest
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	name, err := validateArtistName(req.Name)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}

	artist, err := h.reg.UpdateArtist(r.Context(), id, name)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	if artist == nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrArtistNotFound)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, artist)
}

// DeleteArtist handles DELETE /api/artists/{id}, removing the artist and
// every asset it owns.
func (h *ArtistHandler) DeleteArtist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	res, err := h.remover.DeleteArtist(r.Context(), id)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, DeleteArtistResponse{Success: true, CascadeResult: *res})
}
