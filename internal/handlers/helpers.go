// Package handlers implements the HTTP handlers of the Galleria JSON API.
package handlers

import (
	"net/http"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/registry"
)

var idPattern = regexp.MustCompile(`^\d+$`)

// pathID extracts and validates the {id} URL parameter. Anything other
// than a run of ASCII digits is rejected without touching the registry.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	if !idPattern.MatchString(raw) {
		return 0, apperr.ErrInvalidID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.ErrInvalidID.Wrap(err)
	}
	return id, nil
}

// validateArtistName trims name and checks it is non-empty and within
// registry.MaxNameLength characters.
func validateArtistName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.ErrInvalidName
	}
	if utf8.RuneCountInString(name) > registry.MaxNameLength {
		return "", apperr.ErrInvalidName.WithMessage("Artist name must be at most %d characters", registry.MaxNameLength)
	}
	return name, nil
}

var mimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
}

// contentTypeForPath maps a stored path's extension to a MIME type.
func contentTypeForPath(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
