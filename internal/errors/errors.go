// Package errors defines the classified error types returned by Galleria
// operations and rendered at the HTTP boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind is the stable classification of an APIError.
type Kind string

const (
	// KindNotFound covers absent artists, assets, and backing files.
	KindNotFound Kind = "not_found"
	// KindValidation covers malformed identifiers, empty fields, and unsupported formats.
	KindValidation Kind = "validation"
	// KindStoreIO covers read/write/delete failures against the asset store.
	KindStoreIO Kind = "store_io"
	// KindRegistry covers query failures against the relational registry.
	KindRegistry Kind = "registry"
	// KindAuth covers rejected admin credentials.
	KindAuth Kind = "auth"
	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// APIError represents a classified failure with a machine-readable code,
// human-readable message, HTTP status code, and an optional underlying cause.
type APIError struct {
	// Code is the stable error code (e.g., "ArtistNotFound").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 400).
	HTTPStatus int
	// Kind is the error classification.
	Kind Kind

	cause error
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.HTTPStatus, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an APIError with the same code, so that
// wrapped copies still match the predefined values via errors.Is.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of the APIError carrying cause.
func (e *APIError) Wrap(cause error) *APIError {
	cp := *e
	cp.cause = cause
	return &cp
}

// WithMessage returns a copy of the APIError with a more specific message.
func (e *APIError) WithMessage(format string, args ...any) *APIError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Predefined errors for common conditions.
var (
	// ErrArtistNotFound is returned when the artist does not exist.
	ErrArtistNotFound = &APIError{
		Code:       "ArtistNotFound",
		Message:    "Artist not found",
		HTTPStatus: http.StatusNotFound,
		Kind:       KindNotFound,
	}

	// ErrAssetNotFound is returned when the asset record does not exist.
	ErrAssetNotFound = &APIError{
		Code:       "AssetNotFound",
		Message:    "Image not found",
		HTTPStatus: http.StatusNotFound,
		Kind:       KindNotFound,
	}

	// ErrFileNotFound is returned when a record exists but its backing file does not.
	ErrFileNotFound = &APIError{
		Code:       "FileNotFound",
		Message:    "Image file not found",
		HTTPStatus: http.StatusNotFound,
		Kind:       KindNotFound,
	}

	// ErrNoAssets is returned when exporting an artist that owns no assets.
	ErrNoAssets = &APIError{
		Code:       "NoAssets",
		Message:    "No images found for this artist",
		HTTPStatus: http.StatusNotFound,
		Kind:       KindNotFound,
	}

	// ErrNoReadableAssets is returned when every backing file of an export failed to read.
	ErrNoReadableAssets = &APIError{
		Code:       "NoReadableAssets",
		Message:    "None of the artist's image files could be read",
		HTTPStatus: http.StatusNotFound,
		Kind:       KindNotFound,
	}

	// ErrNoScanReport is returned when no scheduled scan has completed.
	ErrNoScanReport = &APIError{
		Code:       "NoScanReport",
		Message:    "No scheduled scan has completed yet",
		HTTPStatus: http.StatusNotFound,
		Kind:       KindNotFound,
	}

	// ErrInvalidID is returned when a path identifier is not a non-negative integer.
	ErrInvalidID = &APIError{
		Code:       "InvalidID",
		Message:    "Identifier must be a non-negative integer",
		HTTPStatus: http.StatusBadRequest,
		Kind:       KindValidation,
	}

	// ErrInvalidName is returned when an artist name is empty or too long.
	ErrInvalidName = &APIError{
		Code:       "InvalidName",
		Message:    "Artist name is required",
		HTTPStatus: http.StatusBadRequest,
		Kind:       KindValidation,
	}

	// ErrMalformedBody is returned when a request body cannot be decoded.
	ErrMalformedBody = &APIError{
		Code:       "MalformedBody",
		Message:    "The request body could not be parsed",
		HTTPStatus: http.StatusBadRequest,
		Kind:       KindValidation,
	}

	// ErrUnsupportedFormat is returned when a single upload is not JPEG or PNG.
	ErrUnsupportedFormat = &APIError{
		Code:       "UnsupportedFormat",
		Message:    "Only JPG and PNG formats are supported",
		HTTPStatus: http.StatusBadRequest,
		Kind:       KindValidation,
	}

	// ErrNoPayload is returned when an upload request carries no file.
	ErrNoPayload = &APIError{
		Code:       "NoPayload",
		Message:    "No image file provided",
		HTTPStatus: http.StatusBadRequest,
		Kind:       KindValidation,
	}

	// ErrNoValidPayloads is returned when no file of a batch upload was accepted.
	ErrNoValidPayloads = &APIError{
		Code:       "NoValidPayloads",
		Message:    "None of the uploaded files were accepted",
		HTTPStatus: http.StatusBadRequest,
		Kind:       KindValidation,
	}

	// ErrPayloadTooLarge is returned when an upload exceeds the configured size limit.
	ErrPayloadTooLarge = &APIError{
		Code:       "PayloadTooLarge",
		Message:    "Your upload exceeds the maximum allowed size",
		HTTPStatus: http.StatusRequestEntityTooLarge,
		Kind:       KindValidation,
	}

	// ErrStoreWrite is returned when bytes could not be written to the asset store.
	ErrStoreWrite = &APIError{
		Code:       "StoreWriteError",
		Message:    "Failed to write image file",
		HTTPStatus: http.StatusInternalServerError,
		Kind:       KindStoreIO,
	}

	// ErrStoreRead is returned when bytes could not be read from the asset store.
	ErrStoreRead = &APIError{
		Code:       "StoreReadError",
		Message:    "Failed to read image file",
		HTTPStatus: http.StatusInternalServerError,
		Kind:       KindStoreIO,
	}

	// ErrRegistry is returned when the registry query failed.
	ErrRegistry = &APIError{
		Code:       "RegistryError",
		Message:    "Registry query failed",
		HTTPStatus: http.StatusInternalServerError,
		Kind:       KindRegistry,
	}

	// ErrUnauthorized is returned when the admin token is missing or wrong.
	ErrUnauthorized = &APIError{
		Code:       "Unauthorized",
		Message:    "A valid admin token is required",
		HTTPStatus: http.StatusUnauthorized,
		Kind:       KindAuth,
	}

	// ErrInternal is returned for unexpected internal failures.
	ErrInternal = &APIError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: http.StatusInternalServerError,
		Kind:       KindInternal,
	}
)

// From converts err into an *APIError. APIErrors pass through unchanged;
// anything else becomes ErrInternal wrapping err.
func From(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal.Wrap(err)
}
