// Package registry defines the relational catalogue of artists and their
// assets, and its SQLite and PostgreSQL implementations.
package registry

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Format is the declared image format of an asset.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatJPG  Format = "jpg"
	FormatPNG  Format = "png"
)

// ParseFormat maps a subtype such as "jpeg" or "PNG" to a Format.
func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJPEG, FormatJPG, FormatPNG:
		return f, true
	}
	return "", false
}

// MaxNameLength bounds Artist.Name in characters.
const MaxNameLength = 255

// Artist is an owner of assets.
type Artist struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// AssetRecord is the registry row describing one stored image.
type AssetRecord struct {
	ID         int64     `json:"id"`
	ArtistID   int64     `json:"artistId"`
	Path       string    `json:"path"`
	Format     Format    `json:"format"`
	UploadedAt time.Time `json:"uploadedAt"`
}

var (
	// ErrPathConflict is returned by CreateAsset when another record owns the path.
	ErrPathConflict = errors.New("asset path already registered")
	// ErrArtistMissing is returned by CreateAsset when the artist row is absent.
	ErrArtistMissing = errors.New("artist does not exist")
	// ErrArtistHasAssets is returned by DeleteArtist while asset rows remain.
	ErrArtistHasAssets = errors.New("artist still owns assets")
)

// Registry is the catalogue of artists and asset records. Getters return
// (nil, nil) when the row does not exist. Implementations must be safe for
// concurrent use.
type Registry interface {
	io.Closer

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// ---- Artist operations ----

	ListArtists(ctx context.Context) ([]Artist, error)
	GetArtist(ctx context.Context, id int64) (*Artist, error)
	// CreateArtist inserts the artist and returns it with its assigned ID.
	CreateArtist(ctx context.Context, name string, createdAt time.Time) (*Artist, error)
	// UpdateArtist renames an artist. It returns (nil, nil) if the artist is absent.
	UpdateArtist(ctx context.Context, id int64, name string) (*Artist, error)
	// DeleteArtist removes the artist row. It reports whether a row was removed.
	DeleteArtist(ctx context.Context, id int64) (bool, error)

	// ---- Asset operations ----

	// CreateAsset inserts rec and sets rec.ID.
	CreateAsset(ctx context.Context, rec *AssetRecord) error
	GetAsset(ctx context.Context, id int64) (*AssetRecord, error)
	// ListAssetsByArtist returns the artist's assets, newest upload first.
	ListAssetsByArtist(ctx context.Context, artistID int64) ([]AssetRecord, error)
	// ListAssetPaths returns (id, path) for every asset in the registry.
	ListAssetPaths(ctx context.Context) ([]AssetPath, error)
	// DeleteAsset removes one record. It reports whether a row was removed.
	DeleteAsset(ctx context.Context, id int64) (bool, error)
	// DeleteAssetsByArtist removes every record of the artist in a single
	// transaction and returns the number removed.
	DeleteAssetsByArtist(ctx context.Context, artistID int64) (int, error)
	CountAssetsByArtist(ctx context.Context, artistID int64) (int, error)
}

// AssetPath pairs a record ID with its stored path.
type AssetPath struct {
	ID   int64
	Path string
}
