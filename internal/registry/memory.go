package registry

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/galleria/galleria/internal/naming"
)

// MemoryRegistry implements Registry in process memory. Nothing survives a
// restart; it backs the "memory" engine for demos and tests.
type MemoryRegistry struct {
	mu         sync.RWMutex
	artists    map[int64]*Artist
	assets     map[int64]*AssetRecord
	paths      map[string]int64
	nextArtist int64
	nextAsset  int64
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		artists: make(map[int64]*Artist),
		assets:  make(map[int64]*AssetRecord),
		paths:   make(map[string]int64),
	}
}

func (r *MemoryRegistry) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}

func (r *MemoryRegistry) ListArtists(ctx context.Context) ([]Artist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Artist, 0, len(r.artists))
	for _, a := range r.artists {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b Artist) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *MemoryRegistry) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.artists[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRegistry) CreateArtist(ctx context.Context, name string, createdAt time.Time) (*Artist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextArtist++
	a := &Artist{ID: r.nextArtist, Name: name, CreatedAt: createdAt.UTC().Truncate(time.Millisecond)}
	r.artists[a.ID] = a
	cp := *a
	return &cp, nil
}

func (r *MemoryRegistry) UpdateArtist(ctx context.Context, id int64, name string) (*Artist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.artists[id]
	if !ok {
		return nil, nil
	}
	a.Name = name
	cp := *a
	return &cp, nil
}

// DeleteArtist removes the artist. Like the SQL engines it refuses while
// asset records still reference the artist.
func (r *MemoryRegistry) DeleteArtist(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.artists[id]; !ok {
		return false, nil
	}
	for _, rec := range r.assets {
		if rec.ArtistID == id {
			return false, ErrArtistHasAssets
		}
	}
	delete(r.artists, id)
	return true, nil
}

func (r *MemoryRegistry) CreateAsset(ctx context.Context, rec *AssetRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.Path = naming.Normalize(rec.Path)
	rec.UploadedAt = rec.UploadedAt.UTC().Truncate(time.Millisecond)
	if _, ok := r.artists[rec.ArtistID]; !ok {
		return ErrArtistMissing
	}
	if _, taken := r.paths[rec.Path]; taken {
		return ErrPathConflict
	}

	r.nextAsset++
	rec.ID = r.nextAsset
	cp := *rec
	r.assets[cp.ID] = &cp
	r.paths[cp.Path] = cp.ID
	return nil
}

func (r *MemoryRegistry) GetAsset(ctx context.Context, id int64) (*AssetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.assets[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListAssetsByArtist returns the artist's assets, newest first with ties
// broken by descending ID.
func (r *MemoryRegistry) ListAssetsByArtist(ctx context.Context, artistID int64) ([]AssetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AssetRecord, 0)
	for _, rec := range r.assets {
		if rec.ArtistID == artistID {
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b AssetRecord) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (r *MemoryRegistry) ListAssetPaths(ctx context.Context) ([]AssetPath, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AssetPath, 0, len(r.assets))
	for _, rec := range r.assets {
		out = append(out, AssetPath{ID: rec.ID, Path: rec.Path})
	}
	slices.SortFunc(out, func(a, b AssetPath) int {
		if c := cmp.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return out, nil
}

func (r *MemoryRegistry) DeleteAsset(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.assets[id]
	if !ok {
		return false, nil
	}
	delete(r.paths, rec.Path)
	delete(r.assets, id)
	return true, nil
}

func (r *MemoryRegistry) DeleteAssetsByArtist(ctx context.Context, artistID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.assets {
		if rec.ArtistID == artistID {
			delete(r.paths, rec.Path)
			delete(r.assets, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRegistry) CountAssetsByArtist(ctx context.Context, artistID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.assets {
		if rec.ArtistID == artistID {
			n++
		}
	}
	return n, nil
}

var _ Registry = (*MemoryRegistry)(nil)
