package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// registryFactory returns an empty registry for one subtest.
type registryFactory func(t *testing.T) Registry

// runRegistrySuite exercises behavior every Registry implementation shares.
func runRegistrySuite(t *testing.T, newRegistry registryFactory) {
	t.Run("ArtistCRUD", func(t *testing.T) { testArtistCRUD(t, newRegistry(t)) })
	t.Run("AssetCRUD", func(t *testing.T) { testAssetCRUD(t, newRegistry(t)) })
	t.Run("PathConflict", func(t *testing.T) { testPathConflict(t, newRegistry(t)) })
	t.Run("ArtistMissing", func(t *testing.T) { testArtistMissing(t, newRegistry(t)) })
	t.Run("DeleteArtistWithAssets", func(t *testing.T) { testDeleteArtistWithAssets(t, newRegistry(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, newRegistry(t)) })
	t.Run("ListAssetPathsNormalizes", func(t *testing.T) { testListAssetPaths(t, newRegistry(t)) })
	t.Run("ConcurrentCreates", func(t *testing.T) { testConcurrentCreates(t, newRegistry(t)) })
}

func seedArtist(t *testing.T, r Registry, name string) *Artist {
	t.Helper()
	a, err := r.CreateArtist(context.Background(), name, time.Now())
	if err != nil {
		t.Fatalf("CreateArtist(%q): %v", name, err)
	}
	return a
}

func seedAsset(t *testing.T, r Registry, artistID int64, path string, at time.Time) *AssetRecord {
	t.Helper()
	rec := &AssetRecord{ArtistID: artistID, Path: path, Format: FormatPNG, UploadedAt: at}
	if err := r.CreateAsset(context.Background(), rec); err != nil {
		t.Fatalf("CreateAsset(%q): %v", path, err)
	}
	return rec
}

func testArtistCRUD(t *testing.T, r Registry) {
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	a, err := r.CreateArtist(ctx, "Frida", created)
	if err != nil {
		t.Fatalf("CreateArtist: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("CreateArtist did not assign an ID")
	}

	got, err := r.GetArtist(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetArtist: %v", err)
	}
	if got == nil || got.Name != "Frida" || !got.CreatedAt.Equal(created) {
		t.Fatalf("GetArtist = %+v", got)
	}

	updated, err := r.UpdateArtist(ctx, a.ID, "Frida Kahlo")
	if err != nil {
		t.Fatalf("UpdateArtist: %v", err)
	}
	if updated == nil || updated.Name != "Frida Kahlo" {
		t.Errorf("UpdateArtist = %+v", updated)
	}

	missing, err := r.UpdateArtist(ctx, a.ID+1000, "x")
	if err != nil || missing != nil {
		t.Errorf("UpdateArtist(absent) = %+v, %v; want nil, nil", missing, err)
	}

	list, err := r.ListArtists(ctx)
	if err != nil {
		t.Fatalf("ListArtists: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListArtists returned %d artists, want 1", len(list))
	}

	ok, err := r.DeleteArtist(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteArtist = %v, %v", ok, err)
	}
	got, err = r.GetArtist(ctx, a.ID)
	if err != nil || got != nil {
		t.Errorf("GetArtist after delete = %+v, %v; want nil, nil", got, err)
	}
	ok, err = r.DeleteArtist(ctx, a.ID)
	if err != nil || ok {
		t.Errorf("second DeleteArtist = %v, %v; want false, nil", ok, err)
	}
}

func testAssetCRUD(t *testing.T, r Registry) {
	ctx := context.Background()
	a := seedArtist(t, r, "Georgia")

	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	rec := seedAsset(t, r, a.ID, "uploads/artist-1-1.png", at)
	if rec.ID == 0 {
		t.Fatal("CreateAsset did not assign an ID")
	}

	got, err := r.GetAsset(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if got == nil || got.Path != "uploads/artist-1-1.png" || got.Format != FormatPNG || !got.UploadedAt.Equal(at) || got.ArtistID != a.ID {
		t.Fatalf("GetAsset = %+v", got)
	}

	n, err := r.CountAssetsByArtist(ctx, a.ID)
	if err != nil || n != 1 {
		t.Errorf("CountAssetsByArtist = %d, %v; want 1", n, err)
	}

	ok, err := r.DeleteAsset(ctx, rec.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteAsset = %v, %v", ok, err)
	}
	ok, err = r.DeleteAsset(ctx, rec.ID)
	if err != nil || ok {
		t.Errorf("second DeleteAsset = %v, %v; want false, nil", ok, err)
	}
	got, err = r.GetAsset(ctx, rec.ID)
	if err != nil || got != nil {
		t.Errorf("GetAsset after delete = %+v, %v", got, err)
	}
}

func testPathConflict(t *testing.T, r Registry) {
	ctx := context.Background()
	a := seedArtist(t, r, "Agnes")
	seedAsset(t, r, a.ID, "uploads/same.png", time.Now())

	// Leading slash normalizes to the same path.
	err := r.CreateAsset(ctx, &AssetRecord{ArtistID: a.ID, Path: "/uploads/same.png", Format: FormatPNG, UploadedAt: time.Now()})
	if !errors.Is(err, ErrPathConflict) {
		t.Errorf("CreateAsset(duplicate) error = %v, want ErrPathConflict", err)
	}
}

func testArtistMissing(t *testing.T, r Registry) {
	err := r.CreateAsset(context.Background(), &AssetRecord{ArtistID: 424242, Path: "uploads/x.png", Format: FormatPNG, UploadedAt: time.Now()})
	if !errors.Is(err, ErrArtistMissing) {
		t.Errorf("CreateAsset(no artist) error = %v, want ErrArtistMissing", err)
	}
}

func testDeleteArtistWithAssets(t *testing.T, r Registry) {
	ctx := context.Background()
	a := seedArtist(t, r, "Louise")
	for i := 0; i < 3; i++ {
		seedAsset(t, r, a.ID, fmt.Sprintf("uploads/l-%d.png", i), time.Now())
	}

	if _, err := r.DeleteArtist(ctx, a.ID); !errors.Is(err, ErrArtistHasAssets) {
		t.Fatalf("DeleteArtist error = %v, want ErrArtistHasAssets", err)
	}

	n, err := r.DeleteAssetsByArtist(ctx, a.ID)
	if err != nil || n != 3 {
		t.Fatalf("DeleteAssetsByArtist = %d, %v; want 3", n, err)
	}
	ok, err := r.DeleteArtist(ctx, a.ID)
	if err != nil || !ok {
		t.Errorf("DeleteArtist after cascade = %v, %v", ok, err)
	}
}

func testListNewestFirst(t *testing.T, r Registry) {
	ctx := context.Background()
	a := seedArtist(t, r, "Tamara")
	other := seedArtist(t, r, "Other")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seedAsset(t, r, a.ID, "uploads/old.png", base)
	seedAsset(t, r, a.ID, "uploads/new.png", base.Add(2*time.Hour))
	seedAsset(t, r, a.ID, "uploads/mid.png", base.Add(time.Hour))
	seedAsset(t, r, other.ID, "uploads/theirs.png", base.Add(3*time.Hour))

	recs, err := r.ListAssetsByArtist(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListAssetsByArtist: %v", err)
	}
	want := []string{"uploads/new.png", "uploads/mid.png", "uploads/old.png"}
	if len(recs) != len(want) {
		t.Fatalf("ListAssetsByArtist returned %d records, want %d", len(recs), len(want))
	}
	for i, w := range want {
		if recs[i].Path != w {
			t.Errorf("recs[%d].Path = %q, want %q", i, recs[i].Path, w)
		}
	}

	empty, err := r.ListAssetsByArtist(ctx, 999999)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("ListAssetsByArtist(absent) = %v, %v; want empty non-nil", empty, err)
	}
}

func testListAssetPaths(t *testing.T, r Registry) {
	ctx := context.Background()
	a := seedArtist(t, r, "Hilma")
	seedAsset(t, r, a.ID, "/uploads/legacy.png", time.Now())
	seedAsset(t, r, a.ID, "uploads/modern.png", time.Now())

	paths, err := r.ListAssetPaths(ctx)
	if err != nil {
		t.Fatalf("ListAssetPaths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("ListAssetPaths returned %d, want 2", len(paths))
	}
	if paths[0].Path != "uploads/legacy.png" || paths[1].Path != "uploads/modern.png" {
		t.Errorf("ListAssetPaths = %+v", paths)
	}
}

func testConcurrentCreates(t *testing.T, r Registry) {
	ctx := context.Background()
	a := seedArtist(t, r, "Yayoi")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.CreateAsset(ctx, &AssetRecord{
				ArtistID: a.ID, Path: fmt.Sprintf("uploads/c-%d.png", i), Format: FormatJPEG, UploadedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent CreateAsset: %v", err)
		}
	}
	count, err := r.CountAssetsByArtist(ctx, a.ID)
	if err != nil || count != n {
		t.Errorf("CountAssetsByArtist = %d, %v; want %d", count, err, n)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"jpeg", FormatJPEG, true},
		{"JPG", FormatJPG, true},
		{" png ", FormatPNG, true},
		{"gif", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
