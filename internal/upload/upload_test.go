package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/naming"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/storage"
)

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func fixedClock() time.Time { return fixedTime }

type fixture struct {
	reg      registry.Registry
	store    *storage.MemoryBackend
	pipeline *Pipeline
	artistID int64
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg, err := registry.NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	a, err := reg.CreateArtist(context.Background(), "Upload Artist", fixedTime)
	if err != nil {
		t.Fatalf("CreateArtist: %v", err)
	}
	store := storage.NewMemoryBackend(0)
	namer := naming.New("", naming.WithClock(fixedClock))
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return &fixture{
		reg:      reg,
		store:    store,
		pipeline: New(reg, store, namer, opts...),
		artistID: a.ID,
	}
}

func png(name string) Payload {
	return Payload{Filename: name, ContentType: "image/png", Data: []byte("\x89PNG fake")}
}

func TestUploadSingle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.pipeline.Upload(ctx, f.artistID, Payload{Filename: "Sunset.JPG", ContentType: "image/jpeg", Data: []byte("jpegdata")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := fmt.Sprintf("uploads/artist-%d-%d.JPG", f.artistID, fixedTime.UnixMilli())
	if rec.Path != want {
		t.Errorf("Path = %q, want %q", rec.Path, want)
	}
	if rec.Format != registry.FormatJPEG {
		t.Errorf("Format = %q, want jpeg", rec.Format)
	}
	if !rec.UploadedAt.Equal(fixedTime) {
		t.Errorf("UploadedAt = %v, want %v", rec.UploadedAt, fixedTime)
	}
	data, err := f.store.Read(ctx, rec.Path)
	if err != nil || string(data) != "jpegdata" {
		t.Errorf("stored bytes = %q, %v", data, err)
	}
	got, err := f.reg.GetAsset(ctx, rec.ID)
	if err != nil || got == nil || got.Path != rec.Path {
		t.Errorf("GetAsset = %+v, %v", got, err)
	}
}

func TestUploadSingleRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    *apperr.APIError
	}{
		{"gif", Payload{Filename: "a.gif", ContentType: "image/gif", Data: []byte("x")}, apperr.ErrUnsupportedFormat},
		{"no subtype", Payload{Filename: "a.png", ContentType: "png", Data: []byte("x")}, apperr.ErrUnsupportedFormat},
		{"empty", Payload{Filename: "a.png", ContentType: "image/png"}, apperr.ErrUnsupportedFormat},
		{"too large", Payload{Filename: "a.png", ContentType: "image/png", Data: make([]byte, 11)}, apperr.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithMaxBytes(10))
			_, err := f.pipeline.Upload(context.Background(), f.artistID, tt.payload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if f.store.Len() != 0 {
				t.Errorf("rejected payload was written")
			}
		})
	}
}

func TestUploadUnknownArtist(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Upload(context.Background(), f.artistID+100, png("a.png"))
	if !errors.Is(err, apperr.ErrArtistNotFound) {
		t.Fatalf("err = %v, want ArtistNotFound", err)
	}
	if f.store.Len() != 0 {
		t.Error("file written for unknown artist")
	}
}

func TestUploadBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.UploadBatch(ctx, f.artistID, []Payload{
		png("one.png"),
		{Filename: "doc.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
		{Filename: "two.jpeg", ContentType: "image/JPEG; q=1", Data: []byte("jpeg")},
		{Filename: "empty.png", ContentType: "image/png"},
	})
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("created %d, want 2", len(res.Created))
	}
	if len(res.Skipped) != 2 || res.Skipped[0].Filename != "doc.pdf" || res.Skipped[1].Filename != "empty.png" {
		t.Errorf("Skipped = %+v", res.Skipped)
	}
	if res.Created[0].Path == res.Created[1].Path {
		t.Errorf("batch produced duplicate path %q", res.Created[0].Path)
	}
	if !res.Created[0].UploadedAt.Equal(res.Created[1].UploadedAt) {
		t.Errorf("batch timestamps differ: %v vs %v", res.Created[0].UploadedAt, res.Created[1].UploadedAt)
	}
	if f.store.Len() != 2 {
		t.Errorf("store holds %d files, want 2", f.store.Len())
	}
}

func TestUploadBatchNothingValid(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline.UploadBatch(context.Background(), f.artistID, []Payload{
		{Filename: "a.bmp", ContentType: "image/bmp", Data: []byte("x")},
	})
	if !errors.Is(err, apperr.ErrNoValidPayloads) {
		t.Fatalf("err = %v, want NoValidPayloads", err)
	}
	if res == nil || len(res.Skipped) != 1 {
		t.Errorf("result = %+v", res)
	}

	if _, err := f.pipeline.UploadBatch(context.Background(), f.artistID, nil); !errors.Is(err, apperr.ErrNoPayload) {
		t.Errorf("empty batch err = %v, want NoPayload", err)
	}
}

func TestUploadRederivesTakenPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	taken := fmt.Sprintf("uploads/artist-%d-%d.png", f.artistID, fixedTime.UnixMilli())
	f.store.Write(ctx, taken, []byte("someone else"))

	rec, err := f.pipeline.Upload(ctx, f.artistID, png("a.png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if rec.Path == taken {
		t.Fatal("upload overwrote an existing file")
	}
	data, _ := f.store.Read(ctx, taken)
	if string(data) != "someone else" {
		t.Errorf("existing file changed to %q", data)
	}
}

// failingRegistry fails CreateAsset with err.
type failingRegistry struct {
	registry.Registry
	err error
}

func (r *failingRegistry) CreateAsset(ctx context.Context, rec *registry.AssetRecord) error {
	return r.err
}

func TestUploadInsertFailureRemovesFile(t *testing.T) {
	f := newFixture(t)
	reg := &failingRegistry{Registry: f.reg, err: errors.New("database is locked")}
	p := New(reg, f.store, naming.New("uploads"))

	_, err := p.Upload(context.Background(), f.artistID, png("a.png"))
	if !errors.Is(err, apperr.ErrRegistry) {
		t.Fatalf("err = %v, want RegistryError", err)
	}
	if f.store.Len() != 0 {
		t.Error("file left behind after failed insert")
	}
}

func TestUploadPathConflictKeepsFile(t *testing.T) {
	f := newFixture(t)
	reg := &failingRegistry{Registry: f.reg, err: fmt.Errorf("insert: %w", registry.ErrPathConflict)}
	p := New(reg, f.store, naming.New("uploads"))

	if _, err := p.Upload(context.Background(), f.artistID, png("a.png")); err == nil {
		t.Fatal("expected error")
	}
	if f.store.Len() != 1 {
		t.Errorf("store holds %d files, want 1", f.store.Len())
	}
}

// cancellingRegistry cancels the batch context once the first record is in.
type cancellingRegistry struct {
	registry.Registry
	cancel context.CancelFunc
}

func (r *cancellingRegistry) CreateAsset(ctx context.Context, rec *registry.AssetRecord) error {
	err := r.Registry.CreateAsset(ctx, rec)
	r.cancel()
	return err
}

func TestUploadBatchCancelledKeepsCreated(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := &cancellingRegistry{Registry: f.reg, cancel: cancel}
	p := New(reg, f.store, naming.New("uploads"))

	res, err := p.UploadBatch(ctx, f.artistID, []Payload{png("a.png"), png("b.png"), png("c.png")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || len(res.Created) != 1 {
		t.Fatalf("result = %+v, want the one created record", res)
	}
	if len(res.Skipped) != 2 || res.Skipped[0].Filename != "b.png" {
		t.Errorf("skipped = %+v", res.Skipped)
	}
	got, _ := f.reg.GetAsset(context.Background(), res.Created[0].ID)
	if got == nil {
		t.Error("reported record is not in the registry")
	}
}

func TestUploadWriteFailure(t *testing.T) {
	f := newFixture(t)
	store := storage.NewMemoryBackend(4)
	p := New(f.reg, store, naming.New("uploads"))

	_, err := p.Upload(context.Background(), f.artistID, png("big.png"))
	if !errors.Is(err, apperr.ErrStoreWrite) {
		t.Fatalf("err = %v, want StoreWriteError", err)
	}
	var we *storage.WriteError
	if !errors.As(err, &we) {
		t.Errorf("cause is not a WriteError: %v", err)
	}
	assets, _ := f.reg.ListAssetsByArtist(context.Background(), f.artistID)
	if len(assets) != 0 {
		t.Errorf("record inserted despite write failure: %+v", assets)
	}
}

func TestFormatFromContentType(t *testing.T) {
	tests := []struct {
		in   string
		want registry.Format
		ok   bool
	}{
		{"image/png", registry.FormatPNG, true},
		{"image/jpeg", registry.FormatJPEG, true},
		{"image/jpg", registry.FormatJPG, true},
		{"IMAGE/PNG", registry.FormatPNG, true},
		{"image/png; charset=binary", registry.FormatPNG, true},
		{"image/webp", "", false},
		{"", "", false},
		{"png", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatFromContentType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FormatFromContentType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
