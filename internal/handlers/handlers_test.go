package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/galleria/galleria/internal/export"
	"github.com/galleria/galleria/internal/jsonutil"
	"github.com/galleria/galleria/internal/naming"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/removal"
	"github.com/galleria/galleria/internal/scanner"
	"github.com/galleria/galleria/internal/storage"
	"github.com/galleria/galleria/internal/upload"
)

type testEnv struct {
	reg    *registry.SQLiteRegistry
	store  *storage.MemoryBackend
	router chi.Router
}

// newTestEnv wires every handler over a temp SQLite registry and an
// in-memory store, routed the same way the server routes them.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg, err := registry.NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	store := storage.NewMemoryBackend(0)

	remover := removal.New(reg, store, nil)
	pipeline := upload.New(reg, store, naming.New("uploads"), upload.WithMaxBytes(1024))
	artists := NewArtistHandler(reg, remover, nil)
	assets := NewAssetHandler(reg, store, pipeline, remover, export.New(reg, store, 2, nil), nil)
	admin := NewAdminHandler(scanner.New(reg, store), nil, scanner.PolicyReport, nil)

	r := chi.NewRouter()
	r.Get("/api/artists", artists.ListArtists)
	r.Post("/api/artists", artists.CreateArtist)
	r.Get("/api/artists/{id}", artists.GetArtist)
	r.Put("/api/artists/{id}", artists.UpdateArtist)
	r.Delete("/api/artists/{id}", artists.DeleteArtist)
	r.Get("/api/artists/{id}/images", assets.ListArtistAssets)
	r.Post("/api/artists/{id}/upload", assets.Upload)
	r.Get("/api/artists/{id}/download", assets.Download)
	r.Get("/api/images/{id}", assets.GetImage)
	r.Delete("/api/images/{id}", assets.DeleteImage)
	r.Post("/api/admin/scan", admin.Scan)
	r.Post("/api/admin/cleanup", admin.Cleanup)
	r.Post("/api/admin/repair-missing", admin.RepairMissing)

	return &testEnv{reg: reg, store: store, router: r}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type filePart struct {
	field, filename, contentType, data string
}

func (e *testEnv) upload(t *testing.T, artistID int64, parts ...filePart) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(p.data))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/artists/%d/upload", artistID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createArtist(t *testing.T, name string) registry.Artist {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/artists", fmt.Sprintf(`{"name":%q}`, name))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create artist status = %d body=%s", rec.Code, rec.Body)
	}
	var a registry.Artist
	decode(t, rec, &a)
	return a
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body jsonutil.ErrorResponse
	decode(t, rec, &body)
	return body.Error.Code
}

func TestArtistCRUD(t *testing.T) {
	e := newTestEnv(t)
	a := e.createArtist(t, "  Frida Kahlo ")
	if a.Name != "Frida Kahlo" || a.ID == 0 {
		t.Fatalf("created = %+v", a)
	}

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/api/artists/%d", a.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPut, fmt.Sprintf("/api/artists/%d", a.ID), `{"name":"Frida"}`)
	var updated registry.Artist
	decode(t, rec, &updated)
	if rec.Code != http.StatusOK || updated.Name != "Frida" {
		t.Fatalf("update = %d %+v", rec.Code, updated)
	}

	rec = e.do(t, http.MethodGet, "/api/artists", "")
	var list []registry.Artist
	decode(t, rec, &list)
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	rec = e.do(t, http.MethodPut, "/api/artists/999", `{"name":"Nobody"}`)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "ArtistNotFound" {
		t.Errorf("update missing = %d %s", rec.Code, rec.Body)
	}
}

func TestArtistValidation(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		method, target, body string
		wantStatus           int
		wantCode             string
	}{
		{http.MethodPost, "/api/artists", `{"name":"   "}`, 400, "InvalidName"},
		{http.MethodPost, "/api/artists", `{"name":"` + strings.Repeat("x", 256) + `"}`, 400, "InvalidName"},
		{http.MethodPost, "/api/artists", `{"name":`, 400, "MalformedBody"},
		{http.MethodGet, "/api/artists/abc", "", 400, "InvalidID"},
		{http.MethodGet, "/api/artists/-1", "", 400, "InvalidID"},
		{http.MethodGet, "/api/artists/1e3", "", 400, "InvalidID"},
		{http.MethodGet, "/api/artists/99999999999999999999", "", 400, "InvalidID"},
		{http.MethodGet, "/api/artists/42", "", 404, "ArtistNotFound"},
		{http.MethodDelete, "/api/images/x", "", 400, "InvalidID"},
		{http.MethodGet, "/api/images/7", "", 404, "AssetNotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestUploadServeDelete(t *testing.T) {
	e := newTestEnv(t)
	a := e.createArtist(t, "Painter")

	rec := e.upload(t, a.ID, filePart{"image", "Mona.PNG", "image/png", "pngbytes"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body=%s", rec.Code, rec.Body)
	}
	var asset registry.AssetRecord
	decode(t, rec, &asset)
	if asset.Format != registry.FormatPNG || !strings.HasPrefix(asset.Path, fmt.Sprintf("uploads/artist-%d-", a.ID)) || !strings.HasSuffix(asset.Path, ".png") {
		t.Errorf("asset = %+v", asset)
	}

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/images/%d", asset.ID), "")
	if rec.Code != http.StatusOK || rec.Body.String() != "pngbytes" {
		t.Fatalf("serve = %d %q", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=31536000, immutable" {
		t.Errorf("Cache-Control = %q", cc)
	}

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/artists/%d/images", a.ID), "")
	var list []registry.AssetRecord
	decode(t, rec, &list)
	if len(list) != 1 || list[0].ID != asset.ID {
		t.Errorf("list = %+v", list)
	}

	rec = e.do(t, http.MethodDelete, fmt.Sprintf("/api/images/%d", asset.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if e.store.Len() != 0 {
		t.Error("file survived delete")
	}
	rec = e.do(t, http.MethodDelete, fmt.Sprintf("/api/images/%d", asset.ID), "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "AssetNotFound" {
		t.Errorf("second delete = %d %s", rec.Code, rec.Body)
	}
}

func TestUploadSingleRejectsFormat(t *testing.T) {
	e := newTestEnv(t)
	a := e.createArtist(t, "Painter")

	rec := e.upload(t, a.ID, filePart{"image", "a.gif", "image/gif", "GIF89a"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "UnsupportedFormat" {
		t.Fatalf("gif upload = %d %s", rec.Code, rec.Body)
	}
	rec = e.upload(t, a.ID, filePart{"image", "big.png", "image/png", strings.Repeat("x", 2048)})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload = %d %s", rec.Code, rec.Body)
	}
	rec = e.upload(t, a.ID, filePart{"other", "a.png", "image/png", "x"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "NoPayload" {
		t.Errorf("missing field = %d %s", rec.Code, rec.Body)
	}
	rec = e.upload(t, a.ID+50, filePart{"image", "a.png", "image/png", "x"})
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "ArtistNotFound" {
		t.Errorf("unknown artist = %d %s", rec.Code, rec.Body)
	}
	if e.store.Len() != 0 {
		t.Errorf("rejected uploads stored %d files", e.store.Len())
	}
}

func TestUploadBatch(t *testing.T) {
	e := newTestEnv(t)
	a := e.createArtist(t, "Batcher")

	rec := e.upload(t, a.ID,
		filePart{"images", "a.png", "image/png", "one"},
		filePart{"images", "b.txt", "text/plain", "nope"},
		filePart{"images", "c.jpg", "image/jpeg", "three"},
	)
	if rec.Code != http.StatusCreated {
		t.Fatalf("batch status = %d body=%s", rec.Code, rec.Body)
	}
	var res upload.BatchResult
	decode(t, rec, &res)
	if len(res.Created) != 2 || len(res.Skipped) != 1 || res.Skipped[0].Filename != "b.txt" {
		t.Errorf("result = %+v", res)
	}

	rec = e.upload(t, a.ID, filePart{"images", "b.txt", "text/plain", "nope"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "NoValidPayloads" {
		t.Errorf("all-invalid batch = %d %s", rec.Code, rec.Body)
	}
}

func TestServeMissingFile(t *testing.T) {
	e := newTestEnv(t)
	a := e.createArtist(t, "Ghost")
	rec := &registry.AssetRecord{ArtistID: a.ID, Path: "uploads/gone.jpg", Format: registry.FormatJPG, UploadedAt: time.Now()}
	if err := e.reg.CreateAsset(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	resp := e.do(t, http.MethodGet, fmt.Sprintf("/api/images/%d", rec.ID), "")
	if resp.Code != http.StatusNotFound || errorCode(t, resp) != "FileNotFound" {
		t.Errorf("serve missing = %d %s", resp.Code, resp.Body)
	}
}

func TestDownload(t *testing.T) {
	e := newTestEnv(t)
	a := e.createArtist(t, "Van Gogh")
	e.upload(t, a.ID, filePart{"image", "a.png", "image/png", "sunflowers"})

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/api/artists/%d/download", a.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d body=%s", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="van_gogh_gallery.zip"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if len(zr.File) != 1 || !strings.HasSuffix(zr.File[0].Name, ".png") {
		t.Errorf("archive entries = %v", zr.File)
	}

	empty := e.createArtist(t, "Empty")
	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/artists/%d/download", empty.ID), "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NoAssets" {
		t.Errorf("empty download = %d %s", rec.Code, rec.Body)
	}
}

func TestDeleteArtistCascade(t *testing.T) {
	e := newTestEnv(t)
	a := e.createArtist(t, "Cascade")
	e.upload(t, a.ID, filePart{"images", "a.png", "image/png", "1"}, filePart{"images", "b.png", "image/png", "2"})

	rec := e.do(t, http.MethodDelete, fmt.Sprintf("/api/artists/%d", a.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d body=%s", rec.Code, rec.Body)
	}
	var body struct {
		Success       bool              `json:"success"`
		AssetsRemoved int               `json:"assetsRemoved"`
		FileErrors    []json.RawMessage `json:"fileErrors"`
	}
	decode(t, rec, &body)
	if !body.Success || body.AssetsRemoved != 2 || len(body.FileErrors) != 0 {
		t.Errorf("body = %+v", body)
	}
	if e.store.Len() != 0 {
		t.Errorf("%d files survived cascade", e.store.Len())
	}
}

func TestAdminEndpoints(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.createArtist(t, "Admin")
	e.upload(t, a.ID, filePart{"image", "a.png", "image/png", "ok"})
	e.store.Write(ctx, "uploads/stray.png", []byte("orphan"))
	gone := &registry.AssetRecord{ArtistID: a.ID, Path: "uploads/gone.png", Format: registry.FormatPNG, UploadedAt: time.Now()}
	e.reg.CreateAsset(ctx, gone)

	rec := e.do(t, http.MethodPost, "/api/admin/scan", "")
	var rep scanner.Report
	decode(t, rec, &rep)
	if rec.Code != http.StatusOK || rep.OrphanedFiles != 1 || rep.MissingFilesInDB != 1 || rep.OrphanedFilesRemoved != 0 {
		t.Fatalf("scan = %d %+v", rec.Code, rep)
	}

	rec = e.do(t, http.MethodPost, "/api/admin/cleanup?orphans=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad policy status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/admin/cleanup?orphans=delete", "")
	decode(t, rec, &rep)
	if rep.OrphanedFilesRemoved != 1 {
		t.Errorf("cleanup = %+v", rep)
	}
	if ok, _ := e.store.Exists(ctx, "uploads/stray.png"); ok {
		t.Error("orphan survived cleanup")
	}

	rec = e.do(t, http.MethodPost, "/api/admin/repair-missing", "")
	decode(t, rec, &rep)
	if rep.MissingRecordsRemoved != 1 {
		t.Errorf("repair = %+v", rep)
	}
	if r, _ := e.reg.GetAsset(ctx, gone.ID); r != nil {
		t.Error("missing record survived repair")
	}
}

func TestLastScan(t *testing.T) {
	e := newTestEnv(t)
	sc := scanner.New(e.reg, e.store)

	disabled := NewAdminHandler(sc, nil, scanner.PolicyReport, nil)
	rec := httptest.NewRecorder()
	disabled.LastScan(rec, httptest.NewRequest(http.MethodGet, "/api/admin/scan/last", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "NoScanReport") {
		t.Errorf("disabled = %d %s", rec.Code, rec.Body.String())
	}

	sch, err := scanner.NewScheduler("@every 1h", sc, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := NewAdminHandler(sc, sch, scanner.PolicyReport, nil)
	rec = httptest.NewRecorder()
	h.LastScan(rec, httptest.NewRequest(http.MethodGet, "/api/admin/scan/last", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("before first run = %d, want 404", rec.Code)
	}

	e.store.Write(context.Background(), "uploads/stray.png", []byte("orphan"))
	sch.RunOnce()
	rec = httptest.NewRecorder()
	h.LastScan(rec, httptest.NewRequest(http.MethodGet, "/api/admin/scan/last", nil))
	var rep scanner.Report
	decode(t, rec, &rep)
	if rec.Code != http.StatusOK || rep.Mode != scanner.ModeReport || rep.OrphanedFiles != 1 {
		t.Errorf("after run = %d %+v", rec.Code, rep)
	}
}

func TestContentTypeForPath(t *testing.T) {
	tests := map[string]string{
		"uploads/a.JPG":  "image/jpeg",
		"uploads/a.jpeg": "image/jpeg",
		"uploads/a.png":  "image/png",
		"uploads/a.gif":  "image/gif",
		"uploads/a":      "application/octet-stream",
		"uploads/a.webp": "application/octet-stream",
	}
	for in, want := range tests {
		if got := contentTypeForPath(in); got != want {
			t.Errorf("contentTypeForPath(%q) = %q, want %q", in, got, want)
		}
	}
}
