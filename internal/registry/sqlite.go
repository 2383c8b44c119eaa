package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/galleria/galleria/internal/naming"
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"

	// SchemaVersion is the current registry schema version.
	SchemaVersion = 1
)

// SQLiteRegistry implements Registry on SQLite. It is the default for
// single-node deployments.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (or creates) the database at path and applies the
// schema. Foreign keys and the busy timeout are set through DSN pragmas so
// that every pooled connection carries them.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	r := &SQLiteRegistry{db: db}
	if err := r.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return r, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// initDB creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (r *SQLiteRegistry) initDB() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artists (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS assets (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			artist_id   INTEGER NOT NULL REFERENCES artists(id),
			path        TEXT NOT NULL UNIQUE,
			format      TEXT NOT NULL,
			uploaded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assets_artist ON assets(artist_id, uploaded_at);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
		SchemaVersion, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for the export/import tooling.
func (r *SQLiteRegistry) DB() *sql.DB {
	return r.db
}

// Close closes the underlying SQLite database connection.
func (r *SQLiteRegistry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (r *SQLiteRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ---- Artist operations ----

// ListArtists returns every artist ordered by ID.
func (r *SQLiteRegistry) ListArtists(ctx context.Context) ([]Artist, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM artists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing artists: %w", err)
	}
	defer rows.Close()

	artists := make([]Artist, 0)
	for rows.Next() {
		var a Artist
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning artist row: %w", err)
		}
		a.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		artists = append(artists, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artist rows: %w", err)
	}
	return artists, nil
}

// GetArtist retrieves an artist by ID.
func (r *SQLiteRegistry) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	var a Artist
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM artists WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting artist %d: %w", id, err)
	}
	a.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &a, nil
}

// CreateArtist inserts a new artist.
func (r *SQLiteRegistry) CreateArtist(ctx context.Context, name string, createdAt time.Time) (*Artist, error) {
	createdAt = createdAt.UTC().Truncate(time.Millisecond)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO artists (name, created_at) VALUES (?, ?)`,
		name, createdAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("creating artist %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading artist id: %w", err)
	}
	return &Artist{ID: id, Name: name, CreatedAt: createdAt}, nil
}

// UpdateArtist renames the artist.
func (r *SQLiteRegistry) UpdateArtist(ctx context.Context, id int64, name string) (*Artist, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE artists SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("updating artist %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return r.GetArtist(ctx, id)
}

// DeleteArtist removes the artist row. It fails with ErrArtistHasAssets
// while asset rows still reference it.
func (r *SQLiteRegistry) DeleteArtist(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM artists WHERE id = ?`, id)
	if err != nil {
		if isSQLiteFKViolation(err) {
			return false, ErrArtistHasAssets
		}
		return false, fmt.Errorf("deleting artist %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ---- Asset operations ----

// CreateAsset inserts rec and assigns rec.ID.
func (r *SQLiteRegistry) CreateAsset(ctx context.Context, rec *AssetRecord) error {
	rec.Path = naming.Normalize(rec.Path)
	rec.UploadedAt = rec.UploadedAt.UTC().Truncate(time.Millisecond)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO assets (artist_id, path, format, uploaded_at) VALUES (?, ?, ?, ?)`,
		rec.ArtistID, rec.Path, string(rec.Format), rec.UploadedAt.Format(timeFormat),
	)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "UNIQUE constraint failed"):
			return ErrPathConflict
		case isSQLiteFKViolation(err):
			return ErrArtistMissing
		}
		return fmt.Errorf("creating asset %q: %w", rec.Path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading asset id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetAsset retrieves an asset record by ID.
func (r *SQLiteRegistry) GetAsset(ctx context.Context, id int64) (*AssetRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, artist_id, path, format, uploaded_at FROM assets WHERE id = ?`, id,
	)
	rec, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset %d: %w", id, err)
	}
	return rec, nil
}

// ListAssetsByArtist returns the artist's assets, newest first.
func (r *SQLiteRegistry) ListAssetsByArtist(ctx context.Context, artistID int64) ([]AssetRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, artist_id, path, format, uploaded_at FROM assets
		 WHERE artist_id = ?
		 ORDER BY uploaded_at DESC, id DESC`,
		artistID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing assets of artist %d: %w", artistID, err)
	}
	defer rows.Close()

	recs := make([]AssetRecord, 0)
	for rows.Next() {
		rec, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning asset row: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating asset rows: %w", err)
	}
	return recs, nil
}

// ListAssetPaths returns the normalized path of every asset.
func (r *SQLiteRegistry) ListAssetPaths(ctx context.Context) ([]AssetPath, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, path FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing asset paths: %w", err)
	}
	defer rows.Close()

	var out []AssetPath
	for rows.Next() {
		var ap AssetPath
		if err := rows.Scan(&ap.ID, &ap.Path); err != nil {
			return nil, fmt.Errorf("scanning asset path: %w", err)
		}
		ap.Path = naming.Normalize(ap.Path)
		out = append(out, ap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating asset paths: %w", err)
	}
	return out, nil
}

// DeleteAsset removes one asset record.
func (r *SQLiteRegistry) DeleteAsset(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting asset %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAssetsByArtist removes every asset of the artist in one transaction.
func (r *SQLiteRegistry) DeleteAssetsByArtist(ctx context.Context, artistID int64) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE artist_id = ?`, artistID)
	if err != nil {
		return 0, fmt.Errorf("deleting assets of artist %d: %w", artistID, err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing asset deletion: %w", err)
	}
	return int(n), nil
}

// CountAssetsByArtist returns the number of assets the artist owns.
func (r *SQLiteRegistry) CountAssetsByArtist(ctx context.Context, artistID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets WHERE artist_id = ?`, artistID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting assets of artist %d: %w", artistID, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*AssetRecord, error) {
	var rec AssetRecord
	var format, uploadedAt string
	if err := row.Scan(&rec.ID, &rec.ArtistID, &rec.Path, &format, &uploadedAt); err != nil {
		return nil, err
	}
	rec.Path = naming.Normalize(rec.Path)
	rec.Format = Format(format)
	rec.UploadedAt, _ = time.Parse(timeFormat, uploadedAt)
	return &rec, nil
}

func isSQLiteFKViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ Registry = (*SQLiteRegistry)(nil)
