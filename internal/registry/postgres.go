package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galleria/galleria/internal/naming"
)

// PostgreSQL SQLSTATE codes mapped to registry errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRegistry implements Registry on PostgreSQL through a pgx pool.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry connects to dsn and applies the schema.
func NewPostgresRegistry(ctx context.Context, dsn string) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening PostgreSQL pool: %w", err)
	}
	r := &PostgresRegistry{pool: pool}
	if err := r.initDB(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing PostgreSQL database: %w", err)
	}
	return r, nil
}

func (r *PostgresRegistry) initDB(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artists (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS assets (
			id          BIGSERIAL PRIMARY KEY,
			artist_id   BIGINT NOT NULL REFERENCES artists(id),
			path        TEXT NOT NULL UNIQUE,
			format      TEXT NOT NULL,
			uploaded_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assets_artist ON assets(artist_id, uploaded_at);
	`
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		SchemaVersion, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (r *PostgresRegistry) Close() error {
	r.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (r *PostgresRegistry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ---- Artist operations ----

func (r *PostgresRegistry) ListArtists(ctx context.Context) ([]Artist, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM artists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing artists: %w", err)
	}
	artists, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Artist, error) {
		var a Artist
		err := row.Scan(&a.ID, &a.Name, &a.CreatedAt)
		a.CreatedAt = a.CreatedAt.UTC()
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning artist rows: %w", err)
	}
	if artists == nil {
		artists = make([]Artist, 0)
	}
	return artists, nil
}

func (r *PostgresRegistry) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	var a Artist
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM artists WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting artist %d: %w", id, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (r *PostgresRegistry) CreateArtist(ctx context.Context, name string, createdAt time.Time) (*Artist, error) {
	a := &Artist{Name: name, CreatedAt: createdAt.UTC().Truncate(time.Millisecond)}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO artists (name, created_at) VALUES ($1, $2) RETURNING id`,
		a.Name, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("creating artist %q: %w", name, err)
	}
	return a, nil
}

func (r *PostgresRegistry) UpdateArtist(ctx context.Context, id int64, name string) (*Artist, error) {
	var a Artist
	err := r.pool.QueryRow(ctx,
		`UPDATE artists SET name = $1 WHERE id = $2 RETURNING id, name, created_at`, name, id,
	).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("updating artist %d: %w", id, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (r *PostgresRegistry) DeleteArtist(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM artists WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return false, ErrArtistHasAssets
		}
		return false, fmt.Errorf("deleting artist %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ---- Asset operations ----

func (r *PostgresRegistry) CreateAsset(ctx context.Context, rec *AssetRecord) error {
	rec.Path = naming.Normalize(rec.Path)
	rec.UploadedAt = rec.UploadedAt.UTC().Truncate(time.Millisecond)
	err := r.pool.QueryRow(ctx,
		`INSERT INTO assets (artist_id, path, format, uploaded_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		rec.ArtistID, rec.Path, string(rec.Format), rec.UploadedAt,
	).Scan(&rec.ID)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return ErrPathConflict
		case pgForeignKeyViolation:
			return ErrArtistMissing
		}
		return fmt.Errorf("creating asset %q: %w", rec.Path, err)
	}
	return nil
}

func (r *PostgresRegistry) GetAsset(ctx context.Context, id int64) (*AssetRecord, error) {
	rec, err := scanPgAsset(r.pool.QueryRow(ctx,
		`SELECT id, artist_id, path, format, uploaded_at FROM assets WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset %d: %w", id, err)
	}
	return rec, nil
}

func (r *PostgresRegistry) ListAssetsByArtist(ctx context.Context, artistID int64) ([]AssetRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, artist_id, path, format, uploaded_at FROM assets
		 WHERE artist_id = $1
		 ORDER BY uploaded_at DESC, id DESC`,
		artistID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing assets of artist %d: %w", artistID, err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AssetRecord, error) {
		rec, err := scanPgAsset(row)
		if err != nil {
			return AssetRecord{}, err
		}
		return *rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning asset rows: %w", err)
	}
	if recs == nil {
		recs = make([]AssetRecord, 0)
	}
	return recs, nil
}

func (r *PostgresRegistry) ListAssetPaths(ctx context.Context) ([]AssetPath, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, path FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing asset paths: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AssetPath, error) {
		var ap AssetPath
		err := row.Scan(&ap.ID, &ap.Path)
		ap.Path = naming.Normalize(ap.Path)
		return ap, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning asset paths: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) DeleteAsset(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting asset %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRegistry) DeleteAssetsByArtist(ctx context.Context, artistID int64) (int, error) {
	var n int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM assets WHERE artist_id = $1`, artistID)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting assets of artist %d: %w", artistID, err)
	}
	return int(n), nil
}

func (r *PostgresRegistry) CountAssetsByArtist(ctx context.Context, artistID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assets WHERE artist_id = $1`, artistID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting assets of artist %d: %w", artistID, err)
	}
	return n, nil
}

func scanPgAsset(row pgx.Row) (*AssetRecord, error) {
	var rec AssetRecord
	var format string
	if err := row.Scan(&rec.ID, &rec.ArtistID, &rec.Path, &format, &rec.UploadedAt); err != nil {
		return nil, err
	}
	rec.Path = naming.Normalize(rec.Path)
	rec.Format = Format(format)
	rec.UploadedAt = rec.UploadedAt.UTC()
	return &rec, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ Registry = (*PostgresRegistry)(nil)
