// Package serialization dumps and restores the Galleria registry tables as
// JSON. It is used by the galleria-admin command for backups and migrations
// between SQLite databases.
package serialization

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/galleria/galleria/internal/naming"
)

// Version is the tool version recorded in the export envelope.
const Version = "0.1.0"

// ExportVersion is the envelope format version. Imports reject any other.
const ExportVersion = 1

// envelopeKey names the top-level object holding the export metadata.
const envelopeKey = "galleria_export"

// AllTables lists the exportable tables in insert (foreign key) order.
var AllTables = []string{"artists", "assets"}

var tableColumns = map[string][]string{
	"artists": {"id", "name", "created_at"},
	"assets":  {"id", "artist_id", "path", "format", "uploaded_at"},
}

var intColumns = map[string]bool{
	"id":        true,
	"artist_id": true,
}

// ExportOptions selects what Export writes.
type ExportOptions struct {
	// Tables limits the export. Empty means AllTables.
	Tables []string
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Replace deletes existing rows of the imported tables before inserting.
	// Without it, rows whose id already exists are skipped.
	Replace bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	Counts   map[string]int `json:"counts"`
	Skipped  map[string]int `json:"skipped"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Export writes the selected tables of db as indented JSON. Rows are ordered
// by id and object keys are sorted, so two exports of the same data are
// byte-identical apart from exported_at.
func Export(ctx context.Context, db *sql.DB, opts ExportOptions) ([]byte, error) {
	tables, err := selectTables(opts.Tables)
	if err != nil {
		return nil, err
	}

	schemaVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		envelopeKey: map[string]any{
			"version":        ExportVersion,
			"exported_at":    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			"schema_version": schemaVersion,
			"source":         "galleria/" + Version,
		},
	}

	for _, table := range tables {
		rows, err := exportTable(ctx, db, table)
		if err != nil {
			return nil, err
		}
		out[table] = rows
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	return append(data, '\n'), nil
}

func exportTable(ctx context.Context, db *sql.DB, table string) ([]map[string]any, error) {
	cols := tableColumns[table]
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(cols, ", "), table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	result := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}
	return result, nil
}

// Import loads an export produced by Export into db inside one transaction.
// Asset paths are normalized on the way in; rows with an unusable path are
// skipped with a warning.
func Import(ctx context.Context, db *sql.DB, data []byte, opts ImportOptions) (*ImportResult, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding import: %w", err)
	}

	var envelope struct {
		Version int `json:"version"`
	}
	raw, ok := doc[envelopeKey]
	if !ok {
		return nil, fmt.Errorf("missing %s envelope", envelopeKey)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s envelope: %w", envelopeKey, err)
	}
	if envelope.Version != ExportVersion {
		return nil, fmt.Errorf("unsupported export version %d (want %d)", envelope.Version, ExportVersion)
	}

	var present []string
	for _, table := range AllTables {
		if _, ok := doc[table]; ok {
			present = append(present, table)
		}
	}

	result := &ImportResult{
		Counts:  make(map[string]int),
		Skipped: make(map[string]int),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if opts.Replace {
		// Children first so the artist delete never trips the foreign key.
		for _, table := range slices.Backward(present) {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return nil, fmt.Errorf("clearing %s: %w", table, err)
			}
		}
	}

	for _, table := range present {
		var rows []map[string]any
		dec := json.NewDecoder(strings.NewReader(string(doc[table])))
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("decoding %s rows: %w", table, err)
		}
		if err := importTable(ctx, tx, table, rows, result); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing import: %w", err)
	}
	return result, nil
}

func importTable(ctx context.Context, tx *sql.Tx, table string, rows []map[string]any, result *ImportResult) error {
	cols := tableColumns[table]
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders,
	))
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", table, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		args := make([]any, len(cols))
		for j, col := range cols {
			v, err := convertValue(col, row[col])
			if err != nil {
				return fmt.Errorf("%s row %d: %w", table, i, err)
			}
			args[j] = v
		}

		if table == "assets" {
			p, _ := args[2].(string)
			if !naming.Valid(p) {
				result.Skipped[table]++
				result.Warnings = append(result.Warnings, fmt.Sprintf("assets row %d: unusable path %q", i, p))
				continue
			}
			args[2] = naming.Normalize(p)
		}

		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return fmt.Errorf("inserting %s row %d: %w", table, i, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			result.Skipped[table]++
			continue
		}
		result.Counts[table]++
	}
	return nil
}

func convertValue(col string, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("column %s is required", col)
	}
	if intColumns[col] {
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("column %s: expected integer, got %T", col, v)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		return i, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("column %s: expected string, got %T", col, v)
	}
	return s, nil
}

func selectTables(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return AllTables, nil
	}
	var tables []string
	for _, t := range AllTables {
		if slices.Contains(requested, t) {
			tables = append(tables, t)
		}
	}
	for _, t := range requested {
		if _, ok := tableColumns[t]; !ok {
			return nil, fmt.Errorf("unknown table %q", t)
		}
	}
	return tables, nil
}

func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}
