// Package scanner cross-checks the registry against the asset store and
// reports (optionally repairs) divergence between them.
//
// A scan is not transactionally consistent with concurrent uploads or
// deletes. An upload writes its file before inserting its record, so a scan
// racing it may report that file as an orphan; a delete removes the record
// before the file, so a racing scan may report the same. Under the delete
// policy such a file can be removed just before its record lands. Run
// reconciliation during quiet periods, or use Report, which never mutates.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/metrics"
	"github.com/galleria/galleria/internal/naming"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/storage"
)

// DefaultMaxErrors bounds Report.Errors when no limit is configured.
const DefaultMaxErrors = 100

// OrphanPolicy selects what reconciliation does with files that have no record.
type OrphanPolicy string

const (
	// PolicyReport counts and lists orphans only.
	PolicyReport OrphanPolicy = "report"
	// PolicyDelete removes orphaned files from the store.
	PolicyDelete OrphanPolicy = "delete"
)

// ParsePolicy validates a policy name. Empty means PolicyReport.
func ParsePolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(s) {
	case "", PolicyReport:
		return PolicyReport, nil
	case PolicyDelete:
		return PolicyDelete, nil
	}
	return "", fmt.Errorf("unknown orphan policy %q (want report or delete)", s)
}

// Mode names the scanner operation that produced a Report.
type Mode string

const (
	ModeReport    Mode = "report"
	ModeReconcile Mode = "reconcile"
	ModeRepair    Mode = "repair"
)

// MissingRecord identifies a registry record whose backing file is absent.
type MissingRecord struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// Report is the outcome of one scanner invocation. Each call builds a fresh
// Report; nothing carries over between runs.
type Report struct {
	Mode   Mode         `json:"mode"`
	Policy OrphanPolicy `json:"policy"`

	// ProcessedFiles is the number of distinct paths examined: every
	// registry path plus every walked file not already in the registry.
	ProcessedFiles       int `json:"processedFiles"`
	RecordsChecked       int `json:"recordsChecked"`
	FilesWalked          int `json:"filesWalked"`
	OrphanedFiles        int `json:"orphanedFiles"`
	OrphanedFilesRemoved int `json:"orphanedFilesRemoved"`
	MissingFilesInDB     int `json:"missingFilesInDb"`
	// MissingRecordsRemoved is set by RepairMissing only.
	MissingRecordsRemoved int `json:"missingRecordsRemoved"`

	Orphans []string        `json:"orphans"`
	Missing []MissingRecord `json:"missing"`

	Errors        []string `json:"errors"`
	ErrorsDropped int      `json:"errorsDropped"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	maxErrors int
}

func (r *Report) addError(format string, args ...any) {
	if len(r.Errors) >= r.maxErrors {
		r.ErrorsDropped++
		return
	}
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Scanner compares registry records with store contents.
type Scanner struct {
	registry  registry.Registry
	store     storage.Backend
	maxErrors int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxErrors bounds the number of error strings kept per report.
func WithMaxErrors(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxErrors = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logging.Component(l, "scanner") }
}

// WithClock replaces the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New creates a Scanner over reg and store.
func New(reg registry.Registry, store storage.Backend, opts ...Option) *Scanner {
	s := &Scanner{
		registry:  reg,
		store:     store,
		maxErrors: DefaultMaxErrors,
		now:       time.Now,
		logger:    logging.Component(nil, "scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report runs a read-only scan. Orphans are listed, never deleted.
func (s *Scanner) Report(ctx context.Context) (*Report, error) {
	return s.run(ctx, ModeReport, PolicyReport)
}

// Reconcile runs a scan that applies policy to orphaned files. Records with
// missing files are reported only; see RepairMissing.
func (s *Scanner) Reconcile(ctx context.Context, policy OrphanPolicy) (*Report, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = PolicyReport
	}
	return s.run(ctx, ModeReconcile, policy)
}

// RepairMissing deletes the registry records whose backing file is missing.
// The store is not walked.
func (s *Scanner) RepairMissing(ctx context.Context) (*Report, error) {
	start := s.now()
	rep := s.newReport(ModeRepair, PolicyReport, start)

	paths, err := s.registry.ListAssetPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading registry paths: %w", err)
	}
	seen := make(map[string]bool, len(paths))
	for _, ap := range paths {
		seen[ap.Path] = true
	}
	rep.ProcessedFiles = len(seen)

	for _, missing := range s.checkRecords(ctx, rep, paths) {
		ok, err := s.registry.DeleteAsset(ctx, missing.ID)
		if err != nil {
			rep.addError("removing record %d (%s): %v", missing.ID, missing.Path, err)
			continue
		}
		if ok {
			rep.MissingRecordsRemoved++
			s.logger.Info("removed record with missing file", "id", missing.ID, "path", missing.Path)
		}
	}

	s.finish(rep, start)
	return rep, nil
}

func (s *Scanner) newReport(mode Mode, policy OrphanPolicy, start time.Time) *Report {
	return &Report{
		Mode:      mode,
		Policy:    policy,
		Orphans:   make([]string, 0),
		Missing:   make([]MissingRecord, 0),
		Errors:    make([]string, 0),
		StartedAt: start.UTC(),
		maxErrors: s.maxErrors,
	}
}

func (s *Scanner) run(ctx context.Context, mode Mode, policy OrphanPolicy) (*Report, error) {
	start := s.now()
	rep := s.newReport(mode, policy, start)

	paths, err := s.registry.ListAssetPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading registry paths: %w", err)
	}
	known := make(map[string]bool, len(paths))
	for _, ap := range paths {
		known[ap.Path] = true
	}

	// Phase 1: every record must have a file.
	s.checkRecords(ctx, rep, paths)

	// Phase 2: every file must have a record.
	processed := len(known)
	for rel, err := range s.store.Walk(ctx) {
		if err != nil {
			var we *storage.WalkError
			switch {
			case errors.Is(err, storage.ErrRootNotFound):
				rep.addError("store root not found")
			case errors.As(err, &we):
				rep.addError("unreadable directory %s: %v", we.Dir, we.Err)
			default:
				rep.addError("walking store: %v", err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		rep.FilesWalked++
		rel = naming.Normalize(rel)
		if known[rel] {
			continue
		}
		processed++
		rep.OrphanedFiles++
		rep.Orphans = append(rep.Orphans, rel)

		if policy != PolicyDelete {
			continue
		}
		if err := s.store.Delete(ctx, rel); err != nil {
			rep.addError("deleting orphan %s: %v", rel, err)
			s.logger.Warn("orphan delete failed", "path", rel, "error", err)
			continue
		}
		rep.OrphanedFilesRemoved++
		s.logger.Info("deleted orphaned file", "path", rel)
	}
	rep.ProcessedFiles = processed

	s.finish(rep, start)
	return rep, nil
}

// checkRecords runs the existence check for every registry path, filling in
// the missing counters, and returns the missing records.
func (s *Scanner) checkRecords(ctx context.Context, rep *Report, paths []registry.AssetPath) []MissingRecord {
	var missing []MissingRecord
	for _, ap := range paths {
		rep.RecordsChecked++
		ok, err := s.store.Exists(ctx, ap.Path)
		if err != nil {
			rep.addError("checking %s (record %d): %v", ap.Path, ap.ID, err)
			continue
		}
		if ok {
			continue
		}
		m := MissingRecord{ID: ap.ID, Path: ap.Path}
		rep.MissingFilesInDB++
		rep.Missing = append(rep.Missing, m)
		missing = append(missing, m)
	}
	return missing
}

func (s *Scanner) finish(rep *Report, start time.Time) {
	rep.FinishedAt = s.now().UTC()

	metrics.ScansTotal.WithLabelValues(string(rep.Mode)).Inc()
	metrics.ScanDuration.Observe(rep.FinishedAt.Sub(start.UTC()).Seconds())
	if rep.Mode != ModeRepair {
		metrics.OrphanedFiles.Set(float64(rep.OrphanedFiles))
	}
	metrics.MissingFiles.Set(float64(rep.MissingFilesInDB - rep.MissingRecordsRemoved))

	s.logger.Info("scan finished",
		"mode", rep.Mode,
		"policy", rep.Policy,
		"processed", rep.ProcessedFiles,
		"orphans", rep.OrphanedFiles,
		"orphans_removed", rep.OrphanedFilesRemoved,
		"missing", rep.MissingFilesInDB,
		"missing_removed", rep.MissingRecordsRemoved,
		"errors", len(rep.Errors)+rep.ErrorsDropped,
	)
}
