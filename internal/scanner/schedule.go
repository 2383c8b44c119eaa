package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/galleria/galleria/internal/logging"
)

// Scheduler runs report-only scans on a cron schedule. It never deletes
// anything; scheduled runs only log and update metrics.
type Scheduler struct {
	cron    *cron.Cron
	scanner *Scanner
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	last *Report
}

// NewScheduler parses spec (standard five-field cron syntax or a
// descriptor such as "@every 6h") and prepares a scheduler. Runs that
// overlap a still-running scan are skipped.
func NewScheduler(spec string, s *Scanner, logger *slog.Logger) (*Scheduler, error) {
	logger = logging.Component(logger, "scan-scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	sch := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		scanner: s,
		timeout: time.Hour,
		logger:  logger,
	}
	if _, err := sch.cron.AddFunc(spec, sch.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}
	return sch, nil
}

// Start begins running scheduled scans in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("scheduled scans enabled", "next", e.Next)
	}
}

// Stop halts scheduling and waits for a running scan to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduled scan still running at shutdown")
	}
}

// RunOnce performs one report-only scan.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rep, err := s.scanner.Report(ctx)
	if err != nil {
		s.logger.Error("scheduled scan failed", "error", err)
		return
	}
	if rep.OrphanedFiles > 0 || rep.MissingFilesInDB > 0 {
		s.logger.Warn("registry and store diverge",
			"orphans", rep.OrphanedFiles,
			"missing", rep.MissingFilesInDB,
		)
	}
	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()
}

// LastReport returns the report of the most recent successful scheduled
// scan, or nil if none has completed.
func (s *Scheduler) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
