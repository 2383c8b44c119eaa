package handlers

import (
	"log/slog"
	"net/http"

	apperr "github.com/galleria/galleria/internal/errors"
	"github.com/galleria/galleria/internal/jsonutil"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/scanner"
)

// AdminHandler contains the maintenance endpoints.
type AdminHandler struct {
	scanner       *scanner.Scanner
	schedule      *scanner.Scheduler
	defaultPolicy scanner.OrphanPolicy
	logger        *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. defaultPolicy applies to
// cleanup requests that do not name one. schedule may be nil when
// scheduled scans are disabled.
func NewAdminHandler(s *scanner.Scanner, schedule *scanner.Scheduler, defaultPolicy scanner.OrphanPolicy, logger *slog.Logger) *AdminHandler {
	if defaultPolicy == "" {
		defaultPolicy = scanner.PolicyReport
	}
	return &AdminHandler{
		scanner:       s,
		schedule:      schedule,
		defaultPolicy: defaultPolicy,
		logger:        logging.Component(logger, "admin"),
	}
}

// Scan handles POST /api/admin/scan. It never modifies anything.
func (h *AdminHandler) Scan(w http.ResponseWriter, r *http.Request) {
	rep, err := h.scanner.Report(r.Context())
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, rep)
}

// LastScan handles GET /api/admin/scan/last, returning the report of the
// most recent scheduled scan.
func (h *AdminHandler) LastScan(w http.ResponseWriter, r *http.Request) {
	if h.schedule == nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrNoScanReport.WithMessage("Scheduled scans are disabled"))
		return
	}
	rep := h.schedule.LastReport()
	if rep == nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrNoScanReport)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, rep)
}

// Cleanup handles POST /api/admin/cleanup?orphans=report|delete.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	policy := h.defaultPolicy
	if raw := r.URL.Query().Get("orphans"); raw != "" {
		p, err := scanner.ParsePolicy(raw)
		if err != nil {
			jsonutil.WriteErrorResponse(w, r, apperr.ErrMalformedBody.WithMessage("orphans must be report or delete"))
			return
		}
		policy = p
	}

	h.logger.Info("cleanup requested", "policy", policy)
	rep, err := h.scanner.Reconcile(r.Context(), policy)
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, rep)
}

// RepairMissing handles POST /api/admin/repair-missing, removing records
// whose file is gone.
func (h *AdminHandler) RepairMissing(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("missing-record repair requested")
	rep, err := h.scanner.RepairMissing(r.Context())
	if err != nil {
		jsonutil.WriteErrorResponse(w, r, apperr.ErrRegistry.Wrap(err))
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, rep)
}
