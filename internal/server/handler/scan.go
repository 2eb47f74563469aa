package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

// ScanService is the monitor surface the scan endpoints use.
type ScanService interface {
	RunOnce(ctx context.Context) (domain.ScanResult, error)
	Latest(ctx context.Context) (domain.ScanResult, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.ScanSummary, error)
}

// ScanHandler serves scan reports.
type ScanHandler struct {
	scans  ScanService
	logger *slog.Logger
}

// NewScanHandler creates a ScanHandler.
func NewScanHandler(scans ScanService, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scans: scans, logger: logger.With(slog.String("handler", "scan"))}
}

// Latest returns the newest scan report.
// GET /api/scan/latest
func (h *ScanHandler) Latest(w http.ResponseWriter, r *http.Request) {
	result, err := h.scans.Latest(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newScanView(result))
}

// Trigger runs a scan now and returns its report.
// POST /api/scan
func (h *ScanHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.scans.RunOnce(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newScanView(result))
}

// History lists persisted scan summaries.
// GET /api/scans?limit=&offset=
func (h *ScanHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.scans.History(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": newSummaryViews(history)})
}
