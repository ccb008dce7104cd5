package api

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/metrics"
	"github.com/hedge-snapshots/internal/service"
	"github.com/hedge-snapshots/internal/types"
)

func summarize(summary *service.RunSummary) runResponse {
	return runResponse{
		RunSummary: summary,
		Created:    summary.Count(metrics.OutcomeCreated),
		Existing:   summary.Count(metrics.OutcomeExisting),
		Skipped:    summary.Count(metrics.OutcomeSkipped),
		Failed:     summary.Count(metrics.OutcomeFailed),
		Replaced:   summary.Count(metrics.OutcomeReplaced),
	}
}

// handleRun handles POST /api/v1/runs. The run completes before the response is written.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, ErrCodeInternalError, "Snapshot runs are disabled on this server", nil)
		return
	}

	var req runRequest
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{"reason": err.Error()})
			return
		}
	}

	refDate := types.StartOfDay(s.now())
	if req.Date != "" {
		d, err := types.ParseDate(req.Date)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("date", err.Error()))
			return
		}
		refDate = d
	}

	summary, err := s.runner.Run(r.Context(), refDate, req.Companies)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(summary))
}

// handleRedoAccount handles POST /api/v1/accounts/{id}/redo, replacing the stored snapshots
// within [from, to]
func (s *Server) handleRedoAccount(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, ErrCodeInternalError, "Snapshot runs are disabled on this server", nil)
		return
	}

	var req redoRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}
	from, err := types.ParseDate(req.From)
	if err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("from", err.Error()))
		return
	}
	to, err := types.ParseDate(req.To)
	if err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("to", err.Error()))
		return
	}
	if to.Before(from) {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("to", "must not be before from"))
		return
	}

	summary, err := s.runner.RedoAccountRange(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(summary))
}
