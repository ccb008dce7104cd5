package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/types"
)

// defaultRangeDays is the window served when a request gives no from date
const defaultRangeDays = 30

// parseRange reads from/to (YYYY-MM-DD) from the query. to defaults to today and from to
// defaultRangeDays before it.
func (s *Server) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	to := types.StartOfDay(s.now())
	if v := q.Get("to"); v != "" {
		t, err := types.ParseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.NewInvalidParameterError("to", err.Error())
		}
		to = t
	}

	from := types.AddDays(to, -defaultRangeDays)
	if v := q.Get("from"); v != "" {
		t, err := types.ParseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.NewInvalidParameterError("from", err.Error())
		}
		from = t
	}
	return from, to, nil
}

// handleAccountSnapshots handles GET /api/v1/accounts/{id}/snapshots
func (s *Server) handleAccountSnapshots(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	snaps, err := s.history.AccountSnapshots(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accountId": mux.Vars(r)["id"],
		"from":      from,
		"to":        to,
		"snapshots": toAccountSnapshots(snaps),
	})
}

// handleCompanySnapshots handles GET /api/v1/companies/{id}/snapshots
func (s *Server) handleCompanySnapshots(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	snaps, err := s.history.CompanySnapshots(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"companyId": mux.Vars(r)["id"],
		"from":      from,
		"to":        to,
		"snapshots": snaps,
	})
}

// handleAccountSummary handles GET /api/v1/accounts/{id}/summary
func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	stats, err := s.history.AccountSummaryStats(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSummaryStats(stats))
}

// handleVarianceSeries handles GET /api/v1/accounts/{id}/variance
func (s *Server) handleVarianceSeries(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	series, err := s.history.VarianceSeries(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accountId": mux.Vars(r)["id"],
		"series":    series,
	})
}

// handleVerifyAccountChain handles GET /api/v1/accounts/{id}/chain
func (s *Server) handleVerifyAccountChain(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := s.history.VerifyAccountChain(r.Context(), id)
	s.respondChain(w, r, types.EntityAccount, id, n, err)
}

// handleVerifyCompanyChain handles GET /api/v1/companies/{id}/chain
func (s *Server) handleVerifyCompanyChain(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := s.history.VerifyCompanyChain(r.Context(), id)
	s.respondChain(w, r, types.EntityCompany, id, n, err)
}

// respondChain reports a broken chain as 409 with the reason
func (s *Server) respondChain(w http.ResponseWriter, r *http.Request, kind types.EntityKind, id string, n int, err error) {
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, chainVerifyResponse{Entity: string(kind), ID: id, Length: n, Valid: true})
}
