package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"backoffice/internal/monthrange"
	"backoffice/internal/observability"
)

type initializeRangeRequest struct {
	ClientID  string `json:"client_id"`
	StartDate string `json:"start_date"`
}

type extendRangeRequest struct {
	Direction monthrange.Direction `json:"direction"`
	Months    int                  `json:"months"`
}

type monthRangeResponse struct {
	monthrange.View
	Committed *bool `json:"committed,omitempty"`
}

func parseStartDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01", s)
}

func monthRangeStatus(err error) int {
	switch {
	case errors.Is(err, monthrange.ErrNoBranch), errors.Is(err, monthrange.ErrNoClient),
		errors.Is(err, monthrange.ErrInvalidDirection), errors.Is(err, monthrange.ErrInvalidMonthCount):
		return http.StatusBadRequest
	case errors.Is(err, monthrange.ErrNoRange):
		return http.StatusNotFound
	case errors.Is(err, monthrange.ErrAlreadyInitialized), errors.Is(err, monthrange.ErrPendingDeletion),
		errors.Is(err, monthrange.ErrNoPendingDeletion):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// branchManager resolves the branch's manager or writes the error response.
func (a *API) branchManager(w http.ResponseWriter, r *http.Request) (*monthrange.Manager, bool) {
	branchID := mux.Vars(r)["branchId"]
	if !validID(branchID) {
		writeError(w, http.StatusBadRequest, ErrInvalidID)
		return nil, false
	}
	m, err := a.MonthRanges.Branch(r.Context(), branchID)
	if err != nil {
		slog.Error("load month range failed", "err", err, "branch_id", branchID)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return nil, false
	}
	return m, true
}

func (a *API) monthRangeResult(w http.ResponseWriter, m *monthrange.Manager, action string, err error, committed *bool) {
	if err != nil {
		observability.MonthRangeTransitions.WithLabelValues(action, "error").Inc()
		status := monthRangeStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("month range action failed", "action", action, "err", err)
		}
		writeJSON(w, status, struct {
			Error string          `json:"error"`
			State monthrange.View `json:"state"`
		}{err.Error(), m.View()})
		return
	}
	observability.MonthRangeTransitions.WithLabelValues(action, "ok").Inc()
	writeJSON(w, http.StatusOK, monthRangeResponse{View: m.View(), Committed: committed})
}

func (a *API) handleGetMonthRange(w http.ResponseWriter, r *http.Request) {
	m, ok := a.branchManager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, monthRangeResponse{View: m.View()})
}

func (a *API) handleInitializeRange(w http.ResponseWriter, r *http.Request) {
	m, ok := a.branchManager(w, r)
	if !ok {
		return
	}
	var req initializeRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.ClientID != "" && !validID(req.ClientID) {
		writeError(w, http.StatusBadRequest, ErrInvalidID)
		return
	}
	start := a.now()
	if req.StartDate != "" {
		t, err := parseStartDate(req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date")
			return
		}
		start = t
	}
	_, err := m.InitializeRange(r.Context(), req.ClientID, start)
	a.monthRangeResult(w, m, "initialize", err, nil)
}

func (a *API) handleExtendRange(w http.ResponseWriter, r *http.Request) {
	m, ok := a.branchManager(w, r)
	if !ok {
		return
	}
	var req extendRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	res, err := m.ExtendRange(r.Context(), req.Direction, req.Months)
	committed := res.Committed
	action := "extend"
	if err == nil && !committed {
		action = "stage_deletion"
	}
	a.monthRangeResult(w, m, action, err, &committed)
}

func (a *API) handleConfirmDeletion(w http.ResponseWriter, r *http.Request) {
	m, ok := a.branchManager(w, r)
	if !ok {
		return
	}
	_, err := m.ConfirmDeletion(r.Context())
	a.monthRangeResult(w, m, "confirm_deletion", err, nil)
}

func (a *API) handleCancelDeletion(w http.ResponseWriter, r *http.Request) {
	m, ok := a.branchManager(w, r)
	if !ok {
		return
	}
	a.monthRangeResult(w, m, "cancel_deletion", m.CancelDeletion(), nil)
}

// handleResetRange drops the cached manager, including any staged deletion, and reloads the
// branch from storage.
func (a *API) handleResetRange(w http.ResponseWriter, r *http.Request) {
	branchID := mux.Vars(r)["branchId"]
	if !validID(branchID) {
		writeError(w, http.StatusBadRequest, ErrInvalidID)
		return
	}
	a.MonthRanges.Reset(branchID)
	m, ok := a.branchManager(w, r)
	if !ok {
		return
	}
	a.monthRangeResult(w, m, "reset", nil, nil)
}
