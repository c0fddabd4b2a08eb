package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"backoffice/internal/domain"
	"backoffice/internal/monthrange"
	"backoffice/internal/store"
	"backoffice/internal/util"
)

type Runner interface {
	Run(ctx context.Context, req domain.RunRequest) (domain.RunStats, error)
}

type AlertQuerier interface {
	Summary(ctx context.Context, tenantID string, now time.Time) (domain.AlertSummary, error)
	SummaryAll(ctx context.Context, now time.Time) ([]domain.AlertSummary, error)
	Dispatch(ctx context.Context, s domain.AlertSummary) int
}

type RuleManager interface {
	Create(ctx context.Context, r domain.ReminderRule, now time.Time) (domain.ReminderRule, error)
	List(ctx context.Context, tenantID string) ([]domain.ReminderRule, error)
}

type API struct {
	Runner      Runner
	Alerts      AlertQuerier
	Rules       RuleManager
	MonthRanges *monthrange.Registry
	InternalKey string
	Now         func() time.Time
}

func (a *API) Register(r *mux.Router) {
	protect := InternalKey(a.InternalKey)
	r.Handle("/v1/reminders/run", protect(http.HandlerFunc(a.handleRun))).Methods(http.MethodPost)
	r.Handle("/v1/alerts", protect(http.HandlerFunc(a.handleAlerts))).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/v1/tenants/{tenantId}/reminder-rules", a.handleListRules).Methods(http.MethodGet)
	r.HandleFunc("/v1/tenants/{tenantId}/reminder-rules", a.handleCreateRule).Methods(http.MethodPost)

	r.HandleFunc("/v1/branches/{branchId}/month-range", a.handleGetMonthRange).Methods(http.MethodGet)
	r.HandleFunc("/v1/branches/{branchId}/month-range/initialize", a.handleInitializeRange).Methods(http.MethodPost)
	r.HandleFunc("/v1/branches/{branchId}/month-range/extend", a.handleExtendRange).Methods(http.MethodPost)
	r.HandleFunc("/v1/branches/{branchId}/month-range/confirm-deletion", a.handleConfirmDeletion).Methods(http.MethodPost)
	r.HandleFunc("/v1/branches/{branchId}/month-range/cancel-deletion", a.handleCancelDeletion).Methods(http.MethodPost)
	r.HandleFunc("/v1/branches/{branchId}/month-range/reset", a.handleResetRange).Methods(http.MethodPost)
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return util.NowUTC()
}

func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// decodeOptional decodes a JSON body into dst; an empty body leaves dst untouched.
func decodeOptional(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	var req domain.RunRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.TenantID != "" && !validID(req.TenantID) {
		writeError(w, http.StatusBadRequest, ErrInvalidID)
		return
	}

	stats, err := a.Runner.Run(r.Context(), req)
	if err != nil {
		slog.Error("reminder run failed", "err", err, "tenant_id", req.TenantID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

// handleAlerts returns one summary for ?tenant_id= or an array for all active tenants. POST
// also emails the tenant admins about every nonzero category.
func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := a.now()
	notify := r.Method == http.MethodPost

	if tenantID := r.URL.Query().Get("tenant_id"); tenantID != "" {
		if !validID(tenantID) {
			writeError(w, http.StatusBadRequest, ErrInvalidID)
			return
		}
		s, err := a.Alerts.Summary(ctx, tenantID, now)
		if err != nil {
			slog.Error("alert summary failed", "err", err, "tenant_id", tenantID)
			writeError(w, http.StatusBadGateway, ErrDependency)
			return
		}
		if notify {
			a.Alerts.Dispatch(ctx, s)
		}
		writeJSON(w, http.StatusOK, s)
		return
	}

	all, err := a.Alerts.SummaryAll(ctx, now)
	if err != nil {
		slog.Error("alert summaries failed", "err", err)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	if notify {
		for _, s := range all {
			a.Alerts.Dispatch(ctx, s)
		}
	}
	writeJSON(w, http.StatusOK, all)
}
