package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"backoffice/internal/domain"
)

type createRuleRequest struct {
	Name     string                   `json:"name"`
	Category domain.ReminderCategory  `json:"category"`
	Trigger  domain.TriggerConditions `json:"trigger_conditions"`
	Actions  domain.RuleActions       `json:"actions"`
	Priority int                      `json:"priority"`
	Active   *bool                    `json:"is_active"`
}

var ruleValidationErrors = []error{
	domain.ErrMissingFields, domain.ErrInvalidCategory, domain.ErrInvalidPriority,
	domain.ErrNoTrigger, domain.ErrNoAction, domain.ErrMissingTemplate,
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	if !validID(tenantID) {
		writeError(w, http.StatusBadRequest, ErrInvalidID)
		return
	}
	rules, err := a.Rules.List(r.Context(), tenantID)
	if err != nil {
		slog.Error("list reminder rules failed", "err", err, "tenant_id", tenantID)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	if rules == nil {
		rules = []domain.ReminderRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	if !validID(tenantID) {
		writeError(w, http.StatusBadRequest, ErrInvalidID)
		return
	}
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}

	rule := domain.ReminderRule{
		TenantID: tenantID,
		Name:     req.Name,
		Category: req.Category,
		Trigger:  req.Trigger,
		Actions:  req.Actions,
		Priority: req.Priority,
		Active:   req.Active == nil || *req.Active,
	}
	created, err := a.Rules.Create(r.Context(), rule, a.now())
	if err != nil {
		for _, ve := range ruleValidationErrors {
			if errors.Is(err, ve) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		slog.Error("create reminder rule failed", "err", err, "tenant_id", tenantID)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
