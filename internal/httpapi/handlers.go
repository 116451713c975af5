package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/knoguchi/ragquery/internal/auth"
	"github.com/knoguchi/ragquery/internal/orchestrator"
	"github.com/knoguchi/ragquery/internal/pipeline"
	"github.com/knoguchi/ragquery/internal/tenant"
)

type handlers struct {
	tenants *tenant.Service
	orch    *orchestrator.Orchestrator
	logger  *slog.Logger
}

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer      string              `json:"answer,omitempty"`
	Refused     bool                `json:"refused"`
	RefusalCode string              `json:"refusal_code,omitempty"`
	Citations   []pipeline.Citation `json:"citations,omitempty"`
	Confidence  float64             `json:"confidence"`
	Degraded    bool                `json:"degraded"`
	RequestID   string              `json:"request_id"`
	ElapsedMS   int64               `json:"elapsed_ms"`
}

func (h *handlers) ask(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	if auth.IsAdmin(caller) {
		writeError(w, http.StatusForbidden, "admin credentials cannot query tenants")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	tenantID, err := uuid.Parse(caller.TenantID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid tenant identity")
		return
	}
	t, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}

	env, ferr := h.orch.Ask(r.Context(), req.Query, caller, t)
	if ferr != nil {
		writeError(w, statusForKind(ferr.Kind), ferr.Message)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:      env.Answer,
		Refused:     env.Refused,
		RefusalCode: env.RefusalCode,
		Citations:   env.Citations,
		Confidence:  env.Confidence,
		Degraded:    env.Degraded,
		RequestID:   env.RequestID,
		ElapsedMS:   env.ElapsedMS,
	})
}

type createTenantRequest struct {
	Name   string         `json:"name"`
	Config *tenant.Config `json:"config,omitempty"`
}

func (h *handlers) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	t, err := h.tenants.CreateTenant(r.Context(), req.Name, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagingParams(r)
	tenants, total, err := h.tenants.ListTenants(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants, "total": total})
}

func (h *handlers) getTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	t, err := h.tenants.GetTenant(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) updateTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.tenants.UpdateTenant(r.Context(), id, req.Name, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := h.tenants.DeleteTenant(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) regenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	key, err := h.tenants.RegenerateAPIKey(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok || !auth.IsAdmin(caller) {
			writeError(w, http.StatusForbidden, "admin credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func statusForKind(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindInvalidQuery:
		return http.StatusBadRequest
	case pipeline.KindInvalidCaller:
		return http.StatusForbidden
	case pipeline.KindUpstreamTimeout:
		return http.StatusRequestTimeout
	case pipeline.KindOverloaded:
		return http.StatusTooManyRequests
	case pipeline.KindUpstreamFailure:
		return http.StatusServiceUnavailable
	case pipeline.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func pagingParams(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
