// Package httpapi implements the REST surface of the policy service.
//
// Routes:
//
//	GET  /health            → liveness
//	GET  /policies          → list (category, region, search, page, limit, ageMin, ageMax)
//	GET  /policies/{id}     → detail, 404 when unknown
//	POST /sync              → run a full sync now
//	GET  /sync/last         → last sync report, when events are enabled
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/policy"
	"yuno/policy-service/internal/policysync"
)

// PolicyService is implemented by *policy.Service.
type PolicyService interface {
	GetPolicies(ctx context.Context, f model.Filters, page, pageSize int, age model.AgeBounds) (model.PolicyPage, error)
	GetPolicyDetail(ctx context.Context, id string) (*model.Policy, error)
	SyncAll(ctx context.Context) (int, error)
}

// SyncHistory is implemented by *events.RedisNotifier.
type SyncHistory interface {
	LastSync(ctx context.Context) (*policysync.SyncReport, error)
}

// Handler holds shared dependencies.
type Handler struct {
	svc     PolicyService
	history SyncHistory
	service string
	version string
}

// NewHandler returns a configured Handler. history may be nil.
func NewHandler(svc PolicyService, history SyncHistory, service, version string) *Handler {
	return &Handler{svc: svc, history: history, service: service, version: version}
}

// RegisterRoutes mounts all routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /policies", h.listPolicies)
	mux.HandleFunc("GET /policies/{id}", h.getPolicy)
	mux.HandleFunc("POST /sync", h.syncAll)
	mux.HandleFunc("GET /sync/last", h.lastSync)
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, map[string]string{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	})
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := optInt(q.Get("page"), "page")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := optInt(q.Get("limit"), "limit")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var age model.AgeBounds
	if age.Min, err = optIntPtr(q.Get("ageMin"), "ageMin"); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if age.Max, err = optIntPtr(q.Get("ageMax"), "ageMax"); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	f := model.Filters{
		Category: strings.TrimSpace(q.Get("category")),
		Region:   strings.TrimSpace(q.Get("region")),
		Search:   strings.TrimSpace(q.Get("search")),
	}
	out, err := h.svc.GetPolicies(r.Context(), f, page, limit, age)
	if err != nil {
		// Only a cancelled request gets here.
		slog.Warn("getPolicies aborted", "err", err)
		jsonError(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	jsonOK(w, out)
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		jsonError(w, "id is required", http.StatusBadRequest)
		return
	}
	p, err := h.svc.GetPolicyDetail(r.Context(), id)
	if err != nil {
		slog.Warn("getPolicyDetail aborted", "id", id, "err", err)
		jsonError(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	if p == nil {
		jsonError(w, fmt.Sprintf("policy %q not found", id), http.StatusNotFound)
		return
	}
	jsonOK(w, p)
}

func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	// A full sync outlives the server's WriteTimeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Warn("sync: cannot lift write deadline", "err", err)
	}
	n, err := h.svc.SyncAll(r.Context())
	switch {
	case errors.Is(err, policy.ErrSyncInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
	case err != nil:
		slog.Error("manual sync failed", "synced", n, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "synced": n})
	default:
		jsonOK(w, map[string]int{"synced": n})
	}
}

func (h *Handler) lastSync(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, "sync history is not enabled", http.StatusNotFound)
		return
	}
	report, err := h.history.LastSync(r.Context())
	if err != nil {
		slog.Warn("lastSync failed", "err", err)
		jsonError(w, "sync history unavailable", http.StatusBadGateway)
		return
	}
	if report == nil {
		jsonError(w, "no sync has completed yet", http.StatusNotFound)
		return
	}
	jsonOK(w, report)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func optInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func optIntPtr(raw, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := optInt(raw, name)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func jsonOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
