package syncer

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for sync control.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs syncer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sync routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.syncNow)
	r.Get("/status", h.status)
	r.Put("/config", h.putConfig)
}

type syncRequest struct {
	InvoiceIDs []string `json:"invoiceIds,omitempty"`
	All        bool     `json:"all,omitempty"`
}

func (h *Handler) syncNow(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	var (
		result Result
		err    error
	)
	if req.All || len(req.InvoiceIDs) == 0 {
		result, err = h.service.SyncTenant(r.Context(), tenantID)
	} else {
		result, err = h.service.SyncInvoices(r.Context(), tenantID, req.InvoiceIDs)
	}
	if err != nil {
		h.logger.Error("manual sync", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	status, err := h.service.GetStatus(r.Context(), tenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

type configRequest struct {
	AutoSyncEnabled bool  `json:"autoSyncEnabled"`
	IntervalMs      int64 `json:"intervalMs,omitempty"`
}

func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var req configRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	cfg, err := h.service.SetAutoSync(r.Context(), tenantID, req.AutoSyncEnabled, time.Duration(req.IntervalMs)*time.Millisecond)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"autoSyncEnabled": cfg.AutoSyncEnabled,
		"intervalMs":      cfg.Interval.Milliseconds(),
	})
}
