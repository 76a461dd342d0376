package dispatch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for dispatch lifecycle operations.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs dispatch handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers dispatch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/workflow", h.applyWorkflow)
	r.Post("/{id}/notify", h.notify)
	r.Get("/{id}/challan", h.getChallan)
	r.Get("/{id}/receipt", h.getReceipt)
}

type dispatchDetail struct {
	Dispatch
	TotalValue float64       `json:"totalValue"`
	Workflow   WorkflowFlags `json:"workflow"`
	Challan    *Challan      `json:"challan,omitempty"`
	Receipt    *Receipt      `json:"receipt,omitempty"`
}

func toDetail(d Dispatch) dispatchDetail {
	return dispatchDetail{Dispatch: d, TotalValue: d.TotalValue(), Workflow: d.Flags()}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filters := ListFilters{
		Status:    Status(q.Get("status")),
		Source:    SourceType(q.Get("source")),
		InvoiceID: q.Get("invoiceId"),
		Search:    q.Get("search"),
		From:      parseDay(q.Get("from"), false),
		To:        parseDay(q.Get("to"), true),
	}
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	filters.Page, _ = strconv.Atoi(q.Get("page"))

	dispatches, total, err := h.service.List(r.Context(), tenantID, filters)
	if err != nil {
		h.logger.Error("list dispatches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	stats, err := h.service.Stats(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("dispatch stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	details := make([]dispatchDetail, len(dispatches))
	for i, d := range dispatches {
		details[i] = toDetail(d)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"dispatches": details,
		"stats":      stats,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

// parseDay reads a YYYY-MM-DD bound. The end bound is exclusive, so it
// advances a day to cover the named date fully.
func parseDay(value string, end bool) *time.Time {
	if value == "" {
		return nil
	}
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return &day
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	d, err := h.service.Create(r.Context(), tenantID, input)
	if err != nil {
		h.logger.Error("create dispatch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDetail(d))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	d, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	detail := toDetail(d)
	if ch, err := h.service.GetChallan(r.Context(), tenantID, id); err == nil {
		detail.Challan = &ch
	} else if !errors.Is(err, shared.ErrNotFound) {
		httpx.RespondError(w, err)
		return
	}
	if rc, err := h.service.GetReceipt(r.Context(), tenantID, id); err == nil {
		detail.Receipt = &rc
	} else if !errors.Is(err, shared.ErrNotFound) {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.service.RequestNotification(r.Context(), tenantID, id); err != nil {
		h.logger.Warn("request notification", slog.String("dispatch_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

type workflowRequest struct {
	Action  string            `json:"action"`
	Payload TransitionPayload `json:"payload"`
}

func (h *Handler) applyWorkflow(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var req workflowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.ApplyTransition(r.Context(), tenantID, chi.URLParam(r, "id"), action, req.Payload)
	if err != nil {
		h.logger.Warn("workflow action failed",
			slog.String("action", req.Action),
			slog.String("dispatch_id", chi.URLParam(r, "id")),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDetail(d))
}

func (h *Handler) getChallan(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	ch, err := h.service.GetChallan(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ch)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	rc, err := h.service.GetReceipt(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rc)
}
