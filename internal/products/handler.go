package products

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.deactivate)
	r.Get("/schemas/{category}", h.getSchema)
	r.Put("/schemas/{category}", h.putSchema)
}

type productForm struct {
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Unit       string         `json:"unit"`
	Price      float64        `json:"price"`
	HSNCode    string         `json:"hsnCode"`
	Attributes map[string]any `json:"attributes"`
	IsActive   *bool          `json:"isActive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filters := ListFilters{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	if v := q.Get("active"); v != "" {
		active := v == "true"
		filters.IsActive = &active
	}
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	filters.Page, _ = strconv.Atoi(q.Get("page"))

	items, total, err := h.service.List(r.Context(), tenantID, filters)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"products":   items,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	product, err := h.service.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var form productForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	product, err := h.service.Create(r.Context(), tenantID, Product{
		Name:       form.Name,
		Category:   form.Category,
		Unit:       form.Unit,
		Price:      form.Price,
		HSNCode:    form.HSNCode,
		Attributes: form.Attributes,
	})
	if err != nil {
		h.logger.Error("create product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var form productForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	next := Product{
		Name:       form.Name,
		Category:   form.Category,
		Unit:       form.Unit,
		Price:      form.Price,
		HSNCode:    form.HSNCode,
		Attributes: form.Attributes,
		IsActive:   true,
	}
	if form.IsActive != nil {
		next.IsActive = *form.IsActive
	}
	product, err := h.service.Update(r.Context(), tenantID, chi.URLParam(r, "id"), next)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	if err := h.service.Deactivate(r.Context(), tenantID, chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	schema, err := h.service.GetSchema(r.Context(), tenantID, chi.URLParam(r, "category"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, schema)
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var schema AttributeSchema
	if err := httpx.DecodeJSON(r, &schema); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	schema.Category = chi.URLParam(r, "category")
	if err := h.service.PutSchema(r.Context(), tenantID, schema); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, schema)
}
