package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the inventory ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/positions/{productID}", h.getPosition)
	r.Get("/positions/{productID}/movements", h.listMovements)
	r.Post("/receipts", h.postReceipt)
}

type positionResponse struct {
	ProductID string  `json:"productId"`
	Total     float64 `json:"total"`
	Reserved  float64 `json:"reserved"`
	Available float64 `json:"available"`
}

func toPositionResponse(pos Position) positionResponse {
	return positionResponse{
		ProductID: pos.ProductID,
		Total:     pos.TotalQty,
		Reserved:  pos.ReservedQty,
		Available: pos.Available(),
	}
}

func (h *Handler) getPosition(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	pos, err := h.service.GetPosition(r.Context(), tenantID, chi.URLParam(r, "productID"))
	if err != nil {
		h.logger.Error("get position", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPositionResponse(pos))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ListMovements(r.Context(), tenantID, chi.URLParam(r, "productID"), limit)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

type receiptRequest struct {
	ProductID string  `json:"productId" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Note      string  `json:"note"`
	ActorID   string  `json:"actorId"`
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pos, err := h.service.Receive(r.Context(), tenantID, ReceiveInput{
		ProductID: req.ProductID,
		Qty:       req.Quantity,
		Note:      req.Note,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.logger.Error("post receipt", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPositionResponse(pos))
}
