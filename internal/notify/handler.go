package notify

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ListStore reads the delivery attempt trail.
type ListStore interface {
	ListByDispatch(ctx context.Context, tenantID, dispatchID string) ([]Log, error)
}

// Handler exposes the notification log for a dispatch, so operators can
// see every delivery attempt including forced resends.
type Handler struct {
	logger *slog.Logger
	store  ListStore
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, store ListStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store}
}

// ListByDispatch serves the delivery attempts for one dispatch.
func (h *Handler) ListByDispatch(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	dispatchID := chi.URLParam(r, "id")
	logs, err := h.store.ListByDispatch(r.Context(), tenantID, dispatchID)
	if err != nil {
		h.logger.Error("list notification logs",
			slog.String("dispatch_id", dispatchID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": logs})
}
