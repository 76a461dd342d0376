package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func TestListByDispatchReturnsAttemptTrail(t *testing.T) {
	logs := &memoryLogs{}
	base := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	logs.logs = []Log{
		{TenantID: "t1", DispatchID: "d1", Channel: "whatsapp", Recipient: "9876500001", Status: "failed", Error: "provider timeout", SentAt: base},
		{TenantID: "t1", DispatchID: "d1", Channel: "whatsapp", Recipient: "9876500001", Status: "sent", MessageID: "WA-DEADBEEF", SentAt: base.Add(time.Minute)},
		{TenantID: "t1", DispatchID: "other", Channel: "whatsapp", Recipient: "9876500002", Status: "sent", SentAt: base},
		{TenantID: "t2", DispatchID: "d1", Channel: "whatsapp", Recipient: "9876500003", Status: "sent", SentAt: base},
	}

	r := chi.NewRouter()
	r.Get("/dispatches/{id}/notifications", NewHandler(nil, logs).ListByDispatch)

	req := httptest.NewRequest(http.MethodGet, "/dispatches/d1/notifications", nil)
	req = req.WithContext(shared.ContextWithTenant(req.Context(), "t1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []Log `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 2, "only the requested tenant and dispatch")
	require.Equal(t, "sent", body.Notifications[0].Status, "newest attempt first")
	require.Equal(t, "failed", body.Notifications[1].Status)
}
