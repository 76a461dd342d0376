package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func TestRespondErrorMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", shared.ErrNotFound, http.StatusNotFound},
		{"missing field", shared.MissingField("loadingImage"), http.StatusBadRequest},
		{"invalid transition", shared.ErrInvalidTransition, http.StatusBadRequest},
		{"tenant required", shared.ErrTenantRequired, http.StatusBadRequest},
		{"insufficient stock", fmt.Errorf("reserve: %w", shared.ErrInsufficientStock), http.StatusConflict},
		{"reservation mismatch", shared.ErrReservationMismatch, http.StatusConflict},
		{"transition conflict", shared.ErrTransitionConflict, http.StatusConflict},
		{"unexpected", errors.New("pool exhausted"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var problem ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, tc.status, problem.Status)
			if tc.status == http.StatusInternalServerError {
				require.Empty(t, problem.Detail, "internal details stay internal")
			} else {
				require.NotEmpty(t, problem.Detail)
			}
		})
	}
}

func TestDecodeJSONCapsBodySize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	var target struct {
		Name string `json:"name"`
	}
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "ok", target.Name)

	huge := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge))
	require.Error(t, DecodeJSON(req, &target), "oversized bodies are truncated and fail to parse")
}
