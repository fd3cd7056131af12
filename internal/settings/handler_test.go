package settings

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

func TestHandlerGetAndPut(t *testing.T) {
	p := NewStatic(nil, nil, nil)
	r := chi.NewRouter()
	r.Route("/admin/settings", NewHandler(p, p, logging.Discard()).RegisterRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/settings/booking", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slot_granularity_minutes":15`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/settings/general", strings.NewReader(`{"public_url":"https://x.example"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://x.example")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/settings/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/settings/booking", strings.NewReader(`{"initial_status":"declined"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
