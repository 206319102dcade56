package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Domenick1991/bookingcore/api"
	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandler_Healthz(t *testing.T) {
	cfg := config.Default()
	checks := map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}
	handler := NewHTTPHandler(&cfg, api.Services{}, checks, logging.Discard())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	handler = NewHTTPHandler(&cfg, api.Services{}, checks, logging.Discard())
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestHTTPHandler_Metrics(t *testing.T) {
	cfg := config.Default()
	handler := NewHTTPHandler(&cfg, api.Services{}, nil, logging.Discard())

	// generate one labelled sample first
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bookingcore_http_requests_total")
}

func TestHTTPHandler_SwaggerDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fulfillment.swagger.json"), []byte(`{"swagger":"2.0"}`), 0o644))
	cfg := config.Default()
	cfg.HTTP.SwaggerDir = dir
	handler := NewHTTPHandler(&cfg, api.Services{}, nil, logging.Discard())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, swaggerDocPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swagger")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/index.html", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPHandler_CORS(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.CORSAllowedOrigins = []string{"https://app.example.com"}
	handler := NewHTTPHandler(&cfg, api.Services{}, nil, logging.Discard())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
