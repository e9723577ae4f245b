package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func() error

func (f pingFunc) Health() error { return f() }

func TestHealthChecker(t *testing.T) {
	var storeErr error
	hc := NewHealthChecker(nil)
	hc.AddComponent("store", pingFunc(func() error { return storeErr }))
	hc.AddComponent("journal", pingFunc(func() error { return nil }))

	results := hc.CheckHealth()
	assert.Equal(t, "OK", results["store"])
	assert.Equal(t, "OK", results["journal"])
	assert.NotEmpty(t, results["timestamp"])
	assert.True(t, hc.Healthy())

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	storeErr = errors.New("connection refused")
	results = hc.CheckHealth()
	assert.Contains(t, results["store"], "connection refused")
	assert.False(t, hc.Healthy())

	rec = httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "dependency failures do not affect liveness")
}
