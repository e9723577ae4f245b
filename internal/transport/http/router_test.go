package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtpkg "mailhub/backend/internal/auth/jwt"
	"mailhub/backend/internal/config"
	"mailhub/backend/internal/health"
	"mailhub/backend/internal/monitoring"
	"mailhub/backend/internal/websocket"
)

type pinger struct{ err error }

func (p *pinger) Health() error { return p.err }

func newTestRouter(t *testing.T, store *pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWith(reg, reg)
	metrics.SessionOpened()

	checker := health.NewHealthChecker(nil)
	checker.AddComponent("store", store)

	tokens := jwtpkg.NewManager("test-secret-key-at-least-32-characters", "mailhub", time.Hour)
	hub := websocket.NewHub(websocket.Config{}, tokens, nil, nil, nil, metrics, nil)

	return NewRouter(RouterDependencies{
		Config:  &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		Hub:     hub,
		Health:  checker,
		Metrics: metrics,
	})
}

func TestRouter_Health(t *testing.T) {
	store := &pinger{}
	router := newTestRouter(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusOK, body.Code)
	assert.Equal(t, "OK", body.Data.(map[string]interface{})["store"])

	store.err = errors.New("down")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, &pinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailhub_sessions_active 1")
}

func TestRouter_WebSocketRequiresToken(t *testing.T) {
	router := newTestRouter(t, &pinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
