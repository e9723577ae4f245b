package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, reg)

	t.Run("记录STORE结果", func(t *testing.T) {
		m.RecordStore("ok", 10*time.Millisecond)
		m.RecordMessages(3, 1, 2)

		body := scrape(t, m)
		assert.Contains(t, body, `mailhub_store_commands_total{outcome="ok"} 1`)
		assert.Contains(t, body, "mailhub_store_messages_updated_total 3")
		assert.Contains(t, body, "mailhub_store_messages_conflicted_total 1")
		assert.Contains(t, body, "mailhub_store_messages_unchanged_total 2")
	})

	t.Run("批量写入未命中", func(t *testing.T) {
		m.RecordFlush(150, 148)

		body := scrape(t, m)
		assert.Contains(t, body, "mailhub_store_batch_flushes_total 1")
		assert.Contains(t, body, "mailhub_store_batch_write_misses_total 2")
	})

	t.Run("nil接收者安全", func(t *testing.T) {
		var nilMetrics *Metrics
		assert.NotPanics(t, func() {
			nilMetrics.RecordStore("ok", time.Second)
			nilMetrics.RecordNotify("failed")
			nilMetrics.SessionOpened()
		})
	})
}
