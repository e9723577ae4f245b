package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标。所有方法对 nil 接收者安全，测试中可直接传 nil。
type Metrics struct {
	gatherer prometheus.Gatherer

	// STORE 指标
	StoreCommandsTotal   *prometheus.CounterVec
	StoreDuration        prometheus.Histogram
	MessagesUpdated      prometheus.Counter
	MessagesConflicted   prometheus.Counter
	MessagesUnchanged    prometheus.Counter
	BatchFlushes         prometheus.Counter
	BatchWriteMisses     prometheus.Counter
	ModseqAllocations    prometheus.Counter
	MailboxFlagsAdded    prometheus.Counter
	RevalidationFailures *prometheus.CounterVec

	// 通知指标
	NotifyTotal   *prometheus.CounterVec
	NotifyRetries prometheus.Counter

	// 会话指标
	SessionsActive  prometheus.Gauge
	RateLimitBlocks prometheus.Counter
	PanicsTotal     prometheus.Counter
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWith 在指定注册表上创建监控指标，测试中使用独立的 prometheus.NewRegistry()
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,

		StoreCommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailhub_store_commands_total",
				Help: "Total number of STORE commands by outcome",
			},
			[]string{"outcome"},
		),
		StoreDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailhub_store_duration_seconds",
				Help:    "STORE command duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		MessagesUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_store_messages_updated_total",
			Help: "Messages whose flags were changed by STORE",
		}),
		MessagesConflicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_store_messages_conflicted_total",
			Help: "Messages skipped because of UNCHANGEDSINCE",
		}),
		MessagesUnchanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_store_messages_unchanged_total",
			Help: "Messages skipped because STORE would not change them",
		}),
		BatchFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_store_batch_flushes_total",
			Help: "Number of bulk write batches submitted",
		}),
		BatchWriteMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_store_batch_write_misses_total",
			Help: "Conditional writes that matched no document",
		}),
		ModseqAllocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_modseq_allocations_total",
			Help: "Number of modseq values allocated",
		}),
		MailboxFlagsAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_mailbox_flags_added_total",
			Help: "Number of keyword vocabulary extensions",
		}),
		RevalidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailhub_session_revalidation_failures_total",
				Help: "Session revalidation failures by code",
			},
			[]string{"code"},
		),
		NotifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailhub_notify_total",
				Help: "Change notifications by outcome",
			},
			[]string{"outcome"},
		),
		NotifyRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_notify_retries_total",
			Help: "Change notification retry attempts",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailhub_sessions_active",
			Help: "Number of connected sessions",
		}),
		RateLimitBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_rate_limit_blocks_total",
			Help: "Commands rejected by the per-session rate limiter",
		}),
		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailhub_panics_total",
			Help: "Recovered panics in background workers",
		}),
	}
}

// RecordStore 记录一次 STORE 命令
func (m *Metrics) RecordStore(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreCommandsTotal.WithLabelValues(outcome).Inc()
	m.StoreDuration.Observe(duration.Seconds())
}

// RecordMessages 记录单次 STORE 的逐条处理结果
func (m *Metrics) RecordMessages(updated, conflicted, unchanged int) {
	if m == nil {
		return
	}
	m.MessagesUpdated.Add(float64(updated))
	m.MessagesConflicted.Add(float64(conflicted))
	m.MessagesUnchanged.Add(float64(unchanged))
}

// RecordFlush 记录一次批量写入
func (m *Metrics) RecordFlush(submitted, matched int) {
	if m == nil {
		return
	}
	m.BatchFlushes.Inc()
	if submitted > matched {
		m.BatchWriteMisses.Add(float64(submitted - matched))
	}
}

func (m *Metrics) RecordModseq() {
	if m == nil {
		return
	}
	m.ModseqAllocations.Inc()
}

func (m *Metrics) RecordMailboxFlagsAdded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MailboxFlagsAdded.Add(float64(n))
}

func (m *Metrics) RevalidationFailed(code string) {
	if m == nil {
		return
	}
	m.RevalidationFailures.WithLabelValues(code).Inc()
}

// RecordNotify 记录通知结果：ok / failed / dropped
func (m *Metrics) RecordNotify(outcome string) {
	if m == nil {
		return
	}
	m.NotifyTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordNotifyRetry() {
	if m == nil {
		return
	}
	m.NotifyRetries.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) RecordRateLimitBlock() {
	if m == nil {
		return
	}
	m.RateLimitBlocks.Inc()
}

func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
