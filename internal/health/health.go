package health

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// DefaultCheckTimeout 单项依赖检查的超时
const DefaultCheckTimeout = 3 * time.Second

// maxGoroutines 超过该数量时存活检查失败
const maxGoroutines = 10000

// Pinger 可被探活的依赖（存储分片、变更日志）
type Pinger interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger

	mu         sync.RWMutex
	components map[string]Pinger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:     healthcheck.NewHandler(),
		logger:     logger,
		components: make(map[string]Pinger),
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	return hc
}

// AddComponent 注册一个就绪检查项
func (hc *HealthChecker) AddComponent(name string, p Pinger) {
	hc.mu.Lock()
	hc.components[name] = p
	hc.mu.Unlock()

	hc.health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		if err := p.Health(); err != nil {
			hc.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			return err
		}
		return nil
	}, DefaultCheckTimeout))
}

// Handler 返回健康检查处理器（/live、/ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部检查并返回各项状态
func (hc *HealthChecker) CheckHealth() map[string]string {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.components))
	for name := range hc.components {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	for _, name := range names {
		hc.mu.RLock()
		p := hc.components[name]
		hc.mu.RUnlock()
		if err := p.Health(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// Healthy 所有依赖是否均可用
func (hc *HealthChecker) Healthy() bool {
	for name, status := range hc.CheckHealth() {
		if name != "timestamp" && status != "OK" {
			return false
		}
	}
	return true
}
