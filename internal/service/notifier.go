package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/monitoring"
	"mailhub/backend/internal/pool"
)

// NotifierConfig 变更通知配置
type NotifierConfig struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Notifier 记录变更并唤醒监听者。失败只记日志，不影响已经完成的写入。
type Notifier struct {
	journal domain.ChangeJournal
	pool    *pool.WorkerPool
	cfg     NotifierConfig
	metrics *monitoring.Metrics
	log     *zap.Logger

	// 关闭后不再等待重试间隔，排队中的通知各自只再尝试一次
	ctx    context.Context
	cancel context.CancelFunc
}

// NewNotifier 创建通知器。workers 为 nil 时同步执行。
func NewNotifier(journal domain.ChangeJournal, workers *pool.WorkerPool, cfg NotifierConfig, metrics *monitoring.Metrics, log *zap.Logger) *Notifier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		journal: journal,
		pool:    workers,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close 中止所有重试等待
func (n *Notifier) Close() {
	if n != nil {
		n.cancel()
	}
}

// Notify 追加变更条目后唤醒该别名的监听者。条目为空时仍然唤醒。
func (n *Notifier) Notify(aliasID, mailboxID string, entries []domain.ChangeEntry) {
	if n == nil || n.journal == nil {
		return
	}
	task := func() { n.deliver(aliasID, mailboxID, entries) }
	if n.pool == nil {
		task()
		return
	}
	if !n.pool.TrySubmit(task) {
		n.metrics.RecordNotify("dropped")
		n.log.Warn("notify queue full, dropping change notification",
			zap.String("alias", aliasID),
			zap.String("mailbox", mailboxID),
			zap.Int("entries", len(entries)),
		)
	}
}

func (n *Notifier) deliver(aliasID, mailboxID string, entries []domain.ChangeEntry) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.cfg.Backoff
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(
		func() error { return n.once(aliasID, mailboxID, entries) },
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(n.cfg.Attempts-1)), n.ctx),
		func(err error, wait time.Duration) {
			n.metrics.RecordNotifyRetry()
			n.log.Debug("retrying change notification",
				zap.String("alias", aliasID),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		},
	)
	if err == nil {
		n.metrics.RecordNotify("ok")
		return
	}
	n.metrics.RecordNotify("failed")
	n.log.Warn("failed to deliver change notification",
		zap.String("alias", aliasID),
		zap.String("mailbox", mailboxID),
		zap.Int("entries", len(entries)),
		zap.Error(err),
	)
}

func (n *Notifier) once(aliasID, mailboxID string, entries []domain.ChangeEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	if len(entries) > 0 {
		if err := n.journal.AddEntries(ctx, mailboxID, entries); err != nil {
			return err
		}
	}
	return n.journal.Fire(ctx, aliasID)
}
