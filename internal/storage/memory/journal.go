package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"mailhub/backend/internal/domain"
)

// DefaultJournalLimit 每个邮箱保留的最大变更条目数
const DefaultJournalLimit = 1000

// logEntry 带追加位置的条目
type logEntry struct {
	pos   uint64
	entry domain.ChangeEntry
}

// mailboxLog 单个邮箱的日志，last 为最后一次追加的位置
type mailboxLog struct {
	entries []logEntry
	last    uint64
}

// Journal 进程内的变更日志与唤醒
type Journal struct {
	mu        sync.Mutex
	logs      map[string]*mailboxLog // mailboxID -> log
	limit     int
	listeners map[int]func(aliasID string)
	nextID    int

	// 测试用的故障注入
	addErr  error
	fireErr error
}

// NewJournal 创建内存变更日志。limit <= 0 时使用默认值。
func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	return &Journal{
		logs:      make(map[string]*mailboxLog),
		limit:     limit,
		listeners: make(map[int]func(string)),
	}
}

// FailWith 让后续 AddEntries / Fire 返回指定错误，传 nil 恢复
func (j *Journal) FailWith(addErr, fireErr error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.addErr = addErr
	j.fireErr = fireErr
}

// AddEntries 按顺序追加变更条目并分配位置，超过上限时丢弃最旧的
func (j *Journal) AddEntries(_ context.Context, mailboxID string, entries []domain.ChangeEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.addErr != nil {
		return j.addErr
	}
	log := j.logs[mailboxID]
	if log == nil {
		log = &mailboxLog{}
		j.logs[mailboxID] = log
	}
	for _, e := range entries {
		log.last++
		log.entries = append(log.entries, logEntry{pos: log.last, entry: e})
	}
	if over := len(log.entries) - j.limit; over > 0 {
		log.entries = append([]logEntry(nil), log.entries[over:]...)
	}
	return nil
}

// Fire 唤醒所有监听者
func (j *Journal) Fire(_ context.Context, aliasID string) error {
	j.mu.Lock()
	if j.fireErr != nil {
		err := j.fireErr
		j.mu.Unlock()
		return err
	}
	listeners := make([]func(string), 0, len(j.listeners))
	for _, fn := range j.listeners {
		listeners = append(listeners, fn)
	}
	j.mu.Unlock()

	for _, fn := range listeners {
		fn(aliasID)
	}
	return nil
}

// Position 返回邮箱日志的末尾位置
func (j *Journal) Position(_ context.Context, mailboxID string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var last uint64
	if log := j.logs[mailboxID]; log != nil {
		last = log.last
	}
	return strconv.FormatUint(last, 10), nil
}

// ListEntries 返回位置在 after 之后的条目与新的末尾位置
func (j *Journal) ListEntries(_ context.Context, mailboxID, after string) ([]domain.ChangeEntry, string, error) {
	var from uint64
	if after != "" {
		n, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid journal position %q: %w", after, err)
		}
		from = n
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	log := j.logs[mailboxID]
	if log == nil {
		return nil, strconv.FormatUint(from, 10), nil
	}
	var out []domain.ChangeEntry
	for _, le := range log.entries {
		if le.pos > from {
			out = append(out, le.entry)
		}
	}
	if log.last > from {
		from = log.last
	}
	return out, strconv.FormatUint(from, 10), nil
}

// Listen 注册监听者，阻塞直到 ctx 结束
func (j *Journal) Listen(ctx context.Context, fn func(aliasID string)) error {
	j.mu.Lock()
	id := j.nextID
	j.nextID++
	j.listeners[id] = fn
	j.mu.Unlock()

	<-ctx.Done()

	j.mu.Lock()
	delete(j.listeners, id)
	j.mu.Unlock()
	return nil
}

// Health 内存日志总是可用
func (j *Journal) Health() error { return nil }

// Listeners 当前注册的监听者数量
func (j *Journal) Listeners() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.listeners)
}
