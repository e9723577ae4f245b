package service

import (
	"context"
	"fmt"

	"mailhub/backend/internal/domain"
)

// DefaultBatchSize 批量写入的默认容量
const DefaultBatchSize = 150

// Batcher 缓冲带条件的消息写入，满额或显式排空时作为一个无序批次提交
type Batcher struct {
	store   domain.MailStore
	size    int
	pending []domain.MessageWrite
	flushed int
}

// NewBatcher 创建批量写入器
func NewBatcher(store domain.MailStore, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{
		store:   store,
		size:    size,
		pending: make([]domain.MessageWrite, 0, size),
	}
}

// Add 暂存一条写入，返回批次是否已满
func (b *Batcher) Add(w domain.MessageWrite) bool {
	b.pending = append(b.pending, w)
	return len(b.pending) >= b.size
}

// Len 当前暂存数量
func (b *Batcher) Len() int { return len(b.pending) }

// Flushes 已提交的批次数
func (b *Batcher) Flushes() int { return b.flushed }

// Flush 提交暂存的写入。批次级失败对所在命令是致命的。
func (b *Batcher) Flush(ctx context.Context) (*domain.BulkResult, error) {
	if len(b.pending) == 0 {
		return &domain.BulkResult{}, nil
	}
	writes := b.pending
	b.pending = make([]domain.MessageWrite, 0, b.size)
	b.flushed++

	res, err := b.store.BulkWriteMessages(ctx, writes)
	if err != nil {
		return res, fmt.Errorf("bulk write %d messages: %w", len(writes), err)
	}
	return res, nil
}
