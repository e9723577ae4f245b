package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailhub/backend/internal/domain"
)

// DefaultModseqTimeout modseq 分配的超时时间，存储卡住时尽快失败
const DefaultModseqTimeout = 3 * time.Second

// ModseqAllocator 基于存储原子自增发放邮箱级版本号
type ModseqAllocator struct {
	timeout time.Duration
}

// NewModseqAllocator 创建 modseq 分配器
func NewModseqAllocator(timeout time.Duration) *ModseqAllocator {
	if timeout <= 0 {
		timeout = DefaultModseqTimeout
	}
	return &ModseqAllocator{timeout: timeout}
}

// Next 原子地把邮箱的 modifyIndex 加一并返回新值。
// 邮箱在命令执行期间被删除时返回 NONEXISTENT，调用方应让整个命令失败。
func (a *ModseqAllocator) Next(ctx context.Context, store domain.MailStore, mailboxID, aliasID string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	mailbox, err := store.IncrementModifyIndex(ctx, mailboxID, aliasID)
	if err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			return 0, domain.NewProtocolError(domain.CodeNonExistent, "mailbox disappeared while updating", err)
		}
		return 0, fmt.Errorf("increment modify index: %w", err)
	}
	if mailbox == nil {
		return 0, domain.NewProtocolError(domain.CodeNonExistent, "mailbox disappeared while updating", nil)
	}
	return mailbox.ModifyIndex, nil
}
