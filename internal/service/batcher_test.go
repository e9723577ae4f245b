package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/storage/memory"
)

func TestBatcher(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mb := store.PutMailbox(&domain.Mailbox{AliasID: testAlias})
	var msgs []*domain.Message
	for i := 0; i < 3; i++ {
		m, err := store.PutMessage(mb.ID, &domain.Message{})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}

	b := NewBatcher(store, 2)

	t.Run("满额时提示提交", func(t *testing.T) {
		assert.False(t, b.Add(domain.MessageWrite{MessageID: msgs[0].ID, MailboxID: mb.ID, Modseq: 1}))
		assert.True(t, b.Add(domain.MessageWrite{MessageID: msgs[1].ID, MailboxID: mb.ID, Modseq: 1}))

		res, err := b.Flush(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Submitted)
		assert.Equal(t, 2, res.Matched)
		assert.Equal(t, 0, b.Len())
	})

	t.Run("空批次不调用存储", func(t *testing.T) {
		before := store.BulkCalls()
		_, err := b.Flush(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, store.BulkCalls())
	})

	t.Run("条件不满足的写入被静默丢弃", func(t *testing.T) {
		b.Add(domain.MessageWrite{MessageID: msgs[0].ID, MailboxID: mb.ID, Modseq: 1})
		b.Add(domain.MessageWrite{MessageID: msgs[2].ID, MailboxID: mb.ID, Modseq: 1})
		res, err := b.Flush(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Matched)
		assert.Equal(t, 2, b.Flushes())
	})

	t.Run("批次失败向上返回", func(t *testing.T) {
		boom := errors.New("write failed")
		store.InjectFaults(memory.Faults{BulkErrOnCall: store.BulkCalls() + 1, BulkErr: boom})
		defer store.InjectFaults(memory.Faults{})

		b.Add(domain.MessageWrite{MessageID: msgs[0].ID, MailboxID: mb.ID, Modseq: 5})
		_, err := b.Flush(ctx)
		assert.ErrorIs(t, err, boom)
	})
}

func TestModseqAllocator(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mb := store.PutMailbox(&domain.Mailbox{AliasID: testAlias})
	a := NewModseqAllocator(time.Second)

	first, err := a.Next(ctx, store, mb.ID, testAlias)
	require.NoError(t, err)
	second, err := a.Next(ctx, store, mb.ID, testAlias)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	_, err = a.Next(ctx, store, mb.ID, "alias-2")
	assert.ErrorIs(t, err, domain.ErrNonExistent)

	boom := errors.New("store stalled")
	store.InjectFaults(memory.Faults{IncrementErr: boom})
	_, err = a.Next(ctx, store, mb.ID, testAlias)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.CodeServerBug, domain.CodeOf(err))
}
