package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/pool"
	"mailhub/backend/internal/storage/memory"
)

func TestNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("记录条目并唤醒监听者", func(t *testing.T) {
		journal := memory.NewJournal(0)
		n := NewNotifier(journal, nil, NotifierConfig{}, nil, nil)

		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		fired := make(chan string, 4)
		go func() { _ = journal.Listen(lctx, func(alias string) { fired <- alias }) }()

		require.Eventually(t, func() bool {
			n.Notify(testAlias, "mb", []domain.ChangeEntry{{UID: 1, Modseq: 3}})
			select {
			case alias := <-fired:
				return alias == testAlias
			default:
				return false
			}
		}, time.Second, 10*time.Millisecond)

		entries, _, err := journal.ListEntries(ctx, "mb", "")
		require.NoError(t, err)
		assert.NotEmpty(t, entries)
	})

	t.Run("失败后重试", func(t *testing.T) {
		journal := memory.NewJournal(0)
		journal.FailWith(nil, errors.New("fire failed"))
		n := NewNotifier(journal, nil, NotifierConfig{Attempts: 3, Backoff: time.Millisecond}, nil, nil)

		assert.NotPanics(t, func() { n.Notify(testAlias, "mb", []domain.ChangeEntry{{UID: 1, Modseq: 1}}) })

		entries, _, err := journal.ListEntries(ctx, "mb", "")
		require.NoError(t, err)
		assert.Len(t, entries, 3, "每次重试都会重新追加，至少投递一次")
	})

	t.Run("关闭后不再等待重试", func(t *testing.T) {
		journal := memory.NewJournal(0)
		journal.FailWith(nil, errors.New("fire failed"))
		n := NewNotifier(journal, nil, NotifierConfig{Attempts: 5, Backoff: time.Hour}, nil, nil)
		n.Close()

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			n.Notify(testAlias, "mb", []domain.ChangeEntry{{UID: 1, Modseq: 1}})
		}()
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("notify blocked on retry backoff after close")
		}

		entries, _, err := journal.ListEntries(ctx, "mb", "")
		require.NoError(t, err)
		assert.Len(t, entries, 1, "关闭后仍尝试一次")
	})

	t.Run("通过协程池异步投递", func(t *testing.T) {
		journal := memory.NewJournal(0)
		workers := pool.NewWorkerPool(2, 8, nil)
		workers.Start(ctx)

		n := NewNotifier(journal, workers, NotifierConfig{}, nil, nil)
		n.Notify(testAlias, "mb", []domain.ChangeEntry{{UID: 7, Modseq: 2}})
		workers.Stop()

		entries, _, err := journal.ListEntries(ctx, "mb", "")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, uint32(7), entries[0].UID)
	})

	t.Run("nil通知器安全", func(t *testing.T) {
		var n *Notifier
		assert.NotPanics(t, func() { n.Notify(testAlias, "mb", nil) })
	})
}
