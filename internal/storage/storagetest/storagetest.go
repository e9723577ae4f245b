// Package storagetest 提供所有存储后端共用的一致性测试。
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/storage"
)

// Seeder 测试数据写入接口，各后端都实现
type Seeder interface {
	CreateUser(ctx context.Context, u *domain.User) error
	CreateDomain(ctx context.Context, d *domain.Domain) error
	CreateAlias(ctx context.Context, a *domain.Alias) error
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	CreateMessage(ctx context.Context, msg *domain.Message) error
}

// Subject 被测后端
type Subject interface {
	storage.Backend
	Seeder
}

type fixture struct {
	store   Subject
	alias   *domain.Alias
	mailbox *domain.Mailbox
	ids     map[uint32]string
}

func setup(t *testing.T, store Subject, specialUse domain.SpecialUse, flagSets ...[]string) *fixture {
	t.Helper()
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	owner := &domain.User{ID: uuid.NewString(), Email: "owner-" + suffix + "@example.com", IsActive: true}
	require.NoError(t, store.CreateUser(ctx, owner))

	d := &domain.Domain{
		ID:       uuid.NewString(),
		Name:     "d-" + suffix + ".example.com",
		OwnerID:  owner.ID,
		Status:   domain.DomainStatusVerified,
		IsActive: true,
	}
	require.NoError(t, store.CreateDomain(ctx, d))

	alias := &domain.Alias{ID: uuid.NewString(), DomainID: d.ID, Address: "box-" + suffix + "@" + d.Name, IsActive: true}
	require.NoError(t, store.CreateAlias(ctx, alias))

	mailbox := &domain.Mailbox{AliasID: alias.ID, Path: "INBOX", SpecialUse: specialUse, UIDValidity: 1}
	require.NoError(t, store.CreateMailbox(ctx, mailbox))

	f := &fixture{store: store, alias: alias, mailbox: mailbox, ids: make(map[uint32]string)}
	for _, flags := range flagSets {
		msg := &domain.Message{MailboxID: mailbox.ID, Flags: flags}
		require.NoError(t, store.CreateMessage(ctx, msg))
		f.ids[msg.UID] = msg.ID
	}
	return f
}

func (f *fixture) stream(t *testing.T, uids *imap.SeqSet) []*domain.Message {
	t.Helper()
	cur, err := f.store.StreamMessages(context.Background(), domain.MessageQuery{MailboxID: f.mailbox.ID, UIDs: uids})
	require.NoError(t, err)
	defer cur.Close()

	var out []*domain.Message
	for cur.Next() {
		out = append(out, cur.Message())
	}
	require.NoError(t, cur.Err())
	return out
}

func (f *fixture) message(t *testing.T, uid uint32) *domain.Message {
	t.Helper()
	set := new(imap.SeqSet)
	set.AddNum(uid)
	msgs := f.stream(t, set)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func uidsOf(msgs []*domain.Message) []uint32 {
	out := make([]uint32, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.UID)
	}
	return out
}

// Run 对 newStore 返回的后端执行全部一致性用例
func Run(t *testing.T, newStore func(t *testing.T) Subject) {
	t.Run("Directory", func(t *testing.T) { testDirectory(t, newStore(t)) })
	t.Run("IncrementModifyIndex", func(t *testing.T) { testIncrement(t, newStore(t)) })
	t.Run("StreamMessages", func(t *testing.T) { testStream(t, newStore(t)) })
	t.Run("BulkWriteMessages", func(t *testing.T) { testBulkWrite(t, newStore(t)) })
	t.Run("AddMailboxFlags", func(t *testing.T) { testMailboxFlags(t, newStore(t)) })
	t.Run("ListUIDs", func(t *testing.T) { testListUIDs(t, newStore(t)) })
	t.Run("DerivedOnCreate", func(t *testing.T) { testDerivedOnCreate(t, newStore(t)) })
}

func testDirectory(t *testing.T, store Subject) {
	ctx := context.Background()
	f := setup(t, store, domain.SpecialUseNone)

	alias, err := store.GetAlias(ctx, f.alias.ID)
	require.NoError(t, err)
	assert.Equal(t, f.alias.DomainID, alias.DomainID)
	assert.True(t, alias.IsActive)

	d, err := store.GetDomain(ctx, alias.DomainID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainStatusVerified, d.Status)
	assert.Nil(t, d.PlanExpiresAt)

	owner, err := store.GetUser(ctx, d.OwnerID)
	require.NoError(t, err)
	assert.False(t, owner.IsBanned)

	_, err = store.GetAlias(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrAliasNotFound)
	_, err = store.GetDomain(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrDomainNotFound)
	_, err = store.GetUser(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = store.GetMailbox(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
}

func testIncrement(t *testing.T, store Subject) {
	ctx := context.Background()
	f := setup(t, store, domain.SpecialUseNone)

	for want := uint64(1); want <= 3; want++ {
		mailbox, err := store.IncrementModifyIndex(ctx, f.mailbox.ID, f.alias.ID)
		require.NoError(t, err)
		assert.Equal(t, want, mailbox.ModifyIndex)
		assert.Equal(t, f.mailbox.ID, mailbox.ID)
	}

	_, err := store.IncrementModifyIndex(ctx, f.mailbox.ID, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrMailboxNotFound, "alias mismatch must not match")
	_, err = store.IncrementModifyIndex(ctx, uuid.NewString(), f.alias.ID)
	assert.ErrorIs(t, err, domain.ErrMailboxNotFound)

	mailbox, err := store.GetMailbox(ctx, f.mailbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), mailbox.ModifyIndex)
}

func testStream(t *testing.T, store Subject) {
	f := setup(t, store, domain.SpecialUseNone, nil, nil, nil, nil, nil, nil)

	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, uidsOf(f.stream(t, nil)))

	set, err := imap.ParseSeqSet("2:3,5")
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3, 5}, uidsOf(f.stream(t, set)))

	set, err = imap.ParseSeqSet("4:*")
	require.NoError(t, err)
	assert.Equal(t, []uint32{4, 5, 6}, uidsOf(f.stream(t, set)))

	set, err = imap.ParseSeqSet("40:50")
	require.NoError(t, err)
	assert.Empty(t, f.stream(t, set))
}

func testBulkWrite(t *testing.T, store Subject) {
	ctx := context.Background()
	f := setup(t, store, domain.SpecialUseNone, nil, []string{domain.FlagSeen})

	res, err := store.BulkWriteMessages(ctx, []domain.MessageWrite{
		{
			MessageID: f.ids[1], MailboxID: f.mailbox.ID, UID: 1, Modseq: 5,
			Flags: []string{domain.FlagFlagged}, Unseen: true, Flagged: true, Undeleted: true, Searchable: true,
		},
		{
			MessageID: f.ids[2], MailboxID: f.mailbox.ID, UID: 2, Modseq: 5,
			Flags: []string{domain.FlagSeen, domain.FlagDeleted},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Submitted)
	assert.Equal(t, 2, res.Matched)

	first := f.message(t, 1)
	assert.Equal(t, []string{domain.FlagFlagged}, first.Flags)
	assert.Equal(t, uint64(5), first.Modseq)
	assert.True(t, first.Flagged)

	second := f.message(t, 2)
	assert.False(t, second.Undeleted)
	assert.False(t, second.Searchable)
	assert.False(t, second.Unseen)

	// 版本不高于已存储 modseq 的写入被忽略
	res, err = store.BulkWriteMessages(ctx, []domain.MessageWrite{
		{MessageID: f.ids[1], MailboxID: f.mailbox.ID, UID: 1, Modseq: 5, Flags: []string{}},
		{MessageID: f.ids[2], MailboxID: f.mailbox.ID, UID: 2, Modseq: 4, Flags: []string{}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Matched)
	assert.Equal(t, []string{domain.FlagFlagged}, f.message(t, 1).Flags)

	res, err = store.BulkWriteMessages(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Submitted)
}

func testMailboxFlags(t *testing.T, store Subject) {
	ctx := context.Background()
	f := setup(t, store, domain.SpecialUseNone)

	require.NoError(t, store.AddMailboxFlags(ctx, f.mailbox.ID, []string{"$Label1", "$label1", "Work"}, 10))
	mailbox, err := store.GetMailbox(ctx, f.mailbox.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"$Label1", "Work"}, mailbox.Flags)

	require.NoError(t, store.AddMailboxFlags(ctx, f.mailbox.ID, []string{"A", "B", "C"}, 3))
	mailbox, err = store.GetMailbox(ctx, f.mailbox.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"$Label1", "Work", "A"}, mailbox.Flags)

	assert.ErrorIs(t, store.AddMailboxFlags(ctx, uuid.NewString(), []string{"X"}, 10), domain.ErrMailboxNotFound)
}

func testListUIDs(t *testing.T, store Subject) {
	ctx := context.Background()
	f := setup(t, store, domain.SpecialUseNone, nil, nil, nil)

	uids, err := store.ListUIDs(ctx, f.mailbox.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, uids)

	_, err = store.ListUIDs(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
}

func testDerivedOnCreate(t *testing.T, store Subject) {
	f := setup(t, store, domain.SpecialUseTrash, nil, []string{domain.FlagSeen, domain.FlagDraft})

	fresh := f.message(t, 1)
	assert.True(t, fresh.Unseen)
	assert.True(t, fresh.Undeleted)
	assert.False(t, fresh.Searchable, "trash hides undeleted messages")
	assert.WithinDuration(t, time.Now(), fresh.InternalDate, time.Hour)

	drafted := f.message(t, 2)
	assert.False(t, drafted.Unseen)
	assert.True(t, drafted.Draft)
}
