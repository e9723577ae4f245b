package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/session"
	"mailhub/backend/internal/storage"
	"mailhub/backend/internal/storage/memory"
)

const (
	testAlias  = "alias-1"
	testDomain = "dom-1"
	testOwner  = "user-1"
)

type fixture struct {
	t         *testing.T
	store     *memory.Store
	journal   *memory.Journal
	lifecycle *Lifecycle
	svc       *StoreService
	mailbox   *domain.Mailbox
	sess      *session.Session
}

func seedDirectory(store *memory.Store) {
	store.PutUser(&domain.User{ID: testOwner, Email: "owner@example.com", IsActive: true})
	store.PutDomain(&domain.Domain{
		ID:       testDomain,
		Name:     "example.com",
		OwnerID:  testOwner,
		Status:   domain.DomainStatusVerified,
		IsActive: true,
	})
	store.PutAlias(&domain.Alias{ID: testAlias, DomainID: testDomain, Address: "box@example.com", IsActive: true})
}

// newFixture 创建一个邮箱，按顺序投递 UID 为 1..n 的邮件，并让会话选中它
func newFixture(t *testing.T, specialUse domain.SpecialUse, flagSets ...[]string) *fixture {
	t.Helper()

	store := memory.NewStore()
	seedDirectory(store)
	journal := memory.NewJournal(0)
	lifecycle := &Lifecycle{}

	validator := NewSessionValidator(store, storage.NewSingleShard(store), lifecycle, nil, nil)
	notifier := NewNotifier(journal, nil, NotifierConfig{Attempts: 2, Backoff: time.Millisecond}, nil, nil)
	svc := NewStoreService(validator, NewModseqAllocator(0), notifier, EngineConfig{}, nil, nil)

	mb := store.PutMailbox(&domain.Mailbox{AliasID: testAlias, Path: "INBOX", SpecialUse: specialUse})
	var uids []uint32
	for _, flags := range flagSets {
		msg, err := store.PutMessage(mb.ID, &domain.Message{Flags: flags})
		require.NoError(t, err)
		uids = append(uids, msg.UID)
	}

	sess := session.New(testAlias, testDomain, "box@example.com")
	sess.Select(&session.Selected{MailboxID: mb.ID, UIDValidity: mb.UIDValidity}, uids)

	return &fixture{
		t:         t,
		store:     store,
		journal:   journal,
		lifecycle: lifecycle,
		svc:       svc,
		mailbox:   mb,
		sess:      sess,
	}
}

// apply 执行一次 STORE 并收集逐条响应
func (f *fixture) apply(update *domain.FlagUpdate) ([]uint32, []domain.FlagResponse, error) {
	var responses []domain.FlagResponse
	conflicts, err := f.svc.ApplyFlagUpdate(context.Background(), f.mailbox.ID, update, f.sess, func(r domain.FlagResponse) {
		responses = append(responses, r)
	})
	return conflicts, responses, err
}

func (f *fixture) msg(uid uint32) *domain.Message {
	f.t.Helper()
	m, err := f.store.GetMessage(f.mailbox.ID, uid)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) currentMailbox() *domain.Mailbox {
	f.t.Helper()
	mb, err := f.store.GetMailbox(context.Background(), f.mailbox.ID)
	require.NoError(f.t, err)
	return mb
}

func (f *fixture) entries() []domain.ChangeEntry {
	f.t.Helper()
	entries, _, err := f.journal.ListEntries(context.Background(), f.mailbox.ID, "")
	require.NoError(f.t, err)
	return entries
}

// setModseq 把邮件与邮箱推进到指定 modseq，模拟之前已发生过的修改
func (f *fixture) setModseq(uid uint32, modseq uint64) {
	f.t.Helper()
	ctx := context.Background()
	m := f.msg(uid)
	for f.currentMailbox().ModifyIndex < modseq {
		_, err := f.store.IncrementModifyIndex(ctx, f.mailbox.ID, testAlias)
		require.NoError(f.t, err)
	}
	_, err := f.store.BulkWriteMessages(ctx, []domain.MessageWrite{{
		MessageID:  m.ID,
		MailboxID:  f.mailbox.ID,
		UID:        uid,
		Modseq:     modseq,
		Flags:      m.Flags,
		Unseen:     m.Unseen,
		Flagged:    m.Flagged,
		Undeleted:  m.Undeleted,
		Draft:      m.Draft,
		Searchable: m.Searchable,
	}})
	require.NoError(f.t, err)
}

func uidRange(from, to uint32) []uint32 {
	var out []uint32
	for uid := from; uid <= to; uid++ {
		out = append(out, uid)
	}
	return out
}
