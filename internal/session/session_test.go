package session

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSeqSet(t *testing.T, s string) *imap.SeqSet {
	t.Helper()
	set, err := imap.ParseSeqSet(s)
	require.NoError(t, err)
	return set
}

func TestSession_Resolve(t *testing.T) {
	s := New("alias-1", "dom-1", "box@example.com")
	s.Select(&Selected{MailboxID: "mb"}, []uint32{10, 3, 7, 12})

	tests := []struct {
		name  string
		set   string
		byUID bool
		want  []uint32
	}{
		{"序号范围", "1:2", false, []uint32{3, 7}},
		{"序号星号", "*", false, []uint32{12}},
		{"全部序号", "1:*", false, []uint32{3, 7, 10, 12}},
		{"UID范围", "5:11", true, []uint32{7, 10}},
		{"UID星号", "*", true, []uint32{12}},
		{"超出范围的UID起点", "100:*", true, []uint32{12}},
		{"不存在的UID", "4,5", true, nil},
		{"混合集合", "1,3:4", false, []uint32{3, 10, 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Resolve(mustSeqSet(t, tt.set), tt.byUID))
		})
	}
}

func TestSession_View(t *testing.T) {
	s := New("alias-1", "dom-1", "box@example.com")

	t.Run("未选中邮箱", func(t *testing.T) {
		assert.Nil(t, s.UIDs())
		assert.Equal(t, uint32(0), s.SeqOf(1))
		assert.False(t, s.CondStoreEnabled())
	})

	s.Select(&Selected{MailboxID: "mb"}, []uint32{5, 1, 3})

	t.Run("序号映射", func(t *testing.T) {
		assert.Equal(t, uint32(1), s.SeqOf(1))
		assert.Equal(t, uint32(3), s.SeqOf(5))
		assert.Equal(t, uint32(0), s.SeqOf(4))
		assert.True(t, s.KnowsUID(3))
	})

	t.Run("追加UID保持有序", func(t *testing.T) {
		s.AppendUID(4)
		s.AppendUID(4)
		assert.Equal(t, []uint32{1, 3, 4, 5}, s.UIDs())
	})

	t.Run("UIDs返回副本", func(t *testing.T) {
		uids := s.UIDs()
		uids[0] = 99
		assert.Equal(t, uint32(1), s.UIDs()[0])
	})

	t.Run("CONDSTORE", func(t *testing.T) {
		s.EnableCondStore()
		assert.True(t, s.CondStoreEnabled())
	})

	t.Run("日志位置只记录在当前邮箱", func(t *testing.T) {
		mailboxID := s.Selected().MailboxID
		s.SetJournalCursor(mailboxID, "7")
		s.SetJournalCursor("other-mailbox", "9")
		assert.Equal(t, "7", s.JournalCursor())
	})

	t.Run("连接关闭", func(t *testing.T) {
		assert.True(t, s.IsOpen())
		s.MarkClosed()
		assert.False(t, s.IsOpen())
	})

	t.Run("取消选中", func(t *testing.T) {
		s.Unselect()
		assert.Nil(t, s.Selected())
		assert.Empty(t, s.JournalCursor())
	})
}
