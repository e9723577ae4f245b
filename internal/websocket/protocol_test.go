package websocket

import (
	"errors"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/session"
)

func selectedSession(uids ...uint32) *session.Session {
	sess := session.New("alias-1", "dom-1", "inbox@example.com")
	sess.Select(&session.Selected{MailboxID: "mb-1"}, uids)
	return sess
}

func TestParseStore(t *testing.T) {
	sess := selectedSession(3, 5, 9)

	tests := []struct {
		name       string
		cmd        Command
		byUID      bool
		wantUIDs   []uint32
		wantOp     imap.FlagsOp
		wantSilent bool
	}{
		{"序号范围", Command{Sequence: "1:2", Item: "FLAGS"}, false, []uint32{3, 5}, imap.SetFlags, false},
		{"序号星号", Command{Sequence: "*", Item: "+FLAGS"}, false, []uint32{9}, imap.AddFlags, false},
		{"UID 集合", Command{Sequence: "5:*", Item: "-flags.silent"}, true, []uint32{5, 9}, imap.RemoveFlags, true},
		{"UID 不在视图内", Command{Sequence: "4,6:8", Item: "+FLAGS"}, true, nil, imap.AddFlags, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := parseStore(&tt.cmd, sess, tt.byUID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUIDs, update.UIDs)
			assert.Equal(t, tt.wantOp, update.Action)
			assert.Equal(t, tt.wantSilent, update.Silent)
			assert.Equal(t, tt.byUID, update.IsUID)
		})
	}

	update, err := parseStore(&Command{Sequence: "1", Item: "FLAGS", UnchangedSince: 12, Flags: []string{"$Work"}}, sess, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), update.UnchangedSince)
	assert.Equal(t, []string{"$Work"}, update.Flags)
}

func TestParseStore_Bad(t *testing.T) {
	sess := selectedSession(1)
	for _, cmd := range []Command{
		{Item: "FLAGS"},
		{Sequence: "0", Item: "FLAGS"},
		{Sequence: "1", Item: "X-FLAGS"},
		{Sequence: "1", Item: "FLAGS", Flags: []string{"a(b"}},
	} {
		_, err := parseStore(&cmd, sess, false)
		assert.ErrorIs(t, err, errBadCommand, "%+v", cmd)
	}
}

func TestModifiedCode(t *testing.T) {
	sess := selectedSession(3, 5, 9)

	assert.Empty(t, modifiedCode(nil, sess, true))
	assert.Equal(t, "MODIFIED 5,9", modifiedCode([]uint32{5, 9}, sess, true))
	assert.Equal(t, "MODIFIED 2:3", modifiedCode([]uint32{5, 9}, sess, false))
	assert.Empty(t, modifiedCode([]uint32{7}, sess, false), "unknown UIDs have no sequence number")
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantType       ResponseType
		wantCode       string
		wantDisconnect bool
	}{
		{"语法错误", badf("oops"), ResponseBad, "", false},
		{"邮箱不存在", domain.ErrNonExistent, ResponseNo, "NONEXISTENT", false},
		{"未选中", domain.ErrNotSelected, ResponseBad, "NOT_SELECTED", false},
		{"关闭中", domain.ErrShutdown, ResponseBye, "SHUTDOWN", true},
		{"别名失效", domain.NewProtocolError(domain.CodeAliasInvalid, "alias suspended", nil), ResponseBye, "ALIAS_INVALID", true},
		{"域名失效", domain.NewProtocolError(domain.CodeDomainInvalid, "domain suspended", nil), ResponseBye, "DOMAIN_INVALID", true},
		{"存储错误", errors.New("connection reset"), ResponseNo, "SERVERBUG", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, disconnect := errorResponse("t1", tt.err)
			assert.Equal(t, tt.wantType, resp.Type)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantDisconnect, disconnect)
			if tt.wantType == ResponseBye {
				assert.Empty(t, resp.Tag)
			} else {
				assert.Equal(t, "t1", resp.Tag)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "UID STORE", (&Command{Command: "  uid   store "}).Name())
	assert.Equal(t, "NOOP", (&Command{Command: "noop"}).Name())
}
