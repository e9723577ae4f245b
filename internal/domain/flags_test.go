package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagSet(t *testing.T) {
	t.Run("大小写不敏感并保留原始写法", func(t *testing.T) {
		s := NewFlagSet(`\Seen`, "$Work", `\SEEN`)
		assert.Equal(t, 2, s.Len())
		assert.True(t, s.Has(`\seen`))
		assert.Equal(t, []string{`\Seen`, "$Work"}, s.List())
	})

	t.Run("添加与删除返回是否变化", func(t *testing.T) {
		s := NewFlagSet(`\Seen`)
		assert.False(t, s.Add(`\seen`))
		assert.True(t, s.Add(`\Flagged`))
		assert.True(t, s.Remove(`\SEEN`))
		assert.False(t, s.Remove(`\Seen`))
		assert.Equal(t, []string{`\Flagged`}, s.List())
		assert.True(t, s.Has(`\flagged`), "删除后索引仍然正确")
	})

	t.Run("按成员关系比较", func(t *testing.T) {
		assert.True(t, NewFlagSet(`\Seen`, "$a").Equal(NewFlagSet("$A", `\seen`)))
		assert.False(t, NewFlagSet(`\Seen`).Equal(NewFlagSet(`\Seen`, "$a")))
		assert.True(t, NewFlagSet().Equal(NewFlagSet()))
	})
}

func TestSanitizeFlags(t *testing.T) {
	got := SanitizeFlags([]string{" \\Seen ", "", `\Recent`, `\seen`, "$Work"})
	assert.Equal(t, []string{`\Seen`, "$Work"}, got)
}

func TestMessage_Derive(t *testing.T) {
	inbox := &Mailbox{}
	trash := &Mailbox{SpecialUse: SpecialUseTrash}

	tests := []struct {
		name       string
		flags      []string
		mailbox    *Mailbox
		unseen     bool
		flagged    bool
		undeleted  bool
		draft      bool
		searchable bool
	}{
		{"无标志", nil, inbox, true, false, true, false, true},
		{"全部系统标志", []string{`\Seen`, `\Flagged`, `\Deleted`, `\Draft`}, inbox, false, true, false, true, false},
		{"垃圾箱中未删除", []string{`\seen`}, trash, false, false, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Flags: tt.flags}
			m.Derive(tt.mailbox)
			assert.Equal(t, tt.unseen, m.Unseen)
			assert.Equal(t, tt.flagged, m.Flagged)
			assert.Equal(t, tt.undeleted, m.Undeleted)
			assert.Equal(t, tt.draft, m.Draft)
			assert.Equal(t, tt.searchable, m.Searchable)
		})
	}
}

func TestMailbox_UnknownFlags(t *testing.T) {
	mb := &Mailbox{Flags: []string{`\Seen`, "$Work"}}
	assert.Equal(t, []string{"$Home"}, mb.UnknownFlags([]string{`\SEEN`, "$work", "$Home", "$home"}))
	assert.Empty(t, mb.UnknownFlags([]string{"$Work"}))
}

func TestProtocolError(t *testing.T) {
	err := NewProtocolError(CodeDomainInvalid, "domain suspended", nil)
	assert.ErrorIs(t, err, ErrDomainInvalid)
	assert.NotErrorIs(t, err, ErrAliasInvalid)
	assert.Equal(t, CodeDomainInvalid, CodeOf(err))
	assert.Equal(t, CodeServerBug, CodeOf(assert.AnError))
}
