package domain

import "time"

// ChangeCommand 变更事件类型
type ChangeCommand string

const (
	ChangeFetch   ChangeCommand = "FETCH"
	ChangeExists  ChangeCommand = "EXISTS"
	ChangeExpunge ChangeCommand = "EXPUNGE"
)

// ChangeEntry 一次实际变更对应的通知条目。只需保证至少投递一次，不做持久化要求。
type ChangeEntry struct {
	Command       ChangeCommand `json:"command"`
	UID           uint32        `json:"uid"`
	MessageID     string        `json:"message"`
	MailboxID     string        `json:"mailbox"`
	ThreadID      string        `json:"thread,omitempty"`
	Modseq        uint64        `json:"modseq"`
	Unseen        bool          `json:"unseen"`
	InternalDate  time.Time     `json:"idate"`
	IgnoreSession string        `json:"ignore,omitempty"` // 发起变更的会话，不向其回推
}
