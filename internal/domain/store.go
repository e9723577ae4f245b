package domain

import (
	"context"

	"github.com/emersion/go-imap"
)

// MessageQuery 消息范围查询。UIDs 为空表示整个邮箱。
type MessageQuery struct {
	MailboxID string
	UIDs      *imap.SeqSet
}

// MessageCursor 按 UID 升序逐条读取消息的游标，调用方必须 Close。
type MessageCursor interface {
	Next() bool
	Message() *Message
	Err() error
	Close() error
}

// MessageWrite 带版本条件的单条消息写入：仅当已存储的 modseq 严格小于 Modseq 时生效。
type MessageWrite struct {
	MessageID  string
	MailboxID  string
	UID        uint32
	Modseq     uint64
	Flags      []string
	Unseen     bool
	Flagged    bool
	Undeleted  bool
	Draft      bool
	Searchable bool
}

// BulkResult 批量写入结果。Matched 小于提交数量说明部分条件未满足（被更新的写入覆盖）。
type BulkResult struct {
	Submitted int
	Matched   int
}

// MailStore 邮箱与邮件文档存储
type MailStore interface {
	GetMailbox(ctx context.Context, id string) (*Mailbox, error)
	// IncrementModifyIndex 原子地把 (mailboxID, aliasID) 对应邮箱的 modifyIndex 加一并返回更新后的邮箱
	IncrementModifyIndex(ctx context.Context, mailboxID, aliasID string) (*Mailbox, error)
	StreamMessages(ctx context.Context, q MessageQuery) (MessageCursor, error)
	// BulkWriteMessages 无序批量写入，单条失败不影响其余写入
	BulkWriteMessages(ctx context.Context, writes []MessageWrite) (*BulkResult, error)
	// AddMailboxFlags 把 flags 并入邮箱标志表，总数不超过 limit
	AddMailboxFlags(ctx context.Context, mailboxID string, flags []string, limit int) error
	ListUIDs(ctx context.Context, mailboxID string) ([]uint32, error)
	Health() error
	Close() error
}

// Directory 租户目录：域名、别名与所有者
type Directory interface {
	GetDomain(ctx context.Context, id string) (*Domain, error)
	GetAlias(ctx context.Context, id string) (*Alias, error)
	GetUser(ctx context.Context, id string) (*User, error)
}

// ShardResolver 根据别名选择其所在的存储分片
type ShardResolver interface {
	ForAlias(alias *Alias) MailStore
}

// ChangeJournal 变更通知的记录与唤醒
type ChangeJournal interface {
	AddEntries(ctx context.Context, mailboxID string, entries []ChangeEntry) error
	Fire(ctx context.Context, aliasID string) error
	// Position 返回邮箱日志当前的末尾位置。位置是不透明字符串，只能原样传回 ListEntries。
	Position(ctx context.Context, mailboxID string) (string, error)
	// ListEntries 返回追加顺序上严格位于 after 之后的条目以及新的末尾位置。
	// after 为空表示从日志开头读取。位置按追加顺序递增，与条目的 modseq 无关。
	ListEntries(ctx context.Context, mailboxID, after string) ([]ChangeEntry, string, error)
	// Listen 阻塞直到 ctx 结束，每次某个别名被唤醒时调用 fn
	Listen(ctx context.Context, fn func(aliasID string)) error
}
