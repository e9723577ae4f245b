package domain

import "time"

// Message 表示邮箱内的一封邮件的可变状态。
//
// Unseen/Flagged/Undeleted/Draft/Searchable 是根据 Flags 派生的冗余索引字段，
// 任何修改 Flags 的写入都必须同时更新它们。
type Message struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID    string    `json:"mailboxId" gorm:"type:varchar(36);uniqueIndex:idx_mailbox_uid;not null"`
	AliasID      string    `json:"aliasId" gorm:"type:varchar(36);index;not null"`
	UID          uint32    `json:"uid" gorm:"uniqueIndex:idx_mailbox_uid;not null"`
	Flags        []string  `json:"flags" gorm:"serializer:json;type:json"`
	Modseq       uint64    `json:"modseq" gorm:"default:0"`
	Unseen       bool      `json:"unseen"`
	Flagged      bool      `json:"flagged"`
	Undeleted    bool      `json:"undeleted"`
	Draft        bool      `json:"draft"`
	Searchable   bool      `json:"searchable" gorm:"index"`
	ThreadID     string    `json:"threadId" gorm:"type:varchar(36);index"`
	InternalDate time.Time `json:"internalDate"`
}

// TableName 指定表名
func (Message) TableName() string { return "messages" }

// Derive 根据标志集合与所在邮箱完整重算全部派生字段。
func (m *Message) Derive(mailbox *Mailbox) {
	flags := NewFlagSet(m.Flags...)
	m.Unseen = !flags.Has(FlagSeen)
	m.Flagged = flags.Has(FlagFlagged)
	m.Undeleted = !flags.Has(FlagDeleted)
	m.Draft = flags.Has(FlagDraft)
	m.Searchable = m.Undeleted && !mailbox.HidesUndeleted()
}
