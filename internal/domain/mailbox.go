package domain

import (
	"time"
)

// SpecialUse 邮箱的特殊用途标记（RFC 6154）
type SpecialUse string

const (
	SpecialUseNone    SpecialUse = ""
	SpecialUseTrash   SpecialUse = "\\Trash"
	SpecialUseJunk    SpecialUse = "\\Junk"
	SpecialUseSent    SpecialUse = "\\Sent"
	SpecialUseDrafts  SpecialUse = "\\Drafts"
	SpecialUseArchive SpecialUse = "\\Archive"
)

// MaxMailboxFlags 单个邮箱可登记的自定义标志上限
const MaxMailboxFlags = 100

// Mailbox 表示某个别名下的一个邮件文件夹。
//
// ModifyIndex 只增不减，是该邮箱所有 modseq 的唯一来源。
// UIDNext 由投递逻辑维护，这里只读。
type Mailbox struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AliasID     string     `json:"aliasId" gorm:"type:varchar(36);index;not null"`
	Path        string     `json:"path" gorm:"type:varchar(500)"`
	SpecialUse  SpecialUse `json:"specialUse,omitempty" gorm:"type:varchar(20)"`
	Flags       []string   `json:"flags" gorm:"serializer:json;type:json"`
	Subscribed  bool       `json:"subscribed"`
	UIDNext     uint32     `json:"uidNext" gorm:"default:1"`
	UIDValidity uint32     `json:"uidValidity"`
	ModifyIndex uint64     `json:"modifyIndex" gorm:"default:0"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// TableName 指定表名
func (Mailbox) TableName() string { return "mailboxes" }

// HidesUndeleted 垃圾箱与垃圾邮件箱中的邮件即使取消删除标记也不进入搜索索引
func (m *Mailbox) HidesUndeleted() bool {
	return m.SpecialUse == SpecialUseTrash || m.SpecialUse == SpecialUseJunk
}

// UnknownFlags 返回 flags 中尚未登记到邮箱标志表的项（大小写不敏感，去重）
func (m *Mailbox) UnknownFlags(flags []string) []string {
	known := NewFlagSet(m.Flags...)
	var out []string
	for _, f := range flags {
		if known.Has(f) {
			continue
		}
		known.Add(f)
		out = append(out, f)
	}
	return out
}
