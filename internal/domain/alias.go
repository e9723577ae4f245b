package domain

import "time"

// Alias 表示域名下的一个邮件身份，是邮箱的所有者（租户）。
type Alias struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DomainID  string    `json:"domainId" gorm:"type:varchar(36);index;not null"`
	Address   string    `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Alias) TableName() string { return "aliases" }
