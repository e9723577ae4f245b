package domain

import "time"

// DomainStatus 域名状态
type DomainStatus string

const (
	// DomainStatusPending 待验证
	DomainStatusPending DomainStatus = "pending"
	// DomainStatusVerified 已验证
	DomainStatusVerified DomainStatus = "verified"
	// DomainStatusSuspended 已停用
	DomainStatusSuspended DomainStatus = "suspended"
)

// Domain 租户域名。所有权验证（DNS TXT）由外部流程完成，这里只读取结果。
type Domain struct {
	ID            string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name          string       `json:"name" gorm:"uniqueIndex;type:varchar(100);not null"`
	OwnerID       string       `json:"ownerId" gorm:"type:varchar(36);index;not null"`
	Status        DomainStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	IsActive      bool         `json:"isActive"`
	PlanExpiresAt *time.Time   `json:"planExpiresAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// TableName 指定表名
func (Domain) TableName() string { return "domains" }

// PlanExpired 判断套餐是否已过期
func (d *Domain) PlanExpired(now time.Time) bool {
	return d.PlanExpiresAt != nil && !d.PlanExpiresAt.After(now)
}
