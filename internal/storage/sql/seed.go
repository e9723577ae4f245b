package sql

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailhub/backend/internal/domain"
)

// CreateUser 写入用户
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// CreateDomain 写入域名
func (s *Store) CreateDomain(ctx context.Context, d *domain.Domain) error {
	return s.db.WithContext(ctx).Create(d).Error
}

// CreateAlias 写入别名
func (s *Store) CreateAlias(ctx context.Context, a *domain.Alias) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// CreateMailbox 写入邮箱，ID 为空时自动生成
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	if mailbox.ID == "" {
		mailbox.ID = uuid.NewString()
	}
	if mailbox.UIDNext == 0 {
		mailbox.UIDNext = 1
	}
	if mailbox.Flags == nil {
		mailbox.Flags = []string{}
	}
	return s.db.WithContext(ctx).Create(mailbox).Error
}

// CreateMessage 投递一封邮件：在事务内分配 UID 并推进 uid_next
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mailbox domain.Mailbox
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&mailbox, "id = ?", msg.MailboxID).Error; err != nil {
			return notFound(err, domain.ErrMailboxNotFound)
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.UID == 0 {
			msg.UID = mailbox.UIDNext
		}
		if msg.InternalDate.IsZero() {
			msg.InternalDate = time.Now().UTC()
		}
		msg.AliasID = mailbox.AliasID
		msg.Flags = domain.SanitizeFlags(msg.Flags)
		msg.Derive(&mailbox)
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if msg.UID >= mailbox.UIDNext {
			return tx.Model(&mailbox).UpdateColumn("uid_next", msg.UID+1).Error
		}
		return nil
	})
}
