package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mailhub/backend/internal/domain"
)

// CreateUser 写入用户
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, is_active, is_banned, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.IsActive, u.IsBanned, u.CreatedAt, u.UpdatedAt)
	return err
}

// CreateDomain 写入域名
func (s *Store) CreateDomain(ctx context.Context, d *domain.Domain) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = domain.DomainStatusPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO domains (id, name, owner_id, status, is_active, plan_expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.Name, d.OwnerID, string(d.Status), d.IsActive, d.PlanExpiresAt, d.CreatedAt, d.UpdatedAt)
	return err
}

// CreateAlias 写入别名
func (s *Store) CreateAlias(ctx context.Context, a *domain.Alias) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO aliases (id, domain_id, address, is_active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.DomainID, a.Address, a.IsActive, a.CreatedAt)
	return err
}

// CreateMailbox 写入邮箱，ID 为空时自动生成
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	if mailbox.ID == "" {
		mailbox.ID = uuid.NewString()
	}
	if mailbox.UIDNext == 0 {
		mailbox.UIDNext = 1
	}
	if mailbox.CreatedAt.IsZero() {
		mailbox.CreatedAt = time.Now().UTC()
	}
	flags, err := json.Marshal(nonNil(mailbox.Flags))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO mailboxes (id, alias_id, path, special_use, flags, subscribed, uid_next, uid_validity, modify_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		mailbox.ID, mailbox.AliasID, mailbox.Path, string(mailbox.SpecialUse), string(flags), mailbox.Subscribed,
		int64(mailbox.UIDNext), int64(mailbox.UIDValidity), int64(mailbox.ModifyIndex), mailbox.CreatedAt)
	return err
}

// CreateMessage 投递一封邮件：在事务内分配 UID 并推进 uid_next
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		mailbox, err := scanMailbox(tx.QueryRow(ctx,
			`SELECT `+mailboxColumns+` FROM mailboxes WHERE id = $1 FOR UPDATE`, msg.MailboxID))
		if err != nil {
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
		msg.Derive(mailbox)

		flags, err := json.Marshal(nonNil(msg.Flags))
		if err != nil {
			return err
		}
		var threadID *string
		if msg.ThreadID != "" {
			threadID = &msg.ThreadID
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO messages (`+messageColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			msg.ID, msg.MailboxID, msg.AliasID, int64(msg.UID), string(flags), int64(msg.Modseq),
			msg.Unseen, msg.Flagged, msg.Undeleted, msg.Draft, msg.Searchable, threadID, msg.InternalDate)
		if err != nil {
			return err
		}
		if msg.UID >= mailbox.UIDNext {
			_, err = tx.Exec(ctx, `UPDATE mailboxes SET uid_next = $1 WHERE id = $2`, int64(msg.UID)+1, mailbox.ID)
		}
		return err
	})
}
