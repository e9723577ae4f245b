package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailhub/backend/internal/domain"
)

const mailboxColumns = `id, alias_id, path, special_use, flags, subscribed, uid_next, uid_validity, modify_index, created_at`

const messageColumns = `id, mailbox_id, alias_id, uid, flags, modseq, unseen, flagged, undeleted, draft, searchable, thread_id, internal_date`

const updateMessageSQL = `UPDATE messages
SET flags = $1, modseq = $2, unseen = $3, flagged = $4, undeleted = $5, draft = $6, searchable = $7
WHERE id = $8 AND mailbox_id = $9 AND modseq < $2`

// Store 基于 pgx 原生连接池的邮件存储，批量写入通过 pgx.Batch 一次往返提交
type Store struct {
	pool *pgxpool.Pool
}

// NewStore 使用已建立的连接池创建存储
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetMailbox 根据 ID 获取邮箱
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+mailboxColumns+` FROM mailboxes WHERE id = $1`, id)
	mailbox, err := scanMailbox(row)
	if err != nil {
		return nil, notFound(err, domain.ErrMailboxNotFound)
	}
	return mailbox, nil
}

// IncrementModifyIndex 单条 UPDATE ... RETURNING 完成自增与读取
func (s *Store) IncrementModifyIndex(ctx context.Context, mailboxID, aliasID string) (*domain.Mailbox, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE mailboxes SET modify_index = modify_index + 1
		 WHERE id = $1 AND alias_id = $2
		 RETURNING `+mailboxColumns,
		mailboxID, aliasID)
	mailbox, err := scanMailbox(row)
	if err != nil {
		return nil, notFound(err, domain.ErrMailboxNotFound)
	}
	return mailbox, nil
}

// StreamMessages 按 UID 升序返回游标
func (s *Store) StreamMessages(ctx context.Context, q domain.MessageQuery) (domain.MessageCursor, error) {
	sql := `SELECT ` + messageColumns + ` FROM messages WHERE mailbox_id = $1`
	args := []any{q.MailboxID}
	if cond, condArgs := uidCondition(q.UIDs, 2); cond != "" {
		sql += " AND " + cond
		args = append(args, condArgs...)
	}
	sql += " ORDER BY uid ASC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &rowsCursor{rows: rows}, nil
}

// BulkWriteMessages 把全部条件更新放进一个 pgx.Batch。
// 条件不满足的更新影响 0 行，不算错误。
func (s *Store) BulkWriteMessages(ctx context.Context, writes []domain.MessageWrite) (*domain.BulkResult, error) {
	res := &domain.BulkResult{Submitted: len(writes)}
	if len(writes) == 0 {
		return res, nil
	}

	batch := &pgx.Batch{}
	for _, w := range writes {
		flags, err := json.Marshal(nonNil(w.Flags))
		if err != nil {
			return res, fmt.Errorf("encode flags: %w", err)
		}
		batch.Queue(updateMessageSQL,
			string(flags), int64(w.Modseq), w.Unseen, w.Flagged, w.Undeleted, w.Draft, w.Searchable,
			w.MessageID, w.MailboxID)
	}

	br := s.pool.SendBatch(ctx, batch)
	var errs []error
	for _, w := range writes {
		tag, err := br.Exec()
		if err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", w.MessageID, err))
			continue
		}
		res.Matched += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// AddMailboxFlags 在行锁下合并邮箱标志表
func (s *Store) AddMailboxFlags(ctx context.Context, mailboxID string, flags []string, limit int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var current []string
	err = tx.QueryRow(ctx, `SELECT flags FROM mailboxes WHERE id = $1 FOR UPDATE`, mailboxID).Scan(&current)
	if err != nil {
		return notFound(err, domain.ErrMailboxNotFound)
	}

	set := domain.NewFlagSet(current...)
	before := set.Len()
	for _, f := range flags {
		if set.Len() >= limit {
			break
		}
		set.Add(f)
	}
	if set.Len() == before {
		return tx.Commit(ctx)
	}

	encoded, err := json.Marshal(set.List())
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE mailboxes SET flags = $1 WHERE id = $2`, string(encoded), mailboxID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListUIDs 返回邮箱内全部 UID（升序）
func (s *Store) ListUIDs(ctx context.Context, mailboxID string) ([]uint32, error) {
	if _, err := s.GetMailbox(ctx, mailboxID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT uid FROM messages WHERE mailbox_id = $1 ORDER BY uid ASC`, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []uint32
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uint32(uid))
	}
	return uids, rows.Err()
}

// GetDomain 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	var d domain.Domain
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, status, is_active, plan_expires_at, created_at, updated_at
		 FROM domains WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.OwnerID, &status, &d.IsActive, &d.PlanExpiresAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	d.Status = domain.DomainStatus(status)
	return &d, nil
}

// GetAlias 获取别名
func (s *Store) GetAlias(ctx context.Context, id string) (*domain.Alias, error) {
	var a domain.Alias
	err := s.pool.QueryRow(ctx,
		`SELECT id, domain_id, address, is_active, created_at FROM aliases WHERE id = $1`, id).
		Scan(&a.ID, &a.DomainID, &a.Address, &a.IsActive, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrAliasNotFound)
	}
	return &a, nil
}

// GetUser 获取用户
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, is_active, is_banned, created_at, updated_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.IsActive, &u.IsBanned, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	return &u, nil
}

// Health 检查连接池
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Stats 返回连接池统计信息
func (s *Store) Stats() *pgxpool.Stat {
	return s.pool.Stat()
}

func scanMailbox(row pgx.Row) (*domain.Mailbox, error) {
	var (
		m                    domain.Mailbox
		specialUse           string
		uidNext, uidValidity int64
		modifyIndex          int64
	)
	err := row.Scan(&m.ID, &m.AliasID, &m.Path, &specialUse, &m.Flags, &m.Subscribed,
		&uidNext, &uidValidity, &modifyIndex, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.SpecialUse = domain.SpecialUse(specialUse)
	m.UIDNext = uint32(uidNext)
	m.UIDValidity = uint32(uidValidity)
	m.ModifyIndex = uint64(modifyIndex)
	return &m, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func nonNil(flags []string) []string {
	if flags == nil {
		return []string{}
	}
	return flags
}

// uidCondition 把 UID 集合转换为带 $n 占位符的条件，first 为第一个占位符编号
func uidCondition(set *imap.SeqSet, first int) (string, []any) {
	if set == nil || len(set.Set) == 0 {
		return "", nil
	}
	var (
		parts []string
		args  []any
	)
	next := func(v uint32) string {
		args = append(args, int64(v))
		return fmt.Sprintf("$%d", first+len(args)-1)
	}
	for _, seq := range set.Set {
		start, stop := seq.Start, seq.Stop
		switch {
		case start == 0 && stop == 0:
			parts = append(parts, "uid = (SELECT MAX(m.uid) FROM messages m WHERE m.mailbox_id = messages.mailbox_id)")
		case start == 0 || stop == 0:
			if start == 0 {
				start = stop
			}
			parts = append(parts, "uid >= "+next(start))
		case start == stop:
			parts = append(parts, "uid = "+next(start))
		default:
			if start > stop {
				start, stop = stop, start
			}
			parts = append(parts, "uid BETWEEN "+next(start)+" AND "+next(stop))
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// rowsCursor 基于 pgx.Rows 的游标
type rowsCursor struct {
	rows pgx.Rows
	cur  *domain.Message
	err  error
}

func (c *rowsCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	var (
		m           domain.Message
		uid, modseq int64
		threadID    *string
	)
	err := c.rows.Scan(&m.ID, &m.MailboxID, &m.AliasID, &uid, &m.Flags, &modseq,
		&m.Unseen, &m.Flagged, &m.Undeleted, &m.Draft, &m.Searchable, &threadID, &m.InternalDate)
	if err != nil {
		c.err = err
		return false
	}
	m.UID = uint32(uid)
	m.Modseq = uint64(modseq)
	if threadID != nil {
		m.ThreadID = *threadID
	}
	c.cur = &m
	return true
}

func (c *rowsCursor) Message() *domain.Message { return c.cur }

func (c *rowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *rowsCursor) Close() error {
	c.rows.Close()
	return nil
}
