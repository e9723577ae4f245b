package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailhub/backend/internal/domain"
)

// messageColumns 条件写入更新的列
var messageColumns = []string{"flags", "modseq", "unseen", "flagged", "undeleted", "draft", "searchable"}

// Store 基于 GORM 的邮件存储（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *gorm.DB
	sqlDB      *sql.DB
	driverName string // "mysql" or "postgres"
}

// Options 连接池与迁移参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// NewStore 创建SQL数据库存储
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = mysql.New(mysql.Config{Conn: db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: db})
	}

	store, err := NewStoreWithDialector(dialector, opts.AutoMigrate)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.driverName = driverName
	return store, nil
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, autoMigrate bool) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	store := &Store{db: db, sqlDB: sqlDB, driverName: dialector.Name()}
	if autoMigrate {
		if err := store.migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Domain{},
		&domain.Alias{},
		&domain.Mailbox{},
		&domain.Message{},
	)
}

// DB 返回 GORM 实例（用于测试数据准备）
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ========== Mailbox ==========

// GetMailbox 根据 ID 获取邮箱
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	if err := s.db.WithContext(ctx).First(&mailbox, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrMailboxNotFound)
	}
	return &mailbox, nil
}

// IncrementModifyIndex 在事务内原子自增 modify_index 并读回新值
func (s *Store) IncrementModifyIndex(ctx context.Context, mailboxID, aliasID string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Mailbox{}).
			Where("id = ? AND alias_id = ?", mailboxID, aliasID).
			UpdateColumn("modify_index", gorm.Expr("modify_index + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrMailboxNotFound
		}
		return tx.First(&mailbox, "id = ?", mailboxID).Error
	})
	if err != nil {
		return nil, notFound(err, domain.ErrMailboxNotFound)
	}
	return &mailbox, nil
}

// AddMailboxFlags 在行锁下合并邮箱标志表
func (s *Store) AddMailboxFlags(ctx context.Context, mailboxID string, flags []string, limit int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mailbox domain.Mailbox
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&mailbox, "id = ?", mailboxID).Error; err != nil {
			return notFound(err, domain.ErrMailboxNotFound)
		}

		set := domain.NewFlagSet(mailbox.Flags...)
		before := set.Len()
		for _, f := range flags {
			if set.Len() >= limit {
				break
			}
			set.Add(f)
		}
		if set.Len() == before {
			return nil
		}
		return tx.Model(&mailbox).Select("flags").Updates(&domain.Mailbox{Flags: set.List()}).Error
	})
}

// ListUIDs 返回邮箱内全部 UID（升序）
func (s *Store) ListUIDs(ctx context.Context, mailboxID string) ([]uint32, error) {
	if _, err := s.GetMailbox(ctx, mailboxID); err != nil {
		return nil, err
	}
	var uids []uint32
	err := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("mailbox_id = ?", mailboxID).
		Order("uid ASC").
		Pluck("uid", &uids).Error
	return uids, err
}

// ========== Message ==========

// StreamMessages 按 UID 升序返回行游标
func (s *Store) StreamMessages(ctx context.Context, q domain.MessageQuery) (domain.MessageCursor, error) {
	query := s.db.WithContext(ctx).Model(&domain.Message{}).Where("mailbox_id = ?", q.MailboxID)
	if cond, args := uidCondition(q.UIDs); cond != "" {
		query = query.Where(cond, args...)
	}
	rows, err := query.Order("uid ASC").Rows()
	if err != nil {
		return nil, err
	}
	return &rowsCursor{db: s.db, rows: rows}, nil
}

// BulkWriteMessages 逐条执行带 modseq 条件的更新，互不影响，错误合并返回
func (s *Store) BulkWriteMessages(ctx context.Context, writes []domain.MessageWrite) (*domain.BulkResult, error) {
	res := &domain.BulkResult{Submitted: len(writes)}
	var errs []error
	for _, w := range writes {
		update := s.db.WithContext(ctx).Model(&domain.Message{}).
			Where("id = ? AND mailbox_id = ? AND modseq < ?", w.MessageID, w.MailboxID, w.Modseq).
			Select(messageColumns).
			Updates(&domain.Message{
				Flags:      w.Flags,
				Modseq:     w.Modseq,
				Unseen:     w.Unseen,
				Flagged:    w.Flagged,
				Undeleted:  w.Undeleted,
				Draft:      w.Draft,
				Searchable: w.Searchable,
			})
		if update.Error != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", w.MessageID, update.Error))
			continue
		}
		res.Matched += int(update.RowsAffected)
	}
	return res, errors.Join(errs...)
}

// ========== Directory ==========

// GetDomain 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	return &d, nil
}

// GetAlias 获取别名
func (s *Store) GetAlias(ctx context.Context, id string) (*domain.Alias, error) {
	var a domain.Alias
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrAliasNotFound)
	}
	return &a, nil
}

// GetUser 获取用户
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	return &u, nil
}

// Health 检查数据库连接
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// uidCondition 把 UID 集合转换为 SQL 条件，"*" 结尾的区间转换为开区间
func uidCondition(set *imap.SeqSet) (string, []interface{}) {
	if set == nil || len(set.Set) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(set.Set))
	args := make([]interface{}, 0, 2*len(set.Set))
	for _, seq := range set.Set {
		start, stop := seq.Start, seq.Stop
		switch {
		case start == 0 && stop == 0:
			parts = append(parts, "uid = (SELECT MAX(m.uid) FROM messages m WHERE m.mailbox_id = messages.mailbox_id)")
		case stop == 0 || start == 0:
			if start == 0 {
				start = stop
			}
			parts = append(parts, "uid >= ?")
			args = append(args, start)
		case start == stop:
			parts = append(parts, "uid = ?")
			args = append(args, start)
		default:
			if start > stop {
				start, stop = stop, start
			}
			parts = append(parts, "uid BETWEEN ? AND ?")
			args = append(args, start, stop)
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// rowsCursor 基于 *sql.Rows 的游标
type rowsCursor struct {
	db   *gorm.DB
	rows *sql.Rows
	cur  *domain.Message
	err  error
}

func (c *rowsCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		if c.err == nil {
			c.err = c.rows.Err()
		}
		return false
	}
	var msg domain.Message
	if err := c.db.ScanRows(c.rows, &msg); err != nil {
		c.err = err
		return false
	}
	c.cur = &msg
	return true
}

func (c *rowsCursor) Message() *domain.Message { return c.cur }

func (c *rowsCursor) Err() error { return c.err }

func (c *rowsCursor) Close() error { return c.rows.Close() }
