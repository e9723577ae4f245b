package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailhub/backend/internal/domain"
)

// Store 使用内存保存邮箱、邮件与租户目录，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox
	messages  map[string]map[string]*domain.Message // mailboxID -> messageID -> message
	domains   map[string]*domain.Domain
	aliases   map[string]*domain.Alias
	users     map[string]*domain.User

	faults    Faults
	bulkCalls int
}

// Faults 测试用的故障注入
type Faults struct {
	// StreamErrAfter 游标输出 N 封邮件后返回 StreamErr
	StreamErrAfter int
	StreamErr      error
	// BulkErrOnCall 第 N 次（从 1 开始）批量写入返回 BulkErr，写入本身不生效
	BulkErrOnCall int
	BulkErr       error
	// IncrementErr 非 nil 时 IncrementModifyIndex 直接返回该错误
	IncrementErr error
	// AddFlagsErr 非 nil 时 AddMailboxFlags 直接返回该错误
	AddFlagsErr error
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		messages:  make(map[string]map[string]*domain.Message),
		domains:   make(map[string]*domain.Domain),
		aliases:   make(map[string]*domain.Alias),
		users:     make(map[string]*domain.User),
	}
}

// InjectFaults 设置故障注入
func (s *Store) InjectFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// BulkCalls 批量写入被调用的次数
func (s *Store) BulkCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bulkCalls
}

// PutMailbox 保存邮箱，ID 为空时自动生成
func (s *Store) PutMailbox(mailbox *domain.Mailbox) *domain.Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mailbox.ID == "" {
		mailbox.ID = uuid.NewString()
	}
	if mailbox.UIDNext == 0 {
		mailbox.UIDNext = 1
	}
	if mailbox.UIDValidity == 0 {
		mailbox.UIDValidity = uint32(time.Now().Unix())
	}
	if mailbox.CreatedAt.IsZero() {
		mailbox.CreatedAt = time.Now()
	}
	cp := cloneMailbox(mailbox)
	s.mailboxes[cp.ID] = cp
	if _, ok := s.messages[cp.ID]; !ok {
		s.messages[cp.ID] = make(map[string]*domain.Message)
	}
	return cloneMailbox(cp)
}

// PutMessage 投递一封邮件：分配 UID、重算派生字段
func (s *Store) PutMessage(mailboxID string, msg *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.UID == 0 {
		msg.UID = mailbox.UIDNext
	}
	if msg.UID >= mailbox.UIDNext {
		mailbox.UIDNext = msg.UID + 1
	}
	if msg.InternalDate.IsZero() {
		msg.InternalDate = time.Now()
	}
	msg.MailboxID = mailboxID
	msg.AliasID = mailbox.AliasID
	msg.Flags = domain.SanitizeFlags(msg.Flags)
	msg.Derive(mailbox)

	cp := cloneMessage(msg)
	s.messages[mailboxID][cp.ID] = cp
	return cloneMessage(cp), nil
}

// PutDomain 保存域名
func (s *Store) PutDomain(d *domain.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.domains[d.ID] = &cp
}

// PutAlias 保存别名
func (s *Store) PutAlias(a *domain.Alias) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.aliases[a.ID] = &cp
}

// PutUser 保存用户
func (s *Store) PutUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// DeleteMailbox 删除邮箱及其邮件
func (s *Store) DeleteMailbox(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mailboxes, id)
	delete(s.messages, id)
}

// GetMessage 按 UID 读取邮件副本
func (s *Store) GetMessage(mailboxID string, uid uint32) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages[mailboxID] {
		if msg.UID == uid {
			return cloneMessage(msg), nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

// GetMailbox 获取邮箱
func (s *Store) GetMailbox(_ context.Context, id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mailbox, ok := s.mailboxes[id]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	return cloneMailbox(mailbox), nil
}

// IncrementModifyIndex 原子自增邮箱的 modifyIndex
func (s *Store) IncrementModifyIndex(ctx context.Context, mailboxID, aliasID string) (*domain.Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faults.IncrementErr != nil {
		return nil, s.faults.IncrementErr
	}
	mailbox, ok := s.mailboxes[mailboxID]
	if !ok || mailbox.AliasID != aliasID {
		return nil, domain.ErrMailboxNotFound
	}
	mailbox.ModifyIndex++
	return cloneMailbox(mailbox), nil
}

// StreamMessages 返回按 UID 升序的游标，基于调用时刻的快照
func (s *Store) StreamMessages(ctx context.Context, q domain.MessageQuery) (domain.MessageCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.mailboxes[q.MailboxID]; !ok {
		return nil, domain.ErrMailboxNotFound
	}
	var snapshot []*domain.Message
	for _, msg := range s.messages[q.MailboxID] {
		if q.UIDs != nil && !q.UIDs.Contains(msg.UID) {
			continue
		}
		snapshot = append(snapshot, cloneMessage(msg))
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].UID < snapshot[j].UID })

	return &cursor{
		ctx:      ctx,
		messages: snapshot,
		pos:      -1,
		errAfter: s.faults.StreamErrAfter,
		failWith: s.faults.StreamErr,
	}, nil
}

// BulkWriteMessages 无序条件写入：仅当已存储 modseq 严格小于写入 modseq 时生效
func (s *Store) BulkWriteMessages(ctx context.Context, writes []domain.MessageWrite) (*domain.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bulkCalls++
	res := &domain.BulkResult{Submitted: len(writes)}
	if s.faults.BulkErr != nil && s.faults.BulkErrOnCall == s.bulkCalls {
		return res, s.faults.BulkErr
	}
	for _, w := range writes {
		msg, ok := s.messages[w.MailboxID][w.MessageID]
		if !ok || msg.Modseq >= w.Modseq {
			continue
		}
		msg.Flags = append([]string(nil), w.Flags...)
		msg.Modseq = w.Modseq
		msg.Unseen = w.Unseen
		msg.Flagged = w.Flagged
		msg.Undeleted = w.Undeleted
		msg.Draft = w.Draft
		msg.Searchable = w.Searchable
		res.Matched++
	}
	return res, nil
}

// AddMailboxFlags 把 flags 并入邮箱标志表（大小写不敏感），总数不超过 limit
func (s *Store) AddMailboxFlags(_ context.Context, mailboxID string, flags []string, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faults.AddFlagsErr != nil {
		return s.faults.AddFlagsErr
	}
	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		return domain.ErrMailboxNotFound
	}
	set := domain.NewFlagSet(mailbox.Flags...)
	for _, f := range flags {
		if set.Len() >= limit {
			break
		}
		set.Add(f)
	}
	mailbox.Flags = set.List()
	return nil
}

// ListUIDs 返回邮箱内全部 UID（升序）
func (s *Store) ListUIDs(_ context.Context, mailboxID string) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.mailboxes[mailboxID]; !ok {
		return nil, domain.ErrMailboxNotFound
	}
	uids := make([]uint32, 0, len(s.messages[mailboxID]))
	for _, msg := range s.messages[mailboxID] {
		uids = append(uids, msg.UID)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// GetDomain 获取域名
func (s *Store) GetDomain(_ context.Context, id string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[id]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

// GetAlias 获取别名
func (s *Store) GetAlias(_ context.Context, id string) (*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.aliases[id]
	if !ok {
		return nil, domain.ErrAliasNotFound
	}
	cp := *a
	return &cp, nil
}

// GetUser 获取用户
func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Health 内存存储总是可用
func (s *Store) Health() error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }

func cloneMailbox(m *domain.Mailbox) *domain.Mailbox {
	cp := *m
	cp.Flags = append([]string(nil), m.Flags...)
	return &cp
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.Flags = append([]string(nil), m.Flags...)
	return &cp
}

// cursor 快照游标
type cursor struct {
	ctx      context.Context
	messages []*domain.Message
	pos      int
	err      error
	closed   bool

	errAfter int
	failWith error
}

func (c *cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.failWith != nil && c.pos+1 >= c.errAfter {
		c.err = c.failWith
		return false
	}
	c.pos++
	return c.pos < len(c.messages)
}

func (c *cursor) Message() *domain.Message {
	if c.pos < 0 || c.pos >= len(c.messages) {
		return nil
	}
	return c.messages[c.pos]
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.closed = true
	return nil
}

// CreateUser 写入用户
func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.PutUser(u)
	return nil
}

// CreateDomain 写入域名
func (s *Store) CreateDomain(_ context.Context, d *domain.Domain) error {
	s.PutDomain(d)
	return nil
}

// CreateAlias 写入别名
func (s *Store) CreateAlias(_ context.Context, a *domain.Alias) error {
	s.PutAlias(a)
	return nil
}

// CreateMailbox 写入邮箱，回填生成的 ID
func (s *Store) CreateMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	*mailbox = *s.PutMailbox(mailbox)
	return nil
}

// CreateMessage 投递邮件，回填分配的 UID
func (s *Store) CreateMessage(_ context.Context, msg *domain.Message) error {
	stored, err := s.PutMessage(msg.MailboxID, msg)
	if err != nil {
		return err
	}
	*msg = *stored
	return nil
}
