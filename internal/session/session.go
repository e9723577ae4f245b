package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
)

// Selected 当前选中邮箱的上下文
type Selected struct {
	MailboxID   string
	ReadOnly    bool
	CondStore   bool
	UIDValidity uint32
	// JournalCursor 变更日志中已推送到的位置
	JournalCursor string
	uids          []uint32
}

// Session 单个连接的临时会话状态。认证成功时创建，断开或强制关闭时销毁。
//
// AliasID/DomainID 只是缓存的身份标识，授权判断必须每次从存储重新获取。
type Session struct {
	ID        string
	AliasID   string
	DomainID  string
	Address   string
	CreatedAt time.Time

	mu       sync.RWMutex
	selected *Selected
	closed   atomic.Bool
}

// New 创建会话
func New(aliasID, domainID, address string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		AliasID:   aliasID,
		DomainID:  domainID,
		Address:   address,
		CreatedAt: time.Now(),
	}
}

// IsOpen 底层连接是否仍可用
func (s *Session) IsOpen() bool { return !s.closed.Load() }

// MarkClosed 标记连接已关闭
func (s *Session) MarkClosed() { s.closed.Store(true) }

// Select 设置选中的邮箱及其 UID 视图
func (s *Session) Select(sel *Selected, uids []uint32) {
	sorted := make([]uint32, len(uids))
	copy(sorted, uids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sel.uids = sorted

	s.mu.Lock()
	s.selected = sel
	s.mu.Unlock()
}

// Unselect 取消选中
func (s *Session) Unselect() {
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
}

// Selected 返回当前选中邮箱，未选中时为 nil
func (s *Session) Selected() *Selected {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// CondStoreEnabled 当前连接是否启用了 CONDSTORE
func (s *Session) CondStoreEnabled() bool {
	sel := s.Selected()
	return sel != nil && sel.CondStore
}

// EnableCondStore 在已选中的邮箱上启用 CONDSTORE
func (s *Session) EnableCondStore() {
	s.mu.Lock()
	if s.selected != nil {
		s.selected.CondStore = true
	}
	s.mu.Unlock()
}

// UIDs 返回会话视图中的 UID 列表副本
func (s *Session) UIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return nil
	}
	out := make([]uint32, len(s.selected.uids))
	copy(out, s.selected.uids)
	return out
}

// KnowsUID 判断 uid 是否在会话视图中
func (s *Session) KnowsUID(uid uint32) bool {
	return s.SeqOf(uid) > 0
}

// SeqOf 返回 uid 对应的序号，未知时返回 0
func (s *Session) SeqOf(uid uint32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return 0
	}
	uids := s.selected.uids
	i := sort.Search(len(uids), func(i int) bool { return uids[i] >= uid })
	if i < len(uids) && uids[i] == uid {
		return uint32(i + 1)
	}
	return 0
}

// AppendUID 把新出现的 UID 加入视图
func (s *Session) AppendUID(uid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return
	}
	uids := s.selected.uids
	i := sort.Search(len(uids), func(i int) bool { return uids[i] >= uid })
	if i < len(uids) && uids[i] == uid {
		return
	}
	uids = append(uids, 0)
	copy(uids[i+1:], uids[i:])
	uids[i] = uid
	s.selected.uids = uids
}

// SetJournalCursor 在仍选中 mailboxID 时记录已推送到的日志位置
func (s *Session) SetJournalCursor(mailboxID, cursor string) {
	s.mu.Lock()
	if s.selected != nil && s.selected.MailboxID == mailboxID {
		s.selected.JournalCursor = cursor
	}
	s.mu.Unlock()
}

// JournalCursor 返回已推送到的日志位置，未选中时为空
func (s *Session) JournalCursor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return ""
	}
	return s.selected.JournalCursor
}

// Resolve 把序号集合或 UID 集合解析为会话视图中存在的 UID 列表（升序）。
// "*" 代表视图中最大的序号或 UID。
func (s *Session) Resolve(set *imap.SeqSet, byUID bool) []uint32 {
	uids := s.UIDs()
	if len(uids) == 0 || set == nil {
		return nil
	}

	var out []uint32
	if byUID {
		max := uids[len(uids)-1]
		for _, uid := range uids {
			if seqSetContains(set, uid, max) {
				out = append(out, uid)
			}
		}
		return out
	}

	max := uint32(len(uids))
	for i, uid := range uids {
		if seqSetContains(set, uint32(i+1), max) {
			out = append(out, uid)
		}
	}
	return out
}

// seqSetContains 处理 "*" 与 "n:*"，其中 n 可能大于当前最大值
func seqSetContains(set *imap.SeqSet, q, max uint32) bool {
	for _, seq := range set.Set {
		start, stop := seq.Start, seq.Stop
		if start == 0 {
			start = max
		}
		if stop == 0 {
			stop = max
		}
		if start > stop {
			start, stop = stop, start
		}
		if q >= start && q <= stop {
			return true
		}
	}
	return false
}
