package domain

import (
	"strings"

	"github.com/emersion/go-imap"
)

// 系统标志
const (
	FlagSeen     = imap.SeenFlag
	FlagAnswered = imap.AnsweredFlag
	FlagFlagged  = imap.FlaggedFlag
	FlagDeleted  = imap.DeletedFlag
	FlagDraft    = imap.DraftFlag
	FlagRecent   = imap.RecentFlag
)

// flagKey 标志比较键。标志名大小写不敏感。
func flagKey(flag string) string {
	return strings.ToLower(flag)
}

// FlagSet 有序、大小写不敏感的标志集合，保留首次出现时的原始写法。
type FlagSet struct {
	order []string
	index map[string]int
}

// NewFlagSet 由标志列表构造集合，重复项（忽略大小写）只保留第一个
func NewFlagSet(flags ...string) *FlagSet {
	s := &FlagSet{index: make(map[string]int, len(flags))}
	for _, f := range flags {
		s.Add(f)
	}
	return s
}

// Has 判断集合是否包含 flag
func (s *FlagSet) Has(flag string) bool {
	_, ok := s.index[flagKey(flag)]
	return ok
}

// Add 添加标志，已存在时返回 false
func (s *FlagSet) Add(flag string) bool {
	if flag == "" {
		return false
	}
	k := flagKey(flag)
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.order)
	s.order = append(s.order, flag)
	return true
}

// Remove 删除标志，不存在时返回 false
func (s *FlagSet) Remove(flag string) bool {
	k := flagKey(flag)
	i, ok := s.index[k]
	if !ok {
		return false
	}
	s.order = append(s.order[:i], s.order[i+1:]...)
	delete(s.index, k)
	for j := i; j < len(s.order); j++ {
		s.index[flagKey(s.order[j])] = j
	}
	return true
}

// Len 集合大小
func (s *FlagSet) Len() int { return len(s.order) }

// Equal 按成员关系（忽略大小写）比较两个集合
func (s *FlagSet) Equal(other *FlagSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for k := range s.index {
		if _, ok := other.index[k]; !ok {
			return false
		}
	}
	return true
}

// List 返回标志列表副本
func (s *FlagSet) List() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// SanitizeFlags 去掉空值、重复项以及客户端不可设置的 \Recent
func SanitizeFlags(flags []string) []string {
	set := NewFlagSet()
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f == "" || strings.EqualFold(f, FlagRecent) {
			continue
		}
		set.Add(f)
	}
	return set.List()
}
