package storage

import (
	"hash/fnv"

	"mailhub/backend/internal/domain"
)

// Backend 完整的存储后端：邮件存储加租户目录
type Backend interface {
	domain.MailStore
	domain.Directory
}

// SingleShard 所有别名共用一个存储
type SingleShard struct {
	store domain.MailStore
}

// NewSingleShard 创建单分片解析器
func NewSingleShard(store domain.MailStore) *SingleShard {
	return &SingleShard{store: store}
}

// ForAlias 返回唯一的存储
func (s *SingleShard) ForAlias(*domain.Alias) domain.MailStore {
	return s.store
}

// HashShards 按别名 ID 的 FNV 哈希把别名固定到某个分片
type HashShards struct {
	stores []domain.MailStore
}

// NewHashShards 创建哈希分片解析器，至少需要一个存储
func NewHashShards(stores ...domain.MailStore) *HashShards {
	if len(stores) == 0 {
		panic("storage: NewHashShards requires at least one store")
	}
	return &HashShards{stores: stores}
}

// ForAlias 返回别名所在的分片
func (h *HashShards) ForAlias(alias *domain.Alias) domain.MailStore {
	if len(h.stores) == 1 || alias == nil {
		return h.stores[0]
	}
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(alias.ID))
	return h.stores[sum.Sum32()%uint32(len(h.stores))]
}

// Len 分片数量
func (h *HashShards) Len() int { return len(h.stores) }

// Shards 返回全部分片，用于健康检查与关闭
func (h *HashShards) Shards() []domain.MailStore {
	return append([]domain.MailStore(nil), h.stores...)
}
