package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/storage"
	"mailhub/backend/internal/storage/memory"
)

func TestShardResolvers(t *testing.T) {
	t.Run("单分片总是返回同一存储", func(t *testing.T) {
		store := memory.NewStore()
		resolver := storage.NewSingleShard(store)
		assert.Same(t, store, resolver.ForAlias(&domain.Alias{ID: "a"}))
		assert.Same(t, store, resolver.ForAlias(&domain.Alias{ID: "b"}))
	})

	t.Run("哈希分片对同一别名稳定", func(t *testing.T) {
		stores := []domain.MailStore{memory.NewStore(), memory.NewStore(), memory.NewStore()}
		resolver := storage.NewHashShards(stores...)

		alias := &domain.Alias{ID: "alias-42"}
		first := resolver.ForAlias(alias)
		for i := 0; i < 10; i++ {
			assert.Same(t, first, resolver.ForAlias(alias))
		}
		assert.Equal(t, 3, resolver.Len())
	})

	t.Run("别名分布到多个分片", func(t *testing.T) {
		stores := []domain.MailStore{memory.NewStore(), memory.NewStore()}
		resolver := storage.NewHashShards(stores...)

		seen := map[domain.MailStore]bool{}
		for _, id := range []string{"alias-1", "alias-2", "alias-3", "alias-4"} {
			seen[resolver.ForAlias(&domain.Alias{ID: id})] = true
		}
		assert.Len(t, seen, 2)
	})
}
