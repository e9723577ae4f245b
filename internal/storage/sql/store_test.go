package sql

import (
	"os"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/storage/storagetest"
)

func TestUIDCondition(t *testing.T) {
	tests := []struct {
		name     string
		set      string
		wantSQL  string
		wantArgs []interface{}
	}{
		{name: "single", set: "7", wantSQL: "(uid = ?)", wantArgs: []interface{}{uint32(7)}},
		{name: "range", set: "2:4", wantSQL: "(uid BETWEEN ? AND ?)", wantArgs: []interface{}{uint32(2), uint32(4)}},
		{name: "open range", set: "5:*", wantSQL: "(uid >= ?)", wantArgs: []interface{}{uint32(5)}},
		{name: "reversed range", set: "9:3", wantSQL: "(uid BETWEEN ? AND ?)", wantArgs: []interface{}{uint32(3), uint32(9)}},
		{
			name:     "mixed",
			set:      "1,3:4",
			wantSQL:  "(uid = ? OR uid BETWEEN ? AND ?)",
			wantArgs: []interface{}{uint32(1), uint32(3), uint32(4)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := imap.ParseSeqSet(tt.set)
			require.NoError(t, err)

			sql, args := uidCondition(set)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}

	t.Run("star only", func(t *testing.T) {
		set, err := imap.ParseSeqSet("*")
		require.NoError(t, err)
		sql, args := uidCondition(set)
		assert.Contains(t, sql, "MAX(m.uid)")
		assert.Empty(t, args)
	})

	t.Run("empty", func(t *testing.T) {
		sql, args := uidCondition(nil)
		assert.Empty(t, sql)
		assert.Nil(t, args)
	})
}

// 需要真实数据库，通过环境变量提供 DSN
func TestConformance(t *testing.T) {
	backends := map[string]string{
		"mysql":    "MAILHUB_TEST_MYSQL_DSN",
		"postgres": "MAILHUB_TEST_POSTGRES_DSN",
	}
	for driver, env := range backends {
		t.Run(driver, func(t *testing.T) {
			dsn := os.Getenv(env)
			if dsn == "" {
				t.Skipf("set %s to run", env)
			}
			store, err := NewStore(driver, dsn, Options{AutoMigrate: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			storagetest.Run(t, func(t *testing.T) storagetest.Subject { return store })
		})
	}
}
