package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/config"
	"mailhub/backend/internal/storage/storagetest"
)

func TestUIDCondition(t *testing.T) {
	tests := []struct {
		name     string
		set      string
		first    int
		wantSQL  string
		wantArgs []any
	}{
		{name: "single", set: "7", first: 2, wantSQL: "(uid = $2)", wantArgs: []any{int64(7)}},
		{name: "range", set: "2:4", first: 2, wantSQL: "(uid BETWEEN $2 AND $3)", wantArgs: []any{int64(2), int64(4)}},
		{name: "open range", set: "5:*", first: 1, wantSQL: "(uid >= $1)", wantArgs: []any{int64(5)}},
		{
			name:     "mixed",
			set:      "1,3:4,9",
			first:    2,
			wantSQL:  "(uid = $2 OR uid BETWEEN $3 AND $4 OR uid = $5)",
			wantArgs: []any{int64(1), int64(3), int64(4), int64(9)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := imap.ParseSeqSet(tt.set)
			require.NoError(t, err)

			sql, args := uidCondition(set, tt.first)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}

	sql, args := uidCondition(nil, 2)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestConformance(t *testing.T) {
	dsn := os.Getenv("MAILHUB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set MAILHUB_TEST_POSTGRES_DSN to run")
	}
	ctx := context.Background()

	pool, err := NewPool(ctx, &config.DatabaseConfig{MaxOpenConns: 4}, dsn, nil)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))

	store := NewStore(pool)
	t.Cleanup(func() { _ = store.Close() })

	storagetest.Run(t, func(t *testing.T) storagetest.Subject { return store })
}
