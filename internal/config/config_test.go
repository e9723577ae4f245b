package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		t.Setenv("MAILHUB_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "memory", cfg.Database.Driver)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, 150, cfg.IMAP.BatchSize)
		assert.Equal(t, 100, cfg.IMAP.MaxMailboxFlags)
		assert.Equal(t, 3*time.Second, cfg.IMAP.ModseqTimeout)
		assert.Equal(t, 2*time.Minute, cfg.IMAP.StreamTimeout)
		assert.Equal(t, 12*time.Hour, cfg.JWT.Expiry)
		assert.Equal(t, 3, cfg.Notifier.Attempts)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, 10, cfg.Redis.PoolSize)
		assert.Equal(t, 2, cfg.Redis.MinIdleConns)
		assert.Equal(t, 3*time.Second, cfg.Redis.IOTimeout)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		t.Setenv("MAILHUB_JWT_SECRET", testSecret)
		t.Setenv("MAILHUB_SERVER_PORT", "9090")
		t.Setenv("MAILHUB_DATABASE_DRIVER", "Postgres")
		t.Setenv("MAILHUB_DATABASE_DSN", "postgres://localhost/mailhub")
		t.Setenv("MAILHUB_DATABASE_SHARD_DSNS", "postgres://a/mailhub, postgres://b/mailhub")
		t.Setenv("MAILHUB_IMAP_BATCH_SIZE", "50")
		t.Setenv("MAILHUB_IMAP_CONDSTORE", "true")
		t.Setenv("MAILHUB_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("MAILHUB_REDIS_POOL_SIZE", "64")
		t.Setenv("MAILHUB_REDIS_IO_TIMEOUT", "500ms")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, []string{"postgres://a/mailhub", "postgres://b/mailhub"}, cfg.Database.ShardDSNs)
		assert.Equal(t, 50, cfg.IMAP.BatchSize)
		assert.True(t, cfg.IMAP.CondStore)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, 64, cfg.Redis.PoolSize)
		assert.Equal(t, 500*time.Millisecond, cfg.Redis.IOTimeout)
	})

	t.Run("默认JWT密钥被拒绝", func(t *testing.T) {
		t.Setenv("MAILHUB_JWT_SECRET", defaultJWTSecret)
		_, err := Load()
		assert.ErrorContains(t, err, "cannot be the default value")
	})

	t.Run("JWT密钥过短", func(t *testing.T) {
		t.Setenv("MAILHUB_JWT_SECRET", "short")
		_, err := Load()
		assert.ErrorContains(t, err, "at least 32 characters")
	})

	t.Run("未知存储驱动", func(t *testing.T) {
		t.Setenv("MAILHUB_JWT_SECRET", testSecret)
		t.Setenv("MAILHUB_DATABASE_DRIVER", "mongodb")
		_, err := Load()
		assert.ErrorContains(t, err, "unsupported database driver")
	})

	t.Run("数据库驱动缺少DSN", func(t *testing.T) {
		t.Setenv("MAILHUB_JWT_SECRET", testSecret)
		t.Setenv("MAILHUB_DATABASE_DRIVER", "mysql")
		_, err := Load()
		assert.ErrorContains(t, err, "database.dsn is required")
	})

	t.Run("无效的时长", func(t *testing.T) {
		t.Setenv("MAILHUB_JWT_SECRET", testSecret)
		t.Setenv("MAILHUB_IMAP_STREAM_TIMEOUT", "forever")
		_, err := Load()
		assert.ErrorContains(t, err, "imap.stream_timeout")
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a, ,b ,"))
	assert.Empty(t, parseList(""))
}
