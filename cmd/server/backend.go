package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailhub/backend/internal/config"
	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/health"
	"mailhub/backend/internal/storage"
	"mailhub/backend/internal/storage/memory"
	"mailhub/backend/internal/storage/postgres"
	redisstore "mailhub/backend/internal/storage/redis"
	sqlstore "mailhub/backend/internal/storage/sql"
)

// journal 可探活的变更日志
type journal interface {
	domain.ChangeJournal
	health.Pinger
}

// backend 启动时组装好的存储：租户目录来自主库，邮件按别名分片
type backend struct {
	directory domain.Directory
	shards    []storage.Backend
	resolver  domain.ShardResolver
	memory    *memory.Store // 仅 memory 驱动时非空，用于开发数据
}

// openBackend 根据配置打开主库与所有分片
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	if cfg.Database.Driver == "memory" {
		store := memory.NewStore()
		log.Info("using memory storage (development mode)")
		return &backend{
			directory: store,
			shards:    []storage.Backend{store},
			resolver:  storage.NewSingleShard(store),
			memory:    store,
		}, nil
	}

	dsns := append([]string{cfg.Database.DSN}, cfg.Database.ShardDSNs...)
	b := &backend{}
	for i, dsn := range dsns {
		store, err := openStore(ctx, &cfg.Database, dsn, log)
		if err != nil {
			b.close(log)
			return nil, fmt.Errorf("failed to open shard %d: %w", i, err)
		}
		b.shards = append(b.shards, store)
	}
	b.directory = b.shards[0]

	if len(b.shards) == 1 {
		b.resolver = storage.NewSingleShard(b.shards[0])
	} else {
		stores := make([]domain.MailStore, len(b.shards))
		for i, s := range b.shards {
			stores[i] = s
		}
		b.resolver = storage.NewHashShards(stores...)
	}

	log.Info("database storage initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("orm", cfg.Database.Driver == "mysql" || cfg.Database.UseORM),
		zap.Int("shards", len(b.shards)),
	)
	return b, nil
}

// openStore 打开单个分片。postgres 默认走 pgx，UseORM 时与 mysql 一样走 GORM。
func openStore(ctx context.Context, cfg *config.DatabaseConfig, dsn string, log *zap.Logger) (storage.Backend, error) {
	if cfg.Driver == "postgres" && !cfg.UseORM {
		pool, err := postgres.NewPool(ctx, cfg, dsn, log)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.NewStore(pool), nil
	}

	store, err := sqlstore.NewStore(cfg.Driver, dsn, sqlstore.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		AutoMigrate:     cfg.AutoMigrate,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// register 把每个分片注册为就绪检查项
func (b *backend) register(hc *health.HealthChecker) {
	for i, s := range b.shards {
		hc.AddComponent(fmt.Sprintf("store-%d", i), s)
	}
}

func (b *backend) close(log *zap.Logger) {
	for i, s := range b.shards {
		if err := s.Close(); err != nil {
			log.Warn("failed to close store", zap.Int("shard", i), zap.Error(err))
		}
	}
}

// openJournal 启用 Redis 时使用跨进程日志，否则使用进程内日志
func openJournal(cfg *config.Config, log *zap.Logger) (journal, func() error, error) {
	if !cfg.Redis.Enabled {
		log.Info("using in-process change journal")
		return memory.NewJournal(cfg.Notifier.JournalMax), func() error { return nil }, nil
	}

	client, err := redisstore.New(&cfg.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	return redisstore.NewJournal(client, cfg.Notifier.JournalTTL, cfg.Notifier.JournalMax), client.Close, nil
}
