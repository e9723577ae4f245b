package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "mailhub/backend/internal/auth/jwt"
	"mailhub/backend/internal/config"
	"mailhub/backend/internal/health"
	"mailhub/backend/internal/logger"
	"mailhub/backend/internal/monitoring"
	"mailhub/backend/internal/pool"
	"mailhub/backend/internal/service"
	httptransport "mailhub/backend/internal/transport/http"
	"mailhub/backend/internal/websocket"
)

// main 启动 IMAP 会话服务：WebSocket 前端、STORE 引擎与变更通知。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    true,
		Service:     "mailhub",
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailhub server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.close(log)

	changes, closeJournal, err := openJournal(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize change journal", zap.Error(err))
	}
	defer func() {
		if err := closeJournal(); err != nil {
			log.Warn("failed to close change journal", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics()

	healthChecker := health.NewHealthChecker(log)
	store.register(healthChecker)
	healthChecker.AddComponent("journal", changes)

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("expiry", cfg.JWT.Expiry),
	)

	if store.memory != nil && cfg.Log.Development {
		if err := seedDemo(ctx, store.memory, jwtManager, log); err != nil {
			log.Error("failed to seed demo data", zap.Error(err))
		}
	}

	// 初始化服务层
	// 协程池不跟随信号 ctx 退出，Stop 时把已入队的通知投递完
	workers := pool.NewWorkerPool(cfg.Notifier.Workers, cfg.Notifier.QueueSize, log)
	workers.OnPanic(metrics.RecordPanic)
	workers.Start(context.Background())

	lifecycle := &service.Lifecycle{}
	validator := service.NewSessionValidator(store.directory, store.resolver, lifecycle, metrics, log)
	notifier := service.NewNotifier(changes, workers, service.NotifierConfig{
		Attempts: cfg.Notifier.Attempts,
		Backoff:  cfg.Notifier.Backoff,
		Timeout:  cfg.Notifier.Timeout,
	}, metrics, log)
	engine := service.NewStoreService(
		validator,
		service.NewModseqAllocator(cfg.IMAP.ModseqTimeout),
		notifier,
		service.EngineConfig{
			BatchSize:       cfg.IMAP.BatchSize,
			MaxMailboxFlags: cfg.IMAP.MaxMailboxFlags,
			StreamTimeout:   cfg.IMAP.StreamTimeout,
		},
		metrics,
		log,
	)

	wsHub := websocket.NewHub(websocket.Config{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		CommandRate:    cfg.WebSocket.CommandRate,
		CommandBurst:   cfg.WebSocket.CommandBurst,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		PingInterval:   cfg.WebSocket.PingInterval,
		CondStore:      cfg.IMAP.CondStore,
	}, jwtManager, validator, engine, changes, metrics, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:  cfg,
		Hub:     wsHub,
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine：监听变更日志，退出时向所有会话发送 BYE
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		return wsHub.Run(groupCtx)
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		// 之后的授权校验全部失败，进行中的 STORE 在下一次校验时中止
		lifecycle.BeginShutdown()
		notifier.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
	}

	// 等待排队中的变更通知投递完成
	workers.Stop()

	log.Info("server exited cleanly", zap.Int("sessions", wsHub.ClientCount()))
}
