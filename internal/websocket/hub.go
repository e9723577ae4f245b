package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	jwtpkg "mailhub/backend/internal/auth/jwt"
	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/monitoring"
	"mailhub/backend/internal/service"
	"mailhub/backend/internal/session"
)

// Authorizer 特权命令执行前的授权重校验
type Authorizer interface {
	Revalidate(ctx context.Context, sess *session.Session, command string) (*service.Authorization, error)
}

// FlagEngine 标志更新引擎
type FlagEngine interface {
	ApplyFlagUpdate(ctx context.Context, mailboxID string, update *domain.FlagUpdate, sess *session.Session, respond service.Responder) ([]uint32, error)
}

// TokenValidator 会话令牌校验
type TokenValidator interface {
	ValidateToken(token string) (*jwtpkg.Claims, error)
}

// Config 会话前端配置
type Config struct {
	AllowedOrigins []string
	CommandRate    float64 // 每秒命令数，<= 0 表示不限
	CommandBurst   int
	SendBuffer     int
	PingInterval   time.Duration
	CondStore      bool // SELECT 时默认启用 CONDSTORE
}

// 推送变更时读取日志的超时
const pushTimeout = 5 * time.Second

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// Hub 管理所有会话连接，并把变更日志的唤醒分发给对应别名的会话
type Hub struct {
	clients map[string]*Client // clientID -> Client
	mu      sync.RWMutex
	log     *zap.Logger
	cfg     Config

	tokens    TokenValidator
	validator Authorizer
	engine    FlagEngine
	journal   domain.ChangeJournal
	metrics   *monitoring.Metrics
}

// NewHub 创建会话 Hub
func NewHub(cfg Config, tokens TokenValidator, validator Authorizer, engine FlagEngine, journal domain.ChangeJournal, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:   make(map[string]*Client),
		log:       log,
		cfg:       cfg,
		tokens:    tokens,
		validator: validator,
		engine:    engine,
		journal:   journal,
		metrics:   metrics,
	}
}

// Run 监听变更日志直到 ctx 结束，然后向所有会话发送 BYE
func (h *Hub) Run(ctx context.Context) error {
	defer h.Shutdown("server shutting down")

	if h.journal == nil {
		<-ctx.Done()
		return nil
	}
	err := h.journal.Listen(ctx, h.onFire)
	if err != nil && ctx.Err() == nil {
		h.log.Error("change journal listener stopped", zap.Error(err))
		return err
	}
	h.log.Info("websocket hub stopped")
	return nil
}

// onFire 别名被唤醒时向其所有已选中邮箱的会话推送变更
func (h *Hub) onFire(aliasID string) {
	for _, client := range h.clientsForAlias(aliasID) {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		client.pushChanges(ctx)
		cancel()
	}
}

func (h *Hub) clientsForAlias(aliasID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for _, c := range h.clients {
		if c.sess.AliasID == aliasID {
			out = append(out, c)
		}
	}
	return out
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.metrics.SessionOpened()
	h.log.Info("client registered",
		zap.String("clientID", c.ID),
		zap.String("aliasID", c.sess.AliasID))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.close()
	if ok {
		h.metrics.SessionClosed()
		h.log.Info("client unregistered", zap.String("clientID", c.ID))
	}
}

// Shutdown 向所有会话发送 BYE 并关闭连接
func (h *Hub) Shutdown(reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.sendResponse(&Response{Type: ResponseBye, Code: string(domain.CodeShutdown), Text: reason})
		c.close()
	}
}

// authenticate 从 URL 参数或 Authorization 头读取并校验会话令牌
func (h *Hub) authenticate(c *gin.Context) (*session.Session, error) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
	}
	if token == "" {
		return nil, errors.New("missing authentication token")
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return session.New(claims.AliasID(), claims.DomainID, claims.Address), nil
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.cfg.AllowedOrigins)

	return func(c *gin.Context) {
		sess, err := hub.authenticate(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		limit := rate.Inf
		if hub.cfg.CommandRate > 0 {
			limit = rate.Limit(hub.cfg.CommandRate)
		}
		ctx, cancel := context.WithCancel(context.Background())
		client := &Client{
			ID:      sess.ID,
			sess:    sess,
			conn:    conn,
			hub:     hub,
			send:    make(chan []byte, hub.cfg.SendBuffer),
			limiter: rate.NewLimiter(limit, hub.cfg.CommandBurst),
			ctx:     ctx,
			cancel:  cancel,
			log:     hub.log.With(zap.String("clientID", sess.ID)),
		}

		hub.register(client)

		go client.writePump()
		go client.readPump()
	}
}
