package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/monitoring"
	"mailhub/backend/internal/session"
)

// revalidatedCommands 需要在执行前重新校验授权的命令
var revalidatedCommands = map[string]bool{
	"SELECT":      true,
	"EXAMINE":     true,
	"STORE":       true,
	"UID STORE":   true,
	"COPY":        true,
	"UID COPY":    true,
	"MOVE":        true,
	"UID MOVE":    true,
	"EXPUNGE":     true,
	"UID EXPUNGE": true,
	"APPEND":      true,
	"CREATE":      true,
	"DELETE":      true,
	"RENAME":      true,
	"SUBSCRIBE":   true,
	"UNSUBSCRIBE": true,
}

// Lifecycle 服务器级别的关闭标志
type Lifecycle struct {
	closing atomic.Bool
}

// BeginShutdown 进入关闭流程，之后所有授权校验都会失败
func (l *Lifecycle) BeginShutdown() { l.closing.Store(true) }

// ShuttingDown 是否处于关闭流程中
func (l *Lifecycle) ShuttingDown() bool { return l.closing.Load() }

// Authorization 重新校验后的授权结果
type Authorization struct {
	Alias  *domain.Alias
	Domain *domain.Domain
	Owner  *domain.User
	Store  domain.MailStore
}

// SessionValidator 在每个特权命令执行前重新推导会话授权
type SessionValidator struct {
	directory domain.Directory
	shards    domain.ShardResolver
	lifecycle *Lifecycle
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewSessionValidator 创建授权校验器
func NewSessionValidator(directory domain.Directory, shards domain.ShardResolver, lifecycle *Lifecycle, metrics *monitoring.Metrics, log *zap.Logger) *SessionValidator {
	if log == nil {
		log = zap.NewNop()
	}
	if lifecycle == nil {
		lifecycle = &Lifecycle{}
	}
	return &SessionValidator{
		directory: directory,
		shards:    shards,
		lifecycle: lifecycle,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Revalidate 从存储重新读取域名、别名与所有者记录并校验，不复用会话缓存的副本。
func (v *SessionValidator) Revalidate(ctx context.Context, sess *session.Session, command string) (*Authorization, error) {
	auth, err := v.revalidate(ctx, sess, command)
	if err != nil {
		code := domain.CodeOf(err)
		v.metrics.RevalidationFailed(string(code))
		v.log.Info("session revalidation failed",
			zap.String("session", sess.ID),
			zap.String("command", command),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		return nil, err
	}
	return auth, nil
}

func (v *SessionValidator) revalidate(ctx context.Context, sess *session.Session, command string) (*Authorization, error) {
	if !revalidatedCommands[strings.ToUpper(command)] {
		return nil, domain.NewProtocolError(domain.CodeUnknownCommand, "command not subject to revalidation: "+command, nil)
	}
	if v.lifecycle.ShuttingDown() {
		return nil, domain.ErrShutdown
	}
	if !sess.IsOpen() {
		return nil, domain.ErrSocketClosed
	}
	if sess.AliasID == "" || sess.DomainID == "" {
		return nil, domain.ErrNoIdentity
	}

	dom, owner, err := v.loadDomain(ctx, sess.DomainID)
	if err != nil {
		return nil, err
	}
	alias, err := v.loadAlias(ctx, sess.AliasID, dom)
	if err != nil {
		return nil, err
	}

	return &Authorization{
		Alias:  alias,
		Domain: dom,
		Owner:  owner,
		Store:  v.shards.ForAlias(alias),
	}, nil
}

// loadDomain 校验域名存在、未停用、套餐未过期且所有者未被封禁
func (v *SessionValidator) loadDomain(ctx context.Context, domainID string) (*domain.Domain, *domain.User, error) {
	dom, err := v.directory.GetDomain(ctx, domainID)
	if err != nil {
		if errors.Is(err, domain.ErrDomainNotFound) {
			return nil, nil, domain.NewProtocolError(domain.CodeDomainInvalid, "domain does not exist", err)
		}
		return nil, nil, err
	}
	switch {
	case dom.Status != domain.DomainStatusVerified:
		return nil, nil, domain.NewProtocolError(domain.CodeDomainInvalid, "domain not verified", nil)
	case !dom.IsActive:
		return nil, nil, domain.NewProtocolError(domain.CodeDomainInvalid, "domain suspended", nil)
	case dom.PlanExpired(v.now()):
		return nil, nil, domain.NewProtocolError(domain.CodeDomainInvalid, "domain plan expired", nil)
	}

	owner, err := v.directory.GetUser(ctx, dom.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil, domain.NewProtocolError(domain.CodeDomainInvalid, "domain owner does not exist", err)
		}
		return nil, nil, err
	}
	if owner.IsBanned || !owner.IsActive {
		return nil, nil, domain.NewProtocolError(domain.CodeDomainInvalid, "domain owner banned", nil)
	}
	return dom, owner, nil
}

// loadAlias 校验别名存在、属于该域名且处于启用状态
func (v *SessionValidator) loadAlias(ctx context.Context, aliasID string, dom *domain.Domain) (*domain.Alias, error) {
	alias, err := v.directory.GetAlias(ctx, aliasID)
	if err != nil {
		if errors.Is(err, domain.ErrAliasNotFound) {
			return nil, domain.NewProtocolError(domain.CodeAliasInvalid, "alias does not exist", err)
		}
		return nil, err
	}
	if alias.DomainID != dom.ID {
		return nil, domain.NewProtocolError(domain.CodeAliasInvalid, "alias moved to another domain", nil)
	}
	if !alias.IsActive {
		return nil, domain.NewProtocolError(domain.CodeAliasInvalid, "alias suspended", nil)
	}
	return alias, nil
}
