package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	jwtpkg "mailhub/backend/internal/auth/jwt"
	"mailhub/backend/internal/domain"
)

// seeder 开发数据写入接口
type seeder interface {
	CreateUser(ctx context.Context, u *domain.User) error
	CreateDomain(ctx context.Context, d *domain.Domain) error
	CreateAlias(ctx context.Context, a *domain.Alias) error
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	CreateMessage(ctx context.Context, msg *domain.Message) error
}

// seedDemo 创建演示租户、INBOX 与 Trash，并签发一个会话令牌（仅用于开发测试）
func seedDemo(ctx context.Context, store seeder, tokens *jwtpkg.Manager, log *zap.Logger) error {
	now := time.Now().UTC()

	owner := &domain.User{ID: "demo-owner", Email: "owner@mailhub.local", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateUser(ctx, owner); err != nil {
		return fmt.Errorf("failed to create demo owner: %w", err)
	}
	dom := &domain.Domain{
		ID:        "demo-domain",
		Name:      "mailhub.local",
		OwnerID:   owner.ID,
		Status:    domain.DomainStatusVerified,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateDomain(ctx, dom); err != nil {
		return fmt.Errorf("failed to create demo domain: %w", err)
	}
	alias := &domain.Alias{ID: "demo-alias", DomainID: dom.ID, Address: "demo@mailhub.local", IsActive: true, CreatedAt: now}
	if err := store.CreateAlias(ctx, alias); err != nil {
		return fmt.Errorf("failed to create demo alias: %w", err)
	}

	inbox := &domain.Mailbox{AliasID: alias.ID, Path: "INBOX", Subscribed: true}
	trash := &domain.Mailbox{AliasID: alias.ID, Path: "Trash", SpecialUse: domain.SpecialUseTrash, Subscribed: true}
	for _, mb := range []*domain.Mailbox{inbox, trash} {
		if err := store.CreateMailbox(ctx, mb); err != nil {
			return fmt.Errorf("failed to create mailbox %s: %w", mb.Path, err)
		}
	}

	samples := [][]string{
		nil,
		{domain.FlagSeen},
		{domain.FlagSeen, domain.FlagFlagged},
		{domain.FlagDraft},
		{domain.FlagSeen, "$Label1"},
	}
	for _, flags := range samples {
		if err := store.CreateMessage(ctx, &domain.Message{MailboxID: inbox.ID, Flags: flags}); err != nil {
			return fmt.Errorf("failed to create demo message: %w", err)
		}
	}
	if err := store.CreateMessage(ctx, &domain.Message{MailboxID: trash.ID, Flags: []string{domain.FlagDeleted}}); err != nil {
		return fmt.Errorf("failed to create demo message: %w", err)
	}

	token, err := tokens.Issue(alias)
	if err != nil {
		return err
	}
	log.Warn("demo tenant created (development only)",
		zap.String("alias", alias.Address),
		zap.String("inbox", inbox.ID),
		zap.String("trash", trash.ID),
		zap.String("token", token),
	)
	return nil
}
