package main

import (
	"flag"
	"fmt"
	"os"

	jwtpkg "mailhub/backend/internal/auth/jwt"
	"mailhub/backend/internal/config"
	"mailhub/backend/internal/domain"
)

// issue-token 为指定别名签发会话令牌，供 WebSocket 客户端连接 /ws 使用
func main() {
	aliasID := flag.String("alias", "", "别名 ID")
	domainID := flag.String("domain", "", "别名所属域名 ID")
	address := flag.String("address", "", "别名地址（可选）")
	flag.Parse()

	if *aliasID == "" || *domainID == "" {
		fmt.Println("用法:")
		fmt.Println("  go run cmd/issue-token/main.go -alias=<alias-id> -domain=<domain-id> [-address=user@example.com]")
		os.Exit(1)
	}

	alias := &domain.Alias{ID: *aliasID, DomainID: *domainID, Address: *address}
	if *address != "" {
		if err := domain.ValidateAddress(*address); err != nil {
			fmt.Printf("错误: 无效的别名地址: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 无法加载配置: %v\n", err)
		os.Exit(1)
	}

	token, err := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry).Issue(alias)
	if err != nil {
		fmt.Printf("错误: 签发令牌失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ 令牌有效期 %s\n", cfg.JWT.Expiry)
	fmt.Println(token)
}
