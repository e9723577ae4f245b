// Package migrations 内嵌各数据库的建表脚本，供 cmd/migrate 与 pgx 存储共用
package migrations

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed mysql/*.sql postgres/*.sql
var files embed.FS

// 支持的方向
const (
	Up   = "up"
	Down = "down"
)

// Load 读取指定数据库类型与方向的迁移脚本
func Load(dbType, action string) (string, error) {
	if dbType != "mysql" && dbType != "postgres" {
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
	if action != Up && action != Down {
		return "", fmt.Errorf("unsupported migration action: %s", action)
	}
	content, err := files.ReadFile(fmt.Sprintf("%s/001_initial_schema.%s.sql", dbType, action))
	if err != nil {
		return "", fmt.Errorf("failed to read migration: %w", err)
	}
	return string(content), nil
}

// Statements 分割SQL语句（按分号分割，忽略字符串中的分号，去掉整行注释）
func Statements(sql string) []string {
	var statements []string
	var current strings.Builder
	var inString bool
	var stringChar rune

	flush := func() {
		if stmt := stripComments(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, r := range sql {
		switch {
		case r == '\'' || r == '"' || r == '`':
			if !inString {
				inString = true
				stringChar = r
			} else if r == stringChar {
				inString = false
			}
			current.WriteRune(r)
		case r == ';' && !inString:
			current.WriteRune(r)
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return statements
}

func stripComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
