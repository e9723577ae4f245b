package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrInvalidFlag      = errors.New("invalid flag name")
	ErrFlagTooLong      = errors.New("flag name too long")
	ErrTooManyFlags     = errors.New("too many flags in one command")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度

	// 单个标志名与单条命令的标志数量限制
	MaxFlagLength     = 128
	MaxFlagsPerUpdate = 64
)

// 正则表达式
var (
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)
)

// systemFlags 允许以反斜杠开头的标志
var systemFlags = map[string]bool{
	flagKey(FlagSeen):     true,
	flagKey(FlagAnswered): true,
	flagKey(FlagFlagged):  true,
	flagKey(FlagDeleted):  true,
	flagKey(FlagDraft):    true,
}

// ValidateAddress 验证别名地址
func ValidateAddress(address string) error {
	address = strings.TrimSpace(strings.ToLower(address))

	if len(address) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return ErrInvalidEmail
	}
	local, host := address[:at], address[at+1:]

	if len(local) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(local) || strings.Contains(local, "..") {
		return ErrInvalidLocalPart
	}
	return ValidateDomainName(host)
}

// ValidateDomainName 验证域名
func ValidateDomainName(name string) error {
	if name == "" || !strings.Contains(name, ".") {
		return ErrInvalidDomain
	}
	if len(name) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(name) {
		return ErrInvalidDomain
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return ErrInvalidDomain
		}
	}
	return nil
}

// ValidateFlag 验证标志名：系统标志或不含特殊字符的关键字（RFC 3501 atom）
func ValidateFlag(flag string) error {
	if flag == "" {
		return ErrInvalidFlag
	}
	if len(flag) > MaxFlagLength {
		return ErrFlagTooLong
	}
	if strings.HasPrefix(flag, "\\") {
		if !systemFlags[flagKey(flag)] {
			return ErrInvalidFlag
		}
		return nil
	}
	for _, r := range flag {
		if r <= 0x20 || r >= 0x7f {
			return ErrInvalidFlag
		}
		switch r {
		case '(', ')', '{', '%', '*', '"', '\\', ']':
			return ErrInvalidFlag
		}
	}
	return nil
}

// ValidateFlags 验证一条命令携带的全部标志
func ValidateFlags(flags []string) error {
	if len(flags) > MaxFlagsPerUpdate {
		return ErrTooManyFlags
	}
	for _, f := range flags {
		if err := ValidateFlag(f); err != nil {
			return err
		}
	}
	return nil
}

// Validate 验证别名记录
func (a *Alias) Validate() error {
	if a.DomainID == "" {
		return ErrInvalidDomain
	}
	return ValidateAddress(a.Address)
}
