package domain

import (
	"errors"
	"fmt"
)

// 存储层通用错误
var (
	ErrMailboxNotFound = errors.New("mailbox not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrDomainNotFound  = errors.New("domain not found")
	ErrAliasNotFound   = errors.New("alias not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Code 协议层可见的错误码，由前端翻译成客户端响应
type Code string

const (
	CodeNonExistent    Code = "NONEXISTENT"
	CodeShutdown       Code = "SHUTDOWN"
	CodeSocketClosed   Code = "SOCKET_CLOSED"
	CodeDomainInvalid  Code = "DOMAIN_INVALID"
	CodeAliasInvalid   Code = "ALIAS_INVALID"
	CodeUnknownCommand Code = "UNKNOWN_COMMAND"
	CodeNoIdentity     Code = "NO_IDENTITY"
	CodeNotSelected    Code = "NOT_SELECTED"
	CodeReadOnly       Code = "READ-ONLY"
	CodeServerBug      Code = "SERVERBUG"
)

// ProtocolError 需要明确告知客户端原因的失败
type ProtocolError struct {
	Code    Code
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is 按错误码匹配，便于 errors.Is(err, domain.ErrShutdown) 之类的判断
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Code == e.Code
}

// NewProtocolError 构造协议错误
func NewProtocolError(code Code, message string, err error) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Err: err}
}

// 用于 errors.Is 匹配的哨兵值
var (
	ErrNonExistent    = &ProtocolError{Code: CodeNonExistent, Message: "mailbox does not exist"}
	ErrShutdown       = &ProtocolError{Code: CodeShutdown, Message: "server shutting down"}
	ErrSocketClosed   = &ProtocolError{Code: CodeSocketClosed, Message: "socket closed"}
	ErrDomainInvalid  = &ProtocolError{Code: CodeDomainInvalid, Message: "domain not valid"}
	ErrAliasInvalid   = &ProtocolError{Code: CodeAliasInvalid, Message: "alias not valid"}
	ErrUnknownCommand = &ProtocolError{Code: CodeUnknownCommand, Message: "unknown command"}
	ErrNoIdentity     = &ProtocolError{Code: CodeNoIdentity, Message: "session has no identity"}
	ErrNotSelected    = &ProtocolError{Code: CodeNotSelected, Message: "no mailbox selected"}
	ErrReadOnly       = &ProtocolError{Code: CodeReadOnly, Message: "mailbox opened read-only"}
)

// CodeOf 提取错误码，非协议错误返回 CodeServerBug
func CodeOf(err error) Code {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeServerBug
}
