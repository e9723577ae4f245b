package domain

import (
	"github.com/emersion/go-imap"
)

// FlagUpdate 一次 STORE 命令解码后的结构化参数。
//
// UIDs 为目标消息的 UID 列表（前端已按会话视图把序号解析为 UID）。
// UnchangedSince 为 0 表示未使用 CONDSTORE 前置条件。
type FlagUpdate struct {
	UIDs           []uint32
	Action         imap.FlagsOp
	Flags          []string
	UnchangedSince uint64
	Silent         bool
	IsUID          bool
}

// FlagResponse STORE 过程中逐条推送给客户端的 FETCH 响应
type FlagResponse struct {
	Seq    uint32   `json:"seq"`
	UID    uint32   `json:"uid,omitempty"`
	Flags  []string `json:"flags"`
	Modseq uint64   `json:"modseq,omitempty"`
}
