package websocket

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/session"
)

// 客户端命令
const (
	CommandSelect   = "SELECT"
	CommandExamine  = "EXAMINE"
	CommandStore    = "STORE"
	CommandUIDStore = "UID STORE"
	CommandNoop     = "NOOP"
	CommandLogout   = "LOGOUT"
)

// ResponseType 服务端响应类型
type ResponseType string

const (
	ResponseFetch   ResponseType = "fetch"
	ResponseOK      ResponseType = "ok"
	ResponseNo      ResponseType = "no"
	ResponseBad     ResponseType = "bad"
	ResponseBye     ResponseType = "bye"
	ResponseChanges ResponseType = "changes"
)

// Command 客户端发送的 JSON 命令
type Command struct {
	Tag     string `json:"tag"`
	Command string `json:"command"`

	// SELECT / EXAMINE
	MailboxID string `json:"mailboxId,omitempty"`
	CondStore bool   `json:"condstore,omitempty"`

	// STORE / UID STORE
	Sequence       string   `json:"sequence,omitempty"`
	Item           string   `json:"item,omitempty"`
	Flags          []string `json:"flags,omitempty"`
	UnchangedSince uint64   `json:"unchangedSince,omitempty"`
}

// Name 归一化后的命令名
func (c *Command) Name() string {
	return strings.ToUpper(strings.Join(strings.Fields(c.Command), " "))
}

// MailboxStatus SELECT 成功后返回的邮箱状态
type MailboxStatus struct {
	ID            string   `json:"id"`
	Exists        int      `json:"exists"`
	UIDValidity   uint32   `json:"uidValidity"`
	UIDNext       uint32   `json:"uidNext"`
	HighestModseq uint64   `json:"highestModseq"`
	Flags         []string `json:"flags"`
	ReadOnly      bool     `json:"readOnly"`
	CondStore     bool     `json:"condstore"`
}

// Change 推送给其它会话的单条变更
type Change struct {
	Command domain.ChangeCommand `json:"command"`
	Seq     uint32               `json:"seq,omitempty"`
	UID     uint32               `json:"uid"`
	Modseq  uint64               `json:"modseq"`
	Unseen  bool                 `json:"unseen"`
}

// Response 服务端发送的 JSON 消息
type Response struct {
	Type      ResponseType         `json:"type"`
	Tag       string               `json:"tag,omitempty"`
	Code      string               `json:"code,omitempty"`
	Text      string               `json:"text,omitempty"`
	Fetch     *domain.FlagResponse `json:"fetch,omitempty"`
	Mailbox   *MailboxStatus       `json:"mailbox,omitempty"`
	MailboxID string               `json:"mailboxId,omitempty"`
	Changes   []Change             `json:"changes,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// errBadCommand 命令语法错误，回复 BAD
var errBadCommand = errors.New("bad command")

func badf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadCommand, fmt.Sprintf(format, args...))
}

// parseStore 把 STORE 命令解码为引擎参数，序号按会话视图解析为 UID
func parseStore(cmd *Command, sess *session.Session, byUID bool) (*domain.FlagUpdate, error) {
	if cmd.Sequence == "" {
		return nil, badf("missing sequence set")
	}
	set, err := imap.ParseSeqSet(cmd.Sequence)
	if err != nil {
		return nil, badf("invalid sequence set %q", cmd.Sequence)
	}
	op, silent, err := imap.ParseFlagsOp(imap.StoreItem(strings.ToUpper(strings.TrimSpace(cmd.Item))))
	if err != nil {
		return nil, badf("unsupported store item %q", cmd.Item)
	}
	if err := domain.ValidateFlags(cmd.Flags); err != nil {
		return nil, badf("%v", err)
	}

	return &domain.FlagUpdate{
		UIDs:           sess.Resolve(set, byUID),
		Action:         op,
		Flags:          cmd.Flags,
		UnchangedSince: cmd.UnchangedSince,
		Silent:         silent,
		IsUID:          byUID,
	}, nil
}

// modifiedCode 生成 [MODIFIED set] 响应码。STORE 报告序号，UID STORE 报告 UID。
func modifiedCode(conflicts []uint32, sess *session.Session, byUID bool) string {
	if len(conflicts) == 0 {
		return ""
	}
	set := new(imap.SeqSet)
	for _, uid := range conflicts {
		if byUID {
			set.AddNum(uid)
		} else if seq := sess.SeqOf(uid); seq > 0 {
			set.AddNum(seq)
		}
	}
	if set.Empty() {
		return ""
	}
	return "MODIFIED " + set.String()
}

// disconnects 需要断开会话的错误码
var disconnects = map[domain.Code]bool{
	domain.CodeShutdown:      true,
	domain.CodeSocketClosed:  true,
	domain.CodeDomainInvalid: true,
	domain.CodeAliasInvalid:  true,
	domain.CodeNoIdentity:    true,
}

// errorResponse 把命令失败翻译为客户端响应，第二个返回值表示是否需要断开
func errorResponse(tag string, err error) (*Response, bool) {
	if errors.Is(err, errBadCommand) {
		return &Response{Type: ResponseBad, Tag: tag, Text: err.Error()}, false
	}

	var pe *domain.ProtocolError
	if !errors.As(err, &pe) {
		return &Response{Type: ResponseNo, Tag: tag, Code: string(domain.CodeServerBug), Text: "internal server error"}, false
	}
	switch {
	case disconnects[pe.Code]:
		return &Response{Type: ResponseBye, Code: string(pe.Code), Text: pe.Message}, true
	case pe.Code == domain.CodeUnknownCommand, pe.Code == domain.CodeNotSelected:
		return &Response{Type: ResponseBad, Tag: tag, Code: string(pe.Code), Text: pe.Message}, false
	default:
		return &Response{Type: ResponseNo, Tag: tag, Code: string(pe.Code), Text: pe.Message}, false
	}
}
