package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	maxMessage = 64 * 1024
)

// Client 一个已认证的会话连接。命令在读协程中按顺序执行。
type Client struct {
	ID      string
	sess    *session.Session
	conn    *websocket.Conn
	hub     *Hub
	limiter *rate.Limiter
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte
	closed bool

	pushMu sync.Mutex // 串行化日志游标的读取与推进
}

// Session 返回连接对应的会话
func (c *Client) Session() *session.Session { return c.sess }

// readPump 读取并执行客户端命令
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendResponse(&Response{Type: ResponseBad, Text: "malformed command"})
			continue
		}
		if !c.limiter.Allow() {
			c.hub.metrics.RecordRateLimitBlock()
			c.sendResponse(&Response{Type: ResponseBad, Tag: cmd.Tag, Text: "command rate exceeded"})
			continue
		}
		if !c.handleCommand(&cmd) {
			return
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close 标记会话关闭并结束写协程，可重复调用
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.sess.MarkClosed()
	c.cancel()
	close(c.send)
}

// sendResponse 发送消息给客户端，缓冲区满时丢弃
func (c *Client) sendResponse(resp *Response) {
	resp.Timestamp = time.Now()
	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("failed to marshal response", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("type", string(resp.Type)))
	}
}

// handleCommand 执行一条命令，返回 false 表示连接应当结束
func (c *Client) handleCommand(cmd *Command) bool {
	var err error
	switch name := cmd.Name(); name {
	case CommandSelect, CommandExamine:
		err = c.handleSelect(cmd, name)
	case CommandStore, CommandUIDStore:
		err = c.handleStore(cmd, name == CommandUIDStore)
	case CommandNoop:
		c.pushChanges(c.ctx)
		c.sendResponse(&Response{Type: ResponseOK, Tag: cmd.Tag, Text: "NOOP completed"})
	case CommandLogout:
		c.sendResponse(&Response{Type: ResponseBye, Text: "logging out"})
		c.sendResponse(&Response{Type: ResponseOK, Tag: cmd.Tag, Text: "LOGOUT completed"})
		return false
	default:
		err = badf("unknown command %q", cmd.Command)
	}
	if err == nil {
		return true
	}

	resp, disconnect := errorResponse(cmd.Tag, err)
	if resp.Code == string(domain.CodeServerBug) {
		c.log.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
	}
	c.sendResponse(resp)
	return !disconnect
}

func (c *Client) handleSelect(cmd *Command, name string) error {
	if cmd.MailboxID == "" {
		return badf("missing mailboxId")
	}
	auth, err := c.hub.validator.Revalidate(c.ctx, c.sess, name)
	if err != nil {
		return err
	}

	mailbox, err := auth.Store.GetMailbox(c.ctx, cmd.MailboxID)
	if err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			return domain.ErrNonExistent
		}
		return err
	}
	if mailbox.AliasID != auth.Alias.ID {
		return domain.ErrNonExistent
	}
	// 先记下日志位置再读 UID 列表，之间发生的变更至少推送一次
	cursor := c.journalPosition(mailbox.ID)
	uids, err := auth.Store.ListUIDs(c.ctx, mailbox.ID)
	if err != nil {
		return err
	}

	sel := &session.Selected{
		MailboxID:     mailbox.ID,
		ReadOnly:      name == CommandExamine,
		CondStore:     cmd.CondStore || c.hub.cfg.CondStore,
		UIDValidity:   mailbox.UIDValidity,
		JournalCursor: cursor,
	}
	c.sess.Select(sel, uids)

	flags := mailbox.Flags
	if flags == nil {
		flags = []string{}
	}
	c.sendResponse(&Response{
		Type: ResponseOK,
		Tag:  cmd.Tag,
		Text: name + " completed",
		Mailbox: &MailboxStatus{
			ID:            mailbox.ID,
			Exists:        len(uids),
			UIDValidity:   mailbox.UIDValidity,
			UIDNext:       mailbox.UIDNext,
			HighestModseq: mailbox.ModifyIndex,
			Flags:         flags,
			ReadOnly:      sel.ReadOnly,
			CondStore:     sel.CondStore,
		},
	})
	return nil
}

func (c *Client) handleStore(cmd *Command, byUID bool) error {
	sel := c.sess.Selected()
	if sel == nil {
		return domain.ErrNotSelected
	}
	if sel.ReadOnly {
		return domain.ErrReadOnly
	}
	update, err := parseStore(cmd, c.sess, byUID)
	if err != nil {
		return err
	}
	// UNCHANGEDSINCE 隐式启用 CONDSTORE
	if update.UnchangedSince > 0 {
		c.sess.EnableCondStore()
	}

	conflicts, err := c.hub.engine.ApplyFlagUpdate(c.ctx, sel.MailboxID, update, c.sess, func(r domain.FlagResponse) {
		c.sendResponse(&Response{Type: ResponseFetch, Fetch: &r})
	})
	if err != nil {
		return err
	}

	name := CommandStore
	if byUID {
		name = CommandUIDStore
	}
	c.sendResponse(&Response{
		Type: ResponseOK,
		Tag:  cmd.Tag,
		Code: modifiedCode(conflicts, c.sess, byUID),
		Text: name + " completed",
	})
	return nil
}

// journalPosition 返回邮箱日志的当前末尾，日志不可用时从头读取
func (c *Client) journalPosition(mailboxID string) string {
	if c.hub.journal == nil {
		return ""
	}
	pos, err := c.hub.journal.Position(c.ctx, mailboxID)
	if err != nil {
		c.log.Warn("failed to read journal position",
			zap.String("mailbox", mailboxID),
			zap.Error(err))
		return ""
	}
	return pos
}

// pushChanges 把选中邮箱中本会话尚未看到的变更推送给客户端，跳过本会话自己产生的条目。
// 按日志追加顺序读取，不按 modseq 截断。
func (c *Client) pushChanges(ctx context.Context) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	sel := c.sess.Selected()
	if sel == nil || c.hub.journal == nil || !c.sess.IsOpen() {
		return
	}
	entries, next, err := c.hub.journal.ListEntries(ctx, sel.MailboxID, c.sess.JournalCursor())
	if err != nil {
		c.log.Warn("failed to list journal entries",
			zap.String("mailbox", sel.MailboxID),
			zap.Error(err))
		return
	}

	var changes []Change
	for _, e := range entries {
		if e.IgnoreSession == c.sess.ID {
			continue
		}
		switch e.Command {
		case domain.ChangeExists:
			c.sess.AppendUID(e.UID)
		case domain.ChangeFetch:
			if !c.sess.KnowsUID(e.UID) {
				continue
			}
		default:
			continue
		}
		changes = append(changes, Change{
			Command: e.Command,
			Seq:     c.sess.SeqOf(e.UID),
			UID:     e.UID,
			Modseq:  e.Modseq,
			Unseen:  e.Unseen,
		})
	}
	c.sess.SetJournalCursor(sel.MailboxID, next)
	if len(changes) == 0 {
		return
	}
	c.sendResponse(&Response{Type: ResponseChanges, MailboxID: sel.MailboxID, Changes: changes})
}
