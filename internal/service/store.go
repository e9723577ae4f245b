package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"go.uber.org/zap"

	"mailhub/backend/internal/domain"
	"mailhub/backend/internal/monitoring"
	"mailhub/backend/internal/session"
)

// DefaultStreamTimeout 单次 STORE 游标的最长存活时间
const DefaultStreamTimeout = 2 * time.Minute

// EngineConfig 标志更新引擎配置
type EngineConfig struct {
	BatchSize       int
	MaxMailboxFlags int
	StreamTimeout   time.Duration
}

// Responder 接收逐条生成的 FETCH 响应，在命令执行期间同步调用
type Responder func(domain.FlagResponse)

// StoreService 标志更新引擎（STORE / UID STORE）
type StoreService struct {
	validator *SessionValidator
	modseq    *ModseqAllocator
	notifier  *Notifier
	cfg       EngineConfig
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewStoreService 创建标志更新引擎
func NewStoreService(validator *SessionValidator, modseq *ModseqAllocator, notifier *Notifier, cfg EngineConfig, metrics *monitoring.Metrics, log *zap.Logger) *StoreService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxMailboxFlags <= 0 {
		cfg.MaxMailboxFlags = domain.MaxMailboxFlags
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	if modseq == nil {
		modseq = NewModseqAllocator(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StoreService{
		validator: validator,
		modseq:    modseq,
		notifier:  notifier,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
	}
}

// storeRun 单次 STORE 调用的可变状态
type storeRun struct {
	svc     *StoreService
	store   domain.MailStore
	alias   *domain.Alias
	mailbox *domain.Mailbox
	sess    *session.Session
	update  *domain.FlagUpdate
	flags   []string
	respond Responder

	condstore bool
	known     map[uint32]struct{}
	batch     *Batcher
	entries   []domain.ChangeEntry
	modseq    uint64

	conflicts []uint32
	updated   int
	unchanged int
}

// ApplyFlagUpdate 对会话选中范围内的邮件执行标志修改，返回因 UNCHANGEDSINCE 冲突而跳过的 UID。
//
// 已提交的批次在后续出错时不会回滚：命令整体报告失败，但之前的进度保留并已通知。
func (s *StoreService) ApplyFlagUpdate(ctx context.Context, mailboxID string, update *domain.FlagUpdate, sess *session.Session, respond Responder) ([]uint32, error) {
	start := time.Now()
	conflicts, err := s.applyFlagUpdate(ctx, mailboxID, update, sess, respond)
	outcome := "ok"
	switch {
	case err != nil && domain.CodeOf(err) != domain.CodeServerBug:
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	case len(conflicts) > 0:
		outcome = "conflict"
	}
	s.metrics.RecordStore(outcome, time.Since(start))
	return conflicts, err
}

func (s *StoreService) applyFlagUpdate(ctx context.Context, mailboxID string, update *domain.FlagUpdate, sess *session.Session, respond Responder) ([]uint32, error) {
	command := "STORE"
	if update.IsUID {
		command = "UID STORE"
	}
	auth, err := s.validator.Revalidate(ctx, sess, command)
	if err != nil {
		return nil, err
	}

	mailbox, err := auth.Store.GetMailbox(ctx, mailboxID)
	if err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			return nil, domain.ErrNonExistent
		}
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	if mailbox.AliasID != auth.Alias.ID {
		return nil, domain.ErrNonExistent
	}

	if respond == nil {
		respond = func(domain.FlagResponse) {}
	}
	run := &storeRun{
		svc:       s,
		store:     auth.Store,
		alias:     auth.Alias,
		mailbox:   mailbox,
		sess:      sess,
		update:    update,
		flags:     domain.SanitizeFlags(update.Flags),
		respond:   respond,
		condstore: sess.CondStoreEnabled(),
		batch:     NewBatcher(auth.Store, s.cfg.BatchSize),
	}

	if len(update.UIDs) > 0 {
		if err := run.execute(ctx); err != nil {
			return nil, err
		}
	}

	if update.Action != imap.RemoveFlags {
		if err := run.extendVocabulary(ctx); err != nil {
			return nil, err
		}
	}

	s.metrics.RecordMessages(run.updated, len(run.conflicts), run.unchanged)
	return run.conflicts, nil
}

// query 构造游标查询。目标覆盖会话已知的全部邮件时不在存储侧按 UID 过滤，
// 改为迭代时丢弃会话视图之外的邮件（其它会话并发投递的新邮件）。
func (r *storeRun) query() domain.MessageQuery {
	q := domain.MessageQuery{MailboxID: r.mailbox.ID}
	knownUIDs := r.sess.UIDs()
	if len(r.update.UIDs) == len(knownUIDs) {
		r.known = make(map[uint32]struct{}, len(knownUIDs))
		for _, uid := range knownUIDs {
			r.known[uid] = struct{}{}
		}
		return q
	}
	set := new(imap.SeqSet)
	set.AddNum(r.update.UIDs...)
	q.UIDs = set
	return q
}

// execute 流式处理目标邮件，出错时先释放游标并提交已暂存的写入，再返回错误
func (r *storeRun) execute(ctx context.Context) (err error) {
	streamCtx, cancel := context.WithTimeout(ctx, r.svc.cfg.StreamTimeout)
	defer cancel()

	cursor, err := r.store.StreamMessages(streamCtx, r.query())
	if err != nil {
		r.logStorageError("open message cursor", err)
		return fmt.Errorf("stream messages: %w", err)
	}

	var streamErr error
	for cursor.Next() {
		if streamErr = r.process(ctx, cursor.Message()); streamErr != nil {
			break
		}
	}
	if streamErr == nil {
		if cerr := cursor.Err(); cerr != nil {
			streamErr = fmt.Errorf("read message cursor: %w", cerr)
		}
	}
	if cerr := cursor.Close(); cerr != nil {
		r.svc.log.Warn("failed to close message cursor", zap.String("mailbox", r.mailbox.ID), zap.Error(cerr))
	}

	flushErr := r.flush(ctx)
	if streamErr != nil {
		if !isProtocolError(streamErr) {
			r.logStorageError("store aborted", streamErr)
		}
		return streamErr
	}
	if flushErr != nil {
		r.logStorageError("final flush", flushErr)
		return flushErr
	}
	return nil
}

// process 处理单封邮件：冲突检测、计算新标志、派生字段、暂存写入与变更条目
func (r *storeRun) process(ctx context.Context, msg *domain.Message) error {
	if r.known != nil {
		if _, ok := r.known[msg.UID]; !ok {
			return nil
		}
	}

	if r.update.UnchangedSince > 0 && msg.Modseq > r.update.UnchangedSince {
		r.conflicts = append(r.conflicts, msg.UID)
		return nil
	}

	if !r.apply(msg) {
		r.unchanged++
		return nil
	}

	if r.modseq == 0 {
		modseq, err := r.svc.modseq.Next(ctx, r.store, r.mailbox.ID, r.alias.ID)
		if err != nil {
			return err
		}
		r.svc.metrics.RecordModseq()
		r.modseq = modseq
	}
	msg.Modseq = r.modseq
	r.updated++

	if !r.update.Silent || r.condstore {
		resp := domain.FlagResponse{
			Seq:   r.sess.SeqOf(msg.UID),
			Flags: append([]string(nil), msg.Flags...),
		}
		if r.update.IsUID {
			resp.UID = msg.UID
		}
		if r.condstore {
			resp.Modseq = r.modseq
		}
		r.respond(resp)
	}

	r.entries = append(r.entries, domain.ChangeEntry{
		Command:       domain.ChangeFetch,
		UID:           msg.UID,
		MessageID:     msg.ID,
		MailboxID:     r.mailbox.ID,
		ThreadID:      msg.ThreadID,
		Modseq:        r.modseq,
		Unseen:        msg.Unseen,
		InternalDate:  msg.InternalDate,
		IgnoreSession: r.sess.ID,
	})

	full := r.batch.Add(domain.MessageWrite{
		MessageID:  msg.ID,
		MailboxID:  r.mailbox.ID,
		UID:        msg.UID,
		Modseq:     r.modseq,
		Flags:      msg.Flags,
		Unseen:     msg.Unseen,
		Flagged:    msg.Flagged,
		Undeleted:  msg.Undeleted,
		Draft:      msg.Draft,
		Searchable: msg.Searchable,
	})
	if full {
		return r.flush(ctx)
	}
	return nil
}

// apply 按动作修改 msg 的标志与派生字段，返回是否有实际变化
func (r *storeRun) apply(msg *domain.Message) bool {
	current := domain.NewFlagSet(msg.Flags...)

	switch r.update.Action {
	case imap.SetFlags:
		next := domain.NewFlagSet(r.flags...)
		if next.Equal(current) {
			return false
		}
		msg.Flags = next.List()
		msg.Derive(r.mailbox)
		return true

	case imap.AddFlags:
		changed := false
		for _, f := range r.flags {
			if current.Add(f) {
				changed = true
				r.toggle(msg, f, true)
			}
		}
		if changed {
			msg.Flags = current.List()
		}
		return changed

	case imap.RemoveFlags:
		changed := false
		for _, f := range r.flags {
			if current.Remove(f) {
				changed = true
				r.toggle(msg, f, false)
			}
		}
		if changed {
			msg.Flags = current.List()
		}
		return changed
	}
	return false
}

// toggle 根据单个标志的增减增量更新派生字段
func (r *storeRun) toggle(msg *domain.Message, flag string, present bool) {
	switch {
	case strings.EqualFold(flag, domain.FlagSeen):
		msg.Unseen = !present
	case strings.EqualFold(flag, domain.FlagFlagged):
		msg.Flagged = present
	case strings.EqualFold(flag, domain.FlagDraft):
		msg.Draft = present
	case strings.EqualFold(flag, domain.FlagDeleted):
		msg.Undeleted = !present
		if present {
			msg.Searchable = false
		} else {
			msg.Searchable = !r.mailbox.HidesUndeleted()
		}
	}
}

// flush 提交当前批次并把对应变更交给通知器。通知失败不影响结果。
func (r *storeRun) flush(ctx context.Context) error {
	if r.batch.Len() == 0 {
		return nil
	}
	res, err := r.batch.Flush(ctx)
	if res != nil {
		r.svc.metrics.RecordFlush(res.Submitted, res.Matched)
	}

	entries := r.entries
	r.entries = nil
	r.svc.notifier.Notify(r.alias.ID, r.mailbox.ID, entries)

	return err
}

// extendVocabulary 把客户端提供的新标志登记到邮箱标志表，总数不超过上限
func (r *storeRun) extendVocabulary(ctx context.Context) error {
	unknown := r.mailbox.UnknownFlags(r.flags)
	if len(unknown) == 0 {
		return nil
	}
	room := r.svc.cfg.MaxMailboxFlags - len(r.mailbox.Flags)
	if room <= 0 {
		return nil
	}
	if len(unknown) > room {
		unknown = unknown[:room]
	}
	if err := r.store.AddMailboxFlags(ctx, r.mailbox.ID, unknown, r.svc.cfg.MaxMailboxFlags); err != nil {
		r.logStorageError("extend mailbox flags", err)
		return fmt.Errorf("add mailbox flags: %w", err)
	}
	r.svc.metrics.RecordMailboxFlagsAdded(len(unknown))
	return nil
}

func (r *storeRun) logStorageError(msg string, err error) {
	r.svc.log.Error(msg,
		zap.String("mailbox", r.mailbox.ID),
		zap.String("alias", r.alias.ID),
		zap.String("session", r.sess.ID),
		zap.Uint64("modseq", r.modseq),
		zap.Error(err),
	)
}

func isProtocolError(err error) bool {
	var pe *domain.ProtocolError
	return errors.As(err, &pe)
}
