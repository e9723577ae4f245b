package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailhub/backend/internal/domain"
)

const (
	// NotifyChannel 唤醒消息的发布频道，负载为别名 ID
	NotifyChannel = "mailhub:notify"

	journalKeyPrefix = "mailhub:journal:"
	entryField       = "entry"
	// startPosition 流的起始 ID，读取它之后的全部条目
	startPosition = "0-0"
	readPageSize  = 256

	DefaultJournalTTL   = 24 * time.Hour
	DefaultJournalLimit = 1000
)

// Journal 基于 Redis Stream 与发布订阅的变更日志，供多实例共享。
// 每个邮箱一个流，流 ID 即日志位置，按追加顺序递增。
type Journal struct {
	client *Client
	ttl    time.Duration
	limit  int64
}

// NewJournal 创建 Redis 变更日志。ttl、limit 非正时使用默认值。
func NewJournal(client *Client, ttl time.Duration, limit int) *Journal {
	if ttl <= 0 {
		ttl = DefaultJournalTTL
	}
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	return &Journal{client: client, ttl: ttl, limit: int64(limit)}
}

func journalKey(mailboxID string) string {
	return journalKeyPrefix + mailboxID
}

// AddEntries 在一个事务管道内逐条 XADD（按上限裁剪）并刷新过期时间
func (j *Journal) AddEntries(ctx context.Context, mailboxID string, entries []domain.ChangeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode change entry: %w", err)
		}
		values = append(values, string(data))
	}

	key := journalKey(mailboxID)
	_, err := j.client.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, v := range values {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: key,
				MaxLen: j.limit,
				Values: map[string]interface{}{entryField: v},
			})
		}
		pipe.Expire(ctx, key, j.ttl)
		return nil
	})
	return err
}

// Fire 发布唤醒消息
func (j *Journal) Fire(ctx context.Context, aliasID string) error {
	return j.client.rdb.Publish(ctx, NotifyChannel, aliasID).Err()
}

// Position 返回流中最后一条的 ID，流为空时返回起始 ID
func (j *Journal) Position(ctx context.Context, mailboxID string) (string, error) {
	msgs, err := j.client.rdb.XRevRangeN(ctx, journalKey(mailboxID), "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return startPosition, nil
	}
	return msgs[0].ID, nil
}

// ListEntries 分页 XREAD 读取 after 之后的条目，无法解析的条目被跳过
func (j *Journal) ListEntries(ctx context.Context, mailboxID, after string) ([]domain.ChangeEntry, string, error) {
	if after == "" {
		after = startPosition
	}
	key := journalKey(mailboxID)

	var out []domain.ChangeEntry
	for {
		streams, err := j.client.rdb.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{key, after},
			Count:   readPageSize,
			Block:   -1,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			return out, after, nil
		}
		if err != nil {
			return nil, "", err
		}

		var page []goredis.XMessage
		for _, st := range streams {
			page = append(page, st.Messages...)
		}
		for _, msg := range page {
			after = msg.ID
			if e, ok := j.decode(mailboxID, msg); ok {
				out = append(out, e)
			}
		}
		if len(page) < readPageSize {
			return out, after, nil
		}
	}
}

func (j *Journal) decode(mailboxID string, msg goredis.XMessage) (domain.ChangeEntry, bool) {
	var e domain.ChangeEntry
	raw, ok := msg.Values[entryField].(string)
	if !ok {
		j.client.log.Warn("skipping malformed journal entry",
			zap.String("mailbox", mailboxID),
			zap.String("position", msg.ID),
		)
		return e, false
	}
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		j.client.log.Warn("skipping malformed journal entry",
			zap.String("mailbox", mailboxID),
			zap.String("position", msg.ID),
			zap.Error(err),
		)
		return e, false
	}
	return e, true
}

// Listen 订阅唤醒频道，阻塞直到 ctx 结束
func (j *Journal) Listen(ctx context.Context, fn func(aliasID string)) error {
	sub := j.client.rdb.Subscribe(ctx, NotifyChannel)
	defer sub.Close()

	// 等待订阅确认，连接失败时立即返回
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", NotifyChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}

// Health 检查 Redis 连接
func (j *Journal) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return j.client.Ping(ctx)
}
