package auditstore

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisStream = "chatmod/audit"

// Appends records to a redis stream (XADD), for downstream consumers which deduplicate by message ID.
type RedisAuditSink struct {
	Client *redis.Client
	Stream string
	// approximate cap on stream length; zero means unbounded
	MaxLen int64
}

var _ AuditSink = (*RedisAuditSink)(nil)

func NewRedisAuditSink(rdb *redis.Client, stream string, maxLen int64) *RedisAuditSink {
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisAuditSink{
		Client: rdb,
		Stream: stream,
		MaxLen: maxLen,
	}
}

func (s *RedisAuditSink) Append(ctx context.Context, rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.Stream,
		Values: map[string]any{
			"message_id": rec.MessageID,
			"record":     string(b),
		},
	}
	if s.MaxLen > 0 {
		args.MaxLen = s.MaxLen
		args.Approx = true
	}
	return s.Client.XAdd(ctx, args).Err()
}
