package storage

import (
	"context"
	"time"

	"ResearchChat/tools/errs"

	"github.com/redis/go-redis/v9"
)

// presence key: rc:presence:<userId>
// Value: set of connection ids, TTL 控制在线有效期
func presenceKey(userID string) string { return "rc:presence:" + userID }

// RedisPresence records which connections each user currently has open.
// It is advisory: the in-process room registry stays authoritative.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

// Online 加入集合并续期
func (p *RedisPresence) Online(ctx context.Context, userID, connID string) error {
	if p == nil || p.rdb == nil {
		return errs.ErrPersistence.WrapMsg("redis not initialized")
	}
	key := presenceKey(userID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, connID)
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		return errs.WrapMsg(err, "presence online", "userID", userID)
	}
	return nil
}

// Offline 移除连接；集合为空时 redis 自动删除 key
func (p *RedisPresence) Offline(ctx context.Context, userID, connID string) error {
	if p == nil || p.rdb == nil {
		return errs.ErrPersistence.WrapMsg("redis not initialized")
	}
	if err := p.rdb.SRem(ctx, presenceKey(userID), connID).Err(); err != nil {
		return errs.WrapMsg(err, "presence offline", "userID", userID)
	}
	return nil
}

// Count 当前在线连接数
func (p *RedisPresence) Count(ctx context.Context, userID string) (int64, error) {
	if p == nil || p.rdb == nil {
		return 0, errs.ErrPersistence.WrapMsg("redis not initialized")
	}
	n, err := p.rdb.SCard(ctx, presenceKey(userID)).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "presence count", "userID", userID)
	}
	return n, nil
}
