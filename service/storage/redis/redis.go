package redis

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	redisOnce sync.Once
	redisMgr  *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// InitRedis 初始化 Redis 管理器（单例）
func InitRedis(ctx context.Context, c Config) (*RedisManager, error) {
	var initErr error
	redisOnce.Do(func() {
		if c.Addr == "" {
			initErr = errors.New("redis addr missing")
			return
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})

		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			initErr = errors.Wrap(err, "redis ping")
			return
		}

		redisMgr = &RedisManager{client: rdb}
	})
	if initErr != nil {
		return nil, initErr
	}
	if redisMgr == nil {
		return nil, errors.New("redis not initialized")
	}
	return redisMgr, nil
}

// Client 获取 Redis Client
func (m *RedisManager) Client() *redis.Client { return m.client }

// GetRedis 获取全局 Redis Client；未初始化返回 nil
func GetRedis() *redis.Client {
	if redisMgr == nil {
		return nil
	}
	return redisMgr.client
}

// CloseRedis 关闭连接
func CloseRedis() error {
	if redisMgr != nil && redisMgr.client != nil {
		return redisMgr.client.Close()
	}
	return nil
}
