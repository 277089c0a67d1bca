package mgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ResearchChat/data/database"
	mgo "ResearchChat/data/database/mgo/mongoutil"
	"ResearchChat/logger"
	"ResearchChat/tools/errs"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once
	onReady   []func(db *mongo.Database)

	lastErr atomic.Value // error
}

var globalMgr = &MongoManager{readyCh: make(chan struct{})}

const (
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// StartAsync: 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func StartAsync(ctx context.Context, cfg *mgo.Config) {
	go globalMgr.run(ctx, cfg)
}

func (m *MongoManager) run(ctx context.Context, cfg *mgo.Config) {
	for {
		// ===== 连接阶段（指数退避重试） =====
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 200 * time.Millisecond
		bo.MaxInterval = 5 * time.Second
		bo.MaxElapsedTime = 0 // 一直重试直到 ctx 结束

		var cli *mgo.Client
		err := backoff.RetryNotify(func() error {
			c, err := mgo.NewMongoDB(ctx, cfg)
			if err != nil {
				return err
			}
			cli = c
			return nil
		}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
			m.lastErr.Store(err)
			logger.Warn("mongo connect failed", zap.Error(err), zap.Duration("retry_in", next))
		})
		if err != nil {
			return // ctx done
		}

		m.mu.Lock()
		m.client = cli
		m.mu.Unlock()
		logger.Info("mongo connected", zap.String("db", cfg.Database))
		m.readyOnce.Do(func() {
			for _, f := range m.onReady {
				f(cli.GetDB())
			}
			close(m.readyCh)
		})

		// ===== 健康检查阶段（保持/掉线→重连）=====
		if !m.watch(ctx) {
			return
		}
	}
}

// watch pings until ctx ends (false) or the connection is judged dead (true).
func (m *MongoManager) watch(ctx context.Context) bool {
	fail := 0
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.GetDB().Client().Ping(pctx, nil)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(err)
			if fail >= failThresh {
				logger.Warn("mongo unhealthy, reconnecting", zap.Error(err))
				m.drop()
				return true
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// OnReady registers f to run once, right after the first successful connect.
// Must be called before StartAsync.
func OnReady(f func(db *mongo.Database)) {
	globalMgr.onReady = append(globalMgr.onReady, f)
}

// Ready: 首次连接成功时会 close；可 select 等待
func Ready() <-chan struct{} {
	return globalMgr.readyCh
}

func Manager() *MongoManager {
	return globalMgr
}

// Err: 最近一次错误
func Err() error {
	if v := globalMgr.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		return nil, false
	}
	return globalMgr.client.GetDB(), true
}

func WaitReady(ctx context.Context, m *MongoManager) error {
	m.mu.RLock()
	readyCh := m.readyCh
	clientNil := m.client == nil
	m.mu.RUnlock()

	if !clientNil {
		return nil
	}
	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait mongo ready")
	}
}

// EnsureIndexes creates the declared indexes of every model.
func EnsureIndexes(ctx context.Context, db *mongo.Database, tables ...database.Indexed) error {
	for _, t := range tables {
		idx := t.Indexes()
		if len(idx) == 0 {
			continue
		}
		if _, err := db.Collection(t.GetTableName()).Indexes().CreateMany(ctx, idx); err != nil {
			return errs.WrapMsg(err, "create indexes", "coll", t.GetTableName())
		}
	}
	return nil
}
