package global

import (
	"context"
	"strings"
	"time"

	"ResearchChat/data/database"
	"ResearchChat/data/database/mgo/mongoutil"
	appcfg "ResearchChat/global/config"
	"ResearchChat/logger"
	mid "ResearchChat/middleware"
	midsec "ResearchChat/middleware/security"
	chatmodel "ResearchChat/module/chat/model"
	usermodel "ResearchChat/module/user/model"
	rservice "ResearchChat/module/research/service"
	mgoSrv "ResearchChat/service/mgo"
	"ResearchChat/service/natsx"
	"ResearchChat/service/storage"
	redis "ResearchChat/service/storage/redis"
	"ResearchChat/tools/errs"
	ids "ResearchChat/tools/ids"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func ConfigIds(cfg *appcfg.AppConfig) {
	ids.SetNodeID(cfg.NodeID)
}

// ConfigMgo 异步连接 Mongo；URI 为空返回 false（使用内存存储）
// onReady 在首次连接成功、索引建好之后执行。
func ConfigMgo(ctx context.Context, cfg *appcfg.AppConfig, onReady ...func(db *mongo.Database)) (database.DBProvider, bool) {
	if strings.TrimSpace(cfg.Mongo.URI) == "" {
		logger.Info("mongo not configured, using in-memory stores")
		return nil, false
	}
	mc := &mongoutil.Config{
		Uri:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	}
	mgoSrv.OnReady(func(db *mongo.Database) {
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		err := mgoSrv.EnsureIndexes(ictx, db,
			&usermodel.User{}, &usermodel.UserSessionLog{},
			&chatmodel.ChatMessage{}, &chatmodel.APICallLog{},
		)
		if err != nil {
			logger.Warn("ensure mongo indexes failed", zap.Error(err))
		}
		for _, f := range onReady {
			f(db)
		}
	})
	mgoSrv.StartAsync(ctx, mc)
	return mgoSrv.TryGetDB, true
}

// ConfigRedis returns nil when Redis is not configured or unreachable;
// presence is optional.
func ConfigRedis(ctx context.Context, cfg *appcfg.AppConfig) *storage.RedisPresence {
	if cfg.Redis.Addr == "" {
		return nil
	}
	m, err := redis.InitRedis(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.Warn("redis unavailable, presence disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return nil
	}
	return storage.NewRedisPresence(m.Client(), cfg.Redis.PresenceTTL)
}

// ConfigNats connects the research event producer. Returns nil when NATS is
// not configured.
func ConfigNats(cfg *appcfg.AppConfig) (*natsx.NatsxClient, *natsx.NatsxProducer, error) {
	if len(cfg.Nats.Servers) == 0 {
		return nil, nil, nil
	}
	cli, err := natsx.NewNatsxClient(natsx.NatsxConfig{
		Servers:  cfg.Nats.Servers,
		Name:     cfg.Nats.Name,
		User:     cfg.Nats.User,
		Password: cfg.Nats.Password,
	})
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "nats connect", "servers", strings.Join(cfg.Nats.Servers, ","))
	}
	route := natsx.NatsxRoute{
		Biz:     rservice.EventBiz,
		Subject: cfg.Nats.SubjectPrefix,
		Mode:    natsx.ParseMode(cfg.Nats.Mode),
	}
	if err := cli.RegisterRoute(route); err != nil {
		_ = cli.Close()
		return nil, nil, errs.WrapMsg(err, "nats route", "subject", route.Subject)
	}
	return cli, natsx.NewNatsxProducer(cli), nil
}

func ConfigMiddleware(cfg *appcfg.AppConfig, verifier midsec.TokenVerifier) {
	mid.Manager().Add(mid.Recovery(), mid.AccessLog(), mid.Origin(cfg.Room.AllowedOrigins))
	mid.ConfigAuth(verifier, midsec.DefaultOptions())
}
