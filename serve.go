package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ResearchChat/global"
	appcfg "ResearchChat/global/config"
	"ResearchChat/logger"
	mid "ResearchChat/middleware"
	chatmod "ResearchChat/module/chat"
	"ResearchChat/module/chat/message"
	chatservice "ResearchChat/module/chat/service"
	"ResearchChat/module/research"
	"ResearchChat/module/research/poller"
	rservice "ResearchChat/module/research/service"
	rstore "ResearchChat/module/research/store"
	"ResearchChat/module/user"
	usermodel "ResearchChat/module/user/model"
	userservice "ResearchChat/module/user/service"
	userstore "ResearchChat/module/user/store"
	"ResearchChat/service/chat"
	"ResearchChat/service/chat/handlers"
	"ResearchChat/service/llm"
	"ResearchChat/service/metrics"
	redis "ResearchChat/service/storage/redis"
	"ResearchChat/tools/ids"
	"ResearchChat/tools/security"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := appcfg.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	defer logger.Sync()
	global.ConfigIds(cfg)

	// ===== 存储 =====
	seeds := seedUsers(cfg)
	var (
		users    userstore.UserRepo
		archiver userstore.SessionArchiver
		history  message.HistoryStore
		calls    message.CallLogStore
	)
	db, ok := global.ConfigMgo(ctx, cfg, func(db *mongo.Database) {
		repo := userstore.NewMongoUserRepo(func() (*mongo.Database, bool) { return db, true })
		for _, u := range seeds {
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := repo.Upsert(sctx, u); err != nil {
				logger.Warn("seed user failed", zap.String("email", u.Email), zap.Error(err))
			}
			cancel()
		}
	})
	if ok {
		users = userstore.NewMongoUserRepo(db)
		archiver = userstore.NewMongoSessionArchiver(db)
		history = message.NewMongoHistory(db)
		calls = message.NewMongoCallLog(db)
	} else {
		users = userstore.NewMemoryUserRepo(seeds...)
		archiver = &userstore.MemoryArchiver{}
		history = message.NewMemoryHistory()
		calls = &message.MemoryCallLog{}
	}

	// ===== LLM =====
	capability, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		ResearchModel:   cfg.LLM.ResearchModel,
		Timeout:         cfg.LLM.Timeout,
		MaxRetryElapsed: cfg.LLM.MaxRetryElapsed,
		Scope:           cfg.LLM.Scope,
	}, calls)
	if err != nil {
		return err
	}

	// ===== 会话 / 连接 =====
	jwtOpts := security.DefaultOptions([]byte(cfg.Auth.JWTSecret))
	jwtOpts.Alg = cfg.Auth.JWTAlg
	jwtOpts.TTL = cfg.Auth.TokenTTL
	jwtOpts.Issuer = cfg.Auth.Issuer
	sessions := userservice.NewSessionStore(users, archiver, userservice.Options{
		JWT:           jwtOpts,
		SweepInterval: cfg.Auth.SessionSweepInterval,
	})

	mconf := chat.ManagerConf{
		EmptyGrace: cfg.Room.EmptyGrace,
		IdleTTL:    cfg.Room.IdleTTL,
		SweepEvery: cfg.Room.SweepInterval,
		CloseDelay: cfg.Room.CloseDelay,
		UnauthTTL:  cfg.Room.UnauthTTL,
	}
	if p := global.ConfigRedis(ctx, cfg); p != nil {
		mconf.Presence = p
	}
	cm := chat.NewConnManager(mconf)
	sessions.SetCloser(cm)

	// ===== 研究 =====
	jobs := rstore.NewJobStore(rstore.Options{
		Retention:  cfg.Chat.JobRetention,
		SweepEvery: cfg.Chat.JobSweepInterval,
	})
	checker := rservice.NewCitationValidator(rservice.ValidatorOptions{
		Timeout:         cfg.Citation.Timeout,
		MinContentChars: cfg.Citation.MinContentChars,
		UserAgent:       cfg.Citation.UserAgent,
		Concurrency:     cfg.Citation.Concurrency,
		MaxBodyBytes:    cfg.Citation.MaxBodyBytes,
	})
	pipe := rservice.NewPipeline(jobs, capability, history, checker, rservice.PipelineOptions{
		HistoryWindow: cfg.Chat.HistoryWindow,
		LocationHint:  cfg.Chat.LocationHint,
		Workers:       cfg.Chat.ResearchWorkers,
		QueueSize:     cfg.Chat.ResearchQueue,
	})
	natsCli, producer, err := global.ConfigNats(cfg)
	if err != nil {
		logger.Warn("research events disabled", zap.Error(err))
	} else if producer != nil {
		pipe.SetEvents(producer)
	}
	orch := chatservice.NewOrchestrator(capability, history, pipe, nil)
	poll := poller.New(jobs, cm, poller.Options{
		Interval:    cfg.Chat.PollInterval,
		MaxAttempts: cfg.Chat.PollMaxAttempts,
	})

	// ===== websocket =====
	disp := chat.NewDispatcher(cm)
	disp.Register(
		handlers.NewAuthHandler(sessions, cm),
		handlers.NewMessageHandler(orch, cm, poll, handlers.MessageOptions{MaxContentLength: cfg.Chat.MaxContentLength}),
		handlers.NewLogoutHandler(sessions, cm),
		handlers.NewPingHandler(cm),
	)
	ws := chat.NewServer(ctx, chat.ServerConf{
		SendQueue:       cfg.Room.SendQueue,
		PingInterval:    cfg.Room.PingInterval,
		PongWait:        cfg.Room.PongWait,
		WriteWait:       cfg.Room.WriteWait,
		MaxMessageBytes: cfg.Room.MaxMessageBytes,
		AllowedOrigins:  cfg.Room.AllowedOrigins,
		MessageRate:     cfg.Chat.MessageRate,
		MessageBurst:    cfg.Chat.MessageBurst,
		HistoryLimit:    cfg.Chat.HistoryLimit,
	}, cm, disp)

	// ===== HTTP =====
	if strings.ToLower(cfg.LogLevel) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	global.ConfigMiddleware(cfg, sessions)
	mid.Manager().Apply(r)
	user.NewHandler(sessions).Register(r)
	chatmod.NewHandler(history, cfg.Chat.HistoryLimit).Register(r)
	research.NewHandler(jobs).Register(r)
	r.GET("/ws", ws.HandleWS)
	r.GET("/healthz", ws.Healthz)
	r.GET("/metrics", metrics.Handler())

	sessions.Start()
	cm.Start()
	jobs.Start()
	pipe.Start()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	// ===== 优雅退出：先停入口，再停后台 =====
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	cm.Close()
	poll.Stop()
	pipe.Stop()
	jobs.Stop()
	sessions.Stop()
	if natsCli != nil {
		_ = natsCli.Close()
	}
	_ = redis.CloseRedis()
	return err
}

func seedUsers(cfg *appcfg.AppConfig) []*usermodel.User {
	now := time.Now()
	out := make([]*usermodel.User, 0, len(cfg.Auth.SeedUsers))
	for _, s := range cfg.Auth.SeedUsers {
		if s.Email == "" || s.PasswordHash == "" {
			logger.Warn("skip seed user without email or password hash", zap.String("email", s.Email))
			continue
		}
		uid := s.UserID
		if uid == "" {
			uid = ids.GenerateString()
		}
		out = append(out, &usermodel.User{
			UserID:       uid,
			Email:        userstore.NormalizeEmail(s.Email),
			Nickname:     s.Nickname,
			PasswordHash: s.PasswordHash,
			Status:       usermodel.UserNormal,
			CreateTime:   now,
			UpdateTime:   now,
		})
	}
	return out
}
