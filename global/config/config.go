package config

import (
	"os"
	"strings"
	"time"

	"ResearchChat/tools"
	"ResearchChat/tools/errs"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file (optional), applies environment overrides and
// fills defaults. A missing JWT secret or LLM API key is an error.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errs.WrapMsg(err, "parse config", "path", path)
		}
	}
	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 环境变量覆盖配置文件。
func (c *AppConfig) ApplyEnv() {
	c.Port = tools.GetEnvInt("RC_PORT", c.Port)
	c.LogLevel = tools.GetEnv("RC_LOG_LEVEL", c.LogLevel)
	c.LogJSON = tools.GetEnvBool("RC_LOG_JSON", c.LogJSON)

	c.Auth.JWTSecret = tools.GetEnv("RC_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = tools.GetEnvDuration("RC_TOKEN_TTL", c.Auth.TokenTTL)

	c.LLM.APIKey = tools.GetEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.Model = tools.GetEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.ResearchModel = tools.GetEnv("OPENAI_RESEARCH_MODEL", c.LLM.ResearchModel)
	c.LLM.BaseURL = tools.GetEnv("OPENAI_BASE_URL", c.LLM.BaseURL)

	c.Mongo.URI = tools.GetEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = tools.GetEnv("MONGO_DATABASE", c.Mongo.Database)

	c.Redis.Addr = tools.GetEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = tools.GetEnv("REDIS_PASSWORD", c.Redis.Password)

	if s := tools.SplitCSV(os.Getenv("NATS_SERVERS")); len(s) > 0 {
		c.Nats.Servers = s
	}
	if s := tools.SplitCSV(os.Getenv("RC_ALLOWED_ORIGINS")); len(s) > 0 {
		c.Room.AllowedOrigins = s
	}
}

// Normalize fills every zero field with its default.
func (c *AppConfig) Normalize() {
	if c.NodeID == 0 {
		c.NodeID = 1
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	a := &c.Auth
	if a.JWTAlg == "" {
		a.JWTAlg = "HS256"
	}
	if a.TokenTTL == 0 {
		a.TokenTTL = 24 * time.Hour
	}
	if a.SessionSweepInterval == 0 {
		a.SessionSweepInterval = time.Minute
	}

	if c.Mongo.Database == "" {
		c.Mongo.Database = "researchChat"
	}
	if c.Mongo.MaxPoolSize == 0 {
		c.Mongo.MaxPoolSize = 20
	}
	if c.Mongo.MaxRetry == 0 {
		c.Mongo.MaxRetry = 5
	}
	if c.Redis.PresenceTTL == 0 {
		c.Redis.PresenceTTL = 2 * time.Minute
	}
	if c.Nats.Name == "" {
		c.Nats.Name = "research-chat"
	}
	if c.Nats.SubjectPrefix == "" {
		c.Nats.SubjectPrefix = "research.events"
	}

	l := &c.LLM
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.ResearchModel == "" {
		l.ResearchModel = "gpt-4o-search-preview"
	}
	if l.Timeout == 0 {
		l.Timeout = 3 * time.Minute
	}
	if l.MaxRetryElapsed == 0 {
		l.MaxRetryElapsed = 2 * time.Minute
	}
	if l.Scope == "" {
		l.Scope = "energy and utility topics: electricity and gas bills, rates and tariffs, usage, outages, and news about utility providers"
	}

	ch := &c.Chat
	if ch.HistoryWindow == 0 {
		ch.HistoryWindow = 5
	}
	if ch.PollInterval == 0 {
		ch.PollInterval = 2 * time.Second
	}
	if ch.PollMaxAttempts == 0 {
		ch.PollMaxAttempts = 300
	}
	if ch.JobRetention == 0 {
		ch.JobRetention = 30 * time.Minute
	}
	if ch.JobSweepInterval == 0 {
		ch.JobSweepInterval = 5 * time.Minute
	}
	if ch.ResearchWorkers == 0 {
		ch.ResearchWorkers = 4
	}
	if ch.ResearchQueue == 0 {
		ch.ResearchQueue = 64
	}
	if ch.MessageRate == 0 {
		ch.MessageRate = 1
	}
	if ch.MessageBurst == 0 {
		ch.MessageBurst = 5
	}
	if ch.MaxContentLength == 0 {
		ch.MaxContentLength = 4000
	}
	if ch.HistoryLimit == 0 {
		ch.HistoryLimit = 50
	}

	r := &c.Room
	if r.EmptyGrace == 0 {
		r.EmptyGrace = 5 * time.Second
	}
	if r.IdleTTL == 0 {
		r.IdleTTL = 30 * time.Minute
	}
	if r.SweepInterval == 0 {
		r.SweepInterval = time.Minute
	}
	if r.CloseDelay == 0 {
		r.CloseDelay = 500 * time.Millisecond
	}
	if r.UnauthTTL == 0 {
		r.UnauthTTL = 10 * time.Second
	}
	if r.SendQueue == 0 {
		r.SendQueue = 256
	}
	if r.PingInterval == 0 {
		r.PingInterval = 25 * time.Second
	}
	if r.PongWait == 0 {
		r.PongWait = 60 * time.Second
	}
	if r.WriteWait == 0 {
		r.WriteWait = 10 * time.Second
	}
	if r.MaxMessageBytes == 0 {
		r.MaxMessageBytes = 64 << 10
	}

	ci := &c.Citation
	if ci.Timeout == 0 {
		ci.Timeout = 10 * time.Second
	}
	if ci.MinContentChars == 0 {
		ci.MinContentChars = 4000
	}
	if ci.UserAgent == "" {
		ci.UserAgent = "Mozilla/5.0 (compatible; ResearchChatBot/1.0; +citation-check)"
	}
	if ci.Concurrency == 0 {
		ci.Concurrency = 8
	}
	if ci.MaxBodyBytes == 0 {
		ci.MaxBodyBytes = 5 << 20
	}
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errs.ErrArgs.WrapMsg("jwt secret missing (RC_JWT_SECRET)")
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errs.ErrArgs.WrapMsg("llm api key missing (OPENAI_API_KEY)")
	}
	if c.Chat.PollInterval < 0 || c.Room.EmptyGrace < 0 || c.Citation.Timeout < 0 {
		return errs.ErrArgs.WrapMsg("durations must be positive")
	}
	return nil
}
