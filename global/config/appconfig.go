package config

import "time"

type AppConfig struct {
	NodeID   int64  `yaml:"node_id"` // 雪花 id 节点号
	Port     int    `yaml:"port"`    // http 启动端口
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	Auth     AuthConfig     `yaml:"auth"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Nats     NatsConfig     `yaml:"nats"`
	LLM      LLMConfig      `yaml:"llm"`
	Chat     ChatConfig     `yaml:"chat"`
	Room     RoomConfig     `yaml:"room"`
	Citation CitationConfig `yaml:"citation"`
}

type SeedUser struct {
	UserID       string `yaml:"user_id"`
	Email        string `yaml:"email"`
	Nickname     string `yaml:"nickname"`
	PasswordHash string `yaml:"password_hash"` // bcrypt，用 hash-password 子命令生成
}

type AuthConfig struct {
	JWTSecret            string        `yaml:"jwt_secret"`
	JWTAlg               string        `yaml:"jwt_alg"`
	Issuer               string        `yaml:"issuer"`
	TokenTTL             time.Duration `yaml:"token_ttl"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`
	BcryptCost           int           `yaml:"bcrypt_cost"`
	SeedUsers            []SeedUser    `yaml:"seed_users"`
}

// MongoConfig: URI 为空时使用内存存储。
type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	MaxRetry    int    `yaml:"max_retry"`
}

// RedisConfig: Addr 为空时不记录 presence。
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

// NatsConfig: Servers 为空时不发布研究事件。
type NatsConfig struct {
	Servers       []string `yaml:"servers"`
	Name          string   `yaml:"name"`
	User          string   `yaml:"user"`
	Password      string   `yaml:"password"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Mode          string   `yaml:"mode"` // core | jetstream
}

type LLMConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`          // scope decision
	ResearchModel   string        `yaml:"research_model"` // deep research
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed"` // 限流重试总时长
	Scope           string        `yaml:"scope"`             // 助手服务的话题范围
}

type ChatConfig struct {
	HistoryWindow    int           `yaml:"history_window"`
	LocationHint     string        `yaml:"location_hint"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PollMaxAttempts  int           `yaml:"poll_max_attempts"`
	JobRetention     time.Duration `yaml:"job_retention"`
	JobSweepInterval time.Duration `yaml:"job_sweep_interval"`
	ResearchWorkers  int           `yaml:"research_workers"`
	ResearchQueue    int           `yaml:"research_queue"`
	MessageRate      float64       `yaml:"message_rate"` // user_message per second
	MessageBurst     int           `yaml:"message_burst"`
	MaxContentLength int           `yaml:"max_content_length"`
	HistoryLimit     int           `yaml:"history_limit"`
}

type RoomConfig struct {
	EmptyGrace      time.Duration `yaml:"empty_grace"`
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	CloseDelay      time.Duration `yaml:"close_delay"`
	UnauthTTL       time.Duration `yaml:"unauth_ttl"`
	SendQueue       int           `yaml:"send_queue"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type CitationConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MinContentChars int           `yaml:"min_content_chars"`
	UserAgent       string        `yaml:"user_agent"`
	Concurrency     int           `yaml:"concurrency"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}
