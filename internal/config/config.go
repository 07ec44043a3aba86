package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 AgentHive 在启动阶段需要加载的全部配置。
type Config struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Run       RunConfig       `yaml:"run"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Agent     AgentConfig     `yaml:"agent"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Web3      Web3Config      `yaml:"web3"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// OpenAIConfig 描述执行后端与向量化服务的访问方式。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回单次 HTTP 请求的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// RunConfig 控制运行状态轮询的节奏。
type RunConfig struct {
	PollIntervalMS    int     `yaml:"poll_interval_ms"`
	MaxPollIntervalMS int     `yaml:"max_poll_interval_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// MaxPollAttempts 为 0 时不限制轮询次数。
	MaxPollAttempts int `yaml:"max_poll_attempts"`
}

// PollInterval 返回首次轮询间隔。
func (c RunConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// MaxPollInterval 返回退避后的最大轮询间隔。
func (c RunConfig) MaxPollInterval() time.Duration {
	return time.Duration(c.MaxPollIntervalMS) * time.Millisecond
}

// RetrievalConfig 描述两类相似度检索的阈值与数量。
type RetrievalConfig struct {
	MessageThreshold float64 `yaml:"message_threshold"`
	MessageLimit     int     `yaml:"message_limit"`
	ToolThreshold    float64 `yaml:"tool_threshold"`
	ToolLimit        int     `yaml:"tool_limit"`
}

// AgentConfig 描述根智能体的人设以及消息递归深度。
type AgentConfig struct {
	CEOName         string `yaml:"ceo_name"`
	CEOPrompt       string `yaml:"ceo_prompt"`
	MaxMessageDepth int    `yaml:"max_message_depth"`
}

// StorageConfig 描述消息与工具执行记录的存储后端。
type StorageConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ScanWindow             int    `yaml:"scan_window"`
}

// CacheConfig 描述向量缓存。
type CacheConfig struct {
	Redis      RedisConfig `yaml:"redis"`
	TTLSeconds int         `yaml:"ttl_seconds"`
}

// RedisConfig 为空地址时表示禁用缓存。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EventsConfig 描述记录事件的发布方式。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Web3Config 描述钱包工具访问的链与地址。
type Web3Config struct {
	RPCURL        string `yaml:"rpc_url"`
	WalletAddress string `yaml:"wallet_address"`
	PrivateKeyEnv string `yaml:"private_key_env"`
}

// Enabled 判断是否配置了链访问。
func (c Web3Config) Enabled() bool {
	return strings.TrimSpace(c.RPCURL) != ""
}

// ServerConfig 控制 HTTP 服务的监听地址。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 描述审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultCEOPrompt 是未配置人设时根智能体使用的指令。
const DefaultCEOPrompt = "You are the CEO of an organisation of AI agents. " +
	"You control a wallet on an EVM blockchain and can read its address and balances. " +
	"Delegate work by creating subordinate agents and messaging them; " +
	"take action immediately with reasonable defaults instead of asking for confirmation, " +
	"and always include addresses and results returned by tools in your replies."

// Default 返回全部字段均为默认值的配置。
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults(".")
	return &cfg
}

// newConfig 预置零值有意义的字段，文件中显式写出的值会覆盖它们。
func newConfig() Config {
	return Config{
		Retrieval: RetrievalConfig{MessageThreshold: 0.7, ToolThreshold: 0.9},
	}
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("mysql 存储需要配置 storage.dsn")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case "", "none":
	case "rabbitmq":
		if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
			return errors.New("rabbitmq 事件发布需要配置 events.rabbitmq.url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	if c.Retrieval.MessageThreshold < 0 || c.Retrieval.MessageThreshold > 1 ||
		c.Retrieval.ToolThreshold < 0 || c.Retrieval.ToolThreshold > 1 {
		return errors.New("相似度阈值必须位于 [0, 1]")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.OpenAI.APIKeyEnv == "" {
		c.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-ada-002"
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = 60
	}

	if c.Run.PollIntervalMS <= 0 {
		c.Run.PollIntervalMS = 1000
	}
	if c.Run.MaxPollIntervalMS < c.Run.PollIntervalMS {
		c.Run.MaxPollIntervalMS = c.Run.PollIntervalMS
	}
	if c.Run.BackoffMultiplier < 1 {
		c.Run.BackoffMultiplier = 1
	}
	if c.Run.MaxPollAttempts < 0 {
		c.Run.MaxPollAttempts = 0
	}

	if c.Retrieval.MessageLimit <= 0 {
		c.Retrieval.MessageLimit = 5
	}
	if c.Retrieval.ToolLimit <= 0 {
		c.Retrieval.ToolLimit = 5
	}

	if c.Agent.CEOName == "" {
		c.Agent.CEOName = "CEO"
	}
	if strings.TrimSpace(c.Agent.CEOPrompt) == "" {
		c.Agent.CEOPrompt = DefaultCEOPrompt
	}
	if c.Agent.MaxMessageDepth <= 0 {
		c.Agent.MaxMessageDepth = 5
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.ScanWindow <= 0 {
		c.Storage.ScanWindow = 2000
	}

	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 7 * 24 * 3600
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "agenthive.records"
	}
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "WALLET_PRIVATE_KEY"
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	} else if c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}
	for i, out := range c.Log.Outputs {
		lowered := strings.ToLower(out)
		if lowered == "stdout" || lowered == "stderr" || filepath.IsAbs(out) {
			continue
		}
		c.Log.Outputs[i] = filepath.Join(baseDir, out)
	}
}
