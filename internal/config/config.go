package config

import (
	"os"
	"strings"
	"time"

	"chat-studio-core/internal/tools"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Echo    EchoConfig    `mapstructure:"echo"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Doubao  EinoConfig    `mapstructure:"doubao"`
	Qwen    EinoConfig    `mapstructure:"qwen"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Client  ClientConfig  `mapstructure:"client"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// LogConfig File 为空时只输出到标准输出
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// AuthConfig Token 为空时不校验 Auth-Token
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type StorageConfig struct {
	Type           string        `mapstructure:"type"`
	DataDir        string        `mapstructure:"data_dir"`
	CacheSize      int           `mapstructure:"cache_size"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`
}

type ChatConfig struct {
	SystemPrompt       string `mapstructure:"system_prompt"`
	MaxHistoryMessages int    `mapstructure:"max_history_messages"`
	MaxToolRounds      int    `mapstructure:"max_tool_rounds"`
}

type EchoConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	ChunkSize int           `mapstructure:"chunk_size"`
	Delay     time.Duration `mapstructure:"delay"`
	Think     bool          `mapstructure:"think"`
}

type OpenAIConfig struct {
	ProviderID   string   `mapstructure:"provider_id"`
	ProviderName string   `mapstructure:"provider_name"`
	APIKey       string   `mapstructure:"api_key"`
	BaseURL      string   `mapstructure:"base_url"`
	Models       []string `mapstructure:"models"`
	MaxTokens    int      `mapstructure:"max_tokens"`
	Temperature  float32  `mapstructure:"temperature"`
}

// EinoConfig 通过 eino 组件接入的模型服务，models 为空时不启用
type EinoConfig struct {
	ProviderName string        `mapstructure:"provider_name"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Models       []string      `mapstructure:"models"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type ToolsConfig struct {
	Builtin       bool                 `mapstructure:"builtin"`
	RemoteServers []tools.RemoteServer `mapstructure:"remote_servers"`
}

// ClientConfig 命令行客户端连接服务端的配置
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.heartbeat_interval", 15*time.Second)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Auth-Token"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
	v.SetDefault("chat.max_history_messages", 40)
	v.SetDefault("chat.max_tool_rounds", 5)
	v.SetDefault("echo.enabled", true)
	v.SetDefault("echo.chunk_size", 4)
	v.SetDefault("openai.provider_id", "openai")
	v.SetDefault("openai.provider_name", "OpenAI")
	v.SetDefault("doubao.provider_name", "豆包")
	v.SetDefault("doubao.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("qwen.provider_name", "通义千问")
	v.SetDefault("qwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("qwen.timeout", 60*time.Second)
	v.SetDefault("tools.builtin", true)
	v.SetDefault("client.base_url", "http://localhost:8080/api")
	v.SetDefault("client.timeout", 30*time.Second)
}

// Load 读取配置文件，环境变量 CHAT_<SECTION>_<KEY> 覆盖文件中的值。
// configPath 为空或文件不存在时只使用默认值；同目录的 .env 会先被加载。
func Load(configPath string) (*Config, error) {
	// .env 是可选的
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	// 配置文件优先，如果配置文件中没有设置，则使用常见的环境变量
	envFallback(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	envFallback(&c.Doubao.APIKey, "DOUBAO_API_KEY", "ARK_API_KEY")
	envFallback(&c.Qwen.APIKey, "DASHSCOPE_API_KEY")

	cfg = c
	return c, nil
}

func envFallback(dst *string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func Get() *Config {
	return cfg
}
