package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Database  DatabaseConfig
	Broadcast BroadcastConfig
	Sweep     SweepConfig
	Chat      ChatConfig
	Auth      AuthConfig
	Templates TemplatesConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	broadcast, err := loadBroadcastConfig()
	if err != nil {
		return nil, err
	}

	sweep, err := loadSweepConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Database:  DatabaseConfig{Path: getEnvOrDefault("DATABASE_PATH", "data/support.db")},
		Broadcast: broadcast,
		Sweep:     sweep,
		Chat:      chat,
		Auth:      AuthConfig{JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET"))},
		Templates: TemplatesConfig{File: strings.TrimSpace(os.Getenv("PROMPT_TEMPLATES_FILE"))},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// Timeout 限制单次生成调用的耗时。
	Timeout time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 20*time.Second)
	if err != nil {
		return AIConfig{}, err
	}
	if timeout <= 0 {
		return AIConfig{}, fmt.Errorf("AI_TIMEOUT must be positive, got %s", timeout)
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}, nil
}

// DatabaseConfig 描述 SQLite 存储位置。
type DatabaseConfig struct {
	Path string
}

// 广播后端。
const (
	BroadcastMemory = "memory"
	BroadcastRedis  = "redis"
	BroadcastNATS   = "nats"
)

// BroadcastConfig 描述会话帧的分发方式与分块节奏。
type BroadcastConfig struct {
	Backend    string
	RedisAddr  string
	NATSURL    string
	ChunkSize  int
	ChunkDelay time.Duration
}

func loadBroadcastConfig() (BroadcastConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("BROADCAST_BACKEND", BroadcastMemory))
	switch backend {
	case BroadcastMemory, BroadcastRedis, BroadcastNATS:
	default:
		return BroadcastConfig{}, fmt.Errorf("invalid BROADCAST_BACKEND value %q", backend)
	}

	chunkSize := 15
	if override, err := parseOptionalIntEnv("STREAM_CHUNK_SIZE"); err != nil {
		return BroadcastConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return BroadcastConfig{}, fmt.Errorf("STREAM_CHUNK_SIZE must be positive, got %d", *override)
		}
		chunkSize = *override
	}

	delay, err := parseDurationEnv("STREAM_CHUNK_DELAY", 40*time.Millisecond)
	if err != nil {
		return BroadcastConfig{}, err
	}

	return BroadcastConfig{
		Backend:    backend,
		RedisAddr:  getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		NATSURL:    getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		ChunkSize:  chunkSize,
		ChunkDelay: delay,
	}, nil
}

// SweepConfig 描述空闲会话扫描的周期与阈值。
type SweepConfig struct {
	Interval       time.Duration
	WarnThreshold  time.Duration
	CloseThreshold time.Duration
}

func loadSweepConfig() (SweepConfig, error) {
	interval, err := parseDurationEnv("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SweepConfig{}, err
	}
	warn, err := parseDurationEnv("SWEEP_WARN_AFTER", 5*time.Minute)
	if err != nil {
		return SweepConfig{}, err
	}
	closeAfter, err := parseDurationEnv("SWEEP_CLOSE_AFTER", 10*time.Minute)
	if err != nil {
		return SweepConfig{}, err
	}

	if interval <= 0 || warn <= 0 {
		return SweepConfig{}, fmt.Errorf("SWEEP_INTERVAL and SWEEP_WARN_AFTER must be positive")
	}
	if closeAfter <= warn {
		return SweepConfig{}, fmt.Errorf("SWEEP_CLOSE_AFTER (%s) must exceed SWEEP_WARN_AFTER (%s)", closeAfter, warn)
	}

	return SweepConfig{Interval: interval, WarnThreshold: warn, CloseThreshold: closeAfter}, nil
}

// ChatConfig 描述会话默认值。
type ChatConfig struct {
	DefaultLanguage   string
	DefaultAgentLabel string
	// RetainRawPII 为 true 时同时保存用户原文（审计用途）。
	RetainRawPII bool
}

func loadChatConfig() (ChatConfig, error) {
	retain, err := parseBoolEnv("RAW_PII_RETENTION", true)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{
		DefaultLanguage:   getEnvOrDefault("DEFAULT_LANGUAGE", "vi"),
		DefaultAgentLabel: getEnvOrDefault("DEFAULT_AGENT_LABEL", "Nhân viên hỗ trợ"),
		RetainRawPII:      retain,
	}, nil
}

// AuthConfig 描述身份令牌校验配置。
type AuthConfig struct {
	JWTSecret string
}

// TemplatesConfig 描述提示词模板种子文件。
type TemplatesConfig struct {
	File string
}

// LogConfig 描述日志级别与输出格式（json 或 console）。
type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
