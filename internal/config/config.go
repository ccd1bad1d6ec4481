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
	Server  ServerConfig
	AI      AIConfig
	Bot     BotConfig
	Media   MediaConfig
	Storage StorageConfig
	Relay   RelayConfig
	Stats   StatsConfig
	Log     LogConfig
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

	bot, err := loadBotConfig()
	if err != nil {
		return nil, err
	}

	media, err := loadMediaConfig()
	if err != nil {
		return nil, err
	}

	stats, err := loadStatsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Bot:    bot,
		Media:  media,
		Storage: StorageConfig{
			MongoURI:      strings.TrimSpace(os.Getenv("MONGODB_URI")),
			MongoDatabase: getEnvOrDefault("MONGODB_DATABASE", "tavern"),
		},
		Relay: RelayConfig{
			RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),
			Channel:  getEnvOrDefault("REDIS_CHANNEL", "tavern:events"),
		},
		Stats: stats,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	shutdown, err := parseDurationEnv("SHUTDOWN_TIMEOUT_SECONDS", time.Second, 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, ShutdownTimeout: shutdown}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, ShutdownTimeout: shutdown}, nil
}

// AIConfig 描述大模型相关配置。APIKeys 中的每个密钥都是一个可轮换的凭证。
type AIConfig struct {
	APIKeys     []string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	MaxAttempts int
	Timeout     time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (len(c.APIKeys) > 0 || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModels 为每个凭证创建一个模型实例。
func (c AIConfig) NewChatModels(ctx context.Context) ([]model.ChatModel, error) {
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

	base := ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	credentials := make([]ark.ChatModelConfig, 0, len(c.APIKeys)+1)
	for _, key := range c.APIKeys {
		cfg := base
		cfg.APIKey = key
		credentials = append(credentials, cfg)
	}
	if len(credentials) == 0 {
		cfg := base
		cfg.AccessKey = c.AccessKey
		cfg.SecretKey = c.SecretKey
		credentials = append(credentials, cfg)
	}

	models := make([]model.ChatModel, 0, len(credentials))
	for i := range credentials {
		chatModel, err := ark.NewChatModel(ctx, &credentials[i])
		if err != nil {
			return nil, fmt.Errorf("create ark model %d: %w", i, err)
		}
		models = append(models, chatModel)
	}
	return models, nil
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

	maxAttempts, err := parseIntEnv("AI_MAX_ATTEMPTS", 2)
	if err != nil {
		return AIConfig{}, err
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT_SECONDS", time.Second, 0)
	if err != nil {
		return AIConfig{}, err
	}

	// ARK_API_KEYS 以逗号分隔多个密钥，兼容旧的单个 ARK_API_KEY。
	keys := splitList(os.Getenv("ARK_API_KEYS"))
	if len(keys) == 0 {
		keys = splitList(os.Getenv("ARK_API_KEY"))
	}

	modelName := strings.TrimSpace(os.Getenv("Model"))
	if modelName == "" {
		modelName = strings.TrimSpace(os.Getenv("ARK_MODEL"))
	}

	return AIConfig{
		APIKeys:     keys,
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       modelName,
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		MaxAttempts: maxAttempts,
		Timeout:     timeout,
	}, nil
}

// BotConfig 描述群聊机器人的身份与节奏。
type BotConfig struct {
	UserID          string
	Name            string
	PersonaID       string
	ContextWindow   int
	ShortWait       time.Duration
	DefaultWait     time.Duration
	LongWait        time.Duration
	TypingPulse     time.Duration
	FallbackEnabled bool
}

func loadBotConfig() (BotConfig, error) {
	window, err := parseIntEnv("BOT_CONTEXT_WINDOW", 15)
	if err != nil {
		return BotConfig{}, err
	}
	if window < 1 {
		window = 1
	}

	shortWait, err := parseDurationEnv("BOT_DEBOUNCE_SHORT_MS", time.Millisecond, 3000*time.Millisecond)
	if err != nil {
		return BotConfig{}, err
	}
	defaultWait, err := parseDurationEnv("BOT_DEBOUNCE_DEFAULT_MS", time.Millisecond, 1500*time.Millisecond)
	if err != nil {
		return BotConfig{}, err
	}
	longWait, err := parseDurationEnv("BOT_DEBOUNCE_LONG_MS", time.Millisecond, 800*time.Millisecond)
	if err != nil {
		return BotConfig{}, err
	}
	if !(shortWait >= defaultWait && defaultWait >= longWait && longWait > 0) {
		return BotConfig{}, fmt.Errorf("bot debounce waits must satisfy short >= default >= long > 0, got %s/%s/%s", shortWait, defaultWait, longWait)
	}

	pulse, err := parseDurationEnv("BOT_TYPING_PULSE_MS", time.Millisecond, 1200*time.Millisecond)
	if err != nil {
		return BotConfig{}, err
	}

	fallback, err := parseBoolEnv("BOT_FALLBACK_ENABLED", false)
	if err != nil {
		return BotConfig{}, err
	}

	return BotConfig{
		UserID:          getEnvOrDefault("BOT_USER_ID", "tavern-bot"),
		Name:            getEnvOrDefault("BOT_NAME", "Tavi"),
		PersonaID:       getEnvOrDefault("BOT_PERSONA", "barkeep"),
		ContextWindow:   window,
		ShortWait:       shortWait,
		DefaultWait:     defaultWait,
		LongWait:        longWait,
		TypingPulse:     pulse,
		FallbackEnabled: fallback,
	}, nil
}

// MediaConfig 描述 GIF 服务配置。
type MediaConfig struct {
	GiphyAPIKey       string
	BaseURL           string
	Rating            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

func loadMediaConfig() (MediaConfig, error) {
	rps, err := parseOptionalFloatEnv("GIPHY_RPS")
	if err != nil {
		return MediaConfig{}, err
	}
	requestsPerSecond := 5.0
	if rps != nil {
		requestsPerSecond = *rps
	}

	timeout, err := parseDurationEnv("GIPHY_TIMEOUT_SECONDS", time.Second, 5*time.Second)
	if err != nil {
		return MediaConfig{}, err
	}

	return MediaConfig{
		GiphyAPIKey:       strings.TrimSpace(os.Getenv("GIPHY_API_KEY")),
		BaseURL:           getEnvOrDefault("GIPHY_BASE_URL", "https://api.giphy.com"),
		Rating:            getEnvOrDefault("GIPHY_RATING", "pg-13"),
		RequestsPerSecond: requestsPerSecond,
		Timeout:           timeout,
	}, nil
}

// StorageConfig 为空 MongoURI 时使用内存存储。
type StorageConfig struct {
	MongoURI      string
	MongoDatabase string
}

// RelayConfig 为空 RedisURL 时不做跨实例广播。
type RelayConfig struct {
	RedisURL string
	Channel  string
}

// StatsConfig 描述用量统计。
type StatsConfig struct {
	Location    *time.Location
	LogCapacity int
}

func loadStatsConfig() (StatsConfig, error) {
	name := getEnvOrDefault("STATS_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return StatsConfig{}, fmt.Errorf("invalid STATS_TIMEZONE value %q: %w", name, err)
	}

	capacity, err := parseIntEnv("STATS_LOG_CAPACITY", 100)
	if err != nil {
		return StatsConfig{}, err
	}
	if capacity < 1 {
		return StatsConfig{}, fmt.Errorf("invalid STATS_LOG_CAPACITY value %d", capacity)
	}

	return StatsConfig{Location: loc, LogCapacity: capacity}, nil
}

// LogConfig 描述日志级别与格式（text 或 json）。
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

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

// parseDurationEnv 读取以 unit 为单位的整数。
func parseDurationEnv(key string, unit, defaultValue time.Duration) (time.Duration, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *val)
	}
	return time.Duration(*val) * unit, nil
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
