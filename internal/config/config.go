package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	OpenAI   OpenAIConfig   `json:"openai"`
	SQLite   SQLiteConfig   `json:"sqlite"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                string        `json:"env"`                   // 运行环境: local / prod
	LogLevel           string        `json:"log_level"`             // 日志级别: debug / info / warn / error
	HTTPAddr           string        `json:"http_addr"`             // API 服务监听地址
	PollInterval       time.Duration `json:"poll_interval"`         // 价格轮询间隔（如 "6h"）
	CallDelay          time.Duration `json:"call_delay"`            // 轮询中相邻商品之间的延迟（如 "2s"）
	MaxDealsPerSearch  int           `json:"max_deals_per_search"`  // 每次搜索返回的最大折扣数
	MaxProductsPerUser int           `json:"max_products_per_user"` // 每个用户最大追踪商品数
	RateLimit          float64       `json:"rate_limit"`            // LLM 调用限流速率（token/s）
	RateBurst          float64       `json:"rate_burst"`            // 限流桶容量
	DedupWindow        int           `json:"dedup_window"`          // 重复追踪请求去重窗口（秒）
	SearchCacheTTL     time.Duration `json:"search_cache_ttl"`      // 交互式搜索结果缓存时间
}

// OpenAIConfig 折扣查询服务（LLM API）配置。
type OpenAIConfig struct {
	APIKey      string  `json:"api_key"`     // API 凭证
	Model       string  `json:"model"`       // 模型名称
	BaseURL     string  `json:"base_url"`    // 自定义 API 地址（为空使用官方默认）
	Temperature float64 `json:"temperature"` // 采样温度
}

// SQLiteConfig 嵌入式数据库配置。
type SQLiteConfig struct {
	Path string `json:"path"` // 数据库文件路径
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // JWT 签名密钥
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先覆盖文件中的配置。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate 检查启动所必需的配置。
//
// 缺少 LLM API 凭证属于配置错误，进程应当在启动时立即失败，
// 而不是等到第一次轮询时才报错。
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key is required (set OPENAI_API_KEY)")
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                "local",
			LogLevel:           "info",
			HTTPAddr:           ":8081",
			PollInterval:       6 * time.Hour,
			CallDelay:          2 * time.Second,
			MaxDealsPerSearch:  5,
			MaxProductsPerUser: 20,
			RateLimit:          1,
			RateBurst:          3,
			DedupWindow:        3600,
			SearchCacheTTL:     10 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o",
			Temperature: 0.7,
		},
		SQLite: SQLiteConfig{
			Path: "data/deals.db",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.PollInterval == 0 {
		cfg.App.PollInterval = defaults.App.PollInterval
	}
	if cfg.App.CallDelay == 0 {
		cfg.App.CallDelay = defaults.App.CallDelay
	}
	if cfg.App.MaxDealsPerSearch == 0 {
		cfg.App.MaxDealsPerSearch = defaults.App.MaxDealsPerSearch
	}
	if cfg.App.MaxProductsPerUser == 0 {
		cfg.App.MaxProductsPerUser = defaults.App.MaxProductsPerUser
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.App.SearchCacheTTL == 0 {
		cfg.App.SearchCacheTTL = defaults.App.SearchCacheTTL
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = defaults.OpenAI.Model
	}
	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = defaults.OpenAI.Temperature
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = defaults.SQLite.Path
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("openai_api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.PollInterval = d
		}
	}
	if v := os.Getenv("APP_CALL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.CallDelay = d
		}
	}
	if v := os.Getenv("APP_MAX_DEALS_PER_SEARCH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxDealsPerSearch = i
		}
	}
	if v := os.Getenv("APP_MAX_PRODUCTS_PER_USER"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxProductsPerUser = i
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DedupWindow = i
		}
	}
	if v := os.Getenv("APP_SEARCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SearchCacheTTL = d
		}
	}

	if v := viper.GetString("openai_api_key"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OpenAI.Temperature = f
		}
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		PollInterval   string `json:"poll_interval"`
		CallDelay      string `json:"call_delay"`
		SearchCacheTTL string `json:"search_cache_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.PollInterval != "" {
		duration, err := time.ParseDuration(aux.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval format: %w", err)
		}
		a.PollInterval = duration
	}
	if aux.CallDelay != "" {
		duration, err := time.ParseDuration(aux.CallDelay)
		if err != nil {
			return fmt.Errorf("invalid call_delay format: %w", err)
		}
		a.CallDelay = duration
	}
	if aux.SearchCacheTTL != "" {
		duration, err := time.ParseDuration(aux.SearchCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid search_cache_ttl format: %w", err)
		}
		a.SearchCacheTTL = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		PollInterval   string `json:"poll_interval"`
		CallDelay      string `json:"call_delay"`
		SearchCacheTTL string `json:"search_cache_ttl"`
		*Alias
	}{
		PollInterval:   a.PollInterval.String(),
		CallDelay:      a.CallDelay.String(),
		SearchCacheTTL: a.SearchCacheTTL.String(),
		Alias:          (*Alias)(&a),
	})
}
