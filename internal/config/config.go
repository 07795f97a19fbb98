package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix       = "ANTIGRAVITY2API"
	DefaultPath     = "config.yaml"
	EnvConfigPath   = "CONFIG_PATH"
	defaultUpstream = "https://cloudcode-pa.googleapis.com"
)

// Config 汇总全部运行配置。键名是对外契约，不能改。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	API         APIConfig         `mapstructure:"api"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	Security    SecurityConfig    `mapstructure:"security"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Thinking    ThinkingConfig    `mapstructure:"thinking"`
	OAuth       OAuthConfig       `mapstructure:"oauth"`
	Accounts    AccountsConfig    `mapstructure:"accounts"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type APIConfig struct {
	URL       string `mapstructure:"url"`
	ModelsURL string `mapstructure:"modelsUrl"`
	Host      string `mapstructure:"host"`
	UserAgent string `mapstructure:"userAgent"`
	// Proxy 为空时直连；支持 http/https/socks5。
	Proxy string `mapstructure:"proxy"`
	// TLSFingerprint 可选地伪装 TLS ClientHello（chrome/firefox/safari）。
	TLSFingerprint string `mapstructure:"tlsFingerprint"`
}

type DefaultsConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	TopK        int     `mapstructure:"top_k"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type SecurityConfig struct {
	MaxRequestSize string          `mapstructure:"maxRequestSize"`
	APIKey         string          `mapstructure:"apiKey"`
	RateLimit      RateLimitConfig `mapstructure:"rateLimit"`
}

type RateLimitConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Requests int    `mapstructure:"requests"`
	Window   string `mapstructure:"window"`
}

func (r RateLimitConfig) WindowDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(r.Window))
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

type RetryConfig struct {
	MaxRetries int   `mapstructure:"maxRetries"`
	BaseDelay  int64 `mapstructure:"baseDelay"` // 毫秒
	// RateLimitCooldown 是 429 未携带 Retry-After 时的固定冷却（毫秒）。
	// 故意不做指数退避：多凭据场景下轮换比退避更有效。
	RateLimitCooldown int64 `mapstructure:"rateLimitCooldown"`
}

type ConcurrencyConfig struct {
	// MaxConcurrent 为整数或字符串 "auto"。
	MaxConcurrent       any   `mapstructure:"maxConcurrent"`
	PerTokenConcurrency int   `mapstructure:"perTokenConcurrency"`
	QueueLimit          int   `mapstructure:"queueLimit"`
	Timeout             int64 `mapstructure:"timeout"` // 毫秒
}

// ResolveMaxConcurrent 在启动时解析全局并发上限。
// "auto"（或缺省）按 enabled × perTokenConcurrency 推导，并钳制到 [1,100]。
func (c ConcurrencyConfig) ResolveMaxConcurrent(enabledCredentials int) int {
	if n, ok := coerceInt(c.MaxConcurrent); ok && n > 0 {
		return n
	}
	if s, ok := c.MaxConcurrent.(string); ok {
		trimmed := strings.TrimSpace(strings.ToLower(s))
		if trimmed != "" && trimmed != "auto" {
			if n, err := strconv.Atoi(trimmed); err == nil && n > 0 {
				return n
			}
		}
	}

	per := c.PerTokenConcurrency
	if per <= 0 {
		per = 2
	}
	auto := enabledCredentials * per
	if auto < 1 {
		auto = 1
	}
	if auto > 100 {
		auto = 100
	}
	return auto
}

func (c ConcurrencyConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

const (
	ThinkingOutputReasoning = "reasoning_content"
	ThinkingOutputRaw       = "raw"
	ThinkingOutputFilter    = "filter"
)

type ThinkingConfig struct {
	Output string `mapstructure:"output"`
}

type OAuthConfig struct {
	ClientID     string `mapstructure:"clientId"`
	ClientSecret string `mapstructure:"clientSecret"`
	TokenURL     string `mapstructure:"tokenUrl"`
}

type AccountsConfig struct {
	File            string `mapstructure:"file"`
	RefreshInterval string `mapstructure:"refreshInterval"`
}

func (a AccountsConfig) RefreshIntervalDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(a.RefreshInterval))
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// Load 读取配置文件并套用环境变量覆盖。文件缺失时写出默认配置再继续，
// 保证首次启动开箱即用。
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || isConfigFileNotFound(err) {
			if writeErr := WriteDefault(path); writeErr == nil {
				// 新写出的文件内容即默认值，无需重读。
			}
		} else {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadForBootstrap 使用默认路径加载，供 wire 注入。
func LoadForBootstrap() (*Config, error) {
	return Load("")
}

func isConfigFileNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("api.url", defaultUpstream+"/v1internal:streamGenerateContent?alt=sse")
	v.SetDefault("api.modelsUrl", defaultUpstream+"/v1internal:fetchAvailableModels")
	v.SetDefault("api.host", "cloudcode-pa.googleapis.com")
	v.SetDefault("api.userAgent", "antigravity/1.19.6 windows/amd64")
	v.SetDefault("api.proxy", "")
	v.SetDefault("api.tlsFingerprint", "")

	v.SetDefault("defaults.temperature", 1.0)
	v.SetDefault("defaults.top_p", 0.95)
	v.SetDefault("defaults.top_k", 64)
	v.SetDefault("defaults.max_tokens", 32000)

	v.SetDefault("security.maxRequestSize", "50mb")
	v.SetDefault("security.apiKey", "")
	v.SetDefault("security.rateLimit.enabled", false)
	v.SetDefault("security.rateLimit.requests", 60)
	v.SetDefault("security.rateLimit.window", "1m")

	v.SetDefault("retry.maxRetries", 3)
	v.SetDefault("retry.baseDelay", 1000)
	v.SetDefault("retry.rateLimitCooldown", 2000)

	v.SetDefault("concurrency.maxConcurrent", "auto")
	v.SetDefault("concurrency.perTokenConcurrency", 2)
	v.SetDefault("concurrency.queueLimit", 100)
	v.SetDefault("concurrency.timeout", 300000)

	v.SetDefault("thinking.output", ThinkingOutputReasoning)

	v.SetDefault("oauth.clientId", "")
	v.SetDefault("oauth.clientSecret", "")
	v.SetDefault("oauth.tokenUrl", "")

	v.SetDefault("accounts.file", "data/accounts.json")
	v.SetDefault("accounts.refreshInterval", "30m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.maxAgeDays", 7)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Thinking.Output {
	case ThinkingOutputReasoning, ThinkingOutputRaw, ThinkingOutputFilter:
	case "":
		c.Thinking.Output = ThinkingOutputReasoning
	default:
		return fmt.Errorf("thinking.output must be one of reasoning_content/raw/filter, got %q", c.Thinking.Output)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must be >= 0")
	}
	if c.Concurrency.PerTokenConcurrency <= 0 {
		c.Concurrency.PerTokenConcurrency = 2
	}
	if c.Concurrency.QueueLimit < 0 {
		c.Concurrency.QueueLimit = 0
	}
	if _, err := c.MaxRequestBytes(); err != nil {
		return err
	}
	return nil
}

// MaxRequestBytes 解析 security.maxRequestSize（"50mb"、"512kb" 或纯字节数）。
func (c *Config) MaxRequestBytes() (int64, error) {
	return parseByteSize(c.Security.MaxRequestSize)
}

func parseByteSize(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 50 << 20, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "gb"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "mb"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "kb"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "b"):
		s = strings.TrimSuffix(s, "b")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid security.maxRequestSize: %q", raw)
	}
	return n * multiplier, nil
}

// WriteDefault 把默认配置写到指定路径，带一行头注释。
func WriteDefault(path string) error {
	defaults := map[string]any{
		"server": map[string]any{"host": "0.0.0.0", "port": 8080},
		"api": map[string]any{
			"url":       defaultUpstream + "/v1internal:streamGenerateContent?alt=sse",
			"modelsUrl": defaultUpstream + "/v1internal:fetchAvailableModels",
			"host":      "cloudcode-pa.googleapis.com",
			"userAgent": "antigravity/1.19.6 windows/amd64",
		},
		"defaults": map[string]any{"temperature": 1.0, "top_p": 0.95, "top_k": 64, "max_tokens": 32000},
		"security": map[string]any{"maxRequestSize": "50mb", "apiKey": nil},
		"retry":    map[string]any{"maxRetries": 3, "baseDelay": 1000},
		"concurrency": map[string]any{
			"maxConcurrent":       "auto",
			"perTokenConcurrency": 2,
			"queueLimit":          100,
			"timeout":             300000,
		},
		"thinking": map[string]any{"output": ThinkingOutputReasoning},
		"accounts": map[string]any{"file": "data/accounts.json", "refreshInterval": "30m"},
		"log":      map[string]any{"level": "info", "format": "auto"},
	}

	body, err := yaml.Marshal(defaults)
	if err != nil {
		return err
	}
	content := append([]byte("# antigravity2api configuration\n"), body...)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, content, 0o644)
}
