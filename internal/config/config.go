package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Cache     CacheConfig
	Extract   ExtractConfig
	Security  SecurityConfig
	Images    ImagesConfig
	Analytics AnalyticsConfig
}

type AppConfig struct {
	Port           string        `validate:"required,numeric"`
	ResolveTimeout time.Duration `validate:"gt=0"`
	CleanupEvery   time.Duration `validate:"gt=0"`
}

type DBConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	Name     string `validate:"required"`
}

// RedisConfig: пустой Host отключает Redis, остаётся только локальный кэш
type RedisConfig struct {
	Host     string
	Port     string `validate:"required_with=Host"`
	Password string
	DB       int `validate:"gte=0"`
}

type AuthConfig struct {
	APIKeys map[string]string // API key -> name/description
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `validate:"gt=0"`
	BurstSize         int     `validate:"gt=0"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	File   string
}

type CacheConfig struct {
	TTL       time.Duration `validate:"gt=0"`
	LocalSize int           `validate:"gt=0"`
}

type ExtractConfig struct {
	Timeout      time.Duration `validate:"gt=0"`
	MaxRedirects int           `validate:"gte=0,lte=20"`
	MaxBodyBytes int64         `validate:"gt=0"`
	UserAgent    string        `validate:"required"`
}

type SecurityConfig struct {
	ProbeTimeout     time.Duration `validate:"gt=0"`
	MinScore         int           `validate:"gte=0,lte=100"`
	GoodDomains      []string
	BlockedDomains   []string
	SuspiciousTLDs   []string
	ShortenerDomains []string
	PhishingKeywords []string
}

type ImagesConfig struct {
	Enabled   bool
	Endpoint  string `validate:"required_if=Enabled true"`
	AccessKey string
	SecretKey string
	Bucket    string `validate:"required_if=Enabled true"`
	UseSSL    bool
	PublicURL string `validate:"omitempty,url"`
	MaxBytes  int64  `validate:"gt=0"`
}

type AnalyticsConfig struct {
	Workers    int `validate:"gt=0,lte=64"`
	Buffer     int `validate:"gt=0"`
	MaxRetries int `validate:"gte=0"`
}

// Load читает .env по пути path (отсутствие файла не ошибка),
// накладывает переменные окружения и проверяет результат.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = ".env"
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.ResolveTimeout = v.GetDuration("APP_RESOLVE_TIMEOUT")
	cfg.App.CleanupEvery = v.GetDuration("APP_CLEANUP_INTERVAL")

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	// Format: key1:name1,key2:name2
	cfg.Auth.APIKeys = parseAPIKeys(v.GetString("API_KEYS"))

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")

	cfg.Log.Level = strings.ToLower(v.GetString("LOG_LEVEL"))
	cfg.Log.Format = strings.ToLower(v.GetString("LOG_FORMAT"))
	cfg.Log.File = v.GetString("LOG_FILE")

	cfg.Cache.TTL = v.GetDuration("CACHE_TTL")
	cfg.Cache.LocalSize = v.GetInt("CACHE_LOCAL_SIZE")

	cfg.Extract.Timeout = v.GetDuration("EXTRACT_TIMEOUT")
	cfg.Extract.MaxRedirects = v.GetInt("EXTRACT_MAX_REDIRECTS")
	cfg.Extract.MaxBodyBytes = v.GetInt64("EXTRACT_MAX_BODY_BYTES")
	cfg.Extract.UserAgent = v.GetString("EXTRACT_USER_AGENT")

	cfg.Security.ProbeTimeout = v.GetDuration("SECURITY_PROBE_TIMEOUT")
	cfg.Security.MinScore = v.GetInt("SECURITY_MIN_SCORE")
	cfg.Security.GoodDomains = parseList(v.GetString("SECURITY_GOOD_DOMAINS"))
	cfg.Security.BlockedDomains = parseList(v.GetString("SECURITY_BLOCKED_DOMAINS"))
	cfg.Security.SuspiciousTLDs = parseList(v.GetString("SECURITY_SUSPICIOUS_TLDS"))
	cfg.Security.ShortenerDomains = parseList(v.GetString("SECURITY_SHORTENER_DOMAINS"))
	cfg.Security.PhishingKeywords = parseList(v.GetString("SECURITY_PHISHING_KEYWORDS"))

	cfg.Images.Enabled = v.GetBool("IMAGES_ENABLED")
	cfg.Images.Endpoint = v.GetString("IMAGES_ENDPOINT")
	cfg.Images.AccessKey = v.GetString("IMAGES_ACCESS_KEY")
	cfg.Images.SecretKey = v.GetString("IMAGES_SECRET_KEY")
	cfg.Images.Bucket = v.GetString("IMAGES_BUCKET")
	cfg.Images.UseSSL = v.GetBool("IMAGES_USE_SSL")
	cfg.Images.PublicURL = v.GetString("IMAGES_PUBLIC_URL")
	cfg.Images.MaxBytes = v.GetInt64("IMAGES_MAX_BYTES")

	cfg.Analytics.Workers = v.GetInt("ANALYTICS_WORKERS")
	cfg.Analytics.Buffer = v.GetInt("ANALYTICS_BUFFER")
	cfg.Analytics.MaxRetries = v.GetInt("ANALYTICS_MAX_RETRIES")

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_RESOLVE_TIMEOUT", 20*time.Second)
	v.SetDefault("APP_CLEANUP_INTERVAL", time.Hour)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "link_preview")

	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CACHE_TTL", 24*time.Hour)
	v.SetDefault("CACHE_LOCAL_SIZE", 5000)

	v.SetDefault("EXTRACT_TIMEOUT", 10*time.Second)
	v.SetDefault("EXTRACT_MAX_REDIRECTS", 5)
	v.SetDefault("EXTRACT_MAX_BODY_BYTES", 2<<20)
	v.SetDefault("EXTRACT_USER_AGENT", "Mozilla/5.0 (compatible; LinkPreviewBot/1.0)")

	v.SetDefault("SECURITY_PROBE_TIMEOUT", 5*time.Second)
	v.SetDefault("SECURITY_MIN_SCORE", 50)

	v.SetDefault("IMAGES_ENABLED", false)
	v.SetDefault("IMAGES_BUCKET", "link-previews")
	v.SetDefault("IMAGES_MAX_BYTES", 10<<20)

	v.SetDefault("ANALYTICS_WORKERS", 3)
	v.SetDefault("ANALYTICS_BUFFER", 1000)
	v.SetDefault("ANALYTICS_MAX_RETRIES", 3)
}

// parseAPIKeys parses comma-separated API keys in format "key1:name1,key2:name2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}

// parseList разбирает список через запятую, для пустой строки возвращает nil
func parseList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
