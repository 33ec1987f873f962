package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

type Config struct {
	AppName       string              `mapstructure:"app_name"`
	AppVersion    string              `mapstructure:"app_version"`
	Environment   string              `mapstructure:"environment"`
	AppURL        string              `mapstructure:"app_url"`
	SnowflakeNode int64               `mapstructure:"snowflake_node"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Usage         UsageConfig         `mapstructure:"usage"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Email         EmailConfig         `mapstructure:"email"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	TokenCacheTTL time.Duration `mapstructure:"token_cache_ttl"`
}

type UsageConfig struct {
	CounterStore    string        `mapstructure:"counter_store"`
	GuestDailyLimit int           `mapstructure:"guest_daily_limit"`
	FreeDailyLimit  int           `mapstructure:"free_daily_limit"`
	PaidDailyLimit  int           `mapstructure:"paid_daily_limit"`
	Timezone        string        `mapstructure:"timezone"`
	RetentionDays   int           `mapstructure:"retention_days"`
	RetentionPoll   time.Duration `mapstructure:"retention_poll"`
}

type PaymentConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIBaseURL        string        `mapstructure:"api_base_url"`
	APIKey            string        `mapstructure:"api_key"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	MonthlyProductID  string        `mapstructure:"monthly_product_id"`
	LifetimeProductID string        `mapstructure:"lifetime_product_id"`
	MonthlyAmount     int64         `mapstructure:"monthly_amount"`
	LifetimeAmount    int64         `mapstructure:"lifetime_amount"`
	Currency          string        `mapstructure:"currency"`
	MonthlyPeriod     time.Duration `mapstructure:"monthly_period"`
	ConfirmWindow     time.Duration `mapstructure:"confirm_window"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

type ChatConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RateLimitDelay  time.Duration `mapstructure:"rate_limit_delay"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	HistoryMessages int           `mapstructure:"history_messages"`
}

type SpeechConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	Cluster        string        `mapstructure:"cluster"`
	VoiceType      string        `mapstructure:"voice_type"`
	Encoding       string        `mapstructure:"encoding"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type EmailConfig struct {
	ResendAPIKey string        `mapstructure:"resend_api_key"`
	From         string        `mapstructure:"from"`
	FromName     string        `mapstructure:"from_name"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type ObservabilityConfig struct {
	LogLevel         string  `mapstructure:"log_level"`
	TracingEnabled   bool    `mapstructure:"tracing_enabled"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	ExporterProtocol string  `mapstructure:"exporter_protocol"`
	ExporterInsecure bool    `mapstructure:"exporter_insecure"`
	ExporterHeaders  string  `mapstructure:"exporter_headers"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio"`
	MetricsEnabled   bool    `mapstructure:"metrics_enabled"`
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvProduction)
}

// Load reads .env (when present), an optional YAML file named by
// COMPANION_CONFIG, and COMPANION_* environment variables, in that order of
// increasing precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COMPANION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("COMPANION_CONFIG")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
	default:
		return errors.New("invalid_database_driver")
	}
	switch strings.ToLower(c.Usage.CounterStore) {
	case "sql", "redis":
	default:
		return errors.New("invalid_counter_store")
	}
	if strings.EqualFold(c.Usage.CounterStore, "redis") && strings.TrimSpace(c.Redis.URL) == "" {
		return errors.New("missing_redis_url")
	}
	if _, err := time.LoadLocation(c.Usage.Timezone); err != nil {
		return errors.New("invalid_usage_timezone")
	}
	if c.IsProduction() {
		if strings.TrimSpace(c.Auth.JWTSecret) == "" {
			return errors.New("missing_jwt_secret")
		}
		if strings.TrimSpace(c.Payment.WebhookSecret) == "" {
			return errors.New("missing_webhook_secret")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "companion")
	v.SetDefault("app_version", "dev")
	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("app_url", "http://localhost:3000")
	v.SetDefault("snowflake_node", 1)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "120s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "companion.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("auth.token_cache_ttl", "5m")

	v.SetDefault("usage.counter_store", "sql")
	v.SetDefault("usage.guest_daily_limit", 3)
	v.SetDefault("usage.free_daily_limit", 10)
	v.SetDefault("usage.paid_daily_limit", 100)
	v.SetDefault("usage.timezone", "UTC")
	v.SetDefault("usage.retention_days", 30)
	v.SetDefault("usage.retention_poll", "1h")

	v.SetDefault("payment.provider", "creem")
	v.SetDefault("payment.api_base_url", "https://api.creem.io")
	v.SetDefault("payment.api_key", "")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.monthly_product_id", "")
	v.SetDefault("payment.lifetime_product_id", "")
	v.SetDefault("payment.monthly_amount", 990)
	v.SetDefault("payment.lifetime_amount", 9900)
	v.SetDefault("payment.currency", "CNY")
	v.SetDefault("payment.monthly_period", "720h")
	v.SetDefault("payment.confirm_window", "10m")
	v.SetDefault("payment.request_timeout", "15s")

	v.SetDefault("chat.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("chat.api_key", "")
	v.SetDefault("chat.model", "moonshotai/kimi-k2:free")
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_tokens", 500)
	v.SetDefault("chat.max_attempts", 3)
	v.SetDefault("chat.rate_limit_delay", "5s")
	v.SetDefault("chat.retry_delay", "3s")
	v.SetDefault("chat.request_timeout", "60s")
	v.SetDefault("chat.history_messages", 5)

	v.SetDefault("speech.url", "https://openspeech.bytedance.com/api/v1/tts")
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.cluster", "volcano_tts")
	v.SetDefault("speech.voice_type", "BV001")
	v.SetDefault("speech.encoding", "mp3")
	v.SetDefault("speech.request_timeout", "30s")

	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.from", "noreply@companion.local")
	v.SetDefault("email.from_name", "Companion")
	v.SetDefault("email.poll_interval", "5s")
	v.SetDefault("email.batch_size", 20)

	v.SetDefault("ratelimit.requests", 30)
	v.SetDefault("ratelimit.window", "1m")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.exporter_endpoint", "")
	v.SetDefault("observability.exporter_protocol", "grpc")
	v.SetDefault("observability.exporter_insecure", true)
	v.SetDefault("observability.exporter_headers", "")
	v.SetDefault("observability.sampling_ratio", 0.1)
	v.SetDefault("observability.metrics_enabled", true)
}
