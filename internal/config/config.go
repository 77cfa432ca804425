package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime configuration. Values come from defaults, an optional
// threatwatch.yaml and TW_* environment variables, in increasing precedence.
type Config struct {
	Environment string          `mapstructure:"environment"`
	HTTPPort    string          `mapstructure:"http_port"`
	AppURL      string          `mapstructure:"app_url"`
	Log         LogConfig       `mapstructure:"log"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	SMTP        SMTPConfig      `mapstructure:"smtp"`
	Mail        MailConfig      `mapstructure:"mail"`
	Internal    InternalConfig  `mapstructure:"internal"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Webhook     WebhookConfig   `mapstructure:"webhook"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
}

type LogConfig struct {
	Debug bool   `mapstructure:"debug"`
	Dir   string `mapstructure:"dir"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`   // sqlite file path
	DSN    string `mapstructure:"dsn"`    // postgres DSN
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig holds per-call-site budgets. Backend is "redis", "sql" or
// "memory"; an empty backend picks redis when an address is configured.
type RateLimitConfig struct {
	Backend        string        `mapstructure:"backend"`
	IngestMax      int           `mapstructure:"ingest_max"`
	IngestWindow   time.Duration `mapstructure:"ingest_window"`
	InternalMax    int           `mapstructure:"internal_max"`
	InternalWindow time.Duration `mapstructure:"internal_window"`
}

type SMTPConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Encryption string        `mapstructure:"encryption"` // none, ssl, starttls
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MailConfig struct {
	From        string `mapstructure:"from"`
	ReplyTo     string `mapstructure:"reply_to"`
	Unsubscribe string `mapstructure:"unsubscribe"`
}

type InternalConfig struct {
	Secret string `mapstructure:"secret"`
}

type SchedulerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ThreatAlertsSpec string        `mapstructure:"threat_alerts_spec"`
	Concurrency      int           `mapstructure:"concurrency"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PruneSpec        string        `mapstructure:"prune_spec"`
}

type WebhookConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	AllowLoopback bool          `mapstructure:"allow_loopback"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// MinInternalSecretLen is the shortest accepted shared secret for internal callers.
const MinInternalSecretLen = 16

var ErrInternalSecretTooShort = errors.New("internal secret must be at least 16 characters")

// setDefaults registers every key, including empty ones. AutomaticEnv only
// reaches keys viper already knows about when unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("http_port", "8080")
	v.SetDefault("app_url", "http://localhost:3000")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.dir", filepath.Join("data", "logs"))
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join("data", "threatwatch.db"))
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.backend", "")
	v.SetDefault("ratelimit.ingest_max", 500)
	v.SetDefault("ratelimit.ingest_window", time.Minute)
	v.SetDefault("ratelimit.internal_max", 120)
	v.SetDefault("ratelimit.internal_window", time.Minute)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.encryption", "starttls")
	v.SetDefault("smtp.timeout", 30*time.Second)
	v.SetDefault("mail.from", "Threatwatch <alerts@threatwatch.local>")
	v.SetDefault("mail.reply_to", "")
	v.SetDefault("mail.unsubscribe", "<mailto:support@threatwatch.local?subject=unsubscribe>")
	v.SetDefault("internal.secret", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.threat_alerts_spec", "@every 5m")
	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("scheduler.timeout", 4*time.Minute)
	v.SetDefault("scheduler.prune_spec", "@every 10m")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.allow_loopback", false)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "scan.completed")
	v.SetDefault("kafka.group_id", "threatwatch")
}

// Load reads configuration and falls back to defaults so the server can boot
// with zero configuration in development.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("threatwatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if dir := os.Getenv("TW_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("TW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure data directory: %w", err)
		}
	}

	return cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.RateLimit.Backend {
	case "", "memory", "sql":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("unsupported rate limit backend: %s", c.RateLimit.Backend)
	}

	if c.Internal.Secret != "" && len(c.Internal.Secret) < MinInternalSecretLen {
		return ErrInternalSecretTooShort
	}
	if c.RateLimit.IngestMax <= 0 {
		return errors.New("ratelimit.ingest_max must be positive")
	}
	return nil
}

// RateLimitBackend resolves the effective backend name.
func (c Config) RateLimitBackend() string {
	if c.RateLimit.Backend != "" {
		return c.RateLimit.Backend
	}
	if c.Redis.Addr != "" {
		return "redis"
	}
	return "sql"
}
