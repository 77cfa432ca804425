package config

import (
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TW_DATABASE_PATH", filepath.Join(dir, "data", "tw.db"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 500, cfg.RateLimit.IngestMax)
	assert.Equal(t, time.Minute, cfg.RateLimit.IngestWindow)
	assert.Equal(t, "@every 5m", cfg.Scheduler.ThreatAlertsSpec)
	assert.Equal(t, 4*time.Minute, cfg.Scheduler.Timeout)
	assert.Equal(t, "@every 10m", cfg.Scheduler.PruneSpec)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, "sql", cfg.RateLimitBackend())

	_, err = os.Stat(filepath.Join(dir, "data"))
	assert.NoError(t, err, "sqlite data directory should be created")
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TW_DATABASE_PATH", filepath.Join(dir, "tw.db"))
	t.Setenv("TW_HTTP_PORT", "9090")
	t.Setenv("TW_REDIS_ADDR", "localhost:6379")
	t.Setenv("TW_RATELIMIT_INGEST_MAX", "50")
	t.Setenv("TW_WEBHOOK_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 50, cfg.RateLimit.IngestMax)
	assert.Equal(t, 3*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, "redis", cfg.RateLimitBackend())
}

func TestLoad_EnvOnlyKeys(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TW_DATABASE_PATH", filepath.Join(dir, "tw.db"))
	t.Setenv("TW_INTERNAL_SECRET", "0123456789abcdef-secret")
	t.Setenv("TW_SMTP_HOST", "smtp.example.com")
	t.Setenv("TW_SMTP_USERNAME", "mailer")
	t.Setenv("TW_SMTP_PASSWORD", "hunter2")
	t.Setenv("TW_MAIL_REPLY_TO", "support@example.com")
	t.Setenv("TW_REDIS_PASSWORD", "redis-pass")
	t.Setenv("TW_RATELIMIT_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef-secret", cfg.Internal.Secret)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, "mailer", cfg.SMTP.Username)
	assert.Equal(t, "hunter2", cfg.SMTP.Password)
	assert.Equal(t, "support@example.com", cfg.Mail.ReplyTo)
	assert.Equal(t, "redis-pass", cfg.Redis.Password)
	assert.Equal(t, "memory", cfg.RateLimitBackend())
}

func TestLoad_PostgresDSNFromEnv(t *testing.T) {
	t.Setenv("TW_DATABASE_DRIVER", "postgres")
	t.Setenv("TW_DATABASE_DSN", "postgres://tw:tw@db:5432/tw?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://tw:tw@db:5432/tw?sslmode=disable", cfg.Database.DSN)
}

// leafKeys lists the dotted mapstructure path of every scalar field.
func leafKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		key := prefix + f.Tag.Get("mapstructure")
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, leafKeys(f.Type, key+".")...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func TestSetDefaults_CoversEveryKey(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	known := v.AllKeys()
	for _, key := range leafKeys(reflect.TypeOf(Config{}), "") {
		assert.True(t, slices.Contains(known, key), "no default for %s, its TW_ variable would be ignored", key)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("http_port: \"7070\"\nmail:\n  from: \"Ops <ops@example.com>\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "threatwatch.yaml"), yaml, 0o600))
	t.Setenv("TW_CONFIG_DIR", dir)
	t.Setenv("TW_DATABASE_PATH", filepath.Join(dir, "tw.db"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.HTTPPort)
	assert.Equal(t, "Ops <ops@example.com>", cfg.Mail.From)
}

func TestValidate(t *testing.T) {
	base := Config{
		Database:  DatabaseConfig{Driver: "sqlite", Path: "x.db"},
		RateLimit: RateLimitConfig{IngestMax: 500},
	}
	assert.NoError(t, base.Validate())

	pg := base
	pg.Database = DatabaseConfig{Driver: "postgres"}
	assert.Error(t, pg.Validate())

	unknown := base
	unknown.Database.Driver = "mysql"
	assert.Error(t, unknown.Validate())

	redis := base
	redis.RateLimit.Backend = "redis"
	assert.Error(t, redis.Validate())

	short := base
	short.Internal.Secret = "too-short"
	assert.ErrorIs(t, short.Validate(), ErrInternalSecretTooShort)

	zero := base
	zero.RateLimit.IngestMax = 0
	assert.Error(t, zero.Validate())
}
