package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad_Defaults проверяет значения по умолчанию без файла
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5000, cfg.Cache.LocalSize)
	assert.Equal(t, 10*time.Second, cfg.Extract.Timeout)
	assert.Equal(t, 5, cfg.Extract.MaxRedirects)
	assert.Equal(t, int64(2<<20), cfg.Extract.MaxBodyBytes)
	assert.Equal(t, 50, cfg.Security.MinScore)
	assert.Equal(t, 5*time.Second, cfg.Security.ProbeTimeout)
	assert.Equal(t, 3, cfg.Analytics.Workers)
	assert.False(t, cfg.Images.Enabled)
	assert.Empty(t, cfg.Redis.Host)
}

// TestLoad_FromFile проверяет чтение .env
func TestLoad_FromFile(t *testing.T) {
	path := writeEnv(t, `APP_PORT=9090
DB_HOST=db
DB_PORT=5433
DB_USER=preview
DB_PASSWORD=secret
DB_NAME=previews
REDIS_HOST=cache
REDIS_DB=2
API_KEYS=abc:admin, def:ops
CACHE_TTL=1h
SECURITY_GOOD_DOMAINS=Example.com, golang.org
SECURITY_MIN_SCORE=60
LOG_LEVEL=DEBUG
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "db", cfg.DB.Host)
	assert.Equal(t, "5433", cfg.DB.Port)
	assert.Equal(t, "secret", cfg.DB.Password)
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, map[string]string{"abc": "admin", "def": "ops"}, cfg.Auth.APIKeys)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, []string{"example.com", "golang.org"}, cfg.Security.GoodDomains)
	assert.Equal(t, 60, cfg.Security.MinScore)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// TestLoad_EnvOverridesFile проверяет приоритет переменных окружения
func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeEnv(t, "APP_PORT=9090\n")
	t.Setenv("APP_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.App.Port)
}

// TestLoad_Invalid проверяет валидацию
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  string
	}{
		{"bad log level", "LOG_LEVEL=verbose\n"},
		{"score out of range", "SECURITY_MIN_SCORE=150\n"},
		{"images without endpoint", "IMAGES_ENABLED=true\n"},
		{"non numeric port", "APP_PORT=http\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeEnv(t, tt.env))
			assert.Error(t, err)
		})
	}
}

// TestParseAPIKeys проверяет разбор ключей
func TestParseAPIKeys(t *testing.T) {
	assert.Empty(t, parseAPIKeys(""))
	assert.Equal(t, map[string]string{"k": "name"}, parseAPIKeys("k:name,broken"))
}
