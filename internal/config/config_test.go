package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Env)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	require.Equal(t, 30*24*time.Hour, cfg.Token.RefreshTTL)
	require.True(t, cfg.Token.AllowMissingKeyID)
	require.Equal(t, "refresh_token", cfg.Cookies.RefreshName)
	require.Equal(t, "/auth", cfg.Cookies.RefreshPath)
	require.Equal(t, 10, cfg.Security.MaxSessions)
	require.Equal(t, 800*time.Millisecond, cfg.Security.StoreTimeout)
	require.Empty(t, cfg.Kafka.Brokers)
	require.False(t, cfg.Production())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SHOPFRONT_HTTP_ADDR", ":9000")
	t.Setenv("SHOPFRONT_TOKEN_ACCESS_TTL", "5m")
	t.Setenv("SHOPFRONT_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SHOPFRONT_SECURITY_DEFAULT_ROLE", "customer")
	t.Setenv("SHOPFRONT_TOKEN_ALLOW_MISSING_KID", "false")
	t.Setenv("SHOPFRONT_SECURITY_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, 5*time.Minute, cfg.Token.AccessTTL)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "CUSTOMER", cfg.Security.DefaultRole)
	require.False(t, cfg.Token.AllowMissingKeyID)
	require.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, cfg.Security.TrustedProxies)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shopfront.yaml")
	body := "http_addr: \":7000\"\nsecurity:\n  max_sessions: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("SHOPFRONT_CONFIG", path)
	t.Setenv("SHOPFRONT_SECURITY_MAX_SESSIONS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.HTTPAddr)
	require.Equal(t, 4, cfg.Security.MaxSessions)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("SHOPFRONT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestProductionRequiresKeys(t *testing.T) {
	t.Setenv("SHOPFRONT_ENV", "production")
	_, err := Load()
	require.ErrorContains(t, err, "production requires key PEM paths")
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		t.Helper()
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}
	cases := map[string]func(*Config){
		"partial keys":     func(c *Config) { c.Keys.AccessPrivate = "a.pem" },
		"ttl order":        func(c *Config) { c.Token.AccessTTL = c.Token.RefreshTTL },
		"bcrypt range":     func(c *Config) { c.Security.BcryptCost = 40 },
		"sessions":         func(c *Config) { c.Security.MaxSessions = 0 },
		"bootstrap half":   func(c *Config) { c.Bootstrap.AdminEmail = "root@example.com" },
		"relative path":    func(c *Config) { c.Cookies.RefreshPath = "auth" },
		"unknown env":      func(c *Config) { c.Env = "qa" },
		"kafka sans topic": func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.AuditTopic = "" },
		"bad proxy":        func(c *Config) { c.Security.TrustedProxies = []string{"lb.internal"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
