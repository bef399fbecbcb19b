// Package config loads service settings from SHOPFRONT_* environment
// variables, optionally layered over a file named by SHOPFRONT_CONFIG.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const envPrefix = "SHOPFRONT"

// Config holds all service configuration.
type Config struct {
	Env       string
	LogLevel  string
	HTTPAddr  string
	GRPCAddr  string
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Keys      KeysConfig
	Token     TokenConfig
	Cookies   CookieConfig
	Security  SecurityConfig
	Telemetry TelemetryConfig
	Bootstrap BootstrapConfig
}

// PostgresConfig selects the durable store. An empty DSN uses the in-memory store.
type PostgresConfig struct {
	DSN string
}

// RedisConfig enables the distributed refresh lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig enables the audit topic sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	ClientID   string
}

// KeysConfig points at PEM files for the two signing purposes.
type KeysConfig struct {
	AccessPrivate  string
	AccessPublic   string
	RefreshPrivate string
	RefreshPublic  string
}

// Complete reports whether every PEM path is set.
func (k KeysConfig) Complete() bool {
	return k.AccessPrivate != "" && k.AccessPublic != "" && k.RefreshPrivate != "" && k.RefreshPublic != ""
}

func (k KeysConfig) empty() bool {
	return k.AccessPrivate == "" && k.AccessPublic == "" && k.RefreshPrivate == "" && k.RefreshPublic == ""
}

type TokenConfig struct {
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	AllowMissingKeyID bool
}

type CookieConfig struct {
	RefreshName string
	RefreshPath string
	AccessName  string
}

type SecurityConfig struct {
	BcryptCost      int
	MaxSessions     int
	DefaultRole     string
	StoreTimeout    time.Duration
	LoginRatePerSec float64
	LoginBurst      int
	TrustedProxies  []string
}

type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// BootstrapConfig creates or promotes a super admin at startup when both fields are set.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

// Production reports whether the service runs with production hardening.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads the environment (and optional config file) and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := bind(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", "")

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.audit_topic", "shopfront.audit")
	v.SetDefault("kafka.client_id", "shopfront-auth")

	v.SetDefault("keys.access_private", "")
	v.SetDefault("keys.access_public", "")
	v.SetDefault("keys.refresh_private", "")
	v.SetDefault("keys.refresh_public", "")

	v.SetDefault("token.issuer", "shopfront")
	v.SetDefault("token.access_ttl", "15m")
	v.SetDefault("token.refresh_ttl", "720h")
	v.SetDefault("token.allow_missing_kid", true)

	v.SetDefault("cookies.refresh_name", "refresh_token")
	v.SetDefault("cookies.refresh_path", "/auth")
	v.SetDefault("cookies.access_name", "access_token")

	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.max_sessions", 10)
	v.SetDefault("security.default_role", "CUSTOMER")
	v.SetDefault("security.store_timeout", "800ms")
	v.SetDefault("security.login_rate_per_sec", 5.0)
	v.SetDefault("security.login_burst", 10)
	v.SetDefault("security.trusted_proxies", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "shopfront-auth")

	v.SetDefault("bootstrap.admin_email", "")
	v.SetDefault("bootstrap.admin_password", "")
}

func bind(v *viper.Viper) *Config {
	cfg := &Config{
		Env:      strings.ToLower(strings.TrimSpace(v.GetString("env"))),
		LogLevel: v.GetString("log_level"),
		HTTPAddr: v.GetString("http_addr"),
		GRPCAddr: v.GetString("grpc_addr"),
	}

	cfg.Postgres.DSN = v.GetString("postgres.dsn")

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")

	cfg.Kafka.Brokers = splitList(v.GetString("kafka.brokers"))
	cfg.Kafka.AuditTopic = v.GetString("kafka.audit_topic")
	cfg.Kafka.ClientID = v.GetString("kafka.client_id")

	cfg.Keys.AccessPrivate = v.GetString("keys.access_private")
	cfg.Keys.AccessPublic = v.GetString("keys.access_public")
	cfg.Keys.RefreshPrivate = v.GetString("keys.refresh_private")
	cfg.Keys.RefreshPublic = v.GetString("keys.refresh_public")

	cfg.Token.Issuer = v.GetString("token.issuer")
	cfg.Token.AccessTTL = v.GetDuration("token.access_ttl")
	cfg.Token.RefreshTTL = v.GetDuration("token.refresh_ttl")
	cfg.Token.AllowMissingKeyID = v.GetBool("token.allow_missing_kid")

	cfg.Cookies.RefreshName = v.GetString("cookies.refresh_name")
	cfg.Cookies.RefreshPath = v.GetString("cookies.refresh_path")
	cfg.Cookies.AccessName = v.GetString("cookies.access_name")

	cfg.Security.BcryptCost = v.GetInt("security.bcrypt_cost")
	cfg.Security.MaxSessions = v.GetInt("security.max_sessions")
	cfg.Security.DefaultRole = strings.ToUpper(v.GetString("security.default_role"))
	cfg.Security.StoreTimeout = v.GetDuration("security.store_timeout")
	cfg.Security.LoginRatePerSec = v.GetFloat64("security.login_rate_per_sec")
	cfg.Security.LoginBurst = v.GetInt("security.login_burst")
	cfg.Security.TrustedProxies = splitList(v.GetString("security.trusted_proxies"))

	cfg.Telemetry.Enabled = v.GetBool("telemetry.enabled")
	cfg.Telemetry.Endpoint = v.GetString("telemetry.endpoint")
	cfg.Telemetry.ServiceName = v.GetString("telemetry.service_name")

	cfg.Bootstrap.AdminEmail = strings.TrimSpace(v.GetString("bootstrap.admin_email"))
	cfg.Bootstrap.AdminPassword = v.GetString("bootstrap.admin_password")
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Env {
	case "development", "test", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("unknown env %q", c.Env))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if !c.Keys.empty() && !c.Keys.Complete() {
		errs = append(errs, errors.New("all four key PEM paths must be set together"))
	}
	if c.Production() && !c.Keys.Complete() {
		errs = append(errs, errors.New("production requires key PEM paths"))
	}
	if c.Token.Issuer == "" {
		errs = append(errs, errors.New("token issuer is required"))
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		errs = append(errs, errors.New("access ttl must be shorter than refresh ttl"))
	}
	if c.Cookies.RefreshName == "" || c.Cookies.AccessName == "" {
		errs = append(errs, errors.New("cookie names are required"))
	}
	if !strings.HasPrefix(c.Cookies.RefreshPath, "/") {
		errs = append(errs, fmt.Errorf("refresh cookie path %q must be absolute", c.Cookies.RefreshPath))
	}
	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("bcrypt cost %d out of range", c.Security.BcryptCost))
	}
	if c.Production() && c.Security.BcryptCost < bcrypt.DefaultCost {
		errs = append(errs, fmt.Errorf("bcrypt cost %d too low for production", c.Security.BcryptCost))
	}
	if c.Security.MaxSessions <= 0 {
		errs = append(errs, errors.New("max sessions must be positive"))
	}
	if c.Security.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	if c.Security.LoginRatePerSec <= 0 || c.Security.LoginBurst <= 0 {
		errs = append(errs, errors.New("login rate and burst must be positive"))
	}
	for _, p := range c.Security.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("trusted proxy %q is not an ip or cidr", p))
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		errs = append(errs, errors.New("kafka audit topic is required when brokers are set"))
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = append(errs, errors.New("bootstrap admin email and password must be set together"))
	}
	return errors.Join(errs...)
}

func validProxy(raw string) bool {
	if strings.Contains(raw, "/") {
		_, err := netip.ParsePrefix(raw)
		return err == nil
	}
	_, err := netip.ParseAddr(raw)
	return err == nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
