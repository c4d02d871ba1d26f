package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const envPrefix = "IDCORE_"

type Config struct {
	App struct {
		// dev | staging | prod
		Env  string `yaml:"env"`
		Name string `yaml:"name"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	HTTP struct {
		Addr string `yaml:"addr"`
		// Issuer pisa el "iss" de los tokens y el discovery. Vacío => el
		// discovery usa el origen del request y los tokens http://<addr>.
		Issuer          string        `yaml:"issuer"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		Metrics         bool          `yaml:"metrics"`
	} `yaml:"http"`

	RADIUS struct {
		Enabled         bool          `yaml:"enabled"`
		Addr            string        `yaml:"addr"`
		Secret          string        `yaml:"secret"`
		SessionTimeout  time.Duration `yaml:"session_timeout"`
		InterimInterval time.Duration `yaml:"interim_interval"`
		DefaultTenant   string        `yaml:"default_tenant"`
	} `yaml:"radius"`

	LDAP struct {
		Enabled       bool   `yaml:"enabled"`
		Addr          string `yaml:"addr"`
		DefaultTenant string `yaml:"default_tenant"`
	} `yaml:"ldap"`

	Storage struct {
		Driver          string        `yaml:"driver"` // memory | postgres
		DSN             string        `yaml:"dsn"`
		MaxConns        int32         `yaml:"max_conns"`
		MinConns        int32         `yaml:"min_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		AutoMigrate     bool          `yaml:"auto_migrate"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Cache struct {
		Kind string        `yaml:"kind"` // memory | redis
		TTL  time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Tokens struct {
		AccessTTL  time.Duration `yaml:"access_ttl"`
		RefreshTTL time.Duration `yaml:"refresh_ttl"`
		CodeTTL    time.Duration `yaml:"code_ttl"`
		MFATTL     time.Duration `yaml:"mfa_ttl"`
	} `yaml:"tokens"`

	Security struct {
		// SecretboxKey: 32 bytes en base64. Cifra claves de firma, secretos TOTP y tokens.
		SecretboxKey          string        `yaml:"secretbox_key"`
		MaxAttempts           int           `yaml:"max_attempts"`
		LockoutDuration       time.Duration `yaml:"lockout_duration"`
		TOTPWindow            int           `yaml:"totp_window"`
		IssuerName            string        `yaml:"issuer_name"`
		PasswordBlacklistPath string        `yaml:"password_blacklist_path"`
	} `yaml:"security"`

	Rate struct {
		Enabled bool          `yaml:"enabled"`
		Limit   int           `yaml:"limit"`
		Window  time.Duration `yaml:"window"`
	} `yaml:"rate"`

	Events struct {
		Sink    string `yaml:"sink"` // log | redis
		Channel string `yaml:"channel"`
	} `yaml:"events"`

	SystemTenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"system_tenant"`
}

// Default devuelve la config con todos los defaults aplicados.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load lee el YAML (si path != ""), aplica defaults, overrides IDCORE_* y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	// blacklist relativa al directorio del YAML
	if p := strings.TrimSpace(c.Security.PasswordBlacklistPath); p != "" && path != "" && !filepath.IsAbs(p) {
		c.Security.PasswordBlacklistPath = filepath.Clean(filepath.Join(filepath.Dir(path), p))
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "idcore"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if c.RADIUS.Addr == "" {
		c.RADIUS.Addr = ":1812"
	}
	if c.LDAP.Addr == "" {
		c.LDAP.Addr = ":10389"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "idcore"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Second
	}
	if c.Tokens.AccessTTL == 0 {
		c.Tokens.AccessTTL = 15 * time.Minute
	}
	if c.Tokens.RefreshTTL == 0 {
		c.Tokens.RefreshTTL = 720 * time.Hour // 30d
	}
	if c.Tokens.CodeTTL == 0 {
		c.Tokens.CodeTTL = 5 * time.Minute
	}
	if c.Tokens.MFATTL == 0 {
		c.Tokens.MFATTL = 5 * time.Minute
	}
	if c.Security.MaxAttempts == 0 {
		c.Security.MaxAttempts = 5
	}
	if c.Security.LockoutDuration == 0 {
		c.Security.LockoutDuration = 15 * time.Minute
	}
	if c.Security.TOTPWindow == 0 {
		c.Security.TOTPWindow = 1
	}
	if c.Security.IssuerName == "" {
		c.Security.IssuerName = "idcore"
	}
	if c.Rate.Limit == 0 {
		c.Rate.Limit = 60
	}
	if c.Rate.Window == 0 {
		c.Rate.Window = time.Minute
	}
	if c.Events.Sink == "" {
		c.Events.Sink = "log"
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "idcore:events"
	}
	if c.SystemTenant.Name == "" {
		c.SystemTenant.Name = "system"
	}
}

// Issuer devuelve el "iss" de los tokens firmados.
func (c *Config) Issuer() string {
	if s := strings.TrimRight(strings.TrimSpace(c.HTTP.Issuer), "/"); s != "" {
		return s
	}
	host := c.HTTP.Addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host
}

// SecretboxKey decodifica la clave (base64 std o url, con o sin padding).
func (c *Config) SecretboxKey() ([]byte, error) {
	s := strings.TrimSpace(c.Security.SecretboxKey)
	if s == "" {
		return nil, errors.New("config: security.secretbox_key is required")
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			if len(b) != 32 {
				return nil, fmt.Errorf("config: secretbox_key must decode to 32 bytes, got %d", len(b))
			}
			return b, nil
		}
	}
	return nil, errors.New("config: secretbox_key is not valid base64")
}

func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func setStr(dst *string, key string) {
	if v, ok := getEnvStr(key); ok {
		*dst = strings.TrimSpace(v)
	}
}
func setInt(dst *int, key string) {
	if v, ok := getEnvInt(key); ok {
		*dst = v
	}
}
func setBool(dst *bool, key string) {
	if v, ok := getEnvBool(key); ok {
		*dst = v
	}
}
func setDur(dst *time.Duration, key string) {
	if v, ok := getEnvDur(key); ok {
		*dst = v
	}
}

// applyEnvOverrides: IDCORE_<SECCION>_<CAMPO> pisa el YAML.
func (c *Config) applyEnvOverrides() {
	setStr(&c.App.Env, "APP_ENV")
	c.App.Env = strings.ToLower(c.App.Env)
	setStr(&c.Log.Level, "LOG_LEVEL")

	setStr(&c.HTTP.Addr, "HTTP_ADDR")
	setStr(&c.HTTP.Issuer, "HTTP_ISSUER")
	setDur(&c.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDur(&c.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")
	setBool(&c.HTTP.Metrics, "HTTP_METRICS")

	setBool(&c.RADIUS.Enabled, "RADIUS_ENABLED")
	setStr(&c.RADIUS.Addr, "RADIUS_ADDR")
	setStr(&c.RADIUS.Secret, "RADIUS_SECRET")
	setDur(&c.RADIUS.SessionTimeout, "RADIUS_SESSION_TIMEOUT")
	setDur(&c.RADIUS.InterimInterval, "RADIUS_INTERIM_INTERVAL")
	setStr(&c.RADIUS.DefaultTenant, "RADIUS_DEFAULT_TENANT")

	setBool(&c.LDAP.Enabled, "LDAP_ENABLED")
	setStr(&c.LDAP.Addr, "LDAP_ADDR")
	setStr(&c.LDAP.DefaultTenant, "LDAP_DEFAULT_TENANT")

	setStr(&c.Storage.Driver, "STORAGE_DRIVER")
	setStr(&c.Storage.DSN, "STORAGE_DSN")
	if v, ok := getEnvInt("STORAGE_MAX_CONNS"); ok {
		c.Storage.MaxConns = int32(v)
	}
	setDur(&c.Storage.ConnMaxLifetime, "STORAGE_CONN_MAX_LIFETIME")
	setBool(&c.Storage.AutoMigrate, "STORAGE_AUTO_MIGRATE")

	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setStr(&c.Redis.Prefix, "REDIS_PREFIX")

	setStr(&c.Cache.Kind, "CACHE_KIND")
	setDur(&c.Cache.TTL, "CACHE_TTL")

	setDur(&c.Tokens.AccessTTL, "TOKENS_ACCESS_TTL")
	setDur(&c.Tokens.RefreshTTL, "TOKENS_REFRESH_TTL")
	setDur(&c.Tokens.CodeTTL, "TOKENS_CODE_TTL")
	setDur(&c.Tokens.MFATTL, "TOKENS_MFA_TTL")

	setStr(&c.Security.SecretboxKey, "SECRETBOX_KEY")
	setInt(&c.Security.MaxAttempts, "SECURITY_MAX_ATTEMPTS")
	setDur(&c.Security.LockoutDuration, "SECURITY_LOCKOUT_DURATION")
	setInt(&c.Security.TOTPWindow, "SECURITY_TOTP_WINDOW")
	setStr(&c.Security.IssuerName, "SECURITY_ISSUER_NAME")
	setStr(&c.Security.PasswordBlacklistPath, "SECURITY_PASSWORD_BLACKLIST_PATH")

	setBool(&c.Rate.Enabled, "RATE_ENABLED")
	setInt(&c.Rate.Limit, "RATE_LIMIT")
	setDur(&c.Rate.Window, "RATE_WINDOW")

	setStr(&c.Events.Sink, "EVENTS_SINK")
	setStr(&c.Events.Channel, "EVENTS_CHANNEL")

	setStr(&c.SystemTenant.ID, "SYSTEM_TENANT_ID")
	setStr(&c.SystemTenant.Name, "SYSTEM_TENANT_NAME")
}

// Validate junta todos los problemas en un solo error.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, a ...any) { errs = append(errs, fmt.Errorf("config: "+format, a...)) }

	switch c.App.Env {
	case "dev", "staging", "prod", "test":
	default:
		bad("app.env %q must be dev|staging|prod|test", c.App.Env)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			bad("storage.dsn is required for postgres")
		}
	default:
		bad("storage.driver %q must be memory|postgres", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		bad("cache.kind %q must be memory|redis", c.Cache.Kind)
	}
	switch c.Events.Sink {
	case "log", "redis":
	default:
		bad("events.sink %q must be log|redis", c.Events.Sink)
	}
	if c.RADIUS.Enabled && c.RADIUS.Secret == "" {
		bad("radius.secret is required when radius is enabled")
	}
	if c.Rate.Enabled && (c.Rate.Limit <= 0 || c.Rate.Window <= 0) {
		bad("rate.limit and rate.window must be positive")
	}
	if c.Security.MaxAttempts < 0 {
		bad("security.max_attempts must be >= 0")
	}
	if c.Security.TOTPWindow < 0 || c.Security.TOTPWindow > 10 {
		bad("security.totp_window must be in [0,10]")
	}
	for name, id := range map[string]string{
		"system_tenant.id":      c.SystemTenant.ID,
		"radius.default_tenant": c.RADIUS.DefaultTenant,
		"ldap.default_tenant":   c.LDAP.DefaultTenant,
	} {
		if id != "" {
			if _, err := uuid.Parse(id); err != nil {
				bad("%s %q is not a uuid", name, id)
			}
		}
	}
	if c.Security.SecretboxKey != "" {
		if _, err := c.SecretboxKey(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.HTTP.Issuer != "" {
		u, err := url.Parse(c.HTTP.Issuer)
		switch {
		case err != nil || u.Host == "":
			bad("http.issuer %q is not an absolute url", c.HTTP.Issuer)
		case c.IsProd() && u.Scheme != "https":
			bad("http.issuer must be https in prod")
		}
	}
	if c.IsProd() && c.Security.SecretboxKey == "" {
		bad("security.secretbox_key is required in prod")
	}
	return errors.Join(errs...)
}
