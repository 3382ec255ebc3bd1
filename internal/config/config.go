// Package config loads gateway settings from a YAML or JSON file, BFF_*
// environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-bff/proxy"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the gateway reads through
// viper, e.g. BFF_GATEWAY_COOKIE_NAME.
const EnvPrefix = "BFF"

// Session store types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	AppName string      `mapstructure:"app_name"`
	Address string      `mapstructure:"address"`
	Log     LogConfig   `mapstructure:"log"`
	Metrics bool        `mapstructure:"metrics"`
	Gateway Gateway     `mapstructure:"gateway"`
	Store   StoreConfig `mapstructure:"session_store"`

	Providers []Provider      `mapstructure:"providers"`
	Clusters  []proxy.Cluster `mapstructure:"clusters"`
	Routes    []proxy.Route   `mapstructure:"routes"`
}

type LogConfig struct {
	Level        string `mapstructure:"level"`
	Unstructured bool   `mapstructure:"unstructured"`
}

// Gateway holds the authentication settings.
type Gateway struct {
	CookieName            string        `mapstructure:"cookie_name"`
	ErrorPage             string        `mapstructure:"error_page"`
	LandingPage           string        `mapstructure:"landing_page"`
	CustomHostName        string        `mapstructure:"custom_host_name"`
	AlwaysRedirectToHttps bool          `mapstructure:"always_redirect_to_https"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	RefreshTimeout        time.Duration `mapstructure:"refresh_timeout"`
	AuthorizationTimeout  time.Duration `mapstructure:"authorization_timeout"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// Provider is one identity provider registration.
type Provider struct {
	Name         string `mapstructure:"name"`
	EndpointName string `mapstructure:"endpoint_name"`
	Type         string `mapstructure:"type"`
	Issuer       string `mapstructure:"issuer"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// ClientSecretEnv names an environment variable holding the secret, so it
	// can stay out of the file.
	ClientSecretEnv string            `mapstructure:"client_secret_env"`
	Scopes          []string          `mapstructure:"scopes"`
	AuthParams      map[string]string `mapstructure:"auth_params"`
	EndSession      bool              `mapstructure:"end_session"`
}

// Secret resolves the client secret, preferring the environment.
func (p Provider) Secret() string {
	if p.ClientSecretEnv != "" {
		return GetEnv(p.ClientSecretEnv, p.ClientSecret)
	}
	return p.ClientSecret
}

type StoreConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// EncryptionKey is a base64 encoded 32 byte key used to seal sessions.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// NewViper returns a viper instance with the gateway defaults and environment
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_name", GetEnv(appNameVar, "Go BFF"))
	v.SetDefault("address", Port())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.unstructured", false)
	v.SetDefault("metrics", true)
	v.SetDefault("gateway.cookie_name", "bff.cookie")
	v.SetDefault("gateway.error_page", "/")
	v.SetDefault("gateway.landing_page", "/")
	v.SetDefault("gateway.custom_host_name", "")
	v.SetDefault("gateway.always_redirect_to_https", true)
	v.SetDefault("gateway.idle_timeout", 20*time.Minute)
	v.SetDefault("gateway.refresh_timeout", 30*time.Second)
	v.SetDefault("gateway.authorization_timeout", 10*time.Minute)
	v.SetDefault("gateway.sweep_interval", time.Minute)
	v.SetDefault("session_store.type", StoreMemory)
	v.SetDefault("session_store.redis.addr", "")
	v.SetDefault("session_store.redis.username", "")
	v.SetDefault("session_store.redis.password", "")
	v.SetDefault("session_store.redis.db", 0)
	v.SetDefault("session_store.redis.key_prefix", "bff:")
	v.SetDefault("session_store.redis.encryption_key", "")
	return v
}

// Load reads path (if not empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("session_store.redis.addr is required for the redis store")
		}
		if c.Store.Redis.EncryptionKey == "" {
			return fmt.Errorf("session_store.redis.encryption_key is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown session store type %q", c.Store.Type)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one identity provider is required")
	}
	return nil
}
