package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/terraconstructs/storefront/cmd/storectl/internal/auth"
	"github.com/terraconstructs/storefront/cmd/storectl/internal/client"
	"github.com/terraconstructs/storefront/pkg/sdk"
)

// EnvPrefix namespaces every environment override, e.g. STOREFRONT_ROLES_TTL.
const EnvPrefix = "STOREFRONT"

// Cache backends accepted by cache.backend.
const (
	CacheBackendFile   = "file"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type contextKey string

const configKey contextKey = "storectl-config"

// Settings is the resolved storectl configuration.
type Settings struct {
	Server       string          `mapstructure:"server"`
	Issuer       string          `mapstructure:"issuer"`
	ClientID     string          `mapstructure:"client_id"`
	ClientSecret string          `mapstructure:"client_secret"`
	LoginPath    string          `mapstructure:"login_path"`
	StateDir     string          `mapstructure:"state_dir"`
	Debug        bool            `mapstructure:"debug"`
	Roles        RoleSettings    `mapstructure:"roles"`
	Cache        CacheSettings   `mapstructure:"cache"`
	Gateway      GatewaySettings `mapstructure:"gateway"`
}

type RoleSettings struct {
	AllowList       []string      `mapstructure:"allowlist"`
	TTL             time.Duration `mapstructure:"ttl"`
	FailureTTL      time.Duration `mapstructure:"failure_ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UnknownFallback string        `mapstructure:"unknown_fallback"`
}

type CacheSettings struct {
	Backend       string `mapstructure:"backend"`
	Size          int    `mapstructure:"size"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type GatewaySettings struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	LoadingWait    time.Duration `mapstructure:"loading_wait"`
}

// SetDefaults registers every key so environment overrides are honoured by
// Unmarshal even when the key is absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("issuer", "")
	v.SetDefault("client_id", "storectl")
	v.SetDefault("client_secret", "")
	v.SetDefault("login_path", "/login")
	v.SetDefault("state_dir", "")
	v.SetDefault("debug", false)

	v.SetDefault("roles.allowlist", []string{})
	v.SetDefault("roles.ttl", sdk.DefaultRoleTTL)
	v.SetDefault("roles.failure_ttl", time.Duration(0))
	v.SetDefault("roles.timeout", sdk.DefaultLookupTimeout)
	v.SetDefault("roles.unknown_fallback", sdk.RoleUser.String())

	v.SetDefault("cache.backend", CacheBackendFile)
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("gateway.addr", "127.0.0.1:8787")
	v.SetDefault("gateway.allowed_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("gateway.loading_wait", 2*time.Second)
}

// Load reads configuration from file (or config.yaml in the state directory
// when file is empty), the environment and any flags already bound to v.
// A missing default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper, file string) (*Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		dir := v.GetString("state_dir")
		if dir == "" {
			if d, err := auth.DefaultDir(); err == nil {
				dir = d
			}
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir != "" {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the session layer cannot run with.
func (s *Settings) Validate() error {
	u, err := url.Parse(s.Server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", s.Server)
	}
	if _, ok := sdk.ParseRole(s.Roles.UnknownFallback); !ok {
		return fmt.Errorf("invalid roles.unknown_fallback %q (want one of guest, user, moderator, admin)", s.Roles.UnknownFallback)
	}
	switch s.Cache.Backend {
	case CacheBackendFile, CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("invalid cache.backend %q (want file, memory or redis)", s.Cache.Backend)
	}
	if s.Roles.Timeout < 0 {
		return fmt.Errorf("roles.timeout must not be negative")
	}
	return nil
}

// IssuerURL returns the configured issuer, defaulting to the server.
func (s *Settings) IssuerURL() string {
	if s.Issuer != "" {
		return s.Issuer
	}
	return s.Server
}

// ClientOptions maps settings onto the client provider.
func (s *Settings) ClientOptions() client.Options {
	fallback, _ := sdk.ParseRole(s.Roles.UnknownFallback)
	return client.Options{
		ServerURL:     s.Server,
		Issuer:        s.IssuerURL(),
		ClientID:      s.ClientID,
		StateDir:      s.StateDir,
		AllowList:     s.Roles.AllowList,
		RoleTTL:       s.Roles.TTL,
		FailureTTL:    s.Roles.FailureTTL,
		LookupTimeout: s.Roles.Timeout,
		UnknownRole:   fallback,
		Cache: client.CacheOptions{
			Backend:       s.Cache.Backend,
			Size:          s.Cache.Size,
			RedisAddr:     s.Cache.RedisAddr,
			RedisPassword: s.Cache.RedisPassword,
			RedisDB:       s.Cache.RedisDB,
			Dir:           s.StateDir,
		},
	}
}

// ConfigPath returns the config file viper loaded, if any.
func ConfigPath(v *viper.Viper) string {
	if f := v.ConfigFileUsed(); f != "" {
		return filepath.Clean(f)
	}
	return ""
}

// GlobalConfig holds shared configuration for all storectl commands.
// This is injected into the cobra command context by the root command's
// PersistentPreRunE hook and consumed by all subcommands.
type GlobalConfig struct {
	Settings       *Settings
	ClientProvider *client.Provider
}

// InjectConfig adds config to the cobra command context.
func InjectConfig(ctx context.Context, cfg *GlobalConfig) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from the cobra command context.
// Returns (nil, false) if config is not present.
func FromContext(ctx context.Context) (*GlobalConfig, bool) {
	cfg, ok := ctx.Value(configKey).(*GlobalConfig)
	return cfg, ok
}

// MustFromContext retrieves config from context or panics.
// This should only be used in command RunE functions where we know
// the config has been injected by the root command.
func MustFromContext(ctx context.Context) *GlobalConfig {
	cfg, ok := FromContext(ctx)
	if !ok {
		panic("storectl: config not found in context - this is a bug in storectl")
	}
	return cfg
}
