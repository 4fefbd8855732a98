package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STOREFRONT_STATE_DIR", t.TempDir())

	s, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", s.Server)
	assert.Equal(t, "http://localhost:8080", s.IssuerURL())
	assert.Equal(t, "/login", s.LoginPath)
	assert.Equal(t, sdk.DefaultRoleTTL, s.Roles.TTL)
	assert.Equal(t, sdk.DefaultLookupTimeout, s.Roles.Timeout)
	assert.Equal(t, "user", s.Roles.UnknownFallback)
	assert.Equal(t, CacheBackendFile, s.Cache.Backend)
	assert.Empty(t, s.Roles.AllowList)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server: https://shop.example.com
issuer: https://id.example.com
roles:
  allowlist:
    - admin@gmail.com
  ttl: 5m
  unknown_fallback: guest
cache:
  backend: memory
  size: 64
`), 0600))

	t.Setenv("STOREFRONT_ROLES_TIMEOUT", "3s")
	t.Setenv("STOREFRONT_CACHE_SIZE", "128")

	s, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com", s.Server)
	assert.Equal(t, "https://id.example.com", s.IssuerURL())
	assert.Equal(t, []string{"admin@gmail.com"}, s.Roles.AllowList)
	assert.Equal(t, 5*time.Minute, s.Roles.TTL)
	assert.Equal(t, 3*time.Second, s.Roles.Timeout)
	assert.Equal(t, CacheBackendMemory, s.Cache.Backend)
	assert.Equal(t, 128, s.Cache.Size, "environment overrides the file")

	opts := s.ClientOptions()
	assert.Equal(t, sdk.RoleGuest, opts.UnknownRole)
	assert.Equal(t, "memory", opts.Cache.Backend)
	assert.Equal(t, 5*time.Minute, opts.RoleTTL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Server: "http://localhost:8080",
			Roles:  RoleSettings{UnknownFallback: "user"},
			Cache:  CacheSettings{Backend: CacheBackendFile},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"relative server", func(s *Settings) { s.Server = "/api" }},
		{"unknown fallback", func(s *Settings) { s.Roles.UnknownFallback = "editor" }},
		{"unknown backend", func(s *Settings) { s.Cache.Backend = "memcached" }},
		{"negative timeout", func(s *Settings) { s.Roles.Timeout = -time.Second }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestContextInjection(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.Panics(t, func() { MustFromContext(context.Background()) })

	cfg := &GlobalConfig{Settings: &Settings{Server: "http://x"}}
	ctx := InjectConfig(context.Background(), cfg)
	assert.Same(t, cfg, MustFromContext(ctx))
}
