package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/cmd/storectl/internal/auth"
	"github.com/terraconstructs/storefront/pkg/sdk"
)

type staticSource struct {
	principal *sdk.Principal
}

func (s *staticSource) CurrentPrincipal(context.Context) (*sdk.Principal, error) {
	return s.principal, nil
}

func (s *staticSource) FreshCredential(context.Context) (string, error) { return "fresh", nil }

func (s *staticSource) SignOut(context.Context) error {
	s.principal = nil
	return nil
}

func TestProvider_MemoizesSessionAndResolver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewProvider(Options{
		Source: &staticSource{},
		Cache:  CacheOptions{Backend: "memory"},
		Logger: logger,
	})
	ctx := context.Background()

	s1, err := p.Session(ctx)
	require.NoError(t, err)
	s2, err := p.Session(ctx)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.IsType(t, &sdk.MemoryCache{}, s1.Cache())

	r1, err := p.Resolver(ctx)
	require.NoError(t, err)
	r2, err := p.Resolver(ctx)
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	c1, err := p.HTTPClient(ctx)
	require.NoError(t, err)
	c2, err := p.HTTPClient(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	require.NoError(t, p.Close())
}

func TestProvider_FileBackedDefaults(t *testing.T) {
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()
	p := NewProvider(Options{
		ServerURL: "http://localhost:8080",
		StateDir:  dir,
		Cache:     CacheOptions{Backend: "file", Dir: dir},
		Logger:    logger,
	})

	store, err := p.CredentialStore()
	require.NoError(t, err)
	assert.IsType(t, &auth.FileStore{}, store)

	session, err := p.Session(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &auth.FileCache{}, session.Cache())

	principal, err := session.Principal(context.Background())
	require.NoError(t, err)
	assert.Nil(t, principal, "a fresh state directory is logged out")
}

func TestProvider_RedisFallsBackToFileCache(t *testing.T) {
	dir := t.TempDir()
	logger, hook := test.NewNullLogger()
	p := NewProvider(Options{
		Source: &staticSource{},
		Cache:  CacheOptions{Backend: "redis", RedisAddr: "127.0.0.1:1", Dir: dir},
		Logger: logger,
	})

	session, err := p.Session(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &auth.FileCache{}, session.Cache())
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "redis session cache unavailable")
}

func TestProvider_ResolverUsesServerRoleEndpoint(t *testing.T) {
	var gotAuth string
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		paths <- r.URL.Path
		_, _ = w.Write([]byte(`{"role":"moderator"}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	p := NewProvider(Options{
		ServerURL:   srv.URL,
		Source:      &staticSource{principal: &sdk.Principal{ID: "u1", Email: "mod@shop.test"}},
		Cache:       CacheOptions{Backend: "memory"},
		UnknownRole: sdk.RoleUser,
		Logger:      logger,
	})

	resolver, err := p.Resolver(context.Background())
	require.NoError(t, err)
	role, err := resolver.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sdk.RoleModerator, role)
	assert.Equal(t, "/users/mod@shop.test/role", <-paths)
	assert.Equal(t, "Bearer fresh", gotAuth)
}
