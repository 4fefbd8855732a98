package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"

	"github.com/terraconstructs/storefront/cmd/storectl/internal/auth"
	"github.com/terraconstructs/storefront/pkg/sdk"
	"github.com/terraconstructs/storefront/pkg/sdk/rediscache"
)

// CacheOptions selects and configures the session cache backend.
type CacheOptions struct {
	Backend       string
	Size          int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Dir           string
}

// Options configures a Provider. Store, Source and SessionCache override the
// defaults built from the remaining fields.
type Options struct {
	ServerURL     string
	Issuer        string
	ClientID      string
	StateDir      string
	AllowList     []string
	RoleTTL       time.Duration
	FailureTTL    time.Duration
	LookupTimeout time.Duration
	UnknownRole   sdk.Role
	Cache         CacheOptions
	Timeout       time.Duration

	Navigator sdk.Navigator
	Logger    logrus.FieldLogger

	Store        sdk.CredentialStore
	Source       sdk.CredentialSource
	SessionCache sdk.SessionCache
	Transport    http.RoundTripper
}

// Provider lazily builds the session, its guarded HTTP client and the role
// resolver from the credential store. Everything is built at most once.
type Provider struct {
	opts Options

	storeOnce sync.Once
	store     sdk.CredentialStore
	storeErr  error

	sessionOnce sync.Once
	session     *sdk.Session
	sessionErr  error

	httpOnce sync.Once
	httpCli  *http.Client
	httpErr  error

	resolverOnce sync.Once
	resolver     *sdk.RoleResolver
	resolverErr  error

	mu      sync.Mutex
	closers []io.Closer
}

// NewProvider constructs a new Provider.
func NewProvider(opts Options) *Provider {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Navigator == nil {
		opts.Navigator = TerminalNavigator{}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Provider{opts: opts}
}

// SetNavigator replaces the login navigator. It must be called before the
// first call to HTTPClient.
func (p *Provider) SetNavigator(nav sdk.Navigator) {
	p.opts.Navigator = nav
}

// ServerURL returns the backend base URL.
func (p *Provider) ServerURL() string { return p.opts.ServerURL }

// CredentialStore returns the credential store, creating the file store on first use.
func (p *Provider) CredentialStore() (sdk.CredentialStore, error) {
	p.storeOnce.Do(func() {
		if p.opts.Store != nil {
			p.store = p.opts.Store
			return
		}
		store, err := auth.NewFileStore(p.opts.StateDir)
		if err != nil {
			p.storeErr = fmt.Errorf("failed to create credential store: %w", err)
			return
		}
		p.store = store
	})
	return p.store, p.storeErr
}

// Session returns the process-wide session.
func (p *Provider) Session(ctx context.Context) (*sdk.Session, error) {
	p.sessionOnce.Do(func() {
		source := p.opts.Source
		if source == nil {
			store, err := p.CredentialStore()
			if err != nil {
				p.sessionErr = err
				return
			}
			source = sdk.NewOIDCSource(store, p.opts.Issuer, p.opts.ClientID,
				sdk.WithSourceLogger(p.opts.Logger))
		}

		cache := p.opts.SessionCache
		if cache == nil {
			var err error
			if cache, err = p.openCache(ctx); err != nil {
				p.sessionErr = err
				return
			}
		}

		p.session = sdk.NewSession(source, cache, p.opts.Logger)
	})
	return p.session, p.sessionErr
}

// HTTPClient returns a client whose requests carry a fresh credential and
// whose authorization failures tear the session down.
func (p *Provider) HTTPClient(ctx context.Context) (*http.Client, error) {
	p.httpOnce.Do(func() {
		session, err := p.Session(ctx)
		if err != nil {
			p.httpErr = err
			return
		}
		p.httpCli = sdk.NewHTTPClient(session,
			sdk.WithBaseTransport(p.opts.Transport),
			sdk.WithNavigator(p.opts.Navigator),
			sdk.WithLogger(p.opts.Logger),
			sdk.WithTimeout(p.opts.Timeout),
		)
	})
	return p.httpCli, p.httpErr
}

// Resolver returns the role resolver backed by the server's role endpoint.
func (p *Provider) Resolver(ctx context.Context) (*sdk.RoleResolver, error) {
	p.resolverOnce.Do(func() {
		session, err := p.Session(ctx)
		if err != nil {
			p.resolverErr = err
			return
		}
		httpClient, err := p.HTTPClient(ctx)
		if err != nil {
			p.resolverErr = err
			return
		}

		opts := []sdk.ResolverOption{
			sdk.WithAllowList(p.opts.AllowList...),
			sdk.WithLookupTimeout(p.opts.LookupTimeout),
			sdk.WithRoleTTL(p.opts.RoleTTL),
			sdk.WithUnknownRoleFallback(p.opts.UnknownRole),
			sdk.WithResolverLogger(p.opts.Logger),
		}
		if p.opts.FailureTTL != 0 {
			opts = append(opts, sdk.WithFailureTTL(p.opts.FailureTTL))
		}

		authority := &sdk.HTTPRoleAuthority{BaseURL: p.opts.ServerURL, Client: httpClient}
		p.resolver = sdk.NewRoleResolver(session, authority, opts...)
	})
	return p.resolver, p.resolverErr
}

// Close releases backend connections opened by the provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Provider) openCache(ctx context.Context) (sdk.SessionCache, error) {
	switch p.opts.Cache.Backend {
	case "memory":
		return sdk.NewMemoryCache(p.opts.Cache.Size)
	case "redis":
		ctx, cancel := ensureTimeout(ctx, 3*time.Second)
		defer cancel()

		cache, err := rediscache.New(ctx, rediscache.Options{
			Addr:     p.opts.Cache.RedisAddr,
			Password: p.opts.Cache.RedisPassword,
			DB:       p.opts.Cache.RedisDB,
		})
		if err == nil {
			p.mu.Lock()
			p.closers = append(p.closers, cache)
			p.mu.Unlock()
			return cache, nil
		}
		p.opts.Logger.WithError(err).Warn("redis session cache unavailable; using file cache")
	}

	cache, err := auth.NewFileCache(p.opts.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return cache, nil
}

// TerminalNavigator tells a CLI user to log in again.
type TerminalNavigator struct{}

func (TerminalNavigator) NavigateToLogin(context.Context) {
	pterm.Warning.Println("Your session has ended. Run `storectl auth login` to sign in again.")
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	return ctxWithTimeout, cancel
}
