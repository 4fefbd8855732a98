package sdk_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

// fakeSource is a CredentialSource whose principal can be swapped by tests.
type fakeSource struct {
	mu            sync.Mutex
	principal     *sdk.Principal
	principalErr  error
	credentialErr error
	signOutErr    error
	minted        int
	signOuts      int
}

func newFakeSource(email string) *fakeSource {
	if email == "" {
		return &fakeSource{}
	}
	return &fakeSource{principal: &sdk.Principal{ID: "sub-" + email, Email: email}}
}

func (f *fakeSource) CurrentPrincipal(context.Context) (*sdk.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.principalErr != nil {
		return nil, f.principalErr
	}
	if f.principal == nil {
		return nil, nil
	}
	p := *f.principal
	return &p, nil
}

func (f *fakeSource) FreshCredential(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credentialErr != nil {
		return "", f.credentialErr
	}
	f.minted++
	return fmt.Sprintf("token-%d", f.minted), nil
}

func (f *fakeSource) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.principal = nil
	return f.signOutErr
}

func (f *fakeSource) SignOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

// fakeAuthority is a RoleAuthority driven by lookupFunc.
type fakeAuthority struct {
	mu         sync.Mutex
	calls      int
	lookupFunc func(ctx context.Context, email string) (string, error)
}

func (f *fakeAuthority) LookupRole(ctx context.Context, email string) (string, error) {
	f.mu.Lock()
	f.calls++
	fn := f.lookupFunc
	f.mu.Unlock()
	if fn == nil {
		return "user", nil
	}
	return fn(ctx, email)
}

func (f *fakeAuthority) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticAuthority(role string) *fakeAuthority {
	return &fakeAuthority{lookupFunc: func(context.Context, string) (string, error) {
		return role, nil
	}}
}

// blockingAuthority answers role once release is closed. started receives one
// value per lookup that has begun.
func blockingAuthority(role string) (a *fakeAuthority, started chan struct{}, release chan struct{}) {
	started = make(chan struct{}, 64)
	release = make(chan struct{})
	a = &fakeAuthority{lookupFunc: func(ctx context.Context, _ string) (string, error) {
		started <- struct{}{}
		select {
		case <-release:
			return role, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	return a, started, release
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingNavigator records login navigations.
type countingNavigator struct {
	mu    sync.Mutex
	count int
}

func (n *countingNavigator) NavigateToLogin(context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func (n *countingNavigator) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestSession(t *testing.T, source sdk.CredentialSource) (*sdk.Session, *sdk.MemoryCache) {
	t.Helper()
	cache, err := sdk.NewMemoryCache(0)
	require.NoError(t, err)
	return sdk.NewSession(source, cache, quietLogger()), cache
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("authority lookup never started")
	}
}
