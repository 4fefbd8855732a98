package sdk_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

func statusTransport(status int) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("body")),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	})
}

func TestGuardTransport_PassesThroughNonAuthorizationStatuses(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusFound, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			source := newFakeSource("new@user.com")
			session, _ := newTestSession(t, source)
			nav := &countingNavigator{}
			guard := &sdk.GuardTransport{Session: session, Next: statusTransport(status), Navigator: nav, Logger: quietLogger()}

			req, err := http.NewRequest(http.MethodGet, "http://backend/x", nil)
			require.NoError(t, err)
			resp, err := guard.RoundTrip(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, status, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, "body", string(body))
			assert.Zero(t, source.SignOuts())
			assert.Zero(t, nav.Count())
			assert.Equal(t, uint64(1), session.Generation())
		})
	}
}

func TestGuardTransport_TransportErrorPassesThrough(t *testing.T) {
	source := newFakeSource("new@user.com")
	session, _ := newTestSession(t, source)
	boom := errors.New("connection refused")
	guard := &sdk.GuardTransport{
		Session: session,
		Next: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, boom
		}),
		Logger: quietLogger(),
	}

	req, err := http.NewRequest(http.MethodGet, "http://backend/x", nil)
	require.NoError(t, err)
	_, err = guard.RoundTrip(req)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, sdk.ErrUnauthorized))
	assert.Zero(t, source.SignOuts())
}

func TestGuardTransport_AuthorizationFailureTearsDown(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			ctx := context.Background()
			source := newFakeSource("new@user.com")
			session, cache := newTestSession(t, source)
			require.NoError(t, cache.Set(ctx, "role_new@user.com", `{"role":"admin"}`))
			require.NoError(t, cache.Set(ctx, "cart", "3 items"))

			var navigated, settledBeforeNav bool
			nav := sdk.NavigatorFunc(func(ctx context.Context) {
				navigated = true
				keys, _ := cache.ListKeys(ctx)
				settledBeforeNav = len(keys) == 1 && source.SignOuts() == 1
			})
			guard := &sdk.GuardTransport{Session: session, Next: statusTransport(status), Navigator: nav, Logger: quietLogger()}

			req, err := http.NewRequest(http.MethodPost, "http://backend/orders", nil)
			require.NoError(t, err)
			resp, err := guard.RoundTrip(req)
			assert.Nil(t, resp)

			var authErr *sdk.AuthorizationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, status, authErr.StatusCode)
			assert.Equal(t, http.MethodPost, authErr.Method)
			assert.ErrorIs(t, err, sdk.ErrUnauthorized)

			assert.True(t, navigated)
			assert.True(t, settledBeforeNav, "purge and sign-out complete before navigation")
			keys, err := cache.ListKeys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"cart"}, keys, "only role entries are purged")
			assert.Equal(t, uint64(2), session.Generation())
			assert.False(t, session.Invalid())
		})
	}
}

func TestGuardTransport_ConcurrentFailuresTearDownOnce(t *testing.T) {
	source := newFakeSource("new@user.com")
	session, _ := newTestSession(t, source)
	nav := &countingNavigator{}

	const requests = 5
	var entered sync.WaitGroup
	entered.Add(requests)
	release := make(chan struct{})
	next := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		entered.Done()
		<-release
		return &http.Response{StatusCode: http.StatusForbidden, Body: http.NoBody, Header: make(http.Header), Request: req}, nil
	})
	guard := &sdk.GuardTransport{Session: session, Next: next, Navigator: nav, Logger: quietLogger()}

	var wg sync.WaitGroup
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, "http://backend/x", nil)
			_, err := guard.RoundTrip(req)
			assert.ErrorIs(t, err, sdk.ErrUnauthorized)
		}()
	}

	entered.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, 1, source.SignOuts())
	assert.Equal(t, 1, nav.Count())
	assert.Equal(t, uint64(2), session.Generation())
}

func TestGuardTransport_TeardownSurvivesCancelledRequest(t *testing.T) {
	source := newFakeSource("new@user.com")
	session, _ := newTestSession(t, source)
	guard := &sdk.GuardTransport{Session: session, Next: statusTransport(http.StatusUnauthorized), Logger: quietLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://backend/x", nil)
	require.NoError(t, err)
	cancel()

	_, err = guard.RoundTrip(req)
	assert.ErrorIs(t, err, sdk.ErrUnauthorized)
	assert.Equal(t, 1, source.SignOuts())
}

func TestNewHTTPClient(t *testing.T) {
	source := newFakeSource("new@user.com")
	session, _ := newTestSession(t, source)
	seen, base := capture()

	client := sdk.NewHTTPClient(session,
		sdk.WithBaseTransport(base),
		sdk.WithLogger(quietLogger()),
		sdk.WithTimeout(5*time.Second))
	assert.Equal(t, 5*time.Second, client.Timeout)

	resp, err := client.Get("http://backend/products")
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, *seen, 1)
	assert.Equal(t, "Bearer token-1", (*seen)[0].Header.Get("Authorization"))
}
