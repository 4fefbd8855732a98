package sdk_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

func TestSession_Logout(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource("new@user.com")
	session, cache := newTestSession(t, source)
	require.NoError(t, cache.Set(ctx, "role_new@user.com", "{}"))
	require.NoError(t, cache.Set(ctx, "role_old@user.com", "{}"))
	require.NoError(t, cache.Set(ctx, "theme", "dark"))

	require.NoError(t, session.Logout(ctx))

	keys, err := cache.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"theme"}, keys)
	assert.Equal(t, 1, source.SignOuts())
	assert.Equal(t, uint64(2), session.Generation())
	assert.False(t, session.Invalid())

	principal, err := session.Principal(ctx)
	require.NoError(t, err)
	assert.Nil(t, principal)
}

func TestSession_LogoutReportsSignOutFailure(t *testing.T) {
	source := newFakeSource("new@user.com")
	source.signOutErr = errors.New("disk full")
	session, _ := newTestSession(t, source)

	err := session.Logout(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, uint64(2), session.Generation(), "the generation ends even when sign-out fails")
}

func TestSession_Teardown(t *testing.T) {
	ctx := context.Background()

	t.Run("stale generation is ignored", func(t *testing.T) {
		source := newFakeSource("new@user.com")
		session, _ := newTestSession(t, source)

		tornDown, err := session.Teardown(ctx, session.Generation(), http.StatusUnauthorized)
		require.NoError(t, err)
		assert.True(t, tornDown)

		tornDown, err = session.Teardown(ctx, 1, http.StatusForbidden)
		require.NoError(t, err)
		assert.False(t, tornDown)
		assert.Equal(t, 1, source.SignOuts())
	})

	t.Run("generation zero always tears down", func(t *testing.T) {
		source := newFakeSource("new@user.com")
		session, _ := newTestSession(t, source)

		for i := 0; i < 2; i++ {
			tornDown, err := session.Teardown(ctx, 0, http.StatusUnauthorized)
			require.NoError(t, err)
			assert.True(t, tornDown)
		}
		assert.Equal(t, 2, source.SignOuts())
		assert.Equal(t, uint64(3), session.Generation())
	})

	t.Run("anonymous session is still torn down", func(t *testing.T) {
		source := newFakeSource("")
		session, _ := newTestSession(t, source)

		tornDown, err := session.Teardown(ctx, session.Generation(), http.StatusUnauthorized)
		require.NoError(t, err)
		assert.True(t, tornDown)
		assert.Equal(t, 1, source.SignOuts())
	})
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "anonymous", sdk.SessionAnonymous.String())
	assert.Equal(t, "resolving", sdk.SessionResolving.String())
	assert.Equal(t, "active", sdk.SessionActive.String())
	assert.Equal(t, "invalid", sdk.SessionInvalid.String())
}
