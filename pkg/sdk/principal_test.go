package sdk_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestPrincipalFromToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"sub":                "user-123",
		"email":              "New@User.com",
		"email_verified":     true,
		"preferred_username": "newbie",
	})

	p, err := sdk.PrincipalFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", p.ID)
	assert.Equal(t, "New@User.com", p.Email)
	assert.Equal(t, "newbie", p.DisplayName)
	assert.True(t, p.EmailVerified)
	assert.Equal(t, "new@user.com", p.Key())
}

func TestPrincipalFromToken_Errors(t *testing.T) {
	_, err := sdk.PrincipalFromToken("")
	assert.Error(t, err)

	_, err = sdk.PrincipalFromToken("opaque-access-token")
	assert.Error(t, err)

	_, err = sdk.PrincipalFromToken(signedToken(t, jwt.MapClaims{"name": "nobody"}))
	assert.Error(t, err)
}

func TestPrincipal_Key(t *testing.T) {
	var nilPrincipal *sdk.Principal
	assert.Empty(t, nilPrincipal.Key())
	assert.Equal(t, "sub-1", (&sdk.Principal{ID: "sub-1"}).Key())
	assert.Equal(t, "a@b.c", (&sdk.Principal{ID: "sub-1", Email: "  A@B.C "}).Key())
}

func TestCredentials_Principal(t *testing.T) {
	idToken := signedToken(t, jwt.MapClaims{"sub": "from-id", "email": "id@shop.test"})
	accessToken := signedToken(t, jwt.MapClaims{"sub": "from-access"})

	p, err := (&sdk.Credentials{IDToken: idToken, AccessToken: accessToken}).Principal()
	require.NoError(t, err)
	assert.Equal(t, "from-id", p.ID)

	p, err = (&sdk.Credentials{IDToken: "garbage", AccessToken: accessToken}).Principal()
	require.NoError(t, err)
	assert.Equal(t, "from-access", p.ID)

	_, err = (&sdk.Credentials{AccessToken: "opaque"}).Principal()
	assert.Error(t, err)
}
