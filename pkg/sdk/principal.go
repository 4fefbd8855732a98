package sdk

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal identifies the logged-in actor.
type Principal struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// Key returns the stable cache key for the principal: the lower-cased email,
// or the subject ID when the provider did not release an email.
func (p *Principal) Key() string {
	if p == nil {
		return ""
	}
	if email := strings.TrimSpace(p.Email); email != "" {
		return strings.ToLower(email)
	}
	return p.ID
}

// principalClaims is the subset of OIDC claims a Principal is built from.
type principalClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// PrincipalFromToken extracts a Principal from an ID token or JWT access token.
// The signature is not checked; tokens come from the local credential store and
// verification is the identity provider's and backend's concern.
func PrincipalFromToken(token string) (*Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}

	var claims principalClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}
	if claims.Subject == "" && claims.Email == "" {
		return nil, fmt.Errorf("token carries neither subject nor email")
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}

	return &Principal{
		ID:            claims.Subject,
		Email:         claims.Email,
		DisplayName:   name,
		EmailVerified: claims.EmailVerified,
	}, nil
}
