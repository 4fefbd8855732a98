package sdk

import (
	"errors"
	"time"
)

// ErrNotLoggedIn is returned by credential stores when no credentials exist.
var ErrNotLoggedIn = errors.New("not logged in")

// Credentials represents the persisted authentication material of one principal.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	PrincipalID  string    `json:"principal_id,omitempty"`
}

func (c *Credentials) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Principal derives the principal from the ID token, falling back to the access
// token when the provider issued JWT access tokens.
func (c *Credentials) Principal() (*Principal, error) {
	if c.IDToken != "" {
		if p, err := PrincipalFromToken(c.IDToken); err == nil {
			return p, nil
		}
	}
	return PrincipalFromToken(c.AccessToken)
}

// CredentialStore persists credentials between process runs.
// LoadCredentials returns ErrNotLoggedIn when nothing is stored.
type CredentialStore interface {
	SaveCredentials(credentials *Credentials) error
	LoadCredentials() (*Credentials, error)
	DeleteCredentials() error
}
