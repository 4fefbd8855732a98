package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"
)

// ErrNoRefreshToken is returned when a credential must be renewed but the
// stored credentials carry no refresh token.
var ErrNoRefreshToken = errors.New("access token expired and no refresh token is available; please log in again")

// CredentialSource holds the active principal's credentials.
type CredentialSource interface {
	// CurrentPrincipal returns the logged-in principal, or nil when logged out.
	CurrentPrincipal(ctx context.Context) (*Principal, error)
	// FreshCredential returns a newly minted bearer credential for the
	// current principal. It never hands back a previously returned token
	// when the provider can renew.
	FreshCredential(ctx context.Context) (string, error)
	// SignOut revokes the session. Local state is always cleared, even when
	// network revocation fails.
	SignOut(ctx context.Context) error
}

// TokenRefresher exchanges a refresh token for new tokens.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenRevoker revokes a token at the identity provider.
type TokenRevoker interface {
	Revoke(ctx context.Context, token, tokenTypeHint string) error
}

// OIDCSource is a CredentialSource backed by a CredentialStore and an OIDC
// provider. Refreshes are serialised so rotated refresh tokens are never
// used twice.
type OIDCSource struct {
	store     CredentialStore
	refresher TokenRefresher
	revoker   TokenRevoker
	logger    logrus.FieldLogger
	now       func() time.Time

	mu sync.Mutex
}

var _ CredentialSource = (*OIDCSource)(nil)

// SourceOption configures an OIDCSource.
type SourceOption func(*OIDCSource)

// WithTokenRefresher replaces the OIDC discovery based refresher.
func WithTokenRefresher(r TokenRefresher) SourceOption {
	return func(s *OIDCSource) {
		s.refresher = r
	}
}

// WithTokenRevoker replaces the OIDC discovery based revoker.
func WithTokenRevoker(r TokenRevoker) SourceOption {
	return func(s *OIDCSource) {
		s.revoker = r
	}
}

// WithSourceLogger sets the logger used for revocation warnings.
func WithSourceLogger(l logrus.FieldLogger) SourceOption {
	return func(s *OIDCSource) {
		s.logger = l
	}
}

// NewOIDCSource creates a CredentialSource for the given issuer and public
// client. Discovery happens lazily on the first refresh or revocation.
func NewOIDCSource(store CredentialStore, issuer, clientID string, opts ...SourceOption) *OIDCSource {
	party := &RelyingParty{Issuer: issuer, ClientID: clientID, HTTPClient: defaultHTTPClient()}
	s := &OIDCSource{
		store:     store,
		refresher: party,
		revoker:   party,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OIDCSource) CurrentPrincipal(ctx context.Context) (*Principal, error) {
	creds, err := s.store.LoadCredentials()
	if err != nil {
		if errors.Is(err, ErrNotLoggedIn) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	principal, err := creds.Principal()
	if err != nil {
		if creds.PrincipalID == "" {
			return nil, fmt.Errorf("failed to derive principal: %w", err)
		}
		// Opaque tokens: fall back to the principal recorded at login.
		return &Principal{ID: creds.PrincipalID}, nil
	}
	return principal, nil
}

func (s *OIDCSource) FreshCredential(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.store.LoadCredentials()
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds.RefreshToken == "" {
		// Client-credential sessions cannot renew; the stored token is the
		// freshest there is until it expires.
		if s.now().Before(creds.ExpiresAt) {
			return creds.AccessToken, nil
		}
		return "", ErrNoRefreshToken
	}

	token, err := s.refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	renewed := &Credentials{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		RefreshToken: token.RefreshToken,
		IDToken:      creds.IDToken,
		PrincipalID:  creds.PrincipalID,
	}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = creds.RefreshToken
	}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		renewed.IDToken = idToken
	}
	if err := s.store.SaveCredentials(renewed); err != nil {
		return "", fmt.Errorf("failed to save refreshed credentials: %w", err)
	}

	return renewed.AccessToken, nil
}

func (s *OIDCSource) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.store.LoadCredentials()
	if err == nil && s.revoker != nil {
		if creds.RefreshToken != "" {
			if err := s.revoker.Revoke(ctx, creds.RefreshToken, "refresh_token"); err != nil {
				s.logger.WithError(err).Warn("refresh token revocation failed; clearing local session anyway")
			}
		}
		if creds.AccessToken != "" {
			if err := s.revoker.Revoke(ctx, creds.AccessToken, "access_token"); err != nil {
				s.logger.WithError(err).Debug("access token revocation failed")
			}
		}
	}

	if err := s.store.DeleteCredentials(); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// RelyingParty refreshes and revokes tokens against an OIDC provider found
// through discovery. A failed discovery is retried on the next call.
type RelyingParty struct {
	Issuer     string
	ClientID   string
	HTTPClient *http.Client

	mu    sync.Mutex
	party rp.RelyingParty
}

var (
	_ TokenRefresher = (*RelyingParty)(nil)
	_ TokenRevoker   = (*RelyingParty)(nil)
)

func (r *RelyingParty) relyingParty(ctx context.Context) (rp.RelyingParty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.party != nil {
		return r.party, nil
	}

	scopes := []string{oidc.ScopeOpenID, oidc.ScopeProfile, oidc.ScopeEmail, oidc.ScopeOfflineAccess}
	opts := []rp.Option{}
	if r.HTTPClient != nil {
		opts = append(opts, rp.WithHTTPClient(r.HTTPClient))
	}
	party, err := rp.NewRelyingPartyOIDC(ctx, r.Issuer, r.ClientID, "", "", scopes, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider at %s: %w", r.Issuer, err)
	}
	r.party = party
	return party, nil
}

// Refresh forces a refresh-token grant; the seed token has no access token so
// the oauth2 token source cannot short-circuit with a cached one.
func (r *RelyingParty) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	party, err := r.relyingParty(ctx)
	if err != nil {
		return nil, err
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	source := party.OAuthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return source.Token()
}

func (r *RelyingParty) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	party, err := r.relyingParty(ctx)
	if err != nil {
		return err
	}
	return rp.RevokeToken(ctx, party, token, tokenTypeHint)
}
