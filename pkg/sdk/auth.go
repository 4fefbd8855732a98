package sdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/client/rp/cli"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2/clientcredentials"
)

// LoginSuccessMetadata describes a completed login for confirmation output.
type LoginSuccessMetadata struct {
	Principal *Principal
	ExpiresAt time.Time
}

// DeviceLogin configures the OIDC Device Authorization Flow (RFC 8628).
type DeviceLogin struct {
	Issuer   string
	ClientID string
	// Out receives the user instructions. Defaults to io.Discard.
	Out io.Writer
	// OpenBrowser tries to open the verification URL automatically.
	OpenBrowser bool
	Logger      logrus.FieldLogger
}

// Login runs the device flow: discovery, device authorization, instructions,
// then polling the token endpoint until the user approves or the code expires.
func (d DeviceLogin) Login(ctx context.Context) (*LoginSuccessMetadata, *Credentials, error) {
	out := d.Out
	if out == nil {
		out = io.Discard
	}
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	scopes := []string{oidc.ScopeOpenID, oidc.ScopeProfile, oidc.ScopeEmail, oidc.ScopeOfflineAccess}

	relyingParty, err := rp.NewRelyingPartyOIDC(
		ctx,
		d.Issuer,
		d.ClientID,
		"", // public client
		"", // no redirect in device flow
		scopes,
		rp.WithHTTPClient(defaultHTTPClient()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover OIDC provider at %s: %w", d.Issuer, err)
	}

	authResponse, err := rp.DeviceAuthorization(ctx, scopes, relyingParty, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start device authorization flow: %w", err)
	}

	printDeviceCodeInstructions(out, authResponse)

	if d.OpenBrowser && authResponse.VerificationURIComplete != "" {
		cli.OpenBrowser(authResponse.VerificationURIComplete)
		logger.Debug("attempted to open browser automatically")
	}

	interval := time.Duration(authResponse.Interval) * time.Second
	if interval == 0 {
		interval = 5 * time.Second
	}

	token, err := rp.DeviceAccessToken(ctx, authResponse.DeviceCode, interval, relyingParty)
	if err != nil {
		return nil, nil, fmt.Errorf("device authorization failed: %w", err)
	}

	creds := &Credentials{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		IDToken:      token.IDToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}

	if token.IDToken != "" {
		if _, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, token.IDToken, relyingParty.IDTokenVerifier()); err != nil {
			logger.WithError(err).Warn("failed to verify ID token; principal claims are unverified")
		}
	}

	meta := &LoginSuccessMetadata{ExpiresAt: creds.ExpiresAt}
	if principal, err := creds.Principal(); err == nil {
		creds.PrincipalID = "user:" + principal.ID
		meta.Principal = principal
	}

	return meta, creds, nil
}

// LoginWithServiceAccount authenticates with the OAuth2 client credentials flow.
// The resulting credentials cannot be refreshed; they are renewed by logging in again.
func LoginWithServiceAccount(ctx context.Context, issuer, clientID, clientSecret string) (*Credentials, error) {
	scopes := []string{oidc.ScopeOpenID, oidc.ScopeProfile, oidc.ScopeEmail}
	discoverer, err := rp.NewRelyingPartyOIDC(ctx, issuer, clientID, clientSecret, "", scopes,
		rp.WithHTTPClient(defaultHTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider at %s: %w", issuer, err)
	}

	ccConfig := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     discoverer.OAuthConfig().Endpoint.TokenURL,
		Scopes:       scopes,
	}

	token, err := ccConfig.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange client credentials for token: %w", err)
	}

	return &Credentials{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		RefreshToken: token.RefreshToken,
		PrincipalID:  "sa:" + clientID,
	}, nil
}

// defaultHTTPClient returns an HTTP client with a bounded timeout for OIDC calls.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
	}
}

func printDeviceCodeInstructions(w io.Writer, authResponse *oidc.DeviceAuthorizationResponse) {
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintf(w, "Your user code is: %s\n\n", authResponse.UserCode)
	fmt.Fprintln(w, "Please visit the following URL in your browser to authorize this device:")
	fmt.Fprintf(w, "  %s\n\n", authResponse.VerificationURI)
	if authResponse.VerificationURIComplete != "" {
		fmt.Fprintln(w, "Or use this direct link (includes code):")
		fmt.Fprintf(w, "  %s\n", authResponse.VerificationURIComplete)
	}
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintln(w, "Waiting for authorization...")
}
