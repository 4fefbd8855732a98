package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnauthorized matches every *AuthorizationError via errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// AuthorizationError is returned for any request the backend answered with
// 401 or 403. By the time the caller sees it, the session has been torn down.
type AuthorizationError struct {
	StatusCode int
	Method     string
	URL        string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %s %s returned %d %s",
		e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *AuthorizationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// IsAuthorizationStatus reports whether status forces a session teardown.
func IsAuthorizationStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// Navigator sends the caller to the login entry point.
type Navigator interface {
	NavigateToLogin(ctx context.Context)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context)

func (f NavigatorFunc) NavigateToLogin(ctx context.Context) { f(ctx) }

// GuardTransport inspects every response from Next. Authorization failures
// tear the session down, navigate to login and surface as *AuthorizationError;
// everything else is returned untouched.
type GuardTransport struct {
	Session   *Session
	Next      http.RoundTripper
	Navigator Navigator
	Logger    logrus.FieldLogger
}

var _ http.RoundTripper = (*GuardTransport)(nil)

func (t *GuardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	generation := t.Session.Generation()

	resp, err := t.next().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if !IsAuthorizationStatus(resp.StatusCode) {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	authErr := &AuthorizationError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		URL:        req.URL.Redacted(),
	}
	handleAuthorizationFailure(req.Context(), t.Session, t.Navigator, t.logger(), generation, resp.StatusCode)
	return nil, authErr
}

// handleAuthorizationFailure runs teardown then navigation. The teardown is
// detached from ctx cancellation so an abandoned request cannot leave a
// half-torn-down session behind.
func handleAuthorizationFailure(ctx context.Context, session *Session, nav Navigator, logger logrus.FieldLogger, generation uint64, status int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	tornDown, err := session.Teardown(ctx, generation, status)
	if err != nil {
		logger.WithError(err).Error("teardown failed; navigating to login anyway")
	}
	if !tornDown {
		// Another response from the same session already handled it.
		return
	}
	if nav != nil {
		nav.NavigateToLogin(ctx)
	}
}

func (t *GuardTransport) next() http.RoundTripper {
	if t.Next != nil {
		return t.Next
	}
	return http.DefaultTransport
}

func (t *GuardTransport) logger() logrus.FieldLogger {
	if t.Logger != nil {
		return t.Logger
	}
	return logrus.StandardLogger()
}

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	Base      http.RoundTripper
	Navigator Navigator
	Logger    logrus.FieldLogger
	Timeout   time.Duration
}

// ClientOption mutates ClientOptions.
type ClientOption func(*ClientOptions)

// WithBaseTransport sets the transport that performs requests.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(opts *ClientOptions) {
		opts.Base = rt
	}
}

// WithNavigator sets where authorization failures navigate to.
func WithNavigator(nav Navigator) ClientOption {
	return func(opts *ClientOptions) {
		opts.Navigator = nav
	}
}

// WithLogger sets the logger for the pipeline and guard.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}

// WithTimeout sets the overall client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(opts *ClientOptions) {
		opts.Timeout = d
	}
}

// NewHTTPClient returns an http.Client whose every request goes through the
// credential pipeline and the response guard.
func NewHTTPClient(session *Session, optFns ...ClientOption) *http.Client {
	opts := ClientOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	pipeline := &CredentialTransport{Session: session, Base: opts.Base, Logger: opts.Logger}
	guard := &GuardTransport{Session: session, Next: pipeline, Navigator: opts.Navigator, Logger: opts.Logger}
	return &http.Client{Transport: guard, Timeout: opts.Timeout}
}
