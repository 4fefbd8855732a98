package sdk

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader is set on outbound requests that do not carry one already.
const RequestIDHeader = "X-Request-ID"

// CredentialTransport attaches a freshly minted bearer credential to every
// outbound request. Requests made while logged out, or while the credential
// source is failing, go out without a credential and the backend decides.
// It performs no retries.
type CredentialTransport struct {
	Session *Session
	// Base performs the request. Defaults to http.DefaultTransport.
	Base   http.RoundTripper
	Logger logrus.FieldLogger
}

var _ http.RoundTripper = (*CredentialTransport)(nil)

func (t *CredentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out := req.Clone(ctx)
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	// Credentials are never carried over from a previous call.
	out.Header.Del("Authorization")

	if credential := t.credential(out); credential != "" {
		out.Header.Set("Authorization", "Bearer "+credential)
	}

	return t.base().RoundTrip(out)
}

// credential returns the bearer credential for req, or "" when the request
// should go out anonymously.
func (t *CredentialTransport) credential(req *http.Request) string {
	return mintCredential(req.Context(), t.Session, t.logger().WithFields(logrus.Fields{
		"method":     req.Method,
		"url":        req.URL.Redacted(),
		"request_id": req.Header.Get(RequestIDHeader),
	}))
}

func mintCredential(ctx context.Context, session *Session, log logrus.FieldLogger) string {
	principal, err := session.Principal(ctx)
	if err != nil {
		log.WithError(err).Warn("credential source unavailable; dispatching without credential")
		instruments().recordCredentialFailure(ctx)
		return ""
	}
	if principal == nil {
		return ""
	}

	credential, err := session.Source().FreshCredential(ctx)
	if err != nil {
		log.WithError(err).WithField("principal", principal.Key()).
			Warn("failed to mint credential; dispatching without credential")
		instruments().recordCredentialFailure(ctx)
		return ""
	}
	return credential
}

func (t *CredentialTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *CredentialTransport) logger() logrus.FieldLogger {
	if t.Logger != nil {
		return t.Logger
	}
	return logrus.StandardLogger()
}
