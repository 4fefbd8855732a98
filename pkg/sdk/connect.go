package sdk

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewCredentialInterceptor attaches a fresh bearer credential to every unary
// Connect call, with the same fail-open rules as CredentialTransport.
func NewCredentialInterceptor(session *Session, logger logrus.FieldLogger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			header := req.Header()
			if header.Get(RequestIDHeader) == "" {
				header.Set(RequestIDHeader, uuid.NewString())
			}
			header.Del("Authorization")

			credential := mintCredential(ctx, session, logger.WithFields(logrus.Fields{
				"procedure":  req.Spec().Procedure,
				"request_id": header.Get(RequestIDHeader),
			}))
			if credential != "" {
				header.Set("Authorization", "Bearer "+credential)
			}
			return next(ctx, req)
		}
	}
}

// NewGuardInterceptor tears the session down when a Connect call fails with
// Unauthenticated or PermissionDenied, then navigates to login. The original
// error is returned to the caller.
func NewGuardInterceptor(session *Session, nav Navigator, logger logrus.FieldLogger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			generation := session.Generation()

			resp, err := next(ctx, req)
			if err == nil {
				return resp, nil
			}

			var status int
			switch connect.CodeOf(err) {
			case connect.CodeUnauthenticated:
				status = http.StatusUnauthorized
			case connect.CodePermissionDenied:
				status = http.StatusForbidden
			default:
				return resp, err
			}

			handleAuthorizationFailure(ctx, session, nav, logger, generation, status)
			return resp, err
		}
	}
}
