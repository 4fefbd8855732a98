package sdk

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Decision is the outcome of a route guard check.
type Decision int

const (
	// DecisionLoading means the role is still being resolved; render nothing committal.
	DecisionLoading Decision = iota
	DecisionAllow
	DecisionRedirectLogin
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionAllow:
		return "allow"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionDeny:
		return "deny"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Requirement describes what a protected view needs from the session.
// Roles, when non-empty, lists the roles admitted; it implies Authenticated.
type Requirement struct {
	Authenticated bool
	Roles         []Role
}

// RequireAuthenticated admits any logged-in principal.
func RequireAuthenticated() Requirement {
	return Requirement{Authenticated: true}
}

// RequireRoles admits logged-in principals holding one of roles.
func RequireRoles(roles ...Role) Requirement {
	return Requirement{Authenticated: true, Roles: roles}
}

// Decide maps session state and role onto an admission decision. It is a
// pure function; the switch over state is exhaustive.
func Decide(state SessionState, role Role, req Requirement) Decision {
	needsPrincipal := req.Authenticated || len(req.Roles) > 0

	switch state {
	case SessionInvalid:
		if needsPrincipal {
			return DecisionRedirectLogin
		}
		return DecisionAllow
	case SessionAnonymous:
		if needsPrincipal {
			return DecisionRedirectLogin
		}
		return DecisionAllow
	case SessionResolving:
		if needsPrincipal {
			return DecisionLoading
		}
		return DecisionAllow
	case SessionActive:
		if len(req.Roles) == 0 || roleAdmitted(role, req.Roles) {
			return DecisionAllow
		}
		return DecisionDeny
	}
	return DecisionDeny
}

func roleAdmitted(role Role, admitted []Role) bool {
	switch role {
	case RoleGuest, RoleUser, RoleModerator, RoleAdmin:
		return slices.Contains(admitted, role)
	}
	return false
}

// RouteGuard gates HTTP handlers on the resolved session. It is meant to be
// mounted as chi middleware via Require.
type RouteGuard struct {
	Resolver *RoleResolver
	// LoginPath is where unauthenticated callers are redirected.
	LoginPath string
	// LoadingWait bounds how long a request waits for an in-flight role
	// resolution before the loading response is rendered.
	LoadingWait time.Duration
	Logger      logrus.FieldLogger
}

var guardPages = template.Must(template.New("loading").Parse(
	`<!doctype html><html><head><meta http-equiv="refresh" content="1"><title>Loading</title></head><body><p>Checking your access&hellip;</p></body></html>`,
))

func init() {
	template.Must(guardPages.New("denied").Parse(
		`<!doctype html><html><head><title>Access denied</title></head><body><h1>Access denied</h1><p>{{.}} cannot open this page.</p></body></html>`,
	))
}

// Require returns middleware admitting requests that satisfy req.
func (g *RouteGuard) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, err := g.Resolver.Snapshot(r.Context(), g.LoadingWait)
			if err != nil {
				g.logger().WithError(err).WithField("path", r.URL.Path).Warn("session snapshot failed")
			}

			decision := Decide(snap.State, snap.Role, req)
			switch decision {
			case DecisionAllow:
				next.ServeHTTP(w, r.WithContext(WithSnapshot(r.Context(), snap)))
			case DecisionLoading:
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = guardPages.ExecuteTemplate(w, "loading", nil)
			case DecisionRedirectLogin:
				http.Redirect(w, r, g.loginURL(r), http.StatusFound)
			case DecisionDeny:
				who := "guest"
				if snap.Principal != nil {
					who = snap.Principal.Key()
				}
				g.logger().WithFields(logrus.Fields{
					"principal": who,
					"role":      snap.Role.String(),
					"path":      r.URL.Path,
				}).Info("access denied")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_ = guardPages.ExecuteTemplate(w, "denied", who)
			}
		})
	}
}

func (g *RouteGuard) loginURL(r *http.Request) string {
	login := g.LoginPath
	if login == "" {
		login = "/login"
	}
	return login + "?next=" + url.QueryEscape(r.URL.RequestURI())
}

func (g *RouteGuard) logger() logrus.FieldLogger {
	if g.Logger != nil {
		return g.Logger
	}
	return logrus.StandardLogger()
}
