// Package gateway serves the back-office entry points of the storefront:
// a reverse proxy to the backend that carries the local session's
// credential, and role-gated areas for account, moderation and admin views.
package gateway

import (
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/http/httputil"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

// Options controls the construction of the gateway router.
type Options struct {
	// Upstream is the backend every proxied path is forwarded to.
	Upstream *url.URL
	// Transport forwards proxied requests. It should be the guarded client
	// transport so credentials are attached and 401/403 end the session.
	Transport http.RoundTripper
	Session   *sdk.Session
	Resolver  *sdk.RoleResolver

	LoginPath      string
	LoadingWait    time.Duration
	AllowedOrigins []string
	Logger         logrus.FieldLogger
}

// DefaultCORSOptions returns the development CORS policy for a browser
// storefront served by a local dev server.
func DefaultCORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", sdk.RequestIDHeader},
		ExposedHeaders:   []string{sdk.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// NewRouter assembles the gateway routes.
func NewRouter(opts Options) chi.Router {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}

	guard := &sdk.RouteGuard{
		Resolver:    opts.Resolver,
		LoginPath:   opts.LoginPath,
		LoadingWait: opts.LoadingWait,
		Logger:      opts.Logger,
	}
	proxy := newProxy(opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(DefaultCORSOptions(opts.AllowedOrigins)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get(opts.LoginPath, loginPage)
	r.Get("/session", sessionHandler(opts))
	r.Post("/logout", logoutHandler(opts))

	// Storefront API: anonymous callers are proxied without a credential.
	r.Handle("/api/*", proxy)

	r.Route("/account", func(r chi.Router) {
		r.Use(guard.Require(sdk.RequireAuthenticated()))
		r.Get("/", accountHandler)
		r.Handle("/*", proxy)
	})
	r.Route("/moderation", func(r chi.Router) {
		r.Use(guard.Require(sdk.RequireRoles(sdk.RoleModerator, sdk.RoleAdmin)))
		r.Handle("/*", proxy)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(guard.Require(sdk.RequireRoles(sdk.RoleAdmin)))
		r.Handle("/*", proxy)
	})

	return r
}

func newProxy(opts Options) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if rest, ok := strings.CutPrefix(pr.Out.URL.Path, "/api/"); ok {
				pr.Out.URL.Path = "/" + rest
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(opts.Upstream)
			pr.SetXForwarded()
			// The browser's cookies and credentials belong to the gateway,
			// not the backend.
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Set(sdk.RequestIDHeader, middleware.GetReqID(pr.In.Context()))
		},
		Transport: opts.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, sdk.ErrUnauthorized) {
				// The guard has already torn the session down.
				if wantsHTML(r) {
					http.Redirect(w, r, opts.LoginPath+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
					return
				}
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "session ended",
					"login": opts.LoginPath,
				})
				return
			}
			opts.Logger.WithError(err).WithField("path", r.URL.Path).Warn("upstream request failed")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		},
	}
}

type principalView struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type sessionView struct {
	State      string         `json:"state"`
	Principal  *principalView `json:"principal,omitempty"`
	Role       sdk.Role       `json:"role"`
	Generation uint64         `json:"generation,omitempty"`
}

func viewOf(snap sdk.SessionSnapshot) sessionView {
	v := sessionView{State: snap.State.String(), Role: snap.Role}
	if snap.Principal != nil {
		v.Principal = &principalView{
			ID:    snap.Principal.ID,
			Email: snap.Principal.Email,
			Name:  snap.Principal.DisplayName,
		}
	}
	return v
}

func sessionHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := opts.Resolver.Snapshot(r.Context(), opts.LoadingWait)
		if err != nil {
			opts.Logger.WithError(err).Warn("session snapshot failed")
		}
		view := viewOf(snap)
		view.Generation = opts.Session.Generation()
		writeJSON(w, http.StatusOK, view)
	}
}

func logoutHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := opts.Session.Logout(r.Context()); err != nil {
			opts.Logger.WithError(err).Error("logout incomplete")
		}
		http.Redirect(w, r, opts.LoginPath, http.StatusSeeOther)
	}
}

func accountHandler(w http.ResponseWriter, r *http.Request) {
	snap, _ := sdk.SnapshotFromContext(r.Context())
	writeJSON(w, http.StatusOK, viewOf(snap))
}

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
<p>Run <code>storectl auth login</code> in a terminal, then continue.</p>
{{if .}}<p><a href="{{.}}">Continue</a></p>{{end}}
</body></html>`))

func loginPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	// Only same-origin paths are followed.
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = ""
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginTemplate.Execute(w, next)
}

// IsLoopbackAddr reports whether a listen address only accepts local
// connections. An empty host listens on every interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("request")
		})
	}
}
