package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Resolver defaults.
const (
	DefaultLookupTimeout = 10 * time.Second
	DefaultRoleTTL       = 15 * time.Minute
)

// RoleAuthority is the backend source of truth for a principal's role.
type RoleAuthority interface {
	// LookupRole returns the raw role name for the principal identified by email.
	LookupRole(ctx context.Context, email string) (string, error)
}

// AuthorityError reports a non-2xx answer from the role authority that was
// not an authorization failure.
type AuthorityError struct {
	StatusCode int
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("role authority returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPRoleAuthority queries GET {BaseURL}/users/{email}/role. Client should be
// built with NewHTTPClient so the lookup is credentialed and guarded. With any
// other client a 401 or 403 is still reported as *AuthorizationError, so the
// resolver never caches it as a guest fallback, but nothing tears the session
// down.
type HTTPRoleAuthority struct {
	BaseURL string
	Client  *http.Client
}

var _ RoleAuthority = (*HTTPRoleAuthority)(nil)

func (a *HTTPRoleAuthority) LookupRole(ctx context.Context, email string) (string, error) {
	endpoint := strings.TrimRight(a.BaseURL, "/") + "/users/" + url.PathEscape(email) + "/role"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build role request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("role request failed: %w", err)
	}
	defer resp.Body.Close()

	if IsAuthorizationStatus(resp.StatusCode) {
		return "", &AuthorizationError{StatusCode: resp.StatusCode, Method: req.Method, URL: req.URL.Redacted()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthorityError{StatusCode: resp.StatusCode}
	}

	// Anything but {"role": "<string>"} yields an empty role, which the
	// resolver normalises like any other unrecognised value.
	var payload struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", nil
	}
	return payload.Role, nil
}

// SessionSnapshot is a point-in-time view of the session for route decisions.
type SessionSnapshot struct {
	State     SessionState
	Principal *Principal
	Role      Role
}

// RoleResolver answers "what role does the current principal hold" through
// cache, allow-list and role authority, in that order.
//
// Concurrent resolutions for the same principal within one session
// generation share a single authority call. Results computed under a
// generation that has since ended are discarded, never cached.
type RoleResolver struct {
	session   *Session
	authority RoleAuthority

	allowList   map[string]struct{}
	timeout     time.Duration
	ttl         time.Duration
	failureTTL  time.Duration
	unknownRole Role
	now         func() time.Time
	logger      logrus.FieldLogger

	group singleflight.Group
}

// ResolverOption configures a RoleResolver.
type ResolverOption func(*RoleResolver)

// WithAllowList sets the email addresses that always resolve to admin.
func WithAllowList(emails ...string) ResolverOption {
	return func(r *RoleResolver) {
		for _, email := range emails {
			if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
				r.allowList[email] = struct{}{}
			}
		}
	}
}

// WithLookupTimeout bounds each role authority call.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *RoleResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRoleTTL sets how long cached roles are trusted. A negative TTL disables expiry.
func WithRoleTTL(d time.Duration) ResolverOption {
	return func(r *RoleResolver) {
		if d != 0 {
			r.ttl = d
		}
	}
}

// WithFailureTTL sets how long a guest fallback caused by an unreachable
// authority is cached. Defaults to the role TTL.
func WithFailureTTL(d time.Duration) ResolverOption {
	return func(r *RoleResolver) {
		r.failureTTL = d
	}
}

// WithUnknownRoleFallback sets the role unrecognised authority answers
// normalise to. Defaults to RoleUser.
func WithUnknownRoleFallback(role Role) ResolverOption {
	return func(r *RoleResolver) {
		r.unknownRole = role
	}
}

// WithClock replaces time.Now for TTL checks.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *RoleResolver) {
		r.now = now
	}
}

// WithResolverLogger sets the resolver logger.
func WithResolverLogger(l logrus.FieldLogger) ResolverOption {
	return func(r *RoleResolver) {
		r.logger = l
	}
}

// NewRoleResolver creates a resolver for the principals of session.
func NewRoleResolver(session *Session, authority RoleAuthority, opts ...ResolverOption) *RoleResolver {
	r := &RoleResolver{
		session:     session,
		authority:   authority,
		allowList:   make(map[string]struct{}),
		timeout:     DefaultLookupTimeout,
		ttl:         DefaultRoleTTL,
		unknownRole: RoleUser,
		now:         time.Now,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the role of the current principal. A missing principal is a
// guest. Authority outages degrade to guest; they are not errors.
func (r *RoleResolver) Resolve(ctx context.Context) (Role, error) {
	generation := r.session.Generation()
	principal, err := r.session.Principal(ctx)
	if err != nil {
		return RoleGuest, fmt.Errorf("failed to load principal: %w", err)
	}
	if principal == nil {
		instruments().recordResolution(ctx, sourceAnonymous, RoleGuest)
		return RoleGuest, nil
	}

	if role, ok := r.cached(ctx, principal.Key()); ok {
		instruments().recordResolution(ctx, sourceCache, role)
		return role, nil
	}

	res, ok := r.wait(ctx, r.start(ctx, principal, generation))
	if !ok {
		return RoleGuest, ctx.Err()
	}
	return res.Val.(resolution).role, res.Err
}

// Snapshot reports the session state without blocking for longer than wait.
// If the role is not cached, resolution is started (or joined) in the
// background; a snapshot taken before it completes is SessionResolving.
// When the session ends while the snapshot waits, the snapshot describes the
// session that replaced it, never the principal loaded before the end.
func (r *RoleResolver) Snapshot(ctx context.Context, wait time.Duration) (SessionSnapshot, error) {
	generation := r.session.Generation()
	if r.session.Invalid() {
		return SessionSnapshot{State: SessionInvalid}, nil
	}

	principal, err := r.session.Principal(ctx)
	if err != nil {
		return SessionSnapshot{State: SessionAnonymous}, fmt.Errorf("failed to load principal: %w", err)
	}
	if principal == nil {
		return SessionSnapshot{State: SessionAnonymous}, nil
	}

	if role, ok := r.cached(ctx, principal.Key()); ok {
		return SessionSnapshot{State: SessionActive, Principal: principal, Role: role}, nil
	}

	ch := r.start(ctx, principal, generation)
	if wait <= 0 {
		return SessionSnapshot{State: SessionResolving, Principal: principal}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	res, ok := r.wait(waitCtx, ch)
	if r.ended(generation) {
		return r.replacement(ctx)
	}
	if !ok {
		return SessionSnapshot{State: SessionResolving, Principal: principal}, nil
	}
	if res.Err != nil {
		return SessionSnapshot{State: SessionResolving, Principal: principal}, res.Err
	}
	out := res.Val.(resolution)
	if out.discarded {
		return r.replacement(ctx)
	}
	return SessionSnapshot{State: SessionActive, Principal: principal, Role: out.role}, nil
}

// ended reports whether the session generation moved past generation or a
// teardown is running.
func (r *RoleResolver) ended(generation uint64) bool {
	return r.session.Invalid() || r.session.Generation() != generation
}

// replacement snapshots the session that followed an ended generation. A new
// principal there has no role yet, so it is reported as resolving.
func (r *RoleResolver) replacement(ctx context.Context) (SessionSnapshot, error) {
	if r.session.Invalid() {
		return SessionSnapshot{State: SessionInvalid}, nil
	}
	principal, err := r.session.Principal(ctx)
	if err != nil {
		return SessionSnapshot{State: SessionAnonymous}, fmt.Errorf("failed to load principal: %w", err)
	}
	if principal == nil {
		return SessionSnapshot{State: SessionAnonymous}, nil
	}
	return SessionSnapshot{State: SessionResolving, Principal: principal}, nil
}

// Invalidate drops the current principal's cached role so the next Resolve
// asks again.
func (r *RoleResolver) Invalidate(ctx context.Context) error {
	principal, err := r.session.Principal(ctx)
	if err != nil {
		return fmt.Errorf("failed to load principal: %w", err)
	}
	if principal == nil {
		return nil
	}
	return r.session.Cache().Delete(ctx, RoleCacheKey(principal.Key()))
}

// resolution is the value a resolution flight yields. discarded is set when
// the session ended before the role could be committed.
type resolution struct {
	role      Role
	discarded bool
}

// start joins or launches the shared resolution for principal in
// generation. The flight is detached from ctx cancellation so one impatient
// caller cannot fail it for the others.
func (r *RoleResolver) start(ctx context.Context, principal *Principal, generation uint64) <-chan singleflight.Result {
	key := principal.Key()
	flight := fmt.Sprintf("%d/%s", generation, key)
	detached := context.WithoutCancel(ctx)

	return r.group.DoChan(flight, func() (any, error) {
		return r.resolve(detached, principal, generation), nil
	})
}

func (r *RoleResolver) wait(ctx context.Context, ch <-chan singleflight.Result) (singleflight.Result, bool) {
	select {
	case res := <-ch:
		return res, true
	case <-ctx.Done():
		return singleflight.Result{}, false
	}
}

// resolve runs steps allow-list → authority → fallback and commits the
// result for generation.
func (r *RoleResolver) resolve(ctx context.Context, principal *Principal, generation uint64) resolution {
	key := principal.Key()
	log := r.logger.WithFields(logrus.Fields{"principal": key, "generation": generation})

	// A flight from the same generation may have committed between our
	// cache miss and joining this one.
	if role, ok := r.cached(ctx, key); ok {
		instruments().recordResolution(ctx, sourceCache, role)
		return resolution{role: role}
	}

	var (
		role   Role
		source string
		ttl    time.Duration
	)

	switch {
	case r.allowed(principal):
		role, source = RoleAdmin, sourceAllowList

	default:
		raw, err := r.lookup(ctx, principal)
		switch {
		case errors.Is(err, ErrUnauthorized):
			// The guard has torn this session down; there is nothing to cache.
			log.WithError(err).Warn("role authority rejected credential")
			instruments().recordResolution(ctx, sourceDiscarded, RoleGuest)
			return resolution{role: RoleGuest, discarded: true}
		case err != nil:
			log.WithError(err).Warn("role authority unavailable; falling back to guest")
			role, source, ttl = RoleGuest, sourceFallback, r.failureTTL
		default:
			parsed, ok := parseAuthorityRole(raw)
			if !ok {
				log.WithField("raw_role", raw).Warnf("unrecognised role from authority; using %s", r.unknownRole)
				parsed = r.unknownRole
			}
			role, source = parsed, sourceAuthority
		}
	}

	entry := RoleCacheEntry{PrincipalKey: key, Role: role, ResolvedAt: r.now(), TTL: ttl}
	committed, err := r.session.commit(generation, func() error {
		raw, err := encodeRoleEntry(entry)
		if err != nil {
			return err
		}
		return r.session.Cache().Set(ctx, RoleCacheKey(key), raw)
	})
	if err != nil {
		log.WithError(err).Warn("failed to cache role")
	}
	if !committed {
		log.Debug("session ended during resolution; discarding role")
		instruments().recordResolution(ctx, sourceDiscarded, RoleGuest)
		return resolution{role: RoleGuest, discarded: true}
	}

	log.WithFields(logrus.Fields{"role": role.String(), "source": source}).Debug("resolved role")
	instruments().recordResolution(ctx, source, role)
	return resolution{role: role}
}

func (r *RoleResolver) lookup(ctx context.Context, principal *Principal) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	identifier := principal.Email
	if identifier == "" {
		identifier = principal.Key()
	}

	start := time.Now()
	raw, err := r.authority.LookupRole(ctx, identifier)
	instruments().recordAuthorityDuration(ctx, float64(time.Since(start).Microseconds())/1000, err == nil)
	return raw, err
}

func (r *RoleResolver) allowed(principal *Principal) bool {
	if principal.Email == "" {
		return false
	}
	_, ok := r.allowList[strings.ToLower(strings.TrimSpace(principal.Email))]
	return ok
}

// cached returns the unexpired cached role for key. Unreadable and expired
// entries are deleted and count as misses.
func (r *RoleResolver) cached(ctx context.Context, key string) (Role, bool) {
	cacheKey := RoleCacheKey(key)
	raw, ok, err := r.session.Cache().Get(ctx, cacheKey)
	if err != nil {
		r.logger.WithError(err).WithField("key", cacheKey).Warn("session cache read failed")
		return RoleGuest, false
	}
	if !ok {
		return RoleGuest, false
	}

	entry, err := decodeRoleEntry(raw)
	if err != nil || entry.PrincipalKey != key || entry.Expired(r.now(), r.ttl) {
		_ = r.session.Cache().Delete(ctx, cacheKey)
		return RoleGuest, false
	}
	return entry.Role, true
}
