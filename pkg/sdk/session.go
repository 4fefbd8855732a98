package sdk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// SessionState is the derived state of the current session.
type SessionState int

const (
	// SessionAnonymous means no principal is logged in.
	SessionAnonymous SessionState = iota
	// SessionResolving means a principal is present but its role is not known yet.
	SessionResolving
	// SessionActive means a principal is present and its role is known.
	SessionActive
	// SessionInvalid means an authorization failure is being torn down.
	SessionInvalid
)

func (s SessionState) String() string {
	switch s {
	case SessionAnonymous:
		return "anonymous"
	case SessionResolving:
		return "resolving"
	case SessionActive:
		return "active"
	case SessionInvalid:
		return "invalid"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Session owns the session generation and the teardown sequence. Every
// logout or forced teardown starts a new generation; work started under an
// older generation must not write session state.
type Session struct {
	source CredentialSource
	cache  SessionCache
	logger logrus.FieldLogger

	generation atomic.Uint64
	invalid    atomic.Bool

	// mu orders cache commits (read side) against teardown (write side) so a
	// stale commit can never land after a purge.
	mu sync.RWMutex
}

// NewSession creates a Session over the given credential source and cache.
func NewSession(source CredentialSource, cache SessionCache, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Session{source: source, cache: cache, logger: logger}
	s.generation.Store(1)
	return s
}

// Source returns the credential source the session wraps.
func (s *Session) Source() CredentialSource { return s.source }

// Cache returns the session cache.
func (s *Session) Cache() SessionCache { return s.cache }

// Generation returns the current session generation.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Invalid reports whether a teardown is in progress.
func (s *Session) Invalid() bool {
	return s.invalid.Load()
}

// Principal returns the current principal, or nil when logged out.
func (s *Session) Principal(ctx context.Context) (*Principal, error) {
	return s.source.CurrentPrincipal(ctx)
}

// commit runs write while holding the commit lock, but only if generation is
// still the live one. It reports whether write ran.
func (s *Session) commit(generation uint64, write func() error) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.generation.Load() != generation || s.invalid.Load() {
		return false, nil
	}
	return true, write()
}

// Teardown revokes the session and purges cached roles in response to an
// authorization failure observed under generation. Only the first caller per
// generation tears down; later callers get false. Purge and revocation are
// complete when Teardown returns.
func (s *Session) Teardown(ctx context.Context, generation uint64, status int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != 0 && generation != s.generation.Load() {
		return false, nil
	}

	log := s.logger.WithFields(logrus.Fields{
		"generation": s.generation.Load(),
		"status":     status,
	})
	log.Warn("authorization failure; tearing down session")

	err := s.endLocked(ctx)
	instruments().recordTeardown(ctx, status)
	if err != nil {
		log.WithError(err).Error("session teardown incomplete")
	}
	return true, err
}

// Logout ends the session on the principal's request.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.endLocked(ctx)
}

func (s *Session) endLocked(ctx context.Context) error {
	s.invalid.Store(true)
	defer s.invalid.Store(false)

	s.generation.Add(1)

	removed, purgeErr := PurgeRoleEntries(ctx, s.cache)
	s.logger.WithField("removed", removed).Debug("purged role cache")

	signOutErr := s.source.SignOut(ctx)

	if purgeErr != nil {
		return purgeErr
	}
	if signOutErr != nil {
		return fmt.Errorf("failed to sign out: %w", signOutErr)
	}
	return nil
}
