// Package auth provides session, CSRF, origin, and rate-limit services for
// the SSO gateway.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aldari-app/sso-gateway/internal/domain"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/store"
)

const (
	// SessionCookieName is the name of the cross-domain session cookie.
	SessionCookieName = "aldari_session"
)

// SessionService manages user sessions in the persistent ledger. Session
// cookies are scoped to the shared parent domain so every registered
// subdomain sees them.
type SessionService struct {
	sessions     store.SessionRepository
	cookieSecure bool
	cookieDomain string
	sessionTTL   time.Duration
}

// SessionServiceOption configures the SessionService.
type SessionServiceOption func(*SessionService)

// WithCookieSecure sets whether cookies should be secure (HTTPS only).
func WithCookieSecure(secure bool) SessionServiceOption {
	return func(s *SessionService) {
		s.cookieSecure = secure
	}
}

// WithSessionTTL sets the session duration.
func WithSessionTTL(ttl time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		s.sessionTTL = ttl
	}
}

// NewSessionService creates a new SessionService. cookieDomain is the shared
// parent domain, e.g. "aldari.app".
func NewSessionService(sessions store.SessionRepository, cookieDomain string, opts ...SessionServiceOption) *SessionService {
	s := &SessionService{
		sessions:     sessions,
		cookieDomain: cookieDomain,
		cookieSecure: true,
		sessionTTL:   24 * time.Hour,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// TTL returns the configured session duration.
func (s *SessionService) TTL() time.Duration {
	return s.sessionTTL
}

// Create creates a new session for a user. The device fingerprint is an
// opaque client-supplied value kept as a risk signal only.
func (s *SessionService) Create(ctx context.Context, userID, fingerprint, ipAddress, userAgent string) (*domain.Session, error) {
	now := time.Now()
	session := &domain.Session{
		ID:                uuid.New().String(),
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		IPAddress:         ipAddress,
		UserAgent:         userAgent,
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         now.Add(s.sessionTTL),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, ssoerrors.Wrap(err, ssoerrors.CodeInternal, "failed to create session")
	}

	return session, nil
}

// Get retrieves a usable session by ID, touching LastActivity.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if session.Revoked {
		return nil, ssoerrors.New(ssoerrors.CodeSessionRevoked, "session revoked")
	}
	if session.IsExpired() {
		// Clean up expired session
		_ = s.sessions.Delete(ctx, id)
		return nil, ssoerrors.New(ssoerrors.CodeSessionExpired, "session expired")
	}

	if err := s.sessions.Touch(ctx, id, time.Now()); err == nil {
		session.LastActivity = time.Now()
	}

	return session, nil
}

// Delete removes a session.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, id)
}

// RevokeAllForUser marks every non-revoked session of a user as revoked and
// returns the number affected. Used by "sign out everywhere".
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	return s.sessions.RevokeByUserID(ctx, userID, reason)
}

// FromRequest retrieves the session referenced by the request cookie.
func (s *SessionService) FromRequest(ctx context.Context, r *http.Request) (*domain.Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, ssoerrors.Unauthorized("no session cookie")
	}

	return s.Get(ctx, cookie.Value)
}

// SetCookie sets the session cookie, scoped to the shared parent domain.
func (s *SessionService) SetCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, s.Cookie(sessionID))
}

// Cookie builds the parent-domain session cookie for a session ID.
func (s *SessionService) Cookie(sessionID string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie clears the session cookie.
func (s *SessionService) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
