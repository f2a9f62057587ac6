// Package token implements the cross-domain token service: short-lived,
// single-use bearer tokens that carry an authenticated session from the
// auth domain to another registered domain.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aldari-app/sso-gateway/internal/domain"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/security"
	"github.com/aldari-app/sso-gateway/internal/store"
)

// TokenTTL is the cross-domain token lifetime.
const TokenTTL = 5 * time.Minute

// AccessClaims are the JWT claims of the access token embedded in a
// cross-domain token payload.
type AccessClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Service issues, validates, and revokes cross-domain tokens.
type Service struct {
	tokens   store.TokenRepository
	sessions store.SessionRepository
	ledger   *security.Ledger
	sink     metrics.Sink

	signingSecret []byte
	issuer        string
	domains       map[string]bool
	tokenTTL      time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.tokenTTL = ttl
	}
}

// WithClock overrides the time source. Tests use this to probe expiry
// boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a token Service. issuer is the auth domain hostname;
// registeredDomains are the hostnames tokens may target.
func NewService(
	tokens store.TokenRepository,
	sessions store.SessionRepository,
	ledger *security.Ledger,
	sink metrics.Sink,
	signingSecret, issuer string,
	registeredDomains []string,
	opts ...Option,
) *Service {
	domains := make(map[string]bool, len(registeredDomains))
	for _, d := range registeredDomains {
		domains[d] = true
	}

	s := &Service{
		tokens:        tokens,
		sessions:      sessions,
		ledger:        ledger,
		sink:          sink,
		signingSecret: []byte(signingSecret),
		issuer:        issuer,
		domains:       domains,
		tokenTTL:      TokenTTL,
		logger:        slog.Default(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.tokenTTL
}

// Issue mints a cross-domain token for an authenticated session targeting a
// registered domain. The token ID is the opaque bearer value carried in the
// redirect URL; the payload holds a signed access token, a refresh token,
// and the session identity.
func (s *Service) Issue(ctx context.Context, session *domain.Session, targetDomain string) (*domain.CrossDomainToken, error) {
	if session == nil || !session.IsValid() {
		return nil, ssoerrors.Unauthorized("authenticated session required")
	}
	if !s.domains[targetDomain] {
		return nil, ssoerrors.New(ssoerrors.CodeDomainMismatch, fmt.Sprintf("domain not registered: %s", targetDomain))
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	accessToken, err := s.signAccessToken(session, targetDomain, now, expiresAt)
	if err != nil {
		return nil, ssoerrors.Internal("failed to sign access token", err)
	}

	refreshToken, err := generateOpaque(32)
	if err != nil {
		return nil, ssoerrors.Internal("failed to generate refresh token", err)
	}

	token := &domain.CrossDomainToken{
		ID: uuid.New().String(),
		Payload: domain.TokenPayload{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
			UserID:       session.UserID,
			Domain:       targetDomain,
		},
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, ssoerrors.Wrap(err, ssoerrors.CodeInternal, "failed to persist token")
	}

	s.sink.IncCounter(metrics.CounterTokensIssued)
	s.ledger.Record(ctx, domain.EventTokenIssued, domain.SeverityLow, session.UserID, session.IPAddress, map[string]string{
		"domain": targetDomain,
	})

	s.logger.Info("issued cross-domain token",
		"user_id", session.UserID,
		"domain", targetDomain,
		"expires_at", expiresAt,
	)

	return token, nil
}

// Validate consumes a token exactly once and returns its payload. The
// consume is a single conditional transition in the store; of any number of
// concurrent callers exactly one succeeds. A replay is treated as an attack
// signal: it fails with token_replay and lands in the security ledger.
func (s *Service) Validate(ctx context.Context, tokenID, requestDomain, clientIP string) (*domain.TokenPayload, error) {
	if tokenID == "" {
		return nil, ssoerrors.New(ssoerrors.CodeTokenInvalid, "missing token")
	}

	stored, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		s.sink.IncCounter(metrics.CounterTokenFailures, ssoerrors.CodeTokenInvalid)
		return nil, ssoerrors.New(ssoerrors.CodeTokenInvalid, "unknown token")
	}

	// Expiry is judged before the consume transition; only the consumed
	// flag needs the atomic conditional update below.
	if !s.now().Before(stored.ExpiresAt) {
		s.sink.IncCounter(metrics.CounterTokenFailures, ssoerrors.CodeTokenExpired)
		return nil, ssoerrors.New(ssoerrors.CodeTokenExpired, "token expired")
	}

	consumed, err := s.tokens.Consume(ctx, tokenID)
	if err != nil {
		switch ssoerrors.CodeOf(err) {
		case ssoerrors.CodeTokenReplay:
			s.sink.IncCounter(metrics.CounterTokenReplays)
			s.ledger.Record(ctx, domain.EventTokenReplay, domain.SeverityHigh, "", clientIP, map[string]string{
				"token_id": tokenID,
			})
		case ssoerrors.CodeTokenExpired, ssoerrors.CodeTokenInvalid:
			s.sink.IncCounter(metrics.CounterTokenFailures, ssoerrors.CodeOf(err))
		}
		return nil, err
	}

	if requestDomain != "" && consumed.Payload.Domain != requestDomain {
		// The token is burned either way; a wrong-domain presentation does
		// not get a second chance.
		s.sink.IncCounter(metrics.CounterTokenFailures, ssoerrors.CodeDomainMismatch)
		return nil, ssoerrors.New(ssoerrors.CodeDomainMismatch, "token issued for a different domain")
	}

	s.sink.IncCounter(metrics.CounterTokensConsumed)

	payload := consumed.Payload
	return &payload, nil
}

// VerifyAccessToken validates the signed access token from a consumed
// payload and returns its claims.
func (s *Service) VerifyAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingSecret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ssoerrors.Wrap(err, ssoerrors.CodeTokenInvalid, "invalid access token")
	}
	return claims, nil
}

// RevokeAllForUser revokes every active session for a user and burns any
// outstanding unconsumed tokens. Returns the number of sessions revoked.
// Used by "sign out everywhere".
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.RevokeByUserID(ctx, userID, "sign_out_everywhere")
	if err != nil {
		return 0, ssoerrors.Wrap(err, ssoerrors.CodeInternal, "failed to revoke sessions")
	}

	if err := s.tokens.ConsumeByUserID(ctx, userID); err != nil {
		s.logger.Error("failed to consume outstanding tokens", "user_id", userID, "error", err)
	}

	s.sink.IncCounter(metrics.CounterSessionsRevoked)
	s.ledger.Record(ctx, domain.EventSessionRevoked, domain.SeverityLow, userID, "", map[string]string{
		"count":  fmt.Sprintf("%d", count),
		"reason": "sign_out_everywhere",
	})

	return count, nil
}

func (s *Service) signAccessToken(session *domain.Session, audience string, now, expiresAt time.Time) (string, error) {
	claims := &AccessClaims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   session.UserID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingSecret)
}

func generateOpaque(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
