// Package domain defines the core types for the SSO gateway.
package domain

import (
	"time"
)

// User represents an identity registered on the auth domain.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session represents an authenticated user session persisted in the ledger.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivity      time.Time `json:"last_activity"`
	ExpiresAt         time.Time `json:"expires_at"`
	Revoked           bool      `json:"revoked"`
	RevokedReason     string    `json:"revoked_reason,omitempty"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsValid checks if the session is usable (not expired and not revoked).
func (s *Session) IsValid() bool {
	return !s.IsExpired() && !s.Revoked
}

// TokenPayload is the session evidence carried inside a cross-domain token.
type TokenPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Domain       string    `json:"domain"`
}

// CrossDomainToken is a short-lived, single-use bearer credential that
// propagates a session from the auth domain to another registered domain.
// The ID doubles as the bearer value carried in the URL.
type CrossDomainToken struct {
	ID         string       `json:"id"`
	Payload    TokenPayload `json:"payload"`
	IssuedAt   time.Time    `json:"issued_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Consumed   bool         `json:"consumed"`
	ConsumedAt time.Time    `json:"consumed_at,omitzero"`
}

// IsExpired checks if the token has expired.
func (t *CrossDomainToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// IsValid checks if the token can still be consumed.
func (t *CrossDomainToken) IsValid() bool {
	return !t.Consumed && !t.IsExpired()
}

// EventType classifies security events recorded in the ledger.
type EventType string

const (
	EventFailedLogin     EventType = "failed_login"
	EventLoginSuccess    EventType = "login_success"
	EventTokenIssued     EventType = "token_issued"
	EventTokenReplay     EventType = "token_replay"
	EventRateLimited     EventType = "rate_limited"
	EventInvalidOrigin   EventType = "invalid_origin"
	EventInvalidCSRF     EventType = "invalid_csrf"
	EventSessionRevoked  EventType = "session_revoked"
	EventHijackSuspected EventType = "hijack_suspected"
)

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an append-only ledger entry used for risk scoring.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	UserID    string            `json:"user_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Resolved  bool              `json:"resolved"`
}

// IPReputation is a rolling per-address trust score.
// Score stays within [-100, 100]; Blocked flips on at -50 or below.
type IPReputation struct {
	IPAddress        string    `json:"ip_address"`
	Score            int       `json:"score"`
	FailedAttempts   int       `json:"failed_attempts"`
	SuccessfulLogins int       `json:"successful_logins"`
	Blocked          bool      `json:"blocked"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BlockThreshold is the score at or below which an IP is auto-blocked.
const BlockThreshold = -50
