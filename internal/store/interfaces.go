// Package store defines repository interfaces for persistence.
package store

import (
	"context"
	"time"

	"github.com/aldari-app/sso-gateway/internal/domain"
)

// UserRepository defines operations for user persistence.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	List(ctx context.Context) ([]*domain.User, error)
}

// SessionRepository defines operations for session persistence.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// Touch updates LastActivity for a session.
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	// RevokeByUserID marks all non-revoked sessions of a user as revoked
	// and returns the number affected.
	RevokeByUserID(ctx context.Context, userID, reason string) (int, error)
	CountActiveByUserID(ctx context.Context, userID string) (int, error)
	DeleteExpired(ctx context.Context) error
}

// TokenRepository defines operations for cross-domain token persistence.
type TokenRepository interface {
	Create(ctx context.Context, token *domain.CrossDomainToken) error
	GetByID(ctx context.Context, id string) (*domain.CrossDomainToken, error)
	// Consume marks the token consumed iff it is not already consumed, as a
	// single conditional transition. Concurrent callers see exactly one
	// success; losers get a token_replay error. The returned token reflects
	// the state read inside the transition.
	Consume(ctx context.Context, id string) (*domain.CrossDomainToken, error)
	// ConsumeByUserID force-consumes all outstanding tokens for a user.
	ConsumeByUserID(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) error
}

// SecurityEventRepository defines operations for the security ledger.
type SecurityEventRepository interface {
	Append(ctx context.Context, event *domain.SecurityEvent) error
	List(ctx context.Context, limit int) ([]*domain.SecurityEvent, error)
	ListByIP(ctx context.Context, ip string) ([]*domain.SecurityEvent, error)
	CountUnresolvedByUser(ctx context.Context, userID string) (int, error)
	// ResolveOlderThan marks low-severity events created before the cutoff
	// as resolved and returns the number affected.
	ResolveOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// IPReputationRepository defines operations for per-address trust scores.
type IPReputationRepository interface {
	Get(ctx context.Context, ip string) (*domain.IPReputation, error)
	Upsert(ctx context.Context, rep *domain.IPReputation) error
	SetBlocked(ctx context.Context, ip string, blocked bool) error
}

// Store aggregates all repositories.
type Store interface {
	Users() UserRepository
	Sessions() SessionRepository
	Tokens() TokenRepository
	SecurityEvents() SecurityEventRepository
	IPReputations() IPReputationRepository
	Close() error
}
