// Package security maintains the security-event ledger, IP reputation, and
// risk scoring.
package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aldari-app/sso-gateway/internal/domain"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/store"
)

// Reputation score deltas. Failures pull an address down fast; legitimate
// use climbs back slowly.
const (
	deltaFailure = -10
	deltaReplay  = -25
	deltaSuccess = 5
	scoreMin     = -100
	scoreMax     = 100
)

// Ledger records security events, maintains IP reputation, and computes
// per-user risk scores.
type Ledger struct {
	events      store.SecurityEventRepository
	reputations store.IPReputationRepository
	sessions    store.SessionRepository
	sink        metrics.Sink
	logger      *slog.Logger
}

// LedgerOption configures the Ledger.
type LedgerOption func(*Ledger)

// WithLogger sets the logger for the ledger.
func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger creates a Ledger.
func NewLedger(
	events store.SecurityEventRepository,
	reputations store.IPReputationRepository,
	sessions store.SessionRepository,
	sink metrics.Sink,
	opts ...LedgerOption,
) *Ledger {
	l := &Ledger{
		events:      events,
		reputations: reputations,
		sessions:    sessions,
		sink:        sink,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Record appends a security event and feeds the IP reputation score.
// Recording is best-effort: a ledger write failure is logged, never
// propagated to the caller's request.
func (l *Ledger) Record(ctx context.Context, eventType domain.EventType, severity domain.Severity, userID, ip string, metadata map[string]string) {
	event := &domain.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  severity,
		UserID:    userID,
		IPAddress: ip,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	if err := l.events.Append(ctx, event); err != nil {
		l.logger.Error("failed to append security event", "type", eventType, "error", err)
		return
	}

	l.sink.IncCounter(metrics.CounterSecurityEvents, string(eventType))

	switch eventType {
	case domain.EventFailedLogin, domain.EventInvalidCSRF, domain.EventInvalidOrigin, domain.EventRateLimited:
		l.noteFailure(ctx, ip, deltaFailure)
	case domain.EventTokenReplay, domain.EventHijackSuspected:
		l.noteFailure(ctx, ip, deltaReplay)
	case domain.EventLoginSuccess:
		l.noteSuccess(ctx, ip)
	}

	if severity == domain.SeverityHigh || severity == domain.SeverityCritical {
		l.logger.Warn("security event",
			"type", eventType,
			"severity", severity,
			"user_id", userID,
			"ip", ip,
		)
	}
}

// ReputationFor returns the reputation for an address, or a neutral one if
// none has been recorded.
func (l *Ledger) ReputationFor(ctx context.Context, ip string) *domain.IPReputation {
	rep, err := l.reputations.Get(ctx, ip)
	if err != nil {
		return &domain.IPReputation{IPAddress: ip}
	}
	return rep
}

// IsBlocked reports whether an address is currently blocked.
func (l *Ledger) IsBlocked(ctx context.Context, ip string) bool {
	return l.ReputationFor(ctx, ip).Blocked
}

// Block manually blocks or unblocks an address.
func (l *Ledger) Block(ctx context.Context, ip string, blocked bool) error {
	if err := l.reputations.SetBlocked(ctx, ip, blocked); err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) && blocked {
			return l.reputations.Upsert(ctx, &domain.IPReputation{
				IPAddress: ip,
				Blocked:   true,
			})
		}
		return err
	}
	return nil
}

func (l *Ledger) noteFailure(ctx context.Context, ip string, delta int) {
	if ip == "" {
		return
	}
	rep := l.ReputationFor(ctx, ip)
	rep.Score = clamp(rep.Score + delta)
	rep.FailedAttempts++
	if rep.Score <= domain.BlockThreshold {
		rep.Blocked = true
	}
	if err := l.reputations.Upsert(ctx, rep); err != nil {
		l.logger.Error("failed to update ip reputation", "ip", ip, "error", err)
	}
}

func (l *Ledger) noteSuccess(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	rep := l.ReputationFor(ctx, ip)
	rep.Score = clamp(rep.Score + deltaSuccess)
	rep.SuccessfulLogins++
	// Sustained legitimate use lifts an automatic block; manual blocks are
	// re-applied through Block.
	if rep.Blocked && rep.Score > domain.BlockThreshold {
		rep.Blocked = false
	}
	if err := l.reputations.Upsert(ctx, rep); err != nil {
		l.logger.Error("failed to update ip reputation", "ip", ip, "error", err)
	}
}

func clamp(score int) int {
	if score < scoreMin {
		return scoreMin
	}
	if score > scoreMax {
		return scoreMax
	}
	return score
}

// RiskScore aggregates a user's unresolved security events and concurrent
// session count into a numeric risk signal. Device-fingerprint churn feeds
// this score elsewhere; it is never an authentication factor.
func (l *Ledger) RiskScore(ctx context.Context, userID string) int {
	score := 0

	if unresolved, err := l.events.CountUnresolvedByUser(ctx, userID); err == nil {
		score += unresolved * 5
	}

	if sessions, err := l.sessions.CountActiveByUserID(ctx, userID); err == nil && sessions > 3 {
		// Many concurrent sessions on one account is a weak hijack signal.
		score += (sessions - 3) * 10
	}

	return score
}

// ResolveStale resolves low-severity events older than the retention window
// and returns the number resolved.
func (l *Ledger) ResolveStale(ctx context.Context, retention time.Duration) (int, error) {
	return l.events.ResolveOlderThan(ctx, time.Now().Add(-retention))
}

// RecentEvents returns up to limit most recent ledger entries.
func (l *Ledger) RecentEvents(ctx context.Context, limit int) ([]*domain.SecurityEvent, error) {
	return l.events.List(ctx, limit)
}
