package security

import (
	"context"
	"testing"
	"time"

	"github.com/aldari-app/sso-gateway/internal/domain"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/store/file"
)

func newTestLedger(t *testing.T) (*Ledger, *file.Store) {
	t.Helper()
	st, err := file.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	l := NewLedger(st.SecurityEvents(), st.IPReputations(), st.Sessions(), metrics.Nop{})
	return l, st
}

func TestLedgerRecordAppendsEvent(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	l.Record(ctx, domain.EventFailedLogin, domain.SeverityMedium, "user-1", "1.2.3.4", map[string]string{
		"email": "buyer@example.com",
	})

	events, err := st.SecurityEvents().List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}
	e := events[0]
	if e.Type != domain.EventFailedLogin || e.UserID != "user-1" || e.IPAddress != "1.2.3.4" {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Metadata["email"] != "buyer@example.com" {
		t.Error("metadata should be preserved")
	}
}

func TestLedgerFailureLowersReputation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	l.Record(ctx, domain.EventFailedLogin, domain.SeverityMedium, "", "1.2.3.4", nil)

	rep := l.ReputationFor(ctx, "1.2.3.4")
	if rep.Score != -10 {
		t.Errorf("score after one failure = %d, want -10", rep.Score)
	}
	if rep.FailedAttempts != 1 {
		t.Errorf("failed attempts = %d, want 1", rep.FailedAttempts)
	}
	if rep.Blocked {
		t.Error("one failure should not block")
	}
}

func TestLedgerReplayLowersReputationFaster(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	l.Record(ctx, domain.EventTokenReplay, domain.SeverityHigh, "", "1.2.3.4", nil)

	if rep := l.ReputationFor(ctx, "1.2.3.4"); rep.Score != -25 {
		t.Errorf("score after replay = %d, want -25", rep.Score)
	}
}

func TestLedgerAutoBlockAtThreshold(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Five failures reach the -50 threshold.
	for i := 0; i < 5; i++ {
		l.Record(ctx, domain.EventFailedLogin, domain.SeverityMedium, "", "1.2.3.4", nil)
	}

	if !l.IsBlocked(ctx, "1.2.3.4") {
		t.Error("ip should be auto-blocked at score -50")
	}
}

func TestLedgerSuccessLiftsAutoBlock(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Record(ctx, domain.EventFailedLogin, domain.SeverityMedium, "", "1.2.3.4", nil)
	}
	if !l.IsBlocked(ctx, "1.2.3.4") {
		t.Fatal("ip should be blocked")
	}

	// A success climbs back above the threshold (-50 + 5 = -45).
	l.Record(ctx, domain.EventLoginSuccess, domain.SeverityLow, "user-1", "1.2.3.4", nil)

	if l.IsBlocked(ctx, "1.2.3.4") {
		t.Error("recovered score should lift the automatic block")
	}
}

func TestLedgerScoreClamped(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Record(ctx, domain.EventTokenReplay, domain.SeverityHigh, "", "1.2.3.4", nil)
	}
	if rep := l.ReputationFor(ctx, "1.2.3.4"); rep.Score != -100 {
		t.Errorf("score = %d, want clamped at -100", rep.Score)
	}

	for i := 0; i < 50; i++ {
		l.Record(ctx, domain.EventLoginSuccess, domain.SeverityLow, "", "5.6.7.8", nil)
	}
	if rep := l.ReputationFor(ctx, "5.6.7.8"); rep.Score != 100 {
		t.Errorf("score = %d, want clamped at 100", rep.Score)
	}
}

func TestLedgerManualBlock(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Blocking an address with no prior history creates its reputation.
	if err := l.Block(ctx, "1.2.3.4", true); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if !l.IsBlocked(ctx, "1.2.3.4") {
		t.Error("ip should be blocked")
	}

	if err := l.Block(ctx, "1.2.3.4", false); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}
	if l.IsBlocked(ctx, "1.2.3.4") {
		t.Error("ip should be unblocked")
	}
}

func TestLedgerRiskScore(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	if got := l.RiskScore(ctx, "user-1"); got != 0 {
		t.Errorf("risk for clean user = %d, want 0", got)
	}

	// Two unresolved events: 2 * 5.
	l.Record(ctx, domain.EventFailedLogin, domain.SeverityMedium, "user-1", "1.2.3.4", nil)
	l.Record(ctx, domain.EventInvalidCSRF, domain.SeverityMedium, "user-1", "1.2.3.4", nil)

	if got := l.RiskScore(ctx, "user-1"); got != 10 {
		t.Errorf("risk = %d, want 10", got)
	}

	// Five concurrent sessions: (5-3) * 10 on top.
	now := time.Now()
	for i := 0; i < 5; i++ {
		st.Sessions().Create(ctx, &domain.Session{
			ID: string(rune('a' + i)), UserID: "user-1",
			CreatedAt: now, LastActivity: now, ExpiresAt: now.Add(time.Hour),
		})
	}

	if got := l.RiskScore(ctx, "user-1"); got != 30 {
		t.Errorf("risk = %d, want 30", got)
	}
}

func TestLedgerResolveStale(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	st.SecurityEvents().Append(ctx, &domain.SecurityEvent{
		ID: "stale", Type: domain.EventRateLimited, UserID: "user-1",
		Severity: domain.SeverityLow, CreatedAt: time.Now().Add(-10 * 24 * time.Hour),
	})
	st.SecurityEvents().Append(ctx, &domain.SecurityEvent{
		ID: "fresh", Type: domain.EventRateLimited, UserID: "user-1",
		Severity: domain.SeverityLow, CreatedAt: time.Now(),
	})

	count, err := l.ResolveStale(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("ResolveStale failed: %v", err)
	}
	if count != 1 {
		t.Errorf("resolved = %d, want 1", count)
	}

	// Resolved events drop out of the risk score.
	if got := l.RiskScore(ctx, "user-1"); got != 5 {
		t.Errorf("risk = %d, want 5", got)
	}
}

func TestLedgerRecordWithoutIP(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Events without an address must not create reputation entries.
	l.Record(ctx, domain.EventSessionRevoked, domain.SeverityLow, "user-1", "", nil)

	if rep := l.ReputationFor(ctx, ""); rep.Score != 0 || rep.Blocked {
		t.Errorf("unexpected reputation for empty ip: %+v", rep)
	}
}
