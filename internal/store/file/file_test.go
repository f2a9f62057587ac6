package file

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aldari-app/sso-gateway/internal/domain"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func newTestToken(id, userID string, ttl time.Duration) *domain.CrossDomainToken {
	now := time.Now()
	return &domain.CrossDomainToken{
		ID: id,
		Payload: domain.TokenPayload{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    now.Add(ttl),
			UserID:       userID,
			Domain:       "home.aldari.app",
		},
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestTokenConsumeOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Tokens().Create(ctx, newTestToken("tok-1", "user-1", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	consumed, err := s.Tokens().Consume(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !consumed.Consumed {
		t.Error("returned token should be marked consumed")
	}
	if consumed.ConsumedAt.IsZero() {
		t.Error("ConsumedAt should be set")
	}

	_, err = s.Tokens().Consume(ctx, "tok-1")
	if !ssoerrors.IsCode(err, ssoerrors.CodeTokenReplay) {
		t.Errorf("second consume: err = %v, want code %s", err, ssoerrors.CodeTokenReplay)
	}
}

func TestTokenConsumeConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Tokens().Create(ctx, newTestToken("tok-1", "user-1", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Tokens().Consume(ctx, "tok-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, replays := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case ssoerrors.IsCode(err, ssoerrors.CodeTokenReplay):
			replays++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if replays != callers-1 {
		t.Errorf("replays = %d, want %d", replays, callers-1)
	}
}

func TestTokenConsumeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Tokens().Create(ctx, newTestToken("tok-1", "user-1", -time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := s.Tokens().Consume(ctx, "tok-1")
	if !ssoerrors.IsCode(err, ssoerrors.CodeTokenExpired) {
		t.Errorf("err = %v, want code %s", err, ssoerrors.CodeTokenExpired)
	}
}

func TestTokenConsumeUnknown(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Tokens().Consume(context.Background(), "no-such-token")
	if !ssoerrors.IsCode(err, ssoerrors.CodeTokenInvalid) {
		t.Errorf("err = %v, want code %s", err, ssoerrors.CodeTokenInvalid)
	}
}

func TestTokenConsumeByUserID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Tokens().Create(ctx, newTestToken("tok-1", "user-1", time.Minute))
	s.Tokens().Create(ctx, newTestToken("tok-2", "user-1", time.Minute))
	s.Tokens().Create(ctx, newTestToken("tok-3", "user-2", time.Minute))

	if err := s.Tokens().ConsumeByUserID(ctx, "user-1"); err != nil {
		t.Fatalf("ConsumeByUserID failed: %v", err)
	}

	for _, id := range []string{"tok-1", "tok-2"} {
		_, err := s.Tokens().Consume(ctx, id)
		if !ssoerrors.IsCode(err, ssoerrors.CodeTokenReplay) {
			t.Errorf("Consume(%s): err = %v, want code %s", id, err, ssoerrors.CodeTokenReplay)
		}
	}
	if _, err := s.Tokens().Consume(ctx, "tok-3"); err != nil {
		t.Errorf("other user's token should still consume: %v", err)
	}
}

func TestTokenDeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Tokens().Create(ctx, newTestToken("live", "user-1", time.Minute))
	s.Tokens().Create(ctx, newTestToken("dead", "user-1", -time.Minute))

	if err := s.Tokens().DeleteExpired(ctx); err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}

	if _, err := s.Tokens().GetByID(ctx, "live"); err != nil {
		t.Errorf("live token should survive: %v", err)
	}
	if _, err := s.Tokens().GetByID(ctx, "dead"); err == nil {
		t.Error("expired token should be removed")
	}
}

func TestUserCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &domain.User{ID: "u1", Email: "a@example.com", Active: true}
	if err := s.Users().Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := s.Users().Create(ctx, &domain.User{ID: "u2", Email: "a@example.com"})
	if !ssoerrors.IsCode(err, ssoerrors.CodeAlreadyExists) {
		t.Errorf("duplicate email: err = %v, want code %s", err, ssoerrors.CodeAlreadyExists)
	}
}

func TestUserGetByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Users().Create(ctx, &domain.User{ID: "u1", Email: "a@example.com"})

	got, err := s.Users().GetByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("ID = %q, want u1", got.ID)
	}

	if _, err := s.Users().GetByEmail(ctx, "b@example.com"); !ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
		t.Errorf("err = %v, want code %s", err, ssoerrors.CodeNotFound)
	}
}

func TestSessionRevokeByUserID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"s1", "s2"} {
		s.Sessions().Create(ctx, &domain.Session{
			ID: id, UserID: "user-1",
			CreatedAt: now, LastActivity: now, ExpiresAt: now.Add(time.Hour),
		})
	}

	count, err := s.Sessions().RevokeByUserID(ctx, "user-1", "sign_out_everywhere")
	if err != nil {
		t.Fatalf("RevokeByUserID failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	got, _ := s.Sessions().GetByID(ctx, "s1")
	if !got.Revoked || got.RevokedReason != "sign_out_everywhere" {
		t.Errorf("session not revoked as expected: %+v", got)
	}

	// Revoking again is a no-op, not an error.
	count, err = s.Sessions().RevokeByUserID(ctx, "user-1", "again")
	if err != nil || count != 0 {
		t.Errorf("second revoke: count = %d, err = %v, want 0, nil", count, err)
	}
}

func TestSecurityEventListTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.SecurityEvents().Append(ctx, &domain.SecurityEvent{
			ID:        string(rune('a' + i)),
			Type:      domain.EventFailedLogin,
			Severity:  domain.SeverityMedium,
			CreatedAt: time.Now(),
		})
	}

	events, err := s.SecurityEvents().List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	// Most recent entries are at the tail of the collection.
	if events[0].ID != "d" || events[1].ID != "e" {
		t.Errorf("got IDs %s,%s, want d,e", events[0].ID, events[1].ID)
	}
}

func TestSecurityEventResolveOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SecurityEvents().Append(ctx, &domain.SecurityEvent{
		ID: "old-low", Type: domain.EventRateLimited,
		Severity: domain.SeverityLow, CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	s.SecurityEvents().Append(ctx, &domain.SecurityEvent{
		ID: "old-high", Type: domain.EventTokenReplay,
		Severity: domain.SeverityHigh, CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	s.SecurityEvents().Append(ctx, &domain.SecurityEvent{
		ID: "fresh-low", Type: domain.EventRateLimited,
		Severity: domain.SeverityLow, CreatedAt: time.Now(),
	})

	count, err := s.SecurityEvents().ResolveOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ResolveOlderThan failed: %v", err)
	}
	if count != 1 {
		t.Errorf("resolved = %d, want 1 (only stale low-severity)", count)
	}
}

func TestIPReputationUpsertAndBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.IPReputations().Get(ctx, "1.2.3.4"); !ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
		t.Errorf("err = %v, want code %s", err, ssoerrors.CodeNotFound)
	}

	if err := s.IPReputations().Upsert(ctx, &domain.IPReputation{IPAddress: "1.2.3.4", Score: -30}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := s.IPReputations().SetBlocked(ctx, "1.2.3.4", true); err != nil {
		t.Fatalf("SetBlocked failed: %v", err)
	}

	rep, err := s.IPReputations().Get(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rep.Blocked || rep.Score != -30 {
		t.Errorf("reputation = %+v, want blocked with score -30", rep)
	}

	if err := s.IPReputations().SetBlocked(ctx, "9.9.9.9", true); !ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
		t.Errorf("SetBlocked unknown: err = %v, want code %s", err, ssoerrors.CodeNotFound)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s1.Tokens().Create(ctx, newTestToken("tok-1", "user-1", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s1.Close()

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := s2.Tokens().GetByID(ctx, "tok-1"); err != nil {
		t.Errorf("token should survive reopen: %v", err)
	}
}
