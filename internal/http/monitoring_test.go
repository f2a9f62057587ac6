package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aldari-app/sso-gateway/internal/domain"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/security"
	"github.com/aldari-app/sso-gateway/internal/store/file"
)

func newMonitoringFixture(t *testing.T, adminToken string, development bool) (*MonitoringHandler, *metrics.Recorder, *security.Ledger) {
	t.Helper()
	st, err := file.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	recorder := metrics.NewRecorder(metrics.Nop{})
	ledger := security.NewLedger(st.SecurityEvents(), st.IPReputations(), st.Sessions(), recorder)
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewMonitoringHandler(recorder, ledger, adminToken, development, logger), recorder, ledger
}

func TestMonitoringHealth(t *testing.T) {
	h, _, _ := newMonitoringFixture(t, "", true)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/monitoring", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestMonitoringMetricsSnapshot(t *testing.T) {
	h, recorder, _ := newMonitoringFixture(t, "", true)

	recorder.IncCounter(metrics.CounterTokensIssued)
	recorder.IncCounter(metrics.CounterTokensIssued)
	recorder.IncCounter(metrics.CounterTokenReplays)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/monitoring?type=metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body[metrics.CounterTokensIssued] != float64(2) {
		t.Errorf("tokens_issued = %v, want 2", body[metrics.CounterTokensIssued])
	}
	if body[metrics.CounterTokenReplays] != float64(1) {
		t.Errorf("token_replays = %v, want 1", body[metrics.CounterTokenReplays])
	}
}

func TestMonitoringEvents(t *testing.T) {
	h, _, ledger := newMonitoringFixture(t, "", true)
	ctx := context.Background()

	ledger.Record(ctx, domain.EventTokenReplay, domain.SeverityHigh, "user-1", "1.2.3.4", nil)
	ledger.Record(ctx, domain.EventFailedLogin, domain.SeverityMedium, "user-1", "1.2.3.4", nil)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/monitoring?type=events&limit=1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	events, ok := body["events"].([]any)
	if !ok || len(events) != 1 {
		t.Errorf("events = %v, want exactly one entry", body["events"])
	}
}

func TestMonitoringExportJSON(t *testing.T) {
	h, recorder, _ := newMonitoringFixture(t, "", true)
	recorder.IncCounter(metrics.CounterTokensIssued)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/monitoring?type=export&format=json", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	cd := w.Header().Get("Content-Disposition")
	want := "attachment; filename=auth-metrics-" + time.Now().Format("2006-01-02") + ".json"
	if cd != want {
		t.Errorf("Content-Disposition = %q, want %q", cd, want)
	}
}

func TestMonitoringExportCSV(t *testing.T) {
	h, recorder, _ := newMonitoringFixture(t, "", true)
	recorder.IncCounter(metrics.CounterTokensIssued)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/monitoring?type=export&format=csv", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", got)
	}
	if !strings.HasSuffix(w.Header().Get("Content-Disposition"), ".csv") {
		t.Errorf("Content-Disposition = %q, want .csv filename", w.Header().Get("Content-Disposition"))
	}
	if !strings.HasPrefix(w.Body.String(), "metric,total") {
		t.Errorf("csv should start with a header row, got %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), metrics.CounterTokensIssued+",1") {
		t.Errorf("csv should carry the counter row, got %q", w.Body.String())
	}
}

func TestMonitoringUnknownType(t *testing.T) {
	h, _, _ := newMonitoringFixture(t, "", true)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/monitoring?type=bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMonitoringPostRequiresAdminToken(t *testing.T) {
	h, _, _ := newMonitoringFixture(t, "admin-secret", false)

	// No token.
	w := httptest.NewRecorder()
	h.Post(w, httptest.NewRequest(http.MethodPost, "/monitoring", strings.NewReader(`{"action":"resolve_stale"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodPost, "/monitoring", strings.NewReader(`{"action":"resolve_stale"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	h.Post(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", w.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodPost, "/monitoring", strings.NewReader(`{"action":"resolve_stale"}`))
	req.Header.Set("Authorization", "Bearer admin-secret")
	w = httptest.NewRecorder()
	h.Post(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status with admin token = %d, want 200", w.Code)
	}
}

func TestMonitoringPostBlockIP(t *testing.T) {
	h, _, ledger := newMonitoringFixture(t, "", true)
	ctx := context.Background()

	w := httptest.NewRecorder()
	h.Post(w, httptest.NewRequest(http.MethodPost, "/monitoring", strings.NewReader(`{"action":"block_ip","ip":"6.6.6.6"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("block status = %d\n%s", w.Code, w.Body.String())
	}
	if !ledger.IsBlocked(ctx, "6.6.6.6") {
		t.Error("ip should be blocked")
	}

	w = httptest.NewRecorder()
	h.Post(w, httptest.NewRequest(http.MethodPost, "/monitoring", strings.NewReader(`{"action":"unblock_ip","ip":"6.6.6.6"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("unblock status = %d", w.Code)
	}
	if ledger.IsBlocked(ctx, "6.6.6.6") {
		t.Error("ip should be unblocked")
	}
}

func TestMonitoringPostBlockIPRequiresIP(t *testing.T) {
	h, _, _ := newMonitoringFixture(t, "", true)

	w := httptest.NewRecorder()
	h.Post(w, httptest.NewRequest(http.MethodPost, "/monitoring", strings.NewReader(`{"action":"block_ip"}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
