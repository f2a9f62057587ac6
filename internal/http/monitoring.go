package http

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/security"
)

// MonitoringHandler exposes the read-only observability surface and the
// admin-gated alert management endpoint.
type MonitoringHandler struct {
	recorder    *metrics.Recorder
	ledger      *security.Ledger
	adminToken  string
	development bool
	logger      *slog.Logger
	startedAt   time.Time
}

// NewMonitoringHandler creates a MonitoringHandler. adminToken gates POST
// outside development.
func NewMonitoringHandler(recorder *metrics.Recorder, ledger *security.Ledger, adminToken string, development bool, logger *slog.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		recorder:    recorder,
		ledger:      ledger,
		adminToken:  adminToken,
		development: development,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// Get handles GET /monitoring?type=health|metrics|events|export. No state
// is mutated on this path.
func (h *MonitoringHandler) Get(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("type") {
	case "", "health":
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
		})
	case "metrics":
		writeJSON(w, http.StatusOK, h.recorder.Snapshot())
	case "events":
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		events, err := h.ledger.RecentEvents(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ssoerrors.CodeInternal, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	case "export":
		h.export(w, r)
	default:
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "unknown type")
	}
}

func (h *MonitoringHandler) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	date := time.Now().Format("2006-01-02")
	snapshot := h.recorder.Snapshot()

	switch format {
	case "json":
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=auth-metrics-%s.json", date))
		writeJSON(w, http.StatusOK, snapshot)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=auth-metrics-%s.csv", date))
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"metric", "total"})
		for name, total := range snapshot {
			_ = cw.Write([]string{name, strconv.FormatInt(total, 10)})
		}
		cw.Flush()
	default:
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "unknown format")
	}
}

type monitoringAction struct {
	Action string `json:"action"` // block_ip, unblock_ip, resolve_stale
	IP     string `json:"ip,omitempty"`
}

// Post handles POST /monitoring alert management. Outside development it
// requires the admin bearer token.
func (h *MonitoringHandler) Post(w http.ResponseWriter, r *http.Request) {
	if !h.development {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminToken == "" || bearer != h.adminToken {
			writeError(w, http.StatusUnauthorized, ssoerrors.CodeUnauthorized, "admin token required")
			return
		}
	}

	var req monitoringAction
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "malformed request body")
		return
	}

	switch req.Action {
	case "block_ip", "unblock_ip":
		if req.IP == "" {
			writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "ip is required")
			return
		}
		if err := h.ledger.Block(r.Context(), req.IP, req.Action == "block_ip"); err != nil {
			writeError(w, http.StatusInternalServerError, ssoerrors.CodeInternal, "")
			return
		}
		h.logger.Info("ip block updated", "ip", req.IP, "action", req.Action)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "resolve_stale":
		count, err := h.ledger.ResolveStale(r.Context(), 7*24*time.Hour)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ssoerrors.CodeInternal, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolved": count})
	default:
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "unknown action")
	}
}
