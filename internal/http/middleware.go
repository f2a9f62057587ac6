package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/aldari-app/sso-gateway/internal/auth"
	"github.com/aldari-app/sso-gateway/internal/gate"
)

type contextKey string

// sessionContextKey carries the gate's resolved session, if any.
const sessionContextKey contextKey = "gate_session"

// gateMiddleware adapts the pure gate decision core to net/http. API paths
// get the guard-only pass (their handlers own token and session semantics);
// page routes get the full state machine.
func (s *Server) gateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := gateRequestFrom(r)

		var decision *gate.Decision
		if isAPIPath(r.URL.Path) {
			decision = s.gate.Guard(r.Context(), req)
		} else {
			decision = s.gate.Evaluate(r.Context(), req)
		}

		for key, values := range decision.Headers {
			for _, v := range values {
				w.Header().Set(key, v)
			}
		}
		for _, cookie := range decision.SetCookies {
			http.SetCookie(w, cookie)
		}

		if decision.Continue() {
			ctx := r.Context()
			if decision.Session != nil {
				ctx = context.WithValue(ctx, sessionContextKey, decision.Session)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if decision.RedirectTo != "" {
			http.Redirect(w, r, decision.RedirectTo, decision.Status)
			return
		}

		if decision.Status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.RateLimit))
			w.Header().Set("X-RateLimit-Remaining", "0")
		}

		writeError(w, decision.Status, decision.ErrorCode, "")
	})
}

func gateRequestFrom(r *http.Request) *gate.Request {
	req := &gate.Request{
		Method:      r.Method,
		Host:        r.Host,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		Origin:      r.Header.Get("Origin"),
		ClientIP:    auth.ClientIP(r),
		UserAgent:   r.UserAgent(),
		Fingerprint: r.Header.Get("X-Device-Fingerprint"),
	}
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil {
		req.SessionCookie = cookie.Value
	}
	return req
}

// isAPIPath reports whether the path belongs to the JSON API surface rather
// than navigable pages.
func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/auth/") ||
		path == "/monitoring" ||
		path == "/metrics" ||
		path == "/healthz" ||
		path == "/readyz"
}

// errorResponse is the structured JSON failure body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
