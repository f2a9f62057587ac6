package auth

import (
	"sync"
	"time"
)

// Action names rate limits are keyed by.
const (
	ActionTokenIssue    = "token_issue"
	ActionTokenValidate = "token_validate"
	ActionTokenRevoke   = "token_revoke"
	ActionSignIn        = "sign_in"
	ActionCSRF          = "csrf"
	ActionGeneral       = "general"
)

// RateLimiter tracks request counts per (client, action) in fixed windows.
// Counters are best-effort in-process state: losing them on restart is
// accepted, and a window is keyed by its start time so a restart can never
// multiply the effective limit within one window.
type RateLimiter struct {
	window time.Duration
	limits map[string]int

	mu       sync.Mutex
	counters map[limiterKey]*window
}

type limiterKey struct {
	clientID string
	action   string
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter creates a RateLimiter with the given window duration and
// per-action limits. Actions without an entry are unlimited.
func NewRateLimiter(windowDuration time.Duration, limits map[string]int) *RateLimiter {
	copied := make(map[string]int, len(limits))
	for action, limit := range limits {
		copied[action] = limit
	}
	return &RateLimiter{
		window:   windowDuration,
		limits:   copied,
		counters: make(map[limiterKey]*window),
	}
}

// Limited records one request for (clientID, action) and reports whether it
// exceeds the limit, along with how long the client should wait before
// retrying. It never errors; callers shape the 429 response.
func (l *RateLimiter) Limited(clientID, action string) (bool, time.Duration) {
	limit, ok := l.limits[action]
	if !ok || limit <= 0 {
		return false, 0
	}

	now := time.Now()
	key := limiterKey{clientID: clientID, action: action}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.counters[key]
	if !exists || now.Sub(w.start) > l.window {
		l.counters[key] = &window{start: now, count: 1}
		return false, 0
	}

	w.count++
	if w.count > limit {
		retryAfter := l.window - now.Sub(w.start)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return true, retryAfter
	}
	return false, 0
}

// Remaining returns the requests left in the current window for
// (clientID, action), without recording one. Unlimited actions return -1.
func (l *RateLimiter) Remaining(clientID, action string) int {
	limit, ok := l.limits[action]
	if !ok || limit <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.counters[limiterKey{clientID: clientID, action: action}]
	if !exists || time.Since(w.start) > l.window {
		return limit
	}

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Limit returns the configured limit for an action, or 0 if unlimited.
func (l *RateLimiter) Limit(action string) int {
	return l.limits[action]
}

// Prune discards windows that ended before now. Called periodically to keep
// the counter map from growing with one-off clients.
func (l *RateLimiter) Prune() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.counters {
		if now.Sub(w.start) > l.window {
			delete(l.counters, key)
		}
	}
}
