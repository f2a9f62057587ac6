// Package gate implements the edge request gate: the per-request state
// machine that merges cookie and token session evidence, decides
// redirect-vs-continue, and propagates session cookies across registered
// domains.
//
// The decision core is a pure function from a request descriptor plus store
// state to a decision descriptor; the net/http adapter lives in
// internal/http. No web-framework types cross into this package's logic.
package gate

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aldari-app/sso-gateway/internal/auth"
	"github.com/aldari-app/sso-gateway/internal/domain"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/security"
	"github.com/aldari-app/sso-gateway/internal/token"
)

// State is the authentication state a request lands in.
type State string

const (
	StateUnauthenticated        State = "UNAUTHENTICATED"
	StateAuthenticatedViaCookie State = "AUTHENTICATED_VIA_COOKIE"
	StateAuthenticatedViaToken  State = "AUTHENTICATED_VIA_TOKEN"
	StateRejected               State = "REJECTED"
)

// TokenQueryParam is the query parameter carrying a cross-domain token.
const TokenQueryParam = "token"

// Request is a plain descriptor of the incoming request; the gate never
// sees framework request objects.
type Request struct {
	Method        string
	Host          string
	Path          string
	Query         url.Values
	Origin        string
	ClientIP      string
	UserAgent     string
	SessionCookie string
	Fingerprint   string
}

// Decision is a plain descriptor of the response the adapter should write.
type Decision struct {
	State      State
	Headers    http.Header
	SetCookies []*http.Cookie

	// Status is non-zero when the gate terminates the request itself
	// (redirect or rejection); zero means continue to the application.
	Status     int
	RedirectTo string
	ErrorCode  string
	RetryAfter time.Duration

	// RateLimit is the configured limit when the request was rate limited.
	RateLimit int

	// Session is the session in effect, if any.
	Session *domain.Session
}

// Continue reports whether the request should proceed to the application.
func (d *Decision) Continue() bool {
	return d.Status == 0
}

// Config holds the gate's routing and domain knowledge.
type Config struct {
	// AuthDomain and AppDomain are registered hostnames.
	AuthDomain string
	AppDomain  string

	// SignInPath and LandingPath are path-only targets used in redirects.
	SignInPath  string
	LandingPath string

	// ProtectedPrefixes require an authenticated state; AuthPaths require
	// an unauthenticated one.
	ProtectedPrefixes []string
	AuthPaths         []string

	// SessionLookupTimeout bounds cookie-based session lookups.
	SessionLookupTimeout time.Duration
}

// Gate evaluates requests at the edge.
type Gate struct {
	cfg      Config
	tokens   *token.Service
	sessions *auth.SessionService
	limiter  *auth.RateLimiter
	origins  *auth.OriginValidator
	ledger   *security.Ledger
	sink     metrics.Sink
	logger   *slog.Logger
}

// Option configures the Gate.
type Option func(*Gate)

// WithLogger sets the logger for the gate.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a Gate.
func New(
	cfg Config,
	tokens *token.Service,
	sessions *auth.SessionService,
	limiter *auth.RateLimiter,
	origins *auth.OriginValidator,
	ledger *security.Ledger,
	sink metrics.Sink,
	opts ...Option,
) *Gate {
	if cfg.SessionLookupTimeout <= 0 {
		cfg.SessionLookupTimeout = 2500 * time.Millisecond
	}
	if len(cfg.ProtectedPrefixes) == 0 {
		cfg.ProtectedPrefixes = []string{"/dashboard", "/account", "/inquiries", "/viewings"}
	}
	if len(cfg.AuthPaths) == 0 {
		cfg.AuthPaths = []string{"/sign-in", "/sign-up"}
	}

	g := &Gate{
		cfg:      cfg,
		tokens:   tokens,
		sessions: sessions,
		limiter:  limiter,
		origins:  origins,
		ledger:   ledger,
		sink:     sink,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Evaluate runs the per-request state machine. It never returns an error:
// unexpected internal failures degrade to an unauthenticated continuation
// with security headers applied, so navigation is never blocked. Protected
// routes are re-checked on the next request either way.
func (g *Gate) Evaluate(ctx context.Context, req *Request) (decision *Decision) {
	decision = &Decision{
		State:   StateUnauthenticated,
		Headers: SecurityHeaders(),
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("gate panic recovered", "panic", r, "path", req.Path)
			decision = &Decision{
				State:   StateUnauthenticated,
				Headers: SecurityHeaders(),
			}
		}
	}()

	// Rate limiting and origin validation guard auth routes and the
	// auth-prefixed API before anything else runs.
	if g.isAuthSurface(req.Path) {
		if blocked := g.guardAuthSurface(ctx, req, decision); blocked {
			return decision
		}
	}

	// The token parameter is stripped from the visible URL as soon as it
	// is read; every redirect below targets the cleaned URL.
	tokenID := req.Query.Get(TokenQueryParam)
	cleanedURL := cleanURL(req)

	if tokenID != "" {
		if done := g.consumeToken(ctx, req, decision, tokenID, cleanedURL); done {
			return decision
		}
		// Token failure degrades to a sign-in prompt, never an error page.
	} else if req.SessionCookie != "" {
		g.lookupSession(ctx, req, decision)
	}

	g.classify(ctx, req, decision, cleanedURL, tokenID != "")
	return decision
}

// Guard runs only the auth-surface protections (IP block, origin, rate
// limit) with headers applied. API handlers behind it own their token and
// session semantics; in particular GET /auth/token consumes its token in
// the handler, not here.
func (g *Gate) Guard(ctx context.Context, req *Request) *Decision {
	decision := &Decision{
		State:   StateUnauthenticated,
		Headers: SecurityHeaders(),
	}
	if g.isAuthSurface(req.Path) {
		g.guardAuthSurface(ctx, req, decision)
	}
	return decision
}

// guardAuthSurface applies IP blocking, origin validation, and rate limits.
// Returns true when the request is terminated.
func (g *Gate) guardAuthSurface(ctx context.Context, req *Request, decision *Decision) bool {
	if g.ledger.IsBlocked(ctx, req.ClientIP) {
		decision.State = StateRejected
		decision.Status = http.StatusForbidden
		decision.ErrorCode = ssoerrors.CodeInvalidOrigin
		return true
	}

	if isStateChanging(req.Method) && !g.origins.Validate(req.Origin) {
		g.sink.IncCounter(metrics.CounterOriginRejected)
		g.ledger.Record(ctx, domain.EventInvalidOrigin, domain.SeverityMedium, "", req.ClientIP, map[string]string{
			"origin": req.Origin,
		})
		decision.State = StateRejected
		decision.Status = http.StatusForbidden
		decision.ErrorCode = ssoerrors.CodeInvalidOrigin
		return true
	}

	action := actionFor(req.Method, req.Path)
	if limited, retryAfter := g.limiter.Limited(req.ClientIP, action); limited {
		g.sink.IncCounter(metrics.CounterRateLimitExceeded, action)
		g.ledger.Record(ctx, domain.EventRateLimited, domain.SeverityLow, "", req.ClientIP, map[string]string{
			"action": action,
		})
		decision.State = StateRejected
		decision.Status = http.StatusTooManyRequests
		decision.ErrorCode = ssoerrors.CodeRateLimited
		decision.RetryAfter = retryAfter
		decision.RateLimit = g.limiter.Limit(action)
		return true
	}

	return false
}

// consumeToken validates and consumes a cross-domain token from the query
// string. On success the session cookie is written for the shared parent
// domain and the browser is redirected to the cleaned URL. Returns true
// when the gate terminated the request.
func (g *Gate) consumeToken(ctx context.Context, req *Request, decision *Decision, tokenID, cleanedURL string) bool {
	payload, err := g.tokens.Validate(ctx, tokenID, req.Host, req.ClientIP)
	if err != nil {
		g.logger.Info("cross-domain token rejected",
			"code", ssoerrors.CodeOf(err),
			"host", req.Host,
			"ip", req.ClientIP,
		)
		return false
	}

	session, err := g.sessions.Create(ctx, payload.UserID, req.Fingerprint, req.ClientIP, req.UserAgent)
	if err != nil {
		g.logger.Error("failed to create session from token", "error", err)
		return false
	}

	decision.State = StateAuthenticatedViaToken
	decision.Session = session
	decision.SetCookies = append(decision.SetCookies, g.sessions.Cookie(session.ID))
	decision.Status = http.StatusFound
	decision.RedirectTo = cleanedURL
	g.sink.IncCounter(metrics.CounterGateRedirects, "token_consumed")
	return true
}

// lookupSession resolves the cookie session with a bounded timeout; a
// timeout or error degrades to unauthenticated rather than failing the
// request.
func (g *Gate) lookupSession(ctx context.Context, req *Request, decision *Decision) {
	lookupCtx, cancel := context.WithTimeout(ctx, g.cfg.SessionLookupTimeout)
	defer cancel()

	type result struct {
		session *domain.Session
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		session, err := g.sessions.Get(lookupCtx, req.SessionCookie)
		ch <- result{session: session, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return
		}
		// A fingerprint mismatch is a weak hijack signal: it is recorded
		// for risk scoring but never blocks the session on its own.
		if req.Fingerprint != "" && res.session.DeviceFingerprint != "" && req.Fingerprint != res.session.DeviceFingerprint {
			g.ledger.Record(ctx, domain.EventHijackSuspected, domain.SeverityMedium, res.session.UserID, req.ClientIP, map[string]string{
				"session_id": res.session.ID,
			})
		}
		decision.State = StateAuthenticatedViaCookie
		decision.Session = res.session
	case <-lookupCtx.Done():
		g.logger.Warn("session lookup timed out", "ip", req.ClientIP)
	}
}

// classify applies the route rules and fills in the redirect decision.
// tokenWasPresent forces a redirect to the cleaned URL on continue, so a
// failed token never survives in the browser history.
func (g *Gate) classify(ctx context.Context, req *Request, decision *Decision, cleanedURL string, tokenWasPresent bool) {
	authenticated := decision.State == StateAuthenticatedViaCookie || decision.State == StateAuthenticatedViaToken

	switch {
	case g.isAuthPath(req.Path) && authenticated:
		if req.Host == g.cfg.AuthDomain {
			// Carry the session over to the app domain with a fresh token.
			issued, err := g.tokens.Issue(ctx, decision.Session, g.cfg.AppDomain)
			if err == nil {
				decision.Status = http.StatusFound
				decision.RedirectTo = crossDomainURL(g.cfg.AppDomain, g.cfg.LandingPath, issued.ID)
				g.sink.IncCounter(metrics.CounterGateRedirects, "cross_domain")
				return
			}
			g.logger.Error("failed to issue cross-domain token", "error", err)
		}
		decision.Status = http.StatusFound
		decision.RedirectTo = g.cfg.LandingPath
		g.sink.IncCounter(metrics.CounterGateRedirects, "local_landing")

	case g.isProtected(req.Path) && !authenticated:
		signIn := g.cfg.SignInPath
		if req.Host == g.cfg.AppDomain {
			signIn = "https://" + g.cfg.AuthDomain + g.cfg.SignInPath
		}
		decision.Status = http.StatusFound
		decision.RedirectTo = withRedirectTo(signIn, cleanedURL)
		g.sink.IncCounter(metrics.CounterGateRedirects, "sign_in")

	default:
		if tokenWasPresent {
			// Strip the token from the visible URL even when the route
			// itself would continue.
			decision.Status = http.StatusFound
			decision.RedirectTo = cleanedURL
		}
	}
}

func (g *Gate) isProtected(path string) bool {
	for _, prefix := range g.cfg.ProtectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) isAuthPath(path string) bool {
	for _, p := range g.cfg.AuthPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (g *Gate) isAuthSurface(path string) bool {
	return g.isAuthPath(path) || strings.HasPrefix(path, "/auth/")
}

// actionFor maps a request to its rate-limit action bucket.
func actionFor(method, path string) string {
	switch {
	case path == "/auth/csrf":
		return auth.ActionCSRF
	case path == "/auth/token" && method == http.MethodPost:
		return auth.ActionTokenIssue
	case path == "/auth/token" && method == http.MethodDelete:
		return auth.ActionTokenRevoke
	case path == "/auth/token":
		return auth.ActionTokenValidate
	case method == http.MethodPost:
		return auth.ActionSignIn
	default:
		return auth.ActionGeneral
	}
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// cleanURL rebuilds the request path and query without the token parameter.
func cleanURL(req *Request) string {
	query := url.Values{}
	for key, values := range req.Query {
		if key == TokenQueryParam {
			continue
		}
		query[key] = values
	}

	cleaned := req.Path
	if encoded := query.Encode(); encoded != "" {
		cleaned += "?" + encoded
	}
	return cleaned
}

func crossDomainURL(host, path, tokenID string) string {
	u := url.URL{
		Scheme: "https",
		Host:   host,
		Path:   path,
	}
	q := u.Query()
	q.Set(TokenQueryParam, tokenID)
	u.RawQuery = q.Encode()
	return u.String()
}

func withRedirectTo(target, redirectTo string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("redirectTo", redirectTo)
	u.RawQuery = q.Encode()
	return u.String()
}

// SecurityHeaders returns the fixed header set attached to every gate
// decision, whatever branch was taken.
func SecurityHeaders() http.Header {
	h := http.Header{}
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
	return h
}
