package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/aldari-app/sso-gateway/internal/domain"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/security"
	"github.com/aldari-app/sso-gateway/internal/store"
)

// Service provides credential checks and sign-in/sign-out orchestration on
// the auth domain.
type Service struct {
	users    store.UserRepository
	sessions *SessionService
	csrf     *CSRFService
	ledger   *security.Ledger
	sink     metrics.Sink
	logger   *slog.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new auth Service.
func NewService(users store.UserRepository, sessions *SessionService, csrf *CSRFService, ledger *security.Ledger, sink metrics.Sink, opts ...ServiceOption) *Service {
	s := &Service{
		users:    users,
		sessions: sessions,
		csrf:     csrf,
		ledger:   ledger,
		sink:     sink,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sessions returns the session service.
func (s *Service) Sessions() *SessionService {
	return s.sessions
}

// CSRF returns the CSRF service.
func (s *Service) CSRF() *CSRFService {
	return s.csrf
}

// Authenticate verifies user credentials and returns the user if valid.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if ssoerrors.IsCode(err, ssoerrors.CodeNotFound) {
			// Don't reveal whether the account exists.
			return nil, ssoerrors.Unauthorized("invalid credentials")
		}
		return nil, ssoerrors.Wrap(err, ssoerrors.CodeInternal, "failed to get user")
	}

	if !user.Active {
		return nil, ssoerrors.Unauthorized("account is disabled")
	}

	valid, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification error", "error", err)
		return nil, ssoerrors.Unauthorized("invalid credentials")
	}

	if !valid {
		return nil, ssoerrors.Unauthorized("invalid credentials")
	}

	return user, nil
}

// SignIn authenticates a user, creates a session, and sets the
// parent-domain session cookie. Failed attempts and successes both feed the
// security ledger and IP reputation.
func (s *Service) SignIn(ctx context.Context, w http.ResponseWriter, r *http.Request, email, password, fingerprint string) (*domain.Session, error) {
	ip := ClientIP(r)

	if err := s.csrf.ValidateToken(r); err != nil {
		s.sink.IncCounter(metrics.CounterCSRFRejected)
		s.ledger.Record(ctx, domain.EventInvalidCSRF, domain.SeverityMedium, "", ip, nil)
		return nil, ssoerrors.New(ssoerrors.CodeInvalidCSRF, "invalid CSRF token")
	}

	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		s.sink.IncCounter(metrics.CounterLoginAttempts, "failure")
		s.ledger.Record(ctx, domain.EventFailedLogin, domain.SeverityMedium, "", ip, map[string]string{
			"email": email,
		})
		return nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID, fingerprint, ip, r.UserAgent())
	if err != nil {
		return nil, err
	}

	s.sessions.SetCookie(w, session.ID)
	s.csrf.ClearToken(w)

	s.sink.IncCounter(metrics.CounterLoginAttempts, "success")
	s.sink.IncCounter(metrics.CounterSessionsCreated)
	s.ledger.Record(ctx, domain.EventLoginSuccess, domain.SeverityLow, user.ID, ip, nil)

	s.logger.Info("user signed in", "user_id", user.ID, "email", user.Email)

	return session, nil
}

// SignOut terminates the request's session and clears cookies.
func (s *Service) SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := s.sessions.Delete(ctx, cookie.Value); err != nil {
			s.logger.Warn("failed to delete session", "error", err)
		}
	}

	s.sessions.ClearCookie(w)
	s.csrf.ClearToken(w)

	return nil
}

// CurrentSession returns the valid session referenced by the request, or an
// error.
func (s *Service) CurrentSession(ctx context.Context, r *http.Request) (*domain.Session, error) {
	return s.sessions.FromRequest(ctx, r)
}

// CreateUser creates a new user with a hashed password.
func (s *Service) CreateUser(ctx context.Context, email, password, displayName string) (*domain.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, ssoerrors.Wrap(err, ssoerrors.CodeInternal, "failed to hash password")
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Active:       true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// ClientIP extracts the client IP from the request. RealIP middleware has
// already resolved proxy headers upstream; strip the port if present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
