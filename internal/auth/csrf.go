package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

const (
	// CSRFCookieName is the name of the CSRF cookie.
	CSRFCookieName = "aldari_csrf"
	// CSRFTokenLength is the length of the CSRF token in bytes.
	CSRFTokenLength = 32
	// CSRFFormField is the form field name for CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFTTL is how long CSRF tokens are valid.
	CSRFTTL = 15 * time.Minute
)

// CSRFService provides CSRF protection. Tokens are stateless bearer values:
// an HMAC-signed nonce bound to an httpOnly cookie, never looked up
// server-side.
type CSRFService struct {
	secret       []byte
	cookieSecure bool
	cookieDomain string
	ttl          time.Duration
}

// CSRFOption configures the CSRFService.
type CSRFOption func(*CSRFService)

// WithCSRFTTL overrides the token lifetime.
func WithCSRFTTL(ttl time.Duration) CSRFOption {
	return func(s *CSRFService) {
		s.ttl = ttl
	}
}

// NewCSRFService creates a new CSRFService.
func NewCSRFService(secret string, cookieSecure bool, cookieDomain string, opts ...CSRFOption) *CSRFService {
	s := &CSRFService{
		secret:       []byte(secret),
		cookieSecure: cookieSecure,
		cookieDomain: cookieDomain,
		ttl:          CSRFTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// TTL returns the configured token lifetime.
func (s *CSRFService) TTL() time.Duration {
	return s.ttl
}

// GenerateToken generates a new CSRF token and sets it as an httpOnly cookie.
// The token is returned to the caller so it can be echoed back in a form
// field or the X-CSRF-Token header.
func (s *CSRFService) GenerateToken(w http.ResponseWriter) (string, error) {
	tokenBytes := make([]byte, CSRFTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	timestamp := time.Now().Unix()
	data := fmt.Sprintf("%d:%s", timestamp, base64.RawURLEncoding.EncodeToString(tokenBytes))

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	token := fmt.Sprintf("%s.%s", data, signature)

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return token, nil
}

// ValidateToken validates a presented CSRF token against the cookie. The
// presented value comes from the csrf_token form field or the X-CSRF-Token
// header. Reuse within the TTL is allowed.
func (s *CSRFService) ValidateToken(r *http.Request) error {
	presented := r.FormValue(CSRFFormField)
	if presented == "" {
		presented = r.Header.Get("X-CSRF-Token")
	}
	if presented == "" {
		return fmt.Errorf("missing CSRF token")
	}

	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil {
		return fmt.Errorf("missing CSRF cookie")
	}

	// Constant-time match between the presented token and the cookie.
	if !hmac.Equal([]byte(presented), []byte(cookie.Value)) {
		return fmt.Errorf("CSRF token mismatch")
	}

	return s.validateTokenFormat(presented)
}

// ValidatePair checks a presented token directly against a cookie value,
// for callers that have already extracted both.
func (s *CSRFService) ValidatePair(presented, cookieValue string) error {
	if presented == "" || cookieValue == "" {
		return fmt.Errorf("missing CSRF token")
	}
	if !hmac.Equal([]byte(presented), []byte(cookieValue)) {
		return fmt.Errorf("CSRF token mismatch")
	}
	return s.validateTokenFormat(presented)
}

func (s *CSRFService) validateTokenFormat(token string) error {
	// Split into data and signature at the last dot.
	var data, signature string
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			data = token[:i]
			signature = token[i+1:]
			break
		}
	}
	if data == "" || signature == "" {
		return fmt.Errorf("invalid CSRF token format")
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	expectedSig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expectedSig)) {
		return fmt.Errorf("invalid CSRF token signature")
	}

	var timestamp int64
	if _, err := fmt.Sscanf(data, "%d:", &timestamp); err != nil {
		return fmt.Errorf("invalid CSRF token timestamp")
	}

	if time.Since(time.Unix(timestamp, 0)) > s.ttl {
		return fmt.Errorf("CSRF token expired")
	}

	return nil
}

// ClearToken clears the CSRF cookie.
func (s *CSRFService) ClearToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
