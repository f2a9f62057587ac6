package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aldari-app/sso-gateway/internal/auth"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/gate"
	"github.com/aldari-app/sso-gateway/internal/token"
)

// AuthHandler handles the /auth API surface.
type AuthHandler struct {
	authService  *auth.Service
	tokenService *token.Service
	origins      *auth.OriginValidator
	appDomain    string
	landingPath  string
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *auth.Service, tokenService *token.Service, origins *auth.OriginValidator, appDomain, landingPath string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		tokenService: tokenService,
		origins:      origins,
		appDomain:    appDomain,
		landingPath:  landingPath,
		logger:       logger,
	}
}

// Routes mounts the auth endpoints on a router.
func (h *AuthHandler) Routes(r interface {
	Get(pattern string, handler http.HandlerFunc)
	Post(pattern string, handler http.HandlerFunc)
	Delete(pattern string, handler http.HandlerFunc)
}) {
	r.Get("/auth/csrf", h.CSRF)
	r.Post("/auth/sign-in", h.SignIn)
	r.Post("/auth/sign-out", h.SignOut)
	r.Post("/auth/token", h.IssueToken)
	r.Get("/auth/token", h.ValidateToken)
	r.Delete("/auth/token", h.RevokeTokens)
}

// CSRF handles GET /auth/csrf: mints a CSRF token bound to an httpOnly
// cookie. The origin must be registered even though the method is GET,
// because a cookie is set.
func (h *AuthHandler) CSRF(w http.ResponseWriter, r *http.Request) {
	if !h.origins.Validate(r.Header.Get("Origin")) {
		writeError(w, http.StatusForbidden, ssoerrors.CodeInvalidOrigin, "origin not registered")
		return
	}

	csrfToken, err := h.authService.CSRF().GenerateToken(w)
	if err != nil {
		h.logger.Error("failed to generate CSRF token", "error", err)
		writeError(w, http.StatusInternalServerError, ssoerrors.CodeInternal, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"csrfToken": csrfToken,
		"expiresIn": int(h.authService.CSRF().TTL().Seconds()),
	})
}

type signInRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CSRFToken   string `json:"csrfToken"`
	RedirectTo  string `json:"redirectTo"`
	Fingerprint string `json:"fingerprint"`
}

// SignIn handles POST /auth/sign-in. On the auth domain a successful
// sign-in responds with a cross-domain redirect target carrying a freshly
// minted token.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	req, err := parseSignInRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "email and password are required")
		return
	}

	session, err := h.authService.SignIn(r.Context(), w, r, req.Email, req.Password, req.Fingerprint)
	if err != nil {
		code := ssoerrors.CodeOf(err)
		message := "Invalid email or password"
		if code == ssoerrors.CodeInvalidCSRF {
			message = "Invalid request. Please try again."
		}
		writeError(w, ssoerrors.HTTPStatus(code), code, message)
		return
	}

	response := map[string]any{
		"userId":     session.UserID,
		"redirectTo": h.landingPath,
	}

	issued, err := h.tokenService.Issue(r.Context(), session, h.appDomain)
	if err == nil {
		response["redirectTo"] = crossDomainRedirect(h.appDomain, h.landingPath, req.RedirectTo, issued.ID)
	} else {
		h.logger.Error("failed to issue cross-domain token after sign-in", "error", err)
	}

	writeJSON(w, http.StatusOK, response)
}

// SignOut handles POST /auth/sign-out.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.SignOut(r.Context(), w, r); err != nil {
		h.logger.Error("sign-out error", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"signedOut": true})
}

type issueTokenRequest struct {
	RedirectURL string `json:"redirectUrl"`
	CSRFToken   string `json:"csrfToken"`
}

// IssueToken handles POST /auth/token. Origin and rate limit were enforced
// by the gate; the handler checks CSRF and the authenticated session.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "malformed request body")
		return
	}

	if req.CSRFToken != "" {
		r.Header.Set("X-CSRF-Token", req.CSRFToken)
	}
	if err := h.authService.CSRF().ValidateToken(r); err != nil {
		writeError(w, http.StatusForbidden, ssoerrors.CodeInvalidCSRF, "invalid CSRF token")
		return
	}

	session, err := h.authService.CurrentSession(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ssoerrors.CodeUnauthorized, "authenticated session required")
		return
	}

	issued, err := h.tokenService.Issue(r.Context(), session, h.appDomain)
	if err != nil {
		code := ssoerrors.CodeOf(err)
		writeError(w, ssoerrors.HTTPStatus(code), code, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":       issued.ID,
		"expiresIn":   int(h.tokenService.TTL().Seconds()),
		"redirectUrl": crossDomainRedirect(h.appDomain, h.landingPath, req.RedirectURL, issued.ID),
	})
}

// ValidateToken handles GET /auth/token?token=&domain=: validates and
// consumes the token, returning the session payload.
func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("token")
	domain := r.URL.Query().Get("domain")
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, ssoerrors.CodeValidation, "token is required")
		return
	}

	payload, err := h.tokenService.Validate(r.Context(), tokenID, domain, auth.ClientIP(r))
	if err != nil {
		code := ssoerrors.CodeOf(err)
		writeError(w, ssoerrors.HTTPStatus(code), code, "")
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

// RevokeTokens handles DELETE /auth/token: signs the current user out
// everywhere.
func (h *AuthHandler) RevokeTokens(w http.ResponseWriter, r *http.Request) {
	session, err := h.authService.CurrentSession(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ssoerrors.CodeUnauthorized, "authenticated session required")
		return
	}

	count, err := h.tokenService.RevokeAllForUser(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ssoerrors.CodeInternal, "")
		return
	}

	h.authService.Sessions().ClearCookie(w)

	writeJSON(w, http.StatusOK, map[string]any{"revoked": count})
}

func parseSignInRequest(r *http.Request) (*signInRequest, error) {
	var req signInRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		// Make the token visible to the CSRF check, which reads form or
		// header values.
		if req.CSRFToken != "" {
			r.Header.Set("X-CSRF-Token", req.CSRFToken)
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req.Email = r.FormValue("email")
	req.Password = r.FormValue("password")
	req.RedirectTo = r.FormValue("redirectTo")
	req.Fingerprint = r.FormValue("fingerprint")
	if v := r.FormValue("csrfToken"); v != "" {
		r.Header.Set("X-CSRF-Token", v)
	}
	return &req, nil
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// crossDomainRedirect builds the app-domain target carrying the token. A
// caller-supplied redirect is honored only when it points at the app domain
// or is a relative path; anything else falls back to the landing page.
func crossDomainRedirect(appDomain, landingPath, requested, tokenID string) string {
	target := url.URL{Scheme: "https", Host: appDomain, Path: landingPath}

	if requested != "" {
		if u, err := url.Parse(requested); err == nil {
			switch {
			case u.Host == "" && u.Scheme == "" && strings.HasPrefix(u.Path, "/"):
				target.Path = u.Path
				target.RawQuery = u.RawQuery
			case u.Host == appDomain && u.Scheme == "https":
				target = *u
			}
		}
	}

	q := target.Query()
	q.Set(gate.TokenQueryParam, tokenID)
	target.RawQuery = q.Encode()
	return target.String()
}
