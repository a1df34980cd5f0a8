// Package api exposes the authentication endpoints: login, access token
// refresh, logout and password change.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/audit"
	"github.com/canyonlabs/usermgr/pkg/gate"
	"github.com/canyonlabs/usermgr/pkg/login"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	"github.com/canyonlabs/usermgr/pkg/response"
	"github.com/canyonlabs/usermgr/pkg/tokens"
)

const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
)

// Handle serves the authentication endpoints
type Handle struct {
	loginService *login.LoginService
	tokenService *tokens.TokenService
	rbacService  *rbac.RbacService
	auditSink    audit.Sink

	cookieHttpOnly bool
	cookieSecure   bool
}

// Option configures a Handle
type Option func(*Handle)

// WithCookieFlags sets the HttpOnly/Secure flags on the token cookies
func WithCookieFlags(httpOnly, secure bool) Option {
	return func(h *Handle) {
		h.cookieHttpOnly = httpOnly
		h.cookieSecure = secure
	}
}

// WithAuditSink sets the sink logout events are reported to
func WithAuditSink(sink audit.Sink) Option {
	return func(h *Handle) {
		h.auditSink = sink
	}
}

// NewHandle creates a new Handle
func NewHandle(loginService *login.LoginService, tokenService *tokens.TokenService, rbacService *rbac.RbacService, opts ...Option) *Handle {
	h := &Handle{
		loginService:   loginService,
		tokenService:   tokenService,
		rbacService:    rbacService,
		auditSink:      audit.NopSink{},
		cookieHttpOnly: true,
		cookieSecure:   true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the public auth endpoints. The password change endpoint
// needs an authenticated user and is mounted separately.
func (h *Handle) Routes(r chi.Router) {
	r.Post("/login", h.PostLogin)
	r.Post("/login/new_access_token", h.PostTokenRefresh)
	r.Post("/logout", h.PostLogout)
}

// AuthedRoutes mounts the endpoints that require a validated access token
func (h *Handle) AuthedRoutes(r chi.Router) {
	r.Post("/change_password", h.PostChangePassword)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginUser struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
}

type LoginResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_token_expires_at"`
	User             LoginUser `json:"user"`
}

// PostLogin authenticates the credentials and issues a token pair
func (h *Handle) PostLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		response.Err(w, r, apierr.InvalidInput("email", "email and password are required"))
		return
	}

	user, err := h.loginService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	roles, err := h.rbacService.EffectiveRoleNames(r.Context(), user.ID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	pair, err := h.tokenService.IssueLoginTokens(r.Context(), tokens.TokenUser{
		ID:    user.ID,
		Email: user.Email,
		Roles: roles,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}

	h.setTokenCookies(w, pair)
	response.OK(w, r, "login successful", LoginResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User: LoginUser{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Roles:       roles,
		},
	})
}

type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenRefreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_token_expires_at"`
}

// PostTokenRefresh exchanges a live refresh token for a new access token.
// The refresh token is not rotated.
func (h *Handle) PostTokenRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFromRequest(r)
	if refreshToken == "" {
		response.Err(w, r, apierr.New(apierr.CodeUnauthenticated, "missing refresh token"))
		return
	}

	accessToken, claims, err := h.tokenService.Refresh(r.Context(), refreshToken)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	h.setCookie(w, accessTokenCookie, accessToken, claims.ExpiresAt.Time)
	response.OK(w, r, "token refreshed", TokenRefreshResponse{
		AccessToken:     accessToken,
		AccessExpiresAt: claims.ExpiresAt.Time,
	})
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PostLogout blacklists the presented tokens and clears the token
// cookies. Already-dead tokens are ignored so logout stays idempotent.
func (h *Handle) PostLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var loggedOut uuid.UUID

	if accessToken := gate.TokenFromRequest(r); accessToken != "" {
		if claims, err := h.tokenService.ValidateAccess(ctx, accessToken); err == nil {
			if err := h.tokenService.RevokeToken(ctx, claims); err != nil {
				response.Err(w, r, err)
				return
			}
			if userID, err := claims.UserID(); err == nil {
				loggedOut = userID
			}
		}
	}

	if refreshToken := h.refreshTokenFromRequest(r); refreshToken != "" {
		if claims, err := h.tokenService.ValidateRefresh(ctx, refreshToken); err == nil {
			if err := h.tokenService.RevokeToken(ctx, claims); err != nil {
				response.Err(w, r, err)
				return
			}
			if userID, err := claims.UserID(); err == nil {
				loggedOut = userID
			}
		}
	}

	if loggedOut != uuid.Nil {
		h.auditSink.Record(ctx, audit.Event{Kind: audit.EventLogout, UserID: loggedOut})
	}

	h.clearTokenCookies(w)
	response.OK(w, r, "logged out", nil)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// PostChangePassword changes the authenticated user's password and
// invalidates every token issued before the change.
func (h *Handle) PostChangePassword(w http.ResponseWriter, r *http.Request) {
	authUser, ok := gate.AuthUserFromContext(r.Context())
	if !ok {
		response.Err(w, r, apierr.New(apierr.CodeUnauthenticated, "missing credentials"))
		return
	}

	var req ChangePasswordRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		response.Err(w, r, apierr.InvalidInput("new_password", "current and new password are required"))
		return
	}

	if err := h.loginService.ChangePassword(r.Context(), authUser.ID, req.CurrentPassword, req.NewPassword); err != nil {
		response.Err(w, r, err)
		return
	}

	h.clearTokenCookies(w)
	response.OK(w, r, "password changed", nil)
}

func (h *Handle) refreshTokenFromRequest(r *http.Request) string {
	var req TokenRefreshRequest
	if err := render.DecodeJSON(r.Body, &req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *Handle) setTokenCookies(w http.ResponseWriter, pair *tokens.TokenPair) {
	h.setCookie(w, accessTokenCookie, pair.AccessToken, pair.AccessExpiresAt)
	h.setCookie(w, refreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt)
}

func (h *Handle) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: h.cookieHttpOnly,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handle) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: h.cookieHttpOnly,
			Secure:   h.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
