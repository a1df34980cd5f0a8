// Package gate guards the protected HTTP surface: it authenticates the
// bearer token on every request, re-checks account standing, and enforces
// role and permission requirements.
package gate

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/login"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	"github.com/canyonlabs/usermgr/pkg/response"
	"github.com/canyonlabs/usermgr/pkg/tokens"
)

// AuthUser is the authenticated identity attached to the request context
type AuthUser struct {
	ID       uuid.UUID
	Roles    []string
	TokenID  string
	IssuedAt time.Time
}

type contextKey string

const authUserKey contextKey = "gate.authUser"

// WithAuthUser attaches the identity to a context
func WithAuthUser(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, authUserKey, user)
}

// AuthUserFromContext returns the identity set by the Authenticator
func AuthUserFromContext(ctx context.Context) (*AuthUser, bool) {
	user, ok := ctx.Value(authUserKey).(*AuthUser)
	return user, ok
}

// Gate validates tokens and account standing for incoming requests
type Gate struct {
	tokenService *tokens.TokenService
	accounts     login.LoginRepository
	rbacService  *rbac.RbacService
}

// NewGate creates a new Gate
func NewGate(tokenService *tokens.TokenService, accounts login.LoginRepository, rbacService *rbac.RbacService) *Gate {
	return &Gate{
		tokenService: tokenService,
		accounts:     accounts,
		rbacService:  rbacService,
	}
}

// TokenFromRequest extracts the access token from the Authorization header
// or the access_token cookie.
func TokenFromRequest(r *http.Request) string {
	if token := jwtauth.TokenFromHeader(r); token != "" {
		return token
	}
	return tokenFromCookie(r)
}

func tokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie("access_token")
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Authenticator validates the access token end to end and re-checks the
// account on every request: a token that is live in the registry is still
// rejected if its account has been deleted, deactivated or locked since
// issuance.
func (g *Gate) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := TokenFromRequest(r)
		if tokenStr == "" {
			response.Err(w, r, apierr.New(apierr.CodeUnauthenticated, "missing credentials"))
			return
		}

		claims, err := g.tokenService.ValidateAccess(r.Context(), tokenStr)
		if err != nil {
			response.Err(w, r, err)
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			response.Err(w, r, apierr.New(apierr.CodeTokenMalformed, "malformed token"))
			return
		}

		account, err := g.accounts.FindUserByID(r.Context(), userID)
		if err != nil {
			// a deleted account reads as plain 401, not 404
			response.Err(w, r, apierr.New(apierr.CodeUnauthenticated, "account no longer valid"))
			return
		}
		if !account.Active {
			response.Err(w, r, apierr.New(apierr.CodeUnauthenticated, "account no longer valid"))
			return
		}
		if account.Locked(time.Now()) {
			response.Err(w, r, apierr.New(apierr.CodeAccountLocked, "account temporarily locked"))
			return
		}

		user := &AuthUser{
			ID:       userID,
			Roles:    claims.Roles,
			TokenID:  claims.ID,
			IssuedAt: claims.IssuedAt.Time,
		}
		next.ServeHTTP(w, r.WithContext(WithAuthUser(r.Context(), user)))
	})
}

// RequireRole allows the request through when the user holds any of the
// given roles, resolved live against the RBAC store.
func (g *Gate) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := AuthUserFromContext(r.Context())
			if !ok {
				response.Err(w, r, apierr.New(apierr.CodeUnauthenticated, "missing credentials"))
				return
			}

			allowed, err := g.rbacService.HasRole(r.Context(), user.ID, roles...)
			if err != nil {
				response.Err(w, r, err)
				return
			}
			if !allowed {
				response.Err(w, r, apierr.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission allows the request through when any of the user's
// roles grants the permission.
func (g *Gate) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := AuthUserFromContext(r.Context())
			if !ok {
				response.Err(w, r, apierr.New(apierr.CodeUnauthenticated, "missing credentials"))
				return
			}

			allowed, err := g.rbacService.HasPermission(r.Context(), user.ID, permission)
			if err != nil {
				response.Err(w, r, err)
				return
			}
			if !allowed {
				response.Err(w, r, apierr.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
