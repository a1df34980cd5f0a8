package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/canyonlabs/usermgr/pkg/login"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	"github.com/canyonlabs/usermgr/pkg/registry"
	"github.com/canyonlabs/usermgr/pkg/response"
	"github.com/canyonlabs/usermgr/pkg/tokens"
)

type fixture struct {
	gate     *Gate
	tokens   *tokens.TokenService
	accounts *login.InMemoryLoginRepository
	rbac     *rbac.RbacService
	registry *registry.InMemoryTokenRegistry
	user     login.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	accounts := login.NewInMemoryLoginRepository()
	reg := registry.NewInMemoryTokenRegistry()
	gen := tokens.NewJwtTokenGenerator("test-secret", "usermgr-test", "usermgr")
	tokenSvc := tokens.NewTokenService(gen, reg)
	rbacSvc := rbac.NewRbacService(rbac.NewInMemoryRbacRepository())

	hash, err := login.NewBcryptHasher(bcrypt.MinCost).Hash("Secret#123a")
	require.NoError(t, err)
	user := login.User{Email: "alice@example.com", PasswordHash: hash, Active: true}
	require.NoError(t, accounts.AddUser(user))
	stored, err := accounts.FindUserByEmail(context.Background(), user.Email)
	require.NoError(t, err)

	return &fixture{
		gate:     NewGate(tokenSvc, accounts, rbacSvc),
		tokens:   tokenSvc,
		accounts: accounts,
		rbac:     rbacSvc,
		registry: reg,
		user:     stored,
	}
}

func (f *fixture) accessToken(t *testing.T, roles ...string) string {
	t.Helper()
	pair, err := f.tokens.IssueLoginTokens(context.Background(), tokens.TokenUser{
		ID: f.user.ID, Email: f.user.Email, Roles: roles,
	})
	require.NoError(t, err)
	return pair.AccessToken
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, r, "ok", nil)
	})
}

func doRequest(handler http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) response.ErrorEnvelope {
	t.Helper()
	var body response.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthenticatorAllowsValidToken(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticator(okHandler())

	rec := doRequest(handler, f.accessToken(t))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatorMissingToken(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticator(okHandler())

	rec := doRequest(handler, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.StatusError, errorBody(t, rec).Status)
}

func TestAuthenticatorGarbageToken(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticator(okHandler())

	rec := doRequest(handler, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_MALFORMED", errorBody(t, rec).Errors[0].Code)
}

func TestAuthenticatorCookieFallback(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticator(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: f.accessToken(t)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatorRevokedToken(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticator(okHandler())
	token := f.accessToken(t)

	require.NoError(t, f.tokens.RevokeUser(context.Background(), f.user.ID))

	rec := doRequest(handler, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorDeletedAccount(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticator(okHandler())
	token := f.accessToken(t)

	// simulate deletion by pointing the gate at an empty store
	f.gate.accounts = login.NewInMemoryLoginRepository()

	rec := doRequest(handler, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorBody(t, rec).Errors[0].Code)
}

func TestAuthenticatorLockedAccount(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticator(okHandler())
	token := f.accessToken(t)

	until := time.Now().Add(time.Hour)
	require.NoError(t, f.accounts.LockAccount(context.Background(), f.user.ID, until))

	rec := doRequest(handler, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCOUNT_LOCKED", errorBody(t, rec).Errors[0].Code)
}

func TestRequireRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	adminRole, err := f.rbac.CreateRole(ctx, "admin", "", nil)
	require.NoError(t, err)

	handler := f.gate.Authenticator(f.gate.RequireRole("admin")(okHandler()))
	token := f.accessToken(t)

	// no role yet: authenticated but forbidden
	rec := doRequest(handler, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorBody(t, rec).Errors[0].Code)

	// the check is live: assigning the role works without a new token
	require.NoError(t, f.rbac.AssignUserRole(ctx, f.user.ID, adminRole.ID))
	rec = doRequest(handler, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequirePermission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	group, err := f.rbac.CreatePermissionGroup(ctx, "users", nil)
	require.NoError(t, err)
	perm, err := f.rbac.CreatePermission(ctx, "users.create", "", group.ID)
	require.NoError(t, err)
	role, err := f.rbac.CreateRole(ctx, "editor", "", nil)
	require.NoError(t, err)

	handler := f.gate.Authenticator(f.gate.RequirePermission("users.create")(okHandler()))
	token := f.accessToken(t)

	rec := doRequest(handler, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.rbac.AssignRolePermission(ctx, role.ID, perm.ID))
	require.NoError(t, f.rbac.AssignUserRole(ctx, f.user.ID, role.ID))

	rec = doRequest(handler, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRoleWithoutAuthenticator(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.RequireRole("admin")(okHandler())

	rec := doRequest(handler, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
