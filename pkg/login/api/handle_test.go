package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/canyonlabs/usermgr/pkg/audit"
	"github.com/canyonlabs/usermgr/pkg/gate"
	"github.com/canyonlabs/usermgr/pkg/login"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	"github.com/canyonlabs/usermgr/pkg/registry"
	"github.com/canyonlabs/usermgr/pkg/response"
	"github.com/canyonlabs/usermgr/pkg/tokens"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Secret#123a"
)

type recordingSink struct {
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, event audit.Event) {
	s.events = append(s.events, event)
}

type fixture struct {
	router   chi.Router
	tokens   *tokens.TokenService
	accounts *login.InMemoryLoginRepository
	rbac     *rbac.RbacService
	sink     *recordingSink
	user     login.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	accounts := login.NewInMemoryLoginRepository()
	hasher := login.NewBcryptHasher(bcrypt.MinCost)
	pm := login.NewPasswordManager(accounts, hasher, login.NewDefaultPasswordPolicyChecker(nil))
	reg := registry.NewInMemoryTokenRegistry()
	gen := tokens.NewJwtTokenGenerator("test-secret", "usermgr-test", "usermgr")
	tokenSvc := tokens.NewTokenService(gen, reg)
	rbacSvc := rbac.NewRbacService(rbac.NewInMemoryRbacRepository())
	loginSvc := login.NewLoginService(accounts, pm, login.WithTokenRevoker(tokenSvc))

	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, accounts.AddUser(login.User{Email: testEmail, PasswordHash: hash, Active: true}))
	user, err := accounts.FindUserByEmail(context.Background(), testEmail)
	require.NoError(t, err)

	sink := &recordingSink{}
	handle := NewHandle(loginSvc, tokenSvc, rbacSvc, WithCookieFlags(true, false), WithAuditSink(sink))
	g := gate.NewGate(tokenSvc, accounts, rbacSvc)

	router := chi.NewRouter()
	router.Route("/api/v1/auth", func(r chi.Router) {
		handle.Routes(r)
		r.Group(func(r chi.Router) {
			r.Use(g.Authenticator)
			handle.AuthedRoutes(r)
		})
	})

	return &fixture{router: router, tokens: tokenSvc, accounts: accounts, rbac: rbacSvc, sink: sink, user: user}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) LoginResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: testEmail, Password: testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Status string        `json:"status"`
		Data   LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, response.StatusSuccess, env.Status)
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotEmpty(t, env.Errors)
	return env.Errors[0].Code
}

func TestPostLogin(t *testing.T) {
	f := newFixture(t)

	data := f.login(t)
	assert.NotEmpty(t, data.AccessToken)
	assert.NotEmpty(t, data.RefreshToken)
	assert.Equal(t, testEmail, data.User.Email)
	assert.True(t, data.RefreshExpiresAt.After(data.AccessExpiresAt))
}

func TestPostLoginSetsCookies(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: testEmail, Password: testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	names := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		names[c.Name] = true
		assert.True(t, c.HttpOnly, "cookie %s", c.Name)
	}
	assert.True(t, names["access_token"])
	assert.True(t, names["refresh_token"])
}

func TestPostLoginWrongPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: testEmail, Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
}

func TestPostLoginMissingFields(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: testEmail}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostLoginIncludesRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	role, err := f.rbac.CreateRole(ctx, "admin", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.rbac.AssignUserRole(ctx, f.user.ID, role.ID))

	data := f.login(t)
	assert.Equal(t, []string{"admin"}, data.User.Roles)
}

func TestPostTokenRefresh(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login/new_access_token",
		TokenRefreshRequest{RefreshToken: data.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Data TokenRefreshResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.NotEmpty(t, env.Data.AccessToken)

	// the refresh token is not rotated and can be used again
	rec = f.do(t, http.MethodPost, "/api/v1/auth/login/new_access_token",
		TokenRefreshRequest{RefreshToken: data.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostTokenRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login/new_access_token",
		TokenRefreshRequest{RefreshToken: data.AccessToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_MALFORMED", errorCode(t, rec))
}

func TestPostTokenRefreshMissingToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login/new_access_token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostLogoutRevokesTokens(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout",
		LogoutRequest{RefreshToken: data.RefreshToken}, data.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.tokens.ValidateAccess(context.Background(), data.AccessToken)
	assert.Error(t, err)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login/new_access_token",
		TokenRefreshRequest{RefreshToken: data.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, rec))
}

func TestPostLogoutRecordsAuditEvent(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout",
		LogoutRequest{RefreshToken: data.RefreshToken}, data.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotEmpty(t, f.sink.events)
	last := f.sink.events[len(f.sink.events)-1]
	assert.Equal(t, audit.EventLogout, last.Kind)
	assert.Equal(t, f.user.ID, last.UserID)
}

func TestPostLogoutWithoutTokensRecordsNoEvent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	for _, event := range f.sink.events {
		assert.NotEqual(t, audit.EventLogout, event.Kind)
	}
}

func TestPostLogoutIdempotent(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/auth/logout",
			LogoutRequest{RefreshToken: data.RefreshToken}, data.AccessToken)
		assert.Equal(t, http.StatusOK, rec.Code, "logout %d", i)
	}
}

func TestPostChangePasswordFlow(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/change_password",
		ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "NewSecret#456b"}, data.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// old password no longer works, new one does
	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: testEmail, Password: testPassword}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: testEmail, Password: "NewSecret#456b"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostChangePasswordWrongCurrent(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/change_password",
		ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "NewSecret#456b"}, data.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostChangePasswordPolicyViolations(t *testing.T) {
	f := newFixture(t)
	data := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/change_password",
		ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "short"}, data.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env response.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	// short, no uppercase, no digit, no special char
	assert.GreaterOrEqual(t, len(env.Errors), 2)
}

func TestPostChangePasswordUnauthenticated(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/change_password",
		ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "NewSecret#456b"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
