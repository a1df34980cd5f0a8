package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/canyonlabs/usermgr/pkg/iam"
	"github.com/canyonlabs/usermgr/pkg/login"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	"github.com/canyonlabs/usermgr/pkg/response"
)

type fixture struct {
	router chi.Router
	users  *iam.UserService
	rbac   *rbac.RbacService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pm := login.NewPasswordManager(login.NewInMemoryLoginRepository(), login.NewBcryptHasher(bcrypt.MinCost), nil)
	rbacSvc := rbac.NewRbacService(rbac.NewInMemoryRbacRepository())
	userSvc := iam.NewUserService(iam.NewInMemoryIamRepository(), pm, rbacSvc)

	handle := NewHandle(userSvc, rbacSvc)
	router := chi.NewRouter()
	router.Route("/api/v1/user", handle.Routes)

	return &fixture{router: router, users: userSvc, rbac: rbacSvc}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createUser(t *testing.T, email string) UserResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/user/", CreateUserRequest{
		Email:       email,
		DisplayName: "Test User",
		Password:    "Secret#123a",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env struct {
		Data UserResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotEmpty(t, env.Errors)
	return env.Errors[0].Code
}

func TestCreateAndGetUser(t *testing.T) {
	f := newFixture(t)

	created := f.createUser(t, "alice@example.com")
	assert.Equal(t, "alice@example.com", created.Email)
	assert.True(t, created.Active)
	assert.Empty(t, created.Roles)

	rec := f.do(t, http.MethodGet, "/api/v1/user/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice@example.com")

	rec := f.do(t, http.MethodPost, "/api/v1/user/", CreateUserRequest{
		Email:    "alice@example.com",
		Password: "Secret#123a",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, rec))
}

func TestCreateUserWeakPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/user/", CreateUserRequest{
		Email:    "bob@example.com",
		Password: "weak",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env response.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.GreaterOrEqual(t, len(env.Errors), 2, "all policy violations reported")
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice@example.com")
	f.createUser(t, "bob@example.com")

	rec := f.do(t, http.MethodGet, "/api/v1/user/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data []UserResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Len(t, env.Data, 2)
}

func TestUpdateUserPatchSemantics(t *testing.T) {
	f := newFixture(t)
	created := f.createUser(t, "alice@example.com")

	name := "Renamed"
	rec := f.do(t, http.MethodPut, "/api/v1/user/"+created.ID.String(), UpdateUserRequest{
		DisplayName: &name,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Data UserResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "Renamed", env.Data.DisplayName)
	assert.Equal(t, "alice@example.com", env.Data.Email, "absent fields unchanged")
	assert.True(t, env.Data.Active)
}

func TestUpdateUserInvalidEmail(t *testing.T) {
	f := newFixture(t)
	created := f.createUser(t, "alice@example.com")

	bad := "not-an-email"
	rec := f.do(t, http.MethodPut, "/api/v1/user/"+created.ID.String(), UpdateUserRequest{
		Email: &bad,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	created := f.createUser(t, "alice@example.com")

	rec := f.do(t, http.MethodDelete, "/api/v1/user/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/user/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUserNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/user/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestGetUserBadID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/user/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
}

func TestLockAndUnlockUser(t *testing.T) {
	f := newFixture(t)
	created := f.createUser(t, "alice@example.com")

	rec := f.do(t, http.MethodPost, "/api/v1/user/"+created.ID.String()+"/lock", LockUserRequest{
		Until: time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	user, err := f.users.GetUser(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, user.LockedUntil)

	rec = f.do(t, http.MethodPost, "/api/v1/user/"+created.ID.String()+"/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	user, err = f.users.GetUser(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, user.LockedUntil)
	assert.Zero(t, user.FailedAttempts)
}

func TestLockUserPastTime(t *testing.T) {
	f := newFixture(t)
	created := f.createUser(t, "alice@example.com")

	rec := f.do(t, http.MethodPost, "/api/v1/user/"+created.ID.String()+"/lock", LockUserRequest{
		Until: time.Now().Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoleAssignmentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.createUser(t, "alice@example.com")

	role, err := f.rbac.CreateRole(ctx, "admin", "", nil)
	require.NoError(t, err)

	base := "/api/v1/user/" + created.ID.String() + "/roles"

	rec := f.do(t, http.MethodPut, base+"/"+role.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data []RoleRef `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "admin", env.Data[0].Name)

	// assigning again is a no-op
	rec = f.do(t, http.MethodPut, base+"/"+role.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, base+"/"+role.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, base, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Empty(t, env.Data)
}

func TestAssignRoleUnknownUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	role, err := f.rbac.CreateRole(ctx, "admin", "", nil)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPut, "/api/v1/user/"+uuid.NewString()+"/roles/"+role.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignUnknownRole(t *testing.T) {
	f := newFixture(t)
	created := f.createUser(t, "alice@example.com")

	rec := f.do(t, http.MethodPut, "/api/v1/user/"+created.ID.String()+"/roles/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRolesUnknownUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/user/"+uuid.NewString()+"/roles", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
