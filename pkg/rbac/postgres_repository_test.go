package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRbacRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRbacRepository(db), mock
}

func TestPostgresCreateRole(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`insert into roles`).
		WithArgs(sqlmock.AnyArg(), "admin", "full access", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	role, err := repo.CreateRole(context.Background(), Role{Name: "admin", Description: "full access"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, role.ID)
	assert.Equal(t, now, role.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListUserRolesJoin(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "name", "description", "group_id", "created_at", "updated_at"}).
		AddRow(uuid.New(), "admin", "", nil, now, now).
		AddRow(uuid.New(), "editor", "", nil, now, now)

	mock.ExpectQuery(`select r\.id, r\.name, .* from roles r\s+join user_role ur on ur\.role_id = r\.id`).
		WithArgs(userID).
		WillReturnRows(rows)

	roles, err := repo.ListUserRoles(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)
}

func TestPostgresUserHasPermissionJoin(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()

	mock.ExpectQuery(`select exists \(\s*select 1\s+from user_role ur\s+join role_permission rp`).
		WithArgs(userID, "users.create").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	allowed, err := repo.UserHasPermission(context.Background(), userID, "users.create")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestPostgresAssignUserRoleIdempotent(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, roleID := uuid.New(), uuid.New()

	mock.ExpectExec(`insert into user_role .*on conflict do nothing`).
		WithArgs(userID, roleID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.AssignUserRole(context.Background(), userID, roleID))
}

func TestPostgresSetRoleGroupParentCycle(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, parentID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`with recursive ancestors`).
		WithArgs(parentID, id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.SetRoleGroupParent(context.Background(), id, &parentID)
	assert.ErrorIs(t, err, ErrGroupCycle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetRoleGroupParentOK(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, parentID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`with recursive ancestors`).
		WithArgs(parentID, id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`update role_groups\s+set parent_id = \$2`).
		WithArgs(id, &parentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetRoleGroupParent(context.Background(), id, &parentID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetRoleGroupParentClear(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`update role_groups\s+set parent_id = \$2`).
		WithArgs(id, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetRoleGroupParent(context.Background(), id, nil))
}
