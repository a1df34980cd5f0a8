package iam

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresIamRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresIamRepository(db), mock
}

func adminRows(user User) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "email", "display_name", "active", "failed_attempts", "locked_until", "created_at", "updated_at",
	})
	var lockedUntil interface{}
	if user.LockedUntil != nil {
		lockedUntil = *user.LockedUntil
	}
	rows.AddRow(user.ID, user.Email, user.DisplayName, user.Active, user.FailedAttempts,
		lockedUntil, user.CreatedAt, user.UpdatedAt)
	return rows
}

func TestPostgresCreateUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	want := User{ID: uuid.New(), Email: "alice@example.com", DisplayName: "Alice", Active: true}

	mock.ExpectQuery(`insert into users`).
		WithArgs(sqlmock.AnyArg(), "alice@example.com", "Alice", "$2a$10$hash", true).
		WillReturnRows(adminRows(want))

	got, err := repo.CreateUser(context.Background(), CreateUserParams{
		Email: "alice@example.com", DisplayName: "Alice", PasswordHash: "$2a$10$hash", Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, want.Email, got.Email)
}

func TestPostgresCreateUserDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := repo.CreateUser(context.Background(), CreateUserParams{Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestPostgresUpdateUserCoalesce(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	want := User{ID: id, Email: "alice@example.com", DisplayName: "New Name", Active: true}

	mock.ExpectQuery(`update users\s+set email = coalesce\(\$2, email\)`).
		WithArgs(id, nil, "New Name", nil).
		WillReturnRows(adminRows(want))

	got, err := repo.UpdateUser(context.Background(), id, UpdateUserParams{DisplayName: strptr("New Name")})
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.DisplayName)
}

func TestPostgresDeleteUserTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`delete from user_role where user_id = \$1`).
		WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`delete from password_history where user_id = \$1`).
		WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`delete from users where id = \$1`).
		WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteUser(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteUserMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`delete from user_role`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from password_history`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from users`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.DeleteUser(context.Background(), id)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPostgresSetLockAndClear(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	until := time.Now().Add(time.Hour)

	mock.ExpectExec(`update users\s+set locked_until = \$2`).
		WithArgs(id, until.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetLock(context.Background(), id, &until))

	mock.ExpectExec(`update users\s+set locked_until = null, failed_attempts = 0`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetLock(context.Background(), id, nil))
}
