package iam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

// PostgresIamRepository implements IamRepository over database/sql
type PostgresIamRepository struct {
	db *sql.DB
}

var _ IamRepository = (*PostgresIamRepository)(nil)

// NewPostgresIamRepository creates a repository over an open connection pool
func NewPostgresIamRepository(db *sql.DB) *PostgresIamRepository {
	return &PostgresIamRepository{db: db}
}

const adminUserColumns = `id, email, display_name, active, failed_attempts, locked_until, created_at, updated_at`

func scanAdminUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		user        User
		lockedUntil sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Active,
		&user.FailedAttempts, &lockedUntil, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		user.LockedUntil = &t
	}
	return user, nil
}

func (r *PostgresIamRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		insert into users (id, email, display_name, password_hash, active)
		values ($1, $2, $3, $4, $5)
		returning `+adminUserColumns+`
	`, uuid.New(), params.Email, params.DisplayName, params.PasswordHash, params.Active)

	user, err := scanAdminUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	return user, nil
}

func (r *PostgresIamRepository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+adminUserColumns+`
		from users
		where id = $1
	`, id)
	return scanAdminUser(row)
}

func (r *PostgresIamRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+adminUserColumns+`
		from users
		order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanAdminUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser applies patch semantics: coalesce keeps columns whose
// parameter arrives as null.
func (r *PostgresIamRepository) UpdateUser(ctx context.Context, id uuid.UUID, params UpdateUserParams) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		update users
		set email = coalesce($2, email),
		    display_name = coalesce($3, display_name),
		    active = coalesce($4, active),
		    updated_at = now()
		where id = $1
		returning `+adminUserColumns+`
	`, id, params.Email, params.DisplayName, params.Active)

	user, err := scanAdminUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	return user, nil
}

func (r *PostgresIamRepository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from user_role where user_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from password_history where user_id = $1`, id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return tx.Commit()
}

func (r *PostgresIamRepository) SetLock(ctx context.Context, id uuid.UUID, until *time.Time) error {
	var (
		res sql.Result
		err error
	)
	if until != nil {
		res, err = r.db.ExecContext(ctx, `
			update users
			set locked_until = $2, updated_at = now()
			where id = $1
		`, id, until.UTC())
	} else {
		res, err = r.db.ExecContext(ctx, `
			update users
			set locked_until = null, failed_attempts = 0, updated_at = now()
			where id = $1
		`, id)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
