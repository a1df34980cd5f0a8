package login

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresLoginRepository implements LoginRepository over database/sql
type PostgresLoginRepository struct {
	db *sql.DB
}

var _ LoginRepository = (*PostgresLoginRepository)(nil)

// NewPostgresLoginRepository creates a repository over an open connection pool
func NewPostgresLoginRepository(db *sql.DB) *PostgresLoginRepository {
	return &PostgresLoginRepository{db: db}
}

const userColumns = `id, email, display_name, password_hash, active, failed_attempts, locked_until, password_changed_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		user        User
		lockedUntil sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.Active, &user.FailedAttempts, &lockedUntil,
		&user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt)
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

func (r *PostgresLoginRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (r *PostgresLoginRepository) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return scanUser(row)
}

func (r *PostgresLoginRepository) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		update users
		set failed_attempts = failed_attempts + 1, updated_at = now()
		where id = $1
		returning failed_attempts
	`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresLoginRepository) LockAccount(ctx context.Context, id uuid.UUID, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		update users
		set locked_until = $2, updated_at = now()
		where id = $1
	`, id, until.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresLoginRepository) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		update users
		set failed_attempts = 0, locked_until = null, updated_at = now()
		where id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdatePassword stores the new hash and the history row in one transaction
func (r *PostgresLoginRepository) UpdatePassword(ctx context.Context, id uuid.UUID, newHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		update users
		set password_hash = $2, password_changed_at = now(), updated_at = now()
		where id = $1
	`, id, newHash)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into password_history (id, user_id, password_hash)
		values ($1, $2, $3)
	`, uuid.New(), id, newHash); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresLoginRepository) GetPasswordHistory(ctx context.Context, userID uuid.UUID, limit int) ([]PasswordHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, user_id, password_hash, created_at
		from password_history
		where user_id = $1
		order by created_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PasswordHistoryEntry
	for rows.Next() {
		var entry PasswordHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.PasswordHash, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
