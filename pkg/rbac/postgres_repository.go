package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// PostgresRbacRepository implements RbacRepository over database/sql
type PostgresRbacRepository struct {
	db *sql.DB
}

var _ RbacRepository = (*PostgresRbacRepository)(nil)

// NewPostgresRbacRepository creates a repository over an open connection pool
func NewPostgresRbacRepository(db *sql.DB) *PostgresRbacRepository {
	return &PostgresRbacRepository{db: db}
}

func mapPgError(err error, fkErr error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ErrDuplicateName
		case pgErrForeignKeyViolation:
			return fkErr
		}
	}
	return err
}

// Roles

func (r *PostgresRbacRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	row := r.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, group_id)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, role.ID, role.Name, role.Description, role.GroupID)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, mapPgError(err, ErrRoleGroupNotFound)
	}
	return role, nil
}

func (r *PostgresRbacRepository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	var role Role
	err := r.db.QueryRowContext(ctx, `
		select id, name, description, group_id, created_at, updated_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Description, &role.GroupID, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (r *PostgresRbacRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, name, description, group_id, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.GroupID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *PostgresRbacRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := r.db.QueryRowContext(ctx, `
		update roles
		set name = $2, description = $3, group_id = $4, updated_at = now()
		where id = $1
		returning created_at, updated_at
	`, role.ID, role.Name, role.Description, role.GroupID)
	err := row.Scan(&role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	if err != nil {
		return Role{}, mapPgError(err, ErrRoleGroupNotFound)
	}
	return role, nil
}

func (r *PostgresRbacRepository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrRoleNotFound)
}

// Permissions

func (r *PostgresRbacRepository) CreatePermission(ctx context.Context, permission Permission) (Permission, error) {
	if permission.ID == uuid.Nil {
		permission.ID = uuid.New()
	}
	row := r.db.QueryRowContext(ctx, `
		insert into permissions (id, name, description, group_id)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, permission.ID, permission.Name, permission.Description, permission.GroupID)
	if err := row.Scan(&permission.CreatedAt, &permission.UpdatedAt); err != nil {
		return Permission{}, mapPgError(err, ErrPermissionGroupNotFound)
	}
	return permission, nil
}

func (r *PostgresRbacRepository) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	var permission Permission
	err := r.db.QueryRowContext(ctx, `
		select id, name, description, group_id, created_at, updated_at
		from permissions
		where id = $1
	`, id).Scan(&permission.ID, &permission.Name, &permission.Description, &permission.GroupID, &permission.CreatedAt, &permission.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Permission{}, ErrPermissionNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return permission, nil
}

func (r *PostgresRbacRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, name, description, group_id, created_at, updated_at
		from permissions
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		var permission Permission
		if err := rows.Scan(&permission.ID, &permission.Name, &permission.Description, &permission.GroupID, &permission.CreatedAt, &permission.UpdatedAt); err != nil {
			return nil, err
		}
		permissions = append(permissions, permission)
	}
	return permissions, rows.Err()
}

func (r *PostgresRbacRepository) UpdatePermission(ctx context.Context, permission Permission) (Permission, error) {
	row := r.db.QueryRowContext(ctx, `
		update permissions
		set name = $2, description = $3, group_id = $4, updated_at = now()
		where id = $1
		returning created_at, updated_at
	`, permission.ID, permission.Name, permission.Description, permission.GroupID)
	err := row.Scan(&permission.CreatedAt, &permission.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Permission{}, ErrPermissionNotFound
	}
	if err != nil {
		return Permission{}, mapPgError(err, ErrPermissionGroupNotFound)
	}
	return permission, nil
}

func (r *PostgresRbacRepository) DeletePermission(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrPermissionNotFound)
}

// Role groups

func (r *PostgresRbacRepository) CreateRoleGroup(ctx context.Context, group RoleGroup) (RoleGroup, error) {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	row := r.db.QueryRowContext(ctx, `
		insert into role_groups (id, name, parent_id)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, group.ID, group.Name, group.ParentID)
	if err := row.Scan(&group.CreatedAt, &group.UpdatedAt); err != nil {
		return RoleGroup{}, mapPgError(err, ErrRoleGroupNotFound)
	}
	return group, nil
}

func (r *PostgresRbacRepository) GetRoleGroup(ctx context.Context, id uuid.UUID) (RoleGroup, error) {
	var group RoleGroup
	err := r.db.QueryRowContext(ctx, `
		select id, name, parent_id, created_at, updated_at
		from role_groups
		where id = $1
	`, id).Scan(&group.ID, &group.Name, &group.ParentID, &group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleGroup{}, ErrRoleGroupNotFound
	}
	if err != nil {
		return RoleGroup{}, err
	}
	return group, nil
}

func (r *PostgresRbacRepository) ListRoleGroups(ctx context.Context) ([]RoleGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, name, parent_id, created_at, updated_at
		from role_groups
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []RoleGroup
	for rows.Next() {
		var group RoleGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.ParentID, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// SetRoleGroupParent checks the new parent's ancestor chain and applies
// the change in one transaction. The check reads committed state only;
// it does not serialize concurrent reparents against each other.
func (r *PostgresRbacRepository) SetRoleGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	return r.setGroupParent(ctx, "role_groups", id, parentID, ErrRoleGroupNotFound)
}

func (r *PostgresRbacRepository) DeleteRoleGroup(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `delete from role_groups where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrRoleGroupNotFound)
}

// Permission groups

func (r *PostgresRbacRepository) CreatePermissionGroup(ctx context.Context, group PermissionGroup) (PermissionGroup, error) {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	row := r.db.QueryRowContext(ctx, `
		insert into permission_groups (id, name, parent_id)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, group.ID, group.Name, group.ParentID)
	if err := row.Scan(&group.CreatedAt, &group.UpdatedAt); err != nil {
		return PermissionGroup{}, mapPgError(err, ErrPermissionGroupNotFound)
	}
	return group, nil
}

func (r *PostgresRbacRepository) GetPermissionGroup(ctx context.Context, id uuid.UUID) (PermissionGroup, error) {
	var group PermissionGroup
	err := r.db.QueryRowContext(ctx, `
		select id, name, parent_id, created_at, updated_at
		from permission_groups
		where id = $1
	`, id).Scan(&group.ID, &group.Name, &group.ParentID, &group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PermissionGroup{}, ErrPermissionGroupNotFound
	}
	if err != nil {
		return PermissionGroup{}, err
	}
	return group, nil
}

func (r *PostgresRbacRepository) ListPermissionGroups(ctx context.Context) ([]PermissionGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, name, parent_id, created_at, updated_at
		from permission_groups
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []PermissionGroup
	for rows.Next() {
		var group PermissionGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.ParentID, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (r *PostgresRbacRepository) SetPermissionGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	return r.setGroupParent(ctx, "permission_groups", id, parentID, ErrPermissionGroupNotFound)
}

func (r *PostgresRbacRepository) DeletePermissionGroup(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `delete from permission_groups where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrPermissionGroupNotFound)
}

// setGroupParent walks the ancestor chain of the new parent inside the
// transaction; finding id there means the change would close a cycle.
func (r *PostgresRbacRepository) setGroupParent(ctx context.Context, table string, id uuid.UUID, parentID *uuid.UUID, notFound error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if parentID != nil {
		var cycle bool
		err := tx.QueryRowContext(ctx, `
			with recursive ancestors as (
				select id, parent_id from `+table+` where id = $1
				union all
				select g.id, g.parent_id
				from `+table+` g
				join ancestors a on g.id = a.parent_id
			)
			select exists (select 1 from ancestors where id = $2)
		`, *parentID, id).Scan(&cycle)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound
		}
		if err != nil {
			return err
		}
		if cycle {
			return ErrGroupCycle
		}
	}

	res, err := tx.ExecContext(ctx, `
		update `+table+`
		set parent_id = $2, updated_at = now()
		where id = $1
	`, id, parentID)
	if err != nil {
		return mapPgError(err, notFound)
	}
	if err := requireRow(res, notFound); err != nil {
		return err
	}
	return tx.Commit()
}

// Assignments

func (r *PostgresRbacRepository) AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		insert into user_role (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	if err != nil {
		return mapPgError(err, ErrRoleNotFound)
	}
	return nil
}

func (r *PostgresRbacRepository) RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		delete from user_role where user_id = $1 and role_id = $2
	`, userID, roleID)
	return err
}

func (r *PostgresRbacRepository) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.group_id, r.created_at, r.updated_at
		from roles r
		join user_role ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.GroupID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *PostgresRbacRepository) AssignRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		insert into role_permission (role_id, permission_id)
		values ($1, $2)
		on conflict do nothing
	`, roleID, permissionID)
	if err != nil {
		return mapPgError(err, ErrPermissionNotFound)
	}
	return nil
}

func (r *PostgresRbacRepository) RemoveRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		delete from role_permission where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
	return err
}

func (r *PostgresRbacRepository) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select p.id, p.name, p.description, p.group_id, p.created_at, p.updated_at
		from permissions p
		join role_permission rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		var permission Permission
		if err := rows.Scan(&permission.ID, &permission.Name, &permission.Description, &permission.GroupID, &permission.CreatedAt, &permission.UpdatedAt); err != nil {
			return nil, err
		}
		permissions = append(permissions, permission)
	}
	return permissions, rows.Err()
}

func (r *PostgresRbacRepository) UserHasPermission(ctx context.Context, userID uuid.UUID, permissionName string) (bool, error) {
	var allowed bool
	err := r.db.QueryRowContext(ctx, `
		select exists (
			select 1
			from user_role ur
			join role_permission rp on rp.role_id = ur.role_id
			join permissions p on p.id = rp.permission_id
			where ur.user_id = $1 and p.name = $2
		)
	`, userID, permissionName).Scan(&allowed)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
