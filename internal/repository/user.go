package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsdash/dashboard-server/internal/database"
	"github.com/opsdash/dashboard-server/internal/model"
)

type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*model.UserAccount, error)
	FindByID(ctx context.Context, id int64) (*model.UserAccount, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.UserAccount, error)
	Activate(ctx context.Context, id int64) (bool, error)
	Deactivate(ctx context.Context, id int64) (bool, error)
	FindRoleByName(ctx context.Context, name string) (*model.Role, error)
	// CountActiveByRole counts active accounts holding the named role.
	CountActiveByRole(ctx context.Context, roleName string) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepo struct {
	db database.DBTX
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepo{db: tx}
}

const selectUserAccount = `
	SELECT u.id, u.username, u.name, u.password_hash, u.role_id, ro.name AS role_name,
	       u.is_verified, u.is_active, u.created_at, u.updated_at
	FROM user_accounts u
	JOIN roles ro ON ro.id = u.role_id
`

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*model.UserAccount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var user model.UserAccount
	err := r.db.GetContext(ctx, &user, selectUserAccount+` WHERE u.username = $1`, username)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByID(ctx context.Context, id int64) (*model.UserAccount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var user model.UserAccount
	err := r.db.GetContext(ctx, &user, selectUserAccount+` WHERE u.id = $1`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.UserAccount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var user model.UserAccount
	err := r.db.GetContext(ctx, &user, `
		WITH u AS (
			INSERT INTO user_accounts (username, name, password_hash, role_id, is_verified, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT u.id, u.username, u.name, u.password_hash, u.role_id, ro.name AS role_name,
		       u.is_verified, u.is_active, u.created_at, u.updated_at
		FROM u
		JOIN roles ro ON ro.id = u.role_id
	`, params.Username, params.Name, params.PasswordHash, params.RoleID, params.IsVerified, params.IsActive)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) Activate(ctx context.Context, id int64) (bool, error) {
	return r.setActive(ctx, id, true)
}

func (r *userRepo) Deactivate(ctx context.Context, id int64) (bool, error) {
	return r.setActive(ctx, id, false)
}

func (r *userRepo) setActive(ctx context.Context, id int64, active bool) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE user_accounts SET is_active = $2, updated_at = $3 WHERE id = $1
	`, id, active, time.Now())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *userRepo) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var role model.Role
	err := r.db.GetContext(ctx, &role, `
		SELECT id, name, description, is_active, created_at FROM roles WHERE name = $1
	`, name)
	return HandleNotFound(&role, err)
}

func (r *userRepo) CountActiveByRole(ctx context.Context, roleName string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		FROM user_accounts u
		JOIN roles ro ON ro.id = u.role_id
		WHERE ro.name = $1 AND u.is_active
	`, roleName)
	return n, err
}
