package model

import (
	"time"
)

// RoleAdmin is the role allowed to administer sessions and accounts.
const RoleAdmin = "admin"

type Role struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// UserAccount is a user row joined with its role name.
type UserAccount struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	RoleID       int64     `db:"role_id" json:"roleId"`
	RoleName     string    `db:"role_name" json:"role"`
	IsVerified   bool      `db:"is_verified" json:"isVerified"`
	IsActive     bool      `db:"is_active" json:"isActive"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateUserParams struct {
	Username     string
	Name         string
	PasswordHash string
	RoleID       int64
	IsVerified   bool
	IsActive     bool
}

// Identity is the snapshot of a user taken at login and mirrored into the UI.
type Identity struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Name     string `json:"name"`
	RoleID   int64  `json:"roleId"`
	RoleName string `json:"role"`
}

func (a *UserAccount) Identity() Identity {
	return Identity{
		UserID:   a.ID,
		Username: a.Username,
		Name:     a.Name,
		RoleID:   a.RoleID,
		RoleName: a.RoleName,
	}
}
