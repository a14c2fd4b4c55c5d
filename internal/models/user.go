package models

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserInactive
}

// User is a platform account. TenantID is nil only for platform operators;
// PasswordHash stays nil until an invite is accepted.
type User struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TenantID      *uuid.UUID `json:"tenant_id,omitempty" db:"tenant_id"`
	Email         string     `json:"email" db:"email"`
	FullName      string     `json:"full_name,omitempty" db:"full_name"`
	Role          string     `json:"role" db:"role"`
	CustomRoleID  *uuid.UUID `json:"custom_role_id,omitempty" db:"custom_role_id"`
	PasswordHash  *string    `json:"-" db:"password_hash"`
	Status        UserStatus `json:"status" db:"status"`
	GoogleSubject *string    `json:"-" db:"google_subject"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

func (u *User) IsActive() bool {
	return u.Status == UserActive
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
