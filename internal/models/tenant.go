package models

import (
	"time"

	"github.com/google/uuid"
)

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantCancelled TenantStatus = "cancelled"
)

func (s TenantStatus) Valid() bool {
	switch s {
	case TenantActive, TenantSuspended, TenantCancelled:
		return true
	}
	return false
}

type Tenant struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	Name             string       `json:"name" db:"name"`
	Status           TenantStatus `json:"status" db:"status"`
	MultiSession     bool         `json:"multi_session" db:"multi_session"`
	AllowSocialLogin bool         `json:"allow_social_login" db:"allow_social_login"`
	MaxUsers         int          `json:"max_users" db:"max_users"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantActive
}

// SeatAvailable reports whether one more active user fits the tenant's seat limit.
func (t *Tenant) SeatAvailable(activeUsers int) bool {
	return t.MaxUsers <= 0 || activeUsers < t.MaxUsers
}
