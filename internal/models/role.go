package models

import (
	"time"

	"github.com/google/uuid"
)

// CustomRole is a tenant-defined clone of a base role.
type CustomRole struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TenantID  uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	BaseRole  string    `json:"base_role" db:"base_role"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
