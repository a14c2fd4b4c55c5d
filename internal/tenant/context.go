package tenant

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// WithID records the tenant the current request acts on.
func WithID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

// IDFromContext returns the request's tenant, or uuid.Nil for platform-level requests.
func IDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(tenantKey).(uuid.UUID)
	return id
}
