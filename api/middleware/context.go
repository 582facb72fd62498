package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const ctxOwnerID contextKey = "owner_id"

// OwnerIDFromContext returns the authenticated owner, or uuid.Nil when the
// request is unauthenticated.
func OwnerIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxOwnerID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithOwnerID injects the owner identifier into the context.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOwnerID, ownerID)
}
