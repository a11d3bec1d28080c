package middleware

import (
	"context"

	"github.com/hysteria-id/hysteria/internal/models"
)

type ctxKey string

const identityKey ctxKey = "identity"

// NewContextWithIdentity stores the verified identity for downstream
// handlers. They must not re-verify signatures: the route guard already
// enforced roles and status for the route.
func NewContextWithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok
}
