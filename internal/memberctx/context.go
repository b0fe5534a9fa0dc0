package memberctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Identity carries the authenticated caller attached to a request.
type Identity struct {
	UserID   snowflake.ID
	BranchID snowflake.ID
	Role     string
	// Email is the contact address claim, used for booking notifications.
	Email string
}

// RoleStaff marks callers allowed on /admin routes.
const RoleStaff = "staff"

// IdentityContextKey is the request context key for the caller identity.
type IdentityContextKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey{}, id)
}

// IdentityFromContext returns the caller identity from context, if set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}

	value := ctx.Value(IdentityContextKey{})
	if typed, ok := value.(Identity); ok {
		return typed, true
	}
	return Identity{}, false
}

// UserIDFromContext returns the caller's user ID from context, if set.
func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return 0, false
	}
	return id.UserID, true
}

// IsStaff reports whether the context caller carries the staff role.
func IsStaff(ctx context.Context) bool {
	id, ok := IdentityFromContext(ctx)
	return ok && strings.EqualFold(id.Role, RoleStaff)
}
