package middleware

import "context"

// Principal is the caller identity resolved from the bearer token. Fields
// hold the raw claim strings; StoreContext checks the store id shape.
type Principal struct {
	UserID  string
	Role    string
	StoreID string
}

type principalKey struct{}

// PrincipalFrom returns the caller attached by Auth, or the zero value.
func PrincipalFrom(ctx context.Context) Principal {
	if ctx == nil {
		return Principal{}
	}
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// WithPrincipal replaces the caller carried by ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func UserIDFromContext(ctx context.Context) string  { return PrincipalFrom(ctx).UserID }
func RoleFromContext(ctx context.Context) string    { return PrincipalFrom(ctx).Role }
func StoreIDFromContext(ctx context.Context) string { return PrincipalFrom(ctx).StoreID }

func WithUserID(ctx context.Context, userID string) context.Context {
	p := PrincipalFrom(ctx)
	p.UserID = userID
	return WithPrincipal(ctx, p)
}

func WithStoreID(ctx context.Context, storeID string) context.Context {
	p := PrincipalFrom(ctx)
	p.StoreID = storeID
	return WithPrincipal(ctx, p)
}

func withRole(ctx context.Context, role string) context.Context {
	p := PrincipalFrom(ctx)
	p.Role = role
	return WithPrincipal(ctx, p)
}
