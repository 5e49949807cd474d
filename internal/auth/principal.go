package auth

import (
	"context"
	"slices"
)

// DefaultPermissionsClaim is the token claim holding granted permissions.
const DefaultPermissionsClaim = "permissions"

// Principal is the authenticated caller.
type Principal struct {
	Subject     string
	Email       string
	Permissions []string
	// All grants every permission. Only set in dev bypass mode.
	All bool
}

// Name identifies the principal in audit records.
func (p *Principal) Name() string {
	if p == nil {
		return ""
	}
	if p.Email != "" {
		return p.Email
	}
	return p.Subject
}

// Missing returns the entries of required the principal lacks. A nil
// principal lacks everything.
func (p *Principal) Missing(required []string) []string {
	if p != nil && p.All {
		return nil
	}
	var missing []string
	for _, perm := range required {
		if p == nil || !slices.Contains(p.Permissions, perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}

// Has reports whether the principal holds every permission in required.
func (p *Principal) Has(required ...string) bool {
	return len(p.Missing(required)) == 0
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by RequireAuth, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
