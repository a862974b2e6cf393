package util

import (
	"context"
)

// Context keys.
type ctxKey string

const (
	ctxKeyTenantID   ctxKey = "tenant_id"
	ctxKeyPrincipal  ctxKey = "principal"
	ctxKeyPathParams ctxKey = "path_params"
)

// Principal is the authenticated caller attached to a request by the
// external authentication layer. The gateway only inspects presence and
// roles; identity verification happens outside the engine.
type Principal struct {
	ID    string
	Roles []string
}

// HasRole returns true if the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ContextWithTenantID adds a tenant ID to the context.
func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, tenantID)
}

// TenantIDFromContext extracts the tenant ID from context.
func TenantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTenantID).(string); ok {
		return v
	}
	return ""
}

// ContextWithPrincipal adds an authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext extracts the principal from context, or nil if the
// request is anonymous.
func PrincipalFromContext(ctx context.Context) *Principal {
	if v, ok := ctx.Value(ctxKeyPrincipal).(*Principal); ok {
		return v
	}
	return nil
}

// ContextWithPathParams adds matched path parameters to the context.
func ContextWithPathParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, ctxKeyPathParams, params)
}

// PathParamsFromContext extracts matched path parameters from context.
func PathParamsFromContext(ctx context.Context) map[string]string {
	if v, ok := ctx.Value(ctxKeyPathParams).(map[string]string); ok {
		return v
	}
	return nil
}
