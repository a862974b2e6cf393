package gateway

import (
	"context"

	"github.com/mugisham37/cms-gateway/internal/route"
	"github.com/mugisham37/cms-gateway/internal/util"
)

// Authorizer decides whether a principal may use a route. Identity
// verification happens before dispatch; the dispatcher only enforces the
// presence and role contract.
type Authorizer interface {
	Authorize(ctx context.Context, principal *util.Principal, rt *route.Route) error
}

// RateLimiter is the pluggable rate-limit accounting check. Allow reports
// whether one request under the key may proceed against the route's limit.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit *route.RateLimit) (bool, error)
}

// RoleAuthorizer is the default Authorizer. It rejects unauthenticated
// requests on routes that require auth and checks the required-roles list;
// holding any one listed role suffices.
type RoleAuthorizer struct{}

// Authorize implements Authorizer.
func (RoleAuthorizer) Authorize(_ context.Context, principal *util.Principal, rt *route.Route) error {
	if !rt.Config.AuthRequired && len(rt.Config.RequiredRoles) == 0 {
		return nil
	}

	if principal == nil {
		return util.ErrUnauthorized
	}

	if len(rt.Config.RequiredRoles) == 0 {
		return nil
	}
	for _, role := range rt.Config.RequiredRoles {
		if principal.HasRole(role) {
			return nil
		}
	}
	return util.ErrForbidden
}

// allowAllLimiter is the default RateLimiter; it never rejects.
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, string, *route.RateLimit) (bool, error) {
	return true, nil
}
