// Package tenantctx stores the resolved tenant scope in the request context.
package tenantctx

import (
	"context"

	"github.com/inkwellhq/inkwell/internal/tenant/domain"
)

type scopeKey struct{}

func WithScope(ctx context.Context, scope domain.TenantScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the tenant scope, or the none scope when the
// request carried no tenant headers.
func ScopeFromContext(ctx context.Context) domain.TenantScope {
	if ctx == nil {
		return domain.NoScope()
	}
	if scope, ok := ctx.Value(scopeKey{}).(domain.TenantScope); ok {
		return scope
	}
	return domain.NoScope()
}
